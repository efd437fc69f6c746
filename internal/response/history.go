package response

import (
	"sort"
	"time"

	"github.com/pitabwire/sarvekshan/model"
)

// SortNewestFirst orders records by completion time, newest first. Records
// completed at the same instant are ordered by id.
func SortNewestFirst(records []model.HistoricalRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i].CompletedAt, records[j].CompletedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return records[i].ID < records[j].ID
	})
}

// FilterByDate returns the records completed on the calendar day of day in
// loc, keeping their order.
func FilterByDate(records []model.HistoricalRecord, day time.Time, loc *time.Location) []model.HistoricalRecord {
	y, m, d := day.In(loc).Date()
	var out []model.HistoricalRecord
	for _, rec := range records {
		ry, rm, rd := rec.CompletedAt.In(loc).Date()
		if ry == y && rm == m && rd == d {
			out = append(out, rec)
		}
	}
	return out
}

// CompletionDays returns the sorted days of month in year that have at least
// one completed record, in loc.
func CompletionDays(records []model.HistoricalRecord, year int, month time.Month, loc *time.Location) []int {
	seen := make(map[int]bool)
	for _, rec := range records {
		ry, rm, rd := rec.CompletedAt.In(loc).Date()
		if ry == year && rm == month {
			seen[rd] = true
		}
	}
	days := make([]int, 0, len(seen))
	for d := range seen {
		days = append(days, d)
	}
	sort.Ints(days)
	return days
}
