package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pitabwire/sarvekshan/internal/observability"
	"github.com/pitabwire/sarvekshan/model"
)

func loadTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	r, err := Load([]string{"testdata/surveys"}, opts...)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return r
}

func surveyIDs(defs []model.SurveyDefinition) []string {
	ids := make([]string, len(defs))
	for i, d := range defs {
		ids[i] = d.ID
	}
	return ids
}

func TestRegistry_ListSurveys(t *testing.T) {
	r := loadTestRegistry(t)

	defs, err := r.ListSurveys(context.Background())
	if err != nil {
		t.Fatalf("ListSurveys() error = %v", err)
	}
	got := surveyIDs(defs)
	want := []string{"hh-water", "anc-visit", "school-infra"}
	if len(got) != len(want) {
		t.Fatalf("ListSurveys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ListSurveys()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// Callers cannot reorder the registry's slice.
	defs[0] = model.SurveyDefinition{ID: "mutated"}
	again, _ := r.ListSurveys(context.Background())
	if again[0].ID != "hh-water" {
		t.Errorf("registry changed through returned slice: %q", again[0].ID)
	}
}

func TestRegistry_GetSurvey(t *testing.T) {
	r := loadTestRegistry(t)

	s, err := r.GetSurvey(context.Background(), "school-infra")
	if err != nil {
		t.Fatalf("GetSurvey() error = %v", err)
	}
	if !s.FacilityGated {
		t.Error("FacilityGated = false, want true")
	}

	if _, err := r.GetSurvey(context.Background(), "unknown"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("GetSurvey(unknown) error = %v, want NOT_FOUND", err)
	}
}

func TestRegistry_Search(t *testing.T) {
	r := loadTestRegistry(t)

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"hh-water", "anc-visit", "school-infra"}},
		{"   ", []string{"hh-water", "anc-visit", "school-infra"}},
		{"WATER", []string{"hh-water", "school-infra"}}, // id/name, and description
		{"anc", []string{"anc-visit"}},
		{"audit", []string{"school-infra"}},
		{"antenatal", []string{"anc-visit"}},
		{"nothing-matches", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			defs, err := r.Search(context.Background(), tt.query)
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			got := surveyIDs(defs)
			if len(got) != len(tt.want) {
				t.Fatalf("Search(%q) = %v, want %v", tt.query, got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("Search(%q)[%d] = %q, want %q", tt.query, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRegistry_emptyUntilLoaded(t *testing.T) {
	r := NewRegistry()
	if r.Loaded() {
		t.Error("Loaded() = true before any load")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
	if _, err := r.GetSurvey(context.Background(), "hh-water"); !model.IsCode(err, model.ErrNotFound) {
		t.Errorf("GetSurvey() error = %v, want NOT_FOUND", err)
	}
}

func TestRegistry_ReloadMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.InitMetrics(reg)
	r := loadTestRegistry(t, WithMetrics(metrics))

	if got := testutil.ToFloat64(metrics.SurveysLoaded); got != 3 {
		t.Errorf("surveys loaded = %v, want 3", got)
	}
	if got := testutil.ToFloat64(metrics.CatalogReloadTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("successful reloads = %v, want 1", got)
	}

	if err := r.Reload([]string{"testdata/duplicate"}); err == nil {
		t.Fatal("Reload() with duplicate ids should fail")
	}
	if got := testutil.ToFloat64(metrics.CatalogReloadTotal.WithLabelValues("invalid")); got != 1 {
		t.Errorf("invalid reloads = %v, want 1", got)
	}

	if err := r.Reload([]string{"testdata/invalid"}); err == nil {
		t.Fatal("Reload() with malformed YAML should fail")
	}
	if got := testutil.ToFloat64(metrics.CatalogReloadTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("failed reloads = %v, want 1", got)
	}

	// The previous catalog is still served.
	if r.Len() != 3 {
		t.Errorf("Len() after failed reloads = %d, want 3", r.Len())
	}
}

func TestRegistry_ReloadPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, "catalog.yaml"), []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	write("surveys:\n  - id: one\n    name: One\n    questions:\n      - {id: a, kind: free_text, prompt: A}\n")
	r, err := Load([]string{dir})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	before := r.Checksum()

	write("surveys:\n  - id: two\n    name: Two\n    questions:\n      - {id: a, kind: free_text, prompt: A}\n")
	if err := r.Reload([]string{dir}); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if r.Checksum() == before {
		t.Error("Checksum did not change after reload")
	}
	if _, err := r.GetSurvey(context.Background(), "two"); err != nil {
		t.Errorf("GetSurvey(two) error = %v", err)
	}
	if _, err := r.GetSurvey(context.Background(), "one"); err == nil {
		t.Error("GetSurvey(one) still found after reload")
	}
}

func TestRegistry_concurrentReadsDuringReplace(t *testing.T) {
	r := loadTestRegistry(t)
	docs, _ := NewLoader().LoadAll([]string{"testdata/surveys"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := r.GetSurvey(context.Background(), "hh-water"); err != nil {
				t.Errorf("GetSurvey() error = %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			r.Replace(docs)
		}()
	}
	wg.Wait()
}
