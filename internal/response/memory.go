package response

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pitabwire/sarvekshan/model"
)

// MemoryStore is an in-memory Store, DraftStore and ProfileStore.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]model.HistoricalRecord
	drafts   map[string]model.DraftSnapshot
	profiles map[string]model.Profile

	now   func() time.Time
	newID func() string
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the clock used to stamp completion times.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(fn func() string) MemoryOption {
	return func(s *MemoryStore) { s.newID = fn }
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		records:  make(map[string]model.HistoricalRecord),
		drafts:   make(map[string]model.DraftSnapshot),
		profiles: make(map[string]model.Profile),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveSubmission stores sub as a new record.
func (s *MemoryStore) SaveSubmission(_ context.Context, sub model.Submission) (model.HistoricalRecord, error) {
	rec := NewRecord(s.newID(), sub, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return model.HistoricalRecord{}, model.NewConflictError(fmt.Sprintf("record %q already exists", rec.ID))
	}
	s.records[rec.ID] = rec
	return copyRecord(rec), nil
}

// ListHistory returns every record, newest first.
func (s *MemoryStore) ListHistory(_ context.Context) ([]model.HistoricalRecord, error) {
	s.mu.RLock()
	out := make([]model.HistoricalRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, copyRecord(rec))
	}
	s.mu.RUnlock()

	SortNewestFirst(out)
	return out, nil
}

// GetRecord returns the record with the given id.
func (s *MemoryStore) GetRecord(_ context.Context, id string) (model.HistoricalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return model.HistoricalRecord{}, model.NewNotFoundError(fmt.Sprintf("record %q not found", id))
	}
	return copyRecord(rec), nil
}

// LoadDraft returns the saved snapshot for surveyID, or nil.
func (s *MemoryStore) LoadDraft(_ context.Context, surveyID string) (*model.DraftSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.drafts[surveyID]
	if !ok {
		return nil, nil
	}
	snap.Answers = model.CopyAnswers(snap.Answers)
	return &snap, nil
}

// SaveDraft replaces the snapshot for snap.SurveyID.
func (s *MemoryStore) SaveDraft(_ context.Context, snap model.DraftSnapshot) error {
	snap.Answers = model.CopyAnswers(snap.Answers)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[snap.SurveyID] = snap
	return nil
}

// DeleteDraft removes the snapshot for surveyID.
func (s *MemoryStore) DeleteDraft(_ context.Context, surveyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, surveyID)
	return nil
}

// LoadProfile returns the profile of subject, or nil.
func (s *MemoryStore) LoadProfile(_ context.Context, subject string) (*model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[subject]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// SaveProfile replaces the profile of p.Subject.
func (s *MemoryStore) SaveProfile(_ context.Context, p model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.Subject] = p
	return nil
}

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(context.Context) error {
	return nil
}

// NewRecord builds the stored form of sub.
func NewRecord(id string, sub model.Submission, completedAt time.Time) model.HistoricalRecord {
	return model.HistoricalRecord{
		ID:            id,
		SurveyID:      sub.SurveyID,
		SurveyName:    sub.SurveyName,
		FacilityGated: sub.FacilityGated,
		FacilityCode:  sub.FacilityCode,
		Answers:       model.CopyAnswers(sub.Answers),
		SubmittedBy:   sub.SubmittedBy,
		CompletedAt:   completedAt,
	}
}

func copyRecord(rec model.HistoricalRecord) model.HistoricalRecord {
	rec.Answers = model.CopyAnswers(rec.Answers)
	return rec
}
