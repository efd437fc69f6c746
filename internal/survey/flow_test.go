package survey

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/pitabwire/sarvekshan/internal/observability"
	"github.com/pitabwire/sarvekshan/model"
)

// fakeStore implements both the submission saver and the draft store.
type fakeStore struct {
	mu        sync.Mutex
	saveErr   error
	draftErr  error
	subs      []model.Submission
	snapshots map[string]model.DraftSnapshot
	deletes   []string

	gate    chan struct{}
	entered chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{snapshots: make(map[string]model.DraftSnapshot)}
}

func (s *fakeStore) hold() {
	s.mu.Lock()
	s.gate = make(chan struct{})
	s.entered = make(chan struct{}, 4)
	s.mu.Unlock()
}

func (s *fakeStore) release() {
	s.mu.Lock()
	close(s.gate)
	s.gate = nil
	s.mu.Unlock()
}

func (s *fakeStore) wait() {
	s.mu.Lock()
	gate, entered := s.gate, s.entered
	s.mu.Unlock()
	if gate == nil {
		return
	}
	entered <- struct{}{}
	<-gate
}

func (s *fakeStore) SaveSubmission(_ context.Context, sub model.Submission) (model.HistoricalRecord, error) {
	s.wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return model.HistoricalRecord{}, s.saveErr
	}
	s.subs = append(s.subs, sub)
	return model.HistoricalRecord{
		ID:           "rec-1",
		SurveyID:     sub.SurveyID,
		SurveyName:   sub.SurveyName,
		FacilityCode: sub.FacilityCode,
		Answers:      sub.Answers,
		CompletedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}, nil
}

func (s *fakeStore) SaveDraft(_ context.Context, snap model.DraftSnapshot) error {
	s.wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draftErr != nil {
		return s.draftErr
	}
	s.snapshots[snap.SurveyID] = snap
	return nil
}

func (s *fakeStore) DeleteDraft(_ context.Context, surveyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, surveyID)
	s.deletes = append(s.deletes, surveyID)
	return nil
}

func (s *fakeStore) snapshot(id string) (model.DraftSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[id]
	return snap, ok
}

func waterSurvey() model.SurveyDefinition {
	return model.SurveyDefinition{
		ID:   "water",
		Name: "Water Access",
		Questions: []model.QuestionSpec{
			{ID: "source", Kind: model.KindSingleChoice, Prompt: "Source", Choices: []string{"Tap", "Well"}, Required: true},
			{ID: "notes", Kind: model.KindLongText, Prompt: "Notes"},
		},
	}
}

func schoolSurvey() model.SurveyDefinition {
	return model.SurveyDefinition{
		ID:            "school",
		Name:          "School Infrastructure",
		FacilityGated: true,
		Questions: []model.QuestionSpec{
			{ID: "toilets", Kind: model.KindNumeric, Prompt: "Working toilets", Required: true},
		},
	}
}

func newTestMetrics(t *testing.T) *observability.Metrics {
	t.Helper()
	return observability.InitMetrics(prometheus.NewRegistry())
}

// --- Lifecycle ---

func TestFlow_initialState(t *testing.T) {
	store := newFakeStore()
	tests := []struct {
		name   string
		survey model.SurveyDefinition
		seed   *model.DraftSnapshot
		want   string
	}{
		{"ungated", waterSurvey(), nil, StateAnswering},
		{"gated", schoolSurvey(), nil, StateFacilityEntry},
		{"gated resumed with code", schoolSurvey(), &model.DraftSnapshot{FacilityCode: "12345678901"}, StateAnswering},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFlow(tt.survey, tt.seed, store, store)
			if got := f.State(); got != tt.want {
				t.Errorf("State() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFlow_facilityCodeScenario(t *testing.T) {
	store := newFakeStore()
	metrics := newTestMetrics(t)
	f := NewFlow(schoolSurvey(), nil, store, store, WithMetrics(metrics))

	if err := f.SetAnswer("toilets", "3"); !model.IsCode(err, model.ErrInvalidTransition) {
		t.Errorf("SetAnswer() before code error = %v, want INVALID_TRANSITION", err)
	}
	if err := f.EnterFacilityCode("1234567890"); !model.IsCode(err, model.ErrValidationError) {
		t.Errorf("EnterFacilityCode(10 digits) error = %v, want VALIDATION_ERROR", err)
	}
	if got := f.State(); got != StateFacilityEntry {
		t.Errorf("State() after bad code = %q", got)
	}
	if got := testutil.ToFloat64(metrics.ValidationFailures.WithLabelValues("facility_code")); got != 1 {
		t.Errorf("facility_code validation failures = %v, want 1", got)
	}

	if err := f.EnterFacilityCode("12345678901"); err != nil {
		t.Fatalf("EnterFacilityCode(11 digits) error = %v", err)
	}
	if got := f.State(); got != StateAnswering {
		t.Errorf("State() = %q, want %q", got, StateAnswering)
	}
	if err := f.EnterFacilityCode("10987654321"); !model.IsCode(err, model.ErrConflict) {
		t.Errorf("second EnterFacilityCode() error = %v, want CONFLICT", err)
	}
	if err := f.SetAnswer("toilets", "3"); err != nil {
		t.Errorf("SetAnswer() error = %v", err)
	}
	if f.FacilityCode() != "12345678901" {
		t.Errorf("FacilityCode() = %q", f.FacilityCode())
	}
}

func TestFlow_submitSuccess(t *testing.T) {
	store := newFakeStore()
	metrics := newTestMetrics(t)
	f := NewFlow(waterSurvey(), nil, store, store, WithSubmittedBy("9876543210"), WithMetrics(metrics))

	_ = f.SetAnswer("source", "Well")
	if err := f.SaveDraft(context.Background()); err != nil {
		t.Fatalf("SaveDraft() error = %v", err)
	}
	if _, ok := store.snapshot("water"); !ok {
		t.Fatal("snapshot not saved")
	}

	rec, err := f.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if rec.ID != "rec-1" || rec.Answers["source"] != "Well" {
		t.Errorf("record = %+v", rec)
	}
	if got := f.State(); got != StateSubmitted {
		t.Errorf("State() = %q, want %q", got, StateSubmitted)
	}
	if store.subs[0].SubmittedBy != "9876543210" {
		t.Errorf("SubmittedBy = %q", store.subs[0].SubmittedBy)
	}
	if _, ok := store.snapshot("water"); ok {
		t.Error("snapshot still present after submit")
	}
	if got := testutil.ToFloat64(metrics.SubmissionsTotal.WithLabelValues("water", "success")); got != 1 {
		t.Errorf("successful submissions = %v, want 1", got)
	}

	if err := f.SetAnswer("source", "Tap"); !model.IsCode(err, model.ErrInvalidTransition) {
		t.Errorf("SetAnswer() after submit error = %v, want INVALID_TRANSITION", err)
	}
	if _, err := f.Submit(context.Background()); !model.IsCode(err, model.ErrInvalidTransition) {
		t.Errorf("second Submit() error = %v, want INVALID_TRANSITION", err)
	}
}

func TestFlow_submitSpanCarriesRecordAndTransition(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	store := newFakeStore()
	f := NewFlow(waterSurvey(), nil, store, store)
	_ = f.SetAnswer("source", "Tap")
	if _, err := f.Submit(context.Background()); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	var submit *tracetest.SpanStub
	spans := exporter.GetSpans()
	for i := range spans {
		if spans[i].Name == "survey.submit" {
			submit = &spans[i]
		}
	}
	if submit == nil {
		t.Fatal("no survey.submit span recorded")
	}

	attrs := map[string]string{}
	for _, kv := range submit.Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if got := attrs[string(observability.AttrRecordID)]; got != "rec-1" {
		t.Errorf("record id attribute = %q, want %q", got, "rec-1")
	}

	if len(submit.Events) != 1 || submit.Events[0].Name != "transition" {
		t.Fatalf("events = %+v, want one transition", submit.Events)
	}
	ev := map[string]string{}
	for _, kv := range submit.Events[0].Attributes {
		ev[string(kv.Key)] = kv.Value.Emit()
	}
	if ev[string(observability.AttrEvent)] != eventSubmitted || ev[string(observability.AttrState)] != StateSubmitted {
		t.Errorf("transition attributes = %v, want event %s state %s", ev, eventSubmitted, StateSubmitted)
	}
}

func TestFlow_submitIncomplete(t *testing.T) {
	store := newFakeStore()
	metrics := newTestMetrics(t)
	f := NewFlow(waterSurvey(), nil, store, store, WithMetrics(metrics))
	_ = f.SetAnswer("notes", "looks fine")

	if missing := f.Missing(); len(missing) != 1 || missing[0].ID != "source" {
		t.Errorf("Missing() = %+v, want source", missing)
	}
	_, err := f.Submit(context.Background())
	if !model.IsCode(err, model.ErrIncomplete) {
		t.Fatalf("Submit() error = %v, want INCOMPLETE", err)
	}
	if got := f.State(); got != StateAnswering {
		t.Errorf("State() = %q, want %q", got, StateAnswering)
	}
	if len(store.subs) != 0 {
		t.Error("incomplete draft reached the store")
	}
	if got := testutil.ToFloat64(metrics.SubmissionsTotal.WithLabelValues("water", "incomplete")); got != 1 {
		t.Errorf("incomplete submissions = %v, want 1", got)
	}
}

func TestFlow_submitStoreFailureKeepsAnswers(t *testing.T) {
	store := newFakeStore()
	store.saveErr = errors.New("connection refused")
	f := NewFlow(waterSurvey(), nil, store, store)
	_ = f.SetAnswer("source", "Tap")

	_, err := f.Submit(context.Background())
	if !model.IsCode(err, model.ErrProviderError) {
		t.Fatalf("Submit() error = %v, want PROVIDER_ERROR", err)
	}
	if got := f.State(); got != StateAnswering {
		t.Errorf("State() = %q, want %q", got, StateAnswering)
	}
	if v, _ := f.Answer("source"); v != "Tap" {
		t.Errorf("Answer(source) = %q after failed submit", v)
	}

	// Retry succeeds once the store recovers.
	store.mu.Lock()
	store.saveErr = nil
	store.mu.Unlock()
	if _, err := f.Submit(context.Background()); err != nil {
		t.Errorf("retry Submit() error = %v", err)
	}
}

func TestFlow_discardDeletesSnapshot(t *testing.T) {
	store := newFakeStore()
	f := NewFlow(waterSurvey(), nil, store, store)
	_ = f.SetAnswer("source", "Tap")
	_ = f.SaveDraft(context.Background())

	if err := f.Discard(context.Background()); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if got := f.State(); got != StateDiscarded {
		t.Errorf("State() = %q, want %q", got, StateDiscarded)
	}
	if _, ok := store.snapshot("water"); ok {
		t.Error("snapshot still present after discard")
	}
	if len(f.Answers()) != 0 {
		t.Errorf("Answers() after discard = %v", f.Answers())
	}
	if err := f.Discard(context.Background()); !model.IsCode(err, model.ErrInvalidTransition) {
		t.Errorf("second Discard() error = %v, want INVALID_TRANSITION", err)
	}
}

func TestFlow_saveDraftFailure(t *testing.T) {
	store := newFakeStore()
	store.draftErr = errors.New("redis down")
	metrics := newTestMetrics(t)
	f := NewFlow(waterSurvey(), nil, store, store, WithMetrics(metrics))

	err := f.SaveDraft(context.Background())
	if !model.IsCode(err, model.ErrProviderError) {
		t.Fatalf("SaveDraft() error = %v, want PROVIDER_ERROR", err)
	}
	if got := testutil.ToFloat64(metrics.DraftSavesTotal.WithLabelValues("water", "error")); got != 1 {
		t.Errorf("failed draft saves = %v, want 1", got)
	}
}

func TestFlow_saveDraftStampsClock(t *testing.T) {
	store := newFakeStore()
	fixed := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	f := NewFlow(waterSurvey(), nil, store, store, WithClock(func() time.Time { return fixed }))
	_ = f.SetAnswer("source", "Tap")

	if err := f.SaveDraft(context.Background()); err != nil {
		t.Fatalf("SaveDraft() error = %v", err)
	}
	snap, _ := store.snapshot("water")
	if !snap.SavedAt.Equal(fixed) || snap.Progress != 0.5 {
		t.Errorf("snapshot = %+v", snap)
	}
}

// --- Concurrency ---

func TestFlow_busyWhileSubmitting(t *testing.T) {
	store := newFakeStore()
	metrics := newTestMetrics(t)
	f := NewFlow(waterSurvey(), nil, store, store, WithMetrics(metrics))
	_ = f.SetAnswer("source", "Tap")
	store.hold()

	done := make(chan error, 1)
	go func() {
		_, err := f.Submit(context.Background())
		done <- err
	}()
	<-store.entered

	if _, err := f.Submit(context.Background()); !model.IsCode(err, model.ErrBusy) {
		t.Errorf("concurrent Submit() error = %v, want BUSY", err)
	}
	if err := f.SetAnswer("notes", "x"); !model.IsCode(err, model.ErrBusy) {
		t.Errorf("SetAnswer() during submit error = %v, want BUSY", err)
	}
	if got := testutil.ToFloat64(metrics.BusyRejectionsTotal.WithLabelValues("submit")); got != 1 {
		t.Errorf("busy submit rejections = %v, want 1", got)
	}

	store.release()
	if err := <-done; err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if got := f.State(); got != StateSubmitted {
		t.Errorf("State() = %q, want %q", got, StateSubmitted)
	}
}

func TestFlow_discardRefusedWhileSubmitting(t *testing.T) {
	store := newFakeStore()
	metrics := newTestMetrics(t)
	f := NewFlow(waterSurvey(), nil, store, store, WithMetrics(metrics))
	_ = f.SetAnswer("source", "Tap")
	store.hold()

	type result struct {
		rec model.HistoricalRecord
		err error
	}
	done := make(chan result, 1)
	go func() {
		rec, err := f.Submit(context.Background())
		done <- result{rec, err}
	}()
	<-store.entered

	if err := f.Discard(context.Background()); !model.IsCode(err, model.ErrBusy) {
		t.Errorf("Discard() during submit error = %v, want BUSY", err)
	}
	if got := testutil.ToFloat64(metrics.BusyRejectionsTotal.WithLabelValues("discard")); got != 1 {
		t.Errorf("busy discard rejections = %v, want 1", got)
	}
	store.release()

	r := <-done
	if r.err != nil || r.rec.ID != "rec-1" {
		t.Fatalf("Submit() = %+v, %v; want rec-1", r.rec, r.err)
	}
	if got := f.State(); got != StateSubmitted {
		t.Errorf("State() = %q, want %q", got, StateSubmitted)
	}
	store.mu.Lock()
	stored := len(store.subs)
	store.mu.Unlock()
	if stored != 1 {
		t.Errorf("stored submissions = %d, want 1", stored)
	}
	if err := f.Discard(context.Background()); !model.IsCode(err, model.ErrInvalidTransition) {
		t.Errorf("Discard() after submit error = %v, want INVALID_TRANSITION", err)
	}
}

func TestFlow_submitResultDroppedAfterClose(t *testing.T) {
	store := newFakeStore()
	metrics := newTestMetrics(t)
	f := NewFlow(waterSurvey(), nil, store, store, WithMetrics(metrics))
	_ = f.SetAnswer("source", "Tap")
	store.hold()

	type result struct {
		rec model.HistoricalRecord
		err error
	}
	done := make(chan result, 1)
	go func() {
		rec, err := f.Submit(context.Background())
		done <- result{rec, err}
	}()
	<-store.entered

	f.Close()
	store.release()

	r := <-done
	if r.err != nil || r.rec.ID != "" {
		t.Errorf("stale Submit() = %+v, %v; want zero record, nil", r.rec, r.err)
	}
	if got := f.State(); got != StateAnswering {
		t.Errorf("State() = %q, want %q", got, StateAnswering)
	}
	if got := testutil.ToFloat64(metrics.StaleResponsesTotal.WithLabelValues("survey")); got != 1 {
		t.Errorf("stale survey responses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.SubmissionsTotal.WithLabelValues("water", "success")); got != 0 {
		t.Errorf("successful submissions = %v, want 0", got)
	}
}

func TestFlow_lateDraftSaveAfterDiscardIsRemoved(t *testing.T) {
	store := newFakeStore()
	f := NewFlow(waterSurvey(), nil, store, store)
	_ = f.SetAnswer("source", "Tap")
	store.hold()

	done := make(chan error, 1)
	go func() { done <- f.SaveDraft(context.Background()) }()
	<-store.entered

	_ = f.Discard(context.Background())
	store.release()

	if err := <-done; err != nil {
		t.Errorf("stale SaveDraft() error = %v, want nil", err)
	}
	if _, ok := store.snapshot("water"); ok {
		t.Error("snapshot written after discard was not removed")
	}
}

func TestFlow_closeRejectsOperationsAndKeepsSnapshot(t *testing.T) {
	store := newFakeStore()
	f := NewFlow(waterSurvey(), nil, store, store)
	_ = f.SetAnswer("source", "Well")
	_ = f.SaveDraft(context.Background())

	f.Close()

	if err := f.SetAnswer("source", "Tap"); !model.IsCode(err, model.ErrInvalidTransition) {
		t.Errorf("SetAnswer() after Close error = %v, want INVALID_TRANSITION", err)
	}
	if err := f.Discard(context.Background()); !model.IsCode(err, model.ErrInvalidTransition) {
		t.Errorf("Discard() after Close error = %v, want INVALID_TRANSITION", err)
	}
	if _, ok := store.snapshot("water"); !ok {
		t.Error("Close removed the saved snapshot")
	}
}
