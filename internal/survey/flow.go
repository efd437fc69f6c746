// Package survey drives one attempt at filling in a survey, from facility
// code entry through submission or discard.
package survey

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/pitabwire/sarvekshan/internal/draft"
	"github.com/pitabwire/sarvekshan/internal/observability"
	"github.com/pitabwire/sarvekshan/model"
)

// Flow states.
const (
	StateFacilityEntry = "facility_entry"
	StateAnswering     = "answering"
	StateSubmitted     = "submitted"
	StateDiscarded     = "discarded"
)

const (
	eventFacilityAccepted = "facility_accepted"
	eventSubmitted        = "submitted"
	eventDiscarded        = "discarded"
)

// DraftStore persists resumable snapshots keyed by survey id.
type DraftStore interface {
	SaveDraft(ctx context.Context, snap model.DraftSnapshot) error
	DeleteDraft(ctx context.Context, surveyID string) error
}

// Flow owns the draft of one survey attempt. At most one store call is in
// flight at a time; a result arriving after Discard or Close is dropped.
// Discard is refused while a submission is in flight.
// Flow is safe for concurrent use.
type Flow struct {
	mu      sync.Mutex
	machine *fsm.FSM
	draft   *draft.Draft
	survey  model.SurveyDefinition

	store  draft.SubmissionSaver
	drafts DraftStore

	inFlight   bool
	submitting bool
	epoch      uint64
	closed     bool

	now     func() time.Time
	logger  *zap.Logger
	metrics *observability.Metrics
}

// Option configures a Flow.
type Option func(*flowOptions)

type flowOptions struct {
	submittedBy string
	now         func() time.Time
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// WithSubmittedBy records who fills in the survey on the submission.
func WithSubmittedBy(subject string) Option {
	return func(o *flowOptions) { o.submittedBy = subject }
}

// WithClock overrides the clock used to stamp draft snapshots.
func WithClock(now func() time.Time) Option {
	return func(o *flowOptions) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *flowOptions) { o.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *flowOptions) { o.metrics = m }
}

// NewFlow starts an attempt at survey, resuming from seed when it is non-nil.
// A facility-gated survey without a restored code starts in facility_entry;
// every other attempt starts in answering.
func NewFlow(survey model.SurveyDefinition, seed *model.DraftSnapshot, store draft.SubmissionSaver, drafts DraftStore, opts ...Option) *Flow {
	o := flowOptions{now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	d := draft.New(survey, seed, draft.WithSubmittedBy(o.submittedBy))
	initial := StateAnswering
	if d.NeedsFacilityCode() {
		initial = StateFacilityEntry
	}

	return &Flow{
		machine: fsm.NewFSM(
			initial,
			fsm.Events{
				{Name: eventFacilityAccepted, Src: []string{StateFacilityEntry}, Dst: StateAnswering},
				{Name: eventSubmitted, Src: []string{StateAnswering}, Dst: StateSubmitted},
				{Name: eventDiscarded, Src: []string{StateFacilityEntry, StateAnswering}, Dst: StateDiscarded},
			},
			fsm.Callbacks{},
		),
		draft:   d,
		survey:  survey,
		store:   store,
		drafts:  drafts,
		now:     o.now,
		logger:  o.logger.With(zap.String("survey_id", survey.ID)),
		metrics: o.metrics,
	}
}

// Survey returns the survey being filled in.
func (f *Flow) Survey() model.SurveyDefinition {
	return f.survey
}

// State returns the current state name.
func (f *Flow) State() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.machine.Current()
}

// EnterFacilityCode validates and locks the facility code, opening the
// questions for answering.
func (f *Flow) EnterFacilityCode(code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.mutable("facility_code"); err != nil {
		return err
	}
	if err := f.draft.SetFacilityCode(code); err != nil {
		if model.IsCode(err, model.ErrValidationError) {
			f.metrics.RecordValidationFailure("facility_code")
		}
		return err
	}
	f.fire(context.Background(), eventFacilityAccepted)
	f.logger.Info("facility code accepted")
	return nil
}

// SetAnswer stores value for questionID.
func (f *Flow) SetAnswer(questionID, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.mutable("set_answer"); err != nil {
		return err
	}
	return f.draft.SetAnswer(questionID, value)
}

// Answer returns the stored value for questionID.
func (f *Flow) Answer(questionID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.draft.Answer(questionID)
}

// Answers returns a copy of every stored answer.
func (f *Flow) Answers() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.draft.Answers()
}

// FacilityCode returns the locked facility code, or "".
func (f *Flow) FacilityCode() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.draft.FacilityCode()
}

// Progress returns the answered share of questions in [0,1].
func (f *Flow) Progress() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.draft.Progress()
}

// Missing returns the required questions that still lack an answer.
func (f *Flow) Missing() []model.QuestionSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.draft.ValidateForSubmission()
}

// SaveDraft persists a snapshot of the current answers so the attempt can be
// resumed later.
func (f *Flow) SaveDraft(ctx context.Context) error {
	f.mu.Lock()
	if err := f.mutable("save_draft"); err != nil {
		f.mu.Unlock()
		return err
	}
	snap := f.draft.Snapshot(f.now())
	f.inFlight = true
	epoch := f.epoch
	f.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, "survey.save_draft", observability.AttrSurveyID.String(f.survey.ID))
	err := f.drafts.SaveDraft(ctx, snap)
	observability.EndSpanWithError(span, err)

	f.mu.Lock()
	if f.stale(epoch) {
		discarded := f.machine.Current() == StateDiscarded
		f.mu.Unlock()
		if discarded && err == nil {
			// The snapshot landed after Discard deleted it.
			f.deleteSnapshot(ctx)
		}
		return nil
	}
	f.inFlight = false
	f.mu.Unlock()

	if err != nil {
		f.metrics.RecordDraftSave(f.survey.ID, "error")
		f.logger.Warn("saving draft failed", zap.Error(err))
		return asStoreError("could not save the draft", err)
	}
	f.metrics.RecordDraftSave(f.survey.ID, "success")
	f.logger.Debug("draft saved", zap.Float64("progress", snap.Progress))
	return nil
}

// Submit finalizes the answers and hands them to the response store. On
// success the flow moves to submitted, the saved snapshot is removed and the
// stored record is returned. A result that arrives after Close is dropped and
// yields a zero record with a nil error.
func (f *Flow) Submit(ctx context.Context) (model.HistoricalRecord, error) {
	f.mu.Lock()
	if err := f.mutable("submit"); err != nil {
		f.mu.Unlock()
		return model.HistoricalRecord{}, err
	}
	if cur := f.machine.Current(); cur != StateAnswering {
		f.mu.Unlock()
		return model.HistoricalRecord{}, model.NewInvalidTransitionError("submit is not allowed in state " + cur)
	}

	ctx, span := observability.StartSpan(ctx, "survey.submit", observability.AttrSurveyID.String(f.survey.ID))
	saved := false
	rec, err := f.draft.Submit(ctx, saverFunc(func(ctx context.Context, sub model.Submission) (model.HistoricalRecord, error) {
		saved = true
		return f.saveUnlocked(ctx, sub)
	}))
	switch {
	case errors.Is(err, errStale):
		f.mu.Unlock()
		span.End()
		return model.HistoricalRecord{}, nil
	case err != nil && !saved:
		f.mu.Unlock()
		observability.EndSpanWithError(span, err)
		f.metrics.RecordSubmission(f.survey.ID, "incomplete")
		return model.HistoricalRecord{}, err
	case err != nil:
		f.mu.Unlock()
		observability.EndSpanWithError(span, err)
		f.metrics.RecordSubmission(f.survey.ID, "error")
		f.logger.Warn("submission failed", zap.Error(err))
		return model.HistoricalRecord{}, err
	}
	f.fire(ctx, eventSubmitted)
	f.mu.Unlock()

	span.SetAttributes(observability.AttrRecordID.String(rec.ID))
	span.End()
	f.metrics.RecordSubmission(f.survey.ID, "success")
	f.logger.Info("survey submitted", zap.String("record_id", rec.ID))
	f.deleteSnapshot(ctx)
	return rec, nil
}

// saveUnlocked hands sub to the response store with the lock released. It
// must be called with the lock held and returns with it held. A result that
// arrives after Close yields errStale.
func (f *Flow) saveUnlocked(ctx context.Context, sub model.Submission) (model.HistoricalRecord, error) {
	f.inFlight = true
	f.submitting = true
	epoch := f.epoch
	f.mu.Unlock()

	rec, err := f.store.SaveSubmission(ctx, sub)

	f.mu.Lock()
	if f.stale(epoch) {
		return model.HistoricalRecord{}, errStale
	}
	f.inFlight = false
	f.submitting = false
	return rec, err
}

// Discard destroys the draft and its saved snapshot, abandoning a draft save
// still in flight. A submission in flight cannot be abandoned, so Discard
// fails with BUSY until it completes.
func (f *Flow) Discard(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return model.NewInvalidTransitionError("the survey is closed")
	}
	if f.submitting {
		f.mu.Unlock()
		f.metrics.RecordBusy("discard")
		return model.NewBusyError("discard")
	}
	if cur := f.machine.Current(); cur != StateFacilityEntry && cur != StateAnswering {
		f.mu.Unlock()
		return model.NewInvalidTransitionError("discard is not allowed in state " + cur)
	}
	f.invalidate()
	f.draft.Discard()
	f.fire(ctx, eventDiscarded)
	f.mu.Unlock()

	f.logger.Info("survey discarded")
	f.deleteSnapshot(ctx)
	return nil
}

// Close abandons any store call in flight and rejects further operations.
// The draft and any saved snapshot are left as they are.
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.invalidate()
}

// mutable checks the preconditions shared by every operation that changes
// or persists the draft. Must be called with the lock held.
func (f *Flow) mutable(op string) error {
	if f.closed {
		return model.NewInvalidTransitionError("the survey is closed")
	}
	if f.inFlight {
		f.metrics.RecordBusy(op)
		return model.NewBusyError(op)
	}
	switch cur := f.machine.Current(); cur {
	case StateSubmitted, StateDiscarded:
		return model.NewInvalidTransitionError(op + " is not allowed in state " + cur)
	}
	return nil
}

func (f *Flow) deleteSnapshot(ctx context.Context) {
	ctx, span := observability.StartSpan(ctx, "survey.delete_draft", observability.AttrSurveyID.String(f.survey.ID))
	err := f.drafts.DeleteDraft(ctx, f.survey.ID)
	observability.EndSpanWithError(span, err)
	if err != nil {
		f.logger.Warn("deleting saved draft failed", zap.Error(err))
	}
}

// stale reports whether the flow moved on since epoch was captured. Must be
// called with the lock held.
func (f *Flow) stale(epoch uint64) bool {
	if epoch == f.epoch {
		return false
	}
	f.logger.Debug("dropping stale response store result")
	f.metrics.RecordStaleResponse("survey")
	return true
}

// invalidate abandons the in-flight call. Must be called with the lock held.
func (f *Flow) invalidate() {
	f.epoch++
	f.inFlight = false
	f.submitting = false
}

func (f *Flow) fire(ctx context.Context, event string) {
	if err := f.machine.Event(context.Background(), event); err != nil {
		f.logger.Error("survey state machine rejected event", zap.String("event", event), zap.Error(err))
		return
	}
	observability.AddTransitionEvent(ctx, event, f.machine.Current())
}

var errStale = errors.New("survey: stale store result")

type saverFunc func(ctx context.Context, sub model.Submission) (model.HistoricalRecord, error)

func (fn saverFunc) SaveSubmission(ctx context.Context, sub model.Submission) (model.HistoricalRecord, error) {
	return fn(ctx, sub)
}

func asStoreError(msg string, err error) error {
	if model.CodeOf(err) != "" {
		return err
	}
	return model.NewProviderError(msg, err)
}
