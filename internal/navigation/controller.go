package navigation

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/sarvekshan/internal/auth"
	"github.com/pitabwire/sarvekshan/internal/identity"
	"github.com/pitabwire/sarvekshan/internal/observability"
	"github.com/pitabwire/sarvekshan/internal/profile"
	"github.com/pitabwire/sarvekshan/internal/response"
	"github.com/pitabwire/sarvekshan/internal/survey"
	"github.com/pitabwire/sarvekshan/model"
)

// Catalog supplies survey definitions.
type Catalog interface {
	ListSurveys(ctx context.Context) ([]model.SurveyDefinition, error)
	GetSurvey(ctx context.Context, id string) (model.SurveyDefinition, error)
	// Search returns the surveys whose id, name or description contains
	// query, ignoring case.
	Search(ctx context.Context, query string) ([]model.SurveyDefinition, error)
}

// SurveySummary is a catalog entry annotated with resume status.
type SurveySummary struct {
	Survey   model.SurveyDefinition
	Started  bool
	Progress float64
}

// Controller owns the navigation state and the live login and survey flows.
// Collaborator calls run without holding the controller lock; a result that
// arrives after the state moved on is dropped. Controller is safe for
// concurrent use.
type Controller struct {
	mu    sync.Mutex
	state State
	auth  *auth.Flow

	session *identity.Session

	provider  identity.Provider
	catalog   Catalog
	responses response.Store
	drafts    response.DraftStore
	profiles  response.ProfileStore
	regions   *profile.Directory

	authOpts   []auth.Option
	surveyOpts []survey.Option
	loc        *time.Location
	now        func() time.Time
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// Option configures a Controller.
type Option func(*Controller)

// WithAuthOptions passes options to every login flow the controller creates.
func WithAuthOptions(opts ...auth.Option) Option {
	return func(c *Controller) { c.authOpts = append(c.authOpts, opts...) }
}

// WithSurveyOptions passes options to every survey flow the controller
// creates.
func WithSurveyOptions(opts ...survey.Option) Option {
	return func(c *Controller) { c.surveyOpts = append(c.surveyOpts, opts...) }
}

// WithLocation sets the time zone used for history calendar days.
func WithLocation(loc *time.Location) Option {
	return func(c *Controller) { c.loc = loc }
}

// WithProfiles enables profile editing backed by store, with states and
// districts drawn from regions.
func WithProfiles(store response.ProfileStore, regions *profile.Directory) Option {
	return func(c *Controller) {
		c.profiles = store
		c.regions = regions
	}
}

// WithClock overrides the clock used to stamp profile updates.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// NewController creates a controller on the login screen.
func NewController(provider identity.Provider, cat Catalog, responses response.Store, drafts response.DraftStore, opts ...Option) *Controller {
	c := &Controller{
		state:     Unauthenticated{},
		provider:  provider,
		catalog:   cat,
		responses: responses,
		drafts:    drafts,
		loc:       time.Local,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.auth = c.newAuthFlow()
	return c
}

// State returns the current navigation state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// --- Login ---

// SubmitPhone sends a one-time code to phone.
func (c *Controller) SubmitPhone(ctx context.Context, phone string) error {
	flow, err := c.loginFlow()
	if err != nil {
		return err
	}
	return flow.SubmitPhone(ctx, phone)
}

// SubmitOTP verifies code and, on success, opens the main view.
func (c *Controller) SubmitOTP(ctx context.Context, code string) error {
	flow, err := c.loginFlow()
	if err != nil {
		return err
	}
	if err := flow.SubmitOTP(ctx, code); err != nil {
		return err
	}
	session, ok := flow.Session()
	if !ok {
		// The verification result was dropped.
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.auth != flow {
		return nil
	}
	if err := c.apply(AuthSucceeded{}); err != nil {
		return err
	}
	c.session = &session
	flow.Close()
	c.logger.Info("signed in", observability.PhoneField(session.Phone))
	return nil
}

// ResendOTP sends a fresh code once the countdown has expired.
func (c *Controller) ResendOTP(ctx context.Context) error {
	flow, err := c.loginFlow()
	if err != nil {
		return err
	}
	return flow.ResendOTP(ctx)
}

// ChangeNumber returns to phone entry.
func (c *Controller) ChangeNumber() error {
	flow, err := c.loginFlow()
	if err != nil {
		return err
	}
	return flow.ChangeNumber()
}

// LoginState returns the login flow state and the seconds left before a
// resend is allowed.
func (c *Controller) LoginState() (string, int) {
	c.mu.Lock()
	flow := c.auth
	c.mu.Unlock()
	return flow.State(), flow.Remaining()
}

// Session returns the signed-in session.
func (c *Controller) Session() (identity.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return identity.Session{}, false
	}
	return *c.session, true
}

// --- Main view ---

// SelectTab switches the main view tab.
func (c *Controller) SelectTab(tab Tab) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apply(TabSelected{Tab: tab})
}

// Surveys lists the catalog with the resume status of each survey.
func (c *Controller) Surveys(ctx context.Context) ([]SurveySummary, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	defs, err := c.catalog.ListSurveys(ctx)
	if err != nil {
		return nil, asCollaboratorError("could not list surveys", err)
	}
	return c.summarize(ctx, defs)
}

// SearchSurveys lists the surveys whose id, name or description contains
// query, ignoring case.
func (c *Controller) SearchSurveys(ctx context.Context, query string) ([]SurveySummary, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	defs, err := c.catalog.Search(ctx, query)
	if err != nil {
		return nil, asCollaboratorError("could not search surveys", err)
	}
	return c.summarize(ctx, defs)
}

// History returns every submitted record, newest first.
func (c *Controller) History(ctx context.Context) ([]model.HistoricalRecord, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	records, err := c.responses.ListHistory(ctx)
	if err != nil {
		return nil, asCollaboratorError("could not load history", err)
	}
	response.SortNewestFirst(records)
	return records, nil
}

// HistoryOn returns the records completed on day.
func (c *Controller) HistoryOn(ctx context.Context, day time.Time) ([]model.HistoricalRecord, error) {
	records, err := c.History(ctx)
	if err != nil {
		return nil, err
	}
	return response.FilterByDate(records, day, c.loc), nil
}

// CompletionDays returns the days of month that have submissions.
func (c *Controller) CompletionDays(ctx context.Context, year int, month time.Month) ([]int, error) {
	records, err := c.History(ctx)
	if err != nil {
		return nil, err
	}
	return response.CompletionDays(records, year, month, c.loc), nil
}

// ViewRecord opens a submitted record for review. An unknown id fails with
// NOT_FOUND and leaves the current tab in place.
func (c *Controller) ViewRecord(ctx context.Context, id string) error {
	if err := c.requireMainView("view_record"); err != nil {
		return err
	}
	rec, err := c.responses.GetRecord(ctx, id)
	if err != nil {
		return asCollaboratorError("could not load the record", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apply(RecordOpened{Record: rec})
}

// Back leaves the record under review.
func (c *Controller) Back() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apply(Back{})
}

// --- Survey ---

// StartSurvey opens survey id, resuming its saved draft when there is one.
func (c *Controller) StartSurvey(ctx context.Context, id string) (*survey.Flow, error) {
	if err := c.requireMainView("start_survey"); err != nil {
		return nil, err
	}
	def, err := c.catalog.GetSurvey(ctx, id)
	if err != nil {
		return nil, asCollaboratorError("could not load the survey", err)
	}
	seed, err := c.drafts.LoadDraft(ctx, id)
	if err != nil {
		return nil, asCollaboratorError("could not load the saved draft", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	opts := append([]survey.Option{
		survey.WithLogger(c.logger),
		survey.WithMetrics(c.metrics),
	}, c.surveyOpts...)
	if c.session != nil {
		opts = append(opts, survey.WithSubmittedBy(c.session.Subject))
	}
	flow := survey.NewFlow(def, seed, c.responses, c.drafts, opts...)
	if err := c.apply(SurveyStarted{Survey: def, Flow: flow}); err != nil {
		flow.Close()
		return nil, err
	}
	c.logger.Info("survey started", zap.String("survey_id", id), zap.Bool("resumed", seed != nil))
	return flow, nil
}

// ActiveSurvey returns the flow of the open survey.
func (c *Controller) ActiveSurvey() (*survey.Flow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.state.(SurveyInProgress)
	if !ok {
		return nil, model.NewInvalidTransitionError("no survey is open")
	}
	return s.Flow, nil
}

// EnterFacilityCode sets the facility code of the open survey.
func (c *Controller) EnterFacilityCode(code string) error {
	flow, err := c.ActiveSurvey()
	if err != nil {
		return err
	}
	return flow.EnterFacilityCode(code)
}

// Answer sets one answer of the open survey.
func (c *Controller) Answer(questionID, value string) error {
	flow, err := c.ActiveSurvey()
	if err != nil {
		return err
	}
	return flow.SetAnswer(questionID, value)
}

// SubmitSurvey submits the open survey and moves to the history tab.
func (c *Controller) SubmitSurvey(ctx context.Context) (model.HistoricalRecord, error) {
	flow, err := c.ActiveSurvey()
	if err != nil {
		return model.HistoricalRecord{}, err
	}
	rec, err := flow.Submit(ctx)
	if err != nil {
		return model.HistoricalRecord{}, err
	}
	if flow.State() != survey.StateSubmitted {
		return model.HistoricalRecord{}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.owns(flow) {
		return rec, nil
	}
	if err := c.apply(SurveySubmitted{}); err != nil {
		return model.HistoricalRecord{}, err
	}
	return rec, nil
}

// DiscardSurvey discards the open survey and its saved draft.
func (c *Controller) DiscardSurvey(ctx context.Context) error {
	flow, err := c.ActiveSurvey()
	if err != nil {
		return err
	}
	if err := flow.Discard(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.owns(flow) {
		return nil
	}
	return c.apply(SurveyDiscarded{})
}

// SuspendSurvey saves the open survey's draft and leaves it so it can be
// resumed later.
func (c *Controller) SuspendSurvey(ctx context.Context) error {
	flow, err := c.ActiveSurvey()
	if err != nil {
		return err
	}
	if err := flow.SaveDraft(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.owns(flow) {
		return nil
	}
	if err := c.apply(SurveySuspended{}); err != nil {
		return err
	}
	flow.Close()
	return nil
}

// --- Profile ---

// Profile returns the signed-in field worker's profile. A worker who never
// saved one gets a blank profile carrying only the session subject.
func (c *Controller) Profile(ctx context.Context) (model.Profile, error) {
	session, err := c.profileSession()
	if err != nil {
		return model.Profile{}, err
	}
	p, err := c.profiles.LoadProfile(ctx, session.Subject)
	if err != nil {
		return model.Profile{}, asCollaboratorError("could not load the profile", err)
	}
	if p == nil {
		return model.Profile{Subject: session.Subject}, nil
	}
	return *p, nil
}

// UpdateProfile validates p against the region directory and saves it for
// the signed-in field worker. A district outside the chosen state fails with
// VALIDATION_ERROR.
func (c *Controller) UpdateProfile(ctx context.Context, p model.Profile) (model.Profile, error) {
	if err := c.requireMainView("update_profile"); err != nil {
		return model.Profile{}, err
	}
	session, err := c.profileSession()
	if err != nil {
		return model.Profile{}, err
	}

	p.Subject = session.Subject
	if err := profile.Validate(p, c.regions); err != nil {
		var env *model.ErrorEnvelope
		if errors.As(err, &env) {
			for _, d := range env.Details {
				c.metrics.RecordValidationFailure("profile." + d.Field)
			}
		}
		return model.Profile{}, err
	}
	p.UpdatedAt = c.now().UTC()

	if err := c.profiles.SaveProfile(ctx, p); err != nil {
		c.logger.Warn("saving profile failed", zap.Error(err))
		return model.Profile{}, asCollaboratorError("could not save the profile", err)
	}
	c.logger.Info("profile updated", zap.String("state", p.State), zap.String("district", p.District))
	return p, nil
}

// Regions returns the states and districts a profile may name.
func (c *Controller) Regions() []profile.Region {
	return c.regions.Regions()
}

// --- Session ---

// Logout ends the session from any state. An open survey's in-memory answers
// are dropped; saved drafts stay.
func (c *Controller) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.state.(SurveyInProgress); ok {
		s.Flow.Close()
	}
	c.auth.Close()
	c.auth = c.newAuthFlow()
	c.session = nil
	if err := c.apply(LoggedOut{}); err != nil {
		return err
	}
	c.logger.Info("signed out")
	return nil
}

// Close tears down the live flows.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.state.(SurveyInProgress); ok {
		s.Flow.Close()
	}
	c.auth.Close()
}

// --- helpers ---

func (c *Controller) newAuthFlow() *auth.Flow {
	opts := append([]auth.Option{
		auth.WithLogger(c.logger),
		auth.WithMetrics(c.metrics),
	}, c.authOpts...)
	return auth.NewFlow(c.provider, opts...)
}

// apply moves to the state that follows ev. Must be called with the lock
// held.
func (c *Controller) apply(ev Event) error {
	from := c.state
	next, err := Transition(from, ev)
	if err != nil {
		c.metrics.RecordRejectedTransition(from.Name(), ev.Name())
		return err
	}
	c.state = next
	c.metrics.RecordTransition(from.Name(), next.Name())
	c.logger.Debug("navigation transition",
		zap.String("from", from.Name()),
		zap.String("event", ev.Name()),
		zap.String("to", next.Name()),
	)
	return nil
}

func (c *Controller) loginFlow() (*auth.Flow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.state.(Unauthenticated); !ok {
		return nil, model.NewInvalidTransitionError("already signed in")
	}
	return c.auth, nil
}

func (c *Controller) requireSession() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.state.(Unauthenticated); ok {
		return model.NewInvalidTransitionError("sign in first")
	}
	return nil
}

func (c *Controller) profileSession() (identity.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return identity.Session{}, model.NewInvalidTransitionError("sign in first")
	}
	if c.profiles == nil {
		return identity.Session{}, model.NewInvalidTransitionError("profile editing is not available")
	}
	return *c.session, nil
}

func (c *Controller) requireMainView(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.state.(MainView); !ok {
		return model.NewInvalidTransitionError(op + " is not allowed in state " + c.state.Name())
	}
	return nil
}

// owns reports whether flow is still the open survey. Must be called with
// the lock held.
func (c *Controller) owns(flow *survey.Flow) bool {
	s, ok := c.state.(SurveyInProgress)
	return ok && s.Flow == flow
}

func (c *Controller) summarize(ctx context.Context, defs []model.SurveyDefinition) ([]SurveySummary, error) {
	out := make([]SurveySummary, 0, len(defs))
	for _, def := range defs {
		sum := SurveySummary{Survey: def}
		snap, err := c.drafts.LoadDraft(ctx, def.ID)
		if err != nil {
			return nil, asCollaboratorError("could not load saved drafts", err)
		}
		if snap != nil {
			sum.Started = true
			sum.Progress = snap.Progress
		}
		out = append(out, sum)
	}
	return out, nil
}

func asCollaboratorError(msg string, err error) error {
	if model.CodeOf(err) != "" {
		return err
	}
	return model.NewProviderError(msg, err)
}
