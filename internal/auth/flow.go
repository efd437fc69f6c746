// Package auth implements the phone and one-time-password login flow.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/pitabwire/sarvekshan/internal/countdown"
	"github.com/pitabwire/sarvekshan/internal/identity"
	"github.com/pitabwire/sarvekshan/internal/observability"
	"github.com/pitabwire/sarvekshan/internal/validation"
	"github.com/pitabwire/sarvekshan/model"
)

// Flow states.
const (
	StateEnteringPhone = "entering_phone"
	StateAwaitingOTP   = "awaiting_otp"
	StateAuthenticated = "authenticated"
)

const (
	eventOTPSent      = "otp_sent"
	eventOTPVerified  = "otp_verified"
	eventChangeNumber = "change_number"
)

// DefaultCooldown is the number of seconds before a code may be resent.
const DefaultCooldown = 30

// Flow drives one login attempt. At most one provider call is in flight at a
// time; a response that arrives after ChangeNumber or Close is dropped
// without touching the flow. Flow is safe for concurrent use.
type Flow struct {
	mu       sync.Mutex
	machine  *fsm.FSM
	provider identity.Provider
	timer    *countdown.Timer

	cooldown     int
	tickInterval time.Duration

	phone    string
	session  *identity.Session
	inFlight bool
	epoch    uint64
	closed   bool

	logger  *zap.Logger
	metrics *observability.Metrics
}

// Option configures a Flow.
type Option func(*Flow)

// WithCooldown sets the resend cooldown in seconds.
func WithCooldown(seconds int) Option {
	return func(f *Flow) { f.cooldown = seconds }
}

// WithTickInterval sets the wall-clock length of one countdown second. Zero
// leaves the countdown to be advanced with Tick.
func WithTickInterval(d time.Duration) Option {
	return func(f *Flow) { f.tickInterval = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Flow) { f.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(f *Flow) { f.metrics = m }
}

// NewFlow creates a flow in the entering_phone state.
func NewFlow(provider identity.Provider, opts ...Option) *Flow {
	f := &Flow{
		provider:     provider,
		cooldown:     DefaultCooldown,
		tickInterval: time.Second,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}

	f.machine = fsm.NewFSM(
		StateEnteringPhone,
		fsm.Events{
			{Name: eventOTPSent, Src: []string{StateEnteringPhone}, Dst: StateAwaitingOTP},
			{Name: eventOTPVerified, Src: []string{StateAwaitingOTP}, Dst: StateAuthenticated},
			{Name: eventChangeNumber, Src: []string{StateAwaitingOTP}, Dst: StateEnteringPhone},
		},
		fsm.Callbacks{},
	)

	logger := f.logger
	f.timer = countdown.New(f.tickInterval, countdown.WithOnExpire(func() {
		logger.Debug("resend cooldown expired")
	}))
	return f
}

// SubmitPhone validates phone and asks the provider to send a code. On
// success the flow moves to awaiting_otp and the resend countdown starts.
func (f *Flow) SubmitPhone(ctx context.Context, phone string) error {
	f.mu.Lock()
	if err := f.begin("submit_phone", StateEnteringPhone); err != nil {
		f.mu.Unlock()
		return err
	}
	if err := validation.Check("phone", validation.RulePhone, phone); err != nil {
		f.mu.Unlock()
		f.metrics.RecordValidationFailure("phone")
		return err
	}
	f.inFlight = true
	epoch := f.epoch
	f.mu.Unlock()

	err := f.send(ctx, "send", phone)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stale(epoch) {
		return nil
	}
	f.inFlight = false
	if err != nil {
		return err
	}

	f.phone = phone
	f.fire(eventOTPSent)
	f.timer.Start(f.cooldown)
	f.logger.Info("otp sent", observability.PhoneField(phone))
	return nil
}

// SubmitOTP validates code and verifies it with the provider. On success the
// flow moves to authenticated and the session is retained.
func (f *Flow) SubmitOTP(ctx context.Context, code string) error {
	f.mu.Lock()
	if err := f.begin("submit_otp", StateAwaitingOTP); err != nil {
		f.mu.Unlock()
		return err
	}
	if err := validation.Check("otp", validation.RuleOTP, code); err != nil {
		f.mu.Unlock()
		f.metrics.RecordValidationFailure("otp")
		return err
	}
	f.inFlight = true
	epoch := f.epoch
	phone := f.phone
	f.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, "auth.verify_otp", observability.AttrOperation.String("verify"))
	start := time.Now()
	session, err := f.provider.VerifyOTP(ctx, phone, code)
	f.metrics.RecordOTPRequest("verify", outcome(err), time.Since(start))
	observability.EndSpanWithError(span, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stale(epoch) {
		return nil
	}
	f.inFlight = false
	if err != nil {
		f.logger.Warn("otp verification failed", observability.PhoneField(phone), zap.Error(err))
		return asProviderError("could not verify the code", err)
	}

	f.session = &session
	f.fire(eventOTPVerified)
	f.timer.Stop()
	f.logger.Info("otp verified", observability.PhoneField(phone))
	return nil
}

// ResendOTP sends a new code to the submitted phone once the countdown has
// expired and restarts it. Before expiry it does nothing.
func (f *Flow) ResendOTP(ctx context.Context) error {
	f.mu.Lock()
	if err := f.begin("resend_otp", StateAwaitingOTP); err != nil {
		f.mu.Unlock()
		return err
	}
	if !f.timer.IsExpired() {
		f.mu.Unlock()
		return nil
	}
	f.inFlight = true
	epoch := f.epoch
	phone := f.phone
	f.mu.Unlock()

	err := f.send(ctx, "resend", phone)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stale(epoch) {
		return nil
	}
	f.inFlight = false
	if err != nil {
		return err
	}

	f.timer.Start(f.cooldown)
	f.logger.Info("otp resent", observability.PhoneField(phone))
	return nil
}

// ChangeNumber returns to phone entry, dropping the phone and countdown and
// abandoning any provider call still in flight.
func (f *Flow) ChangeNumber() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return model.NewInvalidTransitionError("the login flow is closed")
	}
	switch f.machine.Current() {
	case StateEnteringPhone:
		f.invalidate()
		return nil
	case StateAuthenticated:
		return model.NewInvalidTransitionError("already authenticated")
	}

	f.invalidate()
	f.phone = ""
	f.timer.Reset()
	f.fire(eventChangeNumber)
	return nil
}

// Close stops the countdown and abandons any provider call in flight. The
// flow rejects every operation afterwards.
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.invalidate()
	f.timer.Stop()
}

// Tick advances the resend countdown by one second. It is only needed when
// the flow was built with a zero tick interval.
func (f *Flow) Tick() {
	f.timer.Tick()
}

// State returns the current state name.
func (f *Flow) State() string {
	return f.machine.Current()
}

// Phone returns the phone a code was sent to, or "".
func (f *Flow) Phone() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phone
}

// Remaining returns the seconds left before a resend is allowed.
func (f *Flow) Remaining() int {
	return f.timer.Remaining()
}

// CanResend reports whether ResendOTP would contact the provider now.
func (f *Flow) CanResend() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed && !f.inFlight &&
		f.machine.Current() == StateAwaitingOTP && f.timer.IsExpired()
}

// Session returns the verified session once authenticated.
func (f *Flow) Session() (identity.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return identity.Session{}, false
	}
	return *f.session, true
}

// begin checks the preconditions shared by every provider-calling operation.
// Must be called with the lock held.
func (f *Flow) begin(op, want string) error {
	if f.closed {
		return model.NewInvalidTransitionError("the login flow is closed")
	}
	if f.inFlight {
		f.metrics.RecordBusy(op)
		return model.NewBusyError(op)
	}
	if cur := f.machine.Current(); cur != want {
		return model.NewInvalidTransitionError(op + " is not allowed in state " + cur)
	}
	return nil
}

func (f *Flow) send(ctx context.Context, op, phone string) error {
	ctx, span := observability.StartSpan(ctx, "auth.send_otp", observability.AttrOperation.String(op))
	start := time.Now()
	err := f.provider.SendOTP(ctx, phone)
	f.metrics.RecordOTPRequest(op, outcome(err), time.Since(start))
	observability.EndSpanWithError(span, err)

	if err != nil {
		f.logger.Warn("otp send failed", zap.String("operation", op), observability.PhoneField(phone), zap.Error(err))
		return asProviderError("could not send the code", err)
	}
	return nil
}

// stale reports whether the flow moved on since epoch was captured. Must be
// called with the lock held.
func (f *Flow) stale(epoch uint64) bool {
	if epoch == f.epoch {
		return false
	}
	f.logger.Debug("dropping stale identity provider response")
	f.metrics.RecordStaleResponse("auth")
	return true
}

// invalidate abandons the in-flight call. Must be called with the lock held.
func (f *Flow) invalidate() {
	f.epoch++
	f.inFlight = false
}

func (f *Flow) fire(event string) {
	// Transitions are driven under f.mu; the machine only mirrors the state.
	if err := f.machine.Event(context.Background(), event); err != nil {
		f.logger.Error("auth state machine rejected event", zap.String("event", event), zap.Error(err))
	}
}

func outcome(err error) string {
	if err != nil {
		return "provider_error"
	}
	return "success"
}

func asProviderError(msg string, err error) error {
	if model.IsCode(err, model.ErrProviderError) {
		return err
	}
	return model.NewProviderError(msg, err)
}
