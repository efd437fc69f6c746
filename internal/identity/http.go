package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/sarvekshan/internal/observability"
	"github.com/pitabwire/sarvekshan/model"
)

// maxErrorBody bounds how much of a failed response is read for its message.
const maxErrorBody = 4096

// HTTPProvider is a Provider backed by a JSON HTTP API:
//
//	POST {base}/otp/send    {"phone"}         -> 2xx
//	POST {base}/otp/verify  {"phone","code"}  -> 2xx {"token"}
//
// Server errors and transport failures count against a circuit breaker;
// client errors (4xx) do not.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	breaker *CircuitBreaker
	metrics *observability.Metrics
	logger  *zap.Logger
}

// HTTPOption configures an HTTPProvider.
type HTTPOption func(*HTTPProvider)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(p *HTTPProvider) { p.client = c }
}

// WithBreaker guards provider calls with cb.
func WithBreaker(cb *CircuitBreaker) HTTPOption {
	return func(p *HTTPProvider) { p.breaker = cb }
}

// WithProviderMetrics publishes the breaker state.
func WithProviderMetrics(m *observability.Metrics) HTTPOption {
	return func(p *HTTPProvider) { p.metrics = m }
}

// WithProviderLogger sets the logger.
func WithProviderLogger(l *zap.Logger) HTTPOption {
	return func(p *HTTPProvider) { p.logger = l }
}

// NewHTTPProvider creates a provider for the API rooted at baseURL.
func NewHTTPProvider(baseURL string, timeout time.Duration, opts ...HTTPOption) *HTTPProvider {
	p := &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		breaker: NewCircuitBreaker(5, 2, 30*time.Second),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics != nil {
		m := p.metrics
		p.breaker.OnStateChange(func(s BreakerState) { m.SetProviderCircuitState(float64(s)) })
	}
	return p
}

type sendRequest struct {
	Phone string `json:"phone"`
}

type verifyRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

type verifyResponse struct {
	Token string `json:"token"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// SendOTP implements Provider.
func (p *HTTPProvider) SendOTP(ctx context.Context, phone string) error {
	return p.call(ctx, "send_otp", "/otp/send", sendRequest{Phone: phone}, nil)
}

// VerifyOTP implements Provider.
func (p *HTTPProvider) VerifyOTP(ctx context.Context, phone, code string) (Session, error) {
	var resp verifyResponse
	if err := p.call(ctx, "verify_otp", "/otp/verify", verifyRequest{Phone: phone, Code: code}, &resp); err != nil {
		return Session{}, err
	}
	s, err := ParseSessionToken(phone, resp.Token, nil)
	if err != nil {
		return Session{}, model.NewProviderError("identity provider returned an unusable session token", err)
	}
	return s, nil
}

func (p *HTTPProvider) call(ctx context.Context, op, path string, in, out any) (err error) {
	ctx, span := observability.StartSpan(ctx, "identity."+op, observability.AttrOperation.String(op))
	defer func() { observability.EndSpanWithError(span, err) }()

	if err := p.breaker.Allow(); err != nil {
		p.logger.Warn("identity provider call rejected", zap.String("operation", op), zap.Error(err))
		return model.NewProviderError("identity provider is temporarily unavailable", err)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return model.NewInternalError(fmt.Errorf("identity: encoding %s request: %w", op, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return model.NewInternalError(fmt.Errorf("identity: building %s request: %w", op, err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	observability.InjectTraceHeaders(ctx, req.Header)

	resp, err := p.client.Do(req)
	if err != nil {
		p.breaker.RecordFailure()
		return model.NewProviderError("identity provider is unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg := readErrorMessage(resp.Body)
		if resp.StatusCode >= 500 {
			p.breaker.RecordFailure()
		} else {
			p.breaker.RecordSuccess()
		}
		if msg == "" {
			msg = fmt.Sprintf("identity provider rejected the request (%d)", resp.StatusCode)
		}
		return model.NewProviderError(msg, fmt.Errorf("identity: %s: status %d", op, resp.StatusCode))
	}

	p.breaker.RecordSuccess()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return model.NewProviderError("identity provider returned a malformed response", err)
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}
	var e errorResponse
	if json.Unmarshal(data, &e) == nil {
		return e.Message
	}
	return ""
}
