package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pitabwire/sarvekshan/model"
)

// DevProvider is a local Provider for development and demos. Every phone
// number receives the same configured code and verification issues an HS256
// session token signed with a local secret.
type DevProvider struct {
	code   string
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	pending map[string]bool
}

// NewDevProvider creates a development provider accepting code.
func NewDevProvider(code string, secret []byte, ttl time.Duration) *DevProvider {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &DevProvider{
		code:    code,
		secret:  secret,
		ttl:     ttl,
		now:     time.Now,
		pending: make(map[string]bool),
	}
}

// SendOTP implements Provider. It only records that a code is outstanding.
func (p *DevProvider) SendOTP(_ context.Context, phone string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[phone] = true
	return nil
}

// VerifyOTP implements Provider.
func (p *DevProvider) VerifyOTP(_ context.Context, phone, code string) (Session, error) {
	p.mu.Lock()
	outstanding := p.pending[phone]
	p.mu.Unlock()

	if !outstanding {
		return Session{}, model.NewProviderError("no code was sent to this number", errors.New("identity: no pending otp"))
	}
	if code != p.code {
		return Session{}, model.NewProviderError("the code is incorrect", errors.New("identity: otp mismatch"))
	}

	now := p.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   phone,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return Session{}, model.NewInternalError(fmt.Errorf("identity: signing session token: %w", err))
	}

	p.mu.Lock()
	delete(p.pending, phone)
	p.mu.Unlock()

	return Session{
		Phone:     phone,
		Subject:   phone,
		Token:     token,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
