package response

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/sarvekshan/model"
)

// DraftKeyPrefix prefixes the Redis key of every draft snapshot.
const DraftKeyPrefix = "sarvekshan:draft:"

// RedisDraftStore is a Redis-backed DraftStore. Snapshots expire after the
// configured TTL; a zero TTL keeps them until deleted.
type RedisDraftStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisDraftStore creates a new Redis-backed draft store.
func NewRedisDraftStore(client redis.Cmdable, ttl time.Duration) *RedisDraftStore {
	return &RedisDraftStore{client: client, ttl: ttl}
}

// LoadDraft returns the saved snapshot for surveyID, or nil.
func (s *RedisDraftStore) LoadDraft(ctx context.Context, surveyID string) (*model.DraftSnapshot, error) {
	key := DraftKeyPrefix + surveyID
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}

	var snap model.DraftSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal draft %q: %w", key, err)
	}
	return &snap, nil
}

// SaveDraft stores snap, resetting its expiry.
func (s *RedisDraftStore) SaveDraft(ctx context.Context, snap model.DraftSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	key := DraftKeyPrefix + snap.SurveyID
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// DeleteDraft removes the snapshot for surveyID.
func (s *RedisDraftStore) DeleteDraft(ctx context.Context, surveyID string) error {
	key := DraftKeyPrefix + surveyID
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *RedisDraftStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
