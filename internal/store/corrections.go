package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/template-mapper/internal/mapping"
)

// CorrectionStore remembers user overrides per template in a Redis hash, so
// the next session over the same template starts from the user's past
// decisions instead of re-proposing matches they already rejected.
type CorrectionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCorrectionStore(client *redis.Client, ttl time.Duration) *CorrectionStore {
	return &CorrectionStore{client: client, ttl: ttl}
}

func correctionKey(templateGUID string) string {
	return "mapper:corr:" + templateGUID
}

// Save records one override for a template.
func (s *CorrectionStore) Save(ctx context.Context, templateGUID, targetKey, sourceKey string) error {
	key := correctionKey(templateGUID)
	if err := s.client.HSet(ctx, key, targetKey, sourceKey).Err(); err != nil {
		return fmt.Errorf("save correction: %w", err)
	}
	if s.ttl > 0 {
		s.client.Expire(ctx, key, s.ttl)
	}
	return nil
}

// All returns every remembered override for a template.
func (s *CorrectionStore) All(ctx context.Context, templateGUID string) (map[string]string, error) {
	out, err := s.client.HGetAll(ctx, correctionKey(templateGUID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load corrections: %w", err)
	}
	return out, nil
}

// Forget drops all remembered overrides for a template.
func (s *CorrectionStore) Forget(ctx context.Context, templateGUID string) error {
	if err := s.client.Del(ctx, correctionKey(templateGUID)).Err(); err != nil {
		return fmt.Errorf("forget corrections: %w", err)
	}
	return nil
}

// Replay applies every remembered override to a fresh session as
// origin=user suggestions, before any layer runs.
func (s *CorrectionStore) Replay(ctx context.Context, templateGUID string, sess *mapping.Session) error {
	overrides, err := s.All(ctx, templateGUID)
	if err != nil {
		return err
	}
	for target, source := range overrides {
		sess.ApplyOverride(target, source)
	}
	return nil
}
