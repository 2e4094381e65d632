package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisRequestKeyPrefix = "checkout:request:"
	redisSessionKeyPrefix = "checkout:session:"
)

// DefaultRequestTTL bounds how long terminal checkout requests are kept for
// idempotent replay. Client retries arrive within minutes, not days.
const DefaultRequestTTL = 24 * time.Hour

// redisRequestStore keeps checkout requests in Redis so idempotency survives
// process restarts and is shared across instances. Token uniqueness is
// enforced with SETNX.
type redisRequestStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRequestStore returns a RequestStore backed by the given client.
// A non-positive ttl falls back to DefaultRequestTTL.
func NewRedisRequestStore(client *redis.Client, ttl time.Duration) RequestStore {
	if client == nil {
		panic("checkout: redis client is required")
	}
	if ttl <= 0 {
		ttl = DefaultRequestTTL
	}
	return &redisRequestStore{client: client, ttl: ttl}
}

func (s *redisRequestStore) get(ctx context.Context, key string) (*Request, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRequestNotFound
		}
		return nil, errors.Join(ErrFailedToSaveRequest, err)
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, errors.Join(ErrFailedToSaveRequest, err)
	}
	return &req, nil
}

func (s *redisRequestStore) put(ctx context.Context, req *Request) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return errors.Join(ErrFailedToSaveRequest, err)
	}
	if err := s.client.Set(ctx, redisRequestKeyPrefix+req.Token, raw, s.ttl).Err(); err != nil {
		return errors.Join(ErrFailedToSaveRequest, err)
	}
	return nil
}

func (s *redisRequestStore) Get(ctx context.Context, token string) (*Request, error) {
	return s.get(ctx, redisRequestKeyPrefix+token)
}

func (s *redisRequestStore) GetBySession(ctx context.Context, sessionRef string) (*Request, error) {
	token, err := s.client.Get(ctx, redisSessionKeyPrefix+sessionRef).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRequestNotFound
		}
		return nil, errors.Join(ErrFailedToSaveRequest, err)
	}
	return s.Get(ctx, token)
}

func (s *redisRequestStore) Create(ctx context.Context, req *Request) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return errors.Join(ErrFailedToSaveRequest, err)
	}

	ok, err := s.client.SetNX(ctx, redisRequestKeyPrefix+req.Token, raw, s.ttl).Result()
	if err != nil {
		return errors.Join(ErrFailedToSaveRequest, err)
	}
	if !ok {
		return ErrTokenConflict
	}

	if req.SessionRef != "" {
		if err := s.client.Set(ctx, redisSessionKeyPrefix+req.SessionRef, req.Token, s.ttl).Err(); err != nil {
			return errors.Join(ErrFailedToSaveRequest, err)
		}
	}
	return nil
}

func (s *redisRequestStore) SetSession(ctx context.Context, token, sessionRef string) error {
	req, err := s.Get(ctx, token)
	if err != nil {
		return err
	}
	req.SessionRef = sessionRef

	if err := s.put(ctx, req); err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisSessionKeyPrefix+sessionRef, token, s.ttl).Err(); err != nil {
		return errors.Join(ErrFailedToSaveRequest, err)
	}
	return nil
}

func (s *redisRequestStore) Complete(ctx context.Context, token string, status Status, reason string) (*Request, error) {
	key := redisRequestKeyPrefix + token

	var completed *Request
	// Watch guards against a webhook and the timeout watchdog completing
	// the same request at once; the first writer wins.
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrRequestNotFound
			}
			return err
		}

		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			return err
		}
		if req.Terminal() {
			return ErrRequestTerminal
		}

		now := time.Now().UTC()
		req.Status = status
		req.Reason = reason
		req.CompletedAt = &now

		next, err := json.Marshal(&req)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		completed = &req
		return nil
	}, key)
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) || errors.Is(err, ErrRequestTerminal) {
			return nil, err
		}
		return nil, errors.Join(ErrFailedToSaveRequest, err)
	}
	return completed, nil
}
