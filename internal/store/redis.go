package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/dexarb/dexarb-go/internal/config"
	"github.com/dexarb/dexarb-go/internal/risk"
)

// NewRedisClient connects a redis client from config and verifies it.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig, logger *logrus.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	logger.WithField("addr", client.Options().Addr).Info("Connected to Redis")
	return client, nil
}

const riskStateKey = "dexarb:risk:state"

// RiskStateStore checkpoints risk state in redis so loss ledgers and
// breaker counters survive a restart within the same accounting period.
type RiskStateStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRiskStateStore(client *redis.Client) *RiskStateStore {
	// state older than two days can never belong to a live period
	return &RiskStateStore{client: client, ttl: 48 * time.Hour}
}

func (s *RiskStateStore) SaveRiskState(ctx context.Context, st risk.PersistedState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding risk state: %w", err)
	}
	if err := s.client.Set(ctx, riskStateKey, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("writing risk state: %w", err)
	}
	return nil
}

func (s *RiskStateStore) LoadRiskState(ctx context.Context) (*risk.PersistedState, bool, error) {
	data, err := s.client.Get(ctx, riskStateKey).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading risk state: %w", err)
	}
	var st risk.PersistedState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, false, fmt.Errorf("decoding risk state: %w", err)
	}
	return &st, true, nil
}

var _ risk.StateStore = (*RiskStateStore)(nil)

// InstanceLock is a redis SETNX lease that keeps a second engine instance
// from trading against the same books.
type InstanceLock struct {
	client *redis.Client
	key    string
	id     string
	ttl    time.Duration
	logger *logrus.Logger
}

func NewInstanceLock(client *redis.Client, id string, ttl time.Duration, logger *logrus.Logger) *InstanceLock {
	return &InstanceLock{
		client: client,
		key:    "dexarb:engine:lock",
		id:     id,
		ttl:    ttl,
		logger: logger,
	}
}

// Acquire takes the lease. false means another instance holds it.
func (l *InstanceLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.id, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring instance lock: %w", err)
	}
	return ok, nil
}

// Refresh extends the lease while we still hold it.
func (l *InstanceLock) Refresh(ctx context.Context) error {
	held, err := l.client.Get(ctx, l.key).Result()
	if err != nil {
		return fmt.Errorf("checking instance lock: %w", err)
	}
	if held != l.id {
		return fmt.Errorf("instance lock held by %s", held)
	}
	return l.client.Expire(ctx, l.key, l.ttl).Err()
}

// Release drops the lease if we still hold it.
func (l *InstanceLock) Release(ctx context.Context) {
	held, err := l.client.Get(ctx, l.key).Result()
	if err != nil || held != l.id {
		return
	}
	if err := l.client.Del(ctx, l.key).Err(); err != nil {
		l.logger.WithError(err).Warn("Failed to release instance lock")
	}
}
