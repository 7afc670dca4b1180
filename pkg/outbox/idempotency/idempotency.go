// Package idempotency records which events a consumer has already handled.
//
// Marks live in Redis under nm:idempotency:evt:processed:<consumer>:<event_id>
// and hold the time the event was first claimed.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/noretmy/escrow-backend/pkg/redis"
)

const markScope = "evt:processed:"

var (
	ErrConsumerRequired = errors.New("idempotency: consumer name is required")
	ErrEventIDRequired  = errors.New("idempotency: event id is required")
)

type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	now   func() time.Time
}

// NewManager keeps marks for ttl; zero keeps them until deleted.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl, now: time.Now}, nil
}

// CheckAndMarkProcessed claims eventID for consumer. It reports true when an
// earlier delivery already holds the claim.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	claimed, err := m.store.SetNX(ctx, key, m.now().UTC().Format(time.RFC3339Nano), m.ttl)
	if err != nil {
		return false, err
	}
	return !claimed, nil
}

// ProcessedAt returns when eventID was first claimed. ok is false when there
// is no mark, or the mark predates timestamped values.
func (m *Manager) ProcessedAt(ctx context.Context, consumer, eventID string) (at time.Time, ok bool, err error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return time.Time{}, false, err
	}
	raw, err := m.store.Get(ctx, key)
	switch {
	case errors.Is(err, goredis.Nil):
		return time.Time{}, false, nil
	case err != nil:
		return time.Time{}, false, err
	}
	at, perr := time.Parse(time.RFC3339Nano, raw)
	if perr != nil {
		return time.Time{}, false, nil
	}
	return at, true, nil
}

// Delete forgets an event so a redelivery is processed again.
func (m *Manager) Delete(ctx context.Context, consumer, eventID string) error {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) key(consumer, eventID string) (string, error) {
	if consumer == "" {
		return "", ErrConsumerRequired
	}
	if eventID = strings.TrimSpace(eventID); eventID == "" {
		return "", ErrEventIDRequired
	}
	return m.store.IdempotencyKey(markScope+consumer, eventID), nil
}

// Scope binds a Manager to one consumer, e.g. a provider's webhook stream.
type Scope struct {
	m        *Manager
	consumer string
}

func (m *Manager) For(consumer string) Scope {
	return Scope{m: m, consumer: consumer}
}

func (s Scope) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	return s.m.CheckAndMarkProcessed(ctx, s.consumer, eventID)
}

func (s Scope) Delete(ctx context.Context, eventID string) error {
	return s.m.Delete(ctx, s.consumer, eventID)
}
