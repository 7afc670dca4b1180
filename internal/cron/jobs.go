package cron

import (
	"context"

	"gorm.io/gorm"

	"github.com/noretmy/escrow-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// alertEmitter writes one alert per aggregate; repeated runs over the same
// broken row do not flood the alert topic.
type alertEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type integrityMetrics interface {
	IncIntegrityViolation(check string)
}
