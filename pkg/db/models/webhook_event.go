package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/noretmy/escrow-backend/pkg/enums"
)

// WebhookEvent is the durable record of a provider event delivery. Failed rows
// double as the dead-letter store for replay.
type WebhookEvent struct {
	ID              uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	Provider        string                   `gorm:"column:provider;type:text;not null"`
	ProviderEventID string                   `gorm:"column:provider_event_id;type:text;not null"`
	EventType       string                   `gorm:"column:event_type;type:text;not null"`
	Payload         json.RawMessage          `gorm:"column:payload;type:jsonb;not null"`
	Status          enums.WebhookEventStatus `gorm:"column:status;type:text;not null"`
	Attempts        int                      `gorm:"column:attempts;not null;default:0"`
	ProcessingError *string                  `gorm:"column:processing_error;type:text"`
	ReceivedAt      time.Time                `gorm:"column:received_at;not null"`
	ProcessedAt     *time.Time               `gorm:"column:processed_at"`
}
