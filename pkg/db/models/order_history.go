package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/noretmy/escrow-backend/pkg/enums"
)

// StatusHistoryEntry is an append-only record of one order transition.
type StatusHistoryEntry struct {
	ID         uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	OrderID    uuid.UUID          `gorm:"column:order_id;type:uuid;not null"`
	FromStatus enums.OrderStatus  `gorm:"column:from_status;type:text;not null"`
	ToStatus   enums.OrderStatus  `gorm:"column:to_status;type:text;not null"`
	Trigger    enums.OrderTrigger `gorm:"column:trigger;type:text;not null"`
	ActorRole  enums.ActorRole    `gorm:"column:actor_role;type:text;not null"`
	ActorID    *uuid.UUID         `gorm:"column:actor_id;type:uuid"`
	CreatedAt  time.Time          `gorm:"column:created_at;autoCreateTime"`
}

func (StatusHistoryEntry) TableName() string { return "order_status_history" }

// TimelineEntry is a human readable event shown on the order page.
type TimelineEntry struct {
	ID          uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	OrderID     uuid.UUID      `gorm:"column:order_id;type:uuid;not null"`
	Event       string         `gorm:"column:event;type:text;not null"`
	Message     string         `gorm:"column:message;type:text;not null"`
	Attachments pq.StringArray `gorm:"column:attachments;type:text[]"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime"`
}

func (TimelineEntry) TableName() string { return "order_timeline" }
