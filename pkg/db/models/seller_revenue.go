package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noretmy/escrow-backend/pkg/enums"
)

// SellerRevenue holds a seller's running balances. Total always equals
// Pending + Available + Withdrawn.
type SellerRevenue struct {
	SellerID  uuid.UUID       `gorm:"column:seller_id;type:uuid;primaryKey"`
	Total     decimal.Decimal `gorm:"column:total;type:numeric(12,2);not null"`
	Pending   decimal.Decimal `gorm:"column:pending;type:numeric(12,2);not null"`
	Available decimal.Decimal `gorm:"column:available;type:numeric(12,2);not null"`
	Withdrawn decimal.Decimal `gorm:"column:withdrawn;type:numeric(12,2);not null"`
	Currency  enums.Currency  `gorm:"column:currency;type:text;not null"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// RevenueEntry is the append-only journal row written for every balance movement.
type RevenueEntry struct {
	ID        uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	SellerID  uuid.UUID              `gorm:"column:seller_id;type:uuid;not null"`
	OrderID   *uuid.UUID             `gorm:"column:order_id;type:uuid"`
	EntryType enums.RevenueEntryType `gorm:"column:entry_type;type:text;not null"`
	Amount    decimal.Decimal        `gorm:"column:amount;type:numeric(12,2);not null"`
	Reference string                 `gorm:"column:reference;type:text;not null"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime"`
}
