package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noretmy/escrow-backend/pkg/enums"
)

// User is the read model of marketplace accounts owned by the identity service.
type User struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Email     string    `gorm:"column:email;type:text;not null"`
	Name      string    `gorm:"column:name;type:text;not null"`
	Role      string    `gorm:"column:role;type:text;not null"`
	Country   *string   `gorm:"column:country;type:text"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// Gig is the read model of a seller's service listing.
type Gig struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	SellerID     uuid.UUID       `gorm:"column:seller_id;type:uuid;not null"`
	Title        string          `gorm:"column:title;type:text;not null"`
	Price        decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	Currency     enums.Currency  `gorm:"column:currency;type:text;not null"`
	DeliveryDays int             `gorm:"column:delivery_days;not null"`
	CreatedAt    time.Time       `gorm:"column:created_at"`
}

// VatRate maps a country to its VAT rate expressed as a fraction.
type VatRate struct {
	Country   string          `gorm:"column:country;type:text;primaryKey"`
	Rate      decimal.Decimal `gorm:"column:rate;type:numeric(6,4);not null"`
	UpdatedAt time.Time       `gorm:"column:updated_at"`
}
