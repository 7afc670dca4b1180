package collaborators

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/noretmy/escrow-backend/pkg/db/models"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
)

// directory reads the users and gigs tables replicated from the identity and catalog services.
type directory struct {
	db *gorm.DB
}

func NewDirectory(db *gorm.DB) Directory {
	return &directory{db: db}
}

func (d *directory) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var row models.User
	if err := d.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, notFound(err, "user not found")
	}
	return &User{ID: row.ID, Email: row.Email, Role: row.Role, Name: row.Name}, nil
}

func (d *directory) GetGig(ctx context.Context, id uuid.UUID) (*Gig, error) {
	var row models.Gig
	if err := d.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, notFound(err, "gig not found")
	}
	return &Gig{
		ID:           row.ID,
		Title:        row.Title,
		SellerID:     row.SellerID,
		Price:        row.Price,
		Currency:     row.Currency,
		DeliveryDays: row.DeliveryDays,
	}, nil
}

type vatRates struct {
	db *gorm.DB
}

func NewVATRates(db *gorm.DB) VATRates {
	return &vatRates{db: db}
}

// GetVatRate resolves the buyer's country to its rate. Buyers without a
// country, or in a country without a configured rate, pay no VAT.
func (v *vatRates) GetVatRate(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var user models.User
	if err := v.db.WithContext(ctx).Select("id", "country").Where("id = ?", userID).Take(&user).Error; err != nil {
		return decimal.Zero, notFound(err, "user not found")
	}
	if user.Country == nil || strings.TrimSpace(*user.Country) == "" {
		return decimal.Zero, nil
	}

	var rate models.VatRate
	err := v.db.WithContext(ctx).Where("country = ?", strings.ToUpper(strings.TrimSpace(*user.Country))).Take(&rate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load vat rate")
	}
	return rate.Rate, nil
}

func notFound(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, msg)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
