package revenue

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
)

// Delta is a signed change to each balance bucket of a seller.
type Delta struct {
	Total     decimal.Decimal
	Pending   decimal.Decimal
	Available decimal.Decimal
	Withdrawn decimal.Decimal
}

// Repository persists seller balances and their journal.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Ensure(ctx context.Context, sellerID uuid.UUID, currency enums.Currency) error
	Adjust(ctx context.Context, sellerID uuid.UUID, delta Delta) (bool, error)
	Get(ctx context.Context, sellerID uuid.UUID) (*models.SellerRevenue, error)
	EntryExists(ctx context.Context, reference string) (bool, error)
	InsertEntry(ctx context.Context, entry *models.RevenueEntry) error
	ListEntries(ctx context.Context, sellerID uuid.UUID) ([]models.RevenueEntry, error)
	ListSellerIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Ensure creates the zero balance row for a seller if it does not exist yet.
func (r *repository) Ensure(ctx context.Context, sellerID uuid.UUID, currency enums.Currency) error {
	row := &models.SellerRevenue{
		SellerID:  sellerID,
		Total:     decimal.Zero,
		Pending:   decimal.Zero,
		Available: decimal.Zero,
		Withdrawn: decimal.Zero,
		Currency:  currency,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "seller_id"}}, DoNothing: true}).
		Create(row).Error
}

// Adjust applies delta with one atomic UPDATE. Every bucket that decreases is
// guarded so it cannot go negative; false means a guard rejected the update.
func (r *repository) Adjust(ctx context.Context, sellerID uuid.UUID, delta Delta) (bool, error) {
	q := r.db.WithContext(ctx).Model(&models.SellerRevenue{}).Where("seller_id = ?", sellerID)
	updates := map[string]any{}
	for _, bucket := range []struct {
		column string
		amount decimal.Decimal
	}{
		{"total", delta.Total},
		{"pending", delta.Pending},
		{"available", delta.Available},
		{"withdrawn", delta.Withdrawn},
	} {
		switch {
		case bucket.amount.IsPositive():
			updates[bucket.column] = gorm.Expr(bucket.column+" + ?", bucket.amount)
		case bucket.amount.IsNegative():
			abs := bucket.amount.Abs()
			updates[bucket.column] = gorm.Expr(bucket.column+" - ?", abs)
			q = q.Where(bucket.column+" >= ?", abs)
		}
	}
	if len(updates) == 0 {
		return true, nil
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Get(ctx context.Context, sellerID uuid.UUID) (*models.SellerRevenue, error) {
	var row models.SellerRevenue
	err := r.db.WithContext(ctx).Where("seller_id = ?", sellerID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) EntryExists(ctx context.Context, reference string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.RevenueEntry{}).
		Where("reference = ?", reference).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) InsertEntry(ctx context.Context, entry *models.RevenueEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListEntries(ctx context.Context, sellerID uuid.UUID) ([]models.RevenueEntry, error) {
	var rows []models.RevenueEntry
	if err := r.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListSellerIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	q := r.db.WithContext(ctx).Model(&models.SellerRevenue{}).Order("seller_id ASC").Limit(limit)
	if after != uuid.Nil {
		q = q.Where("seller_id > ?", after)
	}
	var ids []uuid.UUID
	if err := q.Pluck("seller_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
