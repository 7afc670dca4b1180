package milestones

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/noretmy/escrow-backend/pkg/db"
	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
)

// Repository persists immutable payment milestone rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, milestone *models.PaymentMilestone) error
	FindCaptured(ctx context.Context, orderID uuid.UUID, stage enums.MilestoneStage) (*models.PaymentMilestone, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentMilestone, error)
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

// Insert writes a milestone. A second captured or refunded row for the same
// (order, stage) violates the partial unique index and returns a DUPLICATE_EVENT error.
func (r *repository) Insert(ctx context.Context, milestone *models.PaymentMilestone) error {
	if milestone.ID == uuid.Nil {
		milestone.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(milestone).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeDuplicateEvent, err, "milestone already recorded").
				WithDetails(map[string]any{"stage": milestone.Stage, "status": milestone.PaymentStatus})
		}
		return err
	}
	return nil
}

// FindCaptured returns the captured row for the stage, or nil when the stage is not captured.
func (r *repository) FindCaptured(ctx context.Context, orderID uuid.UUID, stage enums.MilestoneStage) (*models.PaymentMilestone, error) {
	var row models.PaymentMilestone
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND stage = ? AND payment_status = ?", orderID, stage, enums.MilestoneStatusCaptured).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentMilestone, error) {
	var rows []models.PaymentMilestone
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
