package stripewebhook

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
)

// Provider is the provider column of events received on this endpoint.
const Provider = "stripe"

// Repository persists the durable record of every webhook delivery.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Record(ctx context.Context, event *models.WebhookEvent) (*models.WebhookEvent, bool, error)
	MarkResult(ctx context.Context, id uuid.UUID, status enums.WebhookEventStatus, processingErr *string, at time.Time) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error)
	ListByStatus(ctx context.Context, status enums.WebhookEventStatus, limit int) ([]models.WebhookEvent, error)
	DeleteSettledBefore(ctx context.Context, cutoff time.Time) (int64, error)
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

// Record inserts the delivery once per (provider, provider_event_id). It
// returns the stored row and whether this call created it.
func (r *repository) Record(ctx context.Context, event *models.WebhookEvent) (*models.WebhookEvent, bool, error) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = enums.WebhookEventReceived
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return event, true, nil
	}

	var existing models.WebhookEvent
	if err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		Take(&existing).Error; err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

// MarkResult stores the outcome of one processing attempt.
func (r *repository) MarkResult(ctx context.Context, id uuid.UUID, status enums.WebhookEventStatus, processingErr *string, at time.Time) error {
	updates := map[string]any{
		"status":           status,
		"attempts":         gorm.Expr("attempts + 1"),
		"processing_error": processingErr,
	}
	if status != enums.WebhookEventFailed {
		updates["processed_at"] = at
	}
	res := r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "webhook event not found")
	}
	return nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	var row models.WebhookEvent
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "webhook event not found")
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListByStatus returns the oldest events in the status first.
func (r *repository) ListByStatus(ctx context.Context, status enums.WebhookEventStatus, limit int) ([]models.WebhookEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("received_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// DeleteSettledBefore prunes processed and ignored deliveries. Failed rows stay
// until they are replayed.
func (r *repository) DeleteSettledBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status IN ? AND processed_at < ?",
			[]enums.WebhookEventStatus{enums.WebhookEventProcessed, enums.WebhookEventIgnored}, cutoff).
		Delete(&models.WebhookEvent{})
	return res.RowsAffected, res.Error
}
