package collaborators

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/noretmy/escrow-backend/pkg/db/models"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
)

// tableNotifier writes in-app notifications straight into the shared notifications table.
type tableNotifier struct {
	db *gorm.DB
}

func NewNotifier(db *gorm.DB) Notifier {
	return &tableNotifier{db: db}
}

func (n *tableNotifier) CreateNotification(ctx context.Context, in Notification) error {
	if in.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification user required")
	}
	if !in.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid notification type")
	}
	row := &models.Notification{
		ID:      uuid.New(),
		UserID:  in.UserID,
		Type:    in.Type,
		Title:   in.Title,
		Message: in.Message,
	}
	if link := strings.TrimSpace(in.Link); link != "" {
		row.Link = &link
	}
	return n.db.WithContext(ctx).Create(row).Error
}
