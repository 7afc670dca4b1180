package stripewebhook

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/db/sqlitetest"
	"github.com/noretmy/escrow-backend/pkg/enums"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
)

func recordEvent(t *testing.T, repo Repository, providerID string, receivedAt time.Time) *models.WebhookEvent {
	t.Helper()
	row, created, err := repo.Record(context.Background(), &models.WebhookEvent{
		Provider:        Provider,
		ProviderEventID: providerID,
		EventType:       "payment_intent.succeeded",
		Payload:         json.RawMessage(`{}`),
		ReceivedAt:      receivedAt,
	})
	require.NoError(t, err)
	require.True(t, created)
	return row
}

func TestRecordIsUniquePerProviderEvent(t *testing.T) {
	repo := NewRepository(sqlitetest.Open(t))
	ctx := context.Background()
	first := recordEvent(t, repo, "evt_1", time.Now().UTC())
	assert.Equal(t, enums.WebhookEventReceived, first.Status)

	again, created, err := repo.Record(ctx, &models.WebhookEvent{
		Provider:        Provider,
		ProviderEventID: "evt_1",
		EventType:       "payment_intent.succeeded",
		Payload:         json.RawMessage(`{}`),
		ReceivedAt:      time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
}

func TestMarkResultAndListByStatus(t *testing.T) {
	repo := NewRepository(sqlitetest.Open(t))
	ctx := context.Background()
	now := time.Now().UTC()
	failed := recordEvent(t, repo, "evt_failed", now.Add(-time.Minute))
	ok := recordEvent(t, repo, "evt_ok", now)

	msg := "CAPTURE_FAILED: declined"
	require.NoError(t, repo.MarkResult(ctx, failed.ID, enums.WebhookEventFailed, &msg, now))
	require.NoError(t, repo.MarkResult(ctx, ok.ID, enums.WebhookEventProcessed, nil, now))

	rows, err := repo.ListByStatus(ctx, enums.WebhookEventFailed, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, failed.ID, rows[0].ID)
	assert.Equal(t, 1, rows[0].Attempts)
	assert.Nil(t, rows[0].ProcessedAt)
	require.NotNil(t, rows[0].ProcessingError)
	assert.Equal(t, msg, *rows[0].ProcessingError)

	err = repo.MarkResult(ctx, uuid.New(), enums.WebhookEventProcessed, nil, now)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestDeleteSettledBeforeKeepsFailedRows(t *testing.T) {
	repo := NewRepository(sqlitetest.Open(t))
	ctx := context.Background()
	now := time.Now().UTC()
	old := now.Add(-100 * 24 * time.Hour)

	settled := recordEvent(t, repo, "evt_settled", old)
	require.NoError(t, repo.MarkResult(ctx, settled.ID, enums.WebhookEventProcessed, nil, old))
	failed := recordEvent(t, repo, "evt_failed", old)
	msg := "boom"
	require.NoError(t, repo.MarkResult(ctx, failed.ID, enums.WebhookEventFailed, &msg, old))
	recent := recordEvent(t, repo, "evt_recent", now)
	require.NoError(t, repo.MarkResult(ctx, recent.ID, enums.WebhookEventIgnored, nil, now))

	deleted, err := repo.DeleteSettledBefore(ctx, now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	_, err = repo.FindByID(ctx, settled.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	_, err = repo.FindByID(ctx, failed.ID)
	assert.NoError(t, err)
	_, err = repo.FindByID(ctx, recent.ID)
	assert.NoError(t, err)
}
