package revenue

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/noretmy/escrow-backend/pkg/db/models"
	"github.com/noretmy/escrow-backend/pkg/enums"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
)

// Movement is one balance change requested by the escrow engine or a payout webhook.
type Movement struct {
	SellerID  uuid.UUID
	OrderID   *uuid.UUID
	Type      enums.RevenueEntryType
	Amount    decimal.Decimal
	Currency  enums.Currency
	Reference string
}

// Balance is the seller-facing view of a revenue row.
type Balance struct {
	SellerID  uuid.UUID       `json:"seller_id"`
	Total     decimal.Decimal `json:"total"`
	Pending   decimal.Decimal `json:"pending"`
	Available decimal.Decimal `json:"available"`
	Withdrawn decimal.Decimal `json:"withdrawn"`
	Currency  enums.Currency  `json:"currency"`
}

// Ledger is the only writer of seller balances.
type Ledger interface {
	WithTx(tx *gorm.DB) Ledger
	Apply(ctx context.Context, m Movement) (bool, error)
	Get(ctx context.Context, sellerID uuid.UUID) (*Balance, error)
	Verify(ctx context.Context, sellerID uuid.UUID) error
	ListSellerIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

type ledger struct {
	repo            Repository
	defaultCurrency enums.Currency
}

func NewLedger(repo Repository, defaultCurrency enums.Currency) (Ledger, error) {
	if repo == nil {
		return nil, fmt.Errorf("revenue repository required")
	}
	if defaultCurrency == "" {
		defaultCurrency = enums.CurrencyUSD
	}
	return &ledger{repo: repo, defaultCurrency: defaultCurrency}, nil
}

func (l *ledger) WithTx(tx *gorm.DB) Ledger {
	return &ledger{repo: l.repo.WithTx(tx), defaultCurrency: l.defaultCurrency}
}

func CaptureReference(orderID uuid.UUID, stage enums.MilestoneStage) string {
	return fmt.Sprintf("capture:%s:%s", orderID, stage)
}

func RefundReference(orderID uuid.UUID, stage enums.MilestoneStage) string {
	return fmt.Sprintf("refund:%s:%s", orderID, stage)
}

func ReleaseReference(orderID uuid.UUID) string {
	return fmt.Sprintf("release:%s", orderID)
}

func PayoutReference(payoutID string) string {
	return fmt.Sprintf("payout:%s", payoutID)
}

// DeltaFor maps a movement type onto the balance buckets it touches.
func DeltaFor(entryType enums.RevenueEntryType, amount decimal.Decimal) (Delta, error) {
	switch entryType {
	case enums.RevenueEntryMilestoneCaptured:
		return Delta{Total: amount, Pending: amount}, nil
	case enums.RevenueEntryEscrowReleased:
		return Delta{Pending: amount.Neg(), Available: amount}, nil
	case enums.RevenueEntryMilestoneRefunded:
		return Delta{Total: amount.Neg(), Pending: amount.Neg()}, nil
	case enums.RevenueEntryWithdrawal:
		return Delta{Available: amount.Neg(), Withdrawn: amount}, nil
	default:
		return Delta{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown revenue entry type %q", entryType))
	}
}

// Apply records the movement once per reference. It returns false without
// touching balances when the reference was already journaled.
func (l *ledger) Apply(ctx context.Context, m Movement) (bool, error) {
	if m.SellerID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	}
	if strings.TrimSpace(m.Reference) == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "revenue reference required")
	}
	if m.Amount.IsNegative() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "revenue amount must not be negative")
	}
	delta, err := DeltaFor(m.Type, m.Amount)
	if err != nil {
		return false, err
	}

	exists, err := l.repo.EntryExists(ctx, m.Reference)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	currency := m.Currency
	if currency == "" {
		currency = l.defaultCurrency
	}
	if err := l.repo.Ensure(ctx, m.SellerID, currency); err != nil {
		return false, err
	}
	if !m.Amount.IsZero() {
		ok, err := l.repo.Adjust(ctx, m.SellerID, delta)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, pkgerrors.New(pkgerrors.CodeIntegrity, "seller balance would go negative").
				WithDetails(map[string]any{
					"seller_id": m.SellerID.String(),
					"type":      m.Type,
					"amount":    m.Amount.String(),
					"reference": m.Reference,
				})
		}
	}

	entry := &models.RevenueEntry{
		ID:        uuid.New(),
		SellerID:  m.SellerID,
		OrderID:   m.OrderID,
		EntryType: m.Type,
		Amount:    m.Amount,
		Reference: m.Reference,
	}
	if err := l.repo.InsertEntry(ctx, entry); err != nil {
		return false, err
	}
	return true, nil
}

func (l *ledger) Get(ctx context.Context, sellerID uuid.UUID) (*Balance, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	}
	row, err := l.repo.Get(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return &Balance{
			SellerID:  sellerID,
			Total:     decimal.Zero,
			Pending:   decimal.Zero,
			Available: decimal.Zero,
			Withdrawn: decimal.Zero,
			Currency:  l.defaultCurrency,
		}, nil
	}
	return &Balance{
		SellerID:  row.SellerID,
		Total:     row.Total,
		Pending:   row.Pending,
		Available: row.Available,
		Withdrawn: row.Withdrawn,
		Currency:  row.Currency,
	}, nil
}

// Verify checks total == pending + available + withdrawn and that each bucket
// matches the journal. A mismatch is an INTEGRITY_VIOLATION carrying the rule and drift.
func (l *ledger) Verify(ctx context.Context, sellerID uuid.UUID) error {
	row, err := l.repo.Get(ctx, sellerID)
	if err != nil {
		return err
	}
	if row == nil {
		return nil
	}

	sum := row.Pending.Add(row.Available).Add(row.Withdrawn)
	if !sum.Equal(row.Total) {
		return violation(sellerID, "conservation", row.Total.Sub(sum))
	}

	entries, err := l.repo.ListEntries(ctx, sellerID)
	if err != nil {
		return err
	}
	totals := map[enums.RevenueEntryType]decimal.Decimal{}
	for _, e := range entries {
		totals[e.EntryType] = totals[e.EntryType].Add(e.Amount)
	}
	captured := totals[enums.RevenueEntryMilestoneCaptured]
	released := totals[enums.RevenueEntryEscrowReleased]
	refunded := totals[enums.RevenueEntryMilestoneRefunded]
	withdrawn := totals[enums.RevenueEntryWithdrawal]

	checks := []struct {
		rule     string
		got      decimal.Decimal
		expected decimal.Decimal
	}{
		{"journal_total", row.Total, captured.Sub(refunded)},
		{"journal_pending", row.Pending, captured.Sub(released).Sub(refunded)},
		{"journal_available", row.Available, released.Sub(withdrawn)},
		{"journal_withdrawn", row.Withdrawn, withdrawn},
	}
	for _, c := range checks {
		if !c.got.Equal(c.expected) {
			return violation(sellerID, c.rule, c.got.Sub(c.expected))
		}
	}
	return nil
}

func (l *ledger) ListSellerIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	return l.repo.ListSellerIDs(ctx, after, limit)
}

func violation(sellerID uuid.UUID, rule string, drift decimal.Decimal) error {
	return pkgerrors.New(pkgerrors.CodeIntegrity, "seller revenue ledger out of balance").
		WithDetails(map[string]any{
			"seller_id": sellerID.String(),
			"rule":      rule,
			"drift":     drift.String(),
		})
}
