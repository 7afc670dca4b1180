package gateway

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/noretmy/escrow-backend/pkg/enums"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
)

const (
	metaPurpose   = "purpose"
	metaOrderID   = "order_id"
	metaBuyerID   = "buyer_id"
	metaSellerID  = "seller_id"
	metaGigID     = "gig_id"
	metaPlan      = "plan"
	metaExtraDays = "extra_days"
)

// PurposeMetadata is the closed set of payloads attached to provider payment intents.
type PurposeMetadata interface {
	Purpose() enums.PaymentPurpose
	Values() map[string]string
}

// OrderPaymentMetadata marks the escrowed authorization of a gig order.
type OrderPaymentMetadata struct {
	OrderID  uuid.UUID
	BuyerID  uuid.UUID
	SellerID uuid.UUID
	GigID    uuid.UUID
}

func (OrderPaymentMetadata) Purpose() enums.PaymentPurpose { return enums.PaymentPurposeOrder }

func (m OrderPaymentMetadata) Values() map[string]string {
	return map[string]string{
		metaPurpose:  string(m.Purpose()),
		metaOrderID:  m.OrderID.String(),
		metaBuyerID:  m.BuyerID.String(),
		metaSellerID: m.SellerID.String(),
		metaGigID:    m.GigID.String(),
	}
}

// PromotionMetadata marks a seller paying to promote a gig.
type PromotionMetadata struct {
	GigID    uuid.UUID
	SellerID uuid.UUID
	Plan     string
}

func (PromotionMetadata) Purpose() enums.PaymentPurpose { return enums.PaymentPurposePromotion }

func (m PromotionMetadata) Values() map[string]string {
	return map[string]string{
		metaPurpose:  string(m.Purpose()),
		metaGigID:    m.GigID.String(),
		metaSellerID: m.SellerID.String(),
		metaPlan:     m.Plan,
	}
}

// TimelineExtensionMetadata marks a buyer paying to extend an order's delivery deadline.
type TimelineExtensionMetadata struct {
	OrderID   uuid.UUID
	ExtraDays int
}

func (TimelineExtensionMetadata) Purpose() enums.PaymentPurpose {
	return enums.PaymentPurposeTimelineExtension
}

func (m TimelineExtensionMetadata) Values() map[string]string {
	return map[string]string{
		metaPurpose:   string(m.Purpose()),
		metaOrderID:   m.OrderID.String(),
		metaExtraDays: strconv.Itoa(m.ExtraDays),
	}
}

// ParseMetadata rebuilds the typed metadata of a payment intent. Intents
// without a purpose key predate typed metadata and are read as order payments.
func ParseMetadata(values map[string]string) (PurposeMetadata, error) {
	raw := strings.TrimSpace(values[metaPurpose])
	purpose := enums.PaymentPurposeOrder
	if raw != "" {
		parsed, err := enums.ParsePaymentPurpose(raw)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown payment purpose")
		}
		purpose = parsed
	}

	switch purpose {
	case enums.PaymentPurposeOrder:
		orderID, err := requireUUID(values, metaOrderID)
		if err != nil {
			return nil, err
		}
		meta := OrderPaymentMetadata{OrderID: orderID}
		meta.BuyerID, _ = optionalUUID(values, metaBuyerID)
		meta.SellerID, _ = optionalUUID(values, metaSellerID)
		meta.GigID, _ = optionalUUID(values, metaGigID)
		return meta, nil
	case enums.PaymentPurposePromotion:
		gigID, err := requireUUID(values, metaGigID)
		if err != nil {
			return nil, err
		}
		sellerID, err := requireUUID(values, metaSellerID)
		if err != nil {
			return nil, err
		}
		plan := strings.TrimSpace(values[metaPlan])
		if plan == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "promotion metadata missing plan")
		}
		return PromotionMetadata{GigID: gigID, SellerID: sellerID, Plan: plan}, nil
	case enums.PaymentPurposeTimelineExtension:
		orderID, err := requireUUID(values, metaOrderID)
		if err != nil {
			return nil, err
		}
		days, err := strconv.Atoi(strings.TrimSpace(values[metaExtraDays]))
		if err != nil || days <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "timeline extension metadata requires positive extra_days")
		}
		return TimelineExtensionMetadata{OrderID: orderID, ExtraDays: days}, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported payment purpose %q", purpose))
	}
}

func requireUUID(values map[string]string, key string) (uuid.UUID, error) {
	id, err := optionalUUID(values, key)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("metadata %s must be a uuid", key))
	}
	return id, nil
}

func optionalUUID(values map[string]string, key string) (uuid.UUID, error) {
	raw := strings.TrimSpace(values[key])
	if raw == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(raw)
}
