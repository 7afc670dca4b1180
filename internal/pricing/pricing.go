package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/noretmy/escrow-backend/pkg/enums"
	pkgerrors "github.com/noretmy/escrow-backend/pkg/errors"
)

const moneyScale = 2

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Quote is the priced breakdown of one order.
type Quote struct {
	BaseAmount      decimal.Decimal `json:"base_amount"`
	PlatformFeeRate decimal.Decimal `json:"platform_fee_rate"`
	PlatformFee     decimal.Decimal `json:"platform_fee"`
	VATAmount       decimal.Decimal `json:"vat_amount"`
	VATRate         decimal.Decimal `json:"vat_rate"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	SellerNetPayout decimal.Decimal `json:"seller_net_payout"`
}

// Calculator prices gig orders with a fixed platform fee rate.
type Calculator struct {
	feeRate decimal.Decimal
}

func NewCalculator(platformFeeRate decimal.Decimal) (*Calculator, error) {
	if err := validateRate("platform fee rate", platformFeeRate); err != nil {
		return nil, err
	}
	return &Calculator{feeRate: platformFeeRate}, nil
}

func (c *Calculator) FeeRate() decimal.Decimal {
	return c.feeRate
}

// Quote prices base with the platform fee and the buyer's VAT rate. Every
// component is rounded half-up to cents; the total is the sum of the rounded parts.
func (c *Calculator) Quote(base, vatRate decimal.Decimal) (Quote, error) {
	if base.IsNegative() {
		return Quote{}, pkgerrors.New(pkgerrors.CodeValidation, "base amount must not be negative").
			WithDetails(map[string]any{"base_amount": base.String()})
	}
	if err := validateRate("vat rate", vatRate); err != nil {
		return Quote{}, err
	}

	base = Round(base)
	fee := Round(base.Mul(c.feeRate))
	vat := Round(base.Mul(vatRate))

	return Quote{
		BaseAmount:      base,
		PlatformFeeRate: c.feeRate,
		PlatformFee:     fee,
		VATAmount:       vat,
		VATRate:         vatRate,
		TotalAmount:     base.Add(fee).Add(vat),
		SellerNetPayout: Round(base.Mul(one.Sub(c.feeRate))),
	}, nil
}

// SellerShares is the seller's net-of-fee credit for each capture tranche.
func (q Quote) SellerShares() Split {
	return SellerShares(q.TotalAmount, q.PlatformFeeRate)
}

// SellerShares splits total x (1 - feeRate) 10/50/20/20, so each capture
// credits the seller its captured amount net of the platform fee. The review
// tranche takes the rounding remainder, as with the captures themselves.
func SellerShares(total, feeRate decimal.Decimal) Split {
	return SplitMilestones(total.Mul(one.Sub(feeRate)))
}

// Round rounds half-up to cents.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(moneyScale)
}

func validateRate(name string, rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThanOrEqual(one) {
		return pkgerrors.New(pkgerrors.CodeValidation, name+" must be within [0, 1)").
			WithDetails(map[string]any{"rate": rate.String()})
	}
	return nil
}

// Split is an amount divided across the four capture stages.
type Split struct {
	Accepted  decimal.Decimal `json:"accepted"`
	InEscrow  decimal.Decimal `json:"in_escrow"`
	Delivered decimal.Decimal `json:"delivered"`
	Reviewed  decimal.Decimal `json:"reviewed"`
}

// SplitMilestones divides amount 10/50/20/20. The review tranche absorbs the
// rounding remainder so the four parts always sum to the rounded input.
func SplitMilestones(amount decimal.Decimal) Split {
	amount = Round(amount)
	share := func(stage enums.MilestoneStage) decimal.Decimal {
		return Round(amount.Mul(stage.Percentage()).Div(hundred))
	}
	s := Split{
		Accepted:  share(enums.MilestoneStageAccepted),
		InEscrow:  share(enums.MilestoneStageInEscrow),
		Delivered: share(enums.MilestoneStageDelivered),
	}
	s.Reviewed = amount.Sub(s.Accepted).Sub(s.InEscrow).Sub(s.Delivered)
	return s
}

// For returns the tranche for a capture stage, zero for any other stage.
func (s Split) For(stage enums.MilestoneStage) decimal.Decimal {
	switch stage {
	case enums.MilestoneStageAccepted:
		return s.Accepted
	case enums.MilestoneStageInEscrow:
		return s.InEscrow
	case enums.MilestoneStageDelivered:
		return s.Delivered
	case enums.MilestoneStageReviewed:
		return s.Reviewed
	default:
		return decimal.Zero
	}
}

func (s Split) Sum() decimal.Decimal {
	return s.Accepted.Add(s.InEscrow).Add(s.Delivered).Add(s.Reviewed)
}
