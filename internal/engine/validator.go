package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/motorline/auction-engine/pkg/errors"
	"github.com/motorline/auction-engine/pkg/types"
)

// Validator applies the bid admission rules to an auction snapshot. It is
// stateless and never mutates the auction; the only external call is the
// fraud screen, bounded by timeout.
type Validator struct {
	fraud   FraudService
	timeout time.Duration
}

func NewValidator(fraud FraudService, timeout time.Duration) *Validator {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Validator{fraud: fraud, timeout: timeout}
}

// Validate checks the proposed bid in rule order: auction live, auction
// type supported, buy-now redirect, minimum increment, fraud hold.
func (v *Validator) Validate(ctx context.Context, a *types.Auction, bidderID string, amount decimal.Decimal, at time.Time) error {
	if a.Status != types.StatusLive {
		return errors.New(errors.ErrAuctionNotActive, "auction is not active")
	}
	if a.Type != types.TypeEnglish {
		return errors.New(errors.ErrUnsupportedType, "bidding is not supported for this auction type")
	}
	if a.BuyNowPrice != nil && amount.GreaterThanOrEqual(*a.BuyNowPrice) {
		return errors.New(errors.ErrUseBuyNow, "amount meets the buy-now price, use the buy-now operation instead")
	}
	if minimum := a.MinimumBid(); amount.LessThan(minimum) {
		return errors.BelowMinimum(minimum)
	}
	if v.fraud != nil {
		fctx, cancel := context.WithTimeout(ctx, v.timeout)
		defer cancel()
		decision, err := v.fraud.Evaluate(fctx, bidderID, amount, at)
		if err != nil || !decision.Approved {
			// A timeout or evaluation failure is a hold, never an approval.
			return errors.New(errors.ErrSecurityHold, "bid placed on security hold")
		}
	}
	return nil
}
