package engine

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/motorline/auction-engine/pkg/errors"
	"github.com/motorline/auction-engine/pkg/types"
)

// resolveWinner applies the reserve rules at end time. No bids means no
// winner; an unmet reserve means no winner and the highest bidder is not
// charged. Buy-now never reaches this path: it sets the winner directly.
func resolveWinner(a *types.Auction) string {
	highest := a.HighestBid()
	if highest == nil {
		return ""
	}
	if a.ReservePrice != nil && a.CurrentPrice.LessThan(*a.ReservePrice) {
		return ""
	}
	return highest.BidderID
}

// finishAuction runs the terminal side effects of an ended auction:
// timers cancelled, the record evicted from the store, the change feed
// informed and settlement carried out. The end transition itself is
// already durable; a settlement failure is reported, never retried.
func (e *Engine) finishAuction(ctx context.Context, a types.Auction) error {
	e.sched.Cancel(a.ID)
	e.store.Evict(a.ID)
	e.autobids.DropAuction(a.ID)

	e.events.Publish(Event{
		Kind:      EventAuctionEnded,
		AuctionID: a.ID,
		At:        e.clock.Now(),
		Auction:   &a,
	})

	if a.WinnerID == nil {
		if len(a.Bids) == 0 {
			log.Debugf("Auction %s ended with no bids", a.ID)
			return nil
		}
		// Reserve not met: watchers and the seller learn why, the highest
		// bidder is not charged and no settlement call is issued.
		e.events.Publish(Event{
			Kind:      EventReserveNotMet,
			AuctionID: a.ID,
			At:        e.clock.Now(),
			Auction:   &a,
		})
		message := fmt.Sprintf("the auction for %s ended below the reserve price", a.Product.Title)
		e.notify(a.SellerID, NotifyReserveNotMet, message)
		e.notifyWatchers(a, "", NotifyReserveNotMet, message)
		log.Infof("Auction %s ended with reserve not met at %s", a.ID, a.CurrentPrice)
		return nil
	}

	return e.settle(ctx, a)
}

// settle records the sale with the order collaborator and captures the
// winning payment authorization.
func (e *Engine) settle(ctx context.Context, a types.Auction) error {
	winnerID := *a.WinnerID

	if e.orders != nil {
		octx, cancel := context.WithTimeout(ctx, e.cfg.ExternalCallTimeout)
		orderID, err := e.orders.CreateOrder(octx, a.ID, winnerID, a.CurrentPrice)
		cancel()
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("settlement failed for auction %s", a.ID))
		}
		log.Infof("Auction %s settled, order %s for winner %s at %s", a.ID, orderID, winnerID, a.CurrentPrice)
	}

	if e.payment != nil {
		if highest := a.HighestBid(); highest != nil && highest.PaymentToken != "" {
			cctx, cancel := context.WithTimeout(ctx, e.cfg.ExternalCallTimeout)
			err := e.payment.Capture(cctx, highest.PaymentToken)
			cancel()
			if err != nil {
				return errors.Wrap(err, fmt.Sprintf("payment capture failed for auction %s", a.ID))
			}
		}
	}

	e.notify(winnerID, NotifyWon, fmt.Sprintf("you won the auction for %s at %s", a.Product.Title, a.CurrentPrice))
	e.notify(a.SellerID, NotifySold, fmt.Sprintf("%s sold for %s", a.Product.Title, a.CurrentPrice))
	return nil
}
