package market

import (
	"time"

	"github.com/xtrntr/fleamarket/internal/config"
	"github.com/xtrntr/fleamarket/internal/models"
)

// SettlementEngine is the periodic tick that consumes matured sale events,
// pays sellers and retires exhausted or expired offers.
type SettlementEngine struct {
	store    *OfferStore
	profiles *ProfileStore
	executor *TradeExecutor
	mailer   Mailer
	cfg      config.FleaConfig
	now      func() time.Time
}

// NewSettlementEngine wires a settlement engine. A nil now defaults to
// time.Now.
func NewSettlementEngine(store *OfferStore, profiles *ProfileStore, executor *TradeExecutor, mailer Mailer, cfg config.FleaConfig, now func() time.Time) *SettlementEngine {
	if now == nil {
		now = time.Now
	}
	return &SettlementEngine{
		store:    store,
		profiles: profiles,
		executor: executor,
		mailer:   mailer,
		cfg:      cfg,
		now:      now,
	}
}

// Tick runs one settlement pass across all loaded profiles and returns how
// many sale events were settled. Per offer it pops at most the earliest due
// event; never an event ahead of its scheduled time. Offers already past
// their end time are left for the expiry sweep.
func (e *SettlementEngine) Tick() int {
	now := e.now()
	settled := 0

	for _, id := range e.profiles.IDs() {
		e.profiles.With(id, func(p *models.Profile) error {
			if p.Level < e.cfg.UnlockLevel {
				return nil
			}
			// Backwards so completing an offer can remove it in place.
			for i := len(p.Offers) - 1; i >= 0; i-- {
				offer := p.Offers[i]
				if offer.EndTime.Before(now) {
					continue
				}
				ev, ok := e.store.PopDueSaleEvent(offer.ID, now)
				if !ok {
					continue
				}
				sold, err := e.executor.CompleteOffer(p, offer, ev.Amount)
				if err != nil {
					continue
				}
				settled++
				p.RagfairRating += float64(offer.RequirementsCost) /
					float64(offer.TotalQuantity) * float64(sold) * e.cfg.RatingIncreaseFactor
			}
			return nil
		})
	}
	return settled
}

// ExpireOffers removes offers past their end time. Player offers go back to
// their seller by mail with whatever quantity never sold; trader offers are
// simply dropped and the next trader refresh re-creates them.
func (e *SettlementEngine) ExpireOffers() int {
	now := e.now()
	expired := 0

	for _, id := range e.store.Expired(now) {
		offer, ok := e.store.GetByID(id)
		if !ok {
			continue
		}
		if !e.store.RemoveByID(id) {
			continue
		}
		expired++

		if offer.Seller.IsTrader {
			continue
		}
		e.profiles.With(offer.Seller.ID, func(p *models.Profile) error {
			removeProfileOffer(p, id)
			returned := make([]models.Item, len(offer.Items))
			copy(returned, offer.Items)
			if offer.Quantity < offer.TotalQuantity {
				returned[0].StackCount = offer.Quantity
			}
			e.mailer.SendItems(p.ID, msgOfferExpired, returned)
			return nil
		})
	}
	return expired
}
