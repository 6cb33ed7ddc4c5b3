package market

import (
	"time"

	"github.com/google/uuid"

	"github.com/xtrntr/fleamarket/internal/catalog"
	"github.com/xtrntr/fleamarket/internal/config"
	"github.com/xtrntr/fleamarket/internal/models"
)

// OfferGenerator turns trader assort rows into trader-backed offers. The
// periodic refresh drops the previous generation, restocks quantities and
// clears every buyer's restriction counters for the refreshed traders.
type OfferGenerator struct {
	store    *OfferStore
	profiles *ProfileStore
	catalog  *catalog.Catalog
	cfg      config.FleaConfig
	now      func() time.Time
}

// NewOfferGenerator wires an offer generator. A nil now defaults to
// time.Now.
func NewOfferGenerator(store *OfferStore, profiles *ProfileStore, cat *catalog.Catalog, cfg config.FleaConfig, now func() time.Time) *OfferGenerator {
	if now == nil {
		now = time.Now
	}
	return &OfferGenerator{store: store, profiles: profiles, catalog: cat, cfg: cfg, now: now}
}

// Refresh regenerates all trader offers from the catalog assort and returns
// how many offers are live afterwards.
func (g *OfferGenerator) Refresh() int {
	now := g.now()

	// Drop the previous generation.
	var stale []string
	traders := make(map[string]struct{})
	g.store.Each(func(o *models.Offer) bool {
		if o.Seller.IsTrader {
			stale = append(stale, o.ID)
			traders[o.Seller.ID] = struct{}{}
		}
		return true
	})
	for _, id := range stale {
		g.store.RemoveByID(id)
	}

	created := 0
	for _, row := range g.catalog.Assort() {
		if row.Quantity <= 0 {
			continue
		}
		traders[row.TraderID] = struct{}{}

		rate := g.catalog.Rate(row.CurrencyTpl)
		if rate < 1 {
			rate = 1
		}
		current := 0
		offer := &models.Offer{
			ID: uuid.NewString(),
			Items: []models.Item{{
				ID:         uuid.NewString(),
				TplID:      row.TplID,
				StackCount: row.Quantity,
			}},
			Seller: models.OfferSeller{
				ID:           row.TraderID,
				Nickname:     row.TraderName,
				IsTrader:     true,
				LoyaltyLevel: row.LoyaltyLevel,
			},
			Requirements:     []models.Requirement{{TplID: row.CurrencyTpl, Count: row.Price}},
			RequirementsCost: row.Price * rate,
			Quantity:         row.Quantity,
			TotalQuantity:    row.Quantity,
			CreatedAt:        now,
			EndTime:          now.Add(g.cfg.TraderRefresh),
			QuestLockID:      row.QuestLockID,
		}
		if row.BuyRestrictionMax != nil {
			max := *row.BuyRestrictionMax
			offer.BuyRestrictionCurrent = &current
			offer.BuyRestrictionMax = &max
		}
		if err := g.store.Insert(offer); err == nil {
			created++
		}
	}

	// Buy restrictions reset with the stock they capped.
	for _, id := range g.profiles.IDs() {
		g.profiles.With(id, func(p *models.Profile) error {
			for trader := range traders {
				delete(p.TraderPurchases, trader)
			}
			return nil
		})
	}

	return created
}
