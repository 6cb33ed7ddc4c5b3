package market

import (
	"fmt"

	"github.com/xtrntr/fleamarket/internal/catalog"
	"github.com/xtrntr/fleamarket/internal/models"
)

// PriceInfo is the rouble price summary for an item template.
type PriceInfo struct {
	Avg int64
	Min int64
	Max int64
}

// PricingEngine derives rouble prices from live non-barter offers, falling
// back to the static flea price table and then the handbook.
type PricingEngine struct {
	store   *OfferStore
	catalog *catalog.Catalog
}

// NewPricingEngine creates a pricing engine over a store and catalog.
func NewPricingEngine(store *OfferStore, cat *catalog.Catalog) *PricingEngine {
	return &PricingEngine{store: store, catalog: cat}
}

// GetPrice computes avg/min/max per-item price across live money-priced
// offers for a template in a single pass. Barter offers never count;
// trader offers are skipped when ignoreTraderOffers is set.
func (e *PricingEngine) GetPrice(tpl string, ignoreTraderOffers bool) (PriceInfo, error) {
	var (
		sum   int64
		min   int64
		max   int64
		count int64
	)

	e.store.EachByTemplate(tpl, func(o *models.Offer) bool {
		if ignoreTraderOffers && o.Seller.IsTrader {
			return true
		}
		for _, req := range o.Requirements {
			if !e.catalog.IsMoney(req.TplID) {
				return true
			}
		}
		price := o.PerItemPrice()
		if price <= 0 {
			return true
		}
		if count == 0 || price < min {
			min = price
		}
		if price > max {
			max = price
		}
		sum += price
		count++
		return true
	})

	if count > 0 {
		return PriceInfo{Avg: sum / count, Min: min, Max: max}, nil
	}
	if p, ok := e.catalog.FleaPrice(tpl); ok {
		return PriceInfo{Avg: p, Min: p, Max: p}, nil
	}
	if p, ok := e.catalog.HandbookPrice(tpl); ok {
		return PriceInfo{Avg: p, Min: p, Max: p}, nil
	}
	return PriceInfo{}, fmt.Errorf("template %s: %w", tpl, ErrNoPrice)
}
