package market

import (
	"sort"
	"time"

	"github.com/xtrntr/fleamarket/internal/catalog"
	"github.com/xtrntr/fleamarket/internal/config"
	"github.com/xtrntr/fleamarket/internal/models"
)

const defaultPageSize = 15

// SearchEngine answers flea search queries against the offer store, applying
// visibility, gating and query filters before sorting and paginating.
type SearchEngine struct {
	store   *OfferStore
	catalog *catalog.Catalog
	cfg     config.FleaConfig
	now     func() time.Time
}

// NewSearchEngine wires a search engine. A nil now defaults to time.Now.
func NewSearchEngine(store *OfferStore, cat *catalog.Catalog, cfg config.FleaConfig, now func() time.Time) *SearchEngine {
	if now == nil {
		now = time.Now
	}
	return &SearchEngine{store: store, catalog: cat, cfg: cfg, now: now}
}

// Search runs a query for a viewer and returns a sorted, paginated result.
// Offers the viewer cannot use yet are returned flagged locked rather than
// hidden, except in build mode where only usable offers survive.
func (e *SearchEngine) Search(q models.SearchQuery, viewer *models.Profile) (models.SearchResult, error) {
	if q.LinkedSearchID != "" && q.RequiredSearchID != "" {
		return models.SearchResult{}, ErrConflictingSearch
	}
	if q.PageSize <= 0 {
		q.PageSize = defaultPageSize
	}

	if len(q.BuildItems) > 0 {
		return e.resolveBuild(q, viewer), nil
	}

	now := e.now()
	var matched []models.Offer
	categories := make(map[string]int)

	collect := func(o *models.Offer) bool {
		ok, locked := e.filter(o, &q, viewer, now)
		if !ok {
			return true
		}
		view := *o
		view.Locked = locked
		matched = append(matched, view)
		categories[e.catalog.CategoryOf(o.Root().TplID)]++
		return true
	}

	switch {
	case q.RequiredSearchID != "":
		e.store.EachByRequirement(q.RequiredSearchID, collect)
	case q.LinkedSearchID != "":
		for _, tpl := range e.catalog.Linked(q.LinkedSearchID) {
			e.store.EachByTemplate(tpl, collect)
		}
	default:
		e.store.Each(collect)
	}

	sortOffers(matched, q.SortKey, q.SortDesc)
	total := len(matched)
	page := paginate(matched, q.Page, q.PageSize)

	return models.SearchResult{
		Offers:     page,
		Total:      total,
		Categories: categories,
	}, nil
}

// filter runs the per-offer pipeline. The second return reports whether the
// offer is visible but locked for this viewer (tier gate, quest gate,
// loyalty gate).
func (e *SearchEngine) filter(o *models.Offer, q *models.SearchQuery, viewer *models.Profile, now time.Time) (ok, locked bool) {
	if o.Quantity <= 0 || o.EndTime.Before(now) {
		return false, false
	}

	// Below the global unlock level only trader offers are visible.
	if viewer.Level < e.cfg.UnlockLevel && !o.Seller.IsTrader {
		return false, false
	}

	switch q.OwnerType {
	case models.OwnerTrader:
		if !o.Seller.IsTrader {
			return false, false
		}
	case models.OwnerPlayer:
		if o.Seller.IsTrader {
			return false, false
		}
	}

	root := o.Root()
	if q.HandbookID != "" && root.TplID != q.HandbookID && e.catalog.CategoryOf(root.TplID) != q.HandbookID {
		return false, false
	}
	if q.Currency != nil && (len(o.Requirements) == 0 || o.Requirements[0].TplID != *q.Currency) {
		return false, false
	}

	price := o.PerItemPrice()
	if q.MinPrice != nil && price < *q.MinPrice {
		return false, false
	}
	if q.MaxPrice != nil && price > *q.MaxPrice {
		return false, false
	}
	if q.MinQuantity != nil && o.Quantity < *q.MinQuantity {
		return false, false
	}

	cond := conditionPercent(root)
	if q.MinCondition != nil && cond < *q.MinCondition {
		return false, false
	}
	if q.MaxCondition != nil && cond > *q.MaxCondition {
		return false, false
	}

	if o.Seller.IsTrader {
		if o.QuestLockID != "" && !viewer.CompletedQuests[o.QuestLockID] {
			locked = true
		}
		if viewer.TraderLoyalty[o.Seller.ID] < o.Seller.LoyaltyLevel {
			locked = true
		}
	}
	if lvl := e.catalog.TierLevel(root.TplID); lvl > 0 && viewer.Level < lvl {
		locked = true
	}

	return true, locked
}

// resolveBuild picks one winning offer per requested template: the cheapest
// per-item price among offers the viewer can actually buy. Locked and
// under-leveled candidates are dropped outright here.
func (e *SearchEngine) resolveBuild(q models.SearchQuery, viewer *models.Profile) models.SearchResult {
	now := e.now()
	winners := make(map[string]models.Offer, len(q.BuildItems))

	for tpl := range q.BuildItems {
		var best *models.Offer
		e.store.EachByTemplate(tpl, func(o *models.Offer) bool {
			ok, locked := e.filter(o, &q, viewer, now)
			if !ok || locked {
				return true
			}
			if best == nil || o.PerItemPrice() < best.PerItemPrice() {
				best = o
			}
			return true
		})
		if best != nil {
			winners[tpl] = *best
		}
	}

	return models.SearchResult{
		Total:       len(winners),
		BuildOffers: winners,
	}
}

// sortOffers orders results by the requested key. The sort is stable so
// equal-keyed offers keep their relative order across pages.
func sortOffers(offers []models.Offer, key models.SortKey, desc bool) {
	less := func(a, b *models.Offer) bool { return a.ID < b.ID }
	switch key {
	case models.SortByRating:
		less = func(a, b *models.Offer) bool { return a.Seller.Rating < b.Seller.Rating }
	case models.SortByPrice:
		less = func(a, b *models.Offer) bool { return a.PerItemPrice() < b.PerItemPrice() }
	case models.SortByExpiry:
		less = func(a, b *models.Offer) bool { return a.EndTime.Before(b.EndTime) }
	}

	sort.SliceStable(offers, func(i, j int) bool {
		if desc {
			return less(&offers[j], &offers[i])
		}
		return less(&offers[i], &offers[j])
	})
}

// paginate slices out [page*size, page*size+size). A page index past the end
// serves the final page instead; that happens when the client shrinks its
// page size between requests.
func paginate(offers []models.Offer, page, size int) []models.Offer {
	if len(offers) == 0 {
		return nil
	}
	if page < 0 {
		page = 0
	}
	start := page * size
	if start >= len(offers) {
		start = (len(offers) - 1) / size * size
	}
	end := start + size
	if end > len(offers) {
		end = len(offers)
	}
	return offers[start:end]
}
