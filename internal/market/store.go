package market

import (
	"sync"
	"time"

	"github.com/xtrntr/fleamarket/internal/models"
)

// OfferStore is the single global collection of live offers. All offer field
// mutation goes through store methods under the write lock; readers iterate
// under the read lock, so a full search pass sees a consistent snapshot even
// while settlement runs. Per-profile state is not the store's concern.
type OfferStore struct {
	mu       sync.RWMutex
	offers   map[string]*models.Offer
	byTpl    map[string]map[string]struct{} // root template -> offer ids
	byNeeded map[string]map[string]struct{} // requirement template -> offer ids
}

// NewOfferStore creates an empty offer store.
func NewOfferStore() *OfferStore {
	return &OfferStore{
		offers:   make(map[string]*models.Offer),
		byTpl:    make(map[string]map[string]struct{}),
		byNeeded: make(map[string]map[string]struct{}),
	}
}

// Insert adds an offer. Offers with no remaining quantity are rejected so
// the store invariant (quantity > 0 while stored) holds from the start.
func (s *OfferStore) Insert(offer *models.Offer) error {
	if offer.Quantity <= 0 {
		return ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.offers[offer.ID] = offer
	addIndex(s.byTpl, offer.Root().TplID, offer.ID)
	for _, req := range offer.Requirements {
		addIndex(s.byNeeded, req.TplID, offer.ID)
	}
	return nil
}

// RemoveByID deletes an offer, returning false when it was not present.
func (s *OfferStore) RemoveByID(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

func (s *OfferStore) removeLocked(id string) bool {
	offer, ok := s.offers[id]
	if !ok {
		return false
	}
	delete(s.offers, id)
	dropIndex(s.byTpl, offer.Root().TplID, id)
	for _, req := range offer.Requirements {
		dropIndex(s.byNeeded, req.TplID, id)
	}
	return true
}

// GetByID returns the offer with the given id.
func (s *OfferStore) GetByID(id string) (*models.Offer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	offer, ok := s.offers[id]
	return offer, ok
}

// Count returns the number of live offers.
func (s *OfferStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.offers)
}

// Each calls fn for every offer under the read lock. Returning false from fn
// stops the iteration. fn must not mutate the offer or call back into the
// store.
func (s *OfferStore) Each(fn func(*models.Offer) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, offer := range s.offers {
		if !fn(offer) {
			return
		}
	}
}

// EachByTemplate iterates offers whose root item has the given template.
func (s *OfferStore) EachByTemplate(tpl string, fn func(*models.Offer) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id := range s.byTpl[tpl] {
		if !fn(s.offers[id]) {
			return
		}
	}
}

// EachByRequirement iterates offers that require the given template as
// payment. Backs the required-item search mode without a full scan.
func (s *OfferStore) EachByRequirement(tpl string, fn func(*models.Offer) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id := range s.byNeeded[tpl] {
		if !fn(s.offers[id]) {
			return
		}
	}
}

// ReserveStock claims count units of an offer: the quantity and, on capped
// trader offers, the buy-restriction counter are checked and committed under
// one write lock, so two racing purchases can never both take the same
// units. Pack offers always reserve the whole quantity. Returns the amount
// actually reserved and the remaining quantity; the offer is removed when
// exhausted.
func (s *OfferStore) ReserveStock(id string, count int) (reserved, remaining int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, ok := s.offers[id]
	if !ok {
		return 0, 0, ErrOfferNotFound
	}
	if offer.SellInOnePiece {
		count = offer.Quantity
	}
	if count > offer.Quantity {
		return 0, 0, ErrOutOfStock
	}
	if offer.BuyRestrictionMax != nil {
		current := 0
		if offer.BuyRestrictionCurrent != nil {
			current = *offer.BuyRestrictionCurrent
		}
		if current+count > *offer.BuyRestrictionMax {
			return 0, 0, ErrOutOfStock
		}
		current += count
		offer.BuyRestrictionCurrent = &current
	}
	return count, s.reduceLocked(offer, count), nil
}

// ReserveUpTo claims at most count units, clamping to what is left. Used by
// settlement, where a scheduled sale can mature after purchases already
// shrank the offer. The buy-restriction counter is buyer-side and not
// touched here.
func (s *OfferStore) ReserveUpTo(id string, count int) (reserved, remaining int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, ok := s.offers[id]
	if !ok {
		return 0, 0, ErrOfferNotFound
	}
	if offer.SellInOnePiece || count > offer.Quantity {
		count = offer.Quantity
	}
	return count, s.reduceLocked(offer, count), nil
}

// RestoreStock hands reserved units back after a failed settlement,
// re-inserting the offer when the reservation had exhausted it.
func (s *OfferStore) RestoreStock(offer *models.Offer, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer.Quantity += count
	if _, ok := s.offers[offer.ID]; ok {
		return
	}
	s.offers[offer.ID] = offer
	addIndex(s.byTpl, offer.Root().TplID, offer.ID)
	for _, req := range offer.Requirements {
		addIndex(s.byNeeded, req.TplID, offer.ID)
	}
}

func (s *OfferStore) reduceLocked(offer *models.Offer, by int) int {
	offer.Quantity -= by
	if offer.Quantity <= 0 {
		offer.Quantity = 0
		s.removeLocked(offer.ID)
		return 0
	}
	return offer.Quantity
}

// ShortenEndTime moves an offer's end time to the deadline, but only if the
// deadline is earlier than the current end time. Used by flag-for-removal:
// the offer gets a short grace window instead of a synchronous delete, so an
// in-flight purchase is not invalidated mid-request.
func (s *OfferStore) ShortenEndTime(id string, deadline time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, ok := s.offers[id]
	if !ok || !deadline.Before(offer.EndTime) {
		return false
	}
	offer.EndTime = deadline
	return true
}

// ExtendEndTime pushes an offer's end time out by d.
func (s *OfferStore) ExtendEndTime(id string, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, ok := s.offers[id]
	if !ok {
		return ErrOfferNotFound
	}
	offer.EndTime = offer.EndTime.Add(d)
	return nil
}

// PopDueSaleEvent removes and returns the earliest sale event scheduled at
// or before now. Events are stored in chronological order and consumed
// strictly FIFO.
func (s *OfferStore) PopDueSaleEvent(id string, now time.Time) (models.SaleEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, ok := s.offers[id]
	if !ok || len(offer.SaleEvents) == 0 {
		return models.SaleEvent{}, false
	}
	ev := offer.SaleEvents[0]
	if ev.SellTime.After(now) {
		return models.SaleEvent{}, false
	}
	offer.SaleEvents = offer.SaleEvents[1:]
	return ev, true
}

// Expired returns the ids of offers past their end time.
func (s *OfferStore) Expired(now time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, offer := range s.offers {
		if offer.EndTime.Before(now) {
			ids = append(ids, id)
		}
	}
	return ids
}

func addIndex(idx map[string]map[string]struct{}, key, id string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[id] = struct{}{}
}

func dropIndex(idx map[string]map[string]struct{}, key, id string) {
	if set, ok := idx[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(idx, key)
		}
	}
}
