package market

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xtrntr/fleamarket/internal/catalog"
	"github.com/xtrntr/fleamarket/internal/config"
	"github.com/xtrntr/fleamarket/internal/models"
)

// offerType classifies a sell request. The tie-break order matters: the
// sell-in-one-piece flag wins over item count.
type offerType int

const (
	offerUnknown offerType = iota
	offerSingle
	offerMulti
	offerPack
)

func classifyOffer(itemCount int, sellInOnePiece bool) offerType {
	switch {
	case sellInOnePiece:
		return offerPack
	case itemCount == 1:
		return offerSingle
	case itemCount > 1:
		return offerMulti
	default:
		return offerUnknown
	}
}

// ListingService validates and prices player sell requests and turns them
// into live offers.
type ListingService struct {
	store     *OfferStore
	pricing   *PricingEngine
	simulator *SaleSimulator
	tax       TaxService
	catalog   *catalog.Catalog
	cfg       config.FleaConfig
	now       func() time.Time
}

// NewListingService wires a listing service. A nil now defaults to time.Now.
func NewListingService(store *OfferStore, pricing *PricingEngine, sim *SaleSimulator, tax TaxService, cat *catalog.Catalog, cfg config.FleaConfig, now func() time.Time) *ListingService {
	if now == nil {
		now = time.Now
	}
	return &ListingService{
		store:     store,
		pricing:   pricing,
		simulator: sim,
		tax:       tax,
		catalog:   cat,
		cfg:       cfg,
		now:       now,
	}
}

// CreateOffer validates a sell request and, on success, inserts the offer
// into the store and the seller's profile and removes the sold items from
// the inventory. Tax is charged before any mutation: a seller who cannot
// pay walks away with nothing changed. The caller must hold the seller's
// profile lock.
func (s *ListingService) CreateOffer(seller *models.Profile, itemIDs []string, requirements []models.Requirement, sellInOnePiece bool, taxQuote *int64) (*models.Offer, error) {
	if seller.Level < s.cfg.UnlockLevel {
		return nil, ErrFleaLocked
	}
	if len(itemIDs) == 0 {
		return nil, ErrEmptyItems
	}
	if len(requirements) == 0 {
		return nil, ErrEmptyRequirements
	}
	for _, req := range requirements {
		if req.Count <= 0 {
			return nil, ErrEmptyRequirements
		}
	}

	roots, children, err := s.resolveItems(seller, itemIDs)
	if err != nil {
		return nil, err
	}
	for i := range roots {
		if tpl, ok := s.catalog.Template(roots[i].TplID); ok && tpl.FleaBanned {
			return nil, ErrFleaBanned
		}
	}

	var offerItems []models.Item
	switch classifyOffer(len(roots), sellInOnePiece) {
	case offerSingle, offerPack:
		offerItems = append(append(offerItems, roots...), children...)
	case offerMulti:
		merged, err := mergeStacks(roots)
		if err != nil {
			return nil, err
		}
		offerItems = []models.Item{merged}
	default:
		return nil, ErrUnknownOfferType
	}

	root := &offerItems[0]
	quantity := 1
	if n := root.StackCount; n > 1 {
		quantity = n
	}

	quality := qualityModifier(offerItems)
	requirementsCost, err := s.requirementsCost(requirements)
	if err != nil {
		return nil, err
	}

	// Market value is read before the new offer is inserted so a listing
	// cannot skew its own average.
	unitValue, err := s.offerValue(offerItems, quality)
	if err != nil {
		return nil, err
	}
	totalValue := unitValue * float64(quantity)

	askTotal := float64(requirementsCost)
	if !sellInOnePiece {
		askTotal *= float64(quantity)
	}
	chance := s.simulator.CalculateSellChance(totalValue, askTotal, quality)

	tax := int64(0)
	if taxQuote != nil {
		tax = *taxQuote
	} else {
		tax = s.tax.CalculateTax(root.TplID, quality, requirementsCost, quantity, sellInOnePiece, seller)
	}
	if seller.Roubles < tax {
		return nil, ErrCannotPayTax
	}
	seller.Roubles -= tax

	now := s.now()
	offer := &models.Offer{
		ID:    uuid.NewString(),
		Items: offerItems,
		Seller: models.OfferSeller{
			ID:       seller.ID,
			Nickname: seller.Nickname,
			Rating:   seller.RagfairRating,
		},
		Requirements:     requirements,
		RequirementsCost: requirementsCost,
		Quantity:         quantity,
		TotalQuantity:    quantity,
		SellInOnePiece:   sellInOnePiece,
		CreatedAt:        now,
		EndTime:          now.Add(s.cfg.OfferDuration),
		SaleEvents:       s.simulator.RollForSale(chance, quantity, sellInOnePiece, now),
	}

	if err := s.store.Insert(offer); err != nil {
		// Tax was already charged; refund before reporting.
		seller.Roubles += tax
		return nil, err
	}
	seller.Offers = append(seller.Offers, offer)
	s.removeFromInventory(seller, itemIDs, children)

	return offer, nil
}

// ExtendOffer pushes the offer's end time out by d and charges the listing
// tax again, scaled by the added duration. The caller must hold the
// seller's profile lock.
func (s *ListingService) ExtendOffer(seller *models.Profile, offerID string, d time.Duration) error {
	offer, ok := s.store.GetByID(offerID)
	if !ok {
		return ErrOfferNotFound
	}
	if offer.Seller.ID != seller.ID {
		return ErrNotOfferOwner
	}

	quality := qualityModifier(offer.Items)
	fullTax := s.tax.CalculateTax(offer.Root().TplID, quality, offer.RequirementsCost, offer.Quantity, offer.SellInOnePiece, seller)
	fee := int64(float64(fullTax) * float64(d) / float64(s.cfg.OfferDuration))
	if seller.Roubles < fee {
		return ErrCannotPayTax
	}
	if err := s.store.ExtendEndTime(offerID, d); err != nil {
		return err
	}
	seller.Roubles -= fee
	return nil
}

// FlagOfferForRemoval shortens an offer's end time to now plus the removal
// grace instead of deleting it synchronously, so an in-flight purchase
// against it still resolves. An offer already expiring sooner is left
// alone. The caller must hold the seller's profile lock.
func (s *ListingService) FlagOfferForRemoval(seller *models.Profile, offerID string) error {
	offer, ok := s.store.GetByID(offerID)
	if !ok {
		return ErrOfferNotFound
	}
	if offer.Seller.ID != seller.ID {
		return ErrNotOfferOwner
	}
	s.store.ShortenEndTime(offerID, s.now().Add(s.cfg.RemovalGrace))
	return nil
}

// resolveItems looks up the requested roots in the seller's inventory and
// collects their attached children.
func (s *ListingService) resolveItems(seller *models.Profile, itemIDs []string) (roots, children []models.Item, err error) {
	requested := make(map[string]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		item := seller.FindItem(id)
		if item == nil {
			return nil, nil, ErrItemNotFound
		}
		requested[id] = struct{}{}
		roots = append(roots, *item)
	}

	// Children: any inventory item whose parent chain leads to a root.
	attached := make(map[string]struct{}, len(requested))
	for id := range requested {
		attached[id] = struct{}{}
	}
	for changed := true; changed; {
		changed = false
		for i := range seller.Inventory {
			it := &seller.Inventory[i]
			if _, done := attached[it.ID]; done {
				continue
			}
			if _, ok := attached[it.ParentID]; ok {
				attached[it.ID] = struct{}{}
				children = append(children, *it)
				changed = true
			}
		}
	}
	return roots, children, nil
}

// mergeStacks condenses identical stackable items into one merged stack for
// a multi offer. Differing templates cannot be merged.
func mergeStacks(roots []models.Item) (models.Item, error) {
	merged := roots[0]
	if merged.StackCount < 1 {
		merged.StackCount = 1
	}
	for _, item := range roots[1:] {
		if item.TplID != merged.TplID {
			return models.Item{}, ErrUnknownOfferType
		}
		n := item.StackCount
		if n < 1 {
			n = 1
		}
		merged.StackCount += n
	}
	return merged, nil
}

// requirementsCost converts the requirement list to roubles: money at the
// catalog rate, barter items at their handbook price.
func (s *ListingService) requirementsCost(requirements []models.Requirement) (int64, error) {
	var cost int64
	for _, req := range requirements {
		if rate := s.catalog.Rate(req.TplID); rate > 0 {
			cost += req.Count * rate
			continue
		}
		price, ok := s.catalog.HandbookPrice(req.TplID)
		if !ok {
			return 0, fmt.Errorf("requirement template %s: %w", req.TplID, ErrNoPrice)
		}
		cost += req.Count * price
	}
	return cost, nil
}

// offerValue prices one unit of the offer. Weapon presets are priced as the
// sum of their components; everything else as the root's market average,
// scaled by the per-template modifier and the quality modifier.
func (s *ListingService) offerValue(items []models.Item, quality float64) (float64, error) {
	root := &items[0]
	tpl, _ := s.catalog.Template(root.TplID)

	if tpl.Kind == "weapon" && len(items) > 1 {
		sum := 0.0
		for i := range items {
			info, err := s.pricing.GetPrice(items[i].TplID, false)
			if err != nil {
				return 0, err
			}
			sum += float64(info.Avg) * itemQuality(&items[i])
		}
		return sum * s.catalog.PriceModifier(root.TplID), nil
	}

	info, err := s.pricing.GetPrice(root.TplID, false)
	if err != nil {
		return 0, err
	}
	return float64(info.Avg) * s.catalog.PriceModifier(root.TplID) * quality, nil
}

// removeFromInventory strips the listed roots and their children from the
// seller's inventory.
func (s *ListingService) removeFromInventory(seller *models.Profile, itemIDs []string, children []models.Item) {
	gone := make(map[string]struct{}, len(itemIDs)+len(children))
	for _, id := range itemIDs {
		gone[id] = struct{}{}
	}
	for i := range children {
		gone[children[i].ID] = struct{}{}
	}

	kept := seller.Inventory[:0]
	for _, item := range seller.Inventory {
		if _, ok := gone[item.ID]; !ok {
			kept = append(kept, item)
		}
	}
	seller.Inventory = kept
}
