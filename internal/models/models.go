package models

import "time"

// Repairable holds durability state for items that degrade with use.
type Repairable struct {
	Durability    float64
	MaxDurability float64
}

// ItemResource holds remaining charge/fuel/uses for consumable items.
type ItemResource struct {
	Value float64
	Max   float64
}

// KeyUses tracks remaining uses on a limited-use key.
type KeyUses struct {
	UsesLeft int
	MaxUses  int
}

// Item is one inventory item node. Child items reference their parent by ID,
// so a root item plus its children form a tree (weapon with attachments,
// container with contents).
type Item struct {
	ID         string
	TplID      string
	ParentID   string
	SlotID     string
	StackCount int
	Repairable *Repairable
	Resource   *ItemResource
	Key        *KeyUses
}

// Requirement is one currency or barter-item line a buyer must supply.
// Count is per purchased unit on stack offers and covers the whole bundle
// on sell-in-one-piece offers.
type Requirement struct {
	TplID string
	Count int64
}

// SaleEvent is a simulated future sale of Amount units at SellTime.
type SaleEvent struct {
	SellTime time.Time
	Amount   int
}

// OfferSeller identifies who listed an offer. LoyaltyLevel is the minimum
// buyer loyalty and only meaningful on trader offers.
type OfferSeller struct {
	ID           string
	Nickname     string
	Rating       float64
	IsTrader     bool
	LoyaltyLevel int
}

// Offer is a live market listing.
type Offer struct {
	ID               string
	Items            []Item // root item first, children after
	Seller           OfferSeller
	Requirements     []Requirement
	RequirementsCost int64 // rouble equivalent of Requirements
	Quantity         int   // remaining purchasable units
	TotalQuantity    int   // units at creation time
	SellInOnePiece   bool
	CreatedAt        time.Time
	EndTime          time.Time

	// Trader offers only. Nil means no purchase cap.
	BuyRestrictionCurrent *int
	BuyRestrictionMax     *int

	// QuestLockID gates a trader assort entry behind a quest. Viewers who
	// have not completed it see the offer locked, not hidden.
	QuestLockID string

	// Locked is view-dependent: set per search result when the viewer fails
	// a tier or quest gate. Never persisted.
	Locked bool

	SaleEvents []SaleEvent
}

// Root returns the offer's root item.
func (o *Offer) Root() *Item {
	return &o.Items[0]
}

// StackCount returns the root item's stack size (minimum 1).
func (o *Offer) StackCount() int {
	if n := o.Items[0].StackCount; n > 1 {
		return n
	}
	return 1
}

// PerItemPrice returns the rouble cost of a single unit: the whole
// requirements cost divided across the stack for pack offers.
func (o *Offer) PerItemPrice() int64 {
	if o.SellInOnePiece {
		return o.RequirementsCost / int64(o.StackCount())
	}
	return o.RequirementsCost
}

// Account is a login credential row. The gameplay state it unlocks lives in
// Profile, keyed by the same ID.
type Account struct {
	ID           string
	Username     string
	PasswordHash string
	Nickname     string
	CreatedAt    time.Time
}

// Profile is one player's market-relevant state. Ownership discipline: a
// profile's Offers, Inventory and counters are only touched while its lock
// in the profile store is held.
type Profile struct {
	ID       string
	Username string
	Nickname string
	Level    int
	Roubles  int64

	RagfairRating float64
	SellSum       int64

	Inventory []Item
	Offers    []*Offer

	TraderLoyalty   map[string]int
	CompletedQuests map[string]bool

	// TraderPurchases tracks buy-restriction usage: trader id -> offer id ->
	// units bought since the last trader refresh.
	TraderPurchases map[string]map[string]int
}

// FindItem returns the inventory item with the given id, or nil.
func (p *Profile) FindItem(id string) *Item {
	for i := range p.Inventory {
		if p.Inventory[i].ID == id {
			return &p.Inventory[i]
		}
	}
	return nil
}

// SaleRecord is one completed-sale ledger row.
type SaleRecord struct {
	ID       int
	OfferID  string
	SellerID string
	TplID    string
	Amount   int
	Price    int64
	SoldAt   time.Time
}

// OwnerType filters offers by who listed them.
type OwnerType int

const (
	OwnerAny OwnerType = iota
	OwnerTrader
	OwnerPlayer
)

// SortKey selects the search result ordering.
type SortKey int

const (
	SortByID SortKey = iota
	SortByRating
	SortByPrice
	SortByExpiry
)

// SearchQuery is one flea search request. LinkedSearchID and
// RequiredSearchID are mutually exclusive modes; BuildItems switches the
// engine into build resolution, returning one best offer per template.
type SearchQuery struct {
	HandbookID       string
	LinkedSearchID   string
	RequiredSearchID string

	OwnerType    OwnerType
	Currency     *string
	MinPrice     *int64
	MaxPrice     *int64
	MinQuantity  *int
	MinCondition *int // percent of max condition
	MaxCondition *int

	BuildItems map[string]int

	SortKey  SortKey
	SortDesc bool
	Page     int
	PageSize int
}

// SearchResult is a paginated, sorted search answer. Offers are copies with
// the view-dependent Locked flag resolved for the requesting profile.
type SearchResult struct {
	Offers      []Offer
	Total       int
	Categories  map[string]int
	BuildOffers map[string]Offer // build mode: winning offer per template
}
