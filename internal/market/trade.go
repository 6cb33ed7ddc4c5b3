package market

import (
	"time"

	"github.com/google/uuid"

	"github.com/xtrntr/fleamarket/internal/catalog"
	"github.com/xtrntr/fleamarket/internal/config"
	"github.com/xtrntr/fleamarket/internal/models"
)

// Message keys the mail system localizes on delivery.
const (
	msgOfferSold    = "ragfair.offer_sold"
	msgOfferExpired = "ragfair.offer_expired"
	msgPurchase     = "ragfair.purchase"
)

// Mailer delivers items with a localized message. Mail transport is an
// external collaborator; the engine only hands it stack-size-valid items.
type Mailer interface {
	SendItems(profileID, messageKey string, items []models.Item)
}

// SaleRecorder receives one notification per completed sale, after funds and
// items have moved. Implementations must not call back into the engine.
type SaleRecorder interface {
	RecordSale(offer *models.Offer, soldAmount int, proceeds int64)
}

// TradeExecutor resolves buy confirmations and finalizes sales.
type TradeExecutor struct {
	store    *OfferStore
	profiles *ProfileStore
	catalog  *catalog.Catalog
	cfg      config.FleaConfig
	mailer   Mailer
	recorder SaleRecorder
	now      func() time.Time
}

// NewTradeExecutor wires a trade executor. A nil now defaults to time.Now.
func NewTradeExecutor(store *OfferStore, profiles *ProfileStore, cat *catalog.Catalog, cfg config.FleaConfig, mailer Mailer, now func() time.Time) *TradeExecutor {
	if now == nil {
		now = time.Now
	}
	return &TradeExecutor{
		store:    store,
		profiles: profiles,
		catalog:  cat,
		cfg:      cfg,
		mailer:   mailer,
		now:      now,
	}
}

// SetSaleRecorder attaches an optional sale ledger sink.
func (t *TradeExecutor) SetSaleRecorder(r SaleRecorder) {
	t.recorder = r
}

// Buy resolves a buy confirmation against an offer. Trader-backed offers
// settle immediately against trader stock and the buyer's restriction
// counter; player-backed offers charge the buyer and complete the seller's
// sale on the spot, bypassing the simulated queue. Stock is claimed through
// the store's atomic reservation while the buyer's funds are checked under
// the buyer's lock, so a rejected purchase moves no funds and two racing
// purchases can never both take the same units.
func (t *TradeExecutor) Buy(buyerID, offerID string, count int) error {
	offer, ok := t.store.GetByID(offerID)
	if !ok {
		return ErrOfferNotFound
	}
	if count <= 0 {
		return ErrInvalidQuantity
	}
	if offer.SellInOnePiece {
		count = offer.Quantity
	}

	cost := offer.RequirementsCost
	if !offer.SellInOnePiece {
		cost = offer.RequirementsCost * int64(count)
	}

	if offer.Seller.IsTrader {
		return t.buyFromTrader(buyerID, offer, count, cost)
	}
	return t.buyFromPlayer(buyerID, offer, count, cost)
}

func (t *TradeExecutor) buyFromTrader(buyerID string, offer *models.Offer, count int, cost int64) error {
	err := t.profiles.With(buyerID, func(buyer *models.Profile) error {
		if buyer.TraderLoyalty[offer.Seller.ID] < offer.Seller.LoyaltyLevel {
			return ErrLoyaltyTooLow
		}
		if buyer.Roubles < cost {
			return ErrInsufficientFunds
		}
		// The reservation is the commit point: stock and the restriction
		// counter move together, and nothing after it can fail.
		reserved, _, err := t.store.ReserveStock(offer.ID, count)
		if err != nil {
			return err
		}
		buyer.Roubles -= cost
		recordTraderPurchase(buyer, offer.Seller.ID, offer.ID, reserved)
		return nil
	})
	if err != nil {
		return err
	}

	t.mailPurchased(buyerID, offer, count)
	return nil
}

func (t *TradeExecutor) buyFromPlayer(buyerID string, offer *models.Offer, count int, cost int64) error {
	var reserved, remaining int
	err := t.profiles.With(buyerID, func(buyer *models.Profile) error {
		if buyer.Roubles < cost {
			return ErrInsufficientFunds
		}
		var err error
		reserved, remaining, err = t.store.ReserveStock(offer.ID, count)
		if err != nil {
			return err
		}
		buyer.Roubles -= cost
		return nil
	})
	if err != nil {
		return err
	}

	err = t.profiles.With(offer.Seller.ID, func(seller *models.Profile) error {
		t.settleSale(seller, offer, reserved, remaining)
		return nil
	})
	if err != nil {
		// The seller is gone; hand the stock and the roubles back.
		t.store.RestoreStock(offer, reserved)
		t.profiles.With(buyerID, func(buyer *models.Profile) error {
			buyer.Roubles += cost
			return nil
		})
		return err
	}
	t.mailPurchased(buyerID, offer, count)
	return nil
}

// CompleteOffer finalizes up to soldAmount units of a seller's offer,
// clamped to what is still in stock, and returns the amount actually sold.
// The caller must hold the seller's profile lock.
func (t *TradeExecutor) CompleteOffer(seller *models.Profile, offer *models.Offer, soldAmount int) (int, error) {
	if soldAmount <= 0 {
		return 0, ErrInvalidQuantity
	}
	reserved, remaining, err := t.store.ReserveUpTo(offer.ID, soldAmount)
	if err != nil {
		return 0, err
	}
	t.settleSale(seller, offer, reserved, remaining)
	return reserved, nil
}

// settleSale pays the seller for already-reserved units: the payment is
// split into stack-size-valid pieces and mailed, the sell-sum statistic
// grows by the proceeds and the profile's offer entry is dropped once the
// stock is gone. The caller must hold the seller's profile lock.
func (t *TradeExecutor) settleSale(seller *models.Profile, offer *models.Offer, soldAmount, remaining int) {
	var payment []models.Item
	for _, req := range offer.Requirements {
		total := req.Count
		if !offer.SellInOnePiece {
			total = req.Count * int64(soldAmount)
		}
		for _, piece := range SplitStack(total, t.catalog.MaxStack(req.TplID)) {
			payment = append(payment, models.Item{
				ID:         uuid.NewString(),
				TplID:      req.TplID,
				StackCount: int(piece),
			})
		}
	}
	t.mailer.SendItems(seller.ID, msgOfferSold, payment)

	proceeds := offer.RequirementsCost
	if !offer.SellInOnePiece {
		proceeds = offer.RequirementsCost * int64(soldAmount)
	}
	seller.SellSum += proceeds
	if t.recorder != nil {
		t.recorder.RecordSale(offer, soldAmount, proceeds)
	}

	if remaining == 0 {
		removeProfileOffer(seller, offer.ID)
	}
}

func (t *TradeExecutor) mailPurchased(buyerID string, offer *models.Offer, count int) {
	items := make([]models.Item, len(offer.Items))
	copy(items, offer.Items)
	if !offer.SellInOnePiece {
		items[0].StackCount = count
	}
	t.mailer.SendItems(buyerID, msgPurchase, items)
}

func recordTraderPurchase(buyer *models.Profile, traderID, offerID string, count int) {
	if buyer.TraderPurchases == nil {
		buyer.TraderPurchases = make(map[string]map[string]int)
	}
	if buyer.TraderPurchases[traderID] == nil {
		buyer.TraderPurchases[traderID] = make(map[string]int)
	}
	buyer.TraderPurchases[traderID][offerID] += count
}

func removeProfileOffer(p *models.Profile, offerID string) {
	for i, o := range p.Offers {
		if o.ID == offerID {
			p.Offers = append(p.Offers[:i], p.Offers[i+1:]...)
			return
		}
	}
}

// SplitStack breaks a total count into stack-size-valid pieces: full stacks
// of maxStack followed by the remainder.
func SplitStack(total int64, maxStack int) []int64 {
	if total <= 0 {
		return nil
	}
	max := int64(maxStack)
	if max < 1 {
		max = 1
	}
	var pieces []int64
	for total > max {
		pieces = append(pieces, max)
		total -= max
	}
	return append(pieces, total)
}
