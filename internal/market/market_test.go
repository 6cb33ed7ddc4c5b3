package market

import (
	"time"

	"github.com/xtrntr/fleamarket/internal/catalog"
	"github.com/xtrntr/fleamarket/internal/config"
	"github.com/xtrntr/fleamarket/internal/models"
)

// Shared fixtures for the engine tests.

const (
	tplRoubles = "tpl-roubles"
	tplDollars = "tpl-dollars"
	tplAmmo    = "tpl-ammo-545"
	tplRifle   = "tpl-rifle-ak"
	tplScope   = "tpl-scope-pso"
	tplKey     = "tpl-key-dorm"
	tplMedkit  = "tpl-medkit"
	tplCase    = "tpl-case-secure"

	catAmmo    = "cat-ammo"
	catWeapons = "cat-weapons"
	catKeys    = "cat-keys"
	catMeds    = "cat-meds"

	traderID = "trader-prapor"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func testCfg() config.FleaConfig {
	return config.FleaConfig{
		MinSellChancePercent:  5,
		MaxSellChancePercent:  100,
		BaseSellChancePercent: 50,
		SellMultiplier:        1,
		MinSellDelay:          15 * time.Minute,
		MaxSellDelay:          90 * time.Minute,
		OfferDuration:         12 * time.Hour,
		RemovalGrace:          71 * time.Second,
		UnlockLevel:           15,
		RatingIncreaseFactor:  0.0001,
		TaxRate:               0.05,
	}
}

func testCatalog() *catalog.Catalog {
	mod := 1.0
	templates := []catalog.Template{
		{ID: tplRoubles, Name: "Roubles", CategoryID: "cat-money", Kind: "money", MaxStack: 500000},
		{ID: tplDollars, Name: "Dollars", CategoryID: "cat-money", Kind: "money", MaxStack: 50000},
		{ID: tplAmmo, Name: "5.45x39 PS", CategoryID: catAmmo, Kind: "ammo", HandbookPrice: 100, MaxStack: 60},
		{ID: tplRifle, Name: "AK-74N", CategoryID: catWeapons, Kind: "weapon", HandbookPrice: 40000, MaxStack: 1, PriceModifier: &mod},
		{ID: tplScope, Name: "PSO-1", CategoryID: catWeapons, Kind: "mod", HandbookPrice: 12000, MaxStack: 1},
		{ID: tplKey, Name: "Dorm room key", CategoryID: catKeys, Kind: "key", HandbookPrice: 25000, MaxStack: 1, TierLevel: 20},
		{ID: tplMedkit, Name: "Field medkit", CategoryID: catMeds, Kind: "med", HandbookPrice: 18000, MaxStack: 1},
		{ID: tplCase, Name: "Secure case", CategoryID: catKeys, Kind: "container", HandbookPrice: 500000, MaxStack: 1, FleaBanned: true},
	}
	flea := map[string]int64{
		tplAmmo:   120,
		tplRifle:  45000,
		tplScope:  15000,
		tplKey:    60000,
		tplMedkit: 20000,
	}
	currencies := map[string]int64{
		tplRoubles: 1,
		tplDollars: 140,
	}
	return catalog.NewStatic(templates, flea, currencies)
}

func roubleReq(count int64) []models.Requirement {
	return []models.Requirement{{TplID: tplRoubles, Count: count}}
}

// playerOffer builds a money-priced player offer ready for the store.
func playerOffer(id, tpl string, perItem int64, qty int) *models.Offer {
	return &models.Offer{
		ID:               id,
		Items:            []models.Item{{ID: "item-" + id, TplID: tpl, StackCount: qty}},
		Seller:           models.OfferSeller{ID: "seller-" + id, Nickname: "seller-" + id},
		Requirements:     roubleReq(perItem),
		RequirementsCost: perItem,
		Quantity:         qty,
		TotalQuantity:    qty,
		CreatedAt:        testNow,
		EndTime:          testNow.Add(12 * time.Hour),
	}
}

// traderOffer builds a trader-backed offer.
func traderOffer(id, tpl string, perItem int64, qty, loyalty int) *models.Offer {
	o := playerOffer(id, tpl, perItem, qty)
	o.Seller = models.OfferSeller{ID: traderID, Nickname: "Prapor", IsTrader: true, LoyaltyLevel: loyalty}
	return o
}

func testProfile(id string, level int, roubles int64) *models.Profile {
	return &models.Profile{
		ID:              id,
		Username:        id,
		Nickname:        id,
		Level:           level,
		Roubles:         roubles,
		TraderLoyalty:   map[string]int{},
		CompletedQuests: map[string]bool{},
	}
}

type sentMail struct {
	ProfileID  string
	MessageKey string
	Items      []models.Item
}

// fakeMailer records deliveries for assertions.
type fakeMailer struct {
	sent []sentMail
}

func (m *fakeMailer) SendItems(profileID, messageKey string, items []models.Item) {
	m.sent = append(m.sent, sentMail{ProfileID: profileID, MessageKey: messageKey, Items: items})
}

// flatTax always charges the same fee, keeping listing tests independent of
// the tax formula.
type flatTax struct {
	fee int64
}

func (t flatTax) CalculateTax(string, float64, int64, int, bool, *models.Profile) int64 {
	return t.fee
}
