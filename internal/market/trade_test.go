package market

import (
	"errors"
	"sync"
	"testing"

	"github.com/xtrntr/fleamarket/internal/models"
)

func newTradeFixture() (*TradeExecutor, *OfferStore, *ProfileStore, *fakeMailer) {
	store := NewOfferStore()
	profiles := NewProfileStore()
	mailer := &fakeMailer{}
	executor := NewTradeExecutor(store, profiles, testCatalog(), testCfg(), mailer, fixedNow)
	return executor, store, profiles, mailer
}

func TestTradeExecutor_BuyFromTrader(t *testing.T) {
	executor, store, profiles, mailer := newTradeFixture()

	offer := traderOffer("o1", tplAmmo, 100, 50, 1)
	store.Insert(offer)
	buyer := testProfile("buyer", 20, 10000)
	buyer.TraderLoyalty[traderID] = 1
	profiles.Register(buyer)

	if err := executor.Buy("buyer", "o1", 20); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if buyer.Roubles != 8000 {
		t.Errorf("expected 8000 roubles left, got %d", buyer.Roubles)
	}
	if offer.Quantity != 30 {
		t.Errorf("expected 30 units left, got %d", offer.Quantity)
	}
	if buyer.TraderPurchases[traderID]["o1"] != 20 {
		t.Errorf("expected purchase counter 20, got %d", buyer.TraderPurchases[traderID]["o1"])
	}
	if len(mailer.sent) != 1 || mailer.sent[0].MessageKey != msgPurchase {
		t.Fatalf("expected purchase mail, got %+v", mailer.sent)
	}
	if mailer.sent[0].Items[0].StackCount != 20 {
		t.Errorf("expected 20 units mailed, got %d", mailer.sent[0].Items[0].StackCount)
	}
}

func TestTradeExecutor_BuyRejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(store *OfferStore, buyer *models.Profile)
		offerID string
		count   int
		wantErr error
	}{
		{
			name:    "unknown offer",
			setup:   func(*OfferStore, *models.Profile) {},
			offerID: "nope",
			count:   1,
			wantErr: ErrOfferNotFound,
		},
		{
			name: "zero count",
			setup: func(store *OfferStore, _ *models.Profile) {
				store.Insert(traderOffer("o1", tplAmmo, 100, 50, 1))
			},
			offerID: "o1",
			count:   0,
			wantErr: ErrInvalidQuantity,
		},
		{
			name: "count above stock",
			setup: func(store *OfferStore, _ *models.Profile) {
				store.Insert(traderOffer("o1", tplAmmo, 100, 5, 1))
			},
			offerID: "o1",
			count:   6,
			wantErr: ErrOutOfStock,
		},
		{
			name: "loyalty too low",
			setup: func(store *OfferStore, _ *models.Profile) {
				store.Insert(traderOffer("o1", tplAmmo, 100, 50, 3))
			},
			offerID: "o1",
			count:   1,
			wantErr: ErrLoyaltyTooLow,
		},
		{
			name: "insufficient funds",
			setup: func(store *OfferStore, buyer *models.Profile) {
				store.Insert(traderOffer("o1", tplAmmo, 100, 50, 1))
				buyer.Roubles = 50
			},
			offerID: "o1",
			count:   1,
			wantErr: ErrInsufficientFunds,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor, store, profiles, mailer := newTradeFixture()
			buyer := testProfile("buyer", 20, 10000)
			buyer.TraderLoyalty[traderID] = 1
			tt.setup(store, buyer)
			profiles.Register(buyer)
			before := buyer.Roubles

			err := executor.Buy("buyer", tt.offerID, tt.count)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if buyer.Roubles != before {
				t.Errorf("rejected purchase moved funds: %d -> %d", before, buyer.Roubles)
			}
			if len(mailer.sent) != 0 {
				t.Errorf("rejected purchase sent mail: %+v", mailer.sent)
			}
		})
	}
}

func TestTradeExecutor_BuyRestrictionCap(t *testing.T) {
	executor, store, profiles, _ := newTradeFixture()

	offer := traderOffer("o1", tplAmmo, 100, 50, 1)
	cur, max := 0, 10
	offer.BuyRestrictionCurrent = &cur
	offer.BuyRestrictionMax = &max
	store.Insert(offer)
	buyer := testProfile("buyer", 20, 10000)
	buyer.TraderLoyalty[traderID] = 1
	profiles.Register(buyer)

	if err := executor.Buy("buyer", "o1", 10); err != nil {
		t.Fatalf("buy within restriction failed: %v", err)
	}
	before := buyer.Roubles

	err := executor.Buy("buyer", "o1", 1)
	if !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("expected out-of-stock past restriction cap, got %v", err)
	}
	if buyer.Roubles != before {
		t.Errorf("capped purchase moved funds: %d -> %d", before, buyer.Roubles)
	}
}

func TestTradeExecutor_ConcurrentTraderBuysNeverOversell(t *testing.T) {
	for iter := 0; iter < 100; iter++ {
		executor, store, profiles, _ := newTradeFixture()
		store.Insert(traderOffer("o1", tplAmmo, 100, 10, 1))

		buyers := []*models.Profile{
			testProfile("buyer-a", 20, 10000),
			testProfile("buyer-b", 20, 10000),
		}
		for _, b := range buyers {
			b.TraderLoyalty[traderID] = 1
			profiles.Register(b)
		}

		// Both race for the full stock; only one reservation can win.
		var wg sync.WaitGroup
		errs := make([]error, len(buyers))
		for i := range buyers {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = executor.Buy(buyers[i].ID, "o1", 10)
			}(i)
		}
		wg.Wait()

		winners := 0
		for i, err := range errs {
			switch {
			case err == nil:
				winners++
				if buyers[i].Roubles != 9000 {
					t.Fatalf("iter %d: winner %s has %d roubles, want 9000", iter, buyers[i].ID, buyers[i].Roubles)
				}
			case buyers[i].Roubles != 10000:
				t.Fatalf("iter %d: %s got %v but lost %d roubles", iter, buyers[i].ID, err, 10000-buyers[i].Roubles)
			}
		}
		if winners != 1 {
			t.Fatalf("iter %d: expected exactly one successful purchase, got %d", iter, winners)
		}
	}
}

func TestTradeExecutor_ConcurrentPlayerBuysNeverOversell(t *testing.T) {
	for iter := 0; iter < 100; iter++ {
		executor, store, profiles, _ := newTradeFixture()

		offer := playerOffer("o1", tplAmmo, 100, 40)
		seller := testProfile(offer.Seller.ID, 20, 0)
		seller.Offers = []*models.Offer{offer}
		profiles.Register(seller)
		store.Insert(offer)

		buyers := []*models.Profile{
			testProfile("buyer-a", 20, 5000),
			testProfile("buyer-b", 20, 5000),
		}
		for _, b := range buyers {
			profiles.Register(b)
		}

		var wg sync.WaitGroup
		errs := make([]error, len(buyers))
		for i := range buyers {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = executor.Buy(buyers[i].ID, "o1", 40)
			}(i)
		}
		wg.Wait()

		winners := 0
		for i, err := range errs {
			switch {
			case err == nil:
				winners++
				if buyers[i].Roubles != 1000 {
					t.Fatalf("iter %d: winner %s has %d roubles, want 1000", iter, buyers[i].ID, buyers[i].Roubles)
				}
			case buyers[i].Roubles != 5000:
				t.Fatalf("iter %d: %s got %v but lost %d roubles", iter, buyers[i].ID, err, 5000-buyers[i].Roubles)
			}
		}
		if winners != 1 {
			t.Fatalf("iter %d: expected exactly one successful purchase, got %d", iter, winners)
		}
		if seller.SellSum != 4000 {
			t.Fatalf("iter %d: seller sell sum %d, want 4000", iter, seller.SellSum)
		}
	}
}

func TestTradeExecutor_BuyFromPlayer(t *testing.T) {
	executor, store, profiles, mailer := newTradeFixture()

	offer := playerOffer("o1", tplAmmo, 100, 40)
	seller := testProfile(offer.Seller.ID, 20, 0)
	seller.Offers = []*models.Offer{offer}
	profiles.Register(seller)
	store.Insert(offer)

	buyer := testProfile("buyer", 20, 5000)
	profiles.Register(buyer)

	if err := executor.Buy("buyer", "o1", 15); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if buyer.Roubles != 3500 {
		t.Errorf("expected 3500 roubles left, got %d", buyer.Roubles)
	}
	if seller.SellSum != 1500 {
		t.Errorf("expected sell sum 1500, got %d", seller.SellSum)
	}
	if offer.Quantity != 25 {
		t.Errorf("expected 25 units left, got %d", offer.Quantity)
	}

	// Seller gets payment, buyer gets items.
	if len(mailer.sent) != 2 {
		t.Fatalf("expected two mails, got %d", len(mailer.sent))
	}
	if mailer.sent[0].ProfileID != seller.ID || mailer.sent[0].MessageKey != msgOfferSold {
		t.Errorf("unexpected seller mail: %+v", mailer.sent[0])
	}
	if mailer.sent[0].Items[0].TplID != tplRoubles || mailer.sent[0].Items[0].StackCount != 1500 {
		t.Errorf("unexpected payment: %+v", mailer.sent[0].Items)
	}
	if mailer.sent[1].ProfileID != "buyer" || mailer.sent[1].Items[0].StackCount != 15 {
		t.Errorf("unexpected buyer mail: %+v", mailer.sent[1])
	}
}

func TestTradeExecutor_BuyPackTakesWholeBundle(t *testing.T) {
	executor, store, profiles, _ := newTradeFixture()

	offer := playerOffer("o1", tplAmmo, 2500, 60)
	offer.SellInOnePiece = true
	seller := testProfile(offer.Seller.ID, 20, 0)
	seller.Offers = []*models.Offer{offer}
	profiles.Register(seller)
	store.Insert(offer)

	buyer := testProfile("buyer", 20, 3000)
	profiles.Register(buyer)

	// The requested count is ignored; packs always move whole.
	if err := executor.Buy("buyer", "o1", 1); err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if buyer.Roubles != 500 {
		t.Errorf("expected bundle price charged once, got %d roubles left", buyer.Roubles)
	}
	if _, ok := store.GetByID("o1"); ok {
		t.Error("pack offer should leave the store after purchase")
	}
	if len(seller.Offers) != 0 {
		t.Error("pack offer should leave the profile after purchase")
	}
}

func TestCompleteOffer_PaymentSplitsIntoStacks(t *testing.T) {
	executor, store, profiles, mailer := newTradeFixture()

	offer := playerOffer("o1", tplDollars, 13, 10)
	offer.Requirements = []models.Requirement{{TplID: tplDollars, Count: 13}}
	seller := testProfile(offer.Seller.ID, 20, 0)
	seller.Offers = []*models.Offer{offer}
	profiles.Register(seller)
	store.Insert(offer)

	sold, err := executor.CompleteOffer(seller, offer, 10)
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if sold != 10 {
		t.Fatalf("expected 10 units sold, got %d", sold)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected one payment mail, got %d", len(mailer.sent))
	}
	var total int64
	for _, it := range mailer.sent[0].Items {
		total += int64(it.StackCount)
	}
	if total != 130 {
		t.Errorf("expected 130 dollars paid, got %d", total)
	}
}

func TestSplitStack(t *testing.T) {
	tests := []struct {
		total    int64
		maxStack int
		want     []int64
	}{
		{130, 50, []int64{50, 50, 30}},
		{50, 50, []int64{50}},
		{49, 50, []int64{49}},
		{0, 50, nil},
		{7, 0, []int64{1, 1, 1, 1, 1, 1, 1}},
	}
	for _, tt := range tests {
		got := SplitStack(tt.total, tt.maxStack)
		if len(got) != len(tt.want) {
			t.Errorf("SplitStack(%d, %d) = %v, want %v", tt.total, tt.maxStack, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("SplitStack(%d, %d) = %v, want %v", tt.total, tt.maxStack, got, tt.want)
				break
			}
		}
	}
}
