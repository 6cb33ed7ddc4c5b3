package market

import (
	"testing"
	"time"

	"github.com/xtrntr/fleamarket/internal/models"
)

func TestOfferStore_InsertAndLookup(t *testing.T) {
	store := NewOfferStore()

	if err := store.Insert(playerOffer("o1", tplAmmo, 120, 60)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := store.Insert(playerOffer("o2", tplAmmo, 140, 30)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := store.Insert(playerOffer("o3", tplRifle, 45000, 1)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	if store.Count() != 3 {
		t.Errorf("expected 3 offers, got %d", store.Count())
	}

	if _, ok := store.GetByID("o2"); !ok {
		t.Error("expected to find o2")
	}
	if _, ok := store.GetByID("missing"); ok {
		t.Error("did not expect to find missing offer")
	}

	var ammo int
	store.EachByTemplate(tplAmmo, func(_ *models.Offer) bool { ammo++; return true })
	if ammo != 2 {
		t.Errorf("expected 2 ammo offers, got %d", ammo)
	}

	var priced int
	store.EachByRequirement(tplRoubles, func(_ *models.Offer) bool { priced++; return true })
	if priced != 3 {
		t.Errorf("expected 3 rouble-priced offers in reverse index, got %d", priced)
	}
}

func TestOfferStore_RejectsEmptyQuantity(t *testing.T) {
	store := NewOfferStore()
	offer := playerOffer("o1", tplAmmo, 120, 60)
	offer.Quantity = 0

	if err := store.Insert(offer); err != ErrInvalidQuantity {
		t.Errorf("expected ErrInvalidQuantity, got %v", err)
	}
	if store.Count() != 0 {
		t.Errorf("expected empty store, got %d offers", store.Count())
	}
}

func TestOfferStore_RemoveByID(t *testing.T) {
	store := NewOfferStore()
	store.Insert(playerOffer("o1", tplAmmo, 120, 60))

	if !store.RemoveByID("o1") {
		t.Error("expected removal to succeed")
	}
	if store.RemoveByID("o1") {
		t.Error("expected second removal to fail")
	}

	var left int
	store.EachByTemplate(tplAmmo, func(_ *models.Offer) bool { left++; return true })
	if left != 0 {
		t.Errorf("expected template index cleared, found %d offers", left)
	}
}

func TestOfferStore_ReserveStock(t *testing.T) {
	store := NewOfferStore()
	store.Insert(playerOffer("o1", tplAmmo, 120, 10))

	reserved, remaining, err := store.ReserveStock("o1", 4)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if reserved != 4 || remaining != 6 {
		t.Errorf("expected 4 reserved with 6 remaining, got %d/%d", reserved, remaining)
	}

	if _, _, err := store.ReserveStock("o1", 7); err != ErrOutOfStock {
		t.Errorf("expected ErrOutOfStock over remaining quantity, got %v", err)
	}

	reserved, remaining, err = store.ReserveStock("o1", 6)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if reserved != 6 || remaining != 0 {
		t.Errorf("expected 6 reserved with 0 remaining, got %d/%d", reserved, remaining)
	}
	if _, ok := store.GetByID("o1"); ok {
		t.Error("exhausted offer should have been removed")
	}
}

func TestOfferStore_ReserveStock_PackTakesAll(t *testing.T) {
	store := NewOfferStore()
	offer := playerOffer("o1", tplAmmo, 2500, 10)
	offer.SellInOnePiece = true
	store.Insert(offer)

	reserved, remaining, err := store.ReserveStock("o1", 1)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if reserved != 10 || remaining != 0 {
		t.Errorf("expected whole bundle reserved, got %d/%d", reserved, remaining)
	}
}

func TestOfferStore_ReserveUpTo(t *testing.T) {
	store := NewOfferStore()
	store.Insert(playerOffer("o1", tplAmmo, 120, 5))

	reserved, remaining, err := store.ReserveUpTo("o1", 8)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if reserved != 5 || remaining != 0 {
		t.Errorf("expected clamp to 5 with 0 remaining, got %d/%d", reserved, remaining)
	}
	if _, _, err := store.ReserveUpTo("o1", 1); err != ErrOfferNotFound {
		t.Errorf("expected ErrOfferNotFound after exhaustion, got %v", err)
	}
}

func TestOfferStore_RestoreStock(t *testing.T) {
	store := NewOfferStore()
	offer := playerOffer("o1", tplAmmo, 120, 4)
	store.Insert(offer)

	if _, _, err := store.ReserveStock("o1", 4); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	store.RestoreStock(offer, 4)

	got, ok := store.GetByID("o1")
	if !ok || got.Quantity != 4 {
		t.Fatalf("expected offer back with quantity 4, got %+v ok=%v", got, ok)
	}
	var indexed int
	store.EachByTemplate(tplAmmo, func(_ *models.Offer) bool { indexed++; return true })
	if indexed != 1 {
		t.Errorf("expected restored offer back in the template index, found %d", indexed)
	}
}

func TestOfferStore_ShortenEndTime(t *testing.T) {
	store := NewOfferStore()
	offer := playerOffer("o1", tplAmmo, 120, 10)
	offer.EndTime = testNow.Add(10 * time.Minute)
	store.Insert(offer)

	grace := testNow.Add(71 * time.Second)
	if !store.ShortenEndTime("o1", grace) {
		t.Error("expected end time to be shortened")
	}
	got, _ := store.GetByID("o1")
	if !got.EndTime.Equal(grace) {
		t.Errorf("expected end time %v, got %v", grace, got.EndTime)
	}

	// Already expiring sooner than the grace window: left unchanged.
	soon := testNow.Add(30 * time.Second)
	offer2 := playerOffer("o2", tplAmmo, 120, 10)
	offer2.EndTime = soon
	store.Insert(offer2)
	if store.ShortenEndTime("o2", grace) {
		t.Error("expected no change when offer already expires sooner")
	}
	got, _ = store.GetByID("o2")
	if !got.EndTime.Equal(soon) {
		t.Errorf("expected end time %v, got %v", soon, got.EndTime)
	}
}

func TestOfferStore_PopDueSaleEvent(t *testing.T) {
	store := NewOfferStore()
	offer := playerOffer("o1", tplAmmo, 120, 10)
	offer.SaleEvents = []models.SaleEvent{
		{SellTime: testNow.Add(10 * time.Minute), Amount: 3},
		{SellTime: testNow.Add(20 * time.Minute), Amount: 7},
	}
	store.Insert(offer)

	if _, ok := store.PopDueSaleEvent("o1", testNow); ok {
		t.Error("no event should be due before its scheduled time")
	}

	ev, ok := store.PopDueSaleEvent("o1", testNow.Add(30*time.Minute))
	if !ok || ev.Amount != 3 {
		t.Errorf("expected earliest event with amount 3, got %+v ok=%v", ev, ok)
	}
	ev, ok = store.PopDueSaleEvent("o1", testNow.Add(30*time.Minute))
	if !ok || ev.Amount != 7 {
		t.Errorf("expected second event with amount 7, got %+v ok=%v", ev, ok)
	}
	if _, ok := store.PopDueSaleEvent("o1", testNow.Add(time.Hour)); ok {
		t.Error("queue should be empty")
	}
}

func TestOfferStore_ReserveStock_RestrictionCap(t *testing.T) {
	store := NewOfferStore()
	offer := traderOffer("t1", tplAmmo, 120, 100, 1)
	current, max := 0, 5
	offer.BuyRestrictionCurrent = &current
	offer.BuyRestrictionMax = &max
	store.Insert(offer)

	if _, _, err := store.ReserveStock("t1", 5); err != nil {
		t.Fatalf("reserve within cap failed: %v", err)
	}
	if _, _, err := store.ReserveStock("t1", 1); err != ErrOutOfStock {
		t.Errorf("expected ErrOutOfStock past the cap, got %v", err)
	}
	got, _ := store.GetByID("t1")
	if got.Quantity != 95 {
		t.Errorf("rejected reservation must not touch stock, quantity = %d", got.Quantity)
	}
}
