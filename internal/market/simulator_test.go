package market

import (
	"math/rand"
	"testing"
)

func TestSaleSimulator_CalculateSellChance(t *testing.T) {
	sim := NewSaleSimulator(testCfg(), rand.New(rand.NewSource(1)))

	tests := []struct {
		name    string
		avg     float64
		ask     float64
		quality float64
	}{
		{name: "AtMarketPrice", avg: 10000, ask: 10000, quality: 1},
		{name: "Underpriced", avg: 10000, ask: 5000, quality: 1},
		{name: "HeavilyOverpriced", avg: 10000, ask: 100000, quality: 1},
		{name: "WornItem", avg: 10000, ask: 10000, quality: 0.3},
		{name: "ZeroAsk", avg: 10000, ask: 0, quality: 1},
		{name: "ZeroAvg", avg: 0, ask: 10000, quality: 1},
		{name: "TinyQuality", avg: 10000, ask: 10000, quality: 0.01},
	}

	cfg := testCfg()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chance := sim.CalculateSellChance(tt.avg, tt.ask, tt.quality)
			if chance < cfg.MinSellChancePercent || chance > cfg.MaxSellChancePercent {
				t.Errorf("chance %f outside [%f, %f]", chance, cfg.MinSellChancePercent, cfg.MaxSellChancePercent)
			}
		})
	}
}

func TestSaleSimulator_ChanceRewardsUnderpricing(t *testing.T) {
	sim := NewSaleSimulator(testCfg(), rand.New(rand.NewSource(1)))

	under := sim.CalculateSellChance(10000, 8000, 1)
	at := sim.CalculateSellChance(10000, 10000, 1)
	over := sim.CalculateSellChance(10000, 12000, 1)

	if !(under >= at && at >= over) {
		t.Errorf("expected monotone chance, got under=%f at=%f over=%f", under, at, over)
	}
	if over >= at && at != testCfg().MaxSellChancePercent {
		t.Errorf("overpricing should cost chance: at=%f over=%f", at, over)
	}
}

func TestSaleSimulator_RollForSale_ZeroChance(t *testing.T) {
	sim := NewSaleSimulator(testCfg(), rand.New(rand.NewSource(1)))
	if events := sim.RollForSale(0, 100, false, testNow); len(events) != 0 {
		t.Errorf("expected no events at zero chance, got %d", len(events))
	}
}

func TestSaleSimulator_RollForSale_QuantityConserved(t *testing.T) {
	cfg := testCfg()
	for seed := int64(0); seed < 20; seed++ {
		sim := NewSaleSimulator(cfg, rand.New(rand.NewSource(seed)))
		const qty = 50
		events := sim.RollForSale(60, qty, false, testNow)

		total := 0
		last := testNow
		for _, ev := range events {
			total += ev.Amount
			if ev.SellTime.Before(last) {
				t.Fatalf("seed %d: events out of chronological order", seed)
			}
			last = ev.SellTime
			if ev.SellTime.After(testNow.Add(cfg.OfferDuration)) {
				t.Fatalf("seed %d: event scheduled past the offer window", seed)
			}
		}
		if total > qty {
			t.Fatalf("seed %d: sold %d units from a stack of %d", seed, total, qty)
		}
	}
}

func TestSaleSimulator_RollForSale_OnePiece(t *testing.T) {
	// Full chance and sell-as-one-piece: exactly one event for the whole
	// bundle.
	sim := NewSaleSimulator(testCfg(), rand.New(rand.NewSource(7)))
	events := sim.RollForSale(100, 30, true, testNow)

	if len(events) != 1 {
		t.Fatalf("expected a single pack sale event, got %d", len(events))
	}
	if events[0].Amount != 30 {
		t.Errorf("expected the whole bundle of 30, got %d", events[0].Amount)
	}
}

func TestSaleSimulator_SellDelayBounds(t *testing.T) {
	cfg := testCfg()
	sim := NewSaleSimulator(cfg, rand.New(rand.NewSource(3)))

	for _, chance := range []float64{5, 25, 50, 75, 100} {
		d := sim.sellDelay(chance)
		if d < cfg.MinSellDelay || d > cfg.MaxSellDelay {
			t.Errorf("chance %f: delay %v outside [%v, %v]", chance, d, cfg.MinSellDelay, cfg.MaxSellDelay)
		}
	}

	if sim.sellDelay(100) >= sim.sellDelay(5) {
		t.Error("higher chance should sell faster")
	}
}
