package market

import (
	"math/rand"
	"sync"
	"time"

	"github.com/xtrntr/fleamarket/internal/config"
	"github.com/xtrntr/fleamarket/internal/models"
)

// SaleSimulator rolls the simulated sale schedule for player offers at
// listing time. All randomness flows through one injected source so a test
// can seed it and replay the exact schedule.
type SaleSimulator struct {
	cfg config.FleaConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSaleSimulator creates a simulator. A nil rng gets a time-seeded one.
func NewSaleSimulator(cfg config.FleaConfig, rng *rand.Rand) *SaleSimulator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &SaleSimulator{cfg: cfg, rng: rng}
}

// CalculateSellChance returns the percent chance an offer sells, clamped to
// the configured band. The price ratio enters once linearly and once cubed
// (fourth power overall), so under- and over-pricing swing the chance hard.
func (s *SaleSimulator) CalculateSellChance(avgPrice, askPrice, quality float64) float64 {
	if avgPrice <= 0 || askPrice <= 0 {
		return s.cfg.MinSellChancePercent
	}

	ratio := avgPrice / askPrice * s.cfg.SellMultiplier
	chance := s.cfg.BaseSellChancePercent * quality * ratio * (ratio * ratio * ratio)

	if chance < s.cfg.MinSellChancePercent {
		return s.cfg.MinSellChancePercent
	}
	if chance > s.cfg.MaxSellChancePercent {
		return s.cfg.MaxSellChancePercent
	}
	return chance
}

// RollForSale produces the chronological sale-event queue for an offer
// listed at startTime. Each iteration tries a candidate batch: on a won
// coin-flip the batch sells after a delay inversely weighted by the chance;
// on a lost flip the batch is consumed anyway, tried and not sold, so a
// unit gets exactly one shot per roll. Rolling stops when the quantity is
// exhausted or the offer window elapses.
func (s *SaleSimulator) RollForSale(chance float64, quantity int, sellInOnePiece bool, startTime time.Time) []models.SaleEvent {
	if chance <= 0 || quantity <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var events []models.SaleEvent
	cursor := startTime
	deadline := startTime.Add(s.cfg.OfferDuration)
	remaining := quantity

	for remaining > 0 {
		batch := remaining
		if !sellInOnePiece && remaining > 1 {
			batch = 1 + s.rng.Intn(remaining)
		}

		if s.rng.Float64()*100 < chance {
			cursor = cursor.Add(s.sellDelay(chance))
			if cursor.After(deadline) {
				// Window elapsed; the batch still burned its chance.
				break
			}
			events = append(events, models.SaleEvent{SellTime: cursor, Amount: batch})
		}
		remaining -= batch
	}

	return events
}

// sellDelay maps a sell chance to a wait: high-chance offers clear near the
// minimum delay, low-chance ones near the maximum.
func (s *SaleSimulator) sellDelay(chance float64) time.Duration {
	span := s.cfg.MaxSellDelay - s.cfg.MinSellDelay
	d := s.cfg.MaxSellDelay - time.Duration(float64(span)*chance/100)
	if d < s.cfg.MinSellDelay {
		return s.cfg.MinSellDelay
	}
	return d
}
