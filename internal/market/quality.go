package market

import (
	"math"

	"github.com/xtrntr/fleamarket/internal/models"
)

// qualityFloor keeps a fully broken item from zeroing out the whole offer
// price.
const qualityFloor = 0.01

// itemQuality returns a 0-1 condition multiplier for one item. Repairable
// durability uses a square root so light wear costs little, heavy wear a
// lot; charges and key uses degrade linearly.
func itemQuality(item *models.Item) float64 {
	q := 1.0
	switch {
	case item.Repairable != nil && item.Repairable.MaxDurability > 0:
		q = math.Sqrt(item.Repairable.Durability / item.Repairable.MaxDurability)
	case item.Resource != nil && item.Resource.Max > 0:
		q = item.Resource.Value / item.Resource.Max
	case item.Key != nil && item.Key.MaxUses > 0:
		q = float64(item.Key.UsesLeft) / float64(item.Key.MaxUses)
	}
	if q < qualityFloor {
		return qualityFloor
	}
	if q > 1 {
		return 1
	}
	return q
}

// qualityModifier averages item quality across a root item and its children.
func qualityModifier(items []models.Item) float64 {
	if len(items) == 0 {
		return 1
	}
	sum := 0.0
	for i := range items {
		sum += itemQuality(&items[i])
	}
	return sum / float64(len(items))
}

// conditionPercent reports an item's condition as a 0-100 percentage,
// feeding the search condition range filter.
func conditionPercent(item *models.Item) int {
	switch {
	case item.Repairable != nil && item.Repairable.MaxDurability > 0:
		return int(item.Repairable.Durability / item.Repairable.MaxDurability * 100)
	case item.Resource != nil && item.Resource.Max > 0:
		return int(item.Resource.Value / item.Resource.Max * 100)
	case item.Key != nil && item.Key.MaxUses > 0:
		return item.Key.UsesLeft * 100 / item.Key.MaxUses
	}
	return 100
}
