package market

import (
	"math"

	"github.com/xtrntr/fleamarket/internal/catalog"
	"github.com/xtrntr/fleamarket/internal/models"
)

// TaxService computes the listing fee for a candidate offer. The engine only
// depends on this interface; the default implementation below can be swapped
// for an external fee authority.
type TaxService interface {
	CalculateTax(rootTpl string, quality float64, requirementsCost int64, quantity int, sellInOnePiece bool, seller *models.Profile) int64
}

// FleaTax is the standard listing-fee formula. The fee grows super-linearly
// with the gap between an item's base value and its asking price, in both
// directions.
type FleaTax struct {
	catalog *catalog.Catalog
	rate    float64
}

// NewFleaTax creates the default tax service.
func NewFleaTax(cat *catalog.Catalog, rate float64) *FleaTax {
	return &FleaTax{catalog: cat, rate: rate}
}

// CalculateTax implements TaxService.
//
//	tax = VO·T·4^PO + VR·T·4^PR
//	PO  = log10(VO/VR), raised to 1.08 when VR < VO
//	PR  = log10(VR/VO), raised to 1.08 when VR >= VO
//
// VO is the quality-adjusted base value of everything listed, VR the asking
// price in roubles.
func (t *FleaTax) CalculateTax(rootTpl string, quality float64, requirementsCost int64, quantity int, sellInOnePiece bool, seller *models.Profile) int64 {
	base, ok := t.catalog.HandbookPrice(rootTpl)
	if !ok || base <= 0 {
		base = 1
	}
	if quantity < 1 {
		quantity = 1
	}

	vo := float64(base) * quality * float64(quantity)
	vr := float64(requirementsCost)
	if !sellInOnePiece {
		vr *= float64(quantity)
	}
	if vo <= 0 || vr <= 0 {
		return 0
	}

	po := math.Log10(vo / vr)
	if vr < vo {
		po = math.Pow(po, 1.08)
	}
	pr := math.Log10(vr / vo)
	if vr >= vo {
		pr = math.Pow(pr, 1.08)
	}

	tax := vo*t.rate*math.Pow(4, po) + vr*t.rate*math.Pow(4, pr)
	return int64(math.Round(tax))
}
