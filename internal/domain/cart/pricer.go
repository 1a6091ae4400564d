package cart

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-pricing/internal/domain/discount"
)

// Pricing is a priced cart.
type Pricing struct {
	Total decimal.Decimal
	Lines []LineResult
}

// Price prices the items at their current prices. With a discount, lines
// having a tier in tiers (keyed by internal article ID) are priced by the tier
// and reduced by the base discounted amount; when no line has a tier the
// reduction applies once to the cart total. Amounts never go below zero.
func Price(
	items []Item,
	prices map[int64]decimal.Decimal,
	d *discount.Discount,
	tiers map[int64]discount.ArticleDiscount,
) (*Pricing, error) {
	p := &Pricing{
		Total: decimal.Zero,
		Lines: make([]LineResult, len(items)),
	}

	tiered := false
	for i, it := range items {
		price, ok := prices[it.ArticleID]
		if !ok {
			return nil, &ArticleNotTaxedError{ExternalArticleID: it.ExternalArticleID}
		}
		qty := decimal.NewFromInt(it.Quantity)
		full := price.Mul(qty)

		line := LineResult{
			ExternalArticleID: it.ExternalArticleID,
			Quantity:          it.Quantity,
			Amount:            full,
		}
		if t, ok := tiers[it.ArticleID]; ok && d != nil {
			tiered = true
			line.Amount = tierAmount(it.Quantity, t, price, d.BaseDiscountedAmount)
			saved := full.Sub(line.Amount)
			line.DiscountAmount = &saved
		}

		p.Lines[i] = line
		p.Total = p.Total.Add(line.Amount)
	}

	if d != nil && !tiered {
		p.Total = floorZero(p.Total.Sub(d.BaseDiscountedAmount))
	}
	return p, nil
}

// tierAmount prices qty units as whole tiers at the tier price plus the
// remainder at the current price, less base.
func tierAmount(qty int64, t discount.ArticleDiscount, price, base decimal.Decimal) decimal.Decimal {
	remainder := qty % t.TierQuantity
	tieredUnits := qty - remainder

	raw := t.TierPrice.Mul(decimal.NewFromInt(tieredUnits)).
		Add(price.Mul(decimal.NewFromInt(remainder)))
	return floorZero(raw.Sub(base))
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
