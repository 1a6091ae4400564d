package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-pricing/internal/domain/apperr"
	"github.com/xenking/kart-pricing/internal/domain/discount"
)

// FilterEligible keeps the candidates whose quantity tiers are all met by the
// cart. quantities maps internal article IDs of the cart to their quantity,
// records holds the tiers of the candidates on those articles, and tierCounts
// the number of tiers of each candidate over all articles.
//
// A candidate without tiers is a cart-wide discount and is eligible only with a
// positive base discounted amount. A candidate with a tier on an article the
// cart does not hold is not eligible.
func FilterEligible(
	quantities map[int64]int64,
	candidates []discount.Discount,
	records []discount.ArticleDiscount,
	tierCounts map[int64]int,
) ([]discount.Discount, error) {
	relevant := make(map[int64][]discount.ArticleDiscount, len(candidates))
	for _, r := range records {
		if _, ok := quantities[r.ArticleID]; !ok {
			return nil, apperr.Internalf("discount %d has a tier on article %d outside the cart", r.DiscountID, r.ArticleID)
		}
		if r.TierQuantity <= 0 || !r.TierPrice.IsPositive() {
			return nil, apperr.Internalf("discount %d has an invalid tier on article %d", r.DiscountID, r.ArticleID)
		}
		relevant[r.DiscountID] = append(relevant[r.DiscountID], r)
	}

	eligible := make([]discount.Discount, 0, len(candidates))
	for _, d := range candidates {
		tiers := relevant[d.ID]
		total := tierCounts[d.ID]
		if total == 0 {
			if len(tiers) > 0 {
				return nil, apperr.Internalf("discount %d has tiers but no tier count", d.ID)
			}
			if d.BaseDiscountedAmount.IsPositive() {
				eligible = append(eligible, d)
			}
			continue
		}
		if len(tiers) < total {
			continue
		}

		met := true
		for _, t := range tiers {
			if quantities[t.ArticleID] < t.TierQuantity {
				met = false
				break
			}
		}
		if met {
			eligible = append(eligible, d)
		}
	}
	return eligible, nil
}

// FilterByParameters keeps the candidates whose stored parameter values are
// matched by the caller selection. Candidates without stored values are kept.
// A parameterized candidate needs a selection naming it, the selection must be
// a valid parameter set for its type, and each stored value must equal the
// selected value of the same parameter in its stored text form.
func FilterByParameters(
	ctx context.Context,
	checker discount.ParameterChecker,
	candidates []discount.Discount,
	stored []discount.StoredValue,
	sel *Selection,
) ([]discount.Discount, error) {
	values := make(map[int64][]discount.StoredValue)
	for _, v := range stored {
		values[v.DiscountID] = append(values[v.DiscountID], v)
	}

	lg := zctx.From(ctx)
	kept := make([]discount.Discount, 0, len(candidates))
	for _, d := range candidates {
		want := values[d.ID]
		if len(want) == 0 {
			kept = append(kept, d)
			continue
		}
		if sel == nil || sel.DiscountID != d.ID {
			continue
		}

		if err := checker.Resolve(ctx, d.TypeID, sel.Parameters); err != nil {
			switch {
			case errors.Is(err, apperr.ErrBadRequest):
				lg.Debug("Selected discount parameters rejected",
					zap.Int64("discount_id", d.ID),
					zap.Error(err),
				)
				continue
			case errors.Is(err, apperr.ErrNotFound):
				return nil, apperr.Internalf("discount %d references unknown type %d", d.ID, d.TypeID)
			default:
				return nil, errors.Wrapf(err, "resolve parameters of discount %d", d.ID)
			}
		}

		if matches(want, sel.Parameters) {
			kept = append(kept, d)
		}
	}
	return kept, nil
}

func matches(want []discount.StoredValue, got []discount.ParameterInput) bool {
	byID := make(map[int64]discount.Value, len(got))
	for _, p := range got {
		byID[p.ParameterID] = p.Value
	}
	for _, w := range want {
		v, ok := byID[w.ParameterID]
		if !ok {
			return false
		}
		// Stored values are written with Value.String; the Resolver has
		// already checked the selected value against the declared type.
		if v.String() != w.Value {
			return false
		}
	}
	return true
}
