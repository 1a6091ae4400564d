package cart

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-pricing/internal/domain/apperr"
	"github.com/xenking/kart-pricing/internal/domain/catalog"
	"github.com/xenking/kart-pricing/internal/domain/discount"
)

// Engine resolves the cost of carts. It only reads from its stores, so one
// Engine may serve concurrent requests.
type Engine struct {
	articles  catalog.Reader
	discounts discount.Reader
	params    discount.ParameterChecker
	now       func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(
	articles catalog.Reader,
	discounts discount.Reader,
	params discount.ParameterChecker,
) *Engine {
	return &Engine{
		articles:  articles,
		discounts: discounts,
		params:    params,
		now:       time.Now,
	}
}

// snapshot is everything read from the stores for one resolution.
type snapshot struct {
	items      []Item
	active     []discount.Discount
	records    []discount.ArticleDiscount
	tierCounts map[int64]int
	prices     map[int64]decimal.Decimal
	stored     []discount.StoredValue
}

// Resolve prices the cart without a discount and with every applicable
// discount, and returns the cheapest result. A discount is applied only when
// it is strictly cheaper than the undiscounted cart; equal discounted totals
// resolve to the lowest discount ID.
func (e *Engine) Resolve(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	now := e.now()

	snap, err := e.load(ctx, req, now)
	if err != nil {
		return nil, err
	}

	quantities := make(map[int64]int64, len(snap.items))
	for _, it := range snap.items {
		quantities[it.ArticleID] = it.Quantity
	}
	eligible, err := FilterEligible(quantities, snap.active, snap.records, snap.tierCounts)
	if err != nil {
		return nil, err
	}
	eligible, err = FilterByParameters(ctx, e.params, eligible, snap.stored, req.Selection)
	if err != nil {
		return nil, err
	}

	baseline, err := Price(snap.items, snap.prices, nil, nil)
	if err != nil {
		return nil, err
	}

	tiers := make(map[int64]map[int64]discount.ArticleDiscount)
	for _, r := range snap.records {
		if tiers[r.DiscountID] == nil {
			tiers[r.DiscountID] = make(map[int64]discount.ArticleDiscount)
		}
		tiers[r.DiscountID][r.ArticleID] = r
	}

	slices.SortFunc(eligible, func(a, b discount.Discount) int { return cmp.Compare(a.ID, b.ID) })

	var (
		best        *Pricing
		bestApplied *discount.Discount
	)
	for i := range eligible {
		d := &eligible[i]
		priced, err := Price(snap.items, snap.prices, d, tiers[d.ID])
		if err != nil {
			return nil, err
		}
		if best == nil || priced.Total.LessThan(best.Total) {
			best, bestApplied = priced, d
		}
	}

	lg := zctx.From(ctx)
	if best == nil || !best.Total.LessThan(baseline.Total) {
		lg.Debug("Cart priced without discount",
			zap.Int("eligible", len(eligible)),
			zap.Stringer("total", baseline.Total),
		)
		return &Result{TotalAmount: baseline.Total, Lines: baseline.Lines}, nil
	}

	lg.Debug("Cart priced with discount",
		zap.Int64("discount_id", bestApplied.ID),
		zap.Int("eligible", len(eligible)),
		zap.Stringer("total", best.Total),
		zap.Stringer("baseline", baseline.Total),
	)
	return &Result{
		TotalAmount: best.Total,
		Lines:       best.Lines,
		Discount: &AppliedDiscount{
			ID:          bestApplied.ID,
			Name:        bestApplied.Name,
			Description: bestApplied.Description,
		},
	}, nil
}

func validate(req Request) error {
	if len(req.Lines) == 0 {
		return apperr.BadRequestf("cart has no articles")
	}
	seen := make(map[string]struct{}, len(req.Lines))
	for _, l := range req.Lines {
		if l.ExternalArticleID == "" {
			return apperr.BadRequestf("article id is required")
		}
		if l.Quantity <= 0 {
			return apperr.BadRequestf("quantity must be greater than 0 for article %s", l.ExternalArticleID)
		}
		if _, dup := seen[l.ExternalArticleID]; dup {
			return apperr.BadRequestf("article %s appears more than once", l.ExternalArticleID)
		}
		seen[l.ExternalArticleID] = struct{}{}
	}
	return nil
}

// load reads the articles and active discounts concurrently, then the data
// that depends on their IDs, again concurrently.
func (e *Engine) load(ctx context.Context, req Request, now time.Time) (*snapshot, error) {
	ids := make([]string, len(req.Lines))
	for i, l := range req.Lines {
		ids[i] = l.ExternalArticleID
	}

	var (
		snap  snapshot
		found []catalog.Article
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if found, err = e.articles.FindArticlesByExternalIDs(gctx, ids); err != nil {
			return errors.Wrap(err, "find articles")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if snap.active, err = e.discounts.ActiveDiscounts(gctx, now); err != nil {
			return errors.Wrap(err, "load active discounts")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byExternal := make(map[string]int64, len(found))
	for _, a := range found {
		byExternal[a.ExternalID] = a.ID
	}
	var missing []string
	snap.items = make([]Item, 0, len(req.Lines))
	for _, l := range req.Lines {
		id, ok := byExternal[l.ExternalArticleID]
		if !ok {
			missing = append(missing, l.ExternalArticleID)
			continue
		}
		snap.items = append(snap.items, Item{Line: l, ArticleID: id})
	}
	if len(missing) > 0 {
		return nil, &MissingArticlesError{IDs: missing}
	}

	articleIDs := make([]int64, len(snap.items))
	for i, it := range snap.items {
		articleIDs[i] = it.ArticleID
	}
	discountIDs := make([]int64, len(snap.active))
	for i, d := range snap.active {
		discountIDs[i] = d.ID
	}

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if snap.prices, err = e.articles.CurrentPrices(gctx, articleIDs, now); err != nil {
			return errors.Wrap(err, "load current prices")
		}
		return nil
	})
	if len(discountIDs) > 0 {
		g.Go(func() error {
			var err error
			if snap.records, err = e.discounts.ArticleDiscountsFor(gctx, articleIDs, discountIDs); err != nil {
				return errors.Wrap(err, "load article discounts")
			}
			return nil
		})
		g.Go(func() error {
			var err error
			if snap.tierCounts, err = e.discounts.TierCounts(gctx, discountIDs); err != nil {
				return errors.Wrap(err, "load tier counts")
			}
			return nil
		})
		g.Go(func() error {
			var err error
			if snap.stored, err = e.discounts.ParameterValuesFor(gctx, discountIDs); err != nil {
				return errors.Wrap(err, "load parameter values")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &snap, nil
}
