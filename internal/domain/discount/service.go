package discount

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-pricing/internal/domain/apperr"
	"github.com/xenking/kart-pricing/internal/domain/catalog"
)

// TierInput describes a quantity tier on one article.
type TierInput struct {
	ExternalArticleID string
	Quantity          int64
	Price             decimal.Decimal
}

// CreateInput holds the input for creating a discount. A nil StartDate makes
// the discount effective immediately; a nil EndDate leaves it open-ended.
type CreateInput struct {
	Name                 string
	Description          string
	StartDate            *time.Time
	EndDate              *time.Time
	BaseDiscountedAmount decimal.Decimal
	TypeID               int64
	Tiers                []TierInput
	Parameters           []ParameterInput
}

// Listing is an active discount with its type, parameters and tiers.
type Listing struct {
	Discount   Discount
	Type       Type
	Parameters []ListedParameter
	Tiers      []ArticleDiscount
}

// ListedParameter is a declared parameter with the value stored by the discount.
type ListedParameter struct {
	Parameter
	Value string
}

// Service manages the discount lifecycle.
type Service struct {
	store    Repository
	params   ParameterChecker
	articles catalog.Reader
	checker  catalog.ArticleChecker
	now      func() time.Time
}

// NewService creates a discount Service.
func NewService(
	store Repository,
	params ParameterChecker,
	articles catalog.Reader,
	checker catalog.ArticleChecker,
) *Service {
	return &Service{
		store:    store,
		params:   params,
		articles: articles,
		checker:  checker,
		now:      time.Now,
	}
}

// Create validates and persists a new discount, returning its ID.
func (s *Service) Create(ctx context.Context, in CreateInput) (int64, error) {
	draft, err := s.draft(ctx, in, s.now())
	if err != nil {
		return 0, err
	}
	id, err := s.store.Create(ctx, *draft)
	if err != nil {
		return 0, errors.Wrap(err, "create discount")
	}
	return id, nil
}

// Update disables discount id and creates its replacement from in, returning
// the new ID. Discounts are never edited in place.
func (s *Service) Update(ctx context.Context, id int64, in CreateInput) (int64, error) {
	now := s.now()
	if _, err := s.get(ctx, id); err != nil {
		return 0, err
	}
	draft, err := s.draft(ctx, in, now)
	if err != nil {
		return 0, err
	}
	newID, err := s.store.Replace(ctx, id, now, *draft)
	if err != nil {
		return 0, errors.Wrapf(err, "replace discount %d", id)
	}
	return newID, nil
}

// Disable ends discount id now.
func (s *Service) Disable(ctx context.Context, id int64) error {
	d, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	now := s.now()
	if d.Ended(now) {
		return apperr.BadRequestf("discount %d already disabled or expired", id)
	}
	if err := s.store.SetEndDate(ctx, id, now); err != nil {
		return errors.Wrapf(err, "disable discount %d", id)
	}
	return nil
}

// ListActive returns the discounts active now. With a non-empty article ID,
// only discounts with a tier on that article and cart-wide discounts are
// returned.
func (s *Service) ListActive(ctx context.Context, externalArticleID string) ([]Listing, error) {
	now := s.now()
	discounts, err := s.activeFor(ctx, now, externalArticleID)
	if err != nil {
		return nil, err
	}
	if len(discounts) == 0 {
		return []Listing{}, nil
	}

	ids := make([]int64, len(discounts))
	for i, d := range discounts {
		ids[i] = d.ID
	}

	tiers, err := s.store.TiersFor(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "load tiers")
	}
	tiersByDiscount := make(map[int64][]ArticleDiscount)
	for _, t := range tiers {
		tiersByDiscount[t.DiscountID] = append(tiersByDiscount[t.DiscountID], t)
	}

	stored, err := s.store.ParameterValuesFor(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "load parameter values")
	}
	values := make(map[int64]map[int64]string)
	for _, v := range stored {
		if values[v.DiscountID] == nil {
			values[v.DiscountID] = make(map[int64]string)
		}
		values[v.DiscountID][v.ParameterID] = v.Value
	}

	types := make(map[int64]*Type)
	params := make(map[int64][]Parameter)
	out := make([]Listing, 0, len(discounts))
	for _, d := range discounts {
		typ, ok := types[d.TypeID]
		if !ok {
			typ, err = s.store.DiscountType(ctx, d.TypeID)
			if err != nil {
				if errors.Is(err, ErrTypeNotFound) {
					return nil, apperr.Internalf("discount %d references unknown type %d", d.ID, d.TypeID)
				}
				return nil, errors.Wrap(err, "load discount type")
			}
			types[d.TypeID] = typ
			if params[d.TypeID], err = s.store.ParametersFor(ctx, d.TypeID); err != nil {
				return nil, errors.Wrap(err, "load discount type parameters")
			}
		}

		listed := make([]ListedParameter, len(params[d.TypeID]))
		for i, p := range params[d.TypeID] {
			listed[i] = ListedParameter{Parameter: p, Value: values[d.ID][p.ID]}
		}
		out = append(out, Listing{
			Discount:   d,
			Type:       *typ,
			Parameters: listed,
			Tiers:      tiersByDiscount[d.ID],
		})
	}
	return out, nil
}

func (s *Service) activeFor(ctx context.Context, now time.Time, externalArticleID string) ([]Discount, error) {
	if externalArticleID == "" {
		discounts, err := s.store.ActiveDiscounts(ctx, now)
		if err != nil {
			return nil, errors.Wrap(err, "load active discounts")
		}
		return discounts, nil
	}

	withArticle, err := s.store.ActiveDiscountsForArticle(ctx, now, externalArticleID)
	if err != nil {
		return nil, errors.Wrap(err, "load article discounts")
	}
	cartWide, err := s.store.DiscountsWithNoArticles(ctx, now)
	if err != nil {
		return nil, errors.Wrap(err, "load cart-wide discounts")
	}

	merged := slices.Concat(withArticle, cartWide)
	slices.SortFunc(merged, func(a, b Discount) int { return cmp.Compare(a.ID, b.ID) })
	return slices.CompactFunc(merged, func(a, b Discount) bool { return a.ID == b.ID }), nil
}

func (s *Service) get(ctx context.Context, id int64) (*Discount, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFoundf("discount %d not found", id)
		}
		return nil, errors.Wrapf(err, "get discount %d", id)
	}
	return d, nil
}

// draft validates in and resolves its articles into a Draft.
func (s *Service) draft(ctx context.Context, in CreateInput, now time.Time) (*Draft, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, apperr.BadRequestf("name is required")
	}
	start := now
	if in.StartDate != nil {
		if in.StartDate.Before(now) {
			return nil, apperr.BadRequestf("start date must not be in the past")
		}
		start = *in.StartDate
	}
	if in.EndDate != nil && !in.EndDate.After(start) {
		return nil, apperr.BadRequestf("end date must be after start date")
	}
	if in.BaseDiscountedAmount.IsNegative() {
		return nil, apperr.BadRequestf("base discounted amount must not be negative")
	}

	ids := make([]string, 0, len(in.Tiers))
	seen := make(map[string]struct{}, len(in.Tiers))
	for _, t := range in.Tiers {
		if t.ExternalArticleID == "" {
			return nil, apperr.BadRequestf("tier article id is required")
		}
		if _, dup := seen[t.ExternalArticleID]; dup {
			return nil, apperr.BadRequestf("article %s has more than one tier", t.ExternalArticleID)
		}
		if t.Quantity <= 0 {
			return nil, apperr.BadRequestf("tier quantity for article %s must be greater than 0", t.ExternalArticleID)
		}
		if !t.Price.IsPositive() {
			return nil, apperr.BadRequestf("tier price for article %s must be greater than 0", t.ExternalArticleID)
		}
		seen[t.ExternalArticleID] = struct{}{}
		ids = append(ids, t.ExternalArticleID)
	}

	if err := s.params.Resolve(ctx, in.TypeID, in.Parameters); err != nil {
		return nil, err
	}

	articles, err := s.resolveArticles(ctx, ids)
	if err != nil {
		return nil, err
	}

	d := &Draft{
		Discount: Discount{
			Name:                 strings.TrimSpace(in.Name),
			Description:          in.Description,
			StartDate:            start,
			EndDate:              in.EndDate,
			BaseDiscountedAmount: in.BaseDiscountedAmount,
			TypeID:               in.TypeID,
		},
		Tiers:  make([]ArticleDiscount, len(in.Tiers)),
		Values: make([]StoredValue, len(in.Parameters)),
	}
	for i, t := range in.Tiers {
		d.Tiers[i] = ArticleDiscount{
			ArticleID:         articles[t.ExternalArticleID].ID,
			ExternalArticleID: t.ExternalArticleID,
			TierQuantity:      t.Quantity,
			TierPrice:         t.Price,
		}
	}
	for i, p := range in.Parameters {
		d.Values[i] = StoredValue{ParameterID: p.ParameterID, Value: p.Value.String()}
	}
	return d, nil
}

// resolveArticles checks that every article exists in the external catalog
// and is taxed locally.
func (s *Service) resolveArticles(ctx context.Context, ids []string) (map[string]catalog.Article, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	for _, id := range ids {
		ok, err := s.checker.ArticleExists(ctx, id)
		if err != nil {
			return nil, errors.Wrap(err, "check catalog")
		}
		if !ok {
			return nil, apperr.NotFoundf("article %s not found in catalog", id)
		}
	}

	found, err := s.articles.FindArticlesByExternalIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "find articles")
	}
	byID := make(map[string]catalog.Article, len(found))
	for _, a := range found {
		byID[a.ExternalID] = a
	}

	var missing []string
	for _, id := range ids {
		a, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		if a.State != catalog.StateTaxed {
			return nil, apperr.BadRequestf("article %s has not been taxed", id)
		}
	}
	if len(missing) > 0 {
		return nil, apperr.BadRequestf("articles not registered: %s", strings.Join(missing, ", "))
	}
	return byID, nil
}
