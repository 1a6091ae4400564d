// Package discount models discounts, their typed parameters and the
// per-article quantity tiers that gate and price them.
package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned by a Store when a discount does not exist.
	ErrNotFound = errors.New("discount not found")
	// ErrTypeNotFound is returned by a Store when a discount type does not exist.
	ErrTypeNotFound = errors.New("discount type not found")
)

// Discount is a priced promotion valid inside [StartDate, EndDate).
// A nil EndDate leaves the discount open-ended. Discounts are never removed:
// disabling one sets its EndDate.
type Discount struct {
	ID                   int64
	Name                 string
	Description          string
	StartDate            time.Time
	EndDate              *time.Time
	BaseDiscountedAmount decimal.Decimal
	TypeID               int64
}

// IsActive reports whether now falls inside the validity window.
func (d Discount) IsActive(now time.Time) bool {
	if d.StartDate.After(now) {
		return false
	}
	return d.EndDate == nil || d.EndDate.After(now)
}

// Ended reports whether the discount has been disabled or has expired at now.
func (d Discount) Ended(now time.Time) bool {
	return d.EndDate != nil && !d.EndDate.After(now)
}

// ArticleDiscount is a quantity tier: every TierQuantity units of the article
// cost TierPrice each, the remainder is charged at the current price.
type ArticleDiscount struct {
	ArticleID         int64
	ExternalArticleID string
	DiscountID        int64
	TierQuantity      int64
	TierPrice         decimal.Decimal
}

// Type is the schema of a discount, declaring the parameters its instances carry.
type Type struct {
	ID          int64
	Name        string
	Description string
}

// Parameter is a parameter declared by a discount type. An empty DataType
// means the declaration is incomplete.
type Parameter struct {
	ID       int64
	TypeID   int64
	Name     string
	DataType DataType
}

// StoredValue is the value a discount assigns to one of its type's parameters.
type StoredValue struct {
	DiscountID  int64
	ParameterID int64
	Value       string
}

// ParameterInput is a parameter value supplied by a caller.
type ParameterInput struct {
	ParameterID int64
	Value       Value
}

// Draft holds everything persisted when a discount is created.
type Draft struct {
	Discount Discount
	Tiers    []ArticleDiscount
	Values   []StoredValue
}

// TypeReader loads discount type definitions.
type TypeReader interface {
	DiscountType(ctx context.Context, id int64) (*Type, error)
	ParametersFor(ctx context.Context, typeID int64) ([]Parameter, error)
}

// Reader provides the queries needed to resolve the discount of a cart.
type Reader interface {
	TypeReader

	// ActiveDiscounts returns discounts active at asOf ordered by ID.
	ActiveDiscounts(ctx context.Context, asOf time.Time) ([]Discount, error)
	// ArticleDiscountsFor returns tiers for every (article, discount) pair of
	// the cross product of the given IDs.
	ArticleDiscountsFor(ctx context.Context, articleIDs, discountIDs []int64) ([]ArticleDiscount, error)
	// TierCounts returns the total number of tiers of each discount, across
	// all articles. Discounts without tiers are absent from the map.
	TierCounts(ctx context.Context, discountIDs []int64) (map[int64]int, error)
	// ParameterValuesFor returns the stored parameter values of the discounts.
	ParameterValuesFor(ctx context.Context, discountIDs []int64) ([]StoredValue, error)
}

// Repository extends Reader with lookups and mutations used to manage discounts.
type Repository interface {
	Reader

	Get(ctx context.Context, id int64) (*Discount, error)
	// ActiveDiscountsForArticle returns discounts active at asOf having a tier
	// on the article with the given external ID.
	ActiveDiscountsForArticle(ctx context.Context, asOf time.Time, externalArticleID string) ([]Discount, error)
	// DiscountsWithNoArticles returns cart-wide discounts active at asOf.
	DiscountsWithNoArticles(ctx context.Context, asOf time.Time) ([]Discount, error)
	// TiersFor returns every tier of the discounts.
	TiersFor(ctx context.Context, discountIDs []int64) ([]ArticleDiscount, error)
	Create(ctx context.Context, d Draft) (int64, error)
	// Replace ends discount id at endAt, unless it has already ended, and
	// creates d in the same transaction.
	Replace(ctx context.Context, id int64, endAt time.Time, d Draft) (int64, error)
	SetEndDate(ctx context.Context, id int64, endAt time.Time) error
}
