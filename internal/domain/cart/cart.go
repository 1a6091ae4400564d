// Package cart prices carts and picks the best applicable discount.
package cart

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-pricing/internal/domain/apperr"
	"github.com/xenking/kart-pricing/internal/domain/discount"
)

// Line is a requested quantity of one article.
type Line struct {
	ExternalArticleID string
	Quantity          int64
}

// Selection names the discount the caller wants applied, with the parameter
// values it must match (a coupon code, for example).
type Selection struct {
	DiscountID int64
	Parameters []discount.ParameterInput
}

// Request holds the input for resolving the cost of a cart.
type Request struct {
	Lines     []Line
	Selection *Selection
}

// LineResult is the priced form of a Line. DiscountAmount is set only on
// lines priced with a quantity tier.
type LineResult struct {
	ExternalArticleID string
	Quantity          int64
	Amount            decimal.Decimal
	DiscountAmount    *decimal.Decimal
}

// AppliedDiscount identifies the discount used to price a cart.
type AppliedDiscount struct {
	ID          int64
	Name        string
	Description string
}

// Result is the resolved cost of a cart. Discount is nil when the cart is
// priced without one.
type Result struct {
	TotalAmount decimal.Decimal
	Lines       []LineResult
	Discount    *AppliedDiscount
}

// MissingArticlesError lists the cart articles unknown to the pricing store,
// in cart order.
type MissingArticlesError struct {
	IDs []string
}

func (e *MissingArticlesError) Error() string {
	return fmt.Sprintf("articles not found: %s", strings.Join(e.IDs, ", "))
}

func (e *MissingArticlesError) Unwrap() error { return apperr.ErrNotFound }

// ArticleNotTaxedError indicates a cart article has no effective price.
type ArticleNotTaxedError struct {
	ExternalArticleID string
}

func (e *ArticleNotTaxedError) Error() string {
	return fmt.Sprintf("article %s has not been taxed", e.ExternalArticleID)
}

func (e *ArticleNotTaxedError) Unwrap() error { return apperr.ErrBadRequest }

// Item is a cart line resolved to an internal article.
type Item struct {
	Line
	ArticleID int64
}
