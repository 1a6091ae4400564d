// Package catalog models sellable articles and their effective-dated prices.
package catalog

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrArticleNotFound is returned by a Store when an article does not exist.
	ErrArticleNotFound = errors.New("article not found")
	// ErrPriceNotFound is returned by a Store when no price is effective yet.
	ErrPriceNotFound = errors.New("price not found")
)

// State is the lifecycle state of an article.
type State string

const (
	StateUntaxed State = "UNTAXED"
	StateTaxed   State = "TAXED"
	StateDeleted State = "DELETED"
)

// Article is a catalog article known to the pricing service.
type Article struct {
	ID         int64
	ExternalID string
	State      State
}

// Price is an immutable price record effective from StartDate on.
type Price struct {
	ArticleID int64
	Price     decimal.Decimal
	StartDate time.Time
}

// PriceEntry is a price keyed by external article ID, as written by callers.
type PriceEntry struct {
	ExternalArticleID string
	Price             decimal.Decimal
	StartDate         time.Time
}

// Reader provides the queries needed to price a cart.
type Reader interface {
	// FindArticlesByExternalIDs returns the subset of articles that exist.
	FindArticlesByExternalIDs(ctx context.Context, externalIDs []string) ([]Article, error)
	// CurrentPrices returns, for each taxed article, the price with the latest
	// start date not after asOf. Articles without such a price are absent.
	CurrentPrices(ctx context.Context, articleIDs []int64, asOf time.Time) (map[int64]decimal.Decimal, error)
}

// Repository extends Reader with the lookups and mutations of price management.
type Repository interface {
	Reader

	GetArticle(ctx context.Context, externalID string) (*Article, error)
	CurrentPrice(ctx context.Context, articleID int64, asOf time.Time) (*Price, error)
	// SetPrices marks each article taxed, creating it when needed, and appends
	// its price record. All entries are written in one transaction.
	SetPrices(ctx context.Context, entries []PriceEntry) error
	// MarkDeleted moves the article to StateDeleted. Unknown articles are ignored.
	MarkDeleted(ctx context.Context, externalID string) error
}

// ArticleChecker asks the external catalog whether an article exists.
type ArticleChecker interface {
	ArticleExists(ctx context.Context, externalID string) (bool, error)
}

// PriceUpdated is emitted after a new price has been recorded.
type PriceUpdated struct {
	ExternalArticleID string
	Price             decimal.Decimal
	StartDate         time.Time
}

// Publisher emits price events to downstream consumers.
type Publisher interface {
	PublishPriceUpdated(ctx context.Context, ev PriceUpdated) error
}
