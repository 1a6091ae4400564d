package catalog

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-pricing/internal/domain/apperr"
)

// UpdatePriceInput holds the input for recording a new article price.
// A nil StartDate makes the price effective immediately.
type UpdatePriceInput struct {
	ExternalArticleID string
	Price             decimal.Decimal
	StartDate         *time.Time
}

// Service manages article prices. The external catalog is the source of
// truth for article existence.
type Service struct {
	store   Repository
	checker ArticleChecker
	events  Publisher
	now     func() time.Time
}

// NewService creates a price Service.
func NewService(store Repository, checker ArticleChecker, events Publisher) *Service {
	return &Service{
		store:   store,
		checker: checker,
		events:  events,
		now:     time.Now,
	}
}

// CurrentPrice returns the price of a taxed article effective now.
func (s *Service) CurrentPrice(ctx context.Context, externalID string) (*Price, error) {
	if err := s.ensureInCatalog(ctx, externalID); err != nil {
		return nil, err
	}

	article, err := s.store.GetArticle(ctx, externalID)
	if err != nil {
		if errors.Is(err, ErrArticleNotFound) {
			return nil, apperr.NotFoundf("article %s not found", externalID)
		}
		return nil, errors.Wrap(err, "get article")
	}
	if article.State != StateTaxed {
		return nil, apperr.BadRequestf("article %s has not been taxed", externalID)
	}

	price, err := s.store.CurrentPrice(ctx, article.ID, s.now())
	if err != nil {
		if errors.Is(err, ErrPriceNotFound) {
			return nil, apperr.NotFoundf("article %s has no effective price", externalID)
		}
		return nil, errors.Wrap(err, "get current price")
	}
	return price, nil
}

// UpdatePrice records a new price for an article, marking it taxed, and
// announces the change. A failed announcement does not fail the update.
func (s *Service) UpdatePrice(ctx context.Context, in UpdatePriceInput) (*PriceEntry, error) {
	now := s.now()
	if in.ExternalArticleID == "" {
		return nil, apperr.BadRequestf("article id is required")
	}
	if !in.Price.IsPositive() {
		return nil, apperr.BadRequestf("price must be greater than 0")
	}
	start := now
	if in.StartDate != nil {
		if in.StartDate.Before(now) {
			return nil, apperr.BadRequestf("start date must not be in the past")
		}
		start = *in.StartDate
	}

	if err := s.ensureInCatalog(ctx, in.ExternalArticleID); err != nil {
		return nil, err
	}

	entry := PriceEntry{
		ExternalArticleID: in.ExternalArticleID,
		Price:             in.Price,
		StartDate:         start,
	}
	if err := s.store.SetPrices(ctx, []PriceEntry{entry}); err != nil {
		return nil, errors.Wrap(err, "set price")
	}

	if err := s.events.PublishPriceUpdated(ctx, PriceUpdated(entry)); err != nil {
		zctx.From(ctx).Warn("Publish price update failed",
			zap.String("article_id", entry.ExternalArticleID),
			zap.Error(err),
		)
	}
	return &entry, nil
}

// ensureInCatalog fails with a not-found error when the external catalog
// does not know the article, and records the article as deleted locally.
func (s *Service) ensureInCatalog(ctx context.Context, externalID string) error {
	ok, err := s.checker.ArticleExists(ctx, externalID)
	if err != nil {
		return errors.Wrap(err, "check catalog")
	}
	if ok {
		return nil
	}
	if err := s.store.MarkDeleted(ctx, externalID); err != nil {
		return errors.Wrap(err, "mark article deleted")
	}
	return apperr.NotFoundf("article %s not found in catalog", externalID)
}
