package postgres

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-pricing/internal/domain/catalog"
)

const (
	findArticlesSQL = `SELECT id, external_id, state FROM articles WHERE external_id = ANY($1)`

	getArticleSQL = `SELECT id, external_id, state FROM articles WHERE external_id = $1`

	currentPriceSQL = `SELECT article_id, price, start_date FROM article_prices
		WHERE article_id = $1 AND start_date <= $2
		ORDER BY start_date DESC, id DESC LIMIT 1`

	currentPricesSQL = `SELECT DISTINCT ON (p.article_id) p.article_id, p.price
		FROM article_prices p
		JOIN articles a ON a.id = p.article_id AND a.state = 'TAXED'
		WHERE p.article_id = ANY($1) AND p.start_date <= $2
		ORDER BY p.article_id, p.start_date DESC, p.id DESC`

	upsertTaxedArticleSQL = `INSERT INTO articles (external_id, state) VALUES ($1, 'TAXED')
		ON CONFLICT (external_id) DO UPDATE SET state = 'TAXED', updated_at = now()
		RETURNING id`

	insertPriceSQL = `INSERT INTO article_prices (article_id, price, start_date) VALUES ($1, $2, $3)`

	markDeletedSQL = `UPDATE articles SET state = 'DELETED', updated_at = now()
		WHERE external_id = $1 AND state <> 'DELETED'`
)

var _ catalog.Repository = (*ArticleStore)(nil)

// ArticleStore implements catalog.Repository backed by PostgreSQL.
type ArticleStore struct {
	db DB
}

// NewArticleStore returns an ArticleStore that uses the given connection.
func NewArticleStore(db DB) *ArticleStore {
	return &ArticleStore{db: db}
}

// FindArticlesByExternalIDs returns the articles that exist among ids.
func (s *ArticleStore) FindArticlesByExternalIDs(ctx context.Context, ids []string) ([]catalog.Article, error) {
	rows, err := s.db.Query(ctx, findArticlesSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("finding articles: %w", err)
	}
	return pgx.CollectRows(rows, scanArticle)
}

// GetArticle returns the article with the given external ID.
func (s *ArticleStore) GetArticle(ctx context.Context, externalID string) (*catalog.Article, error) {
	rows, err := s.db.Query(ctx, getArticleSQL, externalID)
	if err != nil {
		return nil, fmt.Errorf("getting article %q: %w", externalID, err)
	}

	a, err := pgx.CollectExactlyOneRow(rows, scanArticle)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrArticleNotFound
		}
		return nil, fmt.Errorf("getting article %q: %w", externalID, err)
	}
	return &a, nil
}

// CurrentPrice returns the latest price of the article starting at or before asOf.
func (s *ArticleStore) CurrentPrice(ctx context.Context, articleID int64, asOf time.Time) (*catalog.Price, error) {
	var p catalog.Price
	err := s.db.QueryRow(ctx, currentPriceSQL, articleID, asOf).Scan(&p.ArticleID, &p.Price, &p.StartDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrPriceNotFound
		}
		return nil, fmt.Errorf("getting price of article %d: %w", articleID, err)
	}
	return &p, nil
}

// CurrentPrices returns the current price of each taxed article among articleIDs.
func (s *ArticleStore) CurrentPrices(ctx context.Context, articleIDs []int64, asOf time.Time) (map[int64]decimal.Decimal, error) {
	rows, err := s.db.Query(ctx, currentPricesSQL, articleIDs, asOf)
	if err != nil {
		return nil, fmt.Errorf("getting current prices: %w", err)
	}
	defer rows.Close()

	prices := make(map[int64]decimal.Decimal, len(articleIDs))
	for rows.Next() {
		var (
			id    int64
			price decimal.Decimal
		)
		if err := rows.Scan(&id, &price); err != nil {
			return nil, fmt.Errorf("scanning price: %w", err)
		}
		prices[id] = price
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("getting current prices: %w", err)
	}
	return prices, nil
}

// SetPrices marks every entry's article taxed and records its price, in one
// transaction. Articles are written in external id order so concurrent calls
// lock shared rows in the same order.
func (s *ArticleStore) SetPrices(ctx context.Context, entries []catalog.PriceEntry) error {
	ordered := slices.Clone(entries)
	slices.SortStableFunc(ordered, func(a, b catalog.PriceEntry) int {
		return cmp.Compare(a.ExternalArticleID, b.ExternalArticleID)
	})
	return inTx(ctx, s.db, func(tx pgx.Tx) error {
		for _, e := range ordered {
			var id int64
			if err := tx.QueryRow(ctx, upsertTaxedArticleSQL, e.ExternalArticleID).Scan(&id); err != nil {
				return fmt.Errorf("upserting article %q: %w", e.ExternalArticleID, err)
			}
			if _, err := tx.Exec(ctx, insertPriceSQL, id, e.Price, e.StartDate); err != nil {
				return fmt.Errorf("inserting price of article %q: %w", e.ExternalArticleID, err)
			}
		}
		return nil
	})
}

// MarkDeleted moves the article to the DELETED state.
func (s *ArticleStore) MarkDeleted(ctx context.Context, externalID string) error {
	if _, err := s.db.Exec(ctx, markDeletedSQL, externalID); err != nil {
		return fmt.Errorf("marking article %q deleted: %w", externalID, err)
	}
	return nil
}

func scanArticle(row pgx.CollectableRow) (catalog.Article, error) {
	var (
		a     catalog.Article
		state string
	)
	if err := row.Scan(&a.ID, &a.ExternalID, &state); err != nil {
		return a, fmt.Errorf("scanning article: %w", err)
	}
	a.State = catalog.State(state)
	return a, nil
}
