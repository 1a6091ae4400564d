package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-pricing/internal/domain/discount"
)

const (
	discountColumns = `d.id, d.name, d.description, d.start_date, d.end_date,
		d.base_discounted_amount, d.discount_type_id`

	activeCondition = `d.start_date <= $1 AND (d.end_date IS NULL OR d.end_date > $1)`

	getDiscountSQL = `SELECT ` + discountColumns + ` FROM discounts d WHERE d.id = $1`

	activeDiscountsSQL = `SELECT ` + discountColumns + ` FROM discounts d
		WHERE ` + activeCondition + ` ORDER BY d.id`

	activeDiscountsForArticleSQL = `SELECT ` + discountColumns + ` FROM discounts d
		WHERE ` + activeCondition + ` AND EXISTS (
			SELECT 1 FROM article_discounts ad
			JOIN articles a ON a.id = ad.article_id
			WHERE ad.discount_id = d.id AND a.external_id = $2)
		ORDER BY d.id`

	discountsWithNoArticlesSQL = `SELECT ` + discountColumns + ` FROM discounts d
		WHERE ` + activeCondition + ` AND NOT EXISTS (
			SELECT 1 FROM article_discounts ad WHERE ad.discount_id = d.id)
		ORDER BY d.id`

	tierColumns = `ad.article_id, a.external_id, ad.discount_id, ad.tier_quantity, ad.tier_price`

	articleDiscountsForSQL = `SELECT ` + tierColumns + ` FROM article_discounts ad
		JOIN articles a ON a.id = ad.article_id
		WHERE ad.article_id = ANY($1) AND ad.discount_id = ANY($2)
		ORDER BY ad.discount_id, ad.article_id`

	tiersForSQL = `SELECT ` + tierColumns + ` FROM article_discounts ad
		JOIN articles a ON a.id = ad.article_id
		WHERE ad.discount_id = ANY($1)
		ORDER BY ad.discount_id, ad.article_id`

	tierCountsSQL = `SELECT discount_id, count(*) FROM article_discounts
		WHERE discount_id = ANY($1) GROUP BY discount_id`

	parameterValuesSQL = `SELECT discount_id, parameter_id, value FROM discount_parameter_values
		WHERE discount_id = ANY($1) ORDER BY discount_id, parameter_id`

	getTypeSQL = `SELECT id, name, description FROM discount_types WHERE id = $1`

	parametersForSQL = `SELECT id, discount_type_id, name, data_type FROM discount_type_parameters
		WHERE discount_type_id = $1 ORDER BY id`

	insertDiscountSQL = `INSERT INTO discounts
		(name, description, start_date, end_date, base_discounted_amount, discount_type_id)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`

	insertTierSQL = `INSERT INTO article_discounts (discount_id, article_id, tier_quantity, tier_price)
		VALUES ($1, $2, $3, $4)`

	insertValueSQL = `INSERT INTO discount_parameter_values (discount_id, parameter_id, value)
		VALUES ($1, $2, $3)`

	setEndDateSQL = `UPDATE discounts SET end_date = $2 WHERE id = $1`

	endOpenDiscountSQL = `UPDATE discounts SET end_date = $2
		WHERE id = $1 AND (end_date IS NULL OR end_date > $2)`
)

var _ discount.Repository = (*DiscountStore)(nil)

// DiscountStore implements discount.Repository backed by PostgreSQL.
type DiscountStore struct {
	db DB
}

// NewDiscountStore returns a DiscountStore that uses the given connection.
func NewDiscountStore(db DB) *DiscountStore {
	return &DiscountStore{db: db}
}

// Get returns the discount with the given ID, active or not.
func (s *DiscountStore) Get(ctx context.Context, id int64) (*discount.Discount, error) {
	rows, err := s.db.Query(ctx, getDiscountSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting discount %d: %w", id, err)
	}

	d, err := pgx.CollectExactlyOneRow(rows, scanDiscount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, fmt.Errorf("getting discount %d: %w", id, err)
	}
	return &d, nil
}

// ActiveDiscounts returns the discounts active at asOf.
func (s *DiscountStore) ActiveDiscounts(ctx context.Context, asOf time.Time) ([]discount.Discount, error) {
	return s.listDiscounts(ctx, "listing active discounts", activeDiscountsSQL, asOf)
}

// ActiveDiscountsForArticle returns the discounts active at asOf with a tier
// on the given article.
func (s *DiscountStore) ActiveDiscountsForArticle(ctx context.Context, asOf time.Time, externalID string) ([]discount.Discount, error) {
	return s.listDiscounts(ctx, "listing article discounts", activeDiscountsForArticleSQL, asOf, externalID)
}

// DiscountsWithNoArticles returns the active discounts without any tier.
func (s *DiscountStore) DiscountsWithNoArticles(ctx context.Context, asOf time.Time) ([]discount.Discount, error) {
	return s.listDiscounts(ctx, "listing cart-wide discounts", discountsWithNoArticlesSQL, asOf)
}

func (s *DiscountStore) listDiscounts(ctx context.Context, op, sql string, args ...any) ([]discount.Discount, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ds, err := pgx.CollectRows(rows, scanDiscount)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ds, nil
}

// ArticleDiscountsFor returns the tiers joining any of articleIDs to any of discountIDs.
func (s *DiscountStore) ArticleDiscountsFor(ctx context.Context, articleIDs, discountIDs []int64) ([]discount.ArticleDiscount, error) {
	rows, err := s.db.Query(ctx, articleDiscountsForSQL, articleIDs, discountIDs)
	if err != nil {
		return nil, fmt.Errorf("listing article discounts: %w", err)
	}
	return pgx.CollectRows(rows, scanTier)
}

// TiersFor returns all tiers of the given discounts.
func (s *DiscountStore) TiersFor(ctx context.Context, discountIDs []int64) ([]discount.ArticleDiscount, error) {
	rows, err := s.db.Query(ctx, tiersForSQL, discountIDs)
	if err != nil {
		return nil, fmt.Errorf("listing tiers: %w", err)
	}
	return pgx.CollectRows(rows, scanTier)
}

// TierCounts returns the number of tiers of each discount that has any.
func (s *DiscountStore) TierCounts(ctx context.Context, discountIDs []int64) (map[int64]int, error) {
	rows, err := s.db.Query(ctx, tierCountsSQL, discountIDs)
	if err != nil {
		return nil, fmt.Errorf("counting tiers: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int, len(discountIDs))
	for rows.Next() {
		var id, n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scanning tier count: %w", err)
		}
		counts[id] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("counting tiers: %w", err)
	}
	return counts, nil
}

// ParameterValuesFor returns the stored parameter values of the given discounts.
func (s *DiscountStore) ParameterValuesFor(ctx context.Context, discountIDs []int64) ([]discount.StoredValue, error) {
	rows, err := s.db.Query(ctx, parameterValuesSQL, discountIDs)
	if err != nil {
		return nil, fmt.Errorf("listing parameter values: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (discount.StoredValue, error) {
		var v discount.StoredValue
		err := row.Scan(&v.DiscountID, &v.ParameterID, &v.Value)
		return v, err
	})
}

// DiscountType returns the discount type with the given ID.
func (s *DiscountStore) DiscountType(ctx context.Context, id int64) (*discount.Type, error) {
	var t discount.Type
	err := s.db.QueryRow(ctx, getTypeSQL, id).Scan(&t.ID, &t.Name, &t.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrTypeNotFound
		}
		return nil, fmt.Errorf("getting discount type %d: %w", id, err)
	}
	return &t, nil
}

// ParametersFor returns the parameters declared by a discount type, ordered by ID.
func (s *DiscountStore) ParametersFor(ctx context.Context, typeID int64) ([]discount.Parameter, error) {
	rows, err := s.db.Query(ctx, parametersForSQL, typeID)
	if err != nil {
		return nil, fmt.Errorf("listing parameters of type %d: %w", typeID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (discount.Parameter, error) {
		var (
			p        discount.Parameter
			dataType *string
		)
		if err := row.Scan(&p.ID, &p.TypeID, &p.Name, &dataType); err != nil {
			return p, err
		}
		if dataType != nil {
			p.DataType = discount.DataType(*dataType)
		}
		return p, nil
	})
}

// Create inserts the discount with its tiers and parameter values.
func (s *DiscountStore) Create(ctx context.Context, d discount.Draft) (int64, error) {
	var id int64
	err := inTx(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		id, err = insertDraft(ctx, tx, d)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Replace ends discount id at endAt, when still open, and inserts d.
func (s *DiscountStore) Replace(ctx context.Context, id int64, endAt time.Time, d discount.Draft) (int64, error) {
	var newID int64
	err := inTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, endOpenDiscountSQL, id, endAt); err != nil {
			return fmt.Errorf("ending discount %d: %w", id, err)
		}
		var err error
		newID, err = insertDraft(ctx, tx, d)
		return err
	})
	if err != nil {
		return 0, err
	}
	return newID, nil
}

// SetEndDate sets the end date of discount id.
func (s *DiscountStore) SetEndDate(ctx context.Context, id int64, endAt time.Time) error {
	tag, err := s.db.Exec(ctx, setEndDateSQL, id, endAt)
	if err != nil {
		return fmt.Errorf("setting end date of discount %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrNotFound
	}
	return nil
}

func insertDraft(ctx context.Context, tx pgx.Tx, d discount.Draft) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, insertDiscountSQL,
		d.Discount.Name, d.Discount.Description, d.Discount.StartDate, d.Discount.EndDate,
		d.Discount.BaseDiscountedAmount, d.Discount.TypeID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting discount: %w", err)
	}

	for _, t := range d.Tiers {
		if _, err := tx.Exec(ctx, insertTierSQL, id, t.ArticleID, t.TierQuantity, t.TierPrice); err != nil {
			return 0, fmt.Errorf("inserting tier on article %d: %w", t.ArticleID, err)
		}
	}
	for _, v := range d.Values {
		if _, err := tx.Exec(ctx, insertValueSQL, id, v.ParameterID, v.Value); err != nil {
			return 0, fmt.Errorf("inserting value of parameter %d: %w", v.ParameterID, err)
		}
	}
	return id, nil
}

func scanDiscount(row pgx.CollectableRow) (discount.Discount, error) {
	var d discount.Discount
	err := row.Scan(
		&d.ID, &d.Name, &d.Description, &d.StartDate, &d.EndDate,
		&d.BaseDiscountedAmount, &d.TypeID,
	)
	if err != nil {
		return d, fmt.Errorf("scanning discount: %w", err)
	}
	return d, nil
}

func scanTier(row pgx.CollectableRow) (discount.ArticleDiscount, error) {
	var t discount.ArticleDiscount
	err := row.Scan(&t.ArticleID, &t.ExternalArticleID, &t.DiscountID, &t.TierQuantity, &t.TierPrice)
	if err != nil {
		return t, fmt.Errorf("scanning tier: %w", err)
	}
	return t, nil
}
