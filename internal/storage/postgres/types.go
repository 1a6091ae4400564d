package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-pricing/internal/domain/discount"
)

const (
	upsertTypeSQL = `INSERT INTO discount_types (name, description) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
RETURNING id`

	upsertParameterSQL = `INSERT INTO discount_type_parameters (discount_type_id, name, data_type)
VALUES ($1, $2, $3)
ON CONFLICT (discount_type_id, name) DO UPDATE SET data_type = EXCLUDED.data_type`
)

// UpsertType creates discount type t, or updates the type with the same name,
// together with its declared parameters. It returns the type ID.
func (s *DiscountStore) UpsertType(ctx context.Context, t discount.Type, params []discount.Parameter) (int64, error) {
	var id int64
	err := inTx(ctx, s.db, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, upsertTypeSQL, t.Name, t.Description).Scan(&id); err != nil {
			return fmt.Errorf("upserting discount type %s: %w", t.Name, err)
		}
		for _, p := range params {
			var dataType *string
			if p.DataType != "" {
				dt := string(p.DataType)
				dataType = &dt
			}
			if _, err := tx.Exec(ctx, upsertParameterSQL, id, p.Name, dataType); err != nil {
				return fmt.Errorf("upserting parameter %s of type %s: %w", p.Name, t.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}
