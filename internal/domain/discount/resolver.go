package discount

import (
	"context"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-pricing/internal/domain/apperr"
)

// ParameterChecker validates caller parameter values for a discount type.
type ParameterChecker interface {
	Resolve(ctx context.Context, typeID int64, inputs []ParameterInput) error
}

// Resolver implements ParameterChecker over the declared parameters of a
// discount type loaded from a TypeReader. It has no side effects.
type Resolver struct {
	types TypeReader
}

// NewResolver creates a Resolver backed by the given TypeReader.
func NewResolver(types TypeReader) *Resolver {
	return &Resolver{types: types}
}

// Resolve checks that inputs supply exactly the parameters declared by the
// discount type, each with a value of the declared data type.
func (r *Resolver) Resolve(ctx context.Context, typeID int64, inputs []ParameterInput) error {
	typ, err := r.types.DiscountType(ctx, typeID)
	if err != nil {
		if errors.Is(err, ErrTypeNotFound) {
			return apperr.NotFoundf("discount type %d not found", typeID)
		}
		return errors.Wrap(err, "load discount type")
	}

	params, err := r.types.ParametersFor(ctx, typeID)
	if err != nil {
		return errors.Wrap(err, "load discount type parameters")
	}

	if len(params) != len(inputs) {
		if len(params) == 0 {
			return apperr.BadRequestf("discount type %s takes no parameters", typ.Name)
		}
		names := make([]string, len(params))
		for i, p := range params {
			names[i] = p.Name
		}
		return apperr.BadRequestf("discount type %s requires parameters: %s", typ.Name, strings.Join(names, ", "))
	}

	byID := make(map[int64]Value, len(inputs))
	for _, in := range inputs {
		byID[in.ParameterID] = in.Value
	}

	for _, p := range params {
		v, ok := byID[p.ID]
		if !ok {
			return apperr.BadRequestf("parameter %s is missing", p.Name)
		}
		if p.DataType == "" {
			return apperr.Internalf("parameter %s has an invalid type", p.Name)
		}
		if err := ValidateValue(v, p.DataType); err != nil {
			var typeErr *InvalidParameterTypeError
			if errors.As(err, &typeErr) {
				typeErr.Parameter = p.Name
			}
			return err
		}
	}

	return nil
}
