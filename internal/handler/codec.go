package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-pricing/internal/domain/apperr"
	"github.com/xenking/kart-pricing/internal/domain/discount"
)

const maxBodySize = 1 << 20

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it. Failures are
// classified as bad requests.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(dst); err != nil {
		return apperr.BadRequestf("invalid request body: %s", decodeMessage(err))
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return apperr.BadRequestf("%s", validationMessage(verrs))
		}
		return errors.Wrap(err, "validate request")
	}
	return nil
}

func decodeMessage(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return fmt.Sprintf("field '%s' must be %s", typeErr.Field, typeErr.Type)
	}
	return err.Error()
}

func validationMessage(verrs validator.ValidationErrors) string {
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		// Drop the root struct name.
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		msgs[i] = fmt.Sprintf("field '%s' %s", field, msgForTag(fe))
	}
	return strings.Join(msgs, "; ")
}

func msgForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "min":
		return fmt.Sprintf("must have at least %s elements", fe.Param())
	default:
		return fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
}

// pathID parses the {id} URL parameter.
func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.BadRequestf("invalid id %q", raw)
	}
	return id, nil
}

// paramValue is a parameter value given as a JSON string or number.
type paramValue discount.Value

func (p *paramValue) UnmarshalJSON(data []byte) error {
	d := jx.DecodeBytes(data)
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return err
		}
		if s == "" {
			return errors.New("parameter value must not be an empty string")
		}
		*p = paramValue(discount.StringValue(s))
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return err
		}
		if n.IsInt() {
			i, err := n.Int64()
			if err != nil {
				return err
			}
			*p = paramValue(discount.IntValue(i))
			return nil
		}
		f, err := n.Float64()
		if err != nil {
			return err
		}
		*p = paramValue(discount.FloatValue(f))
	default:
		return errors.New("parameter value must be a string or a number")
	}
	return nil
}

type parameterRequest struct {
	ID    int64       `json:"id" validate:"gt=0"`
	Value *paramValue `json:"value" validate:"required"`
}

func parameterInputs(in []parameterRequest) []discount.ParameterInput {
	out := make([]discount.ParameterInput, len(in))
	for i, p := range in {
		out[i] = discount.ParameterInput{
			ParameterID: p.ID,
			Value:       discount.Value(*p.Value),
		}
	}
	return out
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func encodeDecimal(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.String()))
}
