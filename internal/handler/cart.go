package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/kart-pricing/internal/domain/cart"
)

type cartLineRequest struct {
	ArticleID string `json:"articleId" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"gt=0"`
}

type selectionRequest struct {
	ID         int64              `json:"id" validate:"gt=0"`
	Parameters []parameterRequest `json:"parameters" validate:"dive"`
}

type cartRequest struct {
	Articles []cartLineRequest `json:"articles" validate:"required,min=1,dive"`
	Discount *selectionRequest `json:"discount"`
}

func (req cartRequest) request() cart.Request {
	out := cart.Request{Lines: make([]cart.Line, len(req.Articles))}
	for i, a := range req.Articles {
		out.Lines[i] = cart.Line{ExternalArticleID: a.ArticleID, Quantity: a.Quantity}
	}
	if req.Discount != nil {
		out.Selection = &cart.Selection{
			DiscountID: req.Discount.ID,
			Parameters: parameterInputs(req.Discount.Parameters),
		}
	}
	return out
}

// CartCost serves POST /v1/cart/cost.
func (h *Handler) CartCost(w http.ResponseWriter, r *http.Request) {
	var req cartRequest
	if err := h.decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}

	ctx := r.Context()
	res, err := h.engine.Resolve(ctx, req.request())
	if err != nil {
		fail(w, r, err)
		return
	}
	h.resolutions.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("discount.applied", res.Discount != nil),
	))
	writeJSON(w, http.StatusOK, encodeCartResult(res))
}

func encodeCartResult(res *cart.Result) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("totalAmount")
	encodeDecimal(&e, res.TotalAmount)

	e.FieldStart("articles")
	e.ArrStart()
	for _, l := range res.Lines {
		e.ObjStart()
		e.FieldStart("articleId")
		e.Str(l.ExternalArticleID)
		e.FieldStart("quantity")
		e.Int64(l.Quantity)
		e.FieldStart("amount")
		encodeDecimal(&e, l.Amount)
		if l.DiscountAmount != nil {
			e.FieldStart("discountAmount")
			encodeDecimal(&e, *l.DiscountAmount)
		}
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("discount")
	if d := res.Discount; d != nil {
		e.ObjStart()
		e.FieldStart("id")
		e.Int64(d.ID)
		e.FieldStart("name")
		e.Str(d.Name)
		e.FieldStart("description")
		e.Str(d.Description)
		e.ObjEnd()
	} else {
		e.Null()
	}
	e.ObjEnd()
	return e.Bytes()
}
