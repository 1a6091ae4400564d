package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-pricing/internal/domain/discount"
)

type tierRequest struct {
	ID       string           `json:"id" validate:"required"`
	Quantity int64            `json:"quantity" validate:"gt=0"`
	Price    *decimal.Decimal `json:"price" validate:"required"`
}

type discountRequest struct {
	Name                 string             `json:"name" validate:"required"`
	Description          string             `json:"description"`
	Articles             []tierRequest      `json:"articles" validate:"dive"`
	BaseDiscountedAmount *decimal.Decimal   `json:"baseDiscountedAmount"`
	DiscountTypeID       int64              `json:"discountTypeId" validate:"gt=0"`
	StartDate            *time.Time         `json:"startDate"`
	EndDate              *time.Time         `json:"endDate"`
	ParameterValues      []parameterRequest `json:"parameterValues" validate:"dive"`
}

func (req discountRequest) input() discount.CreateInput {
	in := discount.CreateInput{
		Name:        req.Name,
		Description: req.Description,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		TypeID:      req.DiscountTypeID,
		Tiers:       make([]discount.TierInput, len(req.Articles)),
		Parameters:  parameterInputs(req.ParameterValues),
	}
	if req.BaseDiscountedAmount != nil {
		in.BaseDiscountedAmount = *req.BaseDiscountedAmount
	}
	for i, a := range req.Articles {
		in.Tiers[i] = discount.TierInput{
			ExternalArticleID: a.ID,
			Quantity:          a.Quantity,
			Price:             *a.Price,
		}
	}
	return in
}

// ListDiscounts serves GET /v1/discounts?articleId=.
func (h *Handler) ListDiscounts(w http.ResponseWriter, r *http.Request) {
	listings, err := h.discounts.ListActive(r.Context(), r.URL.Query().Get("articleId"))
	if err != nil {
		fail(w, r, err)
		return
	}

	var e jx.Encoder
	e.ArrStart()
	for _, l := range listings {
		encodeListing(&e, l)
	}
	e.ArrEnd()
	writeJSON(w, http.StatusOK, e.Bytes())
}

// CreateDiscount serves POST /v1/discounts.
func (h *Handler) CreateDiscount(w http.ResponseWriter, r *http.Request) {
	var req discountRequest
	if err := h.decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}

	id, err := h.discounts.Create(r.Context(), req.input())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, encodeID(id))
}

// UpdateDiscount serves PUT /v1/discounts/{id}. The discount is replaced and
// the ID of the replacement returned.
func (h *Handler) UpdateDiscount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var req discountRequest
	if err := h.decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}

	newID, err := h.discounts.Update(r.Context(), id, req.input())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, encodeID(newID))
}

// DisableDiscount serves DELETE /v1/discounts/{id}.
func (h *Handler) DisableDiscount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := h.discounts.Disable(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func encodeID(id int64) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(id)
	e.ObjEnd()
	return e.Bytes()
}

func encodeListing(e *jx.Encoder, l discount.Listing) {
	d := l.Discount
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(d.ID)
	e.FieldStart("name")
	e.Str(d.Name)
	e.FieldStart("description")
	e.Str(d.Description)

	e.FieldStart("articles")
	e.ArrStart()
	for _, t := range l.Tiers {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(t.ExternalArticleID)
		e.FieldStart("quantity")
		e.Int64(t.TierQuantity)
		e.FieldStart("price")
		encodeDecimal(e, t.TierPrice)
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("baseDiscountedAmount")
	encodeDecimal(e, d.BaseDiscountedAmount)

	e.FieldStart("discountType")
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(l.Type.ID)
	e.FieldStart("name")
	e.Str(l.Type.Name)
	e.FieldStart("description")
	e.Str(l.Type.Description)
	e.FieldStart("parameters")
	e.ArrStart()
	for _, p := range l.Parameters {
		e.ObjStart()
		e.FieldStart("id")
		e.Int64(p.ID)
		e.FieldStart("name")
		e.Str(p.Name)
		e.FieldStart("dataTypeName")
		e.Str(string(p.DataType))
		e.FieldStart("value")
		e.Str(p.Value)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()

	e.FieldStart("startDate")
	encodeTime(e, d.StartDate)
	if d.EndDate != nil {
		e.FieldStart("endDate")
		encodeTime(e, *d.EndDate)
	}
	e.ObjEnd()
}
