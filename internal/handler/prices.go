package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-pricing/internal/domain/apperr"
	"github.com/xenking/kart-pricing/internal/domain/catalog"
)

type updatePriceRequest struct {
	ArticleID string           `json:"articleId" validate:"required"`
	Price     *decimal.Decimal `json:"price" validate:"required"`
	StartDate *time.Time       `json:"startDate"`
}

// GetPrice serves GET /v1/prices?articleId=.
func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	articleID := r.URL.Query().Get("articleId")
	if articleID == "" {
		fail(w, r, apperr.BadRequestf("query parameter 'articleId' is required"))
		return
	}

	price, err := h.prices.CurrentPrice(r.Context(), articleID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodePrice(articleID, price.Price, price.StartDate))
}

// UpdatePrice serves POST /v1/prices.
func (h *Handler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	var req updatePriceRequest
	if err := h.decode(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}

	entry, err := h.prices.UpdatePrice(r.Context(), catalog.UpdatePriceInput{
		ExternalArticleID: req.ArticleID,
		Price:             *req.Price,
		StartDate:         req.StartDate,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, encodePrice(entry.ExternalArticleID, entry.Price, entry.StartDate))
}

func encodePrice(articleID string, price decimal.Decimal, start time.Time) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("articleId")
	e.Str(articleID)
	e.FieldStart("price")
	encodeDecimal(&e, price)
	e.FieldStart("startDate")
	encodeTime(&e, start)
	e.ObjEnd()
	return e.Bytes()
}
