// Package handler implements the pricing HTTP API.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/kart-pricing/internal/domain/apperr"
	"github.com/xenking/kart-pricing/internal/domain/cart"
	"github.com/xenking/kart-pricing/internal/domain/catalog"
	"github.com/xenking/kart-pricing/internal/domain/discount"
	"github.com/xenking/kart-pricing/internal/remote"
	"github.com/xenking/kart-pricing/pkg/httpmiddleware"
)

// PriceService manages article prices.
type PriceService interface {
	CurrentPrice(ctx context.Context, externalID string) (*catalog.Price, error)
	UpdatePrice(ctx context.Context, in catalog.UpdatePriceInput) (*catalog.PriceEntry, error)
}

// DiscountService manages the discount lifecycle.
type DiscountService interface {
	Create(ctx context.Context, in discount.CreateInput) (int64, error)
	Update(ctx context.Context, id int64, in discount.CreateInput) (int64, error)
	Disable(ctx context.Context, id int64) error
	ListActive(ctx context.Context, externalArticleID string) ([]discount.Listing, error)
}

// CartEngine resolves the cost of a cart.
type CartEngine interface {
	Resolve(ctx context.Context, req cart.Request) (*cart.Result, error)
}

// Handler serves the /v1 API.
type Handler struct {
	prices    PriceService
	discounts DiscountService
	engine    CartEngine
	validate  *validator.Validate

	resolutions metric.Int64Counter
}

// NewHandler creates a Handler. Cart resolutions are counted on meter.
func NewHandler(
	prices PriceService,
	discounts DiscountService,
	engine CartEngine,
	meter metric.Meter,
) (*Handler, error) {
	resolutions, err := meter.Int64Counter("pricing.cart.resolutions",
		metric.WithDescription("Number of resolved carts"),
		metric.WithUnit("{cart}"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cart resolutions counter")
	}
	return &Handler{
		prices:      prices,
		discounts:   discounts,
		engine:      engine,
		validate:    newValidator(),
		resolutions: resolutions,
	}, nil
}

// Mount registers the API on r. Every route requires a session accepted by auth.
func (h *Handler) Mount(r chi.Router, auth Authenticator) {
	r.Route("/v1", func(r chi.Router) {
		r.Use(Authenticate(auth))

		r.Get("/prices", h.GetPrice)
		r.Post("/prices", h.UpdatePrice)

		r.Get("/discounts", h.ListDiscounts)
		r.Post("/discounts", h.CreateDiscount)
		r.Put("/discounts/{id}", h.UpdateDiscount)
		r.Delete("/discounts/{id}", h.DisableDiscount)

		r.Post("/cart/cost", h.CartCost)
	})
}

// statusOf maps an error class to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, remote.ErrUnauthenticated):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as an API error. Server faults are logged and answered
// with a generic message.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	switch status := statusOf(err); status {
	case http.StatusInternalServerError:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		httpmiddleware.WriteError(w, status, "internal server error")
	case http.StatusUnauthorized:
		httpmiddleware.WriteError(w, status, "unauthorized")
	default:
		httpmiddleware.WriteError(w, status, apperr.Message(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
