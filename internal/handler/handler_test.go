package handler

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/kart-pricing/internal/domain/apperr"
	"github.com/xenking/kart-pricing/internal/domain/cart"
	"github.com/xenking/kart-pricing/internal/domain/catalog"
	"github.com/xenking/kart-pricing/internal/domain/discount"
	"github.com/xenking/kart-pricing/internal/remote"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeAuth struct {
	err    error
	tokens []string
}

func (f *fakeAuth) CurrentUser(_ context.Context, token string) (*remote.User, error) {
	f.tokens = append(f.tokens, token)
	if f.err != nil {
		return nil, f.err
	}
	return &remote.User{ID: "u-1", Name: "Ada"}, nil
}

type fakePrices struct {
	price   *catalog.Price
	err     error
	updated *catalog.UpdatePriceInput
	token   string
}

func (f *fakePrices) CurrentPrice(ctx context.Context, _ string) (*catalog.Price, error) {
	f.token = remote.TokenFrom(ctx)
	return f.price, f.err
}

func (f *fakePrices) UpdatePrice(ctx context.Context, in catalog.UpdatePriceInput) (*catalog.PriceEntry, error) {
	f.token = remote.TokenFrom(ctx)
	if f.err != nil {
		return nil, f.err
	}
	f.updated = &in
	start := testNow
	if in.StartDate != nil {
		start = *in.StartDate
	}
	return &catalog.PriceEntry{ExternalArticleID: in.ExternalArticleID, Price: in.Price, StartDate: start}, nil
}

type fakeDiscounts struct {
	listings   []discount.Listing
	filter     string
	created    *discount.CreateInput
	updatedID  int64
	disabledID int64
	err        error
}

func (f *fakeDiscounts) Create(_ context.Context, in discount.CreateInput) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.created = &in
	return 7, nil
}

func (f *fakeDiscounts) Update(_ context.Context, id int64, in discount.CreateInput) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.updatedID = id
	f.created = &in
	return id + 1, nil
}

func (f *fakeDiscounts) Disable(_ context.Context, id int64) error {
	f.disabledID = id
	return f.err
}

func (f *fakeDiscounts) ListActive(_ context.Context, articleID string) ([]discount.Listing, error) {
	f.filter = articleID
	return f.listings, f.err
}

type fakeEngine struct {
	res *cart.Result
	err error
	req *cart.Request
}

func (f *fakeEngine) Resolve(_ context.Context, req cart.Request) (*cart.Result, error) {
	f.req = &req
	return f.res, f.err
}

type fixture struct {
	auth      *fakeAuth
	prices    *fakePrices
	discounts *fakeDiscounts
	engine    *fakeEngine
	router    chi.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		auth:      &fakeAuth{},
		prices:    &fakePrices{},
		discounts: &fakeDiscounts{},
		engine:    &fakeEngine{},
		router:    chi.NewRouter(),
	}
	h, err := NewHandler(f.prices, f.discounts, f.engine, noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	h.Mount(f.router, f.auth)
	return f
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Authorization", "bearer tok")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestAuthenticate(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		authErr error
		code    int
		message string
	}{
		{"Missing", "", nil, http.StatusUnauthorized, "authorization header is missing or invalid"},
		{"WrongScheme", "Basic tok", nil, http.StatusUnauthorized, "authorization header is missing or invalid"},
		{"EmptyToken", "bearer ", nil, http.StatusUnauthorized, "authorization header is missing or invalid"},
		{"Rejected", "bearer tok", remote.ErrUnauthenticated, http.StatusUnauthorized, "unauthorized"},
		{"IdentityDown", "bearer tok", errors.New("connection refused"), http.StatusInternalServerError, "could not validate the session"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.auth.err = tt.authErr

			req := httptest.NewRequest(http.MethodGet, "/v1/prices?articleId=x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			f.router.ServeHTTP(w, req)

			assert.Equal(t, tt.code, w.Code)
			assert.Contains(t, w.Body.String(), tt.message)
			assert.Empty(t, f.prices.token)
		})
	}
}

func TestGetPrice(t *testing.T) {
	f := newFixture(t)
	f.prices.price = &catalog.Price{ArticleID: 1, Price: decimal.RequireFromString("10.50"), StartDate: testNow}

	w := f.do(http.MethodGet, "/v1/prices?articleId=x", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"articleId":"x","price":10.5,"startDate":"2026-03-01T12:00:00Z"}`, w.Body.String())
	assert.Equal(t, "tok", f.prices.token)
	assert.Equal(t, []string{"tok"}, f.auth.tokens)
}

func TestGetPrice_Errors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		err    error
		code   int
		body   string
	}{
		{"MissingQuery", "/v1/prices", nil, http.StatusBadRequest, `{"code":400,"message":"query parameter 'articleId' is required"}`},
		{"NotFound", "/v1/prices?articleId=x", apperr.NotFoundf("article x not found"), http.StatusNotFound, `{"code":404,"message":"article x not found"}`},
		{"NotTaxed", "/v1/prices?articleId=x", errors.Wrap(apperr.BadRequestf("article x has not been taxed"), "current price"), http.StatusBadRequest, `{"code":400,"message":"article x has not been taxed"}`},
		{"CatalogRejectsToken", "/v1/prices?articleId=x", errors.Wrap(remote.ErrUnauthenticated, "check article"), http.StatusUnauthorized, `{"code":401,"message":"unauthorized"}`},
		{"Internal", "/v1/prices?articleId=x", errors.New("pool closed"), http.StatusInternalServerError, `{"code":500,"message":"internal server error"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.prices.err = tt.err

			w := f.do(http.MethodGet, tt.target, "")
			assert.Equal(t, tt.code, w.Code)
			assert.JSONEq(t, tt.body, w.Body.String())
		})
	}
}

func TestUpdatePrice(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/v1/prices", `{"articleId":"x","price":12.25,"startDate":"2026-04-01T00:00:00Z"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"articleId":"x","price":12.25,"startDate":"2026-04-01T00:00:00Z"}`, w.Body.String())

	require.NotNil(t, f.prices.updated)
	assert.Equal(t, "x", f.prices.updated.ExternalArticleID)
	assert.True(t, decimal.RequireFromString("12.25").Equal(f.prices.updated.Price))
	assert.Equal(t, "tok", f.prices.token)
}

func TestUpdatePrice_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"Malformed", `{"articleId":`, "invalid request body"},
		{"WrongType", `{"articleId":5,"price":1}`, "field 'articleId' must be string"},
		{"MissingArticle", `{"price":1}`, "field 'articleId' is required"},
		{"MissingPrice", `{"articleId":"x"}`, "field 'price' is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			w := f.do(http.MethodPost, "/v1/prices", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.message)
			assert.Nil(t, f.prices.updated)
		})
	}
}

func TestListDiscounts(t *testing.T) {
	f := newFixture(t)
	end := testNow.Add(24 * time.Hour)
	f.discounts.listings = []discount.Listing{
		{
			Discount: discount.Discount{
				ID: 3, Name: "Summer", Description: "3 for 2",
				StartDate: testNow, EndDate: &end,
				BaseDiscountedAmount: decimal.Zero, TypeID: 1,
			},
			Type: discount.Type{ID: 1, Name: "coupon", Description: "needs a code"},
			Parameters: []discount.ListedParameter{
				{Parameter: discount.Parameter{ID: 10, TypeID: 1, Name: "code", DataType: discount.DataTypeString}, Value: "SUMMER"},
			},
			Tiers: []discount.ArticleDiscount{
				{ArticleID: 1, ExternalArticleID: "x", DiscountID: 3, TierQuantity: 3, TierPrice: decimal.RequireFromString("8")},
			},
		},
		{
			Discount: discount.Discount{
				ID: 4, Name: "Flat", StartDate: testNow,
				BaseDiscountedAmount: decimal.RequireFromString("5"), TypeID: 2,
			},
			Type:       discount.Type{ID: 2, Name: "plain"},
			Parameters: []discount.ListedParameter{},
		},
	}

	w := f.do(http.MethodGet, "/v1/discounts?articleId=x", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "x", f.discounts.filter)
	assert.JSONEq(t, `[
		{
			"id": 3, "name": "Summer", "description": "3 for 2",
			"articles": [{"id": "x", "quantity": 3, "price": 8}],
			"baseDiscountedAmount": 0,
			"discountType": {
				"id": 1, "name": "coupon", "description": "needs a code",
				"parameters": [{"id": 10, "name": "code", "dataTypeName": "STRING", "value": "SUMMER"}]
			},
			"startDate": "2026-03-01T12:00:00Z",
			"endDate": "2026-03-02T12:00:00Z"
		},
		{
			"id": 4, "name": "Flat", "description": "",
			"articles": [],
			"baseDiscountedAmount": 5,
			"discountType": {"id": 2, "name": "plain", "description": "", "parameters": []},
			"startDate": "2026-03-01T12:00:00Z"
		}
	]`, w.Body.String())
}

func TestListDiscounts_Empty(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/v1/discounts", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
	assert.Empty(t, f.discounts.filter)
}

func TestCreateDiscount(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/v1/discounts", `{
		"name": "Summer",
		"articles": [{"id": "x", "quantity": 3, "price": 8}],
		"baseDiscountedAmount": 1.5,
		"discountTypeId": 1,
		"startDate": "2026-04-01T00:00:00Z",
		"parameterValues": [{"id": 10, "value": "SUMMER"}, {"id": 11, "value": 20}, {"id": 12, "value": 2.5}]
	}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"id":7}`, w.Body.String())

	in := f.discounts.created
	require.NotNil(t, in)
	assert.Equal(t, "Summer", in.Name)
	assert.Equal(t, int64(1), in.TypeID)
	assert.True(t, decimal.RequireFromString("1.5").Equal(in.BaseDiscountedAmount))
	require.NotNil(t, in.StartDate)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), in.StartDate.UTC())
	assert.Nil(t, in.EndDate)

	require.Len(t, in.Tiers, 1)
	assert.Equal(t, "x", in.Tiers[0].ExternalArticleID)
	assert.Equal(t, int64(3), in.Tiers[0].Quantity)

	require.Len(t, in.Parameters, 3)
	assert.Equal(t, discount.StringValue("SUMMER"), in.Parameters[0].Value)
	assert.Equal(t, discount.IntValue(20), in.Parameters[1].Value)
	assert.Equal(t, discount.FloatValue(2.5), in.Parameters[2].Value)
}

func TestCreateDiscount_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"MissingName", `{"discountTypeId":1}`, "field 'name' is required"},
		{"MissingType", `{"name":"n"}`, "field 'discountTypeId' must be greater than 0"},
		{"TierQuantity", `{"name":"n","discountTypeId":1,"articles":[{"id":"x","quantity":0,"price":1}]}`, "field 'articles[0].quantity' must be greater than 0"},
		{"TierPrice", `{"name":"n","discountTypeId":1,"articles":[{"id":"x","quantity":1}]}`, "field 'articles[0].price' is required"},
		{"EmptyParameterString", `{"name":"n","discountTypeId":1,"parameterValues":[{"id":1,"value":""}]}`, "must not be an empty string"},
		{"BoolParameter", `{"name":"n","discountTypeId":1,"parameterValues":[{"id":1,"value":true}]}`, "must be a string or a number"},
		{"MissingParameterValue", `{"name":"n","discountTypeId":1,"parameterValues":[{"id":1}]}`, "field 'parameterValues[0].value' is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			w := f.do(http.MethodPost, "/v1/discounts", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.message)
			assert.Nil(t, f.discounts.created)
		})
	}
}

func TestUpdateDiscount(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPut, "/v1/discounts/41", `{"name":"Summer v2","discountTypeId":2,"baseDiscountedAmount":"3"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"id":42}`, w.Body.String())
	assert.Equal(t, int64(41), f.discounts.updatedID)
	assert.Equal(t, "Summer v2", f.discounts.created.Name)
	assert.True(t, decimal.NewFromInt(3).Equal(f.discounts.created.BaseDiscountedAmount))
}

func TestUpdateDiscount_Errors(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPut, "/v1/discounts/abc", `{"name":"n","discountTypeId":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"code":400,"message":"invalid id \"abc\""}`, w.Body.String())

	f.discounts.err = apperr.NotFoundf("discount 9 not found")
	w = f.do(http.MethodPut, "/v1/discounts/9", `{"name":"n","discountTypeId":1}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDisableDiscount(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodDelete, "/v1/discounts/5", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, int64(5), f.discounts.disabledID)

	f.discounts.err = apperr.BadRequestf("discount 5 already disabled or expired")
	w = f.do(http.MethodDelete, "/v1/discounts/5", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"code":400,"message":"discount 5 already disabled or expired"}`, w.Body.String())
}

func TestCartCost(t *testing.T) {
	f := newFixture(t)
	lineDiscount := decimal.RequireFromString("6")
	f.engine.res = &cart.Result{
		TotalAmount: decimal.RequireFromString("48"),
		Lines: []cart.LineResult{
			{ExternalArticleID: "x", Quantity: 5, Amount: decimal.RequireFromString("44"), DiscountAmount: &lineDiscount},
			{ExternalArticleID: "y", Quantity: 1, Amount: decimal.RequireFromString("4")},
		},
		Discount: &cart.AppliedDiscount{ID: 2, Name: "Summer", Description: "coupon"},
	}

	w := f.do(http.MethodPost, "/v1/cart/cost", `{
		"articles": [{"articleId": "x", "quantity": 5}, {"articleId": "y", "quantity": 1}],
		"discount": {"id": 2, "parameters": [{"id": 20, "value": "SUMMER"}]}
	}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"totalAmount": 48,
		"articles": [
			{"articleId": "x", "quantity": 5, "amount": 44, "discountAmount": 6},
			{"articleId": "y", "quantity": 1, "amount": 4}
		],
		"discount": {"id": 2, "name": "Summer", "description": "coupon"}
	}`, w.Body.String())

	req := f.engine.req
	require.NotNil(t, req)
	assert.Equal(t, []cart.Line{{ExternalArticleID: "x", Quantity: 5}, {ExternalArticleID: "y", Quantity: 1}}, req.Lines)
	require.NotNil(t, req.Selection)
	assert.Equal(t, int64(2), req.Selection.DiscountID)
	assert.Equal(t, []discount.ParameterInput{{ParameterID: 20, Value: discount.StringValue("SUMMER")}}, req.Selection.Parameters)
}

func TestCartCost_NoDiscount(t *testing.T) {
	f := newFixture(t)
	f.engine.res = &cart.Result{
		TotalAmount: decimal.RequireFromString("20"),
		Lines:       []cart.LineResult{{ExternalArticleID: "x", Quantity: 2, Amount: decimal.RequireFromString("20")}},
	}

	w := f.do(http.MethodPost, "/v1/cart/cost", `{"articles":[{"articleId":"x","quantity":2}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"totalAmount":20,"articles":[{"articleId":"x","quantity":2,"amount":20}],"discount":null}`, w.Body.String())
	assert.Nil(t, f.engine.req.Selection)
}

func TestCartCost_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		code   int
		expect string
	}{
		{"EmptyCart", `{"articles":[]}`, nil, http.StatusBadRequest, "field 'articles' must have at least 1 elements"},
		{"ZeroQuantity", `{"articles":[{"articleId":"x","quantity":0}]}`, nil, http.StatusBadRequest, "field 'articles[0].quantity' must be greater than 0"},
		{"MissingArticles", `{"articles":[{"articleId":"x","quantity":1}]}`, &cart.MissingArticlesError{IDs: []string{"x"}}, http.StatusNotFound, "articles not found: x"},
		{"NotTaxed", `{"articles":[{"articleId":"x","quantity":1}]}`, &cart.ArticleNotTaxedError{ExternalArticleID: "x"}, http.StatusBadRequest, "article x has not been taxed"},
		{"Integrity", `{"articles":[{"articleId":"x","quantity":1}]}`, apperr.Internalf("discount 1 has inconsistent tiers"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.engine.err = tt.err

			w := f.do(http.MethodPost, "/v1/cart/cost", tt.body)
			assert.Equal(t, tt.code, w.Code)
			assert.Contains(t, w.Body.String(), tt.expect)
		})
	}
}
