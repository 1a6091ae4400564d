package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-pricing/internal/domain/apperr"
)

// --- Mock implementations ---

type mockStore struct {
	articles map[string]Article
	prices   map[int64]Price
	written  []PriceEntry
	deleted  []string
	setErr   error
}

func (m *mockStore) FindArticlesByExternalIDs(_ context.Context, ids []string) ([]Article, error) {
	var out []Article
	for _, id := range ids {
		if a, ok := m.articles[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockStore) CurrentPrices(_ context.Context, ids []int64, _ time.Time) (map[int64]decimal.Decimal, error) {
	out := make(map[int64]decimal.Decimal)
	for _, id := range ids {
		if p, ok := m.prices[id]; ok {
			out[id] = p.Price
		}
	}
	return out, nil
}

func (m *mockStore) GetArticle(_ context.Context, externalID string) (*Article, error) {
	a, ok := m.articles[externalID]
	if !ok {
		return nil, ErrArticleNotFound
	}
	return &a, nil
}

func (m *mockStore) CurrentPrice(_ context.Context, articleID int64, _ time.Time) (*Price, error) {
	p, ok := m.prices[articleID]
	if !ok {
		return nil, ErrPriceNotFound
	}
	return &p, nil
}

func (m *mockStore) SetPrices(_ context.Context, entries []PriceEntry) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.written = append(m.written, entries...)
	return nil
}

func (m *mockStore) MarkDeleted(_ context.Context, externalID string) error {
	m.deleted = append(m.deleted, externalID)
	return nil
}

type mockChecker struct {
	known map[string]bool
	err   error
}

func (m *mockChecker) ArticleExists(_ context.Context, id string) (bool, error) {
	return m.known[id], m.err
}

type mockPublisher struct {
	events []PriceUpdated
	err    error
}

func (m *mockPublisher) PublishPriceUpdated(_ context.Context, ev PriceUpdated) error {
	m.events = append(m.events, ev)
	return m.err
}

// --- Helpers ---

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(store *mockStore, checker *mockChecker, pub *mockPublisher) *Service {
	s := NewService(store, checker, pub)
	s.now = func() time.Time { return testNow }
	return s
}

func taxedStore() *mockStore {
	return &mockStore{
		articles: map[string]Article{
			"a1": {ID: 1, ExternalID: "a1", State: StateTaxed},
			"a2": {ID: 2, ExternalID: "a2", State: StateUntaxed},
		},
		prices: map[int64]Price{
			1: {ArticleID: 1, Price: decimal.RequireFromString("12.50"), StartDate: testNow.Add(-time.Hour)},
		},
	}
}

// --- Tests ---

func TestCurrentPrice(t *testing.T) {
	svc := newTestService(taxedStore(), &mockChecker{known: map[string]bool{"a1": true}}, &mockPublisher{})

	p, err := svc.CurrentPrice(context.Background(), "a1")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("12.50").Equal(p.Price))
}

func TestCurrentPrice_NotInCatalogMarksDeleted(t *testing.T) {
	store := taxedStore()
	svc := newTestService(store, &mockChecker{}, &mockPublisher{})

	_, err := svc.CurrentPrice(context.Background(), "a1")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, []string{"a1"}, store.deleted)
}

func TestCurrentPrice_Failures(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		checker *mockChecker
		kind    error
	}{
		{"unknown locally", "a9", &mockChecker{known: map[string]bool{"a9": true}}, apperr.ErrNotFound},
		{"not taxed", "a2", &mockChecker{known: map[string]bool{"a2": true}}, apperr.ErrBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(taxedStore(), tt.checker, &mockPublisher{})

			_, err := svc.CurrentPrice(context.Background(), tt.id)
			require.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestCurrentPrice_NoEffectivePrice(t *testing.T) {
	store := taxedStore()
	delete(store.prices, 1)
	svc := newTestService(store, &mockChecker{known: map[string]bool{"a1": true}}, &mockPublisher{})

	_, err := svc.CurrentPrice(context.Background(), "a1")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCurrentPrice_CatalogError(t *testing.T) {
	svc := newTestService(taxedStore(), &mockChecker{err: errors.New("breaker open")}, &mockPublisher{})

	_, err := svc.CurrentPrice(context.Background(), "a1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "check catalog")
}

func TestUpdatePrice(t *testing.T) {
	store := taxedStore()
	pub := &mockPublisher{}
	svc := newTestService(store, &mockChecker{known: map[string]bool{"a3": true}}, pub)

	entry, err := svc.UpdatePrice(context.Background(), UpdatePriceInput{
		ExternalArticleID: "a3",
		Price:             decimal.RequireFromString("9.99"),
	})
	require.NoError(t, err)
	assert.Equal(t, testNow, entry.StartDate)

	require.Len(t, store.written, 1)
	assert.Equal(t, "a3", store.written[0].ExternalArticleID)
	require.Len(t, pub.events, 1)
	assert.True(t, decimal.RequireFromString("9.99").Equal(pub.events[0].Price))
}

func TestUpdatePrice_FutureStart(t *testing.T) {
	store := taxedStore()
	svc := newTestService(store, &mockChecker{known: map[string]bool{"a1": true}}, &mockPublisher{})
	start := testNow.Add(24 * time.Hour)

	entry, err := svc.UpdatePrice(context.Background(), UpdatePriceInput{
		ExternalArticleID: "a1",
		Price:             decimal.NewFromInt(3),
		StartDate:         &start,
	})
	require.NoError(t, err)
	assert.Equal(t, start, entry.StartDate)
}

func TestUpdatePrice_Validation(t *testing.T) {
	past := testNow.Add(-time.Minute)
	tests := []struct {
		name string
		in   UpdatePriceInput
	}{
		{"missing article", UpdatePriceInput{Price: decimal.NewFromInt(1)}},
		{"zero price", UpdatePriceInput{ExternalArticleID: "a1", Price: decimal.Zero}},
		{"negative price", UpdatePriceInput{ExternalArticleID: "a1", Price: decimal.NewFromInt(-1)}},
		{"past start", UpdatePriceInput{ExternalArticleID: "a1", Price: decimal.NewFromInt(1), StartDate: &past}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := taxedStore()
			svc := newTestService(store, &mockChecker{known: map[string]bool{"a1": true}}, &mockPublisher{})

			_, err := svc.UpdatePrice(context.Background(), tt.in)
			require.ErrorIs(t, err, apperr.ErrBadRequest)
			assert.Empty(t, store.written)
		})
	}
}

func TestUpdatePrice_PublishFailureIsNotFatal(t *testing.T) {
	store := taxedStore()
	svc := newTestService(store, &mockChecker{known: map[string]bool{"a1": true}}, &mockPublisher{err: errors.New("broker down")})

	_, err := svc.UpdatePrice(context.Background(), UpdatePriceInput{
		ExternalArticleID: "a1",
		Price:             decimal.NewFromInt(4),
	})
	require.NoError(t, err)
	assert.Len(t, store.written, 1)
}

func TestUpdatePrice_StoreError(t *testing.T) {
	store := taxedStore()
	store.setErr = errors.New("db write failed")
	pub := &mockPublisher{}
	svc := newTestService(store, &mockChecker{known: map[string]bool{"a1": true}}, pub)

	_, err := svc.UpdatePrice(context.Background(), UpdatePriceInput{
		ExternalArticleID: "a1",
		Price:             decimal.NewFromInt(4),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "set price")
	assert.Empty(t, pub.events)
}
