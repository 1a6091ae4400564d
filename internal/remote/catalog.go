package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/xenking/kart-pricing/internal/domain/apperr"
	"github.com/xenking/kart-pricing/internal/domain/catalog"
)

// ClientConfig configures a remote service client.
type ClientConfig struct {
	URL     string        `usage:"base URL of the service"`
	Timeout time.Duration `default:"5s" usage:"timeout of a single call"`
}

var _ catalog.ArticleChecker = (*CatalogClient)(nil)

// CatalogClient asks the catalog service whether articles exist.
type CatalogClient struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[bool]
	cache   *ExistenceCache
}

// NewCatalogClient creates a CatalogClient. cache may be nil.
func NewCatalogClient(cfg ClientConfig, breaker BreakerConfig, cache *ExistenceCache, lg *zap.Logger) *CatalogClient {
	return &CatalogClient{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: newBreaker[bool]("catalog", breaker, lg),
		cache:   cache,
	}
}

// ArticleExists reports whether the catalog knows the article. The session
// token in ctx is forwarded.
func (c *CatalogClient) ArticleExists(ctx context.Context, externalID string) (bool, error) {
	lg := zctx.From(ctx)

	exists, ok, err := c.cache.Get(ctx, externalID)
	if err != nil {
		lg.Warn("Catalog cache read failed", zap.String("article_id", externalID), zap.Error(err))
	}
	if ok {
		return exists, nil
	}

	exists, err = c.breaker.Execute(func() (bool, error) {
		return c.fetch(ctx, externalID)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return false, errors.Wrap(err, "catalog unavailable")
		}
		return false, err
	}

	if err := c.cache.Set(ctx, externalID, exists); err != nil {
		lg.Warn("Catalog cache write failed", zap.String("article_id", externalID), zap.Error(err))
	}
	return exists, nil
}

func (c *CatalogClient) fetch(ctx context.Context, externalID string) (bool, error) {
	u := c.baseURL + "/articles/" + url.PathEscape(externalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return false, errors.Wrap(err, "create request")
	}
	if token := TokenFrom(ctx); token != "" {
		req.Header.Set("Authorization", "bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, errors.Wrap(err, "get article")
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	case http.StatusBadRequest:
		return false, apperr.BadRequestf("invalid article id %s", externalID)
	case http.StatusUnauthorized:
		return false, ErrUnauthenticated
	default:
		return false, fmt.Errorf("catalog responded with status %d", resp.StatusCode)
	}
}
