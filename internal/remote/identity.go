package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ErrUnauthenticated is returned when the identity service rejects a token.
var ErrUnauthenticated = errors.New("unauthenticated")

// User is the account owning a session token.
type User struct {
	ID          string
	Name        string
	Permissions []string
}

// IdentityClient validates session tokens against the identity service.
type IdentityClient struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*User]
}

// NewIdentityClient creates an IdentityClient.
func NewIdentityClient(cfg ClientConfig, breaker BreakerConfig, lg *zap.Logger) *IdentityClient {
	return &IdentityClient{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: newBreaker[*User]("identity", breaker, lg),
	}
}

// CurrentUser returns the user owning token, or ErrUnauthenticated.
func (c *IdentityClient) CurrentUser(ctx context.Context, token string) (*User, error) {
	return c.breaker.Execute(func() (*User, error) {
		return c.fetch(ctx, token)
	})
}

func (c *IdentityClient) fetch(ctx context.Context, token string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/current", http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "get current user")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ErrUnauthenticated
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("identity service responded with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read user")
	}
	u, err := decodeUser(jx.DecodeBytes(body))
	if err != nil {
		return nil, errors.Wrap(err, "decode user")
	}
	return u, nil
}

func decodeUser(d *jx.Decoder) (*User, error) {
	var u User
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			s, err := d.Str()
			u.ID = s
			return err
		case "name", "login":
			s, err := d.Str()
			if u.Name == "" {
				u.Name = s
			}
			return err
		case "permissions":
			return d.Arr(func(d *jx.Decoder) error {
				s, err := d.Str()
				u.Permissions = append(u.Permissions, s)
				return err
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}
