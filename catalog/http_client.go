package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"cart-order-service/upstream"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// HTTPClient talks to the restaurant service. Concurrent fetches of the same
// restaurant share one in-flight request.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	policy     upstream.Policy
	group      singleflight.Group
	log        zerolog.Logger
}

func NewHTTPClient(baseURL string, policy upstream.Policy, log zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		// per-attempt deadlines come from the policy; this is a hard ceiling
		httpClient: &http.Client{Timeout: policy.Timeout * 2},
		policy:     policy,
		log:        log.With().Str("component", "catalog_client").Logger(),
	}
}

// the restaurant service speaks mongo-style documents
type menuItemDoc struct {
	ID       string          `json:"id"`
	MongoID  string          `json:"_id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category"`
}

type restaurantDoc struct {
	ID      string `json:"id"`
	MongoID string `json:"_id"`
	Name    string `json:"name"`
	OwnerID string `json:"ownerId"`
	UserID  string `json:"userId"`
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (c *HTTPClient) FetchMenuItems(ctx context.Context, restaurantID string) ([]MenuItem, error) {
	v, err := c.shared(ctx, "menu:"+restaurantID, func(ctx context.Context) (any, error) {
		var docs []menuItemDoc
		path := fmt.Sprintf("/api/restaurants/%s/menu-items", url.PathEscape(restaurantID))
		if err := c.getJSON(ctx, path, &docs); err != nil {
			return nil, err
		}
		items := make([]MenuItem, 0, len(docs))
		for _, d := range docs {
			items = append(items, MenuItem{
				ID:       firstNonEmpty(d.ID, d.MongoID),
				Name:     d.Name,
				Price:    d.Price,
				Category: d.Category,
			})
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]MenuItem), nil
}

func (c *HTTPClient) FetchRestaurant(ctx context.Context, restaurantID string) (*Restaurant, error) {
	v, err := c.shared(ctx, "restaurant:"+restaurantID, func(ctx context.Context) (any, error) {
		var doc restaurantDoc
		path := fmt.Sprintf("/api/restaurants/%s", url.PathEscape(restaurantID))
		if err := c.getJSON(ctx, path, &doc); err != nil {
			return nil, err
		}
		return &Restaurant{
			ID:      firstNonEmpty(doc.ID, doc.MongoID),
			Name:    doc.Name,
			OwnerID: firstNonEmpty(doc.OwnerID, doc.UserID),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	r := *v.(*Restaurant)
	return &r, nil
}

// shared runs fn once per key for all concurrent callers. The fetch is
// detached from the caller that started it, so one caller giving up does not
// fail the others; each caller still stops waiting when its own ctx ends.
func (c *HTTPClient) shared(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	attempt := 0
	return upstream.Do(ctx, c.policy, func(ctx context.Context) error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return upstream.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.log.Warn().Err(err).Str("path", path).Int("attempt", attempt).Msg("catalog request failed")
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return upstream.Transient(fmt.Errorf("failed to read response body: %w", err))
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			if err := json.Unmarshal(body, out); err != nil {
				return upstream.Permanent(fmt.Errorf("failed to unmarshal response: %w", err))
			}
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return upstream.Permanent(ErrNotFound)
		case resp.StatusCode == http.StatusBadRequest:
			return upstream.Permanent(fmt.Errorf("%w: %s", ErrInvalid, string(body)))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			c.log.Warn().Int("status", resp.StatusCode).Str("path", path).Int("attempt", attempt).Msg("catalog unavailable")
			return upstream.Transient(fmt.Errorf("catalog returned %d", resp.StatusCode))
		default:
			return upstream.Permanent(fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body)))
		}
	})
}

var _ Client = (*HTTPClient)(nil)
