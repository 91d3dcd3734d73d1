package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/mallkit/cart/internal/adapter/auth"
	"github.com/mallkit/cart/internal/core/domain"
)

// Client is the Persistence implementation backed by the storefront's
// cart API. Every call goes through the token guard, which owns the 401
// refresh-and-retry path.
type Client struct {
	baseURL string
	httpc   *http.Client
	guard   *auth.TokenGuard
}

func NewClient(baseURL string, httpc *http.Client, guard *auth.TokenGuard) *Client {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Client{baseURL: baseURL, httpc: httpc, guard: guard}
}

// cartEntryDTO is the wire shape of one remote cart entry. The embedded
// product object is loosely shaped; normalization into LineItem happens
// here and nowhere else.
type cartEntryDTO struct {
	ProductID    string     `json:"productId"`
	Quantity     int        `json:"quantity"`
	SelectedSize string     `json:"selectedSize"`
	Product      productDTO `json:"product"`
}

type productDTO struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Price  int64    `json:"price"`
	Images []string `json:"images"`
}

type upsertDTO struct {
	ProductID    string `json:"productId"`
	Quantity     int    `json:"quantity"`
	SelectedSize string `json:"selectedSize"`
}

func (c *Client) Load(ctx context.Context) ([]domain.LineItem, error) {
	var entries []cartEntryDTO
	err := c.guard.Do(ctx, func(ctx context.Context, token string) error {
		return c.doJSON(ctx, token, http.MethodGet, "/cart", nil, &entries)
	})
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}

	items := make([]domain.LineItem, 0, len(entries))
	for _, e := range entries {
		item, ok := normalize(e)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (c *Client) Upsert(ctx context.Context, item domain.LineItem) error {
	body := upsertDTO{
		ProductID:    item.ProductID,
		Quantity:     item.Quantity,
		SelectedSize: string(item.Size),
	}
	err := c.guard.Do(ctx, func(ctx context.Context, token string) error {
		return c.doJSON(ctx, token, http.MethodPost, "/cart/items", body, nil)
	})
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", item.ProductID, item.Size, err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, key domain.ItemKey) error {
	path := fmt.Sprintf("/cart/items/%s/%s",
		url.PathEscape(key.ProductID), url.PathEscape(string(key.Size)))
	err := c.guard.Do(ctx, func(ctx context.Context, token string) error {
		return c.doJSON(ctx, token, http.MethodDelete, path, nil, nil)
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", key.ProductID, key.Size, err)
	}
	return nil
}

func (c *Client) Clear(ctx context.Context) error {
	err := c.guard.Do(ctx, func(ctx context.Context, token string) error {
		return c.doJSON(ctx, token, http.MethodDelete, "/cart", nil, nil)
	})
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// doJSON performs one authorized round trip. A 401 becomes
// auth.ErrUnauthorized so the guard can refresh and retry; any other
// non-2xx status is a generic persist failure.
func (c *Client) doJSON(ctx context.Context, token, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return auth.ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// normalize validates one remote entry into the fixed LineItem shape.
// Entries without a resolvable product id or with a negative price are
// dropped; out-of-range quantities are clamped into [1, MaxQuantity].
func normalize(e cartEntryDTO) (domain.LineItem, bool) {
	id := e.ProductID
	if id == "" {
		id = e.Product.ID
	}
	if id == "" || e.Product.Price < 0 {
		return domain.LineItem{}, false
	}

	qty := e.Quantity
	if qty < 1 {
		qty = 1
	}
	if qty > domain.MaxQuantity {
		qty = domain.MaxQuantity
	}

	size := domain.Size(e.SelectedSize)
	if !size.Valid() {
		size = domain.SizeNone
	}

	return domain.LineItem{
		ProductID: id,
		Name:      e.Product.Name,
		UnitPrice: e.Product.Price,
		Quantity:  qty,
		Size:      size,
		Images:    e.Product.Images,
	}, true
}
