// Package catalog is the read-only client of the restaurant/menu service.
package catalog

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound means the catalog answered that the restaurant does not exist.
	ErrNotFound = errors.New("catalog: not found")
	// ErrInvalid means the catalog rejected the request as malformed.
	ErrInvalid = errors.New("catalog: invalid request")
)

type MenuItem struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Category string          `json:"category"`
}

type Restaurant struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"owner_id"`
}

// Client is what the order ledger consumes from the catalog service.
type Client interface {
	FetchMenuItems(ctx context.Context, restaurantID string) ([]MenuItem, error)
	FetchRestaurant(ctx context.Context, restaurantID string) (*Restaurant, error)
}

// IndexByID builds a lookup of menu items by id.
func IndexByID(items []MenuItem) map[string]MenuItem {
	m := make(map[string]MenuItem, len(items))
	for _, it := range items {
		m[it.ID] = it
	}
	return m
}
