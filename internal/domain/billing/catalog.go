package billing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Product maps a stable catalog identifier to a price and the credits it
// grants. The key is the payment processor's price ID, never a formatted
// currency string.
type Product struct {
	Key      string
	Name     string
	Price    decimal.Decimal
	Currency string
	Credits  int64
}

// CatalogSnapshot is an immutable view of the sellable credit packages,
// fetched at an explicit point in time. Consumers decide staleness against
// their own TTL; the snapshot itself never mutates.
type CatalogSnapshot struct {
	FetchedAt time.Time
	products  map[string]Product
}

// NewCatalogSnapshot builds a snapshot from the given products
func NewCatalogSnapshot(fetchedAt time.Time, products []Product) *CatalogSnapshot {
	byKey := make(map[string]Product, len(products))
	for _, p := range products {
		byKey[p.Key] = p
	}
	return &CatalogSnapshot{
		FetchedAt: fetchedAt,
		products:  byKey,
	}
}

// Lookup resolves a product by its stable key
func (s *CatalogSnapshot) Lookup(key string) (Product, bool) {
	p, ok := s.products[key]
	return p, ok
}

// Products returns all products ordered by ascending price
func (s *CatalogSnapshot) Products() []Product {
	out := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price.Equal(out[j].Price) {
			return out[i].Key < out[j].Key
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

// Len returns the number of products in the snapshot
func (s *CatalogSnapshot) Len() int {
	return len(s.products)
}

// Age returns how old the snapshot is at the given instant
func (s *CatalogSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}
