// Package catalog holds the static product catalog. An unrecognized product
// ID is rejected before any network call is made.
package catalog

import "errors"

var ErrProductNotFound = errors.New("product not found in catalog")

// Product maps a store product ID to the VIP entitlement it grants.
type Product struct {
	ProductID   string
	Description string
	VipDays     int
}

var products = []Product{
	{ProductID: "io.theone.test.sub.noauto.7d", Description: "VIP 1 day", VipDays: 1},
	{ProductID: "io.theone.test.sub.noauto.monthly", Description: "VIP 1 month", VipDays: 31},
	{ProductID: "io.theone.test.sub.noauto.yearly", Description: "VIP 1 year", VipDays: 365},
}

type Catalog struct {
	byID map[string]Product
}

func New() *Catalog {
	return newWith(products)
}

func newWith(items []Product) *Catalog {
	byID := make(map[string]Product, len(items))
	for _, p := range items {
		byID[p.ProductID] = p
	}
	return &Catalog{byID: byID}
}

// Find returns the catalog entry for productID, or ErrProductNotFound.
func (c *Catalog) Find(productID string) (Product, error) {
	p, ok := c.byID[productID]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}
