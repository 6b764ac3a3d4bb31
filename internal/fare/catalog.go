// Package fare holds the fare catalog: what each product costs and how long it stays valid.
//
// Price and validity live in the same Product value so the two can never drift apart.
package fare

import (
	"fmt"
	"time"

	"github.com/urbantransit/ticket-service/internal/domain"
)

// Validity computes the last valid instant of a ticket from its purchase time.
type Validity func(purchasedAt time.Time, loc *time.Location) time.Time

// Product is one sellable fare.
type Product struct {
	Type      domain.FareType
	Price     int64 // centimes
	SingleUse bool
	Validity  Validity
}

// Policy holds purchase-time checks that deployments switch on or off.
type Policy struct {
	RejectDuplicateActive bool
	RequireBalance        bool
}

// Catalog maps fare types to products.
type Catalog struct {
	products map[domain.FareType]Product
	loc      *time.Location
	Policy   Policy
}

// After returns a Validity that adds a fixed duration to the purchase time.
func After(d time.Duration) Validity {
	return func(purchasedAt time.Time, _ *time.Location) time.Time {
		return purchasedAt.Add(d)
	}
}

// EndOfPurchaseDay returns a Validity that ends at 23:59:59 of the purchase day in loc.
func EndOfPurchaseDay() Validity {
	return func(purchasedAt time.Time, loc *time.Location) time.Time {
		local := purchasedAt.In(loc)
		y, m, d := local.Date()
		return time.Date(y, m, d, 23, 59, 59, 0, loc)
	}
}

// DefaultValidity applies to fare types the catalog does not know.
var DefaultValidity = After(24 * time.Hour)

// Default prices in centimes.
const (
	DefaultSingleRidePrice int64 = 800
	DefaultDayPassPrice    int64 = 3000
	DefaultWeekPassPrice   int64 = 10000
	DefaultMonthPassPrice  int64 = 35000
)

// DefaultProducts returns the standard product table.
func DefaultProducts() []Product {
	return []Product{
		{Type: domain.FareSingleRide, Price: DefaultSingleRidePrice, SingleUse: true, Validity: After(2 * time.Hour)},
		{Type: domain.FareDayPass, Price: DefaultDayPassPrice, Validity: EndOfPurchaseDay()},
		{Type: domain.FareWeekPass, Price: DefaultWeekPassPrice, Validity: After(7 * 24 * time.Hour)},
		{Type: domain.FareMonthPass, Price: DefaultMonthPassPrice, Validity: After(30 * 24 * time.Hour)},
	}
}

// NewCatalog builds a catalog. A nil location means UTC.
func NewCatalog(products []Product, loc *time.Location, policy Policy) (*Catalog, error) {
	if loc == nil {
		loc = time.UTC
	}
	byType := make(map[domain.FareType]Product, len(products))
	for _, p := range products {
		if p.Type == "" {
			return nil, fmt.Errorf("fare product without type")
		}
		if p.Price < 0 {
			return nil, fmt.Errorf("fare product %s has negative price %d", p.Type, p.Price)
		}
		if p.Validity == nil {
			return nil, fmt.Errorf("fare product %s has no validity policy", p.Type)
		}
		if _, dup := byType[p.Type]; dup {
			return nil, fmt.Errorf("fare product %s defined twice", p.Type)
		}
		byType[p.Type] = p
	}
	return &Catalog{products: byType, loc: loc, Policy: policy}, nil
}

// WithPrices returns the default products with prices replaced for the given types.
// Non-positive overrides are ignored.
func WithPrices(overrides map[domain.FareType]int64) []Product {
	products := DefaultProducts()
	for i := range products {
		if price, ok := overrides[products[i].Type]; ok && price > 0 {
			products[i].Price = price
		}
	}
	return products
}

// Lookup returns the product for a fare type.
func (c *Catalog) Lookup(ft domain.FareType) (Product, bool) {
	p, ok := c.products[ft]
	return p, ok
}

// Location is the zone used for calendar-day validity.
func (c *Catalog) Location() *time.Location {
	return c.loc
}

// ExpiresAt returns the expiration instant of a ticket of type ft bought at purchasedAt.
func (c *Catalog) ExpiresAt(ft domain.FareType, purchasedAt time.Time) time.Time {
	if p, ok := c.products[ft]; ok {
		return p.Validity(purchasedAt, c.loc)
	}
	return DefaultValidity(purchasedAt, c.loc)
}

// Expired reports whether a ticket bought at purchasedAt is past its window at now.
// The expiration instant itself is still valid.
func (c *Catalog) Expired(ft domain.FareType, purchasedAt, now time.Time) bool {
	return now.After(c.ExpiresAt(ft, purchasedAt))
}

// SingleUse reports whether the fare is consumed by its first validation.
func (c *Catalog) SingleUse(ft domain.FareType) bool {
	p, ok := c.products[ft]
	return ok && p.SingleUse
}

// Quote is the price breakdown of a purchase.
type Quote struct {
	OriginalAmount  int64
	DiscountPercent int
	FinalAmount     int64
}

// MaxDiscountPercent is the highest loyalty discount accepted at purchase.
const MaxDiscountPercent = 15

// Price quotes a fare with a loyalty discount applied. The discount amount is
// rounded half up to the nearest centime.
func (c *Catalog) Price(ft domain.FareType, discountPercent int) (Quote, error) {
	p, ok := c.products[ft]
	if !ok {
		return Quote{}, fmt.Errorf("unknown fare type %q", ft)
	}
	if discountPercent < 0 || discountPercent > MaxDiscountPercent {
		return Quote{}, fmt.Errorf("discount %d%% outside 0-%d", discountPercent, MaxDiscountPercent)
	}
	discount := (p.Price*int64(discountPercent) + 50) / 100
	return Quote{
		OriginalAmount:  p.Price,
		DiscountPercent: discountPercent,
		FinalAmount:     p.Price - discount,
	}, nil
}
