// Package pricing implements the pure pricing rules for checkout: discounted
// unit prices, line totals, and shipping fees.
//
// All amounts are integer minor currency units (paise). Tax is a presentation
// concern and is never part of the amounts computed here.
package pricing

// Shipping fee table in minor units, keyed by region tier. Orders at or above
// FreeShippingThreshold ship free regardless of region.
const (
	FreeShippingThreshold int64 = 100_000

	homeRegionFee   int64 = 4_000
	nearRegionFee   int64 = 9_900
	remoteRegionFee int64 = 19_900
)

// HomeRegion is the country code served by the cheapest shipping tier.
const HomeRegion = "IN"

// nearRegions are countries on the mid-tier shipping rate.
var nearRegions = map[string]struct{}{
	"LK": {},
	"BD": {},
	"NP": {},
	"AE": {},
}

// DiscountedUnitPrice returns the unit price after applying a percentage
// discount, rounded half-up to the nearest minor unit. A zero discount returns
// the input unchanged. The caller must clamp discountPercent to [0, 100].
func DiscountedUnitPrice(unitPrice, discountPercent int64) int64 {
	if discountPercent <= 0 {
		return unitPrice
	}
	if discountPercent >= 100 {
		return 0
	}
	// Half-up rounding in integer arithmetic keeps stored totals reproducible.
	return (unitPrice*(100-discountPercent) + 50) / 100
}

// LineTotal returns the total for a line of quantity units at the given
// discounted unit price.
func LineTotal(discountedUnitPrice int64, quantity int) int64 {
	return discountedUnitPrice * int64(quantity)
}

// ShippingFee returns the shipping charge for an order subtotal delivered to
// the given region (ISO 3166-1 alpha-2 country code).
func ShippingFee(subtotal int64, region string) int64 {
	if subtotal >= FreeShippingThreshold {
		return 0
	}
	if region == HomeRegion {
		return homeRegionFee
	}
	if _, ok := nearRegions[region]; ok {
		return nearRegionFee
	}
	return remoteRegionFee
}

// ClampDiscount restricts a raw catalog discount percentage to [0, 100].
func ClampDiscount(discountPercent int64) int64 {
	if discountPercent < 0 {
		return 0
	}
	if discountPercent > 100 {
		return 100
	}
	return discountPercent
}
