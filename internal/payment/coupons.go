package payment

import "strings"

// Coupon table, fixed by the business. Coupon and product discounts are not
// additive: the larger of the two wins.
var coupons = map[string]float64{
	"DESCONTO10":  10,
	"DESCONTO20":  20,
	"BLACKFRIDAY": 30,
	"WELCOME":     15,
}

// resolveDiscount picks the effective discount percent for a sale: the
// product's own discount unless a known coupon beats it. Returns the
// normalized coupon code, empty when the code is unknown.
func resolveDiscount(productDiscount float64, couponCode string) (percent float64, normalized string) {
	percent = productDiscount

	code := strings.ToUpper(strings.TrimSpace(couponCode))
	couponDiscount, ok := coupons[code]
	if !ok {
		return percent, ""
	}
	if couponDiscount > percent {
		percent = couponDiscount
	}
	return percent, code
}
