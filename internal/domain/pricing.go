package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// DefaultVATRate is the VAT percentage applied when none is configured.
const DefaultVATRate = 9

var hundred = decimal.NewFromInt(100)

// PricedLine is one cart line priced against the live catalog.
type PricedLine struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Count     int             `json:"count"`
	Price     decimal.Decimal `json:"price"`
	Discount  decimal.Decimal `json:"discount"`
	Total     decimal.Decimal `json:"total"`
}

// Pricing is the checkout breakdown of a cart.
type Pricing struct {
	Lines         []PricedLine    `json:"lines"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	DiscountTotal decimal.Decimal `json:"discount_total"`
	VATRate       decimal.Decimal `json:"vat_rate"`
	VATAmount     decimal.Decimal `json:"vat_amount"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	// Skipped lists cart keys that did not resolve to a product.
	Skipped []string `json:"skipped,omitempty"`
}

// LinesTotal is the sum of discounted line totals, rounded to 2 decimals.
func (p Pricing) LinesTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range p.Lines {
		total = total.Add(l.Total)
	}
	return total.Round(2)
}

// IsEmpty reports whether no line could be priced.
func (p Pricing) IsEmpty() bool {
	return len(p.Lines) == 0
}

// ClampDiscount keeps a discount percentage inside [0, 100].
func ClampDiscount(d float64) decimal.Decimal {
	v := decimal.NewFromFloat(d)
	if v.IsNegative() {
		return decimal.Zero
	}
	if v.GreaterThan(hundred) {
		return hundred
	}
	return v
}

// LineTotal computes price * count * (1 - discount/100).
func LineTotal(price decimal.Decimal, count int, discount decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(discount.Div(hundred))
	return price.Mul(decimal.NewFromInt(int64(count))).Mul(factor)
}

// Quote prices a cart against the given products. Cart entries whose product is
// missing or whose key is not a product id are dropped and reported in Skipped.
func Quote(cart Cart, products map[int64]*Product, vatRate decimal.Decimal) Pricing {
	if vatRate.IsNegative() {
		vatRate = decimal.Zero
	}
	out := Pricing{VATRate: vatRate}

	subtotal := decimal.Zero
	linesTotal := decimal.Zero

	known := make(map[string]bool, len(cart))
	for _, id := range cart.ProductIDs() {
		key := CartKey(id)
		known[key] = true

		product, ok := products[id]
		if !ok || product == nil {
			out.Skipped = append(out.Skipped, key)
			continue
		}
		count := cart[key]
		if count <= 0 {
			continue
		}

		price := decimal.NewFromInt(product.Price)
		if price.IsNegative() {
			price = decimal.Zero
		}
		discount := ClampDiscount(product.Discount)
		total := LineTotal(price, count, discount).Round(2)

		subtotal = subtotal.Add(price.Mul(decimal.NewFromInt(int64(count))))
		linesTotal = linesTotal.Add(total)

		out.Lines = append(out.Lines, PricedLine{
			ProductID: product.ID,
			Name:      product.Name,
			Count:     count,
			Price:     price,
			Discount:  discount,
			Total:     total,
		})
	}
	for key := range cart {
		if !known[key] {
			out.Skipped = append(out.Skipped, key)
		}
	}
	sort.Strings(out.Skipped)

	// Line totals are rounded before summing so the invoice items add up to the invoice total.
	discountTotal := subtotal.Sub(linesTotal)
	taxable := subtotal.Sub(discountTotal)
	vat := taxable.Mul(vatRate).Div(hundred).Round(2)

	out.Subtotal = subtotal.Round(2)
	out.DiscountTotal = discountTotal.Round(2)
	out.VATAmount = vat
	out.GrandTotal = taxable.Add(vat).Round(2)
	return out
}
