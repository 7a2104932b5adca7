package pricing

// Money represents a monetary value stored in minor units (paise).
type Money = int64

// DiscountBps is the fixed bill discount, 5%.
const DiscountBps = 500

// Item describes a line item used for pricing calculation.
type Item struct {
	Qty       int
	UnitPrice Money
}

// Summary aggregates computed bill totals.
type Summary struct {
	Subtotal Money `json:"subtotal"`
	Discount Money `json:"discount"`
	Net      Money `json:"net"`
}

// Compute calculates bill totals for items with the given discount in basis
// points. It is a pure function of its inputs. The discount is rounded half
// up to the nearest paisa, and Net is always Subtotal-Discount.
func Compute(items []Item, discountBps int) Summary {
	var subtotal Money
	for _, it := range items {
		if it.Qty <= 0 {
			continue
		}
		subtotal += Money(it.Qty) * it.UnitPrice
	}
	if discountBps < 0 {
		discountBps = 0
	}
	if discountBps > 10000 {
		discountBps = 10000
	}
	discount := (subtotal*Money(discountBps) + 5000) / 10000
	return Summary{
		Subtotal: subtotal,
		Discount: discount,
		Net:      subtotal - discount,
	}
}

// ComputeBill applies the fixed bill discount.
func ComputeBill(items []Item) Summary {
	return Compute(items, DiscountBps)
}
