package domain

// CartEntry is a server-side cart row. A Quantity of 0 sent to the server
// removes the row.
type CartEntry struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"qty"`
}

// CartLineItem is a cart row joined with its catalog product. It is derived
// from the raw cart and a catalog snapshot and never mutated on its own.
type CartLineItem struct {
	Product
	Quantity int `json:"qty"`
}

// Subtotal returns cost * quantity for the line.
func (i CartLineItem) Subtotal() float64 {
	return i.Cost * float64(i.Quantity)
}

// Total sums the subtotals of all lines.
func Total(items []CartLineItem) float64 {
	var total float64
	for _, item := range items {
		total += item.Subtotal()
	}
	return total
}
