package domain

// Size is the selected size of a line item. Carts key items by
// (product, size), so two sizes of the same product are distinct lines.
type Size string

const (
	SizeNone Size = "none" // sentinel for products without sizes
	SizeXS   Size = "XS"
	SizeS    Size = "S"
	SizeM    Size = "M"
	SizeL    Size = "L"
	SizeXL   Size = "XL"
)

func (s Size) Valid() bool {
	switch s {
	case SizeNone, SizeXS, SizeS, SizeM, SizeL, SizeXL:
		return true
	}
	return false
}

// MaxQuantity is the per-line-item quantity ceiling.
const MaxQuantity = 99

// ItemKey identifies one line item within a cart.
type ItemKey struct {
	ProductID string
	Size      Size
}

// Product is the normalized catalog shape the cart accepts.
// Price is in the smallest currency unit.
type Product struct {
	ID     string
	Name   string
	Price  int64
	Images []string
}

// LineItem is one purchasable configuration of a product in the cart.
type LineItem struct {
	ProductID string   `json:"productId"`
	Name      string   `json:"name"`
	UnitPrice int64    `json:"unitPrice"`
	Quantity  int      `json:"quantity"`
	Size      Size     `json:"selectedSize"`
	Images    []string `json:"images"`
}

func (i LineItem) Key() ItemKey {
	return ItemKey{ProductID: i.ProductID, Size: i.Size}
}

// Subtotal is unit price times quantity.
func (i LineItem) Subtotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// Thumbnail returns the canonical image, the first of the ordered list.
func (i LineItem) Thumbnail() string {
	if len(i.Images) == 0 {
		return ""
	}
	return i.Images[0]
}

// Clone returns a deep copy so callers can never mutate a stored item
// in place.
func (i LineItem) Clone() LineItem {
	cp := i
	if i.Images != nil {
		cp.Images = append([]string(nil), i.Images...)
	}
	return cp
}

// CloneItems deep-copies a slice of line items preserving order.
func CloneItems(items []LineItem) []LineItem {
	if items == nil {
		return nil
	}
	out := make([]LineItem, 0, len(items))
	for _, it := range items {
		out = append(out, it.Clone())
	}
	return out
}

// Total is the literal sum of subtotals over items. It is recomputed on
// every call; nothing in this package caches it.
func Total(items []LineItem) int64 {
	var sum int64
	for _, it := range items {
		sum += it.Subtotal()
	}
	return sum
}
