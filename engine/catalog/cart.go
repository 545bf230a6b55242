package catalog

import (
	"strconv"
	"strings"
)

// CartItem is one product variant to include in a checkout link.
type CartItem struct {
	VariantID string
	Quantity  int
}

// CartLink builds a direct-checkout URL for the given items, e.g.
// https://autologic.mx/cart/40123:1,40456:2. Variant IDs in Shopify
// GraphQL gid form are reduced to their trailing numeric segment.
func (c *Client) CartLink(items ...CartItem) string {
	base := "https://" + c.primary + "/cart"
	if len(items) == 0 {
		return base
	}

	segs := make([]string, 0, len(items))
	for _, it := range items {
		id := it.VariantID
		if idx := strings.LastIndexByte(id, '/'); idx != -1 {
			id = id[idx+1:]
		}
		qty := it.Quantity
		if qty <= 0 {
			qty = 1
		}
		segs = append(segs, id+":"+strconv.Itoa(qty))
	}
	return base + "/" + strings.Join(segs, ",")
}
