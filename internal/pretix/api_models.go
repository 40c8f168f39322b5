package pretix

// Wire types for the Pretix REST API.
// https://docs.pretix.eu/en/latest/api/resources/items.html
// https://docs.pretix.eu/en/latest/api/resources/orders.html

// apiItem is a purchasable item, e.g. "Business", "Personal", "Education".
type apiItem struct {
	ID         int64             `json:"id"`
	Names      map[string]string `json:"name"` // locale -> name
	Variations []apiVariation    `json:"variations"`
}

// apiVariation is an item variation, e.g. "Conference", "Tutorial".
type apiVariation struct {
	ID    int64             `json:"id"`
	Names map[string]string `json:"value"` // locale -> name
}

// apiOrder is an order with one or more positions.
type apiOrder struct {
	Code      string        `json:"code"`
	Status    string        `json:"status"`
	Positions []apiPosition `json:"positions"`
}

// paid reports whether the order was paid.
// Status values: n pending, p paid, e expired, c canceled.
func (o apiOrder) paid() bool {
	return o.Status == "p"
}

// apiPosition is one ordered position, e.g. a ticket or a t-shirt.
type apiPosition struct {
	ItemID       int64  `json:"item"`
	VariationID  *int64 `json:"variation"`
	AttendeeName string `json:"attendee_name"`
}
