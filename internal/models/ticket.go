package models

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Ticket is a single attendee position of a paid Pretix order.
type Ticket struct {
	Order     string `json:"order"`
	Name      string `json:"name"`
	Item      string `json:"item"`
	Variation string `json:"variation,omitempty"`
}

// Key returns the cache key identifying this ticket.
func (t Ticket) Key() string {
	return TicketKey(t.Order, t.Name)
}

// asciiFold decomposes characters and strips combining marks, so that
// accented names match their ASCII spelling ("José" -> "Jose").
var asciiFold = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// TicketKey builds the lookup key for an order ID and attendee name.
// The name is folded to ASCII, lowercased, and stripped of spaces and
// punctuation, so the key is stable against how the attendee typed it.
func TicketKey(order, name string) string {
	if folded, _, err := transform.String(asciiFold, name); err == nil {
		name = folded
	}
	name = strings.ToLower(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return r
	}, name)
	return order + "-" + name
}
