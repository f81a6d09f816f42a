package domain

import (
	"regexp"
	"strings"
)

var identityNoiseRegex = regexp.MustCompile(`[^a-z0-9\s]`)

// RawItem is a single entry scraped from the source shopping list.
// It is immutable once scraped.
type RawItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	SourceID string `json:"sourceId,omitempty"`
}

// NewRawItem builds a RawItem, clamping the quantity to at least 1.
func NewRawItem(name string, quantity int, sourceID string) RawItem {
	if quantity < 1 {
		quantity = 1
	}
	return RawItem{
		Name:     strings.TrimSpace(name),
		Quantity: quantity,
		SourceID: sourceID,
	}
}

// Identity returns the stable key for the item: the source id when the
// source provides one, otherwise the normalized name.
func (i RawItem) Identity() string {
	if i.SourceID != "" {
		return i.SourceID
	}
	return NormalizeName(i.Name)
}

// NormalizeName lowercases a name, strips punctuation and collapses whitespace.
func NormalizeName(name string) string {
	n := identityNoiseRegex.ReplaceAllString(strings.ToLower(name), " ")
	return strings.Join(strings.Fields(n), " ")
}

// ItemNames returns the display names of the given items in order.
func ItemNames(items []RawItem) []string {
	names := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, it.Name)
	}
	return names
}
