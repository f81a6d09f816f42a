package walmart

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/cartsync/backend/internal/domain"
)

var (
	boughtCountRegex = regexp.MustCompile(`(?i)bought\s+(\d+)\+?`)
	productIDRegex   = regexp.MustCompile(`/ip/(?:[^/?#]+/)?(\d+)`)
)

// rawCard is one product card or My Items tile as read from the page.
type rawCard struct {
	ID         string `json:"id"`
	Href       string `json:"href"`
	Name       string `json:"name"`
	Bought     string `json:"bought"`
	OutOfStock bool   `json:"outOfStock"`
}

func decodeCards(raw string) ([]rawCard, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var cards []rawCard
	if err := json.Unmarshal([]byte(raw), &cards); err != nil {
		return nil, fmt.Errorf("decode product cards: %w", err)
	}
	return cards, nil
}

// MapSearchResults converts search cards into candidates in listing order.
// Cards without a product id or name are dropped, as are repeats of an id
// already seen (sponsored duplicates).
func MapSearchResults(cards []rawCard, baseURL string) []domain.CatalogCandidate {
	return mapCards(cards, func(id string) string { return ProductURL(baseURL, id) })
}

// MapHistoryTiles converts My Items tiles into candidates whose navigation
// handle points back at the listing page they were found on.
func MapHistoryTiles(cards []rawCard, baseURL string, page int) []domain.CatalogCandidate {
	pageURL := MyItemsURL(baseURL, page)
	return mapCards(cards, func(string) string { return pageURL })
}

func mapCards(cards []rawCard, handle func(id string) string) []domain.CatalogCandidate {
	out := make([]domain.CatalogCandidate, 0, len(cards))
	seen := make(map[string]bool, len(cards))
	for _, card := range cards {
		id := strings.TrimSpace(card.ID)
		if id == "" {
			id = ProductIDFromHref(card.Href)
		}
		name := strings.Join(strings.Fields(card.Name), " ")
		if id == "" || name == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, domain.CatalogCandidate{
			ProductID:         id,
			DisplayName:       name,
			PurchaseFrequency: ParseBoughtCount(card.Bought),
			NavigationHandle:  handle(id),
			Rank:              len(out),
			InStock:           !card.OutOfStock,
		})
	}
	return out
}

// ParseBoughtCount reads "Bought 5+ times" style badges. Missing or
// unreadable badges count as zero.
func ParseBoughtCount(text string) int {
	m := boughtCountRegex.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// ProductIDFromHref extracts the numeric item id of a /ip/ product link.
func ProductIDFromHref(href string) string {
	m := productIDRegex.FindStringSubmatch(href)
	if m == nil {
		return ""
	}
	return m[1]
}

// ProductURL is the canonical product page of an item id.
func ProductURL(baseURL, id string) string {
	return strings.TrimRight(baseURL, "/") + "/ip/" + url.PathEscape(id)
}

// SearchURL is the catalog search page of a query.
func SearchURL(baseURL, query string) string {
	return strings.TrimRight(baseURL, "/") + "/search?q=" + url.QueryEscape(query)
}

// MyItemsURL is one page of the previously purchased listing.
func MyItemsURL(baseURL string, page int) string {
	if page < 1 {
		page = 1
	}
	return fmt.Sprintf("%s/my-items?filter=All&page=%d", strings.TrimRight(baseURL, "/"), page)
}
