package domain

// CatalogCandidate is a purchasable product returned by a catalog search or
// a previously-purchased scan. Candidates are ephemeral and never persisted.
type CatalogCandidate struct {
	ProductID         string `json:"productId"`
	DisplayName       string `json:"displayName"`
	PurchaseFrequency int    `json:"purchaseFrequency"`
	// NavigationHandle is whatever the producing collaborator needs to get
	// back to the product (a product URL, a history page number...).
	NavigationHandle string `json:"navigationHandle,omitempty"`
	// Rank is the position in the original result listing, 0-based.
	Rank    int  `json:"rank"`
	InStock bool `json:"inStock"`
}

// MatchResult pairs a candidate with its similarity score (0-100).
type MatchResult struct {
	Candidate CatalogCandidate `json:"candidate"`
	Score     float64          `json:"score"`
}
