package domain

import (
	"context"
	"time"
)

// SourceLister reads and clears the source shopping list.
type SourceLister interface {
	ListItems(ctx context.Context) ([]RawItem, error)
	// Clear removes the given item identities from the source. Clearing a
	// subset leaves the rest intact.
	Clear(ctx context.Context, ids []string) error
}

// SourceProbe is the cheap existence check used while polling.
type SourceProbe interface {
	// ListedIDs returns the distinct identities currently on the loaded
	// list page without navigating.
	ListedIDs(ctx context.Context) ([]string, error)
	// Reload performs a full page load to keep the session fresh.
	Reload(ctx context.Context) error
}

// CatalogSearcher is the search-and-add capability used by tiers 1 and 3.
type CatalogSearcher interface {
	Search(ctx context.Context, query string) ([]CatalogCandidate, error)
	AddToCart(ctx context.Context, candidate CatalogCandidate, quantity int) error
}

// PurchaseHistory is the previously-purchased catalog used by tier 2.
type PurchaseHistory interface {
	ScanAll(ctx context.Context) ([]CatalogCandidate, error)
	AddFromPage(ctx context.Context, candidate CatalogCandidate, quantity int) error
}

// NotificationSink delivers a best-effort notice about failed items.
type NotificationSink interface {
	Notify(ctx context.Context, failedItemNames []string) error
}

// StagingStore persists the StagingRecord durably.
type StagingStore interface {
	Load(ctx context.Context) (*StagingRecord, error)
	Save(ctx context.Context, record *StagingRecord) error
	Delete(ctx context.Context) error
}

// SearchCache keeps tier-1 search results so tier 3 can revisit them.
type SearchCache interface {
	Get(ctx context.Context, query string) ([]CatalogCandidate, error)
	Set(ctx context.Context, query string, candidates []CatalogCandidate, ttl time.Duration) error
	Delete(ctx context.Context, query string) error
}

// Diagnostics captures failure state (screenshots, page dumps) for later
// inspection. Implementations must not fail the caller.
type Diagnostics interface {
	Capture(ctx context.Context, label string, cause error)
}

// Authenticator (re-)establishes a session with one service.
type Authenticator interface {
	Service() Service
	Authenticate(ctx context.Context) (SessionHandle, error)
}

// Storefront opens the storefront for a cycle and releases it afterwards.
type Storefront interface {
	Open(ctx context.Context) (CatalogSearcher, PurchaseHistory, error)
	Close() error
}
