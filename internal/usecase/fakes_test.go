package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/cartsync/backend/internal/domain"
)

var errBoom = errors.New("boom")

// fakeCatalog implements domain.CatalogSearcher.
type fakeCatalog struct {
	results   map[string][]domain.CatalogCandidate
	searchErr map[string][]error
	addErr    map[string][]error
	searches  []string
	adds      []string
	quantity  map[string]int
	// beforeAdd runs at the start of every AddToCart call.
	beforeAdd func(productID string)
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		results:   make(map[string][]domain.CatalogCandidate),
		searchErr: make(map[string][]error),
		addErr:    make(map[string][]error),
		quantity:  make(map[string]int),
	}
}

func (f *fakeCatalog) Search(_ context.Context, query string) ([]domain.CatalogCandidate, error) {
	f.searches = append(f.searches, query)
	if err := popErr(f.searchErr, query); err != nil {
		return nil, err
	}
	return f.results[query], nil
}

func (f *fakeCatalog) AddToCart(_ context.Context, c domain.CatalogCandidate, quantity int) error {
	if f.beforeAdd != nil {
		f.beforeAdd(c.ProductID)
	}
	f.adds = append(f.adds, c.ProductID)
	if err := popErr(f.addErr, c.ProductID); err != nil {
		return err
	}
	f.quantity[c.ProductID] = quantity
	return nil
}

// fakeHistory implements domain.PurchaseHistory.
type fakeHistory struct {
	entries   []domain.CatalogCandidate
	scanErr   error
	addErr    map[string][]error
	scanCalls int
	adds      []string
}

func newFakeHistory(entries ...domain.CatalogCandidate) *fakeHistory {
	return &fakeHistory{entries: entries, addErr: make(map[string][]error)}
}

func (f *fakeHistory) ScanAll(context.Context) ([]domain.CatalogCandidate, error) {
	f.scanCalls++
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	return f.entries, nil
}

func (f *fakeHistory) AddFromPage(_ context.Context, c domain.CatalogCandidate, _ int) error {
	f.adds = append(f.adds, c.ProductID)
	return popErr(f.addErr, c.ProductID)
}

// popErr returns the next queued error for key. The last queued error
// repeats once the queue is drained.
func popErr(m map[string][]error, key string) error {
	errs := m[key]
	if len(errs) == 0 {
		return nil
	}
	err := errs[0]
	if len(errs) > 1 {
		m[key] = errs[1:]
	}
	return err
}

// mapCache implements domain.SearchCache without expiry.
type mapCache struct {
	data map[string][]domain.CatalogCandidate
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string][]domain.CatalogCandidate)}
}

func (c *mapCache) Get(_ context.Context, query string) ([]domain.CatalogCandidate, error) {
	v, ok := c.data[query]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	return v, nil
}

func (c *mapCache) Set(_ context.Context, query string, cands []domain.CatalogCandidate, _ time.Duration) error {
	c.data[query] = cands
	return nil
}

func (c *mapCache) Delete(_ context.Context, query string) error {
	delete(c.data, query)
	return nil
}

// fakeDiagnostics records captures.
type fakeDiagnostics struct {
	labels []string
}

func (d *fakeDiagnostics) Capture(_ context.Context, label string, _ error) {
	d.labels = append(d.labels, label)
}

// fakeLister implements domain.SourceLister.
type fakeLister struct {
	items    []domain.RawItem
	listErr  error
	clearErr error
	cleared  [][]string
}

func (f *fakeLister) ListItems(context.Context) ([]domain.RawItem, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.items, nil
}

func (f *fakeLister) Clear(_ context.Context, ids []string) error {
	f.cleared = append(f.cleared, ids)
	if f.clearErr != nil {
		return f.clearErr
	}
	remove := make(map[string]bool, len(ids))
	for _, id := range ids {
		remove[id] = true
	}
	kept := f.items[:0:0]
	for _, it := range f.items {
		if !remove[it.Identity()] {
			kept = append(kept, it)
		}
	}
	f.items = kept
	return nil
}

// fakeStorefront implements domain.Storefront.
type fakeStorefront struct {
	catalog *fakeCatalog
	history *fakeHistory
	openErr error
	opened  int
	closed  int
}

func (f *fakeStorefront) Open(context.Context) (domain.CatalogSearcher, domain.PurchaseHistory, error) {
	f.opened++
	if f.openErr != nil {
		return nil, nil, f.openErr
	}
	return f.catalog, f.history, nil
}

func (f *fakeStorefront) Close() error {
	f.closed++
	return nil
}

// memStaging implements domain.StagingStore in memory.
type memStaging struct {
	record  *domain.StagingRecord
	saveErr error
	saves   int
	deletes int
}

func (m *memStaging) Load(context.Context) (*domain.StagingRecord, error) {
	if m.record == nil {
		return nil, domain.ErrStagingNotFound
	}
	cp := *m.record
	cp.Items = append([]domain.StagedItem(nil), m.record.Items...)
	return &cp, nil
}

func (m *memStaging) Save(_ context.Context, r *domain.StagingRecord) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := *r
	cp.Items = append([]domain.StagedItem(nil), r.Items...)
	m.record = &cp
	return nil
}

func (m *memStaging) Delete(context.Context) error {
	m.deletes++
	m.record = nil
	return nil
}

// fakeNotifier implements domain.NotificationSink.
type fakeNotifier struct {
	calls [][]string
	err   error
}

func (n *fakeNotifier) Notify(_ context.Context, names []string) error {
	n.calls = append(n.calls, names)
	return n.err
}

func item(name, id string) domain.RawItem {
	return domain.NewRawItem(name, 1, id)
}

func candidate(id, name string, freq int) domain.CatalogCandidate {
	return domain.CatalogCandidate{ProductID: id, DisplayName: name, PurchaseFrequency: freq, InStock: true}
}

func newTestResolver(cfg ResolverConfig, cache domain.SearchCache, diag domain.Diagnostics) *ResolutionEngine {
	r := NewResolutionEngine(NewMatchEngine(MatchConfig{EnableFuzzyMatching: true}, nil), cache, diag, cfg, nil)
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}
