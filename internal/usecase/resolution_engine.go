package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/cartsync/backend/internal/domain"
	"github.com/cartsync/backend/internal/wait"
)

// ResolverConfig holds configuration for the resolution engine
type ResolverConfig struct {
	// MinMatchScore is the threshold a search result must reach to be
	// considered usable by the direct-search and sequential-retry tiers.
	MinMatchScore float64
	// HistoryMatchScore is the stricter threshold for the purchase-history
	// tier, whose catalog has no search-relevance signal of its own.
	HistoryMatchScore float64
	// MaxSequentialAttempts bounds the adds tried in the sequential tier.
	MaxSequentialAttempts int
	// TransientRetries is how many times a transient failure is retried
	// inside one tier.
	TransientRetries int
	RetryBackoff     time.Duration
	SearchCacheTTL   time.Duration
}

func (c *ResolverConfig) defaults() {
	if c.MinMatchScore < 0 {
		c.MinMatchScore = 0
	}
	if c.HistoryMatchScore <= 0 {
		c.HistoryMatchScore = 60
	}
	if c.MaxSequentialAttempts <= 0 {
		c.MaxSequentialAttempts = 10
	}
	if c.TransientRetries < 0 {
		c.TransientRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.SearchCacheTTL <= 0 {
		c.SearchCacheTTL = 30 * time.Minute
	}
}

// Capabilities are the storefront collaborators for one cycle.
type Capabilities struct {
	Search  domain.CatalogSearcher
	History domain.PurchaseHistory
	// OnAdded, when set, is called as soon as an item is in the cart and
	// before the next item is attempted.
	OnAdded func(ctx context.Context, o domain.Outcome)
}

// ResolutionEngine resolves a batch of RawItems to cart outcomes through
// ordered fallback tiers: direct search, one batch pass over the purchase
// history, then a bounded sequential retry over the search results.
type ResolutionEngine struct {
	matcher      *MatchEngine
	preprocessor *QueryPreprocessor
	cache        domain.SearchCache
	diagnostics  domain.Diagnostics
	config       ResolverConfig
	logger       *zap.Logger
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewResolutionEngine creates a resolution engine with dependencies
func NewResolutionEngine(
	matcher *MatchEngine,
	cache domain.SearchCache,
	diagnostics domain.Diagnostics,
	config ResolverConfig,
	logger *zap.Logger,
) *ResolutionEngine {
	config.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if diagnostics == nil {
		diagnostics = noDiagnostics{}
	}
	return &ResolutionEngine{
		matcher:      matcher,
		preprocessor: NewQueryPreprocessor(logger),
		cache:        cache,
		diagnostics:  diagnostics,
		config:       config,
		logger:       logger.Named("resolver"),
		sleep:        wait.Sleep,
	}
}

// tierStep tags what a tier decided for one item.
type tierStep int

const (
	stepAdvance tierStep = iota
	stepAdded
	stepFailed
	stepSessionLost
)

type tierResult struct {
	step      tierStep
	candidate domain.CatalogCandidate
	err       error
}

func advance() tierResult { return tierResult{step: stepAdvance} }

func added(c domain.CatalogCandidate) tierResult {
	return tierResult{step: stepAdded, candidate: c}
}

// itemState tracks one item through the tiers of a single Resolve call.
type itemState struct {
	item    domain.RawItem
	query   string
	top     *domain.CatalogCandidate
	outcome *domain.Outcome
}

func (s *itemState) resolved() bool { return s.outcome != nil }

// Resolve runs the batch through every tier and returns exactly one outcome
// per input item, in input order. The returned error is non-nil only when
// the session was lost; in that case unresolved items come back Deferred.
func (r *ResolutionEngine) Resolve(ctx context.Context, caps Capabilities, batch []domain.RawItem) ([]domain.Outcome, error) {
	states := make([]*itemState, len(batch))
	for i, item := range batch {
		states[i] = &itemState{item: item, query: r.preprocessor.PreprocessQuery(item.Name)}
	}

	sessionErr := r.run(ctx, caps, states)

	outcomes := make([]domain.Outcome, 0, len(states))
	for _, st := range states {
		if st.outcome == nil {
			switch {
			case sessionErr != nil:
				o := domain.Deferred(st.item, domain.ReasonSessionLost)
				st.outcome = &o
			case ctx.Err() != nil:
				o := domain.Deferred(st.item, domain.ReasonCycleAborted)
				st.outcome = &o
			default:
				o := domain.Failed(st.item, domain.TierEscalation, domain.ReasonNoMatch, nil)
				st.outcome = &o
			}
		}
		outcomes = append(outcomes, *st.outcome)
	}
	return outcomes, sessionErr
}

func (r *ResolutionEngine) run(ctx context.Context, caps Capabilities, states []*itemState) error {
	// Tier 1: independent per item.
	for _, st := range states {
		if ctx.Err() != nil {
			return nil
		}
		if err := r.apply(ctx, caps, st, domain.TierDirectSearch, r.directSearch(ctx, caps.Search, st)); err != nil {
			return err
		}
	}

	// Tier 2: one pass over the residual set.
	if residual := unresolved(states); len(residual) > 0 && ctx.Err() == nil {
		if err := r.purchaseHistoryPass(ctx, caps, residual); err != nil {
			return err
		}
	}

	// Tier 3: bounded sequential retry per residual item.
	for _, st := range unresolved(states) {
		if ctx.Err() != nil {
			return nil
		}
		if err := r.apply(ctx, caps, st, domain.TierSequentialRetry, r.sequentialRetry(ctx, caps.Search, st)); err != nil {
			return err
		}
	}

	return nil
}

// apply records the tier result on the item. It returns an error only when
// the session was lost and the whole batch must stop.
func (r *ResolutionEngine) apply(ctx context.Context, caps Capabilities, st *itemState, tier domain.Tier, res tierResult) error {
	switch res.step {
	case stepAdded:
		o := domain.Added(st.item, tier, res.candidate)
		st.outcome = &o
		if caps.OnAdded != nil {
			caps.OnAdded(ctx, o)
		}
	case stepFailed:
		r.diagnostics.Capture(ctx, fmt.Sprintf("%s_%s", tier, st.item.Identity()), res.err)
		o := domain.Failed(st.item, tier, domain.ReasonUnexpected, res.err)
		st.outcome = &o
	case stepSessionLost:
		return fmt.Errorf("%s tier for %q: %w", tier, st.item.Name, res.err)
	case stepAdvance:
		r.logger.Debug("advancing to next tier",
			zap.String("item", st.item.Name),
			zap.Stringer("tier", tier))
	}
	return nil
}

// directSearch searches the catalog for the item and tries to add the top
// usable candidate by purchase frequency.
func (r *ResolutionEngine) directSearch(ctx context.Context, search domain.CatalogSearcher, st *itemState) tierResult {
	candidates, err := r.search(ctx, search, st.query)
	if res, done := r.classify(st, "search", err); done {
		return res
	}
	if err != nil {
		r.forget(ctx, st.query)
		r.logger.Info("search failed", zap.String("item", st.item.Name), zap.Error(err))
		return advance()
	}

	if len(candidates) == 0 {
		r.forget(ctx, st.query)
	} else if err := r.cache.Set(ctx, st.query, candidates, r.config.SearchCacheTTL); err != nil {
		r.logger.Warn("failed to cache search results", zap.String("query", st.query), zap.Error(err))
		r.forget(ctx, st.query)
	}

	usable := r.purchaseOrder(st.item.Name, candidates)
	if len(usable) == 0 {
		r.logger.Info("no usable search result",
			zap.String("item", st.item.Name),
			zap.Int("results", len(candidates)))
		return advance()
	}

	top := usable[0]
	st.top = &top
	return r.add(ctx, st, "add", top, search.AddToCart)
}

// purchaseHistoryPass scans the previously-purchased catalog once and
// matches every residual item against that single snapshot.
func (r *ResolutionEngine) purchaseHistoryPass(ctx context.Context, caps Capabilities, residual []*itemState) error {
	r.logger.Info("purchase history fallback", zap.Int("items", len(residual)))

	entries, err := caps.History.ScanAll(ctx)
	switch domain.Classify(err) {
	case domain.ClassNone:
	case domain.ClassSessionExpired:
		return fmt.Errorf("%s tier scan: %w", domain.TierPurchaseHistory, err)
	case domain.ClassUnexpected:
		r.diagnostics.Capture(ctx, "purchase_history_scan", err)
		r.logger.Error("purchase history scan failed", zap.Error(err))
		return nil
	default:
		r.logger.Warn("purchase history unavailable", zap.Error(err))
		return nil
	}

	snapshot := append([]domain.CatalogCandidate(nil), entries...)
	r.logger.Info("purchase history scanned", zap.Int("entries", len(snapshot)))

	for _, st := range residual {
		if ctx.Err() != nil {
			return nil
		}
		match, ok := r.bestHistoryMatch(st, snapshot)
		if !ok {
			r.logger.Info("no purchase history match",
				zap.String("item", st.item.Name),
				zap.Float64("threshold", r.config.HistoryMatchScore))
			continue
		}
		r.logger.Info("purchase history match",
			zap.String("item", st.item.Name),
			zap.String("candidate", match.Candidate.DisplayName),
			zap.Float64("score", match.Score))

		res := r.add(ctx, st, "add from history", match.Candidate, caps.History.AddFromPage)
		if err := r.apply(ctx, caps, st, domain.TierPurchaseHistory, res); err != nil {
			return err
		}
	}
	return nil
}

// bestHistoryMatch scores the snapshot against the item name and, when
// tier 1 found a top candidate, against that candidate's title as well.
func (r *ResolutionEngine) bestHistoryMatch(st *itemState, snapshot []domain.CatalogCandidate) (domain.MatchResult, bool) {
	var matches []domain.MatchResult
	if m, ok := r.matcher.Best(st.item.Name, snapshot, r.config.HistoryMatchScore); ok {
		matches = append(matches, m)
	}
	if st.top != nil {
		if m, ok := r.matcher.Best(st.top.DisplayName, snapshot, r.config.HistoryMatchScore); ok {
			matches = append(matches, m)
		}
	}
	if len(matches) == 0 {
		return domain.MatchResult{}, false
	}
	SortMatches(matches)
	return matches[0], true
}

// sequentialRetry revisits this cycle's tier-1 results and tries each
// usable candidate in order until one add succeeds or the bound is reached.
// directSearch overwrites or drops the cached entry on every search, so the
// cache never holds results from an earlier cycle here.
func (r *ResolutionEngine) sequentialRetry(ctx context.Context, search domain.CatalogSearcher, st *itemState) tierResult {
	candidates, err := r.cache.Get(ctx, st.query)
	if err != nil {
		if !errors.Is(err, domain.ErrCacheMiss) {
			r.logger.Warn("search cache unavailable", zap.String("query", st.query), zap.Error(err))
		}
		return advance()
	}

	usable := r.purchaseOrder(st.item.Name, candidates)
	if len(usable) > r.config.MaxSequentialAttempts {
		usable = usable[:r.config.MaxSequentialAttempts]
	}

	for i, c := range usable {
		if ctx.Err() != nil {
			return advance()
		}
		r.logger.Info("sequential add attempt",
			zap.String("item", st.item.Name),
			zap.String("candidate", c.DisplayName),
			zap.Int("attempt", i+1),
			zap.Int("of", len(usable)))
		res := r.add(ctx, st, "sequential add", c, search.AddToCart)
		if res.step != stepAdvance {
			return res
		}
	}
	return advance()
}

func (r *ResolutionEngine) search(ctx context.Context, search domain.CatalogSearcher, query string) ([]domain.CatalogCandidate, error) {
	var candidates []domain.CatalogCandidate
	err := r.withRetry(ctx, "search", func() error {
		var err error
		candidates, err = search.Search(ctx, query)
		return err
	})
	return candidates, err
}

// forget drops a stale cache entry so later cycles never replay results
// the catalog no longer returns.
func (r *ResolutionEngine) forget(ctx context.Context, query string) {
	if err := r.cache.Delete(ctx, query); err != nil && !errors.Is(err, domain.ErrCacheMiss) {
		r.logger.Warn("failed to drop cached search results", zap.String("query", query), zap.Error(err))
	}
}

type addFunc func(ctx context.Context, c domain.CatalogCandidate, quantity int) error

func (r *ResolutionEngine) add(ctx context.Context, st *itemState, op string, c domain.CatalogCandidate, fn addFunc) tierResult {
	err := r.withRetry(ctx, op, func() error {
		return fn(ctx, c, st.item.Quantity)
	})
	if res, done := r.classify(st, op, err); done {
		return res
	}
	if err != nil {
		r.logger.Warn("add failed",
			zap.String("item", st.item.Name),
			zap.String("candidate", c.DisplayName),
			zap.Error(err))
		return advance()
	}
	return added(c)
}

// classify turns terminal error classes into a tier result. Negative and
// exhausted transient errors are left to the caller (done == false).
func (r *ResolutionEngine) classify(st *itemState, op string, err error) (tierResult, bool) {
	switch domain.Classify(err) {
	case domain.ClassSessionExpired:
		return tierResult{step: stepSessionLost, err: err}, true
	case domain.ClassUnexpected:
		r.logger.Error("unexpected failure",
			zap.String("item", st.item.Name),
			zap.String("op", op),
			zap.Error(err))
		return tierResult{step: stepFailed, err: err}, true
	default:
		return tierResult{}, false
	}
}

// purchaseOrder keeps in-stock candidates whose name clears the tier
// threshold and orders them by purchase frequency, then search rank.
func (r *ResolutionEngine) purchaseOrder(name string, candidates []domain.CatalogCandidate) []domain.CatalogCandidate {
	usable := make([]domain.CatalogCandidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.InStock {
			continue
		}
		if r.config.MinMatchScore > 0 && r.matcher.Score(name, c.DisplayName) < r.config.MinMatchScore {
			continue
		}
		usable = append(usable, c)
	}
	sort.SliceStable(usable, func(i, j int) bool {
		if usable[i].PurchaseFrequency != usable[j].PurchaseFrequency {
			return usable[i].PurchaseFrequency > usable[j].PurchaseFrequency
		}
		return usable[i].Rank < usable[j].Rank
	})
	return usable
}

// withRetry retries fn while it fails transiently, up to TransientRetries
// extra attempts with linear backoff.
func (r *ResolutionEngine) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= r.config.TransientRetries; attempt++ {
		err = fn()
		if domain.Classify(err) != domain.ClassTransient {
			return err
		}
		r.logger.Warn("transient failure",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		if attempt < r.config.TransientRetries {
			if sleepErr := r.sleep(ctx, time.Duration(attempt+1)*r.config.RetryBackoff); sleepErr != nil {
				return err
			}
		}
	}
	return err
}

func unresolved(states []*itemState) []*itemState {
	var out []*itemState
	for _, st := range states {
		if !st.resolved() {
			out = append(out, st)
		}
	}
	return out
}

type noDiagnostics struct{}

func (noDiagnostics) Capture(context.Context, string, error) {}
