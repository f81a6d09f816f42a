package usecase

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartsync/backend/internal/domain"
)

func requireOnePerItem(t *testing.T, batch []domain.RawItem, outcomes []domain.Outcome) {
	t.Helper()
	require.Len(t, outcomes, len(batch))
	for i := range batch {
		assert.Equal(t, batch[i], outcomes[i].Item, "outcome %d out of order", i)
	}
}

func TestResolve_DirectSearchThenPurchaseHistory(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.results["milk"] = []domain.CatalogCandidate{candidate("m1", "Great Value Whole Milk", 5)}
	history := newFakeHistory(candidate("h1", "Large Eggs", 3), candidate("h2", "Paper Towels", 1))
	r := newTestResolver(ResolverConfig{MinMatchScore: 30}, newMapCache(), nil)

	batch := []domain.RawItem{item("milk", "a1"), item("eggs", "a2")}
	outcomes, err := r.Resolve(context.Background(), Capabilities{Search: catalog, History: history}, batch)
	require.NoError(t, err)
	requireOnePerItem(t, batch, outcomes)

	assert.Equal(t, domain.OutcomeAdded, outcomes[0].Kind)
	assert.Equal(t, domain.TierDirectSearch, outcomes[0].Tier)
	assert.Equal(t, "m1", outcomes[0].Candidate.ProductID)

	assert.Equal(t, domain.OutcomeAdded, outcomes[1].Kind)
	assert.Equal(t, domain.TierPurchaseHistory, outcomes[1].Tier)
	assert.Equal(t, "h1", outcomes[1].Candidate.ProductID)

	assert.Equal(t, 1, history.scanCalls)
	assert.Equal(t, []string{"m1"}, catalog.adds)
	assert.Equal(t, []string{"h1"}, history.adds)
}

func TestResolve_EscalatesWhenEveryTierFails(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.results["unobtainium widget"] = []domain.CatalogCandidate{candidate("w1", "Widget Stand", 0)}
	catalog.addErr["w1"] = []error{domain.ErrAddRejected}
	history := newFakeHistory(candidate("h1", "Large Eggs", 3))
	r := newTestResolver(ResolverConfig{MinMatchScore: 30}, newMapCache(), nil)

	batch := []domain.RawItem{item("unobtainium widget", "")}
	outcomes, err := r.Resolve(context.Background(), Capabilities{Search: catalog, History: history}, batch)
	require.NoError(t, err)
	requireOnePerItem(t, batch, outcomes)

	o := outcomes[0]
	assert.Equal(t, domain.OutcomeFailed, o.Kind)
	assert.Equal(t, domain.TierEscalation, o.Tier)
	assert.Equal(t, domain.ReasonNoMatch, o.Reason)
	assert.Nil(t, o.Candidate)
	// Tier 1 tried the top candidate, tier 3 retried it from the cache.
	assert.Equal(t, []string{"w1", "w1"}, catalog.adds)
	assert.Empty(t, history.adds)
}

func TestResolve_PurchaseHistoryScannedOncePerBatch(t *testing.T) {
	catalog := newFakeCatalog()
	history := newFakeHistory()
	r := newTestResolver(ResolverConfig{}, newMapCache(), nil)

	batch := []domain.RawItem{item("apples", ""), item("pears", ""), item("plums", "")}
	outcomes, err := r.Resolve(context.Background(), Capabilities{Search: catalog, History: history}, batch)
	require.NoError(t, err)
	requireOnePerItem(t, batch, outcomes)

	assert.Equal(t, 1, history.scanCalls)
	for _, o := range outcomes {
		assert.Equal(t, domain.OutcomeFailed, o.Kind)
	}
}

func TestResolve_DirectSearchSuccessSkipsLaterTiers(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.results["milk"] = []domain.CatalogCandidate{candidate("m1", "Whole Milk", 2)}
	catalog.results["bread"] = []domain.CatalogCandidate{candidate("b1", "White Bread", 1)}
	history := newFakeHistory(candidate("h1", "Whole Milk", 9))
	r := newTestResolver(ResolverConfig{MinMatchScore: 30}, newMapCache(), nil)

	batch := []domain.RawItem{item("milk", ""), item("bread", "")}
	outcomes, err := r.Resolve(context.Background(), Capabilities{Search: catalog, History: history}, batch)
	require.NoError(t, err)
	requireOnePerItem(t, batch, outcomes)

	for _, o := range outcomes {
		assert.Equal(t, domain.OutcomeAdded, o.Kind)
		assert.Equal(t, domain.TierDirectSearch, o.Tier)
	}
	assert.Equal(t, 0, history.scanCalls)
	assert.Equal(t, []string{"m1", "b1"}, catalog.adds)
}

func TestResolve_DirectSearchOrdering(t *testing.T) {
	t.Run("picks the most purchased in-stock candidate", func(t *testing.T) {
		catalog := newFakeCatalog()
		outOfStock := candidate("m0", "Whole Milk", 9)
		outOfStock.InStock = false
		catalog.results["whole milk"] = []domain.CatalogCandidate{
			outOfStock,
			{ProductID: "m1", DisplayName: "Whole Milk", PurchaseFrequency: 1, Rank: 1, InStock: true},
			{ProductID: "m2", DisplayName: "Organic Whole Milk", PurchaseFrequency: 4, Rank: 2, InStock: true},
		}
		r := newTestResolver(ResolverConfig{MinMatchScore: 30}, newMapCache(), nil)

		outcomes, err := r.Resolve(context.Background(), Capabilities{Search: catalog, History: newFakeHistory()}, []domain.RawItem{item("whole milk", "")})
		require.NoError(t, err)
		assert.Equal(t, "m2", outcomes[0].Candidate.ProductID)
	})

	t.Run("ignores candidates below the match score", func(t *testing.T) {
		catalog := newFakeCatalog()
		catalog.results["milk"] = []domain.CatalogCandidate{candidate("x1", "Paper Towels", 50)}
		r := newTestResolver(ResolverConfig{MinMatchScore: 30}, newMapCache(), nil)

		outcomes, err := r.Resolve(context.Background(), Capabilities{Search: catalog, History: newFakeHistory()}, []domain.RawItem{item("milk", "")})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeFailed, outcomes[0].Kind)
		assert.Empty(t, catalog.adds)
	})

	t.Run("passes the item quantity to the add", func(t *testing.T) {
		catalog := newFakeCatalog()
		catalog.results["milk"] = []domain.CatalogCandidate{candidate("m1", "Whole Milk", 1)}
		r := newTestResolver(ResolverConfig{}, newMapCache(), nil)

		_, err := r.Resolve(context.Background(), Capabilities{Search: catalog, History: newFakeHistory()}, []domain.RawItem{domain.NewRawItem("milk", 3, "")})
		require.NoError(t, err)
		assert.Equal(t, 3, catalog.quantity["m1"])
	})

	t.Run("searches with the cleaned query", func(t *testing.T) {
		catalog := newFakeCatalog()
		r := newTestResolver(ResolverConfig{}, newMapCache(), nil)

		_, err := r.Resolve(context.Background(), Capabilities{Search: catalog, History: newFakeHistory()}, []domain.RawItem{item("Whole Milk, 2 gallons", "")})
		require.NoError(t, err)
		require.NotEmpty(t, catalog.searches)
		assert.Equal(t, "whole milk", catalog.searches[0])
	})
}

func TestResolve_PurchaseHistoryUsesTopCandidateName(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.results["coke"] = []domain.CatalogCandidate{candidate("c1", "Coca-Cola Classic", 2)}
	catalog.addErr["c1"] = []error{domain.ErrAddRejected}
	history := newFakeHistory(candidate("h1", "Coca-Cola Classic 12 pack", 4))
	r := newTestResolver(ResolverConfig{}, newMapCache(), nil)

	outcomes, err := r.Resolve(context.Background(), Capabilities{Search: catalog, History: history}, []domain.RawItem{item("coke", "")})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.OutcomeAdded, outcomes[0].Kind)
	assert.Equal(t, domain.TierPurchaseHistory, outcomes[0].Tier)
	assert.Equal(t, []string{"h1"}, history.adds)
}

func TestResolve_SequentialRetry(t *testing.T) {
	t.Run("falls through to the next cached candidate", func(t *testing.T) {
		catalog := newFakeCatalog()
		catalog.results["milk"] = []domain.CatalogCandidate{
			candidate("m1", "Great Value Whole Milk", 5),
			candidate("m2", "Whole Milk", 1),
		}
		catalog.addErr["m1"] = []error{domain.ErrAddRejected}
		r := newTestResolver(ResolverConfig{MinMatchScore: 30}, newMapCache(), nil)

		outcomes, err := r.Resolve(context.Background(), Capabilities{Search: catalog, History: newFakeHistory()}, []domain.RawItem{item("milk", "")})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeAdded, outcomes[0].Kind)
		assert.Equal(t, domain.TierSequentialRetry, outcomes[0].Tier)
		assert.Equal(t, "m2", outcomes[0].Candidate.ProductID)
		assert.Equal(t, []string{"m1", "m1", "m2"}, catalog.adds)
	})

	t.Run("attempts are bounded", func(t *testing.T) {
		catalog := newFakeCatalog()
		var cands []domain.CatalogCandidate
		for i := 0; i < 5; i++ {
			id := fmt.Sprintf("m%d", i)
			cands = append(cands, candidate(id, "Whole Milk", 5-i))
			catalog.addErr[id] = []error{domain.ErrAddRejected}
		}
		catalog.results["milk"] = cands
		r := newTestResolver(ResolverConfig{MaxSequentialAttempts: 2}, newMapCache(), nil)

		outcomes, err := r.Resolve(context.Background(), Capabilities{Search: catalog, History: newFakeHistory()}, []domain.RawItem{item("milk", "")})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeFailed, outcomes[0].Kind)
		// One tier-1 add plus two sequential attempts.
		assert.Equal(t, []string{"m0", "m0", "m1"}, catalog.adds)
	})

	t.Run("results from an earlier cycle are not replayed", func(t *testing.T) {
		stale := []domain.CatalogCandidate{candidate("old1", "Whole Milk", 9)}
		for name, searchErr := range map[string][]error{
			"empty search":      nil,
			"failed search":     {domain.ErrTransient},
			"no match reported": {domain.ErrNoMatch},
		} {
			t.Run(name, func(t *testing.T) {
				cache := newMapCache()
				cache.data["milk"] = stale
				catalog := newFakeCatalog()
				catalog.searchErr["milk"] = searchErr
				r := newTestResolver(ResolverConfig{}, cache, nil)

				outcomes, err := r.Resolve(context.Background(), Capabilities{Search: catalog, History: newFakeHistory()}, []domain.RawItem{item("milk", "")})
				require.NoError(t, err)
				assert.Equal(t, domain.TierEscalation, outcomes[0].Tier)
				assert.Empty(t, catalog.adds)
				assert.NotContains(t, cache.data, "milk")
			})
		}
	})

	t.Run("cache miss advances to escalation", func(t *testing.T) {
		catalog := newFakeCatalog()
		r := newTestResolver(ResolverConfig{}, newMapCache(), nil)

		outcomes, err := r.Resolve(context.Background(), Capabilities{Search: catalog, History: newFakeHistory()}, []domain.RawItem{item("milk", "")})
		require.NoError(t, err)
		assert.Equal(t, domain.TierEscalation, outcomes[0].Tier)
	})
}

func TestResolve_TransientFailures(t *testing.T) {
	t.Run("retried within the tier", func(t *testing.T) {
		catalog := newFakeCatalog()
		catalog.results["milk"] = []domain.CatalogCandidate{candidate("m1", "Whole Milk", 1)}
		catalog.addErr["m1"] = []error{domain.ErrTransient, nil}
		r := newTestResolver(ResolverConfig{TransientRetries: 2}, newMapCache(), nil)

		outcomes, err := r.Resolve(context.Background(), Capabilities{Search: catalog, History: newFakeHistory()}, []domain.RawItem{item("milk", "")})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeAdded, outcomes[0].Kind)
		assert.Equal(t, domain.TierDirectSearch, outcomes[0].Tier)
		assert.Equal(t, []string{"m1", "m1"}, catalog.adds)
	})

	t.Run("exhausted retries advance the tier", func(t *testing.T) {
		catalog := newFakeCatalog()
		catalog.results["milk"] = []domain.CatalogCandidate{candidate("m1", "Whole Milk", 1)}
		catalog.addErr["m1"] = []error{domain.ErrTransient}
		r := newTestResolver(ResolverConfig{TransientRetries: 1}, newMapCache(), nil)

		outcomes, err := r.Resolve(context.Background(), Capabilities{Search: catalog, History: newFakeHistory()}, []domain.RawItem{item("milk", "")})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeFailed, outcomes[0].Kind)
		assert.Equal(t, domain.TierEscalation, outcomes[0].Tier)
		assert.Len(t, catalog.adds, 4)
	})
}

func TestResolve_UnexpectedFailure(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.results["milk"] = []domain.CatalogCandidate{candidate("m1", "Whole Milk", 1)}
	catalog.searchErr["bread"] = []error{errBoom}
	history := newFakeHistory()
	diag := &fakeDiagnostics{}
	r := newTestResolver(ResolverConfig{}, newMapCache(), diag)

	batch := []domain.RawItem{item("bread", ""), item("milk", "")}
	outcomes, err := r.Resolve(context.Background(), Capabilities{Search: catalog, History: history}, batch)
	require.NoError(t, err)
	requireOnePerItem(t, batch, outcomes)

	assert.Equal(t, domain.OutcomeFailed, outcomes[0].Kind)
	assert.Equal(t, domain.ReasonUnexpected, outcomes[0].Reason)
	assert.Equal(t, domain.TierDirectSearch, outcomes[0].Tier)
	assert.ErrorIs(t, outcomes[0].Err, errBoom)
	assert.Equal(t, []string{"direct-search_bread"}, diag.labels)

	assert.Equal(t, domain.OutcomeAdded, outcomes[1].Kind)
	assert.Equal(t, 0, history.scanCalls)
}

func TestResolve_PurchaseHistoryScanFailure(t *testing.T) {
	t.Run("unexpected error falls through to sequential retry", func(t *testing.T) {
		catalog := newFakeCatalog()
		catalog.results["milk"] = []domain.CatalogCandidate{candidate("m1", "Whole Milk", 1)}
		catalog.addErr["m1"] = []error{domain.ErrAddRejected, nil}
		history := newFakeHistory()
		history.scanErr = errBoom
		diag := &fakeDiagnostics{}
		r := newTestResolver(ResolverConfig{}, newMapCache(), diag)

		outcomes, err := r.Resolve(context.Background(), Capabilities{Search: catalog, History: history}, []domain.RawItem{item("milk", "")})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeAdded, outcomes[0].Kind)
		assert.Equal(t, domain.TierSequentialRetry, outcomes[0].Tier)
		assert.Equal(t, []string{"purchase_history_scan"}, diag.labels)
	})

	t.Run("session loss defers the residual items", func(t *testing.T) {
		catalog := newFakeCatalog()
		catalog.results["milk"] = []domain.CatalogCandidate{candidate("m1", "Whole Milk", 1)}
		history := newFakeHistory()
		history.scanErr = fmt.Errorf("history page redirected to login: %w", domain.ErrSessionExpired)
		r := newTestResolver(ResolverConfig{}, newMapCache(), nil)

		batch := []domain.RawItem{item("milk", ""), item("eggs", "")}
		outcomes, err := r.Resolve(context.Background(), Capabilities{Search: catalog, History: history}, batch)
		require.ErrorIs(t, err, domain.ErrSessionExpired)
		requireOnePerItem(t, batch, outcomes)
		assert.Equal(t, domain.OutcomeAdded, outcomes[0].Kind)
		assert.Equal(t, domain.OutcomeDeferred, outcomes[1].Kind)
		assert.Equal(t, domain.ReasonSessionLost, outcomes[1].Reason)
	})
}

func TestResolve_SessionLostDefersRemainingItems(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.results["milk"] = []domain.CatalogCandidate{candidate("m1", "Whole Milk", 1)}
	catalog.searchErr["eggs"] = []error{fmt.Errorf("search redirected to sign-in: %w", domain.ErrSessionExpired)}
	history := newFakeHistory()
	r := newTestResolver(ResolverConfig{}, newMapCache(), nil)

	batch := []domain.RawItem{item("milk", ""), item("eggs", ""), item("bread", "")}
	outcomes, err := r.Resolve(context.Background(), Capabilities{Search: catalog, History: history}, batch)
	require.ErrorIs(t, err, domain.ErrSessionExpired)
	requireOnePerItem(t, batch, outcomes)

	assert.Equal(t, domain.OutcomeAdded, outcomes[0].Kind)
	for _, o := range outcomes[1:] {
		assert.Equal(t, domain.OutcomeDeferred, o.Kind)
		assert.Equal(t, domain.ReasonSessionLost, o.Reason)
	}
	assert.Equal(t, []string{"milk", "eggs"}, catalog.searches)
	assert.Equal(t, 0, history.scanCalls)
}

func TestResolve_CancelledContextDefersItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	catalog := newFakeCatalog()
	r := newTestResolver(ResolverConfig{}, newMapCache(), nil)

	batch := []domain.RawItem{item("milk", ""), item("eggs", "")}
	outcomes, err := r.Resolve(ctx, Capabilities{Search: catalog, History: newFakeHistory()}, batch)
	require.NoError(t, err)
	requireOnePerItem(t, batch, outcomes)
	for _, o := range outcomes {
		assert.Equal(t, domain.OutcomeDeferred, o.Kind)
		assert.Equal(t, domain.ReasonCycleAborted, o.Reason)
	}
	assert.Empty(t, catalog.searches)
}

func TestResolve_EmptyBatch(t *testing.T) {
	history := newFakeHistory()
	r := newTestResolver(ResolverConfig{}, newMapCache(), nil)

	outcomes, err := r.Resolve(context.Background(), Capabilities{Search: newFakeCatalog(), History: history}, nil)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
	assert.Equal(t, 0, history.scanCalls)
}
