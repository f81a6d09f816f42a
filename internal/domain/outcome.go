package domain

import "fmt"

// Tier identifies the fallback strategy that produced an outcome.
type Tier int

const (
	TierNone Tier = iota
	TierDirectSearch
	TierPurchaseHistory
	TierSequentialRetry
	TierEscalation
)

func (t Tier) String() string {
	switch t {
	case TierDirectSearch:
		return "direct-search"
	case TierPurchaseHistory:
		return "purchase-history"
	case TierSequentialRetry:
		return "sequential-retry"
	case TierEscalation:
		return "escalation"
	default:
		return "none"
	}
}

// OutcomeKind tags the ResolutionOutcome variant.
type OutcomeKind int

const (
	OutcomeAdded OutcomeKind = iota + 1
	OutcomeFailed
	OutcomeDeferred
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAdded:
		return "added"
	case OutcomeFailed:
		return "failed"
	case OutcomeDeferred:
		return "deferred"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// FailureReason explains a Failed or Deferred outcome.
type FailureReason string

const (
	ReasonNone         FailureReason = ""
	ReasonNoMatch      FailureReason = "no_match"
	ReasonUnexpected   FailureReason = "unexpected_failure"
	ReasonSessionLost  FailureReason = "session_expired"
	ReasonCycleAborted FailureReason = "cycle_aborted"
)

// Outcome is the terminal ResolutionOutcome of one RawItem in one cycle.
// Exactly one of the variants is populated according to Kind:
// Added carries Candidate, Failed carries Reason (and Err for unexpected
// failures), Deferred carries Reason.
type Outcome struct {
	Item      RawItem
	Kind      OutcomeKind
	Tier      Tier
	Candidate *CatalogCandidate
	Reason    FailureReason
	Err       error
}

// Added builds an Added outcome.
func Added(item RawItem, tier Tier, c CatalogCandidate) Outcome {
	return Outcome{Item: item, Kind: OutcomeAdded, Tier: tier, Candidate: &c}
}

// Failed builds a Failed outcome.
func Failed(item RawItem, tier Tier, reason FailureReason, err error) Outcome {
	return Outcome{Item: item, Kind: OutcomeFailed, Tier: tier, Reason: reason, Err: err}
}

// Deferred builds a Deferred outcome; the item stays staged for a later cycle.
func Deferred(item RawItem, reason FailureReason) Outcome {
	return Outcome{Item: item, Kind: OutcomeDeferred, Reason: reason}
}

// Partition splits outcomes by kind, preserving order.
func Partition(outcomes []Outcome) (added, failed, deferred []Outcome) {
	for _, o := range outcomes {
		switch o.Kind {
		case OutcomeAdded:
			added = append(added, o)
		case OutcomeFailed:
			failed = append(failed, o)
		case OutcomeDeferred:
			deferred = append(deferred, o)
		}
	}
	return added, failed, deferred
}

// OutcomeItems extracts the items of the given outcomes.
func OutcomeItems(outcomes []Outcome) []RawItem {
	items := make([]RawItem, 0, len(outcomes))
	for _, o := range outcomes {
		items = append(items, o.Item)
	}
	return items
}
