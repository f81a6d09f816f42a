package domain

import "time"

// Service names an external site the process keeps a session with.
type Service string

const (
	ServiceSource     Service = "amazon"
	ServiceStorefront Service = "walmart"
)

// SessionHandle describes an established session.
type SessionHandle struct {
	EstablishedAt time.Time `json:"establishedAt"`
	CookieFile    string    `json:"cookieFile,omitempty"`
}

// MonitorState is the process-wide scheduler state. It is owned and mutated
// by the scheduler only.
type MonitorState struct {
	LastCycleAt    time.Time                 `json:"lastCycleAt"`
	LastPageLoadAt time.Time                 `json:"lastPageLoadAt"`
	NextRefreshAt  time.Time                 `json:"nextRefreshAt"`
	SessionHandles map[Service]SessionHandle `json:"sessionHandles"`
	// Escalated holds identities of items that failed and were notified
	// while they remain on the source list.
	Escalated map[string]struct{} `json:"-"`
	// Reconcile forces the next poll to scrape even when the item count
	// matches the escalated set.
	Reconcile bool `json:"reconcile"`
}

// NewMonitorState returns an empty state.
func NewMonitorState() *MonitorState {
	return &MonitorState{
		SessionHandles: make(map[Service]SessionHandle),
		Escalated:      make(map[string]struct{}),
	}
}

// EscalatedIDs returns a copy of the escalated identity set.
func (s *MonitorState) EscalatedIDs() map[string]struct{} {
	out := make(map[string]struct{}, len(s.Escalated))
	for id := range s.Escalated {
		out[id] = struct{}{}
	}
	return out
}
