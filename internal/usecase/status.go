package usecase

import (
	"sort"
	"sync"
	"time"

	"github.com/cartsync/backend/internal/domain"
)

// MonitorStatus is the scheduler's current state.
type MonitorStatus string

const (
	StatusIdle       MonitorStatus = "idle"
	StatusPolling    MonitorStatus = "polling"
	StatusProcessing MonitorStatus = "processing"
	StatusRefreshing MonitorStatus = "refreshing"
	StatusStopped    MonitorStatus = "stopped"
)

// ReportSummary is the externally visible part of a CycleReport.
type ReportSummary struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Added      int       `json:"added"`
	Failed     int       `json:"failed"`
	Deferred   int       `json:"deferred"`
	Cleared    []string  `json:"cleared"`
	Notified   []string  `json:"notified"`
	Error      string    `json:"error,omitempty"`
}

// Snapshot is a point-in-time copy of the scheduler state.
type Snapshot struct {
	Status         MonitorStatus                           `json:"status"`
	LastCycleAt    time.Time                               `json:"lastCycleAt"`
	LastPageLoadAt time.Time                               `json:"lastPageLoadAt"`
	NextRefreshAt  time.Time                               `json:"nextRefreshAt"`
	Escalated      []string                                `json:"escalated"`
	Sessions       map[domain.Service]domain.SessionHandle `json:"sessions"`
	LastCycle      *ReportSummary                          `json:"lastCycle,omitempty"`
	Cycles         int                                     `json:"cycles"`
}

// StatusBoard publishes scheduler snapshots to concurrent readers such as
// the status server. The scheduler is the only writer.
type StatusBoard struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

// NewStatusBoard creates an empty board in the idle state.
func NewStatusBoard() *StatusBoard {
	return &StatusBoard{snapshot: Snapshot{Status: StatusIdle}}
}

// Snapshot returns the latest published snapshot.
func (b *StatusBoard) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshot
}

func (b *StatusBoard) publish(status MonitorStatus, state *domain.MonitorState) {
	escalated := make([]string, 0, len(state.Escalated))
	for id := range state.Escalated {
		escalated = append(escalated, id)
	}
	sort.Strings(escalated)
	sessions := make(map[domain.Service]domain.SessionHandle, len(state.SessionHandles))
	for k, v := range state.SessionHandles {
		sessions[k] = v
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot.Status = status
	b.snapshot.LastCycleAt = state.LastCycleAt
	b.snapshot.LastPageLoadAt = state.LastPageLoadAt
	b.snapshot.NextRefreshAt = state.NextRefreshAt
	b.snapshot.Escalated = escalated
	b.snapshot.Sessions = sessions
}

func (b *StatusBoard) recordCycle(report *CycleReport, err error) {
	if report == nil {
		return
	}
	added, failed, deferred := report.Counts()
	summary := &ReportSummary{
		ID:         report.ID,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Added:      added,
		Failed:     failed,
		Deferred:   deferred,
		Cleared:    report.Cleared,
		Notified:   report.Notified,
	}
	if err != nil {
		summary.Error = err.Error()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot.LastCycle = summary
	b.snapshot.Cycles++
}
