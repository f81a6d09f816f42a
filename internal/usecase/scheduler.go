package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cartsync/backend/internal/domain"
	"github.com/cartsync/backend/internal/wait"
)

// SchedulerConfig holds configuration for the monitor scheduler
type SchedulerConfig struct {
	// PollInterval is the Idle sleep between polls. Default: 5s.
	PollInterval time.Duration
	// RefreshMin and RefreshMax bound the jittered page refresh interval.
	// Default: 10m and 15m.
	RefreshMin time.Duration
	RefreshMax time.Duration
	// MaxReauthAttempts bounds re-authentication after a session loss.
	// Default: 3.
	MaxReauthAttempts int
	ReauthBackoff     time.Duration
	// JitterSeed fixes the refresh jitter sequence; zero means random.
	JitterSeed uint64
}

func (c *SchedulerConfig) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.RefreshMin <= 0 {
		c.RefreshMin = 10 * time.Minute
	}
	if c.RefreshMax <= c.RefreshMin {
		c.RefreshMax = c.RefreshMin + 5*time.Minute
	}
	if c.MaxReauthAttempts <= 0 {
		c.MaxReauthAttempts = 3
	}
	if c.ReauthBackoff <= 0 {
		c.ReauthBackoff = 5 * time.Second
	}
}

// Clock abstracts time so the polling loop can be driven in tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error { return wait.Sleep(ctx, d) }

// Scheduler drives the Idle -> Polling -> Processing -> Idle loop, with
// Refreshing as a side-transition from Idle.
type Scheduler struct {
	probe  domain.SourceProbe
	cycle  Cycler
	auth   []domain.Authenticator
	config SchedulerConfig
	clock  Clock
	jitter *Jitter
	state  *domain.MonitorState
	board  *StatusBoard
	logger *zap.Logger
}

// NewScheduler creates a scheduler. state may carry sessions established
// before the loop starts; a nil state starts empty.
func NewScheduler(
	probe domain.SourceProbe,
	cycle Cycler,
	auth []domain.Authenticator,
	state *domain.MonitorState,
	board *StatusBoard,
	config SchedulerConfig,
	logger *zap.Logger,
) *Scheduler {
	config.defaults()
	if state == nil {
		state = domain.NewMonitorState()
	}
	if board == nil {
		board = NewStatusBoard()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		probe:  probe,
		cycle:  cycle,
		auth:   auth,
		config: config,
		clock:  realClock{},
		jitter: NewJitter(config.RefreshMin, config.RefreshMax, config.JitterSeed),
		state:  state,
		board:  board,
		logger: logger.Named("scheduler"),
	}
}

// WithClock replaces the scheduler clock.
func (s *Scheduler) WithClock(clock Clock) *Scheduler {
	s.clock = clock
	return s
}

// State returns the scheduler-owned monitor state. Callers must not mutate
// it while Run is active.
func (s *Scheduler) State() *domain.MonitorState { return s.state }

// Run loops until ctx is cancelled or a fatal condition occurs. A
// cancellation is only observed between cycles: an in-flight cycle always
// completes its staging updates. It returns nil on cancellation and an
// error matching domain.ErrAuthExhausted when re-authentication ran out.
func (s *Scheduler) Run(ctx context.Context) error {
	s.state.LastPageLoadAt = s.clock.Now()
	s.scheduleRefresh()
	s.logger.Info("monitor started",
		zap.Duration("poll_interval", s.config.PollInterval),
		zap.Time("next_refresh", s.state.NextRefreshAt))

	status := StatusIdle
	for {
		if ctx.Err() != nil {
			s.board.publish(StatusStopped, s.state)
			s.logger.Info("monitor stopped")
			return nil
		}
		s.board.publish(status, s.state)

		var err error
		switch status {
		case StatusIdle:
			if s.refreshDue() {
				status = StatusRefreshing
				continue
			}
			if s.clock.Sleep(ctx, s.config.PollInterval) != nil {
				continue
			}
			status = StatusPolling
		case StatusPolling:
			status, err = s.poll(ctx)
		case StatusProcessing:
			err = s.process(ctx)
			status = StatusIdle
		case StatusRefreshing:
			err = s.refresh(ctx)
			status = StatusIdle
		default:
			status = StatusIdle
		}

		if err != nil {
			status = StatusIdle
			if fatal := s.handleFailure(ctx, err); fatal != nil {
				s.board.publish(StatusStopped, s.state)
				return fatal
			}
		}
	}
}

// Authenticate establishes every session before the loop starts, with the
// same bounded retries as a re-authentication after a session loss.
func (s *Scheduler) Authenticate(ctx context.Context) error {
	err := s.reauthenticate(ctx, errors.New("no session yet"))
	s.board.publish(StatusIdle, s.state)
	return err
}

// RunOnce runs a single cycle outside the polling loop, re-authenticating
// once if the session was lost.
func (s *Scheduler) RunOnce(ctx context.Context) (*CycleReport, error) {
	report, err := s.runCycle(ctx)
	if err != nil && errors.Is(err, domain.ErrSessionExpired) {
		if authErr := s.reauthenticate(ctx, err); authErr != nil {
			return report, authErr
		}
		return s.runCycle(ctx)
	}
	return report, err
}

// poll performs the cheap existence check. Processing requires at least
// one listed item that is not already escalated, or a pending reconcile.
// Escalated items that left the list are forgotten.
func (s *Scheduler) poll(ctx context.Context) (MonitorStatus, error) {
	if s.state.Reconcile {
		return StatusProcessing, nil
	}

	ids, err := s.probe.ListedIDs(ctx)
	if err != nil {
		return StatusIdle, fmt.Errorf("poll source: %w", err)
	}

	listed := make(map[string]struct{}, len(ids))
	var fresh []string
	for _, id := range ids {
		listed[id] = struct{}{}
		if _, ok := s.state.Escalated[id]; !ok {
			fresh = append(fresh, id)
		}
	}
	for id := range s.state.Escalated {
		if _, ok := listed[id]; !ok {
			s.logger.Info("escalated item no longer listed", zap.String("id", id))
			delete(s.state.Escalated, id)
		}
	}

	if len(fresh) == 0 {
		return StatusIdle, nil
	}
	s.logger.Info("new items detected", zap.Int("new", len(fresh)), zap.Int("escalated", len(s.state.Escalated)))
	return StatusProcessing, nil
}

// process runs one cycle on a context that ignores cancellation so the
// staging record is always committed.
func (s *Scheduler) process(ctx context.Context) error {
	_, err := s.runCycle(context.WithoutCancel(ctx))
	return err
}

func (s *Scheduler) runCycle(ctx context.Context) (*CycleReport, error) {
	cc := CycleContext{
		ID:        uuid.NewString(),
		StartedAt: s.clock.Now(),
		State:     s.state,
	}
	s.board.publish(StatusProcessing, s.state)

	report, err := s.cycle.Run(ctx, cc)
	s.state.LastCycleAt = s.clock.Now()
	s.state.Reconcile = false
	s.applyReport(report)
	s.board.recordCycle(report, err)

	if err != nil {
		return report, fmt.Errorf("cycle %s: %w", cc.ID, err)
	}
	return report, nil
}

// applyReport keeps escalated items that are still listed and adds the
// items that failed in this cycle.
func (s *Scheduler) applyReport(report *CycleReport) {
	if report == nil {
		return
	}
	if report.Observed != nil {
		for id := range s.state.Escalated {
			if _, ok := report.Observed[id]; !ok {
				delete(s.state.Escalated, id)
			}
		}
	}
	for _, id := range report.Escalated {
		s.state.Escalated[id] = struct{}{}
	}
}

func (s *Scheduler) refreshDue() bool {
	return !s.clock.Now().Before(s.state.NextRefreshAt)
}

// refresh reloads the source page and draws a new jittered bound.
func (s *Scheduler) refresh(ctx context.Context) error {
	s.logger.Info("refreshing source page")
	err := s.probe.Reload(ctx)
	s.state.LastPageLoadAt = s.clock.Now()
	s.scheduleRefresh()
	if err != nil {
		return fmt.Errorf("refresh source: %w", err)
	}
	if len(s.state.Escalated) > 0 {
		s.state.Reconcile = true
	}
	return nil
}

func (s *Scheduler) scheduleRefresh() {
	bound := s.jitter.Next()
	s.state.NextRefreshAt = s.state.LastPageLoadAt.Add(bound)
	s.logger.Debug("next refresh scheduled",
		zap.Duration("after", bound),
		zap.Time("at", s.state.NextRefreshAt))
}

// handleFailure decides what a failed state transition means. Session loss
// triggers synchronous re-authentication; anything else is logged and the
// loop returns to Idle. The returned error is fatal.
func (s *Scheduler) handleFailure(ctx context.Context, err error) error {
	if !errors.Is(err, domain.ErrSessionExpired) {
		s.logger.Error("cycle step failed", zap.Error(err))
		return nil
	}
	s.logger.Warn("session lost", zap.Error(err))
	authErr := s.reauthenticate(ctx, err)
	if authErr != nil && ctx.Err() != nil {
		return nil
	}
	return authErr
}

// reauthenticate re-establishes every session, retrying up to
// MaxReauthAttempts times.
func (s *Scheduler) reauthenticate(ctx context.Context, cause error) error {
	lastErr := cause
	for attempt := 1; attempt <= s.config.MaxReauthAttempts; attempt++ {
		s.logger.Info("re-authenticating", zap.Int("attempt", attempt), zap.Int("max", s.config.MaxReauthAttempts))
		err := s.authenticateAll(ctx)
		if err == nil {
			s.state.LastPageLoadAt = s.clock.Now()
			s.scheduleRefresh()
			return nil
		}
		lastErr = err
		s.logger.Warn("re-authentication failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt < s.config.MaxReauthAttempts {
			if err := s.clock.Sleep(ctx, time.Duration(attempt)*s.config.ReauthBackoff); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", domain.ErrAuthExhausted, s.config.MaxReauthAttempts, lastErr)
}

func (s *Scheduler) authenticateAll(ctx context.Context) error {
	for _, a := range s.auth {
		handle, err := a.Authenticate(ctx)
		if err != nil {
			return fmt.Errorf("authenticate %s: %w", a.Service(), err)
		}
		s.state.SessionHandles[a.Service()] = handle
	}
	return nil
}
