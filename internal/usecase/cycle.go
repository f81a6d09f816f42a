package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cartsync/backend/internal/domain"
)

// CycleContext carries the scheduler state a single cycle may read. The
// cycle never mutates it; changes come back through the CycleReport.
type CycleContext struct {
	ID        string
	StartedAt time.Time
	State     *domain.MonitorState
}

// CycleReport summarises one scrape -> resolve -> clear/notify pass.
type CycleReport struct {
	ID         string           `json:"id"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`
	Resumed    int              `json:"resumed"`
	Outcomes   []domain.Outcome `json:"-"`
	Cleared    []string         `json:"cleared"`
	Notified   []string         `json:"notified"`
	// Observed holds the identities seen on the source list; nil when the
	// scrape did not happen.
	Observed map[string]struct{} `json:"-"`
	// Escalated holds identities of items finalized as Failed.
	Escalated []string `json:"escalated"`
}

// Counts returns the number of added, failed and deferred outcomes.
func (r *CycleReport) Counts() (added, failed, deferred int) {
	a, f, d := domain.Partition(r.Outcomes)
	return len(a), len(f), len(d)
}

// Cycler runs one processing cycle.
type Cycler interface {
	Run(ctx context.Context, cc CycleContext) (*CycleReport, error)
}

// CycleRunner implements one cycle: scrape, stage, resolve, clear the added
// items from the source, notify about failures and update staging.
type CycleRunner struct {
	lister     domain.SourceLister
	storefront domain.Storefront
	resolver   *ResolutionEngine
	staging    domain.StagingStore
	notifier   domain.NotificationSink
	logger     *zap.Logger
	now        func() time.Time
}

// NewCycleRunner creates a cycle runner with dependencies
func NewCycleRunner(
	lister domain.SourceLister,
	storefront domain.Storefront,
	resolver *ResolutionEngine,
	staging domain.StagingStore,
	notifier domain.NotificationSink,
	logger *zap.Logger,
) *CycleRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CycleRunner{
		lister:     lister,
		storefront: storefront,
		resolver:   resolver,
		staging:    staging,
		notifier:   notifier,
		logger:     logger.Named("cycle"),
		now:        time.Now,
	}
}

// Run executes a single cycle. Item-level failures never produce an error;
// a non-nil error means the cycle was aborted or the session was lost (the
// latter matches domain.ErrSessionExpired).
func (c *CycleRunner) Run(ctx context.Context, cc CycleContext) (*CycleReport, error) {
	log := c.logger.With(zap.String("cycle_id", cc.ID))
	report := &CycleReport{ID: cc.ID, StartedAt: cc.StartedAt}
	if report.StartedAt.IsZero() {
		report.StartedAt = c.now()
	}
	defer func() { report.FinishedAt = c.now() }()

	record, err := c.staging.Load(ctx)
	switch {
	case errors.Is(err, domain.ErrStagingNotFound):
		record = nil
	case err != nil:
		return report, fmt.Errorf("load staging: %w", err)
	}

	scraped, err := c.lister.ListItems(ctx)
	if err != nil {
		return report, fmt.Errorf("list source items: %w", err)
	}
	report.Observed = identities(scraped)

	var escalated map[string]struct{}
	if cc.State != nil {
		escalated = cc.State.Escalated
	}
	batch, awaiting := mergeBatch(record, scraped, escalated)
	if record != nil {
		report.Resumed = len(record.Items)
	}

	if len(batch) == 0 && len(awaiting) == 0 {
		if record != nil {
			if err := c.staging.Delete(ctx); err != nil {
				return report, fmt.Errorf("delete staging: %w", err)
			}
		}
		log.Debug("nothing to process", zap.Int("listed", len(scraped)))
		return report, nil
	}

	log.Info("cycle started",
		zap.Int("items", len(batch)),
		zap.Int("awaiting_clear", len(awaiting)),
		zap.Int("resumed", report.Resumed))

	staged := &domain.StagingRecord{
		CycleID:   cc.ID,
		CreatedAt: c.now(),
		UpdatedAt: c.now(),
		Items:     stagedItems(batch, awaiting),
	}
	if record != nil && !record.CreatedAt.IsZero() {
		staged.CreatedAt = record.CreatedAt
	}
	if err := c.staging.Save(ctx, staged); err != nil {
		report.Outcomes = deferAll(batch, domain.ReasonCycleAborted)
		c.logOutcomes(log, report.Outcomes)
		return report, fmt.Errorf("save staging: %w", err)
	}

	var resolveErr error
	if len(batch) > 0 {
		report.Outcomes, resolveErr = c.resolve(ctx, batch, func(ctx context.Context, o domain.Outcome) {
			c.markAdded(ctx, log, staged, o.Item)
		})
		if resolveErr != nil && !errors.Is(resolveErr, domain.ErrSessionExpired) {
			c.logOutcomes(log, report.Outcomes)
			return report, resolveErr
		}
	}
	c.logOutcomes(log, report.Outcomes)

	addedOutcomes, failedOutcomes, deferredOutcomes := domain.Partition(report.Outcomes)
	toClear := append(domain.OutcomeItems(addedOutcomes), awaiting...)

	stillAwaiting := toClear
	if len(toClear) > 0 {
		ids := itemIDs(toClear)
		if err := c.lister.Clear(ctx, ids); err != nil {
			log.Error("failed to clear source items; will retry next cycle",
				zap.Strings("ids", ids), zap.Error(err))
		} else {
			report.Cleared = ids
			stillAwaiting = nil
			log.Info("cleared source items", zap.Strings("ids", ids))
		}
	}

	if len(failedOutcomes) > 0 {
		failedItems := domain.OutcomeItems(failedOutcomes)
		names := domain.ItemNames(failedItems)
		report.Escalated = itemIDs(failedItems)
		report.Notified = names
		if err := c.notifier.Notify(ctx, names); err != nil {
			log.Warn("failed to send failure notification", zap.Strings("items", names), zap.Error(err))
		}
	}

	remaining := stagedItems(domain.OutcomeItems(deferredOutcomes), stillAwaiting)
	if len(remaining) == 0 {
		if err := c.staging.Delete(ctx); err != nil {
			return report, fmt.Errorf("delete staging: %w", err)
		}
	} else {
		staged.Items = remaining
		staged.UpdatedAt = c.now()
		if err := c.staging.Save(ctx, staged); err != nil {
			return report, fmt.Errorf("update staging: %w", err)
		}
	}

	added, failed, deferred := report.Counts()
	log.Info("cycle finished",
		zap.Int("added", added),
		zap.Int("failed", failed),
		zap.Int("deferred", deferred),
		zap.Int("cleared", len(report.Cleared)))

	return report, resolveErr
}

func (c *CycleRunner) resolve(ctx context.Context, batch []domain.RawItem, onAdded func(context.Context, domain.Outcome)) ([]domain.Outcome, error) {
	search, history, err := c.storefront.Open(ctx)
	if err != nil {
		reason := domain.ReasonCycleAborted
		if errors.Is(err, domain.ErrSessionExpired) {
			reason = domain.ReasonSessionLost
		}
		return deferAll(batch, reason), fmt.Errorf("open storefront: %w", err)
	}
	defer func() {
		if err := c.storefront.Close(); err != nil {
			c.logger.Warn("failed to close storefront", zap.Error(err))
		}
	}()

	return c.resolver.Resolve(ctx, Capabilities{Search: search, History: history, OnAdded: onAdded}, batch)
}

// markAdded moves an item that just landed in the cart to the added state
// and persists the record, so a crash before the clear never adds it twice.
func (c *CycleRunner) markAdded(ctx context.Context, log *zap.Logger, staged *domain.StagingRecord, it domain.RawItem) {
	id := it.Identity()
	for i := range staged.Items {
		if staged.Items[i].State == domain.StagedPending && staged.Items[i].Item.Identity() == id {
			staged.Items[i].State = domain.StagedAdded
			break
		}
	}
	staged.UpdatedAt = c.now()
	if err := c.staging.Save(ctx, staged); err != nil {
		log.Error("failed to stage added item", zap.String("item", it.Name), zap.Error(err))
	}
}

// logOutcomes writes the single terminal log line of every item.
func (c *CycleRunner) logOutcomes(log *zap.Logger, outcomes []domain.Outcome) {
	for _, o := range outcomes {
		fields := []zap.Field{
			zap.String("item", o.Item.Name),
			zap.Int("quantity", o.Item.Quantity),
			zap.Stringer("outcome", o.Kind),
			zap.Stringer("tier", o.Tier),
		}
		switch o.Kind {
		case domain.OutcomeAdded:
			fields = append(fields, zap.String("product", o.Candidate.DisplayName), zap.String("product_id", o.Candidate.ProductID))
			log.Info("item resolved", fields...)
		case domain.OutcomeFailed:
			fields = append(fields, zap.String("reason", string(o.Reason)))
			if o.Err != nil {
				fields = append(fields, zap.Error(o.Err))
			}
			log.Warn("item failed", fields...)
		case domain.OutcomeDeferred:
			fields = append(fields, zap.String("reason", string(o.Reason)))
			log.Info("item deferred", fields...)
		}
	}
}

// mergeBatch combines the resumed staging record with a fresh scrape.
// Pending staged items come first; scraped items already staged, already
// escalated or duplicated within the scrape are skipped.
func mergeBatch(record *domain.StagingRecord, scraped []domain.RawItem, escalated map[string]struct{}) (batch, awaiting []domain.RawItem) {
	seen := make(map[string]struct{})
	if record != nil {
		for _, si := range record.Items {
			seen[si.Item.Identity()] = struct{}{}
		}
		batch = append(batch, record.Pending()...)
		awaiting = record.AwaitingClear()
	}
	for _, item := range scraped {
		id := item.Identity()
		if _, ok := seen[id]; ok {
			continue
		}
		if _, ok := escalated[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		batch = append(batch, item)
	}
	return batch, awaiting
}

func stagedItems(pending, awaiting []domain.RawItem) []domain.StagedItem {
	items := make([]domain.StagedItem, 0, len(pending)+len(awaiting))
	for _, it := range pending {
		items = append(items, domain.StagedItem{Item: it, State: domain.StagedPending})
	}
	for _, it := range awaiting {
		items = append(items, domain.StagedItem{Item: it, State: domain.StagedAdded})
	}
	return items
}

func deferAll(items []domain.RawItem, reason domain.FailureReason) []domain.Outcome {
	out := make([]domain.Outcome, 0, len(items))
	for _, it := range items {
		out = append(out, domain.Deferred(it, reason))
	}
	return out
}

func itemIDs(items []domain.RawItem) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.Identity())
	}
	return ids
}

func identities(items []domain.RawItem) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it.Identity()] = struct{}{}
	}
	return set
}
