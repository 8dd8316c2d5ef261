package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/security-ir-jira/internal/domain"
	"github.com/spec-kit/security-ir-jira/internal/events"
	"github.com/spec-kit/security-ir-jira/internal/observability"
	"github.com/spec-kit/security-ir-jira/internal/repository"
	"github.com/spec-kit/security-ir-jira/internal/service"
)

// CasePoller produces security-ir events by comparing cases against their
// stored snapshots.
type CasePoller struct {
	cases      service.CaseManagement
	snapshots  repository.SnapshotRepository
	watermarks repository.WatermarkRepository
	name       string
	publisher  events.Publisher
	metrics    *observability.Metrics
	logger     *zap.Logger
	interval   time.Duration
	lookback   time.Duration
	now        func() time.Time

	mu        sync.Mutex
	watermark time.Time
}

// DefaultPollerName keys the watermark of the case poller.
const DefaultPollerName = "security-ir-poller"

// CasePollerDependencies bundles the poller collaborators.
type CasePollerDependencies struct {
	Cases     service.CaseManagement
	Snapshots repository.SnapshotRepository
	// Watermarks persists the watermark across restarts. Nil keeps it in
	// memory only.
	Watermarks repository.WatermarkRepository
	// Name keys the stored watermark. Defaults to DefaultPollerName.
	Name      string
	Publisher events.Publisher
	Metrics   *observability.Metrics
	Logger    *zap.Logger
	Interval  time.Duration
	// Lookback bounds the first poll when no watermark is stored.
	Lookback time.Duration
}

// NewCasePoller constructs the poller.
func NewCasePoller(deps CasePollerDependencies) *CasePoller {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := deps.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	lookback := deps.Lookback
	if lookback <= 0 {
		lookback = 15 * time.Minute
	}
	name := deps.Name
	if name == "" {
		name = DefaultPollerName
	}
	return &CasePoller{
		cases:      deps.Cases,
		snapshots:  deps.Snapshots,
		watermarks: deps.Watermarks,
		name:       name,
		publisher:  deps.Publisher,
		metrics:    deps.Metrics,
		logger:     logger.Named("case_poller"),
		interval:   interval,
		lookback:   lookback,
		now:        time.Now,
	}
}

// Run polls until ctx is cancelled. A failed poll is logged and retried on
// the next tick.
func (p *CasePoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll syncs every case updated since the watermark and returns how many
// events were published. The watermark only advances when every case
// synced, so a failing case is picked up again.
func (p *CasePoller) Poll(ctx context.Context) (int, error) {
	started := p.now()
	since, err := p.since(ctx, started)
	if err != nil {
		return 0, err
	}

	summaries, err := p.cases.ListCases(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("list cases since %s: %w", since.Format(time.RFC3339), err)
	}
	p.metrics.RecordCasesScanned(len(summaries))

	published := 0
	var errs []error
	for _, s := range summaries {
		n, err := p.SyncCase(ctx, s.ID)
		published += n
		if err != nil {
			p.logger.Warn("case sync failed", zap.String("case_id", s.ID), zap.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return published, errors.Join(errs...)
	}

	p.mu.Lock()
	p.watermark = started
	p.mu.Unlock()
	if p.watermarks != nil {
		// The next poll of this process still uses the in-memory value.
		if err := p.watermarks.SaveWatermark(ctx, p.name, started); err != nil {
			p.logger.Warn("unable to persist poll watermark", zap.Time("watermark", started), zap.Error(err))
		}
	}
	p.logger.Debug("poll complete", zap.Int("cases", len(summaries)), zap.Int("events", published))
	return published, nil
}

func (p *CasePoller) since(ctx context.Context, now time.Time) (time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.watermark.IsZero() && p.watermarks != nil {
		stored, err := p.watermarks.GetWatermark(ctx, p.name)
		switch {
		case err == nil:
			p.watermark = stored
			p.logger.Info("resuming from stored watermark", zap.Time("watermark", stored))
		case !errors.Is(err, repository.ErrNotFound):
			return time.Time{}, fmt.Errorf("load poll watermark: %w", err)
		}
	}
	if p.watermark.IsZero() {
		return now.Add(-p.lookback), nil
	}
	// Overlap one interval to cover clock skew with the case service.
	return p.watermark.Add(-p.interval), nil
}

// SyncCase publishes the events that bring caseID's snapshot up to date
// and then stores the new snapshot. Events are published before the
// snapshot is saved; a crash in between republishes the same IDs.
func (p *CasePoller) SyncCase(ctx context.Context, caseID string) (int, error) {
	c, err := p.cases.GetCase(ctx, caseID)
	if err != nil {
		return 0, fmt.Errorf("get case %s: %w", caseID, err)
	}
	comments, err := p.cases.ListComments(ctx, caseID)
	if err != nil {
		return 0, fmt.Errorf("list comments of case %s: %w", caseID, err)
	}
	c.Comments = comments

	prev, err := p.snapshots.Get(ctx, caseID)
	if errors.Is(err, repository.ErrNotFound) {
		prev = nil
	} else if err != nil {
		return 0, fmt.Errorf("get snapshot of case %s: %w", caseID, err)
	}

	evts, err := service.DiffCase(prev, c)
	if err != nil {
		return 0, err
	}
	for i, evt := range evts {
		if err := p.publisher.Publish(ctx, evt); err != nil {
			return i, fmt.Errorf("publish %s for case %s: %w", evt.Type, caseID, err)
		}
		p.metrics.RecordPublished(string(evt.Source), string(evt.Type))
	}

	if err := p.snapshots.Save(ctx, domain.SnapshotOf(c, p.now().UTC())); err != nil {
		return len(evts), fmt.Errorf("save snapshot of case %s: %w", caseID, err)
	}
	if len(evts) > 0 {
		p.logger.Info("case changes published", zap.String("case_id", caseID), zap.Int("events", len(evts)))
	}
	return len(evts), nil
}

// Resync publishes the full current state of caseID as a fresh
// CaseUpdated, forcing the mirror to be rewritten.
func (p *CasePoller) Resync(ctx context.Context, caseID string) (events.Event, error) {
	c, err := p.cases.GetCase(ctx, caseID)
	if err != nil {
		return events.Event{}, fmt.Errorf("get case %s: %w", caseID, err)
	}
	evt, err := events.New(events.SourceSecurityIR, events.EventCaseUpdated, events.CasePayloadOf(c))
	if err != nil {
		return events.Event{}, err
	}
	evt.CaseID = c.ID
	if err := p.publisher.Publish(ctx, evt); err != nil {
		return events.Event{}, fmt.Errorf("publish resync of case %s: %w", caseID, err)
	}
	p.metrics.RecordPublished(string(evt.Source), string(evt.Type))
	p.logger.Info("case resync requested", zap.String("case_id", caseID), zap.String("event_id", evt.ID))
	return evt, nil
}
