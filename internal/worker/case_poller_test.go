package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/security-ir-jira/internal/caseapi"
	"github.com/spec-kit/security-ir-jira/internal/domain"
	"github.com/spec-kit/security-ir-jira/internal/events"
	"github.com/spec-kit/security-ir-jira/internal/repository"
	"github.com/spec-kit/security-ir-jira/internal/service"
)

type stubCases struct {
	mu       sync.Mutex
	cases    map[string]*domain.Case
	comments map[string][]domain.Comment
	since    []time.Time
	fail     map[string]bool
}

func newStubCases() *stubCases {
	return &stubCases{cases: map[string]*domain.Case{}, comments: map[string][]domain.Comment{}, fail: map[string]bool{}}
}

func (s *stubCases) GetCase(_ context.Context, id string) (*domain.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[id] {
		return nil, errors.New("throttled")
	}
	c, ok := s.cases[id]
	if !ok {
		return nil, caseapi.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *stubCases) ListCases(_ context.Context, since time.Time) ([]domain.CaseSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.since = append(s.since, since)
	var out []domain.CaseSummary
	for _, c := range s.cases {
		out = append(out, domain.CaseSummary{ID: c.ID, Status: c.Status, UpdatedAt: c.UpdatedAt})
	}
	return out, nil
}

func (s *stubCases) ListComments(_ context.Context, id string) ([]domain.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Comment(nil), s.comments[id]...), nil
}

func (s *stubCases) CreateCase(context.Context, domain.NewCase) (string, error) { return "", nil }

func (s *stubCases) UpdateCase(context.Context, string, caseapi.CaseUpdate) error { return nil }

func (s *stubCases) UpdateCaseStatus(context.Context, string, domain.CaseStatus) error { return nil }

func (s *stubCases) CloseCase(context.Context, string) error { return nil }

func (s *stubCases) CreateComment(context.Context, string, string) (string, error) { return "", nil }

func (s *stubCases) DownloadAttachment(context.Context, string, string) (io.ReadCloser, error) {
	return nil, caseapi.ErrNotFound
}

var _ service.CaseManagement = (*stubCases)(nil)

type capture struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capture) Publish(_ context.Context, evt events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capture) types() []events.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.EventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestPoller(cases *stubCases, pub events.Publisher) (*CasePoller, *repository.Store) {
	store := repository.NewMemoryStore().Store()
	return pollerOver(store, cases, pub), store
}

func pollerOver(store *repository.Store, cases *stubCases, pub events.Publisher) *CasePoller {
	return NewCasePoller(CasePollerDependencies{
		Cases:      cases,
		Snapshots:  store.Snapshots,
		Watermarks: store.Watermarks,
		Publisher:  pub,
		Interval:   time.Minute,
		Lookback:   10 * time.Minute,
	})
}

func TestPollPublishesOnlyChanges(t *testing.T) {
	ctx := context.Background()
	cases := newStubCases()
	cases.cases["42"] = &domain.Case{ID: "42", Title: "Leak", Status: domain.CaseStatusSubmitted}
	cases.comments["42"] = []domain.Comment{{ID: "c1", Body: "first"}}
	pub := &capture{}
	p, _ := newTestPoller(cases, pub)

	n, err := p.Poll(ctx)
	if err != nil || n != 2 {
		t.Fatalf("first poll = %d, %v", n, err)
	}
	if n, err := p.Poll(ctx); err != nil || n != 0 {
		t.Fatalf("idle poll = %d, %v", n, err)
	}

	cases.cases["42"].Status = domain.CaseStatusAcknowledged
	cases.cases["42"].UpdatedAt = time.Now()
	cases.comments["42"] = append(cases.comments["42"], domain.Comment{ID: "c2", Body: "second"})
	if n, err := p.Poll(ctx); err != nil || n != 2 {
		t.Fatalf("third poll = %d, %v", n, err)
	}

	want := []events.EventType{events.EventCaseCreated, events.EventCommentAdded, events.EventCaseUpdated, events.EventCommentAdded}
	got := pub.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestPollWatermark(t *testing.T) {
	ctx := context.Background()
	cases := newStubCases()
	p, _ := newTestPoller(cases, &capture{})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return base }

	if _, err := p.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	p.now = func() time.Time { return base.Add(5 * time.Minute) }
	if _, err := p.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	if got := cases.since[0]; !got.Equal(base.Add(-10 * time.Minute)) {
		t.Errorf("first since = %s", got)
	}
	if got := cases.since[1]; !got.Equal(base.Add(-time.Minute)) {
		t.Errorf("second since = %s", got)
	}
}

func TestPollResumesFromStoredWatermarkAfterRestart(t *testing.T) {
	ctx := context.Background()
	cases := newStubCases()
	first, store := newTestPoller(cases, &capture{})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first.now = func() time.Time { return base }
	if _, err := first.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	// A cold start builds a new poller over the same store an hour later.
	restarted := pollerOver(store, cases, &capture{})
	restarted.now = func() time.Time { return base.Add(time.Hour) }
	if _, err := restarted.Poll(ctx); err != nil {
		t.Fatalf("Poll after restart: %v", err)
	}

	if got := cases.since[1]; !got.Equal(base.Add(-time.Minute)) {
		t.Errorf("since after restart = %s, want %s", got, base.Add(-time.Minute))
	}
	stored, err := store.Watermarks.GetWatermark(ctx, DefaultPollerName)
	if err != nil || !stored.Equal(base.Add(time.Hour)) {
		t.Errorf("stored watermark = %s, %v", stored, err)
	}
}

func TestPollKeepsWatermarkOnFailure(t *testing.T) {
	ctx := context.Background()
	cases := newStubCases()
	cases.cases["1"] = &domain.Case{ID: "1", Status: domain.CaseStatusSubmitted}
	cases.fail["1"] = true
	p, store := newTestPoller(cases, &capture{})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return base }

	if _, err := p.Poll(ctx); err == nil {
		t.Fatal("expected poll error")
	}
	if _, err := store.Snapshots.Get(ctx, "1"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("snapshot saved for failed case: %v", err)
	}
	p.now = func() time.Time { return base.Add(5 * time.Minute) }
	_, _ = p.Poll(ctx)
	if got := cases.since[1]; !got.Equal(base.Add(5*time.Minute - 10*time.Minute)) {
		t.Errorf("watermark advanced despite failure: since = %s", got)
	}
}

func TestSyncCaseSavesSnapshot(t *testing.T) {
	ctx := context.Background()
	cases := newStubCases()
	cases.cases["42"] = &domain.Case{ID: "42", Title: "Leak", Status: domain.CaseStatusSubmitted,
		Attachments: []domain.Attachment{{ID: "a1", FileName: "x.log"}}}
	p, store := newTestPoller(cases, &capture{})

	if _, err := p.SyncCase(ctx, "42"); err != nil {
		t.Fatalf("SyncCase: %v", err)
	}
	snap, err := store.Snapshots.Get(ctx, "42")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Status != domain.CaseStatusSubmitted || !snap.HasAttachment("a1") {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestResyncPublishesFreshEvent(t *testing.T) {
	ctx := context.Background()
	cases := newStubCases()
	cases.cases["42"] = &domain.Case{ID: "42", Title: "Leak", Status: domain.CaseStatusContainment}
	pub := &capture{}
	p, _ := newTestPoller(cases, pub)

	first, err := p.Resync(ctx, "42")
	if err != nil {
		t.Fatalf("Resync: %v", err)
	}
	second, _ := p.Resync(ctx, "42")
	if first.ID == second.ID {
		t.Error("resync events share an ID and would be deduplicated")
	}
	if first.Type != events.EventCaseUpdated || first.CaseID != "42" {
		t.Errorf("event = %+v", first)
	}
	var payload events.CasePayload
	if err := first.Decode(&payload); err != nil || payload.Status != string(domain.CaseStatusContainment) {
		t.Errorf("payload = %+v, %v", payload, err)
	}

	if _, err := p.Resync(ctx, "missing"); !errors.Is(err, caseapi.ErrNotFound) {
		t.Errorf("missing case err = %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cases := newStubCases()
	p, _ := newTestPoller(cases, &capture{})
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		cases.mu.Lock()
		polled := len(cases.since) > 0
		cases.mu.Unlock()
		if polled {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Run never polled")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

type sourceRecorder struct {
	capture
	sources map[events.Source]int
}

func (r *sourceRecorder) Subscribe(source events.Source, _ events.Handler) {
	r.sources[source]++
}

func TestStartSyncWorkersRegistersBothDirections(t *testing.T) {
	bus := &sourceRecorder{sources: map[events.Source]int{}}
	store := repository.NewMemoryStore()
	guard := service.NewGuard(store, nil, nil)
	outbound := service.NewOutboundService(service.OutboundDependencies{Links: store, Statuses: service.DefaultStatusMap()})
	reverse := service.NewReverseSyncService(service.ReverseSyncDependencies{Links: store, Statuses: service.DefaultStatusMap()})

	StartSyncWorkers(bus, guard, outbound, reverse)
	if bus.sources[events.SourceSecurityIR] != 1 || bus.sources[events.SourceJira] != 1 {
		t.Fatalf("subscriptions = %v", bus.sources)
	}

	StartSyncWorkers(bus, guard, outbound, nil)
	if bus.sources[events.SourceJira] != 1 {
		t.Error("nil reverse service registered")
	}
}
