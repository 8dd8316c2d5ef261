package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/spec-kit/security-ir-jira/internal/domain"
)

// MemoryStore is a process-local store used by tests and single-instance
// development runs.
type MemoryStore struct {
	mu        sync.RWMutex
	byCase    map[string]domain.TicketLink
	byTicket  map[string]string
	snapshots map[string]domain.CaseSnapshot
	processed map[string]struct{}
	marks     map[string]time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byCase:    make(map[string]domain.TicketLink),
		byTicket:  make(map[string]string),
		snapshots: make(map[string]domain.CaseSnapshot),
		processed: make(map[string]struct{}),
		marks:     make(map[string]time.Time),
	}
}

// Store exposes the memory backend as a repository bundle.
func (m *MemoryStore) Store() *Store {
	return &Store{Links: m, Snapshots: memorySnapshots{m}, Processed: m, Watermarks: m}
}

func (m *MemoryStore) Create(_ context.Context, link *domain.TicketLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byCase[link.CaseID]; ok {
		return ErrLinkExists
	}
	if _, ok := m.byTicket[link.TicketKey]; ok {
		return ErrLinkExists
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	m.byCase[link.CaseID] = *link
	m.byTicket[link.TicketKey] = link.CaseID
	return nil
}

func (m *MemoryStore) GetByCaseID(_ context.Context, caseID string) (*domain.TicketLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	link, ok := m.byCase[caseID]
	if !ok {
		return nil, ErrNotFound
	}
	return &link, nil
}

func (m *MemoryStore) GetByTicketKey(_ context.Context, ticketKey string) (*domain.TicketLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	caseID, ok := m.byTicket[ticketKey]
	if !ok {
		return nil, ErrNotFound
	}
	link := m.byCase[caseID]
	return &link, nil
}

func (m *MemoryStore) IsProcessed(_ context.Context, consumer, eventID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.processed[consumer+"/"+eventID]
	return ok, nil
}

func (m *MemoryStore) MarkProcessed(_ context.Context, consumer, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[consumer+"/"+eventID] = struct{}{}
	return nil
}

type memorySnapshots struct {
	m *MemoryStore
}

func (s memorySnapshots) Get(_ context.Context, caseID string) (*domain.CaseSnapshot, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	snap, ok := s.m.snapshots[caseID]
	if !ok {
		return nil, ErrNotFound
	}
	snap.CommentIDs = slices.Clone(snap.CommentIDs)
	snap.AttachmentIDs = slices.Clone(snap.AttachmentIDs)
	return &snap, nil
}

func (s memorySnapshots) Save(_ context.Context, snap *domain.CaseSnapshot) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	stored := *snap
	stored.CommentIDs = slices.Clone(snap.CommentIDs)
	stored.AttachmentIDs = slices.Clone(snap.AttachmentIDs)
	s.m.snapshots[snap.CaseID] = stored
	return nil
}

func (m *MemoryStore) GetWatermark(_ context.Context, poller string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.marks[poller]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	return at, nil
}

func (m *MemoryStore) SaveWatermark(_ context.Context, poller string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[poller] = at
	return nil
}
