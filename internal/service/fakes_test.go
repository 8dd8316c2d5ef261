package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spec-kit/security-ir-jira/internal/caseapi"
	"github.com/spec-kit/security-ir-jira/internal/domain"
	"github.com/spec-kit/security-ir-jira/internal/events"
	"github.com/spec-kit/security-ir-jira/internal/jira"
)

type fakeCases struct {
	mu            sync.Mutex
	cases         map[string]*domain.Case
	comments      map[string][]domain.Comment
	files         map[string]string
	created       []domain.NewCase
	statusUpdates []domain.CaseStatus
	closed        []string
}

func newFakeCases() *fakeCases {
	return &fakeCases{
		cases:    map[string]*domain.Case{},
		comments: map[string][]domain.Comment{},
		files:    map[string]string{},
	}
}

func (f *fakeCases) add(c *domain.Case) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cases[c.ID] = c
}

func (f *fakeCases) update(id string, fn func(c *domain.Case)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.cases[id])
}

func (f *fakeCases) GetCase(_ context.Context, id string) (*domain.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cases[id]
	if !ok {
		return nil, caseapi.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCases) ListCases(_ context.Context, since time.Time) ([]domain.CaseSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.CaseSummary
	for _, c := range f.cases {
		if c.UpdatedAt.Before(since) {
			continue
		}
		out = append(out, domain.CaseSummary{ID: c.ID, Title: c.Title, Status: c.Status, UpdatedAt: c.UpdatedAt})
	}
	return out, nil
}

func (f *fakeCases) CreateCase(_ context.Context, nc domain.NewCase) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, nc)
	id := fmt.Sprintf("new-%d", len(f.created))
	f.cases[id] = &domain.Case{ID: id, Title: nc.Title, Description: nc.Description, Status: domain.CaseStatusSubmitted}
	return id, nil
}

func (f *fakeCases) UpdateCase(_ context.Context, id string, upd caseapi.CaseUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if upd.Title != nil {
		f.cases[id].Title = *upd.Title
	}
	return nil
}

func (f *fakeCases) UpdateCaseStatus(_ context.Context, id string, status domain.CaseStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusUpdates = append(f.statusUpdates, status)
	f.cases[id].Status = status
	return nil
}

func (f *fakeCases) CloseCase(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
	f.cases[id].Status = domain.CaseStatusClosed
	return nil
}

func (f *fakeCases) ListComments(_ context.Context, id string) ([]domain.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Comment(nil), f.comments[id]...), nil
}

func (f *fakeCases) CreateComment(_ context.Context, id, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cid := fmt.Sprintf("cc-%d", len(f.comments[id])+1)
	f.comments[id] = append(f.comments[id], domain.Comment{ID: cid, Body: body})
	return cid, nil
}

func (f *fakeCases) DownloadAttachment(_ context.Context, _, attachmentID string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[attachmentID]
	if !ok {
		return nil, caseapi.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

type fakeTickets struct {
	mu           sync.Mutex
	issues       map[string]*domain.Ticket
	comments     map[string][]domain.Comment
	transitions  []string
	uploads      []string
	createCalls  int
	noTransition bool

	// failTransitions makes that many TransitionIssue calls fail.
	failTransitions int
}

func newFakeTickets() *fakeTickets {
	return &fakeTickets{issues: map[string]*domain.Ticket{}, comments: map[string][]domain.Comment{}}
}

func (f *fakeTickets) CreateIssue(_ context.Context, in jira.IssueInput) (*domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	key := fmt.Sprintf("%s-%d", in.ProjectKey, len(f.issues)+1)
	t := &domain.Ticket{ID: fmt.Sprint(10000 + len(f.issues)), Key: key, Summary: in.Summary, Description: in.Description, Labels: in.Labels, Status: "To Do"}
	f.issues[key] = t
	cp := *t
	return &cp, nil
}

func (f *fakeTickets) GetIssue(_ context.Context, key string) (*domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.issues[key]
	if !ok {
		return nil, jira.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTickets) UpdateIssue(_ context.Context, key string, upd jira.IssueUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if upd.Summary != nil {
		f.issues[key].Summary = *upd.Summary
	}
	if upd.Description != nil {
		f.issues[key].Description = *upd.Description
	}
	return nil
}

func (f *fakeTickets) AddComment(_ context.Context, key, body string) (*domain.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := domain.Comment{ID: fmt.Sprint(len(f.comments[key]) + 1), Body: body}
	f.comments[key] = append(f.comments[key], c)
	return &c, nil
}

func (f *fakeTickets) ListComments(_ context.Context, key string) ([]domain.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Comment(nil), f.comments[key]...), nil
}

func (f *fakeTickets) TransitionIssue(_ context.Context, key, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noTransition {
		return jira.ErrNoTransition
	}
	if f.failTransitions > 0 {
		f.failTransitions--
		return &jira.APIError{StatusCode: 503, Messages: []string{"workflow busy"}}
	}
	f.transitions = append(f.transitions, key+"->"+status)
	f.issues[key].Status = status
	return nil
}

func (f *fakeTickets) SearchIssues(_ context.Context, jql string) ([]domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Ticket
	for _, t := range f.issues {
		for _, l := range t.Labels {
			if strings.Contains(jql, `labels = "`+l+`"`) {
				out = append(out, *t)
			}
		}
	}
	return out, nil
}

func (f *fakeTickets) AddAttachment(_ context.Context, key, fileName string, content io.Reader) (*domain.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, _ := io.ReadAll(content)
	att := domain.Attachment{ID: fmt.Sprint(len(f.uploads) + 1), FileName: fileName, SizeBytes: int64(len(data))}
	f.uploads = append(f.uploads, key+"/"+fileName+"="+string(data))
	f.issues[key].Attachments = append(f.issues[key].Attachments, att)
	return &att, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, evt)
	return nil
}

func mustEvent(source events.Source, eventType events.EventType, payload any) events.Event {
	evt, err := events.New(source, eventType, payload)
	if err != nil {
		panic(err)
	}
	return evt
}
