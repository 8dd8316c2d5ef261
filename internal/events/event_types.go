package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/security-ir-jira/internal/domain"
)

// Source tags the system an event originated from.
type Source string

const (
	SourceSecurityIR Source = "security-ir"
	SourceJira       Source = "jira"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	return s == SourceSecurityIR || s == SourceJira
}

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventCaseCreated     EventType = "CaseCreated"
	EventCaseUpdated     EventType = "CaseUpdated"
	EventCaseClosed      EventType = "CaseClosed"
	EventCommentAdded    EventType = "CommentAdded"
	EventAttachmentAdded EventType = "AttachmentAdded"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventCaseCreated, EventCaseUpdated, EventCaseClosed, EventCommentAdded, EventAttachmentAdded:
		return true
	}
	return false
}

// idNamespace scopes deterministic event IDs.
var idNamespace = uuid.MustParse("5f0d7a7e-8a43-4c55-9c1e-3b2f0f6d1a20")

// Event is the envelope carried on the bus. CaseID is set for events that
// concern a known case, TicketKey for events that concern a known ticket.
type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	Source     Source          `json:"source"`
	CaseID     string          `json:"case_id,omitempty"`
	TicketKey  string          `json:"ticket_key,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// New builds an event with a random ID.
func New(source Source, eventType EventType, payload any) (Event, error) {
	return build(uuid.NewString(), source, eventType, payload)
}

// NewDeterministic builds an event whose ID is derived from key, so that
// re-emitting the same change yields the same ID and deduplicates downstream.
func NewDeterministic(key string, source Source, eventType EventType, payload any) (Event, error) {
	id := uuid.NewSHA1(idNamespace, []byte(string(source)+"|"+string(eventType)+"|"+key)).String()
	return build(id, source, eventType, payload)
}

func build(id string, source Source, eventType EventType, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:         id,
		Type:       eventType,
		Source:     source,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return Permanent(fmt.Errorf("event %s has no payload", e.ID))
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", e.Type, err))
	}
	return nil
}

// Validate checks the envelope fields every consumer relies on.
func (e Event) Validate() error {
	switch {
	case e.ID == "":
		return errors.New("event id required")
	case !e.Source.Valid():
		return fmt.Errorf("unknown event source %q", e.Source)
	case !e.Type.Valid():
		return fmt.Errorf("unknown event type %q", e.Type)
	case e.CaseID == "" && e.TicketKey == "":
		return errors.New("event must reference a case or a ticket")
	}
	return nil
}

// CasePayload accompanies CaseCreated, CaseUpdated and CaseClosed. Status
// carries the status name of the originating system. Empty fields did not
// change. TicketID and Labels are only set for events sourced from Jira.
type CasePayload struct {
	Title          string   `json:"title,omitempty"`
	Description    string   `json:"description,omitempty"`
	Status         string   `json:"status,omitempty"`
	PreviousStatus string   `json:"previous_status,omitempty"`
	Severity       string   `json:"severity,omitempty"`
	Actor          string   `json:"actor,omitempty"`
	TicketID       string   `json:"ticket_id,omitempty"`
	Labels         []string `json:"labels,omitempty"`
}

// CommentPayload accompanies CommentAdded.
type CommentPayload struct {
	CommentID string    `json:"comment_id"`
	Body      string    `json:"body"`
	Author    string    `json:"author,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// AttachmentPayload accompanies AttachmentAdded.
type AttachmentPayload struct {
	AttachmentID string `json:"attachment_id"`
	FileName     string `json:"file_name"`
	MimeType     string `json:"mime_type,omitempty"`
	SizeBytes    int64  `json:"size_bytes,omitempty"`
	URL          string `json:"url,omitempty"`
	Author       string `json:"author,omitempty"`
}

// CasePayloadOf builds the payload describing c.
func CasePayloadOf(c *domain.Case) CasePayload {
	return CasePayload{
		Title:       c.Title,
		Description: c.Description,
		Status:      string(c.Status),
		Severity:    c.Severity,
	}
}
