package events

import (
	"errors"
	"testing"
)

func TestNewDeterministicIsStable(t *testing.T) {
	payload := CommentPayload{CommentID: "c-1", Body: "hello"}

	first, err := NewDeterministic("case-1|c-1", SourceSecurityIR, EventCommentAdded, payload)
	if err != nil {
		t.Fatalf("NewDeterministic: %v", err)
	}
	second, err := NewDeterministic("case-1|c-1", SourceSecurityIR, EventCommentAdded, payload)
	if err != nil {
		t.Fatalf("NewDeterministic: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("IDs differ for the same key: %q vs %q", first.ID, second.ID)
	}

	other, err := NewDeterministic("case-1|c-1", SourceJira, EventCommentAdded, payload)
	if err != nil {
		t.Fatalf("NewDeterministic: %v", err)
	}
	if other.ID == first.ID {
		t.Error("events from different sources share an ID")
	}
}

func TestEventDecode(t *testing.T) {
	event, err := New(SourceJira, EventCaseUpdated, CasePayload{Status: "Done", PreviousStatus: "In Progress"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var payload CasePayload
	if err := event.Decode(&payload); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if payload.Status != "Done" || payload.PreviousStatus != "In Progress" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestEventDecodeGarbageIsPermanent(t *testing.T) {
	event := Event{ID: "e", Type: EventCaseUpdated, Source: SourceJira, TicketKey: "SEC-1", Payload: []byte(`{"status":`)}
	err := event.Decode(&CasePayload{})
	if err == nil {
		t.Fatal("expected decode error")
	}
	if !IsPermanent(err) {
		t.Errorf("decode error should be permanent: %v", err)
	}
}

func TestEventValidate(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		ok    bool
	}{
		{"valid case event", Event{ID: "1", Type: EventCaseCreated, Source: SourceSecurityIR, CaseID: "c"}, true},
		{"valid ticket event", Event{ID: "1", Type: EventCommentAdded, Source: SourceJira, TicketKey: "SEC-1"}, true},
		{"missing id", Event{Type: EventCaseCreated, Source: SourceSecurityIR, CaseID: "c"}, false},
		{"unknown source", Event{ID: "1", Type: EventCaseCreated, Source: "github", CaseID: "c"}, false},
		{"unknown type", Event{ID: "1", Type: "CaseDeleted", Source: SourceJira, TicketKey: "SEC-1"}, false},
		{"no reference", Event{ID: "1", Type: EventCaseCreated, Source: SourceJira}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestPermanentWrapping(t *testing.T) {
	base := errors.New("bad payload")
	wrapped := Permanent(base)
	if !errors.Is(wrapped, base) {
		t.Error("Permanent should preserve the wrapped error")
	}
	if IsPermanent(base) {
		t.Error("plain error reported as permanent")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}
