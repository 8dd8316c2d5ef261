package dto

import "time"

// WebhookAccepted is returned once a notification has been put on the bus.
type WebhookAccepted struct {
	Published int `json:"published"`
}

// ResyncResponse describes the event queued by a resync request.
type ResyncResponse struct {
	CaseID  string    `json:"case_id"`
	EventID string    `json:"event_id"`
	QueueAt time.Time `json:"queued_at"`
}

// LinkResponse shows which issue mirrors a case.
type LinkResponse struct {
	CaseID    string    `json:"case_id"`
	TicketKey string    `json:"ticket_key"`
	TicketID  string    `json:"ticket_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
