package domain

import "time"

// Ticket is the mirror of a case in the external tracker.
type Ticket struct {
	ID          string
	Key         string
	Summary     string
	Description string
	Status      string
	Labels      []string
	Attachments []Attachment
	UpdatedAt   time.Time
}

// TicketLink binds a case to the ticket that mirrors it. Both sides are
// unique: a case has at most one ticket and a ticket mirrors one case.
type TicketLink struct {
	CaseID    string
	TicketKey string
	TicketID  string
	CreatedAt time.Time
}
