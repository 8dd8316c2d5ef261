package domain

import "time"

// CaseStatus enumerates the lifecycle states of an incident case.
type CaseStatus string

const (
	CaseStatusSubmitted            CaseStatus = "Submitted"
	CaseStatusAcknowledged         CaseStatus = "Acknowledged"
	CaseStatusDetectionAndAnalysis CaseStatus = "Detection and Analysis"
	CaseStatusContainment          CaseStatus = "Containment, Eradication and Recovery"
	CaseStatusPostIncident         CaseStatus = "Post-incident Activities"
	CaseStatusReadyToClose         CaseStatus = "Ready to Close"
	CaseStatusClosed               CaseStatus = "Closed"
)

var caseStatusRank = map[CaseStatus]int{
	CaseStatusSubmitted:            1,
	CaseStatusAcknowledged:         2,
	CaseStatusDetectionAndAnalysis: 3,
	CaseStatusContainment:          4,
	CaseStatusPostIncident:         5,
	CaseStatusReadyToClose:         6,
	CaseStatusClosed:               7,
}

// Rank orders statuses along the case lifecycle. Unknown statuses rank 0.
func (s CaseStatus) Rank() int {
	return caseStatusRank[s]
}

// Valid reports whether s is a known status.
func (s CaseStatus) Valid() bool {
	return s.Rank() > 0
}

// IsClosed reports whether the case is closed.
func (s CaseStatus) IsClosed() bool {
	return s == CaseStatusClosed
}

// Updatable reports whether the case-management API accepts s as the
// target of a status update. Closing goes through a dedicated call.
func (s CaseStatus) Updatable() bool {
	switch s {
	case CaseStatusDetectionAndAnalysis, CaseStatusContainment, CaseStatusPostIncident:
		return true
	}
	return false
}

// Case is an incident record owned by the case-management service.
type Case struct {
	ID          string
	Title       string
	Description string
	Status      CaseStatus
	Severity    string
	Comments    []Comment
	Attachments []Attachment
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ClosedAt    *time.Time
}

// CaseSummary is the listing view of a case.
type CaseSummary struct {
	ID        string
	Title     string
	Status    CaseStatus
	UpdatedAt time.Time
}

// NewCase describes a case to be opened from a ticket. IdempotencyKey
// makes repeated create calls for the same ticket return the same case.
type NewCase struct {
	Title          string
	Description    string
	IdempotencyKey string
}

// Comment is a single entry in a case or ticket thread.
type Comment struct {
	ID        string
	Body      string
	Author    string
	CreatedAt time.Time
}

// Attachment describes a file attached to a case or ticket.
type Attachment struct {
	ID        string
	FileName  string
	MimeType  string
	SizeBytes int64
	URL       string
	CreatedAt time.Time
}
