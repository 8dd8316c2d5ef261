package caseapi

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/spec-kit/security-ir-jira/internal/domain"
)

// epochTime accepts epoch seconds (possibly fractional) or RFC 3339 text.
type epochTime struct {
	time.Time
}

func (t *epochTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
		t.Time = parsed.UTC()
		return nil
	}
	secs, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	t.Time = time.UnixMilli(int64(secs * 1000)).UTC()
	return nil
}

type wireAttachment struct {
	AttachmentID string    `json:"attachmentId"`
	FileName     string    `json:"fileName"`
	Status       string    `json:"attachmentStatus"`
	Creator      string    `json:"creator"`
	CreatedDate  epochTime `json:"createdDate"`
}

type wireCase struct {
	CaseID          string           `json:"caseId"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	CaseStatus      string           `json:"caseStatus"`
	Severity        string           `json:"severity"`
	CreatedDate     epochTime        `json:"createdDate"`
	LastUpdatedDate epochTime        `json:"lastUpdatedDate"`
	ClosedDate      epochTime        `json:"closedDate"`
	CaseAttachments []wireAttachment `json:"caseAttachments"`
}

func (w *wireCase) domain(id string) *domain.Case {
	c := &domain.Case{
		ID:          id,
		Title:       w.Title,
		Description: w.Description,
		Status:      domain.CaseStatus(w.CaseStatus),
		Severity:    w.Severity,
		CreatedAt:   w.CreatedDate.Time,
		UpdatedAt:   w.LastUpdatedDate.Time,
	}
	if !w.ClosedDate.IsZero() {
		closed := w.ClosedDate.Time
		c.ClosedAt = &closed
	}
	for _, a := range w.CaseAttachments {
		if a.Status != "" && a.Status != "Verified" {
			continue
		}
		c.Attachments = append(c.Attachments, domain.Attachment{
			ID:        a.AttachmentID,
			FileName:  a.FileName,
			CreatedAt: a.CreatedDate.Time,
		})
	}
	return c
}

type wireCaseSummary struct {
	CaseID          string    `json:"caseId"`
	Title           string    `json:"title"`
	CaseStatus      string    `json:"caseStatus"`
	LastUpdatedDate epochTime `json:"lastUpdatedDate"`
}

type wireComment struct {
	CommentID   string    `json:"commentId"`
	Body        string    `json:"body"`
	Creator     string    `json:"creator"`
	CreatedDate epochTime `json:"createdDate"`
}

// CaseUpdate carries the fields to change. Nil fields are left as is.
type CaseUpdate struct {
	Title       *string
	Description *string
}
