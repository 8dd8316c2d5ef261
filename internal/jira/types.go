package jira

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/spec-kit/security-ir-jira/internal/domain"
)

const timeLayout = "2006-01-02T15:04:05.000-0700"

// Text is a rich-text field. API v2 sends plain strings; webhooks from
// newer instances may carry Atlassian document format, which is flattened
// to its text content.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	var node docNode
	if err := json.Unmarshal(data, &node); err != nil {
		return err
	}
	var b strings.Builder
	node.flatten(&b)
	*t = Text(strings.TrimRight(b.String(), "\n"))
	return nil
}

type docNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text"`
	Content []docNode `json:"content"`
}

func (n docNode) flatten(b *strings.Builder) {
	switch n.Type {
	case "text":
		b.WriteString(n.Text)
	case "hardBreak":
		b.WriteByte('\n')
	}
	for _, child := range n.Content {
		child.flatten(b)
	}
	if n.Type == "paragraph" || n.Type == "heading" {
		b.WriteByte('\n')
	}
}

// Timestamp parses Jira's millisecond timestamps.
type Timestamp struct {
	time.Time
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil || s == "" {
		return nil
	}
	for _, layout := range []string{timeLayout, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			ts.Time = t.UTC()
			return nil
		}
	}
	return nil
}

type User struct {
	AccountID    string `json:"accountId"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress,omitempty"`
}

// Name returns the best human-readable identifier of u.
func (u *User) Name() string {
	switch {
	case u == nil:
		return ""
	case u.DisplayName != "":
		return u.DisplayName
	case u.EmailAddress != "":
		return u.EmailAddress
	}
	return u.AccountID
}

type StatusCategory struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

type Status struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	StatusCategory StatusCategory `json:"statusCategory"`
}

type Comment struct {
	ID      string    `json:"id"`
	Body    Text      `json:"body"`
	Author  *User     `json:"author"`
	Created Timestamp `json:"created"`
	Updated Timestamp `json:"updated"`
}

// Domain converts c to the shared comment model.
func (c Comment) Domain() domain.Comment {
	return domain.Comment{
		ID:        c.ID,
		Body:      string(c.Body),
		Author:    c.Author.Name(),
		CreatedAt: c.Created.Time,
	}
}

type Attachment struct {
	ID       string    `json:"id"`
	Filename string    `json:"filename"`
	MimeType string    `json:"mimeType"`
	Size     int64     `json:"size"`
	Content  string    `json:"content"`
	Author   *User     `json:"author"`
	Created  Timestamp `json:"created"`
}

// Domain converts a to the shared attachment model.
func (a Attachment) Domain() domain.Attachment {
	return domain.Attachment{
		ID:        a.ID,
		FileName:  a.Filename,
		MimeType:  a.MimeType,
		SizeBytes: a.Size,
		URL:       a.Content,
		CreatedAt: a.Created.Time,
	}
}

type IssueFields struct {
	Summary     string       `json:"summary"`
	Description Text         `json:"description"`
	Status      *Status      `json:"status"`
	Labels      []string     `json:"labels"`
	Attachment  []Attachment `json:"attachment"`
	Updated     Timestamp    `json:"updated"`
}

type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Fields IssueFields `json:"fields"`
}

// Ticket converts the issue to the shared ticket model.
func (i *Issue) Ticket() *domain.Ticket {
	t := &domain.Ticket{
		ID:          i.ID,
		Key:         i.Key,
		Summary:     i.Fields.Summary,
		Description: string(i.Fields.Description),
		Labels:      i.Fields.Labels,
		UpdatedAt:   i.Fields.Updated.Time,
	}
	if i.Fields.Status != nil {
		t.Status = i.Fields.Status.Name
	}
	for _, a := range i.Fields.Attachment {
		t.Attachments = append(t.Attachments, a.Domain())
	}
	return t
}

// IssueInput describes an issue to create.
type IssueInput struct {
	ProjectKey  string
	IssueType   string
	Summary     string
	Description string
	Labels      []string
}

// IssueUpdate carries the fields to change. Nil fields are left as is.
type IssueUpdate struct {
	Summary     *string
	Description *string
}

type transition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	To   Status `json:"to"`
}
