package jira

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Webhook event names sent by Jira Cloud.
const (
	EventIssueCreated      = "jira:issue_created"
	EventIssueUpdated      = "jira:issue_updated"
	EventIssueDeleted      = "jira:issue_deleted"
	EventCommentCreated    = "comment_created"
	EventCommentUpdated    = "comment_updated"
	EventAttachmentCreated = "attachment_created"
)

// StatusCategoryDone is the category key of terminal statuses.
const StatusCategoryDone = "done"

type ChangelogItem struct {
	Field      string `json:"field"`
	FieldType  string `json:"fieldtype"`
	From       string `json:"from"`
	FromString string `json:"fromString"`
	To         string `json:"to"`
	ToString   string `json:"toString"`
}

type Changelog struct {
	ID    string          `json:"id"`
	Items []ChangelogItem `json:"items"`
}

// WebhookEvent is the body of a Jira webhook notification.
type WebhookEvent struct {
	Timestamp          int64       `json:"timestamp"`
	WebhookEvent       string      `json:"webhookEvent"`
	IssueEventTypeName string      `json:"issue_event_type_name"`
	User               *User       `json:"user"`
	Issue              *Issue      `json:"issue"`
	Comment            *Comment    `json:"comment"`
	Attachment         *Attachment `json:"attachment"`
	Changelog          *Changelog  `json:"changelog"`
}

// ParseWebhook decodes a webhook notification.
func ParseWebhook(raw []byte) (*WebhookEvent, error) {
	var evt WebhookEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	if evt.WebhookEvent == "" {
		return nil, fmt.Errorf("%w: missing webhookEvent", ErrInvalidWebhook)
	}
	return &evt, nil
}

// OccurredAt returns the notification time, or now when absent.
func (e *WebhookEvent) OccurredAt() time.Time {
	if e.Timestamp > 0 {
		return time.UnixMilli(e.Timestamp).UTC()
	}
	return time.Now().UTC()
}

// IssueKey returns the key of the affected issue, if any.
func (e *WebhookEvent) IssueKey() string {
	if e.Issue == nil {
		return ""
	}
	return e.Issue.Key
}

// ActorAccountID identifies who caused the notification. For comment
// events the comment author wins over the webhook user.
func (e *WebhookEvent) ActorAccountID() string {
	switch {
	case e.Comment != nil && e.Comment.Author != nil && e.Comment.Author.AccountID != "":
		return e.Comment.Author.AccountID
	case e.Attachment != nil && e.Attachment.Author != nil && e.Attachment.Author.AccountID != "":
		return e.Attachment.Author.AccountID
	case e.User != nil:
		return e.User.AccountID
	}
	return ""
}

// StatusChange returns the status transition recorded in the changelog.
func (e *WebhookEvent) StatusChange() (from, to string, ok bool) {
	items := e.changelogItems("status")
	if len(items) == 0 {
		return "", "", false
	}
	return items[0].FromString, items[0].ToString, true
}

// ContentChanged reports whether summary or description changed.
func (e *WebhookEvent) ContentChanged() bool {
	return len(e.changelogItems("summary")) > 0 || len(e.changelogItems("description")) > 0
}

// AddedAttachments returns attachments added according to the changelog,
// resolved against the issue's attachment list when possible.
func (e *WebhookEvent) AddedAttachments() []Attachment {
	var out []Attachment
	for _, item := range e.changelogItems("attachment") {
		if item.To == "" {
			continue
		}
		att := Attachment{ID: item.To, Filename: item.ToString}
		if e.Issue != nil {
			for _, known := range e.Issue.Fields.Attachment {
				if known.ID == item.To {
					att = known
					break
				}
			}
		}
		out = append(out, att)
	}
	return out
}

// IsDone reports whether the issue sits in a terminal status category.
func (e *WebhookEvent) IsDone() bool {
	return e.Issue != nil && e.Issue.Fields.Status != nil &&
		e.Issue.Fields.Status.StatusCategory.Key == StatusCategoryDone
}

func (e *WebhookEvent) changelogItems(field string) []ChangelogItem {
	if e.Changelog == nil {
		return nil
	}
	var out []ChangelogItem
	for _, item := range e.Changelog.Items {
		if strings.EqualFold(item.Field, field) {
			out = append(out, item)
		}
	}
	return out
}
