package service

import (
	"strconv"
	"time"

	"github.com/spec-kit/security-ir-jira/internal/domain"
	"github.com/spec-kit/security-ir-jira/internal/events"
)

// DiffCase derives the security-ir events that take prev to c. A nil prev
// means the case was never seen. Event IDs are derived from the change
// itself, so diffing the same change twice yields the same IDs.
func DiffCase(prev *domain.CaseSnapshot, c *domain.Case) ([]events.Event, error) {
	var out []events.Event
	add := func(key string, eventType events.EventType, payload any, occurred time.Time) error {
		evt, err := events.NewDeterministic(c.ID+"|"+key, events.SourceSecurityIR, eventType, payload)
		if err != nil {
			return err
		}
		evt.CaseID = c.ID
		if !occurred.IsZero() {
			evt.OccurredAt = occurred.UTC()
		}
		out = append(out, evt)
		return nil
	}

	if prev == nil {
		if err := add("created", events.EventCaseCreated, events.CasePayloadOf(c), c.CreatedAt); err != nil {
			return nil, err
		}
	} else {
		version := strconv.FormatInt(c.UpdatedAt.UnixMilli(), 10)
		if prev.ContentHash != domain.ContentHash(c.Title, c.Description) {
			payload := events.CasePayload{Title: c.Title, Description: c.Description}
			if err := add("content|"+version, events.EventCaseUpdated, payload, c.UpdatedAt); err != nil {
				return nil, err
			}
		}
		if prev.Status != c.Status {
			payload := events.CasePayload{Status: string(c.Status), PreviousStatus: string(prev.Status)}
			eventType := events.EventCaseUpdated
			if c.Status.IsClosed() {
				eventType = events.EventCaseClosed
			}
			key := "status|" + string(prev.Status) + "|" + string(c.Status) + "|" + version
			if err := add(key, eventType, payload, c.UpdatedAt); err != nil {
				return nil, err
			}
		}
	}

	for _, cm := range c.Comments {
		if prev.HasComment(cm.ID) {
			continue
		}
		payload := events.CommentPayload{CommentID: cm.ID, Body: cm.Body, Author: cm.Author, CreatedAt: cm.CreatedAt}
		if err := add("comment|"+cm.ID, events.EventCommentAdded, payload, cm.CreatedAt); err != nil {
			return nil, err
		}
	}
	for _, att := range c.Attachments {
		if prev.HasAttachment(att.ID) {
			continue
		}
		payload := events.AttachmentPayload{
			AttachmentID: att.ID,
			FileName:     att.FileName,
			MimeType:     att.MimeType,
			SizeBytes:    att.SizeBytes,
		}
		if err := add("attachment|"+att.ID, events.EventAttachmentAdded, payload, att.CreatedAt); err != nil {
			return nil, err
		}
	}
	return out, nil
}
