package jira

import (
	"errors"
	"testing"
)

func TestParseWebhookRejectsNonWebhooks(t *testing.T) {
	for _, raw := range []string{`not json`, `{}`, `{"issue":{"key":"SEC-1"}}`} {
		if _, err := ParseWebhook([]byte(raw)); !errors.Is(err, ErrInvalidWebhook) {
			t.Errorf("ParseWebhook(%s) err = %v", raw, err)
		}
	}
}

func TestParseWebhookStatusChange(t *testing.T) {
	raw := `{
		"timestamp": 1767225600000,
		"webhookEvent": "jira:issue_updated",
		"user": {"accountId": "u-1", "displayName": "Ana"},
		"issue": {"id": "10001", "key": "SEC-1", "fields": {
			"summary": "Phishing",
			"status": {"name": "Done", "statusCategory": {"key": "done"}}}},
		"changelog": {"id": "9", "items": [
			{"field": "status", "fromString": "In Progress", "toString": "Done"}]}
	}`
	evt, err := ParseWebhook([]byte(raw))
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	from, to, ok := evt.StatusChange()
	if !ok || from != "In Progress" || to != "Done" {
		t.Errorf("StatusChange = %q %q %v", from, to, ok)
	}
	if !evt.IsDone() || evt.ContentChanged() {
		t.Errorf("IsDone = %v ContentChanged = %v", evt.IsDone(), evt.ContentChanged())
	}
	if evt.IssueKey() != "SEC-1" || evt.ActorAccountID() != "u-1" {
		t.Errorf("key = %q actor = %q", evt.IssueKey(), evt.ActorAccountID())
	}
	if got := evt.OccurredAt().Year(); got != 2026 {
		t.Errorf("OccurredAt year = %d", got)
	}
}

func TestParseWebhookFlattensDocumentBodies(t *testing.T) {
	raw := `{
		"webhookEvent": "comment_created",
		"user": {"accountId": "hook-user"},
		"issue": {"key": "SEC-2", "fields": {}},
		"comment": {"id": "77", "author": {"accountId": "author-1"}, "body": {
			"type": "doc", "version": 1, "content": [
				{"type": "paragraph", "content": [{"type": "text", "text": "Blocked the IP."}]},
				{"type": "paragraph", "content": [{"type": "text", "text": "Rotating keys."}]}]}}
	}`
	evt, err := ParseWebhook([]byte(raw))
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if got := string(evt.Comment.Body); got != "Blocked the IP.\nRotating keys." {
		t.Errorf("body = %q", got)
	}
	if evt.ActorAccountID() != "author-1" {
		t.Errorf("actor = %q, want comment author", evt.ActorAccountID())
	}
}

func TestAddedAttachmentsResolvesIssueAttachments(t *testing.T) {
	raw := `{
		"webhookEvent": "jira:issue_updated",
		"issue": {"key": "SEC-3", "fields": {"attachment": [
			{"id": "900", "filename": "pcap.zip", "size": 2048, "content": "https://x/900"}]}},
		"changelog": {"items": [
			{"field": "Attachment", "to": "900", "toString": "pcap.zip"},
			{"field": "Attachment", "from": "800", "fromString": "old.txt"}]}
	}`
	evt, err := ParseWebhook([]byte(raw))
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	added := evt.AddedAttachments()
	if len(added) != 1 || added[0].Content != "https://x/900" || added[0].Size != 2048 {
		t.Fatalf("added = %+v", added)
	}
}
