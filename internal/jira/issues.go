package jira

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spec-kit/security-ir-jira/internal/domain"
)

const issueFields = "summary,description,status,labels,attachment,updated"

func issuePath(key string, parts ...string) string {
	p := apiPrefix + "/issue/" + url.PathEscape(key)
	if len(parts) > 0 {
		p += "/" + strings.Join(parts, "/")
	}
	return p
}

// CreateIssue opens a new issue and returns it.
func (c *Client) CreateIssue(ctx context.Context, in IssueInput) (*domain.Ticket, error) {
	fields := map[string]any{
		"project":     map[string]string{"key": in.ProjectKey},
		"issuetype":   map[string]string{"name": in.IssueType},
		"summary":     in.Summary,
		"description": in.Description,
	}
	if len(in.Labels) > 0 {
		fields["labels"] = in.Labels
	}
	body, err := jsonBody(map[string]any{"fields": fields})
	if err != nil {
		return nil, err
	}
	var created struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/issue", body, nil, &created); err != nil {
		return nil, err
	}
	return &domain.Ticket{
		ID:          created.ID,
		Key:         created.Key,
		Summary:     in.Summary,
		Description: in.Description,
		Labels:      in.Labels,
	}, nil
}

// GetIssue fetches a single issue.
func (c *Client) GetIssue(ctx context.Context, key string) (*domain.Ticket, error) {
	var issue Issue
	if err := c.do(ctx, http.MethodGet, issuePath(key)+"?fields="+issueFields, nil, nil, &issue); err != nil {
		return nil, err
	}
	return issue.Ticket(), nil
}

// UpdateIssue edits the summary and/or description of an issue.
func (c *Client) UpdateIssue(ctx context.Context, key string, upd IssueUpdate) error {
	fields := map[string]any{}
	if upd.Summary != nil {
		fields["summary"] = *upd.Summary
	}
	if upd.Description != nil {
		fields["description"] = *upd.Description
	}
	if len(fields) == 0 {
		return nil
	}
	body, err := jsonBody(map[string]any{"fields": fields})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, issuePath(key), body, nil, nil)
}

// AddComment appends a plain-text comment.
func (c *Client) AddComment(ctx context.Context, key, text string) (*domain.Comment, error) {
	body, err := jsonBody(map[string]string{"body": text})
	if err != nil {
		return nil, err
	}
	var comment Comment
	if err := c.do(ctx, http.MethodPost, issuePath(key, "comment"), body, nil, &comment); err != nil {
		return nil, err
	}
	out := comment.Domain()
	return &out, nil
}

// ListComments returns every comment on the issue, oldest first.
func (c *Client) ListComments(ctx context.Context, key string) ([]domain.Comment, error) {
	var out []domain.Comment
	for startAt := 0; ; {
		var page struct {
			StartAt  int       `json:"startAt"`
			Total    int       `json:"total"`
			Comments []Comment `json:"comments"`
		}
		path := issuePath(key, "comment") + "?orderBy=created&maxResults=100&startAt=" + strconv.Itoa(startAt)
		if err := c.do(ctx, http.MethodGet, path, nil, nil, &page); err != nil {
			return nil, err
		}
		for _, cm := range page.Comments {
			out = append(out, cm.Domain())
		}
		startAt += len(page.Comments)
		if len(page.Comments) == 0 || startAt >= page.Total {
			return out, nil
		}
	}
}

// TransitionIssue moves the issue into the named status using whichever
// transition of its workflow leads there. The call is a no-op when the
// issue already has that status.
func (c *Client) TransitionIssue(ctx context.Context, key, statusName string) error {
	var current Issue
	if err := c.do(ctx, http.MethodGet, issuePath(key)+"?fields=status", nil, nil, &current); err != nil {
		return err
	}
	if current.Fields.Status != nil && strings.EqualFold(current.Fields.Status.Name, statusName) {
		return nil
	}

	var available struct {
		Transitions []transition `json:"transitions"`
	}
	if err := c.do(ctx, http.MethodGet, issuePath(key, "transitions"), nil, nil, &available); err != nil {
		return err
	}
	var chosen *transition
	for i := range available.Transitions {
		t := &available.Transitions[i]
		if strings.EqualFold(t.To.Name, statusName) {
			chosen = t
			break
		}
		if chosen == nil && strings.EqualFold(t.Name, statusName) {
			chosen = t
		}
	}
	if chosen == nil {
		return fmt.Errorf("%w %q on %s", ErrNoTransition, statusName, key)
	}
	body, err := jsonBody(map[string]any{"transition": map[string]string{"id": chosen.ID}})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, issuePath(key, "transitions"), body, nil, nil)
}

// SearchIssues runs a JQL query and returns the first page of matches.
func (c *Client) SearchIssues(ctx context.Context, jql string) ([]domain.Ticket, error) {
	body, err := jsonBody(map[string]any{
		"jql":        jql,
		"maxResults": 50,
		"fields":     strings.Split(issueFields, ","),
	})
	if err != nil {
		return nil, err
	}
	var res struct {
		Issues []Issue `json:"issues"`
	}
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/search", body, nil, &res); err != nil {
		return nil, err
	}
	out := make([]domain.Ticket, 0, len(res.Issues))
	for i := range res.Issues {
		out = append(out, *res.Issues[i].Ticket())
	}
	return out, nil
}

// AddAttachment uploads content as a new attachment on the issue.
func (c *Client) AddAttachment(ctx context.Context, key, fileName string, content io.Reader) (*domain.Attachment, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("jira: creating form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("jira: buffering attachment: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("jira: closing multipart body: %w", err)
	}

	header := http.Header{}
	header.Set("X-Atlassian-Token", "no-check")
	var created []Attachment
	body := &requestBody{data: buf.Bytes(), contentType: mw.FormDataContentType()}
	if err := c.do(ctx, http.MethodPost, issuePath(key, "attachments"), body, header, &created); err != nil {
		return nil, err
	}
	if len(created) == 0 {
		return nil, fmt.Errorf("jira: attachment upload to %s returned no attachment", key)
	}
	out := created[0].Domain()
	return &out, nil
}
