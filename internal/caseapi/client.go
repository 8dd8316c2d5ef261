package caseapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws/credentials"
	v4 "github.com/aws/aws-sdk-go/aws/signer/v4"
	"go.uber.org/zap"

	"github.com/spec-kit/security-ir-jira/internal/domain"
)

// ServiceName is the SigV4 signing name of the case-management API.
const ServiceName = "security-ir"

const (
	pageSize        = 25
	maxResponseBody = 10 << 20
)

// Config holds the settings of a case-management client.
type Config struct {
	Endpoint    string
	Region      string
	Credentials *credentials.Credentials
	HTTPClient  *http.Client
	Logger      *zap.Logger

	// Defaults applied to cases opened from tickets.
	ResolverType     string
	EngagementType   string
	ImpactedAccounts []string
	WatcherEmail     string
}

// Client is a SigV4-signed JSON client for the case-management API.
type Client struct {
	endpoint   string
	region     string
	signer     *v4.Signer
	httpClient *http.Client
	logger     *zap.Logger
	defaults   Config
	now        func() time.Time
}

// NewClient validates cfg and builds a client. An empty endpoint is
// derived from the region.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Region == "" {
		return nil, errors.New("security-ir: region is required")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("security-ir: credentials are required")
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://security-ir.%s.amazonaws.com", cfg.Region)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint:   endpoint,
		region:     cfg.Region,
		signer:     v4.NewSigner(cfg.Credentials),
		httpClient: httpClient,
		logger:     logger,
		defaults:   cfg,
		now:        time.Now,
	}, nil
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("security-ir: encoding request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("security-ir: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if _, err := c.signer.Sign(req, bytes.NewReader(payload), ServiceName, c.region, c.now()); err != nil {
		return fmt.Errorf("security-ir: signing request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("security-ir: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("security-ir: reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(resp.StatusCode, resp.Header, body)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("security-ir: decoding %s: %w", path, err)
	}
	return nil
}

func casePath(caseID, op string) string {
	return "/v1/cases/" + url.PathEscape(caseID) + "/" + op
}

// GetCase returns the case with its attachments. Comments are listed
// separately with ListComments.
func (c *Client) GetCase(ctx context.Context, caseID string) (*domain.Case, error) {
	var w wireCase
	if err := c.call(ctx, http.MethodGet, casePath(caseID, "get-case"), nil, &w); err != nil {
		return nil, err
	}
	return w.domain(caseID), nil
}

// ListCases returns the cases updated at or after since.
func (c *Client) ListCases(ctx context.Context, since time.Time) ([]domain.CaseSummary, error) {
	var out []domain.CaseSummary
	var next string
	for {
		in := map[string]any{"maxResults": pageSize}
		if next != "" {
			in["nextToken"] = next
		}
		var page struct {
			Items     []wireCaseSummary `json:"items"`
			NextToken string            `json:"nextToken"`
		}
		if err := c.call(ctx, http.MethodPost, "/v1/list-cases", in, &page); err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			if !since.IsZero() && item.LastUpdatedDate.Before(since) {
				continue
			}
			out = append(out, domain.CaseSummary{
				ID:        item.CaseID,
				Title:     item.Title,
				Status:    domain.CaseStatus(item.CaseStatus),
				UpdatedAt: item.LastUpdatedDate.Time,
			})
		}
		if page.NextToken == "" {
			return out, nil
		}
		next = page.NextToken
	}
}

// CreateCase opens a self-managed case and returns its ID.
func (c *Client) CreateCase(ctx context.Context, nc domain.NewCase) (string, error) {
	in := map[string]any{
		"title":                     nc.Title,
		"description":               nc.Description,
		"resolverType":              c.defaults.ResolverType,
		"engagementType":            c.defaults.EngagementType,
		"reportedIncidentStartDate": c.now().Unix(),
		"impactedAccounts":          c.defaults.ImpactedAccounts,
		"watchers":                  []map[string]string{},
	}
	if c.defaults.WatcherEmail != "" {
		in["watchers"] = []map[string]string{{"email": c.defaults.WatcherEmail}}
	}
	if nc.IdempotencyKey != "" {
		in["clientToken"] = nc.IdempotencyKey
	}
	var out struct {
		CaseID string `json:"caseId"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/create-case", in, &out); err != nil {
		return "", err
	}
	return out.CaseID, nil
}

// UpdateCase edits the title and/or description of a case.
func (c *Client) UpdateCase(ctx context.Context, caseID string, upd CaseUpdate) error {
	in := map[string]any{}
	if upd.Title != nil {
		in["title"] = *upd.Title
	}
	if upd.Description != nil {
		in["description"] = *upd.Description
	}
	if len(in) == 0 {
		return nil
	}
	return c.call(ctx, http.MethodPost, casePath(caseID, "update-case"), in, nil)
}

// UpdateCaseStatus moves an open case to status.
func (c *Client) UpdateCaseStatus(ctx context.Context, caseID string, status domain.CaseStatus) error {
	in := map[string]string{"caseStatus": string(status)}
	return c.call(ctx, http.MethodPost, casePath(caseID, "update-case-status"), in, nil)
}

// CloseCase closes the case.
func (c *Client) CloseCase(ctx context.Context, caseID string) error {
	return c.call(ctx, http.MethodPost, casePath(caseID, "close-case"), nil, nil)
}

// ListComments returns every comment on the case.
func (c *Client) ListComments(ctx context.Context, caseID string) ([]domain.Comment, error) {
	var out []domain.Comment
	var next string
	for {
		in := map[string]any{"maxResults": pageSize}
		if next != "" {
			in["nextToken"] = next
		}
		var page struct {
			Items     []wireComment `json:"items"`
			NextToken string        `json:"nextToken"`
		}
		if err := c.call(ctx, http.MethodPost, casePath(caseID, "list-comments"), in, &page); err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			out = append(out, domain.Comment{
				ID:        item.CommentID,
				Body:      item.Body,
				Author:    item.Creator,
				CreatedAt: item.CreatedDate.Time,
			})
		}
		if page.NextToken == "" {
			return out, nil
		}
		next = page.NextToken
	}
}

// CreateComment adds a comment to the case and returns its ID.
func (c *Client) CreateComment(ctx context.Context, caseID, body string) (string, error) {
	var out struct {
		CommentID string `json:"commentId"`
	}
	in := map[string]string{"body": body}
	if err := c.call(ctx, http.MethodPost, casePath(caseID, "create-comment"), in, &out); err != nil {
		return "", err
	}
	return out.CommentID, nil
}

// GetAttachmentDownloadURL returns a short-lived presigned URL.
func (c *Client) GetAttachmentDownloadURL(ctx context.Context, caseID, attachmentID string) (string, error) {
	var out struct {
		URL string `json:"attachmentPresignedUrl"`
	}
	path := casePath(caseID, "get-presigned-url/"+url.PathEscape(attachmentID))
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// DownloadAttachment streams the attachment content. The caller closes
// the returned reader.
func (c *Client) DownloadAttachment(ctx context.Context, caseID, attachmentID string) (io.ReadCloser, error) {
	link, err := c.GetAttachmentDownloadURL(ctx, caseID, attachmentID)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("security-ir: creating download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("security-ir: downloading attachment %s: %w", attachmentID, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "attachment download failed"}
	}
	return resp.Body, nil
}
