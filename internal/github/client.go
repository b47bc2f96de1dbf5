// Package github is a minimal GitHub API client covering the calls Relay
// needs: the notifications feed, resource fetches by notification locator,
// pull request timelines, and workflow dispatch.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	githubAPIURL = "https://api.github.com"
	perPage      = 100
)

var (
	// ErrUnauthorized indicates a rejected credential. Polling keeps going
	// but will fail until an operator rotates the token.
	ErrUnauthorized = errors.New("github: credential rejected")
	// ErrRateLimited indicates the API quota is exhausted.
	ErrRateLimited = errors.New("github: rate limited")
)

// Client is a GitHub API client. It carries two credentials: botToken for
// notification polling and acknowledgment, userToken for resource fetches,
// GraphQL, and workflow dispatch. They may be identical.
type Client struct {
	botToken   string
	userToken  string
	httpClient *http.Client
	baseURL    string // For testing - defaults to githubAPIURL
}

// NewClient creates a new GitHub client.
func NewClient(botToken, userToken string) *Client {
	return NewClientWithBaseURL(botToken, userToken, githubAPIURL)
}

// NewClientWithBaseURL creates a new GitHub client with a custom base URL (for testing)
func NewClientWithBaseURL(botToken, userToken, baseURL string) *Client {
	return &Client{
		botToken:  botToken,
		userToken: userToken,
		baseURL:   baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PollResult carries the conditional-polling state returned by the
// notifications endpoint.
type PollResult struct {
	// ETag is the validator token to echo back on the next poll.
	ETag string
	// Interval is the server-suggested next-poll interval, zero when the
	// server gave no hint.
	Interval time.Duration
	// NotModified is true when the feed has not changed since the last poll.
	NotModified bool
}

// ListNotifications fetches unread notifications for the bot account. The
// etag from the previous poll enables conditional retrieval; a not-modified
// response returns no notifications and keeps the etag.
func (c *Client) ListNotifications(ctx context.Context, etag string) ([]*Notification, *PollResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/notifications?all=false", nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, c.botToken)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	result := &PollResult{ETag: etag}
	if secs, err := strconv.Atoi(resp.Header.Get("X-Poll-Interval")); err == nil && secs > 0 {
		result.Interval = time.Duration(secs) * time.Second
	}

	switch {
	case resp.StatusCode == http.StatusNotModified:
		result.NotModified = true
		return nil, result, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, result, ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return nil, result, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return nil, result, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	result.ETag = resp.Header.Get("ETag")

	var notes []*Notification
	if err := json.NewDecoder(resp.Body).Decode(&notes); err != nil {
		return nil, result, fmt.Errorf("failed to parse response: %w", err)
	}
	return notes, result, nil
}

// MarkThreadRead acknowledges a notification thread. The call is idempotent
// on the server side.
func (c *Client) MarkThreadRead(ctx context.Context, threadID string) error {
	return WithRetryVoid(ctx, func() error {
		path := fmt.Sprintf("/notifications/threads/%s", threadID)
		return c.doRequest(ctx, http.MethodPatch, path, c.botToken, nil, nil)
	}, DefaultRetryOptions())
}

// GetThread fetches a notification thread by its locator.
func (c *Client) GetThread(ctx context.Context, url string) (*Thread, error) {
	var thread Thread
	if err := c.doRequest(ctx, http.MethodGet, url, c.userToken, nil, &thread); err != nil {
		return nil, err
	}
	return &thread, nil
}

// GetIssue fetches an issue or pull request by the subject locator carried in
// a notification.
func (c *Client) GetIssue(ctx context.Context, url string) (*Issue, error) {
	var issue Issue
	if err := c.doRequest(ctx, http.MethodGet, url, c.userToken, nil, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// GetComment fetches a single comment by locator (e.g. latest_comment_url).
func (c *Client) GetComment(ctx context.Context, url string) (*Comment, error) {
	var comment Comment
	if err := c.doRequest(ctx, http.MethodGet, url, c.userToken, nil, &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

// ListCommitComments fetches the comments on a commit, given the commit
// subject locator.
func (c *Client) ListCommitComments(ctx context.Context, commitURL string) ([]*Comment, error) {
	var comments []*Comment
	if err := c.doRequest(ctx, http.MethodGet, commitURL+"/comments", c.userToken, nil, &comments); err != nil {
		return nil, err
	}
	return comments, nil
}

// ListIssueComments fetches all plain discussion comments on an issue or
// pull request, following pagination.
func (c *Client) ListIssueComments(ctx context.Context, repo string, number int) ([]*Comment, error) {
	var all []*Comment
	for page := 1; ; page++ {
		path := fmt.Sprintf("/repos/%s/issues/%d/comments?per_page=%d&page=%d", repo, number, perPage, page)
		var batch []*Comment
		if err := c.doRequest(ctx, http.MethodGet, path, c.userToken, nil, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < perPage {
			return all, nil
		}
	}
}

// ListReviews fetches all review batches on a pull request.
func (c *Client) ListReviews(ctx context.Context, repo string, number int) ([]*Review, error) {
	var all []*Review
	for page := 1; ; page++ {
		path := fmt.Sprintf("/repos/%s/pulls/%d/reviews?per_page=%d&page=%d", repo, number, perPage, page)
		var batch []*Review
		if err := c.doRequest(ctx, http.MethodGet, path, c.userToken, nil, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < perPage {
			return all, nil
		}
	}
}

// ListReviewComments fetches all inline code comments on a pull request.
func (c *Client) ListReviewComments(ctx context.Context, repo string, number int) ([]*ReviewComment, error) {
	var all []*ReviewComment
	for page := 1; ; page++ {
		path := fmt.Sprintf("/repos/%s/pulls/%d/comments?per_page=%d&page=%d", repo, number, perPage, page)
		var batch []*ReviewComment
		if err := c.doRequest(ctx, http.MethodGet, path, c.userToken, nil, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < perPage {
			return all, nil
		}
	}
}

// GetDiff fetches the patch text of a pull request via content negotiation.
func (c *Client) GetDiff(ctx context.Context, repo string, number int) (string, error) {
	path := fmt.Sprintf("%s/repos/%s/pulls/%d", c.baseURL, repo, number)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, c.userToken)
	req.Header.Set("Accept", "application/vnd.github.diff")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return string(body), nil
}

// DispatchWorkflow triggers a workflow_dispatch on the control repository.
// GitHub answers 204 on success; anything else is a failure.
func (c *Client) DispatchWorkflow(ctx context.Context, repo, workflow, ref string, inputs map[string]string) error {
	path := fmt.Sprintf("/repos/%s/actions/workflows/%s/dispatches", repo, workflow)
	body := map[string]interface{}{
		"ref":    ref,
		"inputs": inputs,
	}
	return c.doRequest(ctx, http.MethodPost, path, c.userToken, body, nil)
}

// setHeaders applies the standard GitHub API headers.
func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
}

// doRequest performs an HTTP request to the GitHub API. The path may be a
// path relative to the API base or an absolute locator carried in a
// notification.
func (c *Client) doRequest(ctx context.Context, method, path, token string, body interface{}, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	url := path
	if !strings.HasPrefix(path, "http") {
		url = c.baseURL + path
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// IsNotFound checks if an error is a 404 not found API error.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return strings.HasPrefix(err.Error(), "API error (status 404")
}
