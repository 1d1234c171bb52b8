package gh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	github "github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"
)

const (
	userAgent       = "rancher-publish-branch-action"
	commentsPerPage = 100
)

// NewRESTFactory returns a Factory backed by the go-github REST client. A
// non-empty baseURL targets a GitHub Enterprise Server, which then also needs
// uploadURL.
func NewRESTFactory(baseURL, uploadURL string) Factory {
	baseURL = strings.TrimSpace(baseURL)
	uploadURL = strings.TrimSpace(uploadURL)

	return func(ctx context.Context, token string) (Client, error) {
		if token == "" {
			return nil, fmt.Errorf("github token is required")
		}
		httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))

		client, err := newGitHubClient(httpClient, baseURL, uploadURL)
		if err != nil {
			return nil, err
		}
		client.UserAgent = userAgent
		return &restClient{client: client}, nil
	}
}

func newGitHubClient(httpClient *http.Client, baseURL, uploadURL string) (*github.Client, error) {
	if baseURL == "" {
		if uploadURL != "" {
			return nil, fmt.Errorf("github upload url cannot be set without base url")
		}
		return github.NewClient(httpClient), nil
	}
	if uploadURL == "" {
		return nil, fmt.Errorf("github upload url must be provided when base url is set")
	}

	base, err := normalizeAPIURL(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse github base url: %w", err)
	}
	upload, err := normalizeAPIURL(uploadURL)
	if err != nil {
		return nil, fmt.Errorf("parse github upload url: %w", err)
	}
	client, err := github.NewClient(httpClient).WithEnterpriseURLs(base, upload)
	if err != nil {
		return nil, fmt.Errorf("construct enterprise github client: %w", err)
	}
	return client, nil
}

// normalizeAPIURL requires a scheme and host and returns raw with a trailing
// slash and without query or fragment.
func normalizeAPIURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url cannot be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" {
		return "", fmt.Errorf("url must include scheme (e.g. https://)")
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("url must include host")
	}
	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String(), nil
}

type restClient struct {
	client *github.Client
}

func (c *restClient) BranchHead(ctx context.Context, owner, repo, branch string) (string, error) {
	b, resp, err := c.client.Repositories.GetBranch(ctx, owner, repo, branch, true)
	if err != nil {
		apiErr := newAPIError("get branch "+branch, resp, err)
		if apiErr.StatusCode == http.StatusNotFound {
			return "", ErrBranchNotFound
		}
		return "", apiErr
	}
	return b.GetCommit().GetSHA(), nil
}

func (c *restClient) UpsertComment(ctx context.Context, pr PullRequest, marker, body string) (CommentAction, error) {
	existing, err := c.findComment(ctx, pr, marker)
	if err != nil {
		return "", err
	}

	comment := &github.IssueComment{Body: github.String(body)}
	switch {
	case existing == nil:
		if _, resp, err := c.client.Issues.CreateComment(ctx, pr.Owner, pr.Repo, pr.Number, comment); err != nil {
			return "", newAPIError("create comment on "+pr.String(), resp, err)
		}
		return CommentCreated, nil
	case existing.GetBody() == body:
		return CommentUnchanged, nil
	default:
		if _, resp, err := c.client.Issues.EditComment(ctx, pr.Owner, pr.Repo, existing.GetID(), comment); err != nil {
			return "", newAPIError(fmt.Sprintf("edit comment %d", existing.GetID()), resp, err)
		}
		return CommentUpdated, nil
	}
}

// findComment pages through the pull request comments and returns the first
// one containing marker, or nil.
func (c *restClient) findComment(ctx context.Context, pr PullRequest, marker string) (*github.IssueComment, error) {
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: commentsPerPage}}
	for {
		comments, resp, err := c.client.Issues.ListComments(ctx, pr.Owner, pr.Repo, pr.Number, opts)
		if err != nil {
			return nil, newAPIError("list comments on "+pr.String(), resp, err)
		}
		for _, comment := range comments {
			if comment != nil && strings.Contains(comment.GetBody(), marker) {
				return comment, nil
			}
		}
		if resp == nil || resp.NextPage == 0 {
			return nil, nil
		}
		opts.Page = resp.NextPage
	}
}

// newAPIError records the HTTP status of a failed call. GetBranch bypasses
// go-github's response checking and reports any non-200 status as a plain
// error, so the response is consulted before the error type.
func newAPIError(op string, resp *github.Response, err error) *APIError {
	status := 0
	if resp != nil && resp.Response != nil {
		status = resp.StatusCode
	}
	var respErr *github.ErrorResponse
	if status == 0 && errors.As(err, &respErr) && respErr.Response != nil {
		status = respErr.Response.StatusCode
	}
	return &APIError{Op: op, StatusCode: status, Retryable: retryable(status, err), Err: err}
}

func retryable(status int, err error) bool {
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return true
	}

	var rateLimitErr *github.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
