package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/dshills/repovec-mcp/pkg/types"
)

const (
	// DefaultGitHubTimeout is the HTTP timeout of the issues client
	DefaultGitHubTimeout = 30 * time.Second

	// EnvGitHubToken is the environment variable holding the access token
	EnvGitHubToken = "GITHUB_TOKEN"

	// issueRequestRate keeps well under the 5000/hour authenticated limit
	issueRequestRate = 1.2
)

// ErrInvalidSlug is returned for repository slugs not shaped owner/repo
var ErrInvalidSlug = errors.New("repository slug must be owner/repo")

// IssueLoader fetches the issues of a GitHub repository as documents
type IssueLoader struct {
	client  *gh.Client
	limiter *rate.Limiter
	state   string
	logger  *slog.Logger
}

// IssueOption configures an IssueLoader
type IssueOption func(*IssueLoader) error

// WithGitHubBaseURL points the client at another API root, such as a
// GitHub Enterprise host or a test server
func WithGitHubBaseURL(base string) IssueOption {
	return func(l *IssueLoader) error {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return fmt.Errorf("invalid github base url: %w", err)
		}
		l.client.BaseURL = u
		return nil
	}
}

// WithIssueState selects "open", "closed" or "all" (the default)
func WithIssueState(state string) IssueOption {
	return func(l *IssueLoader) error {
		switch state {
		case "open", "closed", "all":
			l.state = state
			return nil
		default:
			return fmt.Errorf("invalid issue state %q", state)
		}
	}
}

// WithRequestRate overrides the proactive request throttle
func WithRequestRate(limit rate.Limit) IssueOption {
	return func(l *IssueLoader) error {
		l.limiter = rate.NewLimiter(limit, 1)
		return nil
	}
}

// NewIssueLoader creates a loader. An empty token makes anonymous requests.
func NewIssueLoader(ctx context.Context, token string, opts ...IssueOption) (*IssueLoader, error) {
	var hc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(ctx, ts)
	} else {
		hc = &http.Client{}
	}
	hc.Timeout = DefaultGitHubTimeout

	l := &IssueLoader{
		client:  gh.NewClient(hc),
		limiter: rate.NewLimiter(rate.Limit(issueRequestRate), 1),
		state:   "all",
		logger:  slog.Default().With("component", "github_issues"),
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// ParseSlug splits owner/repo
func ParseSlug(slug string) (string, string, error) {
	owner, repo, ok := strings.Cut(strings.Trim(slug, "/"), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}
	return owner, repo, nil
}

// Load returns one document per issue of slug. Pull requests, which the
// issues endpoint also lists, are left out.
func (l *IssueLoader) Load(ctx context.Context, slug string) ([]*types.Document, error) {
	owner, repo, err := ParseSlug(slug)
	if err != nil {
		return nil, err
	}

	opts := &gh.IssueListByRepoOptions{
		State:       l.state,
		Sort:        "created",
		Direction:   "asc",
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var docs []*types.Document
	for {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		issues, resp, err := l.client.Issues.ListByRepo(ctx, owner, repo, opts)
		if err != nil {
			return nil, wrapGitHubError(err, "list issues")
		}

		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			docs = append(docs, IssueDocument(slug, issue))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.ListOptions.Page = resp.NextPage
	}

	l.logger.Info("issues loaded", "slug", slug, "documents", len(docs))
	return docs, nil
}

// IssueDocument converts a go-github issue. Timestamps are RFC3339 and
// empty when unset.
func IssueDocument(slug string, issue *gh.Issue) *types.Document {
	labels := make([]string, 0, len(issue.Labels))
	for _, label := range issue.Labels {
		labels = append(labels, label.GetName())
	}

	info := types.IssueInfo{
		Title:     issue.GetTitle(),
		Author:    issue.GetUser().GetLogin(),
		CreatedAt: formatTimestamp(issue.CreatedAt),
		UpdatedAt: formatTimestamp(issue.UpdatedAt),
		ClosedAt:  formatTimestamp(issue.ClosedAt),
		State:     issue.GetState(),
		Number:    issue.GetNumber(),
		Slug:      slug,
		Labels:    labels,
	}
	return types.NewIssueDocument(info, issue.GetBody())
}

func formatTimestamp(ts *gh.Timestamp) string {
	if ts == nil || ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}

// wrapGitHubError keeps the API status and message of go-github errors
func wrapGitHubError(err error, operation string) error {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Errorf("%s: github rate limit exceeded, resets at %s: %w",
			operation, rateErr.Rate.Reset.Format(time.RFC3339), err)
	}
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return fmt.Errorf("%s: github api error %d: %s: %w",
			operation, ghErr.Response.StatusCode, ghErr.Message, err)
	}
	return fmt.Errorf("%s: %w", operation, err)
}
