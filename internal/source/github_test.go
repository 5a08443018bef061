package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/dshills/repovec-mcp/pkg/types"
)

const issuesPage1 = `[
  {"number": 1, "title": "Crash on start", "body": "stack trace here", "state": "closed",
   "user": {"login": "octocat"}, "labels": [{"name": "bug"}, {"name": "p1"}],
   "created_at": "2024-01-02T03:04:05Z", "updated_at": "2024-01-03T00:00:00Z",
   "closed_at": "2024-02-01T00:00:00Z"},
  {"number": 2, "title": "Add feature", "state": "open", "user": {"login": "hubot"},
   "pull_request": {"url": "https://api.github.com/repos/o/r/pulls/2"},
   "created_at": "2024-01-04T00:00:00Z"}
]`

const issuesPage2 = `[
  {"number": 3, "title": "Docs typo", "body": "", "state": "open", "user": {"login": "hubot"},
   "labels": [], "created_at": "2024-01-05T06:07:08Z"}
]`

func newIssueServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var seen []string
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/repos/o/r/issues", func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.URL.RawQuery)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, issuesPage2)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/repos/o/r/issues?page=2>; rel="next"`, srv.URL))
		fmt.Fprint(w, issuesPage1)
	})
	mux.HandleFunc("/repos/o/missing/issues", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found"}`)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestIssueLoader_Load(t *testing.T) {
	srv, seen := newIssueServer(t)

	loader, err := NewIssueLoader(context.Background(), "token",
		WithGitHubBaseURL(srv.URL), WithRequestRate(rate.Inf))
	require.NoError(t, err)

	docs, err := loader.Load(context.Background(), "o/r")
	require.NoError(t, err)
	require.Len(t, docs, 2, "pull request is skipped")
	assert.Len(t, *seen, 2)
	assert.Contains(t, (*seen)[0], "state=all")
	assert.Contains(t, (*seen)[0], "per_page=100")

	first := docs[0]
	assert.Equal(t, types.KindIssue, first.Kind)
	assert.Equal(t, "Crash on start:\nstack trace here", first.Text)
	assert.Equal(t, "octocat", first.Issue.Author)
	assert.Equal(t, "2024-01-02T03:04:05Z", first.Issue.CreatedAt)
	assert.Equal(t, "2024-02-01T00:00:00Z", first.Issue.ClosedAt)
	assert.Equal(t, "closed", first.Issue.State)
	assert.Equal(t, 1, first.Issue.Number)
	assert.Equal(t, "o/r", first.Issue.Slug)
	assert.Equal(t, []string{"bug", "p1"}, first.Issue.Labels)

	second := docs[1]
	assert.Equal(t, "Docs typo", second.Text)
	assert.Empty(t, second.Issue.ClosedAt)
	assert.Empty(t, second.Issue.Labels)
	assert.Equal(t, 3, second.Issue.Number)
}

func TestIssueLoader_Errors(t *testing.T) {
	srv, _ := newIssueServer(t)

	loader, err := NewIssueLoader(context.Background(), "",
		WithGitHubBaseURL(srv.URL), WithRequestRate(rate.Inf), WithIssueState("open"))
	require.NoError(t, err)

	_, err = loader.Load(context.Background(), "o/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	_, err = loader.Load(context.Background(), "just-a-name")
	assert.ErrorIs(t, err, ErrInvalidSlug)

	_, err = NewIssueLoader(context.Background(), "", WithIssueState("merged"))
	assert.Error(t, err)
}

func TestParseSlug(t *testing.T) {
	tests := []struct {
		slug      string
		wantOwner string
		wantRepo  string
		wantErr   bool
	}{
		{"owner/repo", "owner", "repo", false},
		{"/owner/repo/", "owner", "repo", false},
		{"owner", "", "", true},
		{"owner/", "", "", true},
		{"a/b/c", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.slug, func(t *testing.T) {
			owner, repo, err := ParseSlug(tt.slug)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSlug)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOwner, owner)
			assert.Equal(t, tt.wantRepo, repo)
		})
	}
}

func TestIssueDocument_PrefixFromAuthorAndDate(t *testing.T) {
	srv, _ := newIssueServer(t)
	loader, err := NewIssueLoader(context.Background(), "", WithGitHubBaseURL(srv.URL), WithRequestRate(rate.Inf))
	require.NoError(t, err)

	docs, err := loader.Load(context.Background(), "o/r")
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, types.NormalizePrefix("octocat_2024-01-02T03:04:05Z"), docs[0].Prefix())
}
