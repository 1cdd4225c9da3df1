package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v53/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github-maintainer/internal/common"
	"github-maintainer/internal/domain"
	"github-maintainer/internal/port"
)

const (
	defaultPerPage  = 100
	defaultMaxPages = 10
	recentCommits   = 30
)

// Client implements port.RepoHost on top of the GitHub REST API. It injects
// the auth token on every call, tracks the rate-limit budget from response
// headers, and wraps each remote call in the shared retry policy.
type Client struct {
	gh       *github.Client
	log      *zap.Logger
	perPage  int
	maxPages int
	retry    []common.Option
	onCall   func()
	nowFunc  func() time.Time

	mu        sync.Mutex
	tracked   bool
	remaining int
	resetAt   time.Time
}

// Option configures the client.
type Option func(*Client)

// WithLogger sets the structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithMaxPages caps how many pages a paginated call fetches.
func WithMaxPages(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// WithPerPage sets the page size for paginated calls.
func WithPerPage(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.perPage = n
		}
	}
}

// WithRetryOptions overrides the retry policy wrapped around each call.
func WithRetryOptions(opts ...common.Option) Option {
	return func(c *Client) { c.retry = opts }
}

// WithCallHook installs a hook invoked once per attempted remote call,
// typically a metrics counter.
func WithCallHook(fn func()) Option {
	return func(c *Client) { c.onCall = fn }
}

// WithBaseURL points the client at a non-default API endpoint (GitHub
// Enterprise, or a test server). The URL must end with a slash.
func WithBaseURL(raw string) Option {
	return func(c *Client) {
		u, err := url.Parse(raw)
		if err == nil {
			c.gh.BaseURL = u
			c.gh.UploadURL = u
		}
	}
}

// WithNow injects the clock, for tests.
func WithNow(fn func() time.Time) Option {
	return func(c *Client) { c.nowFunc = fn }
}

// NewClient builds an authenticated client. An empty token is rejected up
// front: every call must carry auth, and an unauthenticated run would abort
// on its first request anyway.
func NewClient(token string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, common.AuthError("github token is required", nil)
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = 30 * time.Second

	c := &Client{
		gh:       github.NewClient(tc),
		log:      zap.NewNop(),
		perPage:  defaultPerPage,
		maxPages: defaultMaxPages,
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

var _ port.RepoHost = (*Client)(nil)

// RateBudget returns the locally cached remaining-call count and reset time.
func (c *Client) RateBudget() (int, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining, c.resetAt
}

// checkBudget raises a rate-limit error without touching the network when the
// cached budget is exhausted and the window has not reset yet.
func (c *Client) checkBudget() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.tracked {
		return nil
	}
	if c.remaining > 0 {
		return nil
	}
	if c.nowFunc().Before(c.resetAt) {
		return common.RateLimitError(c.resetAt, "github rate budget exhausted")
	}
	// Window rolled over; trust the next response to re-establish the budget.
	c.tracked = false
	return nil
}

func (c *Client) updateBudget(resp *github.Response) {
	if resp == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracked = true
	c.remaining = resp.Rate.Remaining
	c.resetAt = resp.Rate.Reset.Time
	if c.remaining > 0 && c.remaining < 100 {
		c.log.Warn("github rate budget running low",
			zap.Int("remaining", c.remaining),
			zap.Time("reset_at", c.resetAt))
	}
}

// do wraps one remote call with the budget short-circuit, header tracking,
// error classification and the retry policy.
func (c *Client) do(ctx context.Context, op string, fn func() (*github.Response, error)) error {
	if err := c.checkBudget(); err != nil {
		return err
	}

	opts := append([]common.Option{common.WithRetryIf(common.Retryable)}, c.retry...)
	err := common.Do(ctx, func() error {
		if c.onCall != nil {
			c.onCall()
		}
		resp, err := fn()
		c.updateBudget(resp)
		if err != nil {
			return c.classify(err)
		}
		return nil
	}, opts...)
	if err != nil {
		c.log.Debug("github call failed", zap.String("op", op), zap.Error(err))
	}
	return err
}

// classify maps go-github errors onto the error taxonomy.
func (c *Client) classify(err error) error {
	switch e := err.(type) {
	case *github.RateLimitError:
		return common.RateLimitError(e.Rate.Reset.Time, "github rate limit exceeded")
	case *github.AbuseRateLimitError:
		reset := c.nowFunc()
		if e.RetryAfter != nil {
			reset = reset.Add(*e.RetryAfter)
		}
		return common.RateLimitError(reset, "github secondary rate limit")
	case *github.ErrorResponse:
		if e.Response == nil {
			return common.TransientError("github request failed", err)
		}
		switch {
		case e.Response.StatusCode == http.StatusUnauthorized || e.Response.StatusCode == http.StatusForbidden:
			return common.AuthError("github rejected the token", err)
		case e.Response.StatusCode == http.StatusNotFound:
			return common.NotFoundError("github resource not found", err)
		case e.Response.StatusCode >= 500:
			return common.TransientError(fmt.Sprintf("github server error %d", e.Response.StatusCode), err)
		case e.Response.StatusCode >= 400:
			return common.NewError(common.KindRejected, fmt.Sprintf("github rejected the request with %d", e.Response.StatusCode), err)
		}
	}
	// Timeouts, connection resets, DNS failures.
	return common.TransientError("github request failed", err)
}

// ListRepositories pages through the user's repositories and applies the
// filter set client-side. Pagination restarts per invocation and stops at the
// configured page cap.
func (c *Client) ListRepositories(ctx context.Context, username string, filters domain.RepositoryFilters) ([]domain.RepositoryDescriptor, error) {
	opts := &github.RepositoryListOptions{
		Type:        "owner",
		Sort:        "updated",
		ListOptions: github.ListOptions{PerPage: c.perPage, Page: 1},
	}

	var out []domain.RepositoryDescriptor
	for fetched := 0; fetched < c.maxPages; fetched++ {
		var repos []*github.Repository
		next := 0
		err := c.do(ctx, "list_repositories", func() (*github.Response, error) {
			rs, resp, err := c.gh.Repositories.List(ctx, username, opts)
			if err != nil {
				return resp, err
			}
			repos = rs
			next = resp.NextPage
			return resp, nil
		})
		if err != nil {
			return nil, err
		}
		for _, r := range repos {
			d := descriptorFrom(r)
			if filters.Matches(d) {
				out = append(out, d)
			}
		}
		if next == 0 {
			break
		}
		opts.Page = next
	}
	return out, nil
}

func descriptorFrom(r *github.Repository) domain.RepositoryDescriptor {
	visibility := "public"
	if r.GetPrivate() {
		visibility = "private"
	}
	return domain.RepositoryDescriptor{
		FullName:      r.GetFullName(),
		Owner:         r.GetOwner().GetLogin(),
		Name:          r.GetName(),
		URL:           r.GetHTMLURL(),
		DefaultBranch: r.GetDefaultBranch(),
		Visibility:    visibility,
		Language:      r.GetLanguage(),
		Archived:      r.GetArchived(),
		OpenIssues:    r.GetOpenIssuesCount(),
		CreatedAt:     r.GetCreatedAt().Time,
		UpdatedAt:     r.GetUpdatedAt().Time,
	}
}

// GetOverview fetches readme, top-level file list and language byte shares,
// deriving the CI/test/contributing presence flags from the file names.
func (c *Client) GetOverview(ctx context.Context, desc domain.RepositoryDescriptor) (*domain.RepositoryOverview, error) {
	ov := &domain.RepositoryOverview{Descriptor: desc}

	var readme *github.RepositoryContent
	err := c.do(ctx, "get_readme", func() (*github.Response, error) {
		rm, resp, err := c.gh.Repositories.GetReadme(ctx, desc.Owner, desc.Name, nil)
		if err != nil {
			return resp, err
		}
		readme = rm
		return resp, nil
	})
	switch {
	case err == nil:
		content, decErr := readme.GetContent()
		if decErr != nil {
			c.log.Warn("readme decode failed, treating as absent",
				zap.String("repository", desc.FullName), zap.Error(decErr))
		} else {
			ov.Readme = content
			ov.HasReadme = true
		}
	case common.IsNotFound(err):
		// A missing readme is a finding, not a failure.
	default:
		return nil, err
	}

	var entries []*github.RepositoryContent
	err = c.do(ctx, "list_contents", func() (*github.Response, error) {
		_, dir, resp, err := c.gh.Repositories.GetContents(ctx, desc.Owner, desc.Name, "", nil)
		if err != nil {
			return resp, err
		}
		entries = dir
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		name := e.GetName()
		ov.Files = append(ov.Files, name)
		applyPresenceFlags(ov, name, e.GetType() == "dir")
	}

	err = c.do(ctx, "list_languages", func() (*github.Response, error) {
		langs, resp, err := c.gh.Repositories.ListLanguages(ctx, desc.Owner, desc.Name)
		if err != nil {
			return resp, err
		}
		ov.Languages = langs
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	return ov, nil
}

// applyPresenceFlags updates the overview flags from one top-level entry.
// Heuristic by necessity: the API exposes names, not semantics.
func applyPresenceFlags(ov *domain.RepositoryOverview, name string, isDir bool) {
	lower := strings.ToLower(name)
	if isDir {
		switch lower {
		case "test", "tests", "spec", "__tests__", "testdata":
			ov.HasTests = true
		case ".github", ".circleci":
			ov.HasCI = true
		}
		return
	}
	switch {
	case strings.HasPrefix(lower, "contributing"):
		ov.HasContributing = true
	case lower == ".travis.yml" || lower == ".gitlab-ci.yml" ||
		lower == "jenkinsfile" || lower == "azure-pipelines.yml":
		ov.HasCI = true
	case strings.Contains(lower, "_test.") || strings.Contains(lower, ".test."):
		ov.HasTests = true
	}
}

// GetHistory fetches recent commit summaries, contributor count, and the
// closed-issue / open-PR totals from the search API.
func (c *Client) GetHistory(ctx context.Context, desc domain.RepositoryDescriptor) (*domain.RepositoryHistory, error) {
	h := &domain.RepositoryHistory{OpenIssues: desc.OpenIssues}

	commitOpts := &github.CommitsListOptions{
		ListOptions: github.ListOptions{PerPage: c.perPage, Page: 1},
	}
	for fetched := 0; fetched < c.maxPages; fetched++ {
		var commits []*github.RepositoryCommit
		next := 0
		err := c.do(ctx, "list_commits", func() (*github.Response, error) {
			cs, resp, err := c.gh.Repositories.ListCommits(ctx, desc.Owner, desc.Name, commitOpts)
			if err != nil {
				return resp, err
			}
			commits = cs
			next = resp.NextPage
			return resp, nil
		})
		if err != nil {
			return nil, err
		}
		for _, rc := range commits {
			h.CommitCount++
			date := rc.GetCommit().GetAuthor().GetDate().Time
			if date.After(h.LastCommitDate) {
				h.LastCommitDate = date
			}
			if len(h.RecentCommits) < recentCommits {
				h.RecentCommits = append(h.RecentCommits, domain.CommitSummary{
					SHA:     rc.GetSHA(),
					Message: rc.GetCommit().GetMessage(),
					Author:  rc.GetCommit().GetAuthor().GetName(),
					Date:    date,
				})
			}
		}
		if next == 0 {
			break
		}
		commitOpts.Page = next
	}

	err := c.do(ctx, "list_contributors", func() (*github.Response, error) {
		contribs, resp, err := c.gh.Repositories.ListContributors(ctx, desc.Owner, desc.Name,
			&github.ListContributorsOptions{ListOptions: github.ListOptions{PerPage: c.perPage}})
		if err != nil {
			return resp, err
		}
		h.Contributors = len(contribs)
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	closed, err := c.searchCount(ctx, fmt.Sprintf("repo:%s type:issue state:closed", desc.FullName))
	if err != nil {
		return nil, err
	}
	h.ClosedIssues = closed

	openPRs, err := c.searchCount(ctx, fmt.Sprintf("repo:%s type:pr state:open", desc.FullName))
	if err != nil {
		return nil, err
	}
	h.OpenPRs = openPRs

	return h, nil
}

func (c *Client) searchCount(ctx context.Context, query string) (int, error) {
	total := 0
	err := c.do(ctx, "search_count", func() (*github.Response, error) {
		res, resp, err := c.gh.Search.Issues(ctx, query, &github.SearchOptions{
			ListOptions: github.ListOptions{PerPage: 1},
		})
		if err != nil {
			return resp, err
		}
		total = res.GetTotal()
		return resp, nil
	})
	return total, err
}

// CreateIssue files one tracking issue against the repository.
func (c *Client) CreateIssue(ctx context.Context, repositoryRef, title, body string, labels []string) (*domain.IssueRef, error) {
	owner, name, err := splitRef(repositoryRef)
	if err != nil {
		return nil, err
	}

	var issue *github.Issue
	err = c.do(ctx, "create_issue", func() (*github.Response, error) {
		is, resp, err := c.gh.Issues.Create(ctx, owner, name, &github.IssueRequest{
			Title:  github.String(title),
			Body:   github.String(body),
			Labels: &labels,
		})
		if err != nil {
			return resp, err
		}
		issue = is
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return &domain.IssueRef{URL: issue.GetHTMLURL(), Number: issue.GetNumber()}, nil
}

func splitRef(repositoryRef string) (owner, name string, err error) {
	parts := strings.SplitN(repositoryRef, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", common.ValidationError(fmt.Sprintf("malformed repository ref %q", repositoryRef), nil)
	}
	return parts[0], parts[1], nil
}
