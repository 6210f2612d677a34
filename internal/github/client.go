// Package github wraps the issue tracker operations the workflow engine
// needs: reading issues and comments, posting progress, and managing pull
// requests.
package github

import (
	"context"
	"fmt"
	"sort"
	"strings"

	gh "github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/devflow/internal/config"
)

// Issue is the engine's view of a tracker issue.
type Issue struct {
	Number int
	Title  string
	Body   string
	State  string
	Author string
}

// Comment is one issue comment, ordered by creation time.
type Comment struct {
	ID     int64
	Author string
	Body   string
}

// PullRequest identifies an open pull request.
type PullRequest struct {
	Number int
	URL    string
	Branch string
}

// Tracker is the issue-tracker contract the workflow depends on. The
// concrete Client talks to GitHub; tests substitute mocks.
type Tracker interface {
	FetchIssue(ctx context.Context, number int) (*Issue, error)
	FetchOpenIssues(ctx context.Context) ([]*Issue, error)
	FetchComments(ctx context.Context, number int) ([]*Comment, error)
	CreateComment(ctx context.Context, number int, body string) error
	CreateIssue(ctx context.Context, title, body string) (*Issue, error)
	FindPRForBranch(ctx context.Context, branch string) (*PullRequest, error)
	CreatePR(ctx context.Context, title, body, branch, base string) (*PullRequest, error)
}

// Client implements Tracker against the GitHub API.
type Client struct {
	gh     *gh.Client
	owner  string
	repo   string
	logger *zap.Logger
}

// NewClient creates an authenticated GitHub client for one repository.
func NewClient(ctx context.Context, cfg config.GitHubConfig, logger *zap.Logger) (*Client, error) {
	if !cfg.Token.IsSet() {
		return nil, fmt.Errorf("GitHub token not set")
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("GitHub owner and repo are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
	tc := oauth2.NewClient(ctx, ts)
	return &Client{
		gh:     gh.NewClient(tc),
		owner:  cfg.Owner,
		repo:   cfg.Repo,
		logger: logger,
	}, nil
}

// FetchIssue retrieves one issue by number.
func (c *Client) FetchIssue(ctx context.Context, number int) (*Issue, error) {
	issue, _, err := c.gh.Issues.Get(ctx, c.owner, c.repo, number)
	if err != nil {
		return nil, fmt.Errorf("fetching issue #%d: %w", number, err)
	}
	return convertIssue(issue), nil
}

// FetchOpenIssues lists all open issues, excluding pull requests.
func (c *Client) FetchOpenIssues(ctx context.Context) ([]*Issue, error) {
	opts := &gh.IssueListByRepoOptions{
		State:       "open",
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var issues []*Issue
	for {
		page, resp, err := c.gh.Issues.ListByRepo(ctx, c.owner, c.repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing open issues: %w", err)
		}
		for _, issue := range page {
			if issue.IsPullRequest() {
				continue
			}
			issues = append(issues, convertIssue(issue))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return issues, nil
}

// FetchComments returns all comments on an issue in creation order.
func (c *Client) FetchComments(ctx context.Context, number int) ([]*Comment, error) {
	opts := &gh.IssueListCommentsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var comments []*Comment
	for {
		page, resp, err := c.gh.Issues.ListComments(ctx, c.owner, c.repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("listing comments on #%d: %w", number, err)
		}
		for _, comment := range page {
			comments = append(comments, &Comment{
				ID:     comment.GetID(),
				Author: comment.GetUser().GetLogin(),
				Body:   comment.GetBody(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	// Comment IDs are monotonically assigned; sorting by ID yields
	// creation order regardless of API pagination quirks.
	sort.Slice(comments, func(i, j int) bool { return comments[i].ID < comments[j].ID })
	return comments, nil
}

// CreateComment posts a comment on an issue.
func (c *Client) CreateComment(ctx context.Context, number int, body string) error {
	_, _, err := c.gh.Issues.CreateComment(ctx, c.owner, c.repo, number, &gh.IssueComment{
		Body: gh.String(body),
	})
	if err != nil {
		return fmt.Errorf("commenting on #%d: %w", number, err)
	}
	return nil
}

// CreateIssue opens a new issue.
func (c *Client) CreateIssue(ctx context.Context, title, body string) (*Issue, error) {
	issue, _, err := c.gh.Issues.Create(ctx, c.owner, c.repo, &gh.IssueRequest{
		Title: gh.String(title),
		Body:  gh.String(body),
	})
	if err != nil {
		return nil, fmt.Errorf("creating issue %q: %w", title, err)
	}
	c.logger.Info("created issue", zap.Int("number", issue.GetNumber()), zap.String("title", title))
	return convertIssue(issue), nil
}

// FindPRForBranch returns the open pull request whose head is branch, or
// nil if none exists.
func (c *Client) FindPRForBranch(ctx context.Context, branch string) (*PullRequest, error) {
	prs, _, err := c.gh.PullRequests.List(ctx, c.owner, c.repo, &gh.PullRequestListOptions{
		State: "open",
		Head:  c.owner + ":" + branch,
	})
	if err != nil {
		return nil, fmt.Errorf("listing pull requests for %s: %w", branch, err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	pr := prs[0]
	return &PullRequest{
		Number: pr.GetNumber(),
		URL:    pr.GetHTMLURL(),
		Branch: branch,
	}, nil
}

// CreatePR opens a pull request from branch into base.
func (c *Client) CreatePR(ctx context.Context, title, body, branch, base string) (*PullRequest, error) {
	pr, _, err := c.gh.PullRequests.Create(ctx, c.owner, c.repo, &gh.NewPullRequest{
		Title: gh.String(title),
		Body:  gh.String(body),
		Head:  gh.String(branch),
		Base:  gh.String(base),
	})
	if err != nil {
		return nil, fmt.Errorf("creating pull request from %s: %w", branch, err)
	}
	c.logger.Info("created pull request",
		zap.Int("number", pr.GetNumber()),
		zap.String("branch", branch),
	)
	return &PullRequest{
		Number: pr.GetNumber(),
		URL:    pr.GetHTMLURL(),
		Branch: branch,
	}, nil
}

func convertIssue(issue *gh.Issue) *Issue {
	return &Issue{
		Number: issue.GetNumber(),
		Title:  issue.GetTitle(),
		Body:   issue.GetBody(),
		State:  issue.GetState(),
		Author: issue.GetUser().GetLogin(),
	}
}

// FormatIssue renders an issue as the text block agents receive.
func FormatIssue(issue *Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Issue #%d: %s\n", issue.Number, issue.Title)
	fmt.Fprintf(&b, "State: %s\n", issue.State)
	if issue.Author != "" {
		fmt.Fprintf(&b, "Author: %s\n", issue.Author)
	}
	b.WriteString("\n")
	b.WriteString(issue.Body)
	return b.String()
}
