package changesource

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/switchyard-ci/switchyard/internal/db"
)

// DefaultGitHubPollInterval is the default wait between branch polls.
const DefaultGitHubPollInterval = 2 * time.Minute

// pollPageSize bounds the number of commits examined per poll.
const pollPageSize = 100

// ghClient abstracts the GitHub API methods we use, enabling test mocks.
type ghClient interface {
	ListCommits(ctx context.Context, owner, repo string, opts *github.CommitsListOptions) ([]*github.RepositoryCommit, *github.Response, error)
	GetCommit(ctx context.Context, owner, repo, sha string, opts *github.ListOptions) (*github.RepositoryCommit, *github.Response, error)
}

// realGHClient wraps the go-github repositories service.
type realGHClient struct {
	client *github.Client
}

func (r *realGHClient) ListCommits(ctx context.Context, owner, repo string, opts *github.CommitsListOptions) ([]*github.RepositoryCommit, *github.Response, error) {
	return r.client.Repositories.ListCommits(ctx, owner, repo, opts)
}

func (r *realGHClient) GetCommit(ctx context.Context, owner, repo, sha string, opts *github.ListOptions) (*github.RepositoryCommit, *github.Response, error) {
	return r.client.Repositories.GetCommit(ctx, owner, repo, sha, opts)
}

// GitHubPollerOpts holds parameters for creating a GitHubPoller.
type GitHubPollerOpts struct {
	Store    *db.Store
	Recorder *Recorder
	Owner    string
	Repo     string
	Branch   string // defaults to "main"
	Token    string // optional; unauthenticated polling is rate-limited hard

	Category string
	Codebase string
	Project  string

	PollInterval time.Duration // ignored when CronExpr is set
	CronExpr     string        // optional 5-field cron schedule

	// For testing: inject a mock client instead of the real GitHub API.
	Client ghClient
}

// GitHubPoller watches one repository branch and records a change per new
// commit. The last seen commit is persisted per branch, so restarts resume
// where the previous run stopped instead of replaying history.
type GitHubPoller struct {
	store    *db.Store
	recorder *Recorder
	client   ghClient

	owner    string
	repo     string
	branch   string
	category string
	codebase string
	project  string

	interval time.Duration
	cronExpr string

	objectID int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewGitHubPoller validates opts and builds a poller.
func NewGitHubPoller(opts GitHubPollerOpts) (*GitHubPoller, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("changesource: store is required")
	}
	if opts.Recorder == nil {
		return nil, fmt.Errorf("changesource: recorder is required")
	}
	if opts.Owner == "" || opts.Repo == "" {
		return nil, fmt.Errorf("changesource: owner and repo are required")
	}
	if opts.CronExpr != "" && !ValidCronExpr(opts.CronExpr) {
		return nil, fmt.Errorf("changesource: invalid cron expression %q", opts.CronExpr)
	}

	branch := opts.Branch
	if branch == "" {
		branch = "main"
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultGitHubPollInterval
	}

	client := opts.Client
	if client == nil {
		httpClient := oauth2.NewClient(context.Background(), nil)
		if opts.Token != "" {
			src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
			httpClient = oauth2.NewClient(context.Background(), src)
		}
		client = &realGHClient{client: github.NewClient(httpClient)}
	}

	return &GitHubPoller{
		store:    opts.Store,
		recorder: opts.Recorder,
		client:   client,
		owner:    opts.Owner,
		repo:     opts.Repo,
		branch:   branch,
		category: opts.Category,
		codebase: opts.Codebase,
		project:  opts.Project,
		interval: interval,
		cronExpr: opts.CronExpr,
	}, nil
}

// Name identifies the poller as owner/repo@branch.
func (p *GitHubPoller) Name() string {
	return fmt.Sprintf("github:%s/%s@%s", p.owner, p.repo, p.branch)
}

// Start begins polling. The first poll runs immediately; it adopts the
// current branch head without recording changes for existing history.
func (p *GitHubPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("changesource: %s already started", p.Name())
	}

	objectID, err := p.store.GetObjectID(fmt.Sprintf("%s/%s", p.owner, p.repo), "GitHubPoller")
	if err != nil {
		return fmt.Errorf("changesource: object id for %s: %w", p.Name(), err)
	}
	p.objectID = objectID

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.loop(runCtx)
	return nil
}

// Stop halts polling and waits for an in-flight poll to finish.
func (p *GitHubPoller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done
}

func (p *GitHubPoller) loop(ctx context.Context) {
	defer close(p.done)

	if err := p.pollOnce(ctx); err != nil {
		log.Printf("changesource: %s: poll: %v", p.Name(), err)
	}

	for {
		wait := p.interval
		if p.cronExpr != "" {
			wait = nextCronDuration(p.cronExpr)
			if wait <= 0 {
				wait = p.interval
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			if err := p.pollOnce(ctx); err != nil {
				log.Printf("changesource: %s: poll: %v", p.Name(), err)
			}
		}
	}
}

// pollOnce fetches commits newer than the persisted last seen revision and
// records them oldest first. The last seen marker advances per recorded
// change, so a mid-poll failure resumes without duplicates.
func (p *GitHubPoller) pollOnce(ctx context.Context) error {
	commits, _, err := p.client.ListCommits(ctx, p.owner, p.repo, &github.CommitsListOptions{
		SHA:         p.branch,
		ListOptions: github.ListOptions{PerPage: pollPageSize},
	})
	if err != nil {
		return fmt.Errorf("list commits: %w", err)
	}
	if len(commits) == 0 {
		return nil
	}
	head := commits[0].GetSHA()

	stateKey := "last_seen:" + p.branch
	raw, err := p.store.GetState(p.objectID, stateKey, "")
	if err != nil {
		return fmt.Errorf("load last seen revision: %w", err)
	}
	lastSeen, _ := raw.(string)

	if lastSeen == "" {
		if err := p.store.SetState(p.objectID, stateKey, head); err != nil {
			return fmt.Errorf("adopt branch head: %w", err)
		}
		return nil
	}
	if lastSeen == head {
		return nil
	}

	// Commits arrive newest first; cut at the last seen revision and
	// replay the remainder in commit order.
	var fresh []*github.RepositoryCommit
	for _, c := range commits {
		if c.GetSHA() == lastSeen {
			break
		}
		fresh = append(fresh, c)
	}

	for i := len(fresh) - 1; i >= 0; i-- {
		if err := p.recordCommit(ctx, fresh[i]); err != nil {
			return err
		}
		if err := p.store.SetState(p.objectID, stateKey, fresh[i].GetSHA()); err != nil {
			return fmt.Errorf("advance last seen revision: %w", err)
		}
	}
	return nil
}

func (p *GitHubPoller) recordCommit(ctx context.Context, rc *github.RepositoryCommit) error {
	sha := rc.GetSHA()

	// The list endpoint omits file details; fetch the full commit.
	full, _, err := p.client.GetCommit(ctx, p.owner, p.repo, sha, &github.ListOptions{})
	if err != nil {
		return fmt.Errorf("get commit %s: %w", sha, err)
	}

	var files []string
	for _, f := range full.Files {
		files = append(files, f.GetFilename())
	}

	commit := full.GetCommit()
	author := commit.GetAuthor().GetName()
	if email := commit.GetAuthor().GetEmail(); email != "" {
		author = fmt.Sprintf("%s <%s>", author, email)
	}

	_, err = p.recorder.RecordChange(ChangeEntry{
		Author:     author,
		Committer:  commit.GetCommitter().GetName(),
		Revision:   sha,
		Branch:     sql.NullString{String: p.branch, Valid: true},
		Category:   p.category,
		Codebase:   p.codebase,
		Repository: fmt.Sprintf("https://github.com/%s/%s", p.owner, p.repo),
		Project:    p.project,
		Comments:   commit.GetMessage(),
		When:       commit.GetAuthor().GetDate().Time,
		Files:      files,
	})
	if err != nil {
		return err
	}
	return nil
}
