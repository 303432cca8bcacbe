// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package orchestrator implements the merge-request state machine: Idle ->
// Queued -> Updating -> AwaitingChecks -> Merging -> CompanionPush ->
// Done/Failed. It is shaped after sync.MakeBranchPRs's sequential,
// skip-reason-driven control flow, generalized from a single-shot batch
// script into a store-backed machine that can resume a PR left in a
// non-terminal state across a restart.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/go-github/v65/github"
	"github.com/google/uuid"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/microsoft/mergebot/companion"
	"github.com/microsoft/mergebot/domain"
	"github.com/microsoft/mergebot/gitcmd"
	"github.com/microsoft/mergebot/keyedmutex"
	"github.com/microsoft/mergebot/lockref"
	"github.com/microsoft/mergebot/mergeability"
	"github.com/microsoft/mergebot/mergestore"
)

// Sentinel error kinds, per spec.md §7's error taxonomy.
var (
	ErrMergeAPIRejected       = errors.New("merge api rejected the request")
	ErrHeadChanged            = errors.New("head sha changed since the update was pushed")
	ErrInvalidCompanionStatus = errors.New("companion gate did not pass")
	ErrUnauthorized           = errors.New("comment author is not authorized")
	ErrParseFailure           = errors.New("malformed pull request body or lockfile")
)

// GitHub is the subset of GitHub operations the orchestrator drives
// directly (beyond what companion.Fetcher/mergeability.StatusAndChecksFetcher
// already cover).
type GitHub interface {
	companion.Fetcher
	Merge(ctx context.Context, owner, repo string, number int, commitMessage string) (*github.PullRequestMergeResult, error)
	PostComment(ctx context.Context, owner, repo string, number int, body string) error
	CloneURL(owner, repo string) string
	ForkCloneURL(contributor, repo string) string
	Credential(ctx context.Context) (gitcmd.Credential, error)
}

// Config holds the tunables spec.md §6 lists under "Configuration".
type Config struct {
	DefaultBranch    string
	SettleDelay      time.Duration
	LockfilePath     string
	SourceURLPrefix  string
	SourceURLSuffix  string
	MergeRetryBudget int
}

// Engine ties the persistent store, the git workspace, GitHub operations,
// and the mergeability checker together into the state machine.
type Engine struct {
	Store        *mergestore.Store
	Workspace    *gitcmd.Workspace
	GitHub       GitHub
	Mergeability *mergeability.Checker
	Config       Config

	prLocks *keyedmutex.Map
}

// NewEngine wires an Engine from its collaborators.
func NewEngine(store *mergestore.Store, ws *gitcmd.Workspace, gh GitHub, checker *mergeability.Checker, cfg Config) *Engine {
	return &Engine{Store: store, Workspace: ws, GitHub: gh, Mergeability: checker, Config: cfg, prLocks: keyedmutex.NewMap()}
}

// HandleCommand is transition 1: a "merge"/"merge force" command was
// accepted by the Command Dispatcher for pr. force plumbs through
// "merge force" (skip Pending gates, never Failure ones, per the resolved
// Open Question (b)).
func (e *Engine) HandleCommand(ctx context.Context, pr companion.PRInfo, requestedBy string, force bool) error {
	return e.enqueue(ctx, pr, requestedBy, force, nil)
}

// enqueue builds a fresh MergeRequest for pr and advances it. deps seeds
// mr.Dependencies: nil for a directly-commanded PR, or the single upstream
// that discovered pr as a companion when called from pushCompanions.
func (e *Engine) enqueue(ctx context.Context, pr companion.PRInfo, requestedBy string, force bool, deps []domain.MergeRequestDependency) error {
	key := domain.Key{Owner: pr.Owner, Repo: pr.Repo, Number: pr.Number}
	unlock, err := e.prLocks.Lock(ctx, key.String())
	if err != nil {
		return err
	}
	defer unlock()

	mr := domain.MergeRequest{
		SHA:           pr.SHA,
		Owner:         pr.Owner,
		Repo:          pr.Repo,
		Number:        pr.Number,
		HtmlUrl:       pr.HtmlUrl,
		RequestedBy:   requestedBy,
		Force:         force,
		BaseSHA:       pr.SHA,
		CorrelationID: uuid.NewString(),
		Dependencies:  deps,
	}
	return e.advance(ctx, mr, pr)
}

// HandleCheckEvent is transition 2: an external check_run/status event
// arrived for sha. Unknown SHAs are ignored, per spec.md §4.8.
func (e *Engine) HandleCheckEvent(ctx context.Context, owner, repo, sha string) error {
	mr, ok, err := e.Store.Get(sha)
	if err != nil {
		return fmt.Errorf("looking up merge request for %s: %w", sha, err)
	}
	if !ok {
		return nil
	}

	key := domain.Key{Owner: owner, Repo: repo, Number: mr.Number}
	unlock, err := e.prLocks.Lock(ctx, key.String())
	if err != nil {
		return err
	}
	defer unlock()

	pr, err := e.GitHub.FetchPR(ctx, mr.Owner, mr.Repo, mr.Number)
	if err != nil {
		return fmt.Errorf("re-fetching %s after check event: %w", key, err)
	}
	return e.advance(ctx, mr, pr)
}

// Cancel removes any store entry for (owner, repo, number).
func (e *Engine) Cancel(ctx context.Context, owner, repo string, number int) error {
	key := domain.Key{Owner: owner, Repo: repo, Number: number}
	unlock, err := e.prLocks.Lock(ctx, key.String())
	if err != nil {
		return err
	}
	defer unlock()

	all, err := e.Store.Scan()
	if err != nil {
		return err
	}
	for _, mr := range all {
		if mr.Key() == key {
			return e.Store.Delete(mr.SHA)
		}
	}
	return nil
}

// ResumeAll is called at startup: every record left in the store when the
// process last exited is re-evaluated in case events were missed while it
// was down.
func (e *Engine) ResumeAll(ctx context.Context) error {
	all, err := e.Store.Scan()
	if err != nil {
		return err
	}
	var errs *multierror.Error
	for _, mr := range all {
		if err := e.HandleCheckEvent(ctx, mr.Owner, mr.Repo, mr.SHA); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("resuming %s: %w", mr.Key(), err))
		}
	}
	return errs.ErrorOrNil()
}

// advance drives mr through transitions 1-6 until it reaches a suspension
// point (Queued, AwaitingChecks) or a terminal state (Done, Failed). pr is
// the freshly fetched GitHub state for mr's (owner, repo, number).
func (e *Engine) advance(ctx context.Context, mr domain.MergeRequest, pr companion.PRInfo) error {
	// Cleanup: externally merged or closed.
	if pr.Merged {
		if err := e.Store.Delete(mr.SHA); err != nil {
			return err
		}
		return e.pushCompanions(ctx, mr, pr)
	}
	if pr.Closed {
		return e.fail(ctx, mr, "pull request was closed without being merged")
	}

	ready, err := companion.CheckAllCompanionsAreMergeable(ctx, e.GitHub, e.Mergeability, pr, pr.Body, nil)
	if err != nil {
		return e.fail(ctx, mr, err.Error())
	}

	verdict, reasons, err := e.Mergeability.Evaluate(ctx, pr)
	if err != nil {
		return fmt.Errorf("evaluating mergeability of %s: %w", mr.Key(), err)
	}
	if !ready && verdict == mergeability.Ready {
		verdict = mergeability.Pending
	}
	if mr.Force && verdict == mergeability.Pending {
		verdict = mergeability.Ready
	}

	switch verdict {
	case mergeability.Blocked:
		return e.fail(ctx, mr, fmt.Sprintf("%v", reasons))
	case mergeability.Pending:
		return e.Store.Put(mr)
	}

	if len(mr.Dependencies) > 0 && !mr.WasUpdated {
		return e.update(ctx, mr)
	}
	return e.merge(ctx, mr, pr)
}

// update is transition 3: run the Git Workspace Manager and Dependency
// Reference Rewriter for each dependency in order, push, wait the settle
// delay, and replace the store key.
func (e *Engine) update(ctx context.Context, mr domain.MergeRequest) error {
	cred, err := e.GitHub.Credential(ctx)
	if err != nil {
		return fmt.Errorf("minting credential for %s update: %w", mr.Key(), err)
	}

	dir, err := e.Workspace.EnsureBaseClone(ctx, mr.Owner, mr.Repo, e.GitHub.CloneURL(mr.Owner, mr.Repo), cred)
	if err != nil {
		return fmt.Errorf("cloning %s/%s: %w", mr.Owner, mr.Repo, err)
	}
	if err := e.Workspace.AttachContributorRemote(ctx, mr.Owner, mr.Repo, mr.RequestedBy, e.GitHub.ForkCloneURL(mr.RequestedBy, mr.Repo), cred); err != nil {
		return fmt.Errorf("attaching contributor remote for %s: %w", mr.Key(), err)
	}
	branch := fmt.Sprintf("pr-%d", mr.Number)
	if err := e.Workspace.CheckoutPRBranch(ctx, mr.Owner, mr.Repo, mr.RequestedBy, branch, cred); err != nil {
		return fmt.Errorf("checking out branch for %s: %w", mr.Key(), err)
	}
	if err := e.Workspace.MergeUpstreamBase(ctx, mr.Owner, mr.Repo, e.Config.DefaultBranch, cred); err != nil {
		return fmt.Errorf("merging upstream base for %s: %w", mr.Key(), err)
	}

	for _, dep := range mr.Dependencies {
		if err := lockref.Rewrite(ctx, dir, e.Config.LockfilePath, e.Config.SourceURLPrefix, e.Config.SourceURLSuffix, dep); err != nil {
			return fmt.Errorf("%w: %v", ErrParseFailure, err)
		}
	}

	newSHA, err := e.Workspace.Push(ctx, mr.Owner, mr.Repo, mr.RequestedBy, branch, cred)
	if err != nil {
		return fmt.Errorf("pushing update for %s: %w", mr.Key(), err)
	}

	log.Printf("[%s] pushed update for %s, waiting settle delay before re-checking\n", mr.CorrelationID, mr.Key())
	select {
	case <-time.After(e.Config.SettleDelay):
	case <-ctx.Done():
		// Persist so the next startup resumes from Queued at the old SHA;
		// the push already landed on GitHub regardless of our suspension.
		if perr := e.Store.Put(mr); perr != nil {
			return perr
		}
		return ctx.Err()
	}

	pr, err := e.GitHub.FetchPR(ctx, mr.Owner, mr.Repo, mr.Number)
	if err != nil {
		return fmt.Errorf("re-fetching %s after update: %w", mr.Key(), err)
	}
	if pr.SHA != newSHA {
		return e.fail(ctx, mr, fmt.Sprintf("%v: expected %s, actual %s", ErrHeadChanged, newSHA, pr.SHA))
	}

	oldSHA := mr.SHA
	mr.SHA = newSHA
	mr.BaseSHA = newSHA
	mr.WasUpdated = true
	if err := e.Store.Replace(oldSHA, mr); err != nil {
		return fmt.Errorf("replacing store key for %s: %w", mr.Key(), err)
	}
	return nil
}

// merge is transition 4: call the GitHub merge API, handling the 405/drift
// retry loop.
func (e *Engine) merge(ctx context.Context, mr domain.MergeRequest, pr companion.PRInfo) error {
	commitMsg := fmt.Sprintf("Merge pull request #%d", mr.Number)
	result, err := e.GitHub.Merge(ctx, mr.Owner, mr.Repo, mr.Number, commitMsg)
	if err == nil && result.GetMerged() {
		if derr := e.Store.Delete(mr.SHA); derr != nil {
			return derr
		}
		return e.pushCompanions(ctx, mr, pr)
	}

	// Treat any merge failure as a possible base-drift 405: re-fetch and
	// compare base SHA before giving up.
	refreshed, fetchErr := e.GitHub.FetchPR(ctx, mr.Owner, mr.Repo, mr.Number)
	if fetchErr != nil {
		return fmt.Errorf("%w: re-fetch after merge rejection failed: %v", ErrMergeAPIRejected, fetchErr)
	}
	if refreshed.SHA != mr.BaseSHA {
		mr.BaseSHA = refreshed.SHA
		mr.Attempt = 0
		mr.WasUpdated = false
		return e.update(ctx, mr)
	}

	mr.Attempt++
	if mr.Attempt < e.Config.MergeRetryBudget {
		if perr := e.Store.Put(mr); perr != nil {
			return perr
		}
		return fmt.Errorf("%w: attempt %d/%d, base sha unchanged", ErrMergeAPIRejected, mr.Attempt, e.Config.MergeRetryBudget)
	}
	return e.fail(ctx, mr, fmt.Sprintf("%v: exhausted retry budget", ErrMergeAPIRejected))
}

// pushCompanions is transition 5: for every companion named in the just-
// merged pr's own body, invoke the orchestrator recursively as if its
// merge had been commanded, seeding its Dependencies with mr itself, the
// upstream it must pin its lockfile against. Each companion's own merge
// triggers this same step again for whatever it names as a companion, so
// deeper chains cascade depth-first without building a flattened list up
// front. Failures are collected into one consolidated comment; the root
// is never rolled back.
func (e *Engine) pushCompanions(ctx context.Context, mr domain.MergeRequest, pr companion.PRInfo) error {
	refs := companion.ParseAllCompanions(nil, pr.Body)
	if len(refs) == 0 {
		return nil
	}

	parent := []domain.MergeRequestDependency{{Owner: mr.Owner, Repo: mr.Repo, Number: mr.Number}}

	var failures *multierror.Error
	for _, ref := range refs {
		companionPR, err := e.GitHub.FetchPR(ctx, ref.Owner, ref.Repo, ref.Number)
		if err != nil {
			failures = multierror.Append(failures, fmt.Errorf("fetching companion %s: %w", ref, err))
			continue
		}
		if companionPR.Merged {
			continue
		}
		if err := e.enqueue(ctx, companionPR, mr.RequestedBy, mr.Force, parent); err != nil {
			failures = multierror.Append(failures, fmt.Errorf("%s/%s#%d: %w", ref.Owner, ref.Repo, ref.Number, err))
		}
	}

	if failures.ErrorOrNil() != nil {
		body := renderCompanionFailureComment(mr, failures.Errors)
		if cerr := e.GitHub.PostComment(ctx, mr.Owner, mr.Repo, mr.Number, body); cerr != nil {
			log.Printf("[%s] failed to post consolidated companion failure comment: %v\n", mr.CorrelationID, cerr)
		}
	}
	return nil
}

// fail is the terminal Failed(reason) transition: remove the store entry
// and post exactly one user-visible comment.
func (e *Engine) fail(ctx context.Context, mr domain.MergeRequest, reason string) error {
	if err := e.Store.Delete(mr.SHA); err != nil {
		log.Printf("[%s] failed to clear store entry for %s on failure: %v\n", mr.CorrelationID, mr.Key(), err)
	}
	body := renderFailureComment(mr, reason)
	if err := e.GitHub.PostComment(ctx, mr.Owner, mr.Repo, mr.Number, body); err != nil {
		log.Printf("[%s] failed to post failure comment on %s: %v\n", mr.CorrelationID, mr.Key(), err)
	}
	return fmt.Errorf("%s: %s", mr.Key(), reason)
}
