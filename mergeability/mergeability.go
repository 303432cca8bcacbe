// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package mergeability aggregates a pull request's GitHub-reported signals
// — merged state, mergeable flag, head-fork ownership, required statuses,
// check-runs, and review approval — into a single tri-state verdict plus a
// list of blocking reasons. Grounded on the inline status/check-run polling
// in cmd/releasego/get-merged-pr-commit.go, factored into a standalone,
// directly testable function.
package mergeability

import (
	"context"
	"fmt"

	"github.com/google/go-github/v65/github"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/microsoft/mergebot/companion"
	"github.com/microsoft/mergebot/domain"
)

// Verdict is the outcome of a mergeability check.
type Verdict int

const (
	Ready Verdict = iota
	Pending
	Blocked
)

func (v Verdict) String() string {
	switch v {
	case Ready:
		return "ready"
	case Pending:
		return "pending"
	case Blocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// StatusAndChecksFetcher fetches the signals needed to evaluate a PR's
// required statuses, check-runs, and reviews.
type StatusAndChecksFetcher interface {
	CombinedStatus(ctx context.Context, owner, repo, sha string) (*github.CombinedStatus, error)
	CheckRuns(ctx context.Context, owner, repo, sha string) ([]*github.CheckRun, error)
	Reviews(ctx context.Context, owner, repo string, number int) ([]*github.PullRequestReview, error)
}

// Checker implements companion.MergeabilityChecker and the standalone
// Mergeability Checker component.
type Checker struct {
	Fetcher StatusAndChecksFetcher
	// RequireApprovedReview gates on at least one APPROVED review existing,
	// independent of Command Dispatcher authorization (which concerns who
	// may issue the merge command, not whether the PR itself has been
	// reviewed).
	RequireApprovedReview bool
}

// Check evaluates pr and returns a Verdict plus the reasons, if any, that
// block it. A nil/zero-value error indicates the fetch itself succeeded;
// Blocked verdicts are reported via reasons, not err.
func (c *Checker) Check(ctx context.Context, pr companion.PRInfo) (domain.Status, []string, error) {
	verdict, reasons, err := c.Evaluate(ctx, pr)
	if err != nil {
		return domain.StatusFailure, nil, err
	}
	switch verdict {
	case Ready:
		return domain.StatusSuccess, nil, nil
	case Pending:
		return domain.StatusPending, reasons, nil
	default:
		return domain.StatusFailure, reasons, nil
	}
}

// Evaluate runs every gate in spec.md §4.4's table and returns the
// strictest applicable verdict, with every accumulated blocking reason
// (not just the first) when Blocked.
func (c *Checker) Evaluate(ctx context.Context, pr companion.PRInfo) (Verdict, []string, error) {
	if pr.Merged {
		return Ready, nil, nil
	}
	if pr.Closed {
		return Blocked, []string{"pull request is closed without being merged"}, nil
	}

	var blocking *multierror.Error
	var pending bool

	if !pr.Mergeable {
		blocking = multierror.Append(blocking, fmt.Errorf("not mergeable (conflicts)"))
	}
	if !pr.HeadRepoIsUserOwned {
		blocking = multierror.Append(blocking, fmt.Errorf("head repository is not user-owned"))
	}
	if !pr.MaintainerCanModify && pr.HeadOwner != pr.BaseOwner {
		blocking = multierror.Append(blocking, fmt.Errorf("maintainer cannot modify and head/base owners differ"))
	}

	statusStatus, err := c.combinedStatusState(ctx, pr)
	if err != nil {
		return Blocked, nil, err
	}
	switch statusStatus {
	case domain.StatusPending:
		pending = true
	case domain.StatusFailure:
		blocking = multierror.Append(blocking, fmt.Errorf("one or more required statuses failed"))
	}

	checksStatus, err := c.checkRunsState(ctx, pr)
	if err != nil {
		return Blocked, nil, err
	}
	switch checksStatus {
	case domain.StatusPending:
		pending = true
	case domain.StatusFailure:
		blocking = multierror.Append(blocking, fmt.Errorf("one or more required checks failed"))
	}

	if c.RequireApprovedReview {
		approved, err := c.hasApprovedReview(ctx, pr)
		if err != nil {
			return Blocked, nil, err
		}
		if !approved {
			blocking = multierror.Append(blocking, fmt.Errorf("no approved review"))
		}
	}

	if blocking.ErrorOrNil() != nil {
		reasons := make([]string, len(blocking.Errors))
		for i, e := range blocking.Errors {
			reasons[i] = e.Error()
		}
		return Blocked, reasons, nil
	}
	if pending {
		return Pending, []string{"waiting on required statuses or checks"}, nil
	}
	return Ready, nil, nil
}

func (c *Checker) combinedStatusState(ctx context.Context, pr companion.PRInfo) (domain.Status, error) {
	status, err := c.Fetcher.CombinedStatus(ctx, pr.Owner, pr.Repo, pr.SHA)
	if err != nil {
		return domain.StatusFailure, fmt.Errorf("fetching combined status for %s: %w", pr.SHA, err)
	}
	switch status.GetState() {
	case "success":
		return domain.StatusSuccess, nil
	case "pending":
		return domain.StatusPending, nil
	default:
		return domain.StatusFailure, nil
	}
}

func (c *Checker) checkRunsState(ctx context.Context, pr companion.PRInfo) (domain.Status, error) {
	runs, err := c.Fetcher.CheckRuns(ctx, pr.Owner, pr.Repo, pr.SHA)
	if err != nil {
		return domain.StatusFailure, fmt.Errorf("fetching check runs for %s: %w", pr.SHA, err)
	}
	result := domain.StatusSuccess
	for _, run := range runs {
		switch run.GetStatus() {
		case "completed":
			switch run.GetConclusion() {
			case "success", "neutral", "skipped":
				// No-op: already the best possible state.
			case "failure", "timed_out", "cancelled", "action_required":
				result = domain.Worse(result, domain.StatusFailure)
			default:
				result = domain.Worse(result, domain.StatusPending)
			}
		default:
			result = domain.Worse(result, domain.StatusPending)
		}
	}
	return result, nil
}

func (c *Checker) hasApprovedReview(ctx context.Context, pr companion.PRInfo) (bool, error) {
	reviews, err := c.Fetcher.Reviews(ctx, pr.Owner, pr.Repo, pr.Number)
	if err != nil {
		return false, fmt.Errorf("fetching reviews for %s/%s#%d: %w", pr.Owner, pr.Repo, pr.Number, err)
	}
	// Only the latest review per user counts; GitHub returns them in
	// submission order so the last entry per login wins.
	latest := map[string]string{}
	for _, r := range reviews {
		latest[r.GetUser().GetLogin()] = r.GetState()
	}
	for _, state := range latest {
		if state == "APPROVED" {
			return true, nil
		}
	}
	return false, nil
}
