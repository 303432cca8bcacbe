// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package companion

import (
	"context"
	"fmt"

	"github.com/microsoft/mergebot/domain"
)

// PRInfo is the subset of a GitHub pull request's metadata the DAG resolver
// needs in order to apply the gate checks from parity-processbot's
// check_all_companions_are_mergeable, without depending on the go-github
// client types directly.
type PRInfo struct {
	Owner, Repo string
	Number      int
	HtmlUrl     string
	SHA         string

	Merged bool
	Closed bool
	Body   string

	// HeadRepoIsUserOwned is false when the PR's head fork belongs to an
	// organization or is otherwise not a plain user account; GitHub
	// forbids pushing to such forks' branches from outside collaborators.
	HeadRepoIsUserOwned bool
	MaintainerCanModify bool
	HeadOwner, BaseOwner string

	Mergeable bool
}

// Fetcher fetches a companion PR's current metadata.
type Fetcher interface {
	FetchPR(ctx context.Context, owner, repo string, number int) (PRInfo, error)
}

// MergeabilityChecker collapses a PR's required signals into a Status, per
// the Mergeability Checker component.
type MergeabilityChecker interface {
	Check(ctx context.Context, pr PRInfo) (domain.Status, []string, error)
}

// CheckAllCompanionsAreMergeable walks the companion DAG rooted at pr's
// body, depth-first, gating pr's own merge on the readiness of everything
// that names pr as an upstream. It does not report dependencies: pr's
// companions are dependents of pr, not the other way around, so none of
// what it discovers belongs in pr's own domain.MergeRequest.Dependencies.
// (The companion push step derives what each companion must pin from the
// DAG edge that discovered it, separately, after pr merges.)
//
// It returns (ready, err):
//
//   - ready=true, err=nil: every reachable unmerged companion is Ready.
//   - ready=false, err=nil: at least one companion is Pending; the caller
//     should requeue the root rather than fail it.
//   - err != nil: a companion is Blocked/Failure; the error is
//     user-visible and the caller should fail the root.
func CheckAllCompanionsAreMergeable(ctx context.Context, fetcher Fetcher, checker MergeabilityChecker, pr PRInfo, body string, trail []domain.CompanionReferenceTrailItem) (ready bool, err error) {
	refs := ParseAllCompanions(trail, body)
	if len(refs) == 0 {
		return true, nil
	}

	nextTrail := append(append([]domain.CompanionReferenceTrailItem{}, trail...),
		domain.CompanionReferenceTrailItem{Owner: pr.Owner, Repo: pr.Repo})

	for _, ref := range refs {
		companionPR, fetchErr := fetcher.FetchPR(ctx, ref.Owner, ref.Repo, ref.Number)
		if fetchErr != nil {
			return false, fmt.Errorf("fetching companion %s: %w", ref, fetchErr)
		}

		if companionPR.Merged {
			// Already merged: nothing further to validate, but still
			// descend into its body in case it names its own companions.
			childReady, err := CheckAllCompanionsAreMergeable(ctx, fetcher, checker, companionPR, companionPR.Body, nextTrail)
			if err != nil {
				return false, err
			}
			if !childReady {
				return false, nil
			}
			continue
		}

		if !companionPR.HeadRepoIsUserOwned {
			return false, fmt.Errorf("companion %s: head repository is not user-owned, cannot push lockfile update", ref)
		}
		if !companionPR.MaintainerCanModify && companionPR.HeadOwner != companionPR.BaseOwner {
			return false, fmt.Errorf("companion %s: maintainer cannot modify and head/base owners differ, bot cannot push", ref)
		}
		if !companionPR.Mergeable {
			return false, fmt.Errorf("companion %s: not mergeable", ref)
		}

		status, reasons, checkErr := checker.Check(ctx, companionPR)
		if checkErr != nil {
			return false, fmt.Errorf("checking companion %s mergeability: %w", ref, checkErr)
		}
		switch status {
		case domain.StatusPending:
			return false, nil
		case domain.StatusFailure:
			return false, fmt.Errorf("companion %s is blocked: %v", ref, reasons)
		}

		childReady, err := CheckAllCompanionsAreMergeable(ctx, fetcher, checker, companionPR, companionPR.Body, nextTrail)
		if err != nil {
			return false, err
		}
		if !childReady {
			return false, nil
		}
	}

	return true, nil
}
