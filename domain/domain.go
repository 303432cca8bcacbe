// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package domain holds the data types shared across the merge bot's
// components: the persisted merge-request record, the lightweight PR
// references passed between the companion resolver and the orchestrator,
// and the tri-state status used to collapse GitHub signals.
package domain

import "fmt"

// Status is the collapsed result of one or more GitHub signals (required
// statuses, check-runs, or a combination of gates).
type Status int

const (
	StatusSuccess Status = iota
	StatusPending
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusPending:
		return "pending"
	case StatusFailure:
		return "failure"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Worse returns the more severe of two statuses, with Failure > Pending >
// Success. Used to fold a list of signals into one collapsed verdict.
func Worse(a, b Status) Status {
	if a == StatusFailure || b == StatusFailure {
		return StatusFailure
	}
	if a == StatusPending || b == StatusPending {
		return StatusPending
	}
	return StatusSuccess
}

// PullRequestDetails identifies a pull request by repository and number.
type PullRequestDetails struct {
	Owner  string
	Repo   string
	Number int
}

func (d PullRequestDetails) String() string {
	return fmt.Sprintf("%s/%s#%d", d.Owner, d.Repo, d.Number)
}

// PullRequestDetailsWithHtmlUrl extends PullRequestDetails with the URL the
// companion parser found or synthesised the reference from.
type PullRequestDetailsWithHtmlUrl struct {
	PullRequestDetails
	HtmlUrl string
}

// CompanionReferenceTrailItem is one step of the descent path used to break
// cycles during recursive companion discovery.
type CompanionReferenceTrailItem struct {
	Owner string
	Repo  string
}

// MergeRequestDependency is an upstream PR whose lockfile pin the dependent
// PR must be updated against before it can be considered for merge. A list
// of these is ordered deepest-upstream-first.
type MergeRequestDependency struct {
	Owner  string
	Repo   string
	Number int
}

// MergeRequest is the persisted record of a PR the bot has accepted a merge
// command for but has not yet fully resolved (merged, cancelled, or found
// externally closed). It is keyed in the store by SHA; see mergestore.
type MergeRequest struct {
	SHA         string
	Owner       string
	Repo        string
	Number      int
	HtmlUrl     string
	RequestedBy string
	WasUpdated  bool
	Dependencies []MergeRequestDependency

	// Attempt counts merge-retry attempts against the current BaseSHA,
	// reset whenever BaseSHA changes. Not part of spec.md's data model;
	// ambient bookkeeping for the retry budget in orchestrator transition 4.
	Attempt int
	// BaseSHA is the base branch SHA last observed for this merge attempt,
	// used to decide whether a 405 indicates real drift or a stale retry.
	BaseSHA string
	// CorrelationID ties together every log line emitted while processing
	// one merge attempt. Never used for business logic, only diagnostics.
	CorrelationID string
	// Force records whether this merge-request was queued by "merge force",
	// which skips Pending gates but never Failure ones.
	Force bool
}

// Key identifies the (owner, repo, number) a MergeRequest belongs to,
// independent of which SHA it is currently keyed by in the store. Invariant
// I1 is expressed in terms of this key: at most one record per Key.
type Key struct {
	Owner  string
	Repo   string
	Number int
}

func (m MergeRequest) Key() Key {
	return Key{Owner: m.Owner, Repo: m.Repo, Number: m.Number}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s#%d", k.Owner, k.Repo, k.Number)
}
