// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package mergeability

import (
	"context"
	"testing"

	"github.com/google/go-github/v65/github"
	"github.com/microsoft/mergebot/companion"
)

type fakeFetcher struct {
	status    string
	checkRuns []*github.CheckRun
	reviews   []*github.PullRequestReview
}

func (f fakeFetcher) CombinedStatus(context.Context, string, string, string) (*github.CombinedStatus, error) {
	state := f.status
	return &github.CombinedStatus{State: &state}, nil
}

func (f fakeFetcher) CheckRuns(context.Context, string, string, string) ([]*github.CheckRun, error) {
	return f.checkRuns, nil
}

func (f fakeFetcher) Reviews(context.Context, string, string, int) ([]*github.PullRequestReview, error) {
	return f.reviews, nil
}

func mergeablePR() companion.PRInfo {
	return companion.PRInfo{
		Owner: "org", Repo: "substrate", Number: 1, SHA: "abc",
		HeadRepoIsUserOwned: true, MaintainerCanModify: true, Mergeable: true,
		HeadOwner: "contrib", BaseOwner: "org",
	}
}

func TestEvaluateReadyWhenAllGreen(t *testing.T) {
	c := &Checker{Fetcher: fakeFetcher{status: "success"}}
	v, reasons, err := c.Evaluate(context.Background(), mergeablePR())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != Ready {
		t.Fatalf("verdict = %v, reasons = %v, want Ready", v, reasons)
	}
}

func TestEvaluatePendingWhenStatusPending(t *testing.T) {
	c := &Checker{Fetcher: fakeFetcher{status: "pending"}}
	v, _, err := c.Evaluate(context.Background(), mergeablePR())
	if err != nil {
		t.Fatal(err)
	}
	if v != Pending {
		t.Fatalf("verdict = %v, want Pending", v)
	}
}

func TestEvaluateBlockedWhenNotMergeable(t *testing.T) {
	pr := mergeablePR()
	pr.Mergeable = false
	c := &Checker{Fetcher: fakeFetcher{status: "success"}}
	v, reasons, err := c.Evaluate(context.Background(), pr)
	if err != nil {
		t.Fatal(err)
	}
	if v != Blocked {
		t.Fatalf("verdict = %v, want Blocked", v)
	}
	if len(reasons) != 1 {
		t.Fatalf("expected 1 reason, got %v", reasons)
	}
}

func TestEvaluateAlreadyMergedIsReady(t *testing.T) {
	pr := mergeablePR()
	pr.Merged = true
	pr.Mergeable = false // shouldn't matter once merged
	c := &Checker{Fetcher: fakeFetcher{}}
	v, _, err := c.Evaluate(context.Background(), pr)
	if err != nil {
		t.Fatal(err)
	}
	if v != Ready {
		t.Fatalf("verdict = %v, want Ready for an already-merged PR", v)
	}
}

func TestEvaluateAccumulatesMultipleBlockingReasons(t *testing.T) {
	pr := mergeablePR()
	pr.Mergeable = false
	pr.HeadRepoIsUserOwned = false
	c := &Checker{Fetcher: fakeFetcher{status: "failure"}}
	v, reasons, err := c.Evaluate(context.Background(), pr)
	if err != nil {
		t.Fatal(err)
	}
	if v != Blocked {
		t.Fatalf("verdict = %v, want Blocked", v)
	}
	if len(reasons) < 3 {
		t.Fatalf("expected at least 3 accumulated reasons, got %v", reasons)
	}
}

func TestCheckRunFailureBlocks(t *testing.T) {
	failure := "failure"
	completed := "completed"
	pr := mergeablePR()
	c := &Checker{Fetcher: fakeFetcher{
		status:    "success",
		checkRuns: []*github.CheckRun{{Status: &completed, Conclusion: &failure}},
	}}
	v, _, err := c.Evaluate(context.Background(), pr)
	if err != nil {
		t.Fatal(err)
	}
	if v != Blocked {
		t.Fatalf("verdict = %v, want Blocked on failing check run", v)
	}
}
