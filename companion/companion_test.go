// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package companion

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/microsoft/mergebot/domain"
)

func TestParseAllCompanionsEmptyBody(t *testing.T) {
	if got := ParseAllCompanions(nil, ""); got != nil {
		t.Fatalf("expected no companions, got %v", got)
	}
}

func TestParseAllCompanionsLongForm(t *testing.T) {
	body := "companion: https://github.com/org/polkadot/pull/7"
	got := ParseAllCompanions(nil, body)
	if len(got) != 1 {
		t.Fatalf("expected 1 companion, got %v", got)
	}
	want := domain.PullRequestDetails{Owner: "org", Repo: "polkadot", Number: 7}
	if got[0].PullRequestDetails != want {
		t.Fatalf("got %+v, want %+v", got[0].PullRequestDetails, want)
	}
}

func TestParseAllCompanionsShortForm(t *testing.T) {
	got := ParseAllCompanions(nil, "companion org/polkadot#7")
	if len(got) != 1 || got[0].Number != 7 || got[0].Owner != "org" || got[0].Repo != "polkadot" {
		t.Fatalf("got %+v", got)
	}
}

func TestLongFormWinsOverShortOnSameLine(t *testing.T) {
	body := "companion org/other#3 https://github.com/org/polkadot/pull/7"
	got := ParseAllCompanions(nil, body)
	if len(got) != 1 {
		t.Fatalf("expected exactly one match (long wins), got %v", got)
	}
	if got[0].Repo != "polkadot" || got[0].Number != 7 {
		t.Fatalf("expected the long-form reference to win, got %+v", got[0])
	}
}

func TestCompanionForRejected(t *testing.T) {
	got := ParseAllCompanions(nil, "companion for org/polkadot#1")
	if len(got) != 0 {
		t.Fatalf("expected no match for 'companion for ...', got %v", got)
	}
}

func TestCompanionForAfterReferenceIsAccepted(t *testing.T) {
	got := ParseAllCompanions(nil, "companion: org/polkadot#1 needed for CI")
	if len(got) != 1 || got[0].Owner != "org" || got[0].Repo != "polkadot" || got[0].Number != 1 {
		t.Fatalf("expected the reference to parse despite a later 'for', got %v", got)
	}
}

func TestParseAllCompanionsExcludesTrail(t *testing.T) {
	trail := []domain.CompanionReferenceTrailItem{{Owner: "org", Repo: "polkadot"}}
	got := ParseAllCompanions(trail, "companion: https://github.com/org/polkadot/pull/7")
	if len(got) != 0 {
		t.Fatalf("expected trail to exclude already-visited repo, got %v", got)
	}
}

func TestParseAllCompanionsIdempotent(t *testing.T) {
	body := "companion: https://github.com/org/polkadot/pull/7\ncompanion org/other#3"
	first := ParseAllCompanions(nil, body)
	if len(first) != 2 {
		t.Fatalf("expected 2 companions, got %v", first)
	}
	second := ParseAllCompanions(nil, body)
	if len(second) != len(first) {
		t.Fatalf("parse not idempotent: %v vs %v", first, second)
	}
}

type fakeFetcher map[string]PRInfo

func (f fakeFetcher) FetchPR(_ context.Context, owner, repo string, number int) (PRInfo, error) {
	key := fmt.Sprintf("%s/%s#%d", owner, repo, number)
	pr, ok := f[key]
	if !ok {
		return PRInfo{}, errors.New("not found")
	}
	return pr, nil
}

type fakeChecker struct {
	status domain.Status
}

func (c fakeChecker) Check(_ context.Context, _ PRInfo) (domain.Status, []string, error) {
	return c.status, nil, nil
}

func TestCheckAllCompanionsAreMergeableCycle(t *testing.T) {
	// substrate#1 references polkadot#7; polkadot#7 references substrate#1.
	fetcher := fakeFetcher{
		"org/polkadot#7": {
			Owner: "org", Repo: "polkadot", Number: 7,
			HeadRepoIsUserOwned: true, MaintainerCanModify: true, Mergeable: true,
			HeadOwner: "contrib", BaseOwner: "org",
			Body: "companion: https://github.com/org/substrate/pull/1",
		},
	}
	root := PRInfo{Owner: "org", Repo: "substrate", Number: 1}
	ready, err := CheckAllCompanionsAreMergeable(context.Background(), fetcher, fakeChecker{status: domain.StatusSuccess},
		root, "companion: https://github.com/org/polkadot/pull/7", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ready {
		t.Fatal("expected ready=true once the cycle is pruned")
	}
}

func TestCheckAllCompanionsAreMergeablePending(t *testing.T) {
	fetcher := fakeFetcher{
		"org/polkadot#7": {
			Owner: "org", Repo: "polkadot", Number: 7,
			HeadRepoIsUserOwned: true, MaintainerCanModify: true, Mergeable: true,
			HeadOwner: "contrib", BaseOwner: "org",
		},
	}
	root := PRInfo{Owner: "org", Repo: "substrate", Number: 1}
	ready, err := CheckAllCompanionsAreMergeable(context.Background(), fetcher, fakeChecker{status: domain.StatusPending},
		root, "companion: https://github.com/org/polkadot/pull/7", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ready {
		t.Fatal("expected ready=false when a companion is pending")
	}
}
