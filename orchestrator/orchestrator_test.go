// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-github/v65/github"
	"github.com/microsoft/mergebot/companion"
	"github.com/microsoft/mergebot/domain"
	"github.com/microsoft/mergebot/gitcmd"
	"github.com/microsoft/mergebot/mergeability"
	"github.com/microsoft/mergebot/mergestore"
)

type fakeGitHub struct {
	prs       map[string]companion.PRInfo
	merged    map[string]bool
	mergeErr  error
	comments  []string
	mergeCall int
}

func prKey(owner, repo string, number int) string {
	return fmt.Sprintf("%s/%s#%d", owner, repo, number)
}

func (f *fakeGitHub) FetchPR(ctx context.Context, owner, repo string, number int) (companion.PRInfo, error) {
	pr, ok := f.prs[prKey(owner, repo, number)]
	if !ok {
		return companion.PRInfo{}, fmt.Errorf("no such pr %s", prKey(owner, repo, number))
	}
	return pr, nil
}

func (f *fakeGitHub) Merge(ctx context.Context, owner, repo string, number int, commitMessage string) (*github.PullRequestMergeResult, error) {
	f.mergeCall++
	if f.mergeErr != nil {
		return nil, f.mergeErr
	}
	merged := true
	f.merged[prKey(owner, repo, number)] = true
	return &github.PullRequestMergeResult{Merged: &merged}, nil
}

func (f *fakeGitHub) PostComment(ctx context.Context, owner, repo string, number int, body string) error {
	f.comments = append(f.comments, body)
	return nil
}

func (f *fakeGitHub) CloneURL(owner, repo string) string     { return "https://github.com/" + owner + "/" + repo + ".git" }
func (f *fakeGitHub) ForkCloneURL(contributor, repo string) string {
	return "https://github.com/" + contributor + "/" + repo + ".git"
}
func (f *fakeGitHub) Credential(ctx context.Context) (gitcmd.Credential, error) {
	return gitcmd.Credential{Secret: "test-token"}, nil
}

func readyPR(owner, repo string, number int) companion.PRInfo {
	return companion.PRInfo{
		Owner: owner, Repo: repo, Number: number, SHA: fmt.Sprintf("sha-%d", number),
		HtmlUrl: fmt.Sprintf("https://github.com/%s/%s/pull/%d", owner, repo, number),
		HeadRepoIsUserOwned: true, MaintainerCanModify: true, Mergeable: true,
		HeadOwner: "contrib", BaseOwner: owner,
	}
}

func newTestEngine(t *testing.T, gh *fakeGitHub, statusState string) *Engine {
	t.Helper()
	store, err := mergestore.Open(filepath.Join(t.TempDir(), "merge.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ws := gitcmd.NewWorkspace(t.TempDir())
	checker := &mergeability.Checker{Fetcher: fakeStatusFetcher{state: statusState}}
	return NewEngine(store, ws, gh, checker, Config{
		DefaultBranch:    "main",
		SettleDelay:      time.Millisecond,
		LockfilePath:     "Cargo.lock",
		MergeRetryBudget: 3,
	})
}

type fakeStatusFetcher struct{ state string }

func (f fakeStatusFetcher) CombinedStatus(context.Context, string, string, string) (*github.CombinedStatus, error) {
	state := f.state
	return &github.CombinedStatus{State: &state}, nil
}
func (f fakeStatusFetcher) CheckRuns(context.Context, string, string, string) ([]*github.CheckRun, error) {
	return nil, nil
}
func (f fakeStatusFetcher) Reviews(context.Context, string, string, int) ([]*github.PullRequestReview, error) {
	return nil, nil
}

func TestHandleCommandMergesReadyPR(t *testing.T) {
	pr := readyPR("org", "substrate", 1)
	gh := &fakeGitHub{prs: map[string]companion.PRInfo{prKey("org", "substrate", 1): pr}, merged: map[string]bool{}}
	e := newTestEngine(t, gh, "success")

	if err := e.HandleCommand(context.Background(), pr, "alice", false); err != nil {
		t.Fatalf("HandleCommand: %v", err)
	}
	if gh.mergeCall != 1 {
		t.Fatalf("expected exactly one merge call, got %d", gh.mergeCall)
	}
	if _, ok, _ := e.Store.Get(pr.SHA); ok {
		t.Fatal("expected store entry to be cleared after merge")
	}
}

func TestHandleCommandStoresPendingRecord(t *testing.T) {
	pr := readyPR("org", "substrate", 2)
	gh := &fakeGitHub{prs: map[string]companion.PRInfo{prKey("org", "substrate", 2): pr}, merged: map[string]bool{}}
	e := newTestEngine(t, gh, "pending")

	if err := e.HandleCommand(context.Background(), pr, "alice", false); err != nil {
		t.Fatalf("HandleCommand: %v", err)
	}
	if gh.mergeCall != 0 {
		t.Fatalf("expected no merge call while pending, got %d", gh.mergeCall)
	}
	got, ok, err := e.Store.Get(pr.SHA)
	if err != nil || !ok {
		t.Fatalf("expected a stored pending record, ok=%v err=%v", ok, err)
	}
	wantKey := domain.Key{Owner: pr.Owner, Repo: pr.Repo, Number: pr.Number}
	if got.Key() != wantKey {
		t.Fatalf("stored record key mismatch: %v", got.Key())
	}
}

func TestHandleCommandForceSkipsPending(t *testing.T) {
	pr := readyPR("org", "substrate", 3)
	gh := &fakeGitHub{prs: map[string]companion.PRInfo{prKey("org", "substrate", 3): pr}, merged: map[string]bool{}}
	e := newTestEngine(t, gh, "pending")

	if err := e.HandleCommand(context.Background(), pr, "alice", true); err != nil {
		t.Fatalf("HandleCommand: %v", err)
	}
	if gh.mergeCall != 1 {
		t.Fatalf("expected force to skip the pending gate and merge, got %d merge calls", gh.mergeCall)
	}
}

func TestHandleCommandBlockedPostsFailureComment(t *testing.T) {
	pr := readyPR("org", "substrate", 4)
	pr.Mergeable = false
	gh := &fakeGitHub{prs: map[string]companion.PRInfo{prKey("org", "substrate", 4): pr}, merged: map[string]bool{}}
	e := newTestEngine(t, gh, "success")

	if err := e.HandleCommand(context.Background(), pr, "alice", false); err == nil {
		t.Fatal("expected HandleCommand to return an error for a blocked PR")
	}
	if len(gh.comments) != 1 {
		t.Fatalf("expected exactly one failure comment, got %d", len(gh.comments))
	}
	if _, ok, _ := e.Store.Get(pr.SHA); ok {
		t.Fatal("expected no store entry to survive a Failed transition")
	}
}

func TestHandleCommandForceNeverSkipsBlocked(t *testing.T) {
	pr := readyPR("org", "substrate", 5)
	pr.Mergeable = false
	gh := &fakeGitHub{prs: map[string]companion.PRInfo{prKey("org", "substrate", 5): pr}, merged: map[string]bool{}}
	e := newTestEngine(t, gh, "success")

	if err := e.HandleCommand(context.Background(), pr, "alice", true); err == nil {
		t.Fatal("expected force to still fail on a Blocked verdict")
	}
	if gh.mergeCall != 0 {
		t.Fatal("force must never bypass a Blocked (failure) gate")
	}
}

func TestHandleCheckEventIgnoresUnknownSHA(t *testing.T) {
	gh := &fakeGitHub{prs: map[string]companion.PRInfo{}, merged: map[string]bool{}}
	e := newTestEngine(t, gh, "success")
	if err := e.HandleCheckEvent(context.Background(), "org", "substrate", "deadbeef"); err != nil {
		t.Fatalf("expected unknown sha to be a no-op, got %v", err)
	}
}

func TestCancelRemovesStoreEntry(t *testing.T) {
	pr := readyPR("org", "substrate", 6)
	gh := &fakeGitHub{prs: map[string]companion.PRInfo{prKey("org", "substrate", 6): pr}, merged: map[string]bool{}}
	e := newTestEngine(t, gh, "pending")

	if err := e.HandleCommand(context.Background(), pr, "alice", false); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := e.Store.Get(pr.SHA); !ok {
		t.Fatal("expected a pending record before cancel")
	}
	if err := e.Cancel(context.Background(), "org", "substrate", 6); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := e.Store.Get(pr.SHA); ok {
		t.Fatal("expected store entry to be gone after Cancel")
	}
}

func TestMergeRetryBudgetExhausted(t *testing.T) {
	pr := readyPR("org", "substrate", 7)
	gh := &fakeGitHub{
		prs:      map[string]companion.PRInfo{prKey("org", "substrate", 7): pr},
		merged:   map[string]bool{},
		mergeErr: fmt.Errorf("405 base branch modified"),
	}
	e := newTestEngine(t, gh, "success")

	// Each merge attempt (rejected with base sha unchanged) re-queues the
	// record; a later check_run/status event re-drives the same attempt
	// counter through HandleCheckEvent rather than through a fresh command.
	lastErr := e.HandleCommand(context.Background(), pr, "alice", false)
	for i := 0; i < 2; i++ {
		lastErr = e.HandleCheckEvent(context.Background(), pr.Owner, pr.Repo, pr.SHA)
	}
	if lastErr == nil || !strings.Contains(lastErr.Error(), "exhausted retry budget") {
		t.Fatalf("expected budget exhaustion after 3 attempts, got %v", lastErr)
	}
	if _, ok, _ := e.Store.Get(pr.SHA); ok {
		t.Fatal("expected store entry to be cleared once the retry budget is exhausted")
	}
}
