// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package gitcmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/microsoft/mergebot/execshell"
	"github.com/microsoft/mergebot/keyedmutex"
)

// Credential pairs a URL-rewriting auther with the raw secret it embeds, so
// callers can pass the secret straight through to execshell's redaction
// list without the Workspace needing to know how any particular auth
// scheme is represented.
type Credential struct {
	Auther URLAuther
	// Secret is the literal token/PAT substring that Auther embeds into
	// URLs. Passed to execshell.Config.SecretsToHide on every remote-
	// touching step. Empty if the auther doesn't embed a secret (e.g. SSH).
	Secret string
}

func (c Credential) secrets() []string {
	if c.Secret == "" {
		return nil
	}
	return []string{c.Secret}
}

// Workspace maintains one persistent clone directory per owner/repo under
// Root, serializing all git operations against a given directory with a
// per-directory mutex (spec invariant I5).
type Workspace struct {
	Root  string
	locks *keyedmutex.Map
}

// NewWorkspace returns a Workspace rooted at root. It does not touch the
// filesystem; EnsureBaseClone creates missing directories under root.
func NewWorkspace(root string) *Workspace {
	return &Workspace{Root: root, locks: keyedmutex.NewMap()}
}

func (w *Workspace) dir(owner, repo string) string {
	return filepath.Join(w.Root, owner, repo)
}

// withLock runs f while holding the per-directory mutex for owner/repo.
func (w *Workspace) withLock(ctx context.Context, owner, repo string, f func(dir string) error) error {
	key := owner + "/" + repo
	unlock, err := w.locks.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("acquiring workspace lock for %s: %w", key, err)
	}
	defer unlock()
	return f(w.dir(owner, repo))
}

// EnsureBaseClone clones owner/repo into its workspace directory via
// tokenised HTTPS if the directory does not already exist; otherwise it is
// a no-op. Returns the directory.
func (w *Workspace) EnsureBaseClone(ctx context.Context, owner, repo, cloneURLTemplate string, cred Credential) (string, error) {
	var dir string
	err := w.withLock(ctx, owner, repo, func(d string) error {
		dir = d
		if _, statErr := os.Stat(filepath.Join(d, ".git")); statErr == nil {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(d), 0o755); err != nil {
			return fmt.Errorf("creating parent directory for %s/%s: %w", owner, repo, err)
		}
		authedURL := cred.Auther.InsertAuth(cloneURLTemplate)
		_, err := execshell.Run(ctx, "", execshell.Config{SecretsToHide: cred.secrets()},
			"git", "clone", authedURL, d)
		return err
	})
	return dir, err
}

// AttachContributorRemote (re)creates a remote named by the contributor's
// GitHub login pointing at their fork, embedding cred's credential in the
// remote URL. Later fetches and pushes through that remote reuse the stored
// URL; they do not re-insert auth.
func (w *Workspace) AttachContributorRemote(ctx context.Context, owner, repo, contributor, forkCloneURL string, cred Credential) error {
	return w.withLock(ctx, owner, repo, func(dir string) error {
		// Remove any stale remote of the same name; ignore failure, it may
		// not exist yet.
		_, _ = execshell.Run(ctx, dir, execshell.Config{AreErrorsSilenced: true}, "git", "remote", "remove", contributor)

		authedURL := cred.Auther.InsertAuth(forkCloneURL)
		_, err := execshell.Run(ctx, dir, execshell.Config{SecretsToHide: cred.secrets()},
			"git", "remote", "add", contributor, authedURL)
		return err
	})
}

// CheckoutPRBranch fetches contributor/branch, force-deletes any local
// branch of the same name (detaching HEAD first since the branch to delete
// may be currently checked out), and checks out a fresh tracking branch.
func (w *Workspace) CheckoutPRBranch(ctx context.Context, owner, repo, contributor, branch string, cred Credential) error {
	return w.withLock(ctx, owner, repo, func(dir string) error {
		if _, err := execshell.Run(ctx, dir, execshell.Config{SecretsToHide: cred.secrets()},
			"git", "fetch", contributor, branch); err != nil {
			return fmt.Errorf("fetching %s/%s: %w", contributor, branch, err)
		}
		if _, err := execshell.Run(ctx, dir, execshell.Config{}, "git", "checkout", "--detach", "HEAD"); err != nil {
			return fmt.Errorf("detaching HEAD: %w", err)
		}
		// Best-effort: the branch may not exist locally yet.
		_, _ = execshell.Run(ctx, dir, execshell.Config{AreErrorsSilenced: true}, "git", "branch", "-D", branch)

		if _, err := execshell.Run(ctx, dir, execshell.Config{}, "git", "checkout", "--track", "-b", branch, contributor+"/"+branch); err != nil {
			return fmt.Errorf("checking out %s/%s: %w", contributor, branch, err)
		}
		return nil
	})
}

// MergeUpstreamBase fetches the upstream default branch and merges it into
// the currently checked-out branch with --no-ff --no-edit. On conflict, the
// merge is aborted and an error returned.
func (w *Workspace) MergeUpstreamBase(ctx context.Context, owner, repo, defaultBranch string, cred Credential) error {
	return w.withLock(ctx, owner, repo, func(dir string) error {
		if _, err := execshell.Run(ctx, dir, execshell.Config{SecretsToHide: cred.secrets()},
			"git", "fetch", "origin", defaultBranch); err != nil {
			return fmt.Errorf("fetching origin/%s: %w", defaultBranch, err)
		}
		_, mergeErr := execshell.Run(ctx, dir, execshell.Config{}, "git", "merge", "--no-ff", "--no-edit", "origin/"+defaultBranch)
		if mergeErr != nil {
			_, _ = execshell.Run(ctx, dir, execshell.Config{AreErrorsSilenced: true}, "git", "merge", "--abort")
			return fmt.Errorf("merging origin/%s: %w", defaultBranch, mergeErr)
		}
		return nil
	})
}

// Push pushes the current HEAD to remote/branch and returns the new HEAD
// SHA as reported by rev-parse after the push.
func (w *Workspace) Push(ctx context.Context, owner, repo, remote, branch string, cred Credential) (string, error) {
	var sha string
	err := w.withLock(ctx, owner, repo, func(dir string) error {
		if _, err := execshell.Run(ctx, dir, execshell.Config{SecretsToHide: cred.secrets()},
			"git", "push", "--force", remote, "HEAD:"+branch); err != nil {
			return fmt.Errorf("pushing to %s/%s: %w", remote, branch, err)
		}
		out, err := execshell.Run(ctx, dir, execshell.Config{}, "git", "rev-parse", "HEAD")
		if err != nil {
			return fmt.Errorf("rev-parse HEAD after push: %w", err)
		}
		sha = strings.TrimSpace(out)
		return nil
	})
	return sha, err
}

// Dir returns the workspace directory for owner/repo without taking the
// lock. Callers doing read-only inspection after a locked operation (e.g.
// reading a file to hand to the Dependency Reference Rewriter) can use this
// directly; it is their responsibility not to race a concurrent writer.
func (w *Workspace) Dir(owner, repo string) string {
	return w.dir(owner, repo)
}
