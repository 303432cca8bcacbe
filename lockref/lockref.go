// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package lockref rewrites a dependent repository's lockfile so that a
// source entry for an upstream repo is pinned to a specific upstream PR's
// head ref instead of a branch name, then commits the change. This is what
// lets a companion PR's CI validate against the exact upstream commit the
// root PR was reviewed at, rather than a moving branch tip.
package lockref

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/microsoft/mergebot/domain"
	"github.com/microsoft/mergebot/execshell"
)

// entryPattern matches a Cargo.lock-style "[[source]]" stanza's git URL and
// branch/rev pin:
//
//	[[source]]
//	git = "https://github.com/org/substrate"
//	branch = "master"
//
// Capturing the git line lets Rewrite locate the stanza; the branch/rev
// line directly below it (allowing for either key) is replaced.
var entryPattern = regexp.MustCompile(`(?m)^git = "([^"]*)"\n(?:branch|rev) = "[^"]*"`)

// Rewrite edits every lockfile stanza in dir/lockfilePath whose git URL is
// urlPrefix+dep.Owner/dep.Repo+urlSuffix, replacing its branch/rev pin with
// rev = "refs/pulls/<dep.Number>/head". It requires at least one match
// (spec.md's "fails otherwise — prevents silent no-ops") and commits the
// result.
func Rewrite(ctx context.Context, dir, lockfilePath, urlPrefix, urlSuffix string, dep domain.MergeRequestDependency) error {
	path := filepath.Join(dir, lockfilePath)
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading lockfile %q: %w", path, err)
	}

	targetURL := urlPrefix + dep.Owner + "/" + dep.Repo + urlSuffix
	newPin := fmt.Sprintf("rev = %q", fmt.Sprintf("refs/pulls/%d/head", dep.Number))

	matched := 0
	rewritten := entryPattern.ReplaceAllFunc(content, func(stanza []byte) []byte {
		m := entryPattern.FindSubmatch(stanza)
		if m == nil || string(m[1]) != targetURL {
			return stanza
		}
		matched++
		return []byte(fmt.Sprintf("git = %q\n%s", targetURL, newPin))
	})
	if matched == 0 {
		return fmt.Errorf("no lockfile entries in %q matched %q: refusing silent no-op", path, targetURL)
	}

	if err := os.WriteFile(path, rewritten, 0o644); err != nil {
		return fmt.Errorf("writing lockfile %q: %w", path, err)
	}

	commitMsg := fmt.Sprintf("Pin %s/%s to PR #%d", dep.Owner, dep.Repo, dep.Number)
	if _, err := execshell.Run(ctx, dir, execshell.Config{}, "git", "add", lockfilePath); err != nil {
		return fmt.Errorf("staging lockfile: %w", err)
	}
	if _, err := execshell.Run(ctx, dir, execshell.Config{}, "git", "commit", "-m", commitMsg); err != nil {
		return fmt.Errorf("committing lockfile update: %w", err)
	}
	return nil
}
