// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package dispatch implements the Command Dispatcher: it recognizes
// "merge"/"merge force"/"cancel" in an issue comment's first line,
// authorizes the commenter, and seeds the orchestrator. Grounded on
// spec.md §4.9; the comment-prefix matching follows the same
// case-insensitive-first-token style as companion.parseLine.
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v65/github"
	"github.com/microsoft/mergebot/companion"
	"github.com/microsoft/mergebot/orchestrator"
)

// Command is a recognized dispatcher command.
type Command int

const (
	// CommandNone means the comment's first line didn't match any
	// recognized command; it is not an error, just silently ignored.
	CommandNone Command = iota
	CommandMerge
	CommandMergeForce
	CommandCancel
)

// ParseCommand inspects the first line of an issue comment body and
// returns the command it names, per spec.md §4.9's table. Matching is a
// case-insensitive prefix of the first line, ignoring leading/trailing
// whitespace.
func ParseCommand(body string) Command {
	firstLine := body
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		firstLine = body[:idx]
	}
	firstLine = strings.ToLower(strings.TrimSpace(firstLine))

	switch {
	case firstLine == "merge force" || strings.HasPrefix(firstLine, "merge force "):
		return CommandMergeForce
	case firstLine == "merge" || strings.HasPrefix(firstLine, "merge "):
		return CommandMerge
	case firstLine == "cancel" || strings.HasPrefix(firstLine, "cancel "):
		return CommandCancel
	default:
		return CommandNone
	}
}

// GitHub is the subset of GitHub operations the dispatcher needs to
// authorize a commenter and seed the orchestrator.
type GitHub interface {
	companion.Fetcher
	Reviews(ctx context.Context, owner, repo string, number int) ([]*github.PullRequestReview, error)
	IsTeamMember(ctx context.Context, org, teamSlug, user string) (bool, error)
	PostComment(ctx context.Context, owner, repo string, number int, body string) error
}

// TeamRef names an organization team whose members are authorized to
// issue merge commands, independent of PR review status.
type TeamRef struct {
	Org  string
	Slug string
}

// Dispatcher wires GitHub, a configured list of authorized teams, and the
// orchestrator Engine together.
type Dispatcher struct {
	GitHub          GitHub
	Engine          *orchestrator.Engine
	AuthorizedTeams []TeamRef
}

// HandleComment processes one issue_comment webhook delivery for a pull
// request comment.
func (d *Dispatcher) HandleComment(ctx context.Context, owner, repo string, number int, commenter, body string) error {
	cmd := ParseCommand(body)
	if cmd == CommandNone {
		return nil
	}

	authorized, err := d.authorize(ctx, owner, repo, number, commenter)
	if err != nil {
		return fmt.Errorf("authorizing %s on %s/%s#%d: %w", commenter, owner, repo, number, err)
	}
	if !authorized {
		return d.GitHub.PostComment(ctx, owner, repo, number,
			fmt.Sprintf("@%s is not authorized to issue merge-bot commands on this pull request.", commenter))
	}

	if cmd == CommandCancel {
		return d.Engine.Cancel(ctx, owner, repo, number)
	}

	pr, err := d.GitHub.FetchPR(ctx, owner, repo, number)
	if err != nil {
		return fmt.Errorf("fetching %s/%s#%d for dispatch: %w", owner, repo, number, err)
	}
	return d.Engine.HandleCommand(ctx, pr, commenter, cmd == CommandMergeForce)
}

// authorize implements spec.md §4.9: the commenter must either have an
// Approved review on the PR, or belong to one of the configured teams.
func (d *Dispatcher) authorize(ctx context.Context, owner, repo string, number int, commenter string) (bool, error) {
	reviews, err := d.GitHub.Reviews(ctx, owner, repo, number)
	if err != nil {
		return false, fmt.Errorf("listing reviews: %w", err)
	}
	for _, r := range reviews {
		if r.GetUser().GetLogin() == commenter && r.GetState() == "APPROVED" {
			return true, nil
		}
	}

	for _, team := range d.AuthorizedTeams {
		isMember, err := d.GitHub.IsTeamMember(ctx, team.Org, team.Slug, commenter)
		if err != nil {
			return false, fmt.Errorf("checking membership of %s/%s: %w", team.Org, team.Slug, err)
		}
		if isMember {
			return true, nil
		}
	}
	return false, nil
}
