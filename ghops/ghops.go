// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package ghops wraps the go-github REST calls the merge bot's components
// share (fetch PR, combined status, check-runs, reviews, team membership,
// merge, comment) behind one retry-and-pagination-aware surface, built on
// githubutil.Retry/FetchEachPage rather than each caller re-implementing
// backoff.
package ghops

import (
	"context"
	"fmt"

	"github.com/google/go-github/v65/github"
	"github.com/microsoft/mergebot/companion"
	"github.com/microsoft/mergebot/gitcmd"
	"github.com/microsoft/mergebot/githubutil"
)

// Client adapts a *github.Client to the narrow interfaces the merge bot's
// components need.
type Client struct {
	GitHub *github.Client

	// Auther is the auther used to build GitHub; Credential derives the
	// git credential that the Git Workspace Manager embeds in remote URLs
	// from it.
	Auther githubutil.GitHubAPIAuther
	// SecretSource returns Auther's raw secret value, for execshell
	// redaction. Usually the same concrete value as Auther.
	SecretSource githubutil.SecretSource
}

// CloneURL returns the https clone URL for owner/repo.
func (c *Client) CloneURL(owner, repo string) string {
	return fmt.Sprintf("https://github.com/%s/%s.git", owner, repo)
}

// ForkCloneURL returns the https clone URL for a contributor's fork of
// repo. GitHub forks keep the upstream repo's name.
func (c *Client) ForkCloneURL(contributor, repo string) string {
	return c.CloneURL(contributor, repo)
}

// Credential mints a fresh gitcmd.Credential for use by the Git Workspace
// Manager. The orchestrator calls it once at the start of each update, and
// every git step of that update uses the returned credential.
func (c *Client) Credential(ctx context.Context) (gitcmd.Credential, error) {
	secret, err := c.SecretSource.Secret(ctx)
	if err != nil {
		return gitcmd.Credential{}, fmt.Errorf("minting git credential: %w", err)
	}
	auther := gitcmd.URLAuther(c.Auther)
	if _, isApp := c.Auther.(githubutil.GitHubAppAuther); isApp {
		// An App auther mints a new token on every InsertAuth call, which
		// would not be the secret minted here; embed this one instead.
		auther = githubutil.GitHubPATAuther{User: "x-access-token", PAT: secret}
	}
	return gitcmd.Credential{Auther: auther, Secret: secret}, nil
}

// FetchPR implements companion.Fetcher.
func (c *Client) FetchPR(ctx context.Context, owner, repo string, number int) (companion.PRInfo, error) {
	var pr *github.PullRequest
	if err := githubutil.Retry(func() error {
		var err error
		pr, _, err = c.GitHub.PullRequests.Get(ctx, owner, repo, number)
		return err
	}); err != nil {
		return companion.PRInfo{}, fmt.Errorf("fetching %s/%s#%d: %w", owner, repo, number, err)
	}
	return toPRInfo(pr), nil
}

func toPRInfo(pr *github.PullRequest) companion.PRInfo {
	headOwnerType := ""
	if pr.Head != nil && pr.Head.Repo != nil && pr.Head.Repo.Owner != nil {
		headOwnerType = pr.Head.Repo.Owner.GetType()
	}
	headOwner, baseOwner := "", ""
	if pr.Head != nil && pr.Head.Repo != nil && pr.Head.Repo.Owner != nil {
		headOwner = pr.Head.Repo.Owner.GetLogin()
	}
	if pr.Base != nil && pr.Base.Repo != nil && pr.Base.Repo.Owner != nil {
		baseOwner = pr.Base.Repo.Owner.GetLogin()
	}
	sha := ""
	if pr.Head != nil {
		sha = pr.Head.GetSHA()
	}
	return companion.PRInfo{
		Owner:               pr.Base.Repo.Owner.GetLogin(),
		Repo:                pr.Base.Repo.GetName(),
		Number:              pr.GetNumber(),
		HtmlUrl:             pr.GetHTMLURL(),
		SHA:                 sha,
		Merged:              pr.GetMerged(),
		Closed:              pr.GetState() == "closed",
		Body:                pr.GetBody(),
		HeadRepoIsUserOwned: headOwnerType == "User" || headOwnerType == "",
		MaintainerCanModify: pr.GetMaintainerCanModify(),
		HeadOwner:           headOwner,
		BaseOwner:           baseOwner,
		Mergeable:           pr.GetMergeable(),
	}
}

// CombinedStatus returns the combined status state ("success", "pending",
// "failure", "error") for a commit SHA.
func (c *Client) CombinedStatus(ctx context.Context, owner, repo, sha string) (*github.CombinedStatus, error) {
	var status *github.CombinedStatus
	err := githubutil.Retry(func() error {
		var err error
		status, _, err = c.GitHub.Repositories.GetCombinedStatus(ctx, owner, repo, sha, nil)
		return err
	})
	return status, err
}

// CheckRuns returns every check-run reported for a commit SHA, across all
// pages.
func (c *Client) CheckRuns(ctx context.Context, owner, repo, sha string) ([]*github.CheckRun, error) {
	var runs []*github.CheckRun
	err := githubutil.FetchEachPage(func(options github.ListOptions) (*github.Response, error) {
		result, resp, err := c.GitHub.Checks.ListCheckRunsForRef(ctx, owner, repo, sha, &github.ListCheckRunsOptions{
			ListOptions: options,
		})
		if err != nil {
			return nil, err
		}
		runs = append(runs, result.CheckRuns...)
		return resp, nil
	})
	return runs, err
}

// Reviews returns every review submitted on a PR.
func (c *Client) Reviews(ctx context.Context, owner, repo string, number int) ([]*github.PullRequestReview, error) {
	var reviews []*github.PullRequestReview
	err := githubutil.FetchEachPage(func(options github.ListOptions) (*github.Response, error) {
		result, resp, err := c.GitHub.PullRequests.ListReviews(ctx, owner, repo, number, &options)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, result...)
		return resp, nil
	})
	return reviews, err
}

// IsTeamMember reports whether user belongs to org/teamSlug.
func (c *Client) IsTeamMember(ctx context.Context, org, teamSlug, user string) (bool, error) {
	var isMember bool
	err := githubutil.Retry(func() error {
		membership, resp, err := c.GitHub.Teams.GetTeamMembershipBySlug(ctx, org, teamSlug, user)
		if resp != nil && resp.StatusCode == 404 {
			isMember = false
			return nil
		}
		if err != nil {
			return err
		}
		isMember = membership.GetState() == "active"
		return nil
	})
	return isMember, err
}

// Merge calls the GitHub merge PR endpoint. The returned error, if any,
// preserves the original *github.ErrorResponse so callers can detect a 405.
func (c *Client) Merge(ctx context.Context, owner, repo string, number int, commitMessage string) (*github.PullRequestMergeResult, error) {
	result, _, err := c.GitHub.PullRequests.Merge(ctx, owner, repo, number, commitMessage, nil)
	return result, err
}

// PostComment posts an issue comment on a PR (PRs are issues in the GitHub
// REST API).
func (c *Client) PostComment(ctx context.Context, owner, repo string, number int, body string) error {
	return githubutil.Retry(func() error {
		_, _, err := c.GitHub.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{Body: &body})
		return err
	})
}
