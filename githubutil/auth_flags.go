// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package githubutil

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/go-github/v65/github"
)

// GitHubAuthFlags binds the command-line flags needed to authenticate to
// GitHub either as a PAT-holding user or as a GitHub App installation, and
// builds clients/authers from whichever set was actually filled in.
// Composes the existing Bind*Flag helpers into the single bundle
// cmd/mergebot's subcommands pass around, rather than each subcommand
// re-declaring the same four flags.
type GitHubAuthFlags struct {
	PAT               *string
	AppID             *int64
	AppInstallationID *int64
	AppPrivateKey     *string
}

// BindGitHubAuthFlags registers the PAT and GitHub App flags under their
// default names. prefix is not used: the flag names never change, so this
// can be called only once per flag set.
func BindGitHubAuthFlags(prefix string) *GitHubAuthFlags {
	return &GitHubAuthFlags{
		PAT:               BindPATFlag(),
		AppID:             BindAPPIDFlag(),
		AppInstallationID: BindAppInstallationFlag(),
		AppPrivateKey:     BindAppPrivateKeyFlag(),
	}
}

var errNoAppCredentials = errors.New("no GitHub App credentials specified")

// usingApp reports whether App-based flags were filled in.
func (f *GitHubAuthFlags) usingApp() bool {
	return *f.AppID != 0 && *f.AppInstallationID != 0 && *f.AppPrivateKey != ""
}

// NewAuther returns a GitHubAPIAuther built from whichever credential the
// user supplied: GitHub App flags take precedence over a PAT.
func (f *GitHubAuthFlags) NewAuther() (GitHubAPIAuther, error) {
	if f.usingApp() {
		return GitHubAppAuther{
			ClientID:       strconv.FormatInt(*f.AppID, 10),
			InstallationID: *f.AppInstallationID,
			PrivateKey:     *f.AppPrivateKey,
		}, nil
	}
	if *f.PAT == "" {
		return nil, errors.New("no GitHub PAT or App credentials specified")
	}
	return GitHubPATAuther{PAT: *f.PAT}, nil
}

// NewClient builds a *github.Client authenticated as whichever credential
// the user supplied.
func (f *GitHubAuthFlags) NewClient(ctx context.Context) (*github.Client, error) {
	if f.usingApp() {
		return NewInstallationClient(ctx, *f.AppID, *f.AppInstallationID, *f.AppPrivateKey)
	}
	return NewClient(ctx, *f.PAT)
}

// NewAppClient builds a *github.Client authenticated as the GitHub App
// installation itself, for app-level endpoints like Apps.Get.
func (f *GitHubAuthFlags) NewAppClient(ctx context.Context) (*github.Client, error) {
	if !f.usingApp() {
		return nil, errNoAppCredentials
	}
	return NewInstallationClient(ctx, *f.AppID, *f.AppInstallationID, *f.AppPrivateKey)
}
