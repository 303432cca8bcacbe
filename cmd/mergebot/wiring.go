// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"context"
	"fmt"

	"github.com/microsoft/mergebot/dispatch"
	"github.com/microsoft/mergebot/gitcmd"
	"github.com/microsoft/mergebot/ghops"
	"github.com/microsoft/mergebot/githubutil"
	"github.com/microsoft/mergebot/mbconfig"
	"github.com/microsoft/mergebot/mergeability"
	"github.com/microsoft/mergebot/mergestore"
	"github.com/microsoft/mergebot/orchestrator"
)

// app bundles the components every subcommand needs, wired from a loaded
// mbconfig.Config and a set of GitHub auth flags.
type app struct {
	Config     mbconfig.Config
	GitHub     *ghops.Client
	Store      *mergestore.Store
	Engine     *orchestrator.Engine
	Dispatcher *dispatch.Dispatcher
}

func buildApp(ctx context.Context, cfg mbconfig.Config, auth *githubutil.GitHubAuthFlags) (*app, error) {
	client, err := auth.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("building github client: %w", err)
	}
	auther, err := auth.NewAuther()
	if err != nil {
		return nil, fmt.Errorf("building github auther: %w", err)
	}
	secretSource, ok := auther.(githubutil.SecretSource)
	if !ok {
		return nil, fmt.Errorf("auther %T does not expose a secret for git credential use", auther)
	}

	gh := &ghops.Client{GitHub: client, Auther: auther, SecretSource: secretSource}

	store, err := mergestore.Open(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("opening merge request store at %q: %w", cfg.StorePath, err)
	}

	ws := gitcmd.NewWorkspace(cfg.WorkspaceRoot)
	checker := &mergeability.Checker{Fetcher: gh, RequireApprovedReview: false}
	engine := orchestrator.NewEngine(store, ws, gh, checker, orchestrator.Config{
		DefaultBranch:    cfg.DefaultBranch,
		SettleDelay:      cfg.SettleDelay,
		LockfilePath:     cfg.LockfilePath,
		SourceURLPrefix:  cfg.SourceURLPrefix,
		SourceURLSuffix:  cfg.SourceURLSuffix,
		MergeRetryBudget: cfg.MergeRetryBudget,
	})

	var teams []dispatch.TeamRef
	for _, t := range cfg.AuthorizedTeams {
		teams = append(teams, dispatch.TeamRef{Org: t.Org, Slug: t.Slug})
	}
	dispatcher := &dispatch.Dispatcher{GitHub: gh, Engine: engine, AuthorizedTeams: teams}

	return &app{Config: cfg, GitHub: gh, Store: store, Engine: engine, Dispatcher: dispatcher}, nil
}

func loadConfig(flags *mbconfig.Flags) (mbconfig.Config, error) {
	cfg, err := mbconfig.Load(*flags.ConfigPath)
	if err != nil {
		return mbconfig.Config{}, err
	}
	return flags.Apply(cfg), nil
}
