// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/microsoft/mergebot/githubutil"
	"github.com/microsoft/mergebot/mbconfig"
	"github.com/microsoft/mergebot/subcmd"
)

func init() {
	subcommands = append(subcommands, subcmd.Func{
		FuncName:    "merge",
		FuncSummary: "Manually enqueue a merge command for a pull request, as if a 'merge' comment had been posted.",
		FuncHandle:  handleMerge,
	})
}

func handleMerge(p subcmd.ParseFunc) error {
	flags := mbconfig.BindFlags()
	auth := githubutil.BindGitHubAuthFlags("")
	repo := githubutil.BindRepoFlag()
	number := flag.Int("number", 0, "[Required] The pull request number to merge.")
	requestedBy := flag.String("requested-by", "", "[Required] The identity to record as having requested this merge.")
	force := flag.Bool("force", false, "Bypass pending CI gates (still blocked on failures), like 'merge force'.")

	if err := p(); err != nil {
		return err
	}
	owner, name, err := githubutil.ParseRepoFlag(repo)
	if err != nil {
		return err
	}
	if *number == 0 {
		return fmt.Errorf("-number is required")
	}
	if *requestedBy == "" {
		return fmt.Errorf("-requested-by is required")
	}

	ctx := context.Background()
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, auth)
	if err != nil {
		return err
	}
	defer a.Store.Close()

	pr, err := a.GitHub.FetchPR(ctx, owner, name, *number)
	if err != nil {
		return fmt.Errorf("fetching %s/%s#%d: %w", owner, name, *number, err)
	}
	if err := a.Engine.HandleCommand(ctx, pr, *requestedBy, *force); err != nil {
		return err
	}
	log.Printf("merge command accepted for %s/%s#%d", owner, name, *number)
	return nil
}
