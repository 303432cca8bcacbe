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
		FuncName:    "cancel",
		FuncSummary: "Delete any stored merge request for a pull request, as if a 'cancel' comment had been posted.",
		FuncHandle:  handleCancel,
	})
}

func handleCancel(p subcmd.ParseFunc) error {
	flags := mbconfig.BindFlags()
	auth := githubutil.BindGitHubAuthFlags("")
	repo := githubutil.BindRepoFlag()
	number := flag.Int("number", 0, "[Required] The pull request number to cancel.")

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

	if err := a.Engine.Cancel(ctx, owner, name, *number); err != nil {
		return err
	}
	log.Printf("cancelled any stored merge request for %s/%s#%d", owner, name, *number)
	return nil
}
