// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"log"

	"github.com/microsoft/mergebot/subcmd"
)

const description = `
mergebot runs the automated GitHub merge bot: a webhook server that accepts
merge/merge-force/cancel commands on pull request comments, drives pull
requests through companion-dependency updates, and merges them once every
gate is green.
`

// subcommands is the list of subcommand options, populated by each file's init function.
var subcommands []subcmd.Option

func main() {
	if err := subcmd.Run("mergebot", description, subcommands); err != nil {
		log.Fatal(err)
	}
}
