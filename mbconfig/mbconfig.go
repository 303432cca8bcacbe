// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package mbconfig loads the merge bot's YAML configuration file and binds
// its command-line flag overrides, the way sync.BindFlags/ReadConfig bind
// and load sync's JSON config, generalized from JSON to YAML and from a
// single flat struct to global-defaults-plus-per-repo-overrides merged
// with dario.cat/mergo.
package mbconfig

import (
	"flag"
	"fmt"
	"os"
	"time"

	"dario.cat/mergo"
	"go.yaml.in/yaml/v4"
)

// RepoRef names a GitHub repository.
type RepoRef struct {
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
}

// TeamRef names an organization team whose members are authorized to issue
// merge-bot commands.
type TeamRef struct {
	Org  string `yaml:"org"`
	Slug string `yaml:"slug"`
}

// RepoOverride holds per-repo settings that, when present, take precedence
// over Config's global defaults for that repo.
type RepoOverride struct {
	Repo             RepoRef       `yaml:"repo"`
	DefaultBranch    string        `yaml:"defaultBranch,omitempty"`
	SettleDelay      time.Duration `yaml:"settleDelay,omitempty"`
	LockfilePath     string        `yaml:"lockfilePath,omitempty"`
	MergeRetryBudget int           `yaml:"mergeRetryBudget,omitempty"`
}

// Config is the merge bot's full configuration: global defaults plus
// per-repo overrides and the companion/authorization policy.
type Config struct {
	// WorkspaceRoot is the directory under which the Git Workspace Manager
	// keeps one clone per owner/repo.
	WorkspaceRoot string `yaml:"workspaceRoot"`
	// DefaultBranch is the upstream branch merged into PR branches during
	// an update (spec.md §4.2's "configured default branch").
	DefaultBranch string `yaml:"defaultBranch"`
	// SettleDelay is how long the orchestrator waits after pushing an
	// update before re-checking mergeability.
	SettleDelay time.Duration `yaml:"settleDelay"`
	// SourceURLPrefix/SourceURLSuffix bound the lockfile "git = ..." URL
	// the Dependency Reference Rewriter matches against.
	SourceURLPrefix string `yaml:"sourceUrlPrefix"`
	SourceURLSuffix string `yaml:"sourceUrlSuffix"`
	// LockfilePath is the path, relative to a repo's root, of the
	// lockfile the Dependency Reference Rewriter edits.
	LockfilePath string `yaml:"lockfilePath"`
	// MergeRetryBudget is the number of merge attempts allowed per
	// unchanged base SHA before giving up (spec.md §4.8 transition 4).
	MergeRetryBudget int `yaml:"mergeRetryBudget"`
	// AuthorizedTeams lists the org/team pairs the Command Dispatcher
	// treats as authorized independent of PR review state.
	AuthorizedTeams []TeamRef `yaml:"authorizedTeams"`
	// MainRepos is the configuration-driven resolution of Open Question
	// (a): the list of "main" repositories, queryable through IsMainRepo.
	// The orchestrator does not consult it: companion references are
	// parsed and processed whether or not their repo is in this list.
	MainRepos []RepoRef `yaml:"mainRepos"`
	// Overrides lists per-repo settings that ForRepo merges over the
	// fields above for that repo. The engine wired by cmd/mergebot reads
	// only the global fields above and does not call ForRepo.
	Overrides []RepoOverride `yaml:"overrides"`
	// StorePath is the bbolt file path for the Merge-Request Store.
	StorePath string `yaml:"storePath"`
	// ListenAddr is the webhook HTTP server's bind address.
	ListenAddr string `yaml:"listenAddr"`
}

// Load reads and parses a YAML configuration file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file %q: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file %q: %w", path, err)
	}
	return cfg, nil
}

// IsMainRepo reports whether owner/repo is in the configured main-repos
// list (Open Question (a)).
func (c Config) IsMainRepo(owner, repo string) bool {
	for _, r := range c.MainRepos {
		if r.Owner == owner && r.Repo == repo {
			return true
		}
	}
	return false
}

// ForRepo returns the effective per-repo settings for owner/repo: the
// matching RepoOverride (if any) merged onto the global defaults, using
// dario.cat/mergo so only explicitly-set override fields take precedence.
func (c Config) ForRepo(owner, repo string) (RepoOverride, error) {
	effective := RepoOverride{
		Repo:             RepoRef{Owner: owner, Repo: repo},
		DefaultBranch:    c.DefaultBranch,
		SettleDelay:      c.SettleDelay,
		LockfilePath:     c.LockfilePath,
		MergeRetryBudget: c.MergeRetryBudget,
	}
	for _, o := range c.Overrides {
		if o.Repo.Owner == owner && o.Repo.Repo == repo {
			if err := mergo.Merge(&effective, o, mergo.WithOverride); err != nil {
				return RepoOverride{}, fmt.Errorf("merging override for %s/%s: %w", owner, repo, err)
			}
			break
		}
	}
	return effective, nil
}

// Flags are the command-line overrides bound on top of a loaded Config,
// mirroring the shape of sync.BindFlags: one *T per overridable setting,
// left at its zero value when the user doesn't pass it.
type Flags struct {
	ConfigPath       *string
	WorkspaceRoot    *string
	DefaultBranch    *string
	SettleDelay      *time.Duration
	MergeRetryBudget *int
	ListenAddr       *string
}

// BindFlags registers the merge bot's command-line flags and returns
// pointers to their values.
func BindFlags() *Flags {
	return &Flags{
		ConfigPath: flag.String("config", "mergebot.yaml", "Path to the merge bot's YAML configuration file."),
		WorkspaceRoot: flag.String(
			"workspace-root", "",
			"Directory to keep persistent per-repo git clones in. Overrides the config file's workspaceRoot."),
		DefaultBranch: flag.String(
			"default-branch", "",
			"Upstream branch to merge into PR branches during an update. Overrides the config file's defaultBranch."),
		SettleDelay: flag.Duration(
			"settle-delay", 0,
			"How long to wait after pushing a branch update before re-checking mergeability. Overrides the config file's settleDelay."),
		MergeRetryBudget: flag.Int(
			"merge-retry-budget", 0,
			"Number of merge attempts allowed per unchanged base sha. Overrides the config file's mergeRetryBudget."),
		ListenAddr: flag.String("listen", "", "Webhook HTTP server bind address. Overrides the config file's listenAddr."),
	}
}

// Apply overlays any non-zero flag values onto cfg, returning the merged
// result.
func (f *Flags) Apply(cfg Config) Config {
	if f.WorkspaceRoot != nil && *f.WorkspaceRoot != "" {
		cfg.WorkspaceRoot = *f.WorkspaceRoot
	}
	if f.DefaultBranch != nil && *f.DefaultBranch != "" {
		cfg.DefaultBranch = *f.DefaultBranch
	}
	if f.SettleDelay != nil && *f.SettleDelay != 0 {
		cfg.SettleDelay = *f.SettleDelay
	}
	if f.MergeRetryBudget != nil && *f.MergeRetryBudget != 0 {
		cfg.MergeRetryBudget = *f.MergeRetryBudget
	}
	if f.ListenAddr != nil && *f.ListenAddr != "" {
		cfg.ListenAddr = *f.ListenAddr
	}
	return cfg
}
