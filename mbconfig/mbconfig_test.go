// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package mbconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testConfigYAML = `
workspaceRoot: /var/lib/mergebot/work
defaultBranch: main
settleDelay: 30s
sourceUrlPrefix: "https://github.com/"
sourceUrlSuffix: ""
lockfilePath: Cargo.lock
mergeRetryBudget: 3
storePath: /var/lib/mergebot/merge.db
listenAddr: :8080
authorizedTeams:
  - org: dotnet
    slug: maintainers
mainRepos:
  - owner: dotnet
    repo: runtime
overrides:
  - repo: {owner: dotnet, repo: aspnetcore}
    defaultBranch: release/9.0
    mergeRetryBudget: 5
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mergebot.yaml")
	if err := os.WriteFile(path, []byte(testConfigYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadParsesConfig(t *testing.T) {
	cfg, err := Load(writeTestConfig(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultBranch != "main" {
		t.Fatalf("DefaultBranch = %q, want main", cfg.DefaultBranch)
	}
	if cfg.SettleDelay != 30*time.Second {
		t.Fatalf("SettleDelay = %v, want 30s", cfg.SettleDelay)
	}
	if len(cfg.MainRepos) != 1 || cfg.MainRepos[0].Repo != "runtime" {
		t.Fatalf("MainRepos = %+v", cfg.MainRepos)
	}
}

func TestIsMainRepo(t *testing.T) {
	cfg, err := Load(writeTestConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.IsMainRepo("dotnet", "runtime") {
		t.Fatal("expected dotnet/runtime to be a main repo")
	}
	if cfg.IsMainRepo("dotnet", "aspnetcore") {
		t.Fatal("aspnetcore was not configured as a main repo")
	}
}

func TestForRepoMergesOverride(t *testing.T) {
	cfg, err := Load(writeTestConfig(t))
	if err != nil {
		t.Fatal(err)
	}

	overridden, err := cfg.ForRepo("dotnet", "aspnetcore")
	if err != nil {
		t.Fatalf("ForRepo: %v", err)
	}
	if overridden.DefaultBranch != "release/9.0" {
		t.Fatalf("DefaultBranch = %q, want release/9.0", overridden.DefaultBranch)
	}
	if overridden.MergeRetryBudget != 5 {
		t.Fatalf("MergeRetryBudget = %d, want 5 (overridden)", overridden.MergeRetryBudget)
	}
	if overridden.LockfilePath != "Cargo.lock" {
		t.Fatalf("LockfilePath = %q, want inherited default Cargo.lock", overridden.LockfilePath)
	}

	plain, err := cfg.ForRepo("dotnet", "runtime")
	if err != nil {
		t.Fatal(err)
	}
	if plain.DefaultBranch != "main" {
		t.Fatalf("DefaultBranch = %q, want inherited default main for a repo with no override", plain.DefaultBranch)
	}
}

func TestFlagsApplyOverridesNonZeroFields(t *testing.T) {
	base := Config{WorkspaceRoot: "/default", DefaultBranch: "main", MergeRetryBudget: 3}
	root := "/flag-root"
	budget := 7
	f := &Flags{WorkspaceRoot: &root, MergeRetryBudget: &budget}

	merged := f.Apply(base)
	if merged.WorkspaceRoot != "/flag-root" {
		t.Fatalf("WorkspaceRoot = %q, want flag override", merged.WorkspaceRoot)
	}
	if merged.MergeRetryBudget != 7 {
		t.Fatalf("MergeRetryBudget = %d, want flag override", merged.MergeRetryBudget)
	}
	if merged.DefaultBranch != "main" {
		t.Fatalf("DefaultBranch = %q, want untouched default", merged.DefaultBranch)
	}
}
