package project

import (
	"os"
	"path/filepath"
	"testing"
)

func writeProfiles(t *testing.T, homeDir, content string) {
	t.Helper()
	dbtDir := filepath.Join(homeDir, ".dbt")
	if err := os.MkdirAll(dbtDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dbtDir, "profiles.yml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestAdapterTypeDefaultTarget(t *testing.T) {
	home := t.TempDir()
	writeProfiles(t, home, `
warehouse:
  target: dev
  outputs:
    dev:
      type: snowflake
    prod:
      type: postgres
`)
	p := &Project{File: "dbt_project.yml", Profile: "warehouse"}

	adapter, reason, err := p.AdapterType(home, "")
	if err != nil {
		t.Fatal(err)
	}
	if reason != "" {
		t.Errorf("reason = %q, want empty", reason)
	}
	if adapter != "snowflake" {
		t.Errorf("adapter = %q, want snowflake", adapter)
	}
}

func TestAdapterTypeExplicitTarget(t *testing.T) {
	home := t.TempDir()
	writeProfiles(t, home, `
warehouse:
  target: dev
  outputs:
    dev:
      type: snowflake
    prod:
      type: postgres
`)
	p := &Project{File: "dbt_project.yml", Profile: "warehouse"}

	adapter, _, err := p.AdapterType(home, "prod")
	if err != nil {
		t.Fatal(err)
	}
	if adapter != "postgres" {
		t.Errorf("adapter = %q, want postgres", adapter)
	}
}

func TestAdapterTypeUndetermined(t *testing.T) {
	tests := []struct {
		name     string
		profile  string
		profiles string
		target   string
	}{
		{name: "no profile in project", profile: "", profiles: "warehouse: {}\n"},
		{name: "profile missing from profiles.yml", profile: "other", profiles: "warehouse: {}\n"},
		{name: "no default target", profile: "warehouse", profiles: "warehouse:\n  outputs:\n    dev:\n      type: postgres\n"},
		{name: "unknown target", profile: "warehouse", profiles: "warehouse:\n  target: dev\n  outputs:\n    dev:\n      type: postgres\n", target: "staging"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := t.TempDir()
			writeProfiles(t, home, tt.profiles)
			p := &Project{File: "dbt_project.yml", Profile: tt.profile}

			adapter, reason, err := p.AdapterType(home, tt.target)
			if err != nil {
				t.Fatal(err)
			}
			if adapter != "" {
				t.Errorf("adapter = %q, want empty", adapter)
			}
			if reason == "" {
				t.Error("reason is empty, want an explanation")
			}
		})
	}
}

func TestAdapterTypeMissingProfilesFile(t *testing.T) {
	p := &Project{File: "dbt_project.yml", Profile: "warehouse"}
	adapter, reason, err := p.AdapterType(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	if adapter != "" || reason == "" {
		t.Errorf("adapter=%q reason=%q", adapter, reason)
	}
}

func TestAdapterTypeNormalizes(t *testing.T) {
	home := t.TempDir()
	writeProfiles(t, home, `
warehouse:
  target: dev
  outputs:
    dev:
      type: SQL_Server
`)
	p := &Project{File: "dbt_project.yml", Profile: "warehouse"}

	adapter, _, err := p.AdapterType(home, "")
	if err != nil {
		t.Fatal(err)
	}
	if adapter != "sql-server" {
		t.Errorf("adapter = %q, want sql-server", adapter)
	}
}
