package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsTrue(t *testing.T) {
	truthy := []string{"1", "true", "True", "TRUE", "yes", "y", "on", "enabled", "enable", "active", "t", " true "}
	for _, v := range truthy {
		if !IsTrue(v) {
			t.Errorf("IsTrue(%q) = false, want true", v)
		}
	}
	falsy := []string{"", "0", "false", "no", "off", "disabled", "maybe"}
	for _, v := range falsy {
		if IsTrue(v) {
			t.Errorf("IsTrue(%q) = true, want false", v)
		}
	}
}

func TestNewDefaults(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()

	env := New(work, map[string]string{}, home)

	if env.VenvsDir != filepath.Join(home, ".dbt", "versions") {
		t.Errorf("VenvsDir = %q", env.VenvsDir)
	}
	if env.GlobalVersionFile != filepath.Join(home, ".dbt", "version") {
		t.Errorf("GlobalVersionFile = %q", env.GlobalVersionFile)
	}
	if env.VenvsPrefix != "" {
		t.Errorf("VenvsPrefix = %q, want empty", env.VenvsPrefix)
	}
	if env.InProject() {
		t.Error("InProject() = true outside any dbt project")
	}
}

func TestNewOverrides(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	vars := map[string]string{
		VenvsDirVar:    "~/custom/venvs",
		VenvsPrefixVar: "team-",
		DebugVar:       "1",
		AutoInstallVar: "yes",
	}

	env := New(work, vars, home)

	if env.VenvsDir != filepath.Join(home, "custom", "venvs") {
		t.Errorf("VenvsDir = %q, want home expansion", env.VenvsDir)
	}
	if env.VenvsPrefix != "team-" {
		t.Errorf("VenvsPrefix = %q", env.VenvsPrefix)
	}
	if !env.Debug() {
		t.Error("Debug() = false")
	}
	if !env.AutoInstall() {
		t.Error("AutoInstall() = false")
	}
	if env.Quiet() {
		t.Error("Quiet() = true with no DBTENV_QUIET set")
	}
}

func TestNewFindsProject(t *testing.T) {
	root := t.TempDir()
	projectDir := filepath.Join(root, "analytics")
	nested := filepath.Join(projectDir, "models", "staging")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	projectFile := filepath.Join(projectDir, ProjectFile)
	if err := os.WriteFile(projectFile, []byte("name: analytics\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	env := New(nested, map[string]string{}, t.TempDir())

	if !env.InProject() {
		t.Fatal("InProject() = false, want true")
	}
	if env.ProjectFile != projectFile {
		t.Errorf("ProjectFile = %q, want %q", env.ProjectFile, projectFile)
	}
	if env.ProjectDir != projectDir {
		t.Errorf("ProjectDir = %q, want %q", env.ProjectDir, projectDir)
	}
}

func TestSearchUpward(t *testing.T) {
	sep := string(filepath.Separator)
	present := map[string]bool{
		filepath.Join(sep, "repo", ".dbt_version"): true,
	}
	exists := func(path string) bool { return present[path] }

	path, ok := SearchUpward(filepath.Join(sep, "repo", "models", "marts"), ".dbt_version", exists)
	if !ok {
		t.Fatal("SearchUpward found nothing")
	}
	if path != filepath.Join(sep, "repo", ".dbt_version") {
		t.Errorf("SearchUpward = %q", path)
	}

	if _, ok := SearchUpward(filepath.Join(sep, "elsewhere"), ".dbt_version", exists); ok {
		t.Error("SearchUpward found a file outside the synthetic tree")
	}
}

func TestPythonExplicit(t *testing.T) {
	env := New(t.TempDir(), map[string]string{PythonVar: "/opt/python3.9/bin/python"}, t.TempDir())
	python, err := env.Python()
	if err != nil {
		t.Fatal(err)
	}
	if python != "/opt/python3.9/bin/python" {
		t.Errorf("Python() = %q", python)
	}
}
