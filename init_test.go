package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// TestApplySectionCreate verifies that applySection on empty content wraps the
// section in sentinels with a trailing newline.
func TestApplySectionCreate(t *testing.T) {
	t.Parallel()
	section := sentinelStart + "\nbody: 1\n" + sentinelEnd
	got := applySection("", section)
	if !strings.Contains(got, sentinelStart) {
		t.Error("missing sentinel start")
	}
	if !strings.Contains(got, sentinelEnd) {
		t.Error("missing sentinel end")
	}
	if !strings.HasSuffix(got, sentinelEnd+"\n") {
		t.Errorf("missing trailing newline:\n%q", got)
	}
}

// TestApplySectionAppend verifies that existing content without a sentinel block
// is preserved and the section is appended.
func TestApplySectionAppend(t *testing.T) {
	t.Parallel()
	existing := "# team settings\nworkers: 4\n"
	section := sentinelStart + "\nformat: diff\n" + sentinelEnd
	got := applySection(existing, section)

	if !strings.HasPrefix(got, existing) {
		t.Errorf("existing content should be preserved at start:\n%s", got)
	}
	if !strings.Contains(got, "format: diff") {
		t.Error("new content missing")
	}
}

// TestApplySectionUpdate verifies that an existing sentinel block is replaced
// precisely, leaving surrounding content intact.
func TestApplySectionUpdate(t *testing.T) {
	t.Parallel()
	before := "workers: 4\n\n"
	after := "\n\ndry_run: true\n"
	old := before + sentinelStart + "\nformat: toon\n" + sentinelEnd + after

	section := sentinelStart + "\nformat: diff\n" + sentinelEnd
	got := applySection(old, section)

	if !strings.HasPrefix(got, before) {
		t.Errorf("content before sentinel should be preserved:\n%s", got)
	}
	if !strings.HasSuffix(got, after) {
		t.Errorf("content after sentinel should be preserved:\n%s", got)
	}
	if strings.Contains(got, "format: toon") {
		t.Error("old content should be replaced")
	}
	if !strings.Contains(got, "format: diff") {
		t.Error("new content missing")
	}
}

// TestGenerateSectionJava verifies the Java block is valid YAML and asks for
// the flag name the built-in rules need.
func TestGenerateSectionJava(t *testing.T) {
	t.Parallel()
	section, err := generateSection("java")
	if err != nil {
		t.Fatalf("generateSection: %v", err)
	}

	var doc struct {
		Language      string            `yaml:"language"`
		Format        string            `yaml:"format"`
		Substitutions map[string]string `yaml:"substitutions"`
	}
	if err := yaml.Unmarshal([]byte(section), &doc); err != nil {
		t.Fatalf("section is not YAML: %v\n%s", err, section)
	}
	if doc.Language != "java" {
		t.Errorf("language = %q", doc.Language)
	}
	if doc.Format != "toon" {
		t.Errorf("format = %q", doc.Format)
	}
	if _, ok := doc.Substitutions["stale_flag_name"]; !ok {
		t.Errorf("missing stale_flag_name substitution:\n%s", section)
	}
	// treated has a default in the rule set.
	if _, ok := doc.Substitutions["treated"]; ok {
		t.Error("treated should not be listed")
	}
	// flag_api is bound by the rule set itself.
	if _, ok := doc.Substitutions["flag_api"]; ok {
		t.Error("flag_api should not be listed")
	}
}

// TestGenerateSectionWithoutRules verifies languages without built-in rules
// get a block with no substitutions.
func TestGenerateSectionWithoutRules(t *testing.T) {
	t.Parallel()
	section, err := generateSection("ruby")
	if err != nil {
		t.Fatalf("generateSection: %v", err)
	}
	if strings.Contains(section, "substitutions:") {
		t.Errorf("unexpected substitutions:\n%s", section)
	}

	if _, err := generateSection("cobol"); err == nil {
		t.Error("expected error for unsupported language")
	}
}

// TestInitCreatesFile verifies that init creates the target file when it does
// not exist.
func TestInitCreatesFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, ".prune.yaml")

	var stdout, stderr bytes.Buffer
	if err := run([]string{"init", path}, &stdout, &stderr); err != nil {
		t.Fatalf("init: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("file not created: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, sentinelStart) {
		t.Error("sentinel start missing from created file")
	}
	if !strings.Contains(content, sentinelEnd) {
		t.Error("sentinel end missing from created file")
	}
	if !strings.Contains(stderr.String(), "wrote prune settings") {
		t.Errorf("stderr: %s", stderr.String())
	}
}

// TestInitDryRun verifies that --dry-run prints the full would-be file content
// to stdout and does not create or modify the target file.
func TestInitDryRun(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, ".prune.yaml")

	var stdout, stderr bytes.Buffer
	if err := run([]string{"init", "--dry-run", path}, &stdout, &stderr); err != nil {
		t.Fatalf("init: %v", err)
	}

	if _, err := os.Stat(path); err == nil {
		t.Error("--dry-run should not create the file")
	}
	out := stdout.String()
	if !strings.Contains(out, sentinelStart) {
		t.Error("dry-run output missing sentinel start")
	}
	if !strings.Contains(out, sentinelEnd) {
		t.Error("dry-run output missing sentinel end")
	}
}

// TestInitDryRunNoPath verifies that --dry-run without a path prints just the
// generated section to stdout without touching any file.
func TestInitDryRunNoPath(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	if err := run([]string{"init", "--dry-run"}, &stdout, &stderr); err != nil {
		t.Fatalf("init: %v", err)
	}

	out := stdout.String()
	if !strings.HasPrefix(out, sentinelStart) {
		t.Errorf("output should start with the section:\n%s", out)
	}
	if !strings.Contains(out, sentinelEnd) {
		t.Error("output missing sentinel end")
	}
}

// TestInitKeepsExistingSettings verifies that init preserves keys outside the
// managed block.
func TestInitKeepsExistingSettings(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, ".prune.yaml")

	existing := "# team settings\nworkers: 4\n"
	if err := os.WriteFile(path, []byte(existing), 0o644); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	if err := run([]string{"init", path}, &stdout, &stderr); err != nil {
		t.Fatalf("init: %v", err)
	}

	data, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(data), existing) {
		t.Errorf("existing settings lost:\n%s", data)
	}
}

// TestInitRejectsDuplicateKeys verifies that init refuses to produce a file
// in which the managed block repeats a key set outside it.
func TestInitRejectsDuplicateKeys(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, ".prune.yaml")

	existing := "language: kotlin\n"
	if err := os.WriteFile(path, []byte(existing), 0o644); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	if err := run([]string{"init", path}, &stdout, &stderr); err == nil {
		t.Fatal("expected an error for duplicate keys")
	}

	data, _ := os.ReadFile(path)
	if string(data) != existing {
		t.Error("file must not be modified on error")
	}
}

// TestInitIdempotent verifies that running init twice produces identical output.
func TestInitIdempotent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, ".prune.yaml")

	var buf bytes.Buffer
	if err := run([]string{"init", path}, &buf, &buf); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first, _ := os.ReadFile(path)

	if err := run([]string{"init", path}, &buf, &buf); err != nil {
		t.Fatalf("second run: %v", err)
	}
	second, _ := os.ReadFile(path)

	if string(first) != string(second) {
		t.Errorf("init is not idempotent:\nfirst:\n%s\nsecond:\n%s", first, second)
	}
}
