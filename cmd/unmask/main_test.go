package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"unmasking/internal/config"
	"unmasking/internal/db"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Workspace = filepath.Join(t.TempDir(), "ws")
	cfg.DBFile = ""
	cfg.LogLevel = "error"
	return cfg
}

func execute(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(cfg)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestInfoOnEmptyWorkspace(t *testing.T) {
	cfg := testConfig(t)
	out, err := execute(t, cfg, "info")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if !strings.Contains(out, "no stored sessions") {
		t.Fatalf("expected empty listing, got %q", out)
	}
	if !strings.Contains(out, filepath.Join(cfg.Workspace, "db", "sessions.db")) {
		t.Fatalf("expected default database path, got %q", out)
	}
}

func TestWorks(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "study.yaml")
	writeFile(t, manifest, `
language: en
chunk_size: 20
metadata: infos.csv
base: [{author: twain, number: 1}, {author: twain, number: 2}]
calibration: [{author: austen, number: 1}]
disputed: [{author: twain, number: 2}]
`)
	writeFile(t, filepath.Join(dir, "infos.csv"), "twain;1;Mark Twain;Roughing It;1872;travel\n")
	text := strings.Repeat("It was a fine day, and we went down to the river. ", 12)
	for _, name := range []string{"twain1.txt", "twain2.txt", "austen1.txt"} {
		writeFile(t, filepath.Join(dir, name), text)
	}

	cfg := testConfig(t)
	out, err := execute(t, cfg, "works", "--manifest", manifest)
	if err != nil {
		t.Fatalf("works: %v", err)
	}
	for _, want := range []string{"Mark Twain, Roughing It (1872)", "base,disputed", "calibration", "components:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestVerifyReusesStoredCalibration(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "study.yaml")
	writeFile(t, manifest, `
language: en
chunk_size: 30
extractors: [punctuation, function_words, sentences]
base: [{author: wells, number: 1}, {author: wells, number: 2}]
calibration: [{author: shelley, number: 1}]
disputed: [{author: wells, number: 3}]
`)
	wells := strings.Repeat("Well, I said, it is late; we should go, should we not? And so, at last, we went. ", 12)
	shelley := strings.Repeat("The house stood on the hill. Nobody came to the door of the house. The wind was cold. ", 12)
	writeFile(t, filepath.Join(dir, "wells1.txt"), wells)
	writeFile(t, filepath.Join(dir, "wells2.txt"), "And so, at last, we went. "+wells)
	writeFile(t, filepath.Join(dir, "wells3.txt"), "Well, well. "+wells)
	writeFile(t, filepath.Join(dir, "shelley1.txt"), shelley)

	cfg := testConfig(t)
	if _, err := execute(t, cfg, "calibrate", "--manifest", manifest,
		"--step", "2", "--selections", "2", "--trials", "5", "--divisor", "4"); err != nil {
		t.Fatalf("calibrate: %v", err)
	}
	dbPath := filepath.Join(cfg.Workspace, "db", "sessions.db")
	before, err := db.ListSessions(dbPath)
	if err != nil || len(before) != 1 {
		t.Fatalf("expected one stored calibration, got %+v (%v)", before, err)
	}
	calibration := before[0]

	// The current step differs from the stored one; verify must follow the stored schedule.
	cfg.Step = 5
	out, err := execute(t, cfg, "verify", "--manifest", manifest)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if strings.Contains(out, "failed") {
		t.Fatalf("unexpected failure:\n%s", out)
	}

	after, err := db.ListSessions(dbPath)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(after) != 2 {
		t.Fatalf("expected calibration and verification, got %+v", after)
	}
	verification := after[0]
	if verification.ID == calibration.ID || verification.ParentID != calibration.ID || verification.Verdicts != 1 {
		t.Fatalf("unexpected verification row: %+v", verification)
	}
	if after[1] != calibration {
		t.Fatalf("calibration row changed: before %+v, after %+v", calibration, after[1])
	}
}

func TestRunNeedsManifest(t *testing.T) {
	cfg := testConfig(t)
	cfg.Manifest = ""
	_, err := execute(t, cfg, "run")
	if err == nil || !strings.Contains(err.Error(), "no manifest") {
		t.Fatalf("expected missing manifest error, got %v", err)
	}
}

func TestInvalidFlagValueIsRejected(t *testing.T) {
	cfg := testConfig(t)
	_, err := execute(t, cfg, "calibrate", "--balance", "oversample")
	if err == nil || !strings.Contains(err.Error(), "validate config") {
		t.Fatalf("expected validation error, got %v", err)
	}
}
