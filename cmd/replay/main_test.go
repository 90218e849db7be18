package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReplayCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.ndjson")
	timeline := `{"at":"0s","segments":[{"id":"1","text":"where did the smuggler go?","user_id":"p1","final":true}]}
{"at":"5s","command":"/wake"}
`
	if err := os.WriteFile(path, []byte(timeline), 0o600); err != nil {
		t.Fatalf("write timeline: %v", err)
	}

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{path, "--no-color", "--tail", "30s", "--lexicon", ""})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	got := out.String()
	for _, want := range []string{"question [transcript]", "ACTIVE via command", "2 entries, 1 batches", "final: ACTIVE"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestReplayCommandReadsStdin(t *testing.T) {
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetIn(strings.NewReader(`{"at":"1s","command":"/wake"}` + "\n"))
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"-", "--json", "--tail", "0s", "--lexicon", ""})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out.String(), `"activation":"command"`) {
		t.Errorf("output = %s, want activation line", out.String())
	}
}

func TestReplayCommandMissingFile(t *testing.T) {
	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "nope.ndjson")})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for missing timeline")
	}
}
