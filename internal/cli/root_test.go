package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewRootCmd(t *testing.T) {
	cmd := NewRootCmd()

	if cmd.Use != "mixpipe" {
		t.Errorf("Use = %q, want %q", cmd.Use, "mixpipe")
	}

	want := []string{"init", "merge", "fit", "diagnose", "report", "optimize", "query", "runs", "doctor", "version", "completion"}
	have := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		have[sub.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("missing subcommand %q", name)
		}
	}

	for _, flag := range []string{"config", "data-dir", "artifacts-dir", "reports-dir", "state", "env", "service-url", "verbose"} {
		if cmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing persistent flag %q", flag)
		}
	}
}

func TestRootCmdVersion(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(buf.String(), "Built with Go and DuckDB") {
		t.Errorf("version output missing build line, got: %s", buf.String())
	}
}
