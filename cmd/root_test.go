package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestFamiliesCommand(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"families"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	got := strings.Fields(out.String())
	want := []string{"organizations", "events", "participants", "profiles"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("families = %v, want %v", got, want)
	}
}

func TestCrawlCommandErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "no family", args: []string{"crawl"}, want: "accepts 1 arg"},
		{name: "missing config", args: []string{"crawl", "events", "--config", filepath.Join(t.TempDir(), "nope.yaml")}, want: "load config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			root := newRootCmd()
			root.SetOut(&bytes.Buffer{})
			root.SetErr(&bytes.Buffer{})
			root.SetArgs(tt.args)
			err := root.Execute()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
