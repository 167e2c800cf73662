package main

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/ggoodman/mcp-atlassian-go/internal/config"
)

func TestRun_FlagValidation(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "version", args: []string{"--version"}},
		{name: "help", args: []string{"--help"}},
		{name: "no transport", args: nil, wantErr: "exactly one of --stdio or --http"},
		{name: "both transports", args: []string{"--stdio", "--http"}, wantErr: "exactly one of --stdio or --http"},
		{name: "unknown flag", args: []string{"--sse"}, wantErr: "unknown flag"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(tt.args)
			switch {
			case tt.wantErr == "" && err != nil:
				t.Fatalf("unexpected error: %v", err)
			case tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)):
				t.Fatalf("want error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRun_RequiresAnUpstream(t *testing.T) {
	for _, n := range []string{"CONFLUENCE_URL", "CONFLUENCE_USERNAME", "CONFLUENCE_API_TOKEN", "JIRA_URL", "JIRA_USERNAME", "JIRA_API_TOKEN"} {
		t.Setenv(n, "")
	}
	err := run([]string{"--stdio"})
	if err == nil || !strings.Contains(err.Error(), "neither confluence nor jira") {
		t.Fatalf("want missing upstream error, got %v", err)
	}
}

func TestServeHTTP_RejectsUnknownSessionMode(t *testing.T) {
	cfg := &config.Config{}
	cfg.Session.Mode = "sticky"
	err := serveHTTP(t.Context(), cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil || !strings.Contains(err.Error(), `unknown session mode "sticky"`) {
		t.Fatalf("want unknown session mode error, got %v", err)
	}
}
