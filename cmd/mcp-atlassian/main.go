// Command mcp-atlassian serves Confluence and Jira to MCP clients over stdio
// or HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ggoodman/mcp-atlassian-go/atlassian"
	"github.com/ggoodman/mcp-atlassian-go/atlassian/confluence"
	"github.com/ggoodman/mcp-atlassian-go/atlassian/jira"
	"github.com/ggoodman/mcp-atlassian-go/atlassian/rest"
	"github.com/ggoodman/mcp-atlassian-go/internal/config"
	"github.com/ggoodman/mcp-atlassian-go/internal/engine"
	"github.com/ggoodman/mcp-atlassian-go/internal/logctx"
	"github.com/ggoodman/mcp-atlassian-go/mcp"
	"github.com/ggoodman/mcp-atlassian-go/mcpservice"
	"github.com/ggoodman/mcp-atlassian-go/stdio"
	"github.com/spf13/pflag"
)

const serverName = "mcp-atlassian"

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.7"

const instructions = "Tools for reading Confluence pages and Jira issues. Use confluence_search with CQL or jira_search with JQL to find content, then fetch it by ID or key. resources/list enumerates spaces and projects."

type options struct {
	stdio      bool
	http       bool
	addr       string
	configPath string
	version    bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts options
	fs := pflag.NewFlagSet(serverName, pflag.ContinueOnError)
	fs.BoolVar(&opts.stdio, "stdio", false, "serve MCP over stdin/stdout")
	fs.BoolVar(&opts.http, "http", false, "serve MCP over HTTP")
	fs.StringVar(&opts.addr, "addr", "", "HTTP listen address (overrides MCP_HTTP_ADDR)")
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML configuration file")
	fs.BoolVar(&opts.version, "version", false, "print the version and exit")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s (--stdio | --http) [flags]\n\n", serverName)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.version {
		fmt.Printf("%s %s\n", serverName, version)
		return nil
	}
	if opts.stdio == opts.http {
		fs.Usage()
		return errors.New("exactly one of --stdio or --http is required")
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.addr != "" {
		cfg.HTTP.Addr = opts.addr
	}
	if opts.http {
		err = cfg.ValidateHTTP()
	} else {
		err = cfg.Validate()
	}
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(cfg, log)
	if err != nil {
		return err
	}

	if opts.stdio {
		log.InfoContext(ctx, "server.start", slog.String("transport", "stdio"), slog.String("version", version))
		err := stdio.NewHandler(eng, stdio.WithLogger(log)).Serve(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	return serveHTTP(ctx, cfg, eng, log)
}

// newLogger writes to stderr; stdout belongs to the stdio transport.
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	lvl, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if strings.EqualFold(cfg.Log.Format, "json") {
		h = slog.NewJSONHandler(os.Stderr, hopts)
	} else {
		h = slog.NewTextHandler(os.Stderr, hopts)
	}
	return slog.New(logctx.Handler{Handler: h}), nil
}

func newEngine(cfg *config.Config, log *slog.Logger) (*engine.Engine, error) {
	ua := rest.WithUserAgent(serverName + "/" + version)
	var (
		conf atlassian.Confluence
		jc   atlassian.Jira
	)
	if cfg.ConfluenceEnabled() {
		rc, err := rest.New(cfg.Confluence.URL, cfg.Confluence.Username, cfg.Confluence.APIToken, ua, rest.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("confluence: %w", err)
		}
		conf = confluence.New(rc)
	}
	if cfg.JiraEnabled() {
		rc, err := rest.New(cfg.Jira.URL, cfg.Jira.Username, cfg.Jira.APIToken, ua, rest.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("jira: %w", err)
		}
		jc = jira.New(rc)
	}

	reg := mcpservice.NewRegistry(mcpservice.WithRegistryLogger(log))
	if err := atlassian.Register(reg, conf, jc, atlassian.WithLogger(log), atlassian.WithListingTTL(cfg.ListingTTL)); err != nil {
		return nil, err
	}
	return engine.New(reg,
		engine.WithLogger(log),
		engine.WithServerInfo(mcp.ImplementationInfo{Name: serverName, Version: version}),
		engine.WithInstructions(instructions),
		engine.WithInvocationTimeout(cfg.ToolTimeout),
		engine.WithResourceReadHint(atlassian.ResourceReadHint),
	), nil
}
