// Package atlassian registers the Confluence and Jira tools and resource
// listers on an mcpservice.Registry.
//
// Spaces and projects are advertised through resources/list as
// confluence://KEY and jira://KEY. Those URIs are listings only; their
// content is reached through the tools (see ResourceReadHint).
package atlassian

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-atlassian-go/atlassian/confluence"
	"github.com/ggoodman/mcp-atlassian-go/atlassian/jira"
	"github.com/ggoodman/mcp-atlassian-go/mcpservice"
)

// ResourceReadHint names the tools that replace resources/read for the
// URIs advertised by this package.
const ResourceReadHint = "confluence:// and jira:// resources are listings only; use confluence_search or confluence_get_page for Confluence content and jira_get_project_issues or jira_get_issue for Jira content"

const (
	defaultLimit      = 10
	maxLimit          = 50
	defaultListingTTL = 5 * time.Minute
	spaceListLimit    = 50
	excerptMaxRunes   = 500
)

// ErrNothingToRegister is returned by Register when neither client is set.
var ErrNothingToRegister = errors.New("atlassian: no confluence or jira client configured")

// Confluence is the subset of *confluence.Client the tools use.
type Confluence interface {
	Search(ctx context.Context, cql string, limit int) ([]confluence.SearchResult, error)
	GetPage(ctx context.Context, pageID string) (*confluence.Page, error)
	GetComments(ctx context.Context, pageID string) ([]confluence.Comment, error)
	ListSpaces(ctx context.Context, limit int) ([]confluence.Space, error)
}

// Jira is the subset of *jira.Client the tools use.
type Jira interface {
	GetIssue(ctx context.Context, key, expand string) (*jira.Issue, error)
	Search(ctx context.Context, jql, fields string, limit int) ([]jira.Issue, error)
	GetProjectIssues(ctx context.Context, projectKey string, limit int) ([]jira.Issue, error)
	ListProjects(ctx context.Context) ([]jira.Project, error)
}

var (
	_ Confluence = (*confluence.Client)(nil)
	_ Jira       = (*jira.Client)(nil)
)

type config struct {
	log        *slog.Logger
	listingTTL time.Duration
}

// Option configures Register.
type Option func(*config)

func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// WithListingTTL sets how long space and project listings are cached. Zero
// or negative disables caching.
func WithListingTTL(d time.Duration) Option {
	return func(c *config) { c.listingTTL = d }
}

// Register adds the tools and listers for whichever clients are non-nil.
// Confluence tools come first, then Jira tools, each in a fixed order.
func Register(reg *mcpservice.Registry, conf Confluence, jc Jira, opts ...Option) error {
	if conf == nil && jc == nil {
		return ErrNothingToRegister
	}
	cfg := config{log: slog.Default(), listingTTL: defaultListingTTL}
	for _, opt := range opts {
		opt(&cfg)
	}

	var tools []mcpservice.StaticTool
	if conf != nil {
		tools = append(tools, confluenceTools(conf, cfg.log)...)
	}
	if jc != nil {
		tools = append(tools, jiraTools(jc, cfg.log)...)
	}
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return err
		}
	}

	if conf != nil {
		if err := reg.RegisterResourceLister(newSpaceLister(conf, cfg)); err != nil {
			return err
		}
	}
	if jc != nil {
		if err := reg.RegisterResourceLister(newProjectLister(jc, cfg)); err != nil {
			return err
		}
	}
	return nil
}

// clampLimit applies the default and the 1..50 bounds to a tool's limit
// argument. Fractions are truncated.
func clampLimit(v *float64) int {
	if v == nil {
		return defaultLimit
	}
	// Bound the float first; converting an out-of-range float is undefined.
	switch f := *v; {
	case !(f >= 1):
		return 1
	case f >= maxLimit:
		return maxLimit
	default:
		return int(f)
	}
}
