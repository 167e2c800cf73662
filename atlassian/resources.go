package atlassian

import (
	"context"
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-atlassian-go/mcp"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const textMimeType = "text/plain"

// cachedLister memoizes one listing for a fixed TTL. Failed fetches are not
// cached.
type cachedLister struct {
	key   string
	fetch func(ctx context.Context) ([]mcp.Resource, error)
	cache *expirable.LRU[string, []mcp.Resource]
	log   *slog.Logger
}

func newCachedLister(key string, cfg config, fetch func(ctx context.Context) ([]mcp.Resource, error)) *cachedLister {
	l := &cachedLister{key: key, fetch: fetch, log: cfg.log}
	if cfg.listingTTL > 0 {
		l.cache = expirable.NewLRU[string, []mcp.Resource](1, nil, cfg.listingTTL)
	}
	return l
}

func (l *cachedLister) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	if l.cache != nil {
		if res, ok := l.cache.Get(l.key); ok {
			return res, nil
		}
	}
	start := time.Now()
	res, err := l.fetch(ctx)
	if err != nil {
		return nil, err
	}
	l.log.DebugContext(ctx, "atlassian.list.ok", slog.String("listing", l.key), slog.Int("resources", len(res)), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	if l.cache != nil {
		l.cache.Add(l.key, res)
	}
	return res, nil
}

func newSpaceLister(c Confluence, cfg config) *cachedLister {
	return newCachedLister("confluence_spaces", cfg, func(ctx context.Context) ([]mcp.Resource, error) {
		spaces, err := c.ListSpaces(ctx, spaceListLimit)
		if err != nil {
			return nil, err
		}
		out := make([]mcp.Resource, 0, len(spaces))
		for _, s := range spaces {
			out = append(out, mcp.Resource{
				URI:         "confluence://" + s.Key,
				Name:        "Confluence Space: " + s.Name,
				Description: s.Description,
				MimeType:    textMimeType,
			})
		}
		return out, nil
	})
}

func newProjectLister(j Jira, cfg config) *cachedLister {
	return newCachedLister("jira_projects", cfg, func(ctx context.Context) ([]mcp.Resource, error) {
		projects, err := j.ListProjects(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]mcp.Resource, 0, len(projects))
		for _, p := range projects {
			out = append(out, mcp.Resource{
				URI:         "jira://" + p.Key,
				Name:        "Jira Project: " + p.Name,
				Description: p.Description,
				MimeType:    textMimeType,
			})
		}
		return out, nil
	})
}
