package atlassian

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/ggoodman/mcp-atlassian-go/mcpservice"
	"github.com/invopop/jsonschema"
)

const cqlHelp = `CQL (Confluence Query Language) query string (e.g. 'type=page AND space=DEV').

Every query should name a space, otherwise it will likely return no results. The resources/list method enumerates the available spaces as confluence://KEY.

The "~" operator matches text fields (title, text) exactly or fuzzily:
  title ~ win
  text ~ "te?t"            single character wildcard
  text ~ "win*"            multiple character wildcard
  text ~ "advanced search"

Combine several search terms with OR inside parentheses, each term quoted:
  type=page AND space=OPS AND (text ~ "incident review" OR text ~ "postmortem")

Other examples (combine with space = KEY and type=page):
  creator = currentUser() and mention != currentUser()
  created > now("-4w")
  lastModified < startOfYear() and type = page
  created >= startOfWeek("-1w") and type = blogpost
  creator.fullname ~ "alana"
  title !~ run
  order by created desc, title`

type confluenceSearchArgs struct {
	Query string   `json:"query"`
	Limit *float64 `json:"limit,omitempty" jsonschema:"minimum=1,maximum=50,default=10" jsonschema_description:"Maximum number of results (1-50)"`
}

func (confluenceSearchArgs) JSONSchemaExtend(s *jsonschema.Schema) {
	if p, ok := s.Properties.Get("query"); ok {
		p.Description = cqlHelp
	}
}

type confluencePageArgs struct {
	PageID          string `json:"page_id" jsonschema_description:"Confluence page ID"`
	IncludeMetadata *bool  `json:"include_metadata,omitempty" jsonschema:"default=true" jsonschema_description:"Whether to include page metadata"`
}

type confluenceCommentsArgs struct {
	PageID string `json:"page_id" jsonschema_description:"Confluence page ID"`
}

type jiraIssueArgs struct {
	IssueKey string `json:"issue_key" jsonschema_description:"Jira issue key (e.g., 'PROJ-123')"`
	Expand   string `json:"expand,omitempty" jsonschema_description:"Optional fields to expand"`
}

type jiraSearchArgs struct {
	JQL    string   `json:"jql" jsonschema_description:"JQL query string"`
	Fields string   `json:"fields,omitempty" jsonschema:"default=*all" jsonschema_description:"Comma-separated fields to return"`
	Limit  *float64 `json:"limit,omitempty" jsonschema:"minimum=1,maximum=50,default=10" jsonschema_description:"Maximum number of results (1-50)"`
}

type jiraProjectArgs struct {
	ProjectKey string   `json:"project_key" jsonschema_description:"The project key"`
	Limit      *float64 `json:"limit,omitempty" jsonschema:"minimum=1,maximum=50,default=10" jsonschema_description:"Maximum number of results (1-50)"`
}

// jiraSearchHit is one jira_search result.
type jiraSearchHit struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	CreatedDate string `json:"created_date"`
	Priority    string `json:"priority"`
	Link        string `json:"link"`
	Excerpt     string `json:"excerpt"`
}

type jiraProjectIssue struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	CreatedDate string `json:"created_date"`
	Link        string `json:"link"`
}

func confluenceTools(c Confluence, log *slog.Logger) []mcpservice.StaticTool {
	return []mcpservice.StaticTool{
		mcpservice.NewTool("confluence_search",
			func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[confluenceSearchArgs]) error {
				a := r.Args()
				limit := clampLimit(a.Limit)
				start := time.Now()
				hits, err := c.Search(ctx, a.Query, limit)
				if err != nil {
					return err
				}
				log.DebugContext(ctx, "atlassian.confluence_search.ok", slog.Int("limit", limit), slog.Int("results", len(hits)), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
				return w.AppendJSON(hits)
			},
			mcpservice.WithToolDescription("Search Confluence content using CQL"),
		),
		mcpservice.NewTool("confluence_get_page",
			func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[confluencePageArgs]) error {
				a := r.Args()
				page, err := c.GetPage(ctx, a.PageID)
				if err != nil {
					return err
				}
				if a.IncludeMetadata != nil && !*a.IncludeMetadata {
					return w.AppendJSON(struct {
						Content string `json:"content"`
					}{page.Content})
				}
				return w.AppendJSON(page)
			},
			mcpservice.WithToolDescription("Get content of a specific Confluence page by ID"),
		),
		mcpservice.NewTool("confluence_get_comments",
			func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[confluenceCommentsArgs]) error {
				comments, err := c.GetComments(ctx, r.Args().PageID)
				if err != nil {
					return err
				}
				log.DebugContext(ctx, "atlassian.confluence_get_comments.ok", slog.Int("results", len(comments)))
				return w.AppendJSON(comments)
			},
			mcpservice.WithToolDescription("Get comments for a specific Confluence page"),
		),
	}
}

func jiraTools(j Jira, log *slog.Logger) []mcpservice.StaticTool {
	return []mcpservice.StaticTool{
		mcpservice.NewTool("jira_get_issue",
			func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[jiraIssueArgs]) error {
				a := r.Args()
				iss, err := j.GetIssue(ctx, a.IssueKey, a.Expand)
				if err != nil {
					return err
				}
				return w.AppendJSON(iss)
			},
			mcpservice.WithToolDescription("Get details of a specific Jira issue"),
		),
		mcpservice.NewTool("jira_search",
			func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[jiraSearchArgs]) error {
				a := r.Args()
				limit := clampLimit(a.Limit)
				start := time.Now()
				issues, err := j.Search(ctx, a.JQL, a.Fields, limit)
				if err != nil {
					return err
				}
				hits := make([]jiraSearchHit, 0, len(issues))
				for _, iss := range issues {
					m := iss.Metadata
					hits = append(hits, jiraSearchHit{
						Key:         m.Key,
						Title:       m.Title,
						Type:        m.Type,
						Status:      m.Status,
						CreatedDate: m.CreatedDate,
						Priority:    m.Priority,
						Link:        m.Link,
						Excerpt:     excerpt(iss.Content),
					})
				}
				log.DebugContext(ctx, "atlassian.jira_search.ok", slog.Int("limit", limit), slog.Int("results", len(hits)), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
				return w.AppendJSON(hits)
			},
			mcpservice.WithToolDescription("Search Jira issues using JQL"),
		),
		mcpservice.NewTool("jira_get_project_issues",
			func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[jiraProjectArgs]) error {
				a := r.Args()
				issues, err := j.GetProjectIssues(ctx, a.ProjectKey, clampLimit(a.Limit))
				if err != nil {
					return err
				}
				out := make([]jiraProjectIssue, 0, len(issues))
				for _, iss := range issues {
					m := iss.Metadata
					out = append(out, jiraProjectIssue{
						Key:         m.Key,
						Title:       m.Title,
						Type:        m.Type,
						Status:      m.Status,
						CreatedDate: m.CreatedDate,
						Link:        m.Link,
					})
				}
				return w.AppendJSON(out)
			},
			mcpservice.WithToolDescription("Get all issues for a specific Jira project"),
		),
	}
}

// excerpt keeps the first 500 characters of s, marking truncation with "...".
func excerpt(s string) string {
	if utf8.RuneCountInString(s) <= excerptMaxRunes {
		return s
	}
	return string([]rune(s)[:excerptMaxRunes]) + "..."
}
