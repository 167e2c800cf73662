// Package jira is a small client for the Jira Cloud REST API (v2) covering
// issues, JQL search and projects.
package jira

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ggoodman/mcp-atlassian-go/atlassian/rest"
)

// DefaultFields is the field selector used when a search names none.
const DefaultFields = "*all"

// ErrEmptyProjectKey is returned by GetProjectIssues for a blank key.
var ErrEmptyProjectKey = errors.New("jira: project key is required")

// Client reads Jira issues and projects. The rest.Client base URL is the
// site root, e.g. https://acme.atlassian.net.
type Client struct {
	rc *rest.Client
}

func New(rc *rest.Client) *Client { return &Client{rc: rc} }

// Issue is an issue rendered as text plus a metadata summary.
type Issue struct {
	Content  string        `json:"content"`
	Metadata IssueMetadata `json:"metadata"`
}

type IssueMetadata struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	CreatedDate string `json:"created_date"`
	Priority    string `json:"priority"`
	Link        string `json:"link"`
}

// Project is a Jira project.
type Project struct {
	Key         string
	Name        string
	Description string
}

type named struct {
	Name string `json:"name"`
}

type apiIssue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     string `json:"summary"`
		Description string `json:"description"`
		Created     string `json:"created"`
		IssueType   named  `json:"issuetype"`
		Status      named  `json:"status"`
		Priority    *named `json:"priority"`
		Comment     struct {
			Comments []struct {
				Author struct {
					DisplayName string `json:"displayName"`
				} `json:"author"`
				Created string `json:"created"`
				Body    string `json:"body"`
			} `json:"comments"`
		} `json:"comment"`
	} `json:"fields"`
}

// GetIssue fetches one issue. expand is passed through to the API when set.
func (c *Client) GetIssue(ctx context.Context, key, expand string) (*Issue, error) {
	var ai apiIssue
	var q url.Values
	if expand != "" {
		q = url.Values{"expand": {expand}}
	}
	if err := c.rc.GetJSON(ctx, "rest/api/2/issue/"+url.PathEscape(key), q, &ai); err != nil {
		return nil, fmt.Errorf("jira get issue %s: %w", key, err)
	}
	iss := c.toIssue(ai)
	return &iss, nil
}

// Search runs a JQL query. fields is a comma-separated field selector;
// empty means DefaultFields.
func (c *Client) Search(ctx context.Context, jql, fields string, limit int) ([]Issue, error) {
	if fields == "" {
		fields = DefaultFields
	}
	var resp struct {
		Issues []apiIssue `json:"issues"`
	}
	// POST keeps long JQL out of the URL.
	req := searchRequest{JQL: jql, Fields: splitFields(fields), MaxResults: limit}
	if err := c.rc.PostJSON(ctx, "rest/api/2/search", req, &resp); err != nil {
		return nil, fmt.Errorf("jira search: %w", err)
	}
	out := make([]Issue, 0, len(resp.Issues))
	for _, ai := range resp.Issues {
		out = append(out, c.toIssue(ai))
	}
	return out, nil
}

type searchRequest struct {
	JQL        string   `json:"jql"`
	Fields     []string `json:"fields"`
	MaxResults int      `json:"maxResults"`
}

// splitFields turns the comma-separated form accepted by the tools into the
// list the search endpoint expects.
func splitFields(fields string) []string {
	var out []string
	for _, f := range strings.Split(fields, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return []string{DefaultFields}
	}
	return out
}

// GetProjectIssues returns the newest issues of a project.
func (c *Client) GetProjectIssues(ctx context.Context, projectKey string, limit int) ([]Issue, error) {
	if strings.TrimSpace(projectKey) == "" {
		return nil, ErrEmptyProjectKey
	}
	return c.Search(ctx, fmt.Sprintf("project = %s ORDER BY created DESC", quoteJQL(projectKey)), DefaultFields, limit)
}

// ListProjects returns every project visible to the configured user.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp []struct {
		Key         string `json:"key"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := c.rc.GetJSON(ctx, "rest/api/2/project", nil, &resp); err != nil {
		return nil, fmt.Errorf("jira list projects: %w", err)
	}
	out := make([]Project, 0, len(resp))
	for _, p := range resp {
		out = append(out, Project(p))
	}
	return out, nil
}

func (c *Client) toIssue(ai apiIssue) Issue {
	f := ai.Fields
	md := IssueMetadata{
		Key:         ai.Key,
		Title:       f.Summary,
		Type:        f.IssueType.Name,
		Status:      f.Status.Name,
		CreatedDate: f.Created,
		Priority:    "None",
		Link:        c.rc.URL("browse/" + ai.Key),
	}
	if f.Priority != nil && f.Priority.Name != "" {
		md.Priority = f.Priority.Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Issue: %s\nTitle: %s\nType: %s\nStatus: %s\nCreated: %s\n\nDescription:\n%s",
		md.Key, md.Title, md.Type, md.Status, md.CreatedDate, strings.TrimSpace(f.Description))
	if len(f.Comment.Comments) > 0 {
		b.WriteString("\n\nComments:")
		for _, cm := range f.Comment.Comments {
			fmt.Fprintf(&b, "\n%s - %s: %s", cm.Created, cm.Author.DisplayName, strings.TrimSpace(cm.Body))
		}
	}
	return Issue{Content: b.String(), Metadata: md}
}

var jqlEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// quoteJQL quotes a project key unless it is a bare identifier. Inside a
// JQL string only backslash and double quote are escaped.
func quoteJQL(s string) string {
	for _, r := range s {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z') {
			return `"` + jqlEscaper.Replace(s) + `"`
		}
	}
	return s
}
