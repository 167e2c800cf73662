package jira

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ggoodman/mcp-atlassian-go/atlassian/rest"
)

const issueJSON = `{"key":"OPS-7","fields":{
	"summary":"Disk full on worker",
	"description":"  /var is at 100%  ",
	"created":"2024-03-01T09:00:00.000+0000",
	"issuetype":{"name":"Bug"},
	"status":{"name":"In Progress"},
	"priority":{"name":"High"},
	"comment":{"comments":[{"author":{"displayName":"Ada"},"created":"2024-03-01T10:00:00.000+0000","body":"rotating logs"}]}}}`

func newFake(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	rc, err := rest.New(srv.URL, "u@example.com", "tok", rest.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatal(err)
	}
	return New(rc)
}

func TestGetIssue(t *testing.T) {
	var gotExpand string
	c := newFake(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/2/issue/OPS-7" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotExpand = r.URL.Query().Get("expand")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, issueJSON)
	})

	iss, err := c.GetIssue(context.Background(), "OPS-7", "changelog")
	if err != nil {
		t.Fatalf("get issue: %v", err)
	}
	if gotExpand != "changelog" {
		t.Fatalf("expand = %q", gotExpand)
	}
	md := iss.Metadata
	if md.Key != "OPS-7" || md.Title != "Disk full on worker" || md.Type != "Bug" || md.Status != "In Progress" || md.Priority != "High" {
		t.Fatalf("metadata %+v", md)
	}
	if !strings.HasSuffix(md.Link, "/browse/OPS-7") {
		t.Fatalf("link %q", md.Link)
	}
	for _, want := range []string{"Issue: OPS-7", "Status: In Progress", "Description:\n/var is at 100%", "Comments:", "Ada: rotating logs"} {
		if !strings.Contains(iss.Content, want) {
			t.Errorf("content missing %q:\n%s", want, iss.Content)
		}
	}
}

// decodeSearch reads the body of a POST rest/api/2/search.
func decodeSearch(t *testing.T, r *http.Request) searchRequest {
	t.Helper()
	if r.Method != http.MethodPost || r.URL.Path != "/rest/api/2/search" {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	}
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Errorf("decode search body: %v", err)
	}
	return req
}

func TestSearchDefaultsAndPriority(t *testing.T) {
	c := newFake(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeSearch(t, r)
		if len(req.Fields) != 1 || req.Fields[0] != DefaultFields || req.MaxResults != 5 || req.JQL != "assignee = currentUser()" {
			t.Errorf("unexpected search %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"issues":[{"key":"A-1","fields":{"summary":"no priority","issuetype":{"name":"Task"},"status":{"name":"Open"}}}]}`)
	})
	issues, err := c.Search(context.Background(), "assignee = currentUser()", "", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 1 || issues[0].Metadata.Priority != "None" || strings.Contains(issues[0].Content, "Comments:") {
		t.Fatalf("issues %+v", issues)
	}
}

func TestGetProjectIssuesJQL(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"OPS", "project = OPS ORDER BY created DESC"},
		{"OPS OR 1=1", `project = "OPS OR 1=1" ORDER BY created DESC`},
		{`A"B\C`, `project = "A\"B\\C" ORDER BY created DESC`},
		{"Ünïcode\x01", "project = \"Ünïcode\x01\" ORDER BY created DESC"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			c := newFake(t, func(w http.ResponseWriter, r *http.Request) {
				if got := decodeSearch(t, r).JQL; got != tt.want {
					t.Errorf("jql = %q, want %q", got, tt.want)
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = io.WriteString(w, `{"issues":[]}`)
			})
			if _, err := c.GetProjectIssues(context.Background(), tt.key, 10); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestSearchSendsLongJQLInBody(t *testing.T) {
	jql := "key in (" + strings.Repeat("OPS-1, ", 2000) + "OPS-2)"
	c := newFake(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "" {
			t.Errorf("query string should be empty, got %d bytes", len(r.URL.RawQuery))
		}
		req := decodeSearch(t, r)
		if req.JQL != jql {
			t.Errorf("jql not sent verbatim")
		}
		if want := []string{"summary", "status"}; len(req.Fields) != 2 || req.Fields[0] != want[0] || req.Fields[1] != want[1] {
			t.Errorf("fields = %v, want %v", req.Fields, want)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"issues":[]}`)
	})
	if _, err := c.Search(context.Background(), jql, "summary, status,", 10); err != nil {
		t.Fatal(err)
	}
}

func TestGetProjectIssuesRejectsEmptyKey(t *testing.T) {
	c := newFake(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected, got %s %s", r.Method, r.URL.Path)
	})
	for _, key := range []string{"", "   "} {
		if _, err := c.GetProjectIssues(context.Background(), key, 10); !errors.Is(err, ErrEmptyProjectKey) {
			t.Fatalf("GetProjectIssues(%q) = %v, want ErrEmptyProjectKey", key, err)
		}
	}
}

func TestListProjects(t *testing.T) {
	c := newFake(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"key":"OPS","name":"Operations","description":"on-call"}]`)
	})
	ps, err := c.ListProjects(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(ps) != 1 || ps[0] != (Project{Key: "OPS", Name: "Operations", Description: "on-call"}) {
		t.Fatalf("projects %+v", ps)
	}
}

func TestUpstreamErrorIsWrapped(t *testing.T) {
	c := newFake(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := c.GetIssue(context.Background(), "NOPE-1", "")
	ae, ok := rest.AsAPIError(err)
	if !ok || !ae.IsNotFound() {
		t.Fatalf("want not-found APIError, got %v", err)
	}
}
