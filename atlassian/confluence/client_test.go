package confluence

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ggoodman/mcp-atlassian-go/atlassian/rest"
)

func newFake(t *testing.T, routes map[string]string) *Client {
	t.Helper()
	mux := http.NewServeMux()
	for path, body := range routes {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, body)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	rc, err := rest.New(srv.URL+"/wiki", "u@example.com", "tok", rest.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatal(err)
	}
	return New(rc)
}

func TestSearch(t *testing.T) {
	c := newFake(t, map[string]string{
		"GET /wiki/rest/api/search": `{"results":[{
			"content":{"id":"123","type":"page","title":"Runbook"},
			"excerpt":"restart the @@@hl@@@worker@@@endhl@@@ &amp; wait",
			"url":"/spaces/OPS/pages/123/Runbook",
			"lastModified":"2024-05-01T10:00:00.000Z",
			"resultGlobalContainer":{"title":"Operations"}}]}`,
	})
	got, err := c.Search(context.Background(), "space=OPS", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	want := SearchResult{
		PageID:       "123",
		Title:        "Runbook",
		Space:        "Operations",
		LastModified: "2024-05-01T10:00:00.000Z",
		Type:         "page",
		Excerpt:      "restart the worker & wait",
	}
	if len(got) != 1 {
		t.Fatalf("want 1 result, got %d", len(got))
	}
	url := got[0].URL
	got[0].URL = ""
	if got[0] != want {
		t.Fatalf("got %+v\nwant %+v", got[0], want)
	}
	if url == "" || url[len(url)-len("/wiki/spaces/OPS/pages/123/Runbook"):] != "/wiki/spaces/OPS/pages/123/Runbook" {
		t.Fatalf("unexpected url %q", url)
	}
}

func TestGetPageAndComments(t *testing.T) {
	c := newFake(t, map[string]string{
		"GET /wiki/rest/api/content/42": `{"id":"42","type":"page","title":"Design",
			"space":{"key":"DEV","name":"Development"},
			"version":{"number":3,"when":"2024-01-02","by":{"displayName":"Ada"}},
			"body":{"storage":{"value":"<h1>Goals</h1><p>Ship it.</p><ul><li>one</li><li>two</li></ul>"}},
			"_links":{"webui":"/spaces/DEV/pages/42"}}`,
		"GET /wiki/rest/api/content/42/child/comment": `{"results":[
			{"version":{"when":"2024-01-03","by":{"displayName":"Grace"}},"body":{"storage":{"value":"<p>LGTM</p>"}}}]}`,
	})

	page, err := c.GetPage(context.Background(), "42")
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	if page.Content != "Goals\n\nShip it.\n\n- one\n\n- two" {
		t.Fatalf("content %q", page.Content)
	}
	m := page.Metadata
	if m.Title != "Design" || m.Version != 3 || m.SpaceKey != "DEV" || m.AuthorName != "Ada" || m.LastModified != "2024-01-02" {
		t.Fatalf("metadata %+v", m)
	}

	comments, err := c.GetComments(context.Background(), "42")
	if err != nil {
		t.Fatalf("get comments: %v", err)
	}
	if len(comments) != 1 || comments[0] != (Comment{Author: "Grace", Created: "2024-01-03", Content: "LGTM"}) {
		t.Fatalf("comments %+v", comments)
	}
}

func TestListSpaces(t *testing.T) {
	c := newFake(t, map[string]string{
		"GET /wiki/rest/api/space": `{"results":[{"key":"DEV","name":"Development","description":{"plain":{"value":"Engineering"}}},{"key":"OPS","name":"Operations"}]}`,
	})
	spaces, err := c.ListSpaces(context.Background(), 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(spaces) != 2 || spaces[0] != (Space{Key: "DEV", Name: "Development", Description: "Engineering"}) || spaces[1].Key != "OPS" {
		t.Fatalf("spaces %+v", spaces)
	}
}

func TestStorageToText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "just text", "just text"},
		{"entities", "<p>a &lt; b &amp;&amp; c</p>", "a < b && c"},
		{"whitespace", "<p>  spaced   out\n text </p>", "spaced out text"},
		{"user mention", `<p>ping <ac:link><ri:user ri:account-id="557058:abc" /></ac:link></p>`, "ping @557058:abc"},
		{"page link", `<ac:link><ri:page ri:content-title="Release Notes" /></ac:link>`, "Release Notes"},
		{"macro params skipped", `<ac:structured-macro ac:name="info"><ac:parameter ac:name="title">hidden</ac:parameter><ac:rich-text-body><p>shown</p></ac:rich-text-body></ac:structured-macro>`, "shown"},
		{"code cdata", `<ac:structured-macro ac:name="code"><ac:plain-text-body><![CDATA[if a > b { go test ./... }]]></ac:plain-text-body></ac:structured-macro>`, "if a > b { go test ./... }"},
		{"table", "<table><tr><th>k</th><th>v</th></tr><tr><td>a</td><td>1</td></tr></table>", "| k | v\n\n| a | 1"},
		{"unclosed", "<p>dangling", "dangling"},
		{"wrapped paragraph", "<p>first line\r\n\tof one\nsentence</p><p>next</p>", "first line of one sentence\n\nnext"},
		{"pre keeps lines", "<pre>line one\nline two</pre>", "line one\nline two"},
		{"multi-line cdata", "<ac:structured-macro ac:name=\"code\"><ac:plain-text-body><![CDATA[a := 1\nb := 2]]></ac:plain-text-body></ac:structured-macro>", "a := 1\nb := 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StorageToText(tt.in); got != tt.want {
				t.Errorf("StorageToText(%q)\n got %q\nwant %q", tt.in, got, tt.want)
			}
		})
	}
}
