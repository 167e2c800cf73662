// Package confluence is a small client for the Confluence Cloud REST API
// covering search, pages, comments and spaces.
package confluence

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ggoodman/mcp-atlassian-go/atlassian/rest"
)

// Client reads Confluence content. The rest.Client base URL is the site's
// wiki root, e.g. https://acme.atlassian.net/wiki.
type Client struct {
	rc *rest.Client
}

func New(rc *rest.Client) *Client { return &Client{rc: rc} }

// SearchResult is one hit of a CQL search.
type SearchResult struct {
	PageID       string `json:"page_id"`
	Title        string `json:"title"`
	Space        string `json:"space"`
	URL          string `json:"url"`
	LastModified string `json:"last_modified"`
	Type         string `json:"type"`
	Excerpt      string `json:"excerpt"`
}

// Page is a page body rendered as text plus its metadata.
type Page struct {
	Content  string       `json:"content"`
	Metadata PageMetadata `json:"metadata"`
}

type PageMetadata struct {
	PageID       string `json:"page_id"`
	Title        string `json:"title"`
	Version      int    `json:"version"`
	SpaceKey     string `json:"space_key"`
	SpaceName    string `json:"space_name"`
	URL          string `json:"url"`
	LastModified string `json:"last_modified"`
	AuthorName   string `json:"author_name"`
	Type         string `json:"type"`
}

// Comment is a page comment rendered as text.
type Comment struct {
	Author  string `json:"author"`
	Created string `json:"created"`
	Content string `json:"content"`
}

// Space is a Confluence space.
type Space struct {
	Key         string
	Name        string
	Description string
}

type apiContent struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Title  string `json:"title"`
	Space  struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	} `json:"space"`
	Version struct {
		Number int    `json:"number"`
		When   string `json:"when"`
		By     struct {
			DisplayName string `json:"displayName"`
		} `json:"by"`
	} `json:"version"`
	Body struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	Links struct {
		WebUI string `json:"webui"`
	} `json:"_links"`
}

// highlight strips the match markers search excerpts carry.
var highlight = strings.NewReplacer("@@@hl@@@", "", "@@@endhl@@@", "")

// Search runs a CQL query and returns up to limit hits.
func (c *Client) Search(ctx context.Context, cql string, limit int) ([]SearchResult, error) {
	var resp struct {
		Results []struct {
			Content      apiContent `json:"content"`
			Title        string     `json:"title"`
			Excerpt      string     `json:"excerpt"`
			URL          string     `json:"url"`
			LastModified string     `json:"lastModified"`
			Container    struct {
				Title string `json:"title"`
			} `json:"resultGlobalContainer"`
		} `json:"results"`
	}
	q := url.Values{"cql": {cql}, "limit": {strconv.Itoa(limit)}}
	if err := c.rc.GetJSON(ctx, "rest/api/search", q, &resp); err != nil {
		return nil, fmt.Errorf("confluence search: %w", err)
	}
	out := make([]SearchResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		title := r.Content.Title
		if title == "" {
			title = StorageToText(r.Title)
		}
		out = append(out, SearchResult{
			PageID:       r.Content.ID,
			Title:        title,
			Space:        r.Container.Title,
			URL:          c.rc.URL(r.URL),
			LastModified: r.LastModified,
			Type:         r.Content.Type,
			Excerpt:      highlight.Replace(StorageToText(r.Excerpt)),
		})
	}
	return out, nil
}

// GetPage fetches a page and renders its storage body as text.
func (c *Client) GetPage(ctx context.Context, pageID string) (*Page, error) {
	var ac apiContent
	q := url.Values{"expand": {"body.storage,version,space"}}
	if err := c.rc.GetJSON(ctx, "rest/api/content/"+url.PathEscape(pageID), q, &ac); err != nil {
		return nil, fmt.Errorf("confluence get page %s: %w", pageID, err)
	}
	return &Page{
		Content: StorageToText(ac.Body.Storage.Value),
		Metadata: PageMetadata{
			PageID:       ac.ID,
			Title:        ac.Title,
			Version:      ac.Version.Number,
			SpaceKey:     ac.Space.Key,
			SpaceName:    ac.Space.Name,
			URL:          c.rc.URL(ac.Links.WebUI),
			LastModified: ac.Version.When,
			AuthorName:   ac.Version.By.DisplayName,
			Type:         ac.Type,
		},
	}, nil
}

// GetComments returns the comments of a page in upstream order.
func (c *Client) GetComments(ctx context.Context, pageID string) ([]Comment, error) {
	var resp struct {
		Results []apiContent `json:"results"`
	}
	q := url.Values{"expand": {"body.storage,version"}, "limit": {"100"}}
	if err := c.rc.GetJSON(ctx, "rest/api/content/"+url.PathEscape(pageID)+"/child/comment", q, &resp); err != nil {
		return nil, fmt.Errorf("confluence get comments %s: %w", pageID, err)
	}
	out := make([]Comment, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, Comment{
			Author:  r.Version.By.DisplayName,
			Created: r.Version.When,
			Content: StorageToText(r.Body.Storage.Value),
		})
	}
	return out, nil
}

// ListSpaces returns up to limit spaces visible to the configured user.
func (c *Client) ListSpaces(ctx context.Context, limit int) ([]Space, error) {
	var resp struct {
		Results []struct {
			Key         string `json:"key"`
			Name        string `json:"name"`
			Description struct {
				Plain struct {
					Value string `json:"value"`
				} `json:"plain"`
			} `json:"description"`
		} `json:"results"`
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}, "expand": {"description.plain"}}
	if err := c.rc.GetJSON(ctx, "rest/api/space", q, &resp); err != nil {
		return nil, fmt.Errorf("confluence list spaces: %w", err)
	}
	out := make([]Space, 0, len(resp.Results))
	for _, s := range resp.Results {
		out = append(out, Space{Key: s.Key, Name: s.Name, Description: s.Description.Plain.Value})
	}
	return out, nil
}
