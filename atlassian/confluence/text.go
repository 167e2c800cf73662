package confluence

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	blankRun    = regexp.MustCompile(`\n{3,}`)
	cdataPrefix = []byte("<![CDATA[")
)

// blockElements start a new line in the text rendering.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"pre": true, "blockquote": true, "table": true, "hr": true,
	"ac:structured-macro": true, "ac:task": true,
}

// skippedElements contribute no text.
var skippedElements = map[string]bool{
	"script": true, "style": true, "ac:parameter": true,
}

// StorageToText renders Confluence storage format (XHTML with ac: and ri:
// elements) as plain text. Block elements become line breaks, list items get
// a "- " prefix, and user or page links are replaced by their title or ID.
func StorageToText(storage string) string {
	z := html.NewTokenizer(strings.NewReader(storage))
	// Code and plain-text macro bodies arrive as CDATA sections.
	z.AllowCDATA(true)
	var b strings.Builder
	skip, pre := 0, 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or a malformed document; either way keep what was read.
			return tidy(b.String())
		case html.TextToken:
			if skip > 0 {
				continue
			}
			// Raw must be read before Text, which unescapes in place.
			verbatim := pre > 0 || bytes.HasPrefix(z.Raw(), cdataPrefix)
			text := z.Text()
			if !verbatim {
				text = bytes.Map(lineBreakToSpace, text)
			}
			b.Write(text)
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			if skippedElements[tag] {
				if tt == html.StartTagToken {
					skip++
				}
				continue
			}
			if blockElements[tag] {
				b.WriteByte('\n')
			}
			if tag == "pre" && tt == html.StartTagToken {
				pre++
			}
			switch tag {
			case "li":
				b.WriteString("- ")
			case "td", "th":
				b.WriteString(" | ")
			case "ri:user":
				if hasAttr {
					if id := attr(z, "ri:account-id", "ri:username", "ri:userkey"); id != "" {
						b.WriteString("@" + id)
					}
				}
			case "ri:page":
				if hasAttr {
					b.WriteString(attr(z, "ri:content-title"))
				}
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skippedElements[tag] {
				if skip > 0 {
					skip--
				}
				continue
			}
			if tag == "pre" && pre > 0 {
				pre--
			}
			if blockElements[tag] {
				b.WriteByte('\n')
			}
		}
	}
}

// lineBreakToSpace folds source formatting inside flowing text; only block
// elements, pre and CDATA bodies produce line breaks.
func lineBreakToSpace(r rune) rune {
	switch r {
	case '\n', '\r', '\t':
		return ' '
	}
	return r
}

// attr returns the first non-empty value among keys.
func attr(z *html.Tokenizer, keys ...string) string {
	found := map[string]string{}
	for {
		k, v, more := z.TagAttr()
		found[string(k)] = string(v)
		if !more {
			break
		}
	}
	for _, k := range keys {
		if v := found[k]; v != "" {
			return v
		}
	}
	return ""
}

func tidy(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(strings.Join(strings.Fields(l), " "), " ")
	}
	out := strings.Join(lines, "\n")
	return strings.TrimSpace(blankRun.ReplaceAllString(out, "\n\n"))
}
