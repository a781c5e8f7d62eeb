package fetch

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// Content kinds
const (
	KindFeed = "feed"
	KindHTML = "html"
	KindJSON = "json"
	KindText = "text"
)

// Content is the readable text extracted from a fetched response
type Content struct {
	Kind  string
	Title string
	Text  string
	Items []string // Per-item text for feeds
}

// ParseFeed parses RSS, Atom or JSON Feed bytes
func ParseFeed(body []byte) (*gofeed.Feed, error) {
	return gofeed.NewParser().Parse(bytes.NewReader(body))
}

// LooksLikeFeed reports whether the content type or leading markup is a syndication feed
func LooksLikeFeed(contentType string, body []byte) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "rss") || strings.Contains(ct, "atom") || strings.Contains(ct, "feed+json") {
		return true
	}
	head := strings.ToLower(string(body[:min(len(body), 1024)]))
	return strings.Contains(head, "<rss") || strings.Contains(head, "<feed") || strings.Contains(head, "<rdf:rdf")
}

// Extract turns a fetched response into readable text
func Extract(res *Result) *Content {
	if res == nil || len(res.Body) == 0 {
		return &Content{Kind: KindText}
	}

	if LooksLikeFeed(res.ContentType, res.Body) || strings.Contains(res.ContentType, "xml") {
		if feed, err := ParseFeed(res.Body); err == nil {
			return feedContent(feed)
		}
	}

	if strings.Contains(res.ContentType, "json") {
		return &Content{Kind: KindJSON, Text: jsonText(res.Body)}
	}

	if strings.Contains(res.ContentType, "html") || bytes.Contains(bytes.ToLower(res.Body[:min(len(res.Body), 512)]), []byte("<html")) {
		if c, err := htmlContent(res.Body); err == nil {
			return c
		}
	}

	return &Content{Kind: KindText, Text: cleanText(string(res.Body))}
}

func feedContent(feed *gofeed.Feed) *Content {
	c := &Content{Kind: KindFeed, Title: cleanText(feed.Title)}
	parts := []string{cleanText(feed.Description)}
	for _, item := range feed.Items {
		text := strings.TrimSpace(cleanText(item.Title) + " " + cleanText(item.Description))
		if len(item.Categories) > 0 {
			text += " " + strings.Join(item.Categories, " ")
		}
		c.Items = append(c.Items, text)
		parts = append(parts, text)
	}
	c.Text = strings.Join(parts, " ")
	return c
}

func htmlContent(body []byte) (*Content, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	doc.Find("script, style, noscript, template").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	var meta string
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		meta = desc
	}
	text := strings.Join(strings.Fields(meta+" "+doc.Find("body").Text()), " ")
	return &Content{Kind: KindHTML, Title: title, Text: strings.TrimSpace(title + " " + text)}, nil
}

// jsonText collects string values from a JSON document
func jsonText(body []byte) string {
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return ""
	}
	var parts []string
	var walk func(interface{})
	walk = func(node interface{}) {
		switch n := node.(type) {
		case string:
			parts = append(parts, n)
		case []interface{}:
			for _, e := range n {
				walk(e)
			}
		case map[string]interface{}:
			for _, e := range n {
				walk(e)
			}
		}
	}
	walk(v)
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// cleanText removes HTML tags and extra whitespace
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "<br>", " ")
	text = strings.ReplaceAll(text, "<br/>", " ")
	text = strings.ReplaceAll(text, "<br />", " ")
	text = strings.ReplaceAll(text, "</p>", " ")

	var result strings.Builder
	inTag := false
	for _, r := range text {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			result.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(result.String()), " ")
}
