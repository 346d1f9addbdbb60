package web

import (
	"bytes"
	"errors"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"

	"github.com/leonardcser/flash-offline/internal/cache"
)

// MaxRenderSize caps the text rendered for one cached entry.
const MaxRenderSize = 1 * 1024 * 1024 // 1MB

// Document is a readable rendering of a cached entry.
type Document struct {
	URL         string `json:"url"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Text        string `json:"text,omitempty"`
}

// Render turns a cached response into a Document. HTML becomes Markdown,
// other text is returned as is, binary bodies only report their size.
func Render(resp *cache.Response) (*Document, error) {
	if resp == nil {
		return nil, errors.New("nothing to render")
	}
	contentType := resp.Header.Get("Content-Type")
	doc := &Document{URL: resp.URL, Status: resp.Status, ContentType: contentType, Size: len(resp.Body)}
	if resp.Opaque {
		return doc, nil
	}

	lowerCT := strings.ToLower(contentType)
	isHTML := strings.Contains(lowerCT, "text/html")
	isText := strings.HasPrefix(lowerCT, "text/") ||
		strings.Contains(lowerCT, "javascript") ||
		strings.Contains(lowerCT, "json")
	if !isText {
		return doc, nil
	}

	body := resp.Body
	if len(body) > MaxRenderSize {
		body = append(append([]byte(nil), body[:MaxRenderSize]...), []byte("... [trimmed]")...)
	}
	if !isHTML {
		doc.Text = string(body)
		return doc, nil
	}

	page, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	doc.Title = strings.TrimSpace(page.Find("head > title").First().Text())
	doc.Description = strings.TrimSpace(page.Find("meta[name=description]").AttrOr("content", ""))

	// Remove non-visible elements
	page.Find("script, style, noscript, template, svg, canvas").Remove()

	htmlStr, err := page.Html()
	if err != nil {
		return nil, err
	}
	markdown, err := htmltomarkdown.ConvertString(htmlStr)
	if err != nil {
		doc.Text = strings.Join(strings.Fields(page.Find("body").Text()), " ")
		return doc, nil
	}
	doc.Text = strings.TrimSpace(markdown)
	return doc, nil
}
