package fetch

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	// extractTimeout bounds one extraction round trip.
	extractTimeout = 15 * time.Second
	// extractSkipLength: feed entries already carrying more content than this
	// are not re-fetched.
	extractSkipLength = 500
)

// Extractor pulls the main textual content out of an article page using
// selector heuristics.
type Extractor struct {
	client *http.Client
}

// NewExtractor creates an Extractor with the extraction timeout.
func NewExtractor() *Extractor {
	return &Extractor{client: &http.Client{Timeout: extractTimeout}}
}

// mainContentSelectors are tried in order; the first selector yielding text
// wins.
var mainContentSelectors = []string{
	"article", "main",
	".main-content", ".entry-content", ".post-content", ".post-body", ".article-body",
	"[role='main']",
	".content", "#content",
}

var multiNewline = regexp.MustCompile(`(\n\s*){2,}`)

// Extract fetches the URL and returns the extracted main text. An empty
// string with nil error means the page yielded no usable text.
func (e *Extractor) Extract(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch page: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("page returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse page: %w", err)
	}
	return ExtractFromDocument(doc), nil
}

// ExtractFromDocument applies the content heuristics to an already-parsed
// document.
func ExtractFromDocument(doc *goquery.Document) string {
	doc.Find("script, style, nav, footer, header, aside, form, iframe, noscript, .sidebar, #sidebar, .ad, .advertisement, .popup, .modal, .cookie-banner").Remove()

	var textBuilder strings.Builder
	appendBlocks := func(s *goquery.Selection) {
		s.Find("p, h1, h2, h3, h4, h5, h6, li, blockquote, pre").Each(func(_ int, item *goquery.Selection) {
			text := strings.TrimSpace(item.Text())
			if text == "" {
				return
			}
			textBuilder.WriteString(text)
			textBuilder.WriteString("\n\n")
		})
	}

	for _, selector := range mainContentSelectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			appendBlocks(s)
		})
		if textBuilder.Len() > 0 {
			break
		}
	}
	if textBuilder.Len() == 0 {
		appendBlocks(doc.Find("body"))
	}

	cleaned := multiNewline.ReplaceAllString(textBuilder.String(), "\n")
	return strings.TrimSpace(cleaned)
}
