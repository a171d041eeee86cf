// Package feeds provides RSS/Atom feed parsing and catalog management.
package feeds

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"infodigest/internal/core"
)

// userAgent identifies outbound feed requests.
const userAgent = "InfoDigest RSS Reader/1.0"

// RSS represents an RSS feed document.
type RSS struct {
	XMLName xml.Name `xml:"rss"`
	Channel Channel  `xml:"channel"`
}

// Channel represents an RSS channel.
type Channel struct {
	Title       string    `xml:"title"`
	Description string    `xml:"description"`
	Link        string    `xml:"link"`
	Items       []RSSItem `xml:"item"`
}

// RSSItem represents an RSS item.
type RSSItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	Content     string `xml:"encoded"` // content:encoded
	Author      string `xml:"author"`
	Creator     string `xml:"creator"` // dc:creator
	PubDate     string `xml:"pubDate"`
	Date        string `xml:"date"` // dc:date
	GUID        string `xml:"guid"`
}

// Atom represents an Atom feed document.
type Atom struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Link    []AtomLink  `xml:"link"`
	Entries []AtomEntry `xml:"entry"`
}

// AtomLink represents an Atom link element.
type AtomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

// AtomEntry represents an Atom entry.
type AtomEntry struct {
	Title     string     `xml:"title"`
	Link      []AtomLink `xml:"link"`
	Summary   string     `xml:"summary"`
	Content   string     `xml:"content"`
	Author    AtomAuthor `xml:"author"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
	ID        string     `xml:"id"`
}

// AtomAuthor represents an Atom author element.
type AtomAuthor struct {
	Name string `xml:"name"`
}

// ParsedFeed is the outcome of parsing one feed body.
type ParsedFeed struct {
	Title    string
	Articles []core.Article
}

// Parse parses a feed body as RSS or Atom (auto-detected). Entries missing a
// URL or title are dropped; per-entry problems never fail the whole feed.
func Parse(body []byte, feed core.Feed) (*ParsedFeed, error) {
	var rss RSS
	if err := xml.Unmarshal(body, &rss); err == nil && (rss.Channel.Title != "" || len(rss.Channel.Items) > 0) {
		return parseRSS(rss, feed), nil
	}

	var atom Atom
	if err := xml.Unmarshal(body, &atom); err == nil && (atom.Title != "" || len(atom.Entries) > 0) {
		return parseAtom(atom, feed), nil
	}

	return nil, fmt.Errorf("unable to parse as RSS or Atom feed")
}

func parseRSS(rss RSS, feed core.Feed) *ParsedFeed {
	now := time.Now().UTC()
	parsed := &ParsedFeed{Title: rss.Channel.Title}
	for _, item := range rss.Channel.Items {
		url := strings.TrimSpace(item.Link)
		title := strings.TrimSpace(item.Title)
		if url == "" || title == "" {
			continue
		}
		summary := strings.TrimSpace(item.Description)
		content := strings.TrimSpace(item.Content)
		if content == "" {
			content = summary
		}
		author := strings.TrimSpace(item.Author)
		if author == "" {
			author = strings.TrimSpace(item.Creator)
		}
		parsed.Articles = append(parsed.Articles, core.Article{
			ID:          generateArticleID(url),
			URL:         url,
			Title:       title,
			Content:     content,
			Summary:     summary,
			Source:      feed.Name,
			Category:    feed.Category,
			Author:      author,
			PublishedAt: parseDate(item.PubDate, item.Date),
			FetchedAt:   now,
		})
	}
	return parsed
}

func parseAtom(atom Atom, feed core.Feed) *ParsedFeed {
	now := time.Now().UTC()
	parsed := &ParsedFeed{Title: atom.Title}
	for _, entry := range atom.Entries {
		var url string
		for _, l := range entry.Link {
			if l.Rel == "" || l.Rel == "alternate" {
				url = strings.TrimSpace(l.Href)
				break
			}
		}
		title := strings.TrimSpace(entry.Title)
		if url == "" || title == "" {
			continue
		}
		summary := strings.TrimSpace(entry.Summary)
		content := strings.TrimSpace(entry.Content)
		if content == "" {
			content = summary
		}
		parsed.Articles = append(parsed.Articles, core.Article{
			ID:          generateArticleID(url),
			URL:         url,
			Title:       title,
			Content:     content,
			Summary:     summary,
			Source:      feed.Name,
			Category:    feed.Category,
			Author:      strings.TrimSpace(entry.Author.Name),
			PublishedAt: parseDate(entry.Published, entry.Updated),
			FetchedAt:   now,
		})
	}
	return parsed
}

// generateArticleID creates a deterministic ID for an article based on its URL.
func generateArticleID(url string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(url)).String()
}

// parseDate parses the first non-empty candidate against the common feed date
// formats. Formats without a zone are taken as UTC. Returns the zero time when
// nothing parses.
func parseDate(candidates ...string) time.Time {
	formats := []string{
		time.RFC1123Z,
		time.RFC1123,
		time.RFC3339,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 MST",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, dateStr := range candidates {
		dateStr = strings.TrimSpace(dateStr)
		if dateStr == "" {
			continue
		}
		for _, format := range formats {
			if t, err := time.Parse(format, dateStr); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}
