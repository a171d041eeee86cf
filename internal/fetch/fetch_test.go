package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"infodigest/internal/core"
)

// fixedNow pins the clock so retention math is deterministic.
var fixedNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

const articlePage = `<html><body>
<article>
<h1>Chipmaker raises guidance</h1>
<p>Full page body paragraph one.</p>
<p>Full page body paragraph two.</p>
</article>
<nav>ignored navigation</nav>
</body></html>`

func feedXML(items string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Test Feed</title>` + items + `</channel></rss>`
}

func rssItem(title, link string, published time.Time, content string) string {
	return fmt.Sprintf(`<item><title>%s</title><link>%s</link><description>%s</description><pubDate>%s</pubDate></item>`,
		title, link, content, published.Format(time.RFC1123Z))
}

func TestFetchAllRetentionBoundary(t *testing.T) {
	cutoff := fixedNow.AddDate(0, 0, -RetentionDays)
	items := rssItem("fresh", "https://unreachable.invalid/fresh", fixedNow.AddDate(0, 0, -1), strings.Repeat("x", 600)) +
		rssItem("boundary", "https://unreachable.invalid/boundary", cutoff, strings.Repeat("x", 600)) +
		rssItem("stale", "https://unreachable.invalid/stale", cutoff.Add(-time.Second), strings.Repeat("x", 600))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feedXML(items))
	}))
	defer srv.Close()

	f := NewFetcher(WithClock(func() time.Time { return fixedNow }))
	got, err := f.FetchAll(context.Background(), []core.Feed{{Name: "Test Feed", URL: srv.URL}})
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}

	titles := make(map[string]bool)
	for _, a := range got {
		titles[a.Title] = true
	}
	if !titles["fresh"] || !titles["boundary"] {
		t.Errorf("fresh and boundary articles must be kept, got %v", titles)
	}
	if titles["stale"] {
		t.Error("article older than the retention window must be dropped")
	}
}

func TestFetchAllDedupByURL(t *testing.T) {
	item := rssItem("same story", "https://unreachable.invalid/story", fixedNow, strings.Repeat("x", 600))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feedXML(item))
	}))
	defer srv.Close()

	// Two feeds carrying the same entry URL.
	feedList := []core.Feed{
		{Name: "A", URL: srv.URL + "/a"},
		{Name: "B", URL: srv.URL + "/b"},
	}
	f := NewFetcher(WithClock(func() time.Time { return fixedNow }), WithFetchWorkers(1))
	got, err := f.FetchAll(context.Background(), feedList)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d articles, want 1 after URL dedup", len(got))
	}
	if got[0].Source != "A" {
		t.Errorf("first seen must win, got source %q", got[0].Source)
	}
}

func TestFetchAllFailingFeedDoesNotAffectOthers(t *testing.T) {
	item := rssItem("survivor", "https://unreachable.invalid/ok", fixedNow, strings.Repeat("x", 600))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/broken") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, feedXML(item))
	}))
	defer srv.Close()

	f := NewFetcher(WithClock(func() time.Time { return fixedNow }))
	got, err := f.FetchAll(context.Background(), []core.Feed{
		{Name: "Broken", URL: srv.URL + "/broken"},
		{Name: "Good", URL: srv.URL + "/good"},
	})
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(got) != 1 || got[0].Title != "survivor" {
		t.Errorf("got %+v, want only the article from the healthy feed", got)
	}
}

func TestFetchAllExtractsThinContent(t *testing.T) {
	var pageHits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			atomic.AddInt32(&pageHits, 1)
			fmt.Fprint(w, articlePage)
		default:
			// One thin entry pointing at /page, one already-substantial entry.
			items := `<item><title>thin</title><link>` + srvURL(r) + `/page</link><description>short</description></item>` +
				rssItem("thick", srvURL(r)+"/never-fetched", fixedNow, strings.Repeat("y", 600))
			fmt.Fprint(w, feedXML(items))
		}
	}))
	defer srv.Close()

	f := NewFetcher(WithClock(func() time.Time { return fixedNow }), WithExtractWorkers(1))
	got, err := f.FetchAll(context.Background(), []core.Feed{{Name: "Mixed", URL: srv.URL + "/feed"}})
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d articles, want 2", len(got))
	}

	byTitle := make(map[string]core.Article)
	for _, a := range got {
		byTitle[a.Title] = a
	}
	if !strings.Contains(byTitle["thin"].Content, "Full page body paragraph one.") {
		t.Errorf("thin article content not replaced by extraction, got %q", byTitle["thin"].Content)
	}
	if !strings.HasPrefix(byTitle["thick"].Content, "yyy") {
		t.Error("substantial feed content must not be replaced")
	}
	if n := atomic.LoadInt32(&pageHits); n != 1 {
		t.Errorf("page fetched %d times, want 1 (thick entry skips extraction)", n)
	}
}

func TestFetchAllExtractionFailureKeepsFeedContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		items := `<item><title>thin</title><link>` + srvURL(r) + `/missing</link><description>feed copy</description></item>`
		fmt.Fprint(w, feedXML(items))
	}))
	defer srv.Close()

	f := NewFetcher(WithClock(func() time.Time { return fixedNow }))
	got, err := f.FetchAll(context.Background(), []core.Feed{{Name: "F", URL: srv.URL + "/feed"}})
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(got) != 1 || got[0].Content != "feed copy" {
		t.Errorf("extraction failure must keep the feed content, got %+v", got)
	}
}

// srvURL reconstructs the test server's base URL from the incoming request so
// feed entries can point back at the same server.
func srvURL(r *http.Request) string {
	return "http://" + r.Host
}
