// Package fetch retrieves feeds concurrently and maps entries to articles.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"infodigest/internal/core"
	"infodigest/internal/feeds"
	"infodigest/internal/logger"
)

const (
	// DefaultFetchWorkers is the width of the feed-fetching pool.
	DefaultFetchWorkers = 10
	// DefaultExtractWorkers is the width of the full-text extraction pool.
	DefaultExtractWorkers = 5
	// feedTimeout bounds one feed's full HTTP round trip.
	feedTimeout = 30 * time.Second
	// RetentionDays is the article age cutoff. Entries published exactly at
	// the boundary are kept.
	RetentionDays = 180

	userAgent = "InfoDigest RSS Reader/1.0"
)

// Fetcher retrieves enabled feeds with bounded parallelism and returns
// deduplicated, in-retention articles. It never retries a failed feed; the
// next scheduler firing provides coarse retry.
type Fetcher struct {
	client         *http.Client
	fetchWorkers   int
	extractWorkers int
	extractor      *Extractor
	now            func() time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithFetchWorkers sets the feed pool width.
func WithFetchWorkers(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.fetchWorkers = n
		}
	}
}

// WithExtractWorkers sets the extraction pool width.
func WithExtractWorkers(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.extractWorkers = n
		}
	}
}

// WithClock overrides the time source. Used by tests to pin the retention
// boundary.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// NewFetcher creates a Fetcher with default pool widths.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:         &http.Client{Timeout: feedTimeout},
		fetchWorkers:   DefaultFetchWorkers,
		extractWorkers: DefaultExtractWorkers,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(f)
	}
	f.extractor = NewExtractor()
	return f
}

// FetchAll fetches every feed in the list, extracts full text where the feed
// content is thin, and returns articles deduplicated by URL (first seen wins)
// and newer than the retention cutoff. A failing feed yields zero articles and
// does not affect the others.
func (f *Fetcher) FetchAll(ctx context.Context, feedList []core.Feed) ([]core.Article, error) {
	cutoff := f.now().AddDate(0, 0, -RetentionDays)

	var mu sync.Mutex
	var collected []core.Article

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.fetchWorkers)
	for _, feed := range feedList {
		feed := feed
		g.Go(func() error {
			articles, err := f.fetchFeed(gctx, feed)
			if err != nil {
				logger.Warn("feed fetch failed", "feed", feed.Name, "url", feed.URL, "error", err.Error())
				return nil
			}
			kept := filterRetention(articles, cutoff)
			mu.Lock()
			collected = append(collected, kept...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	collected = dedupByURL(collected)
	f.extractAll(ctx, collected)
	return collected, nil
}

// fetchFeed retrieves and parses one feed within the feed timeout.
func (f *Fetcher) fetchFeed(ctx context.Context, feed core.Feed) ([]core.Article, error) {
	ctx, cancel := context.WithTimeout(ctx, feedTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed body: %w", err)
	}

	parsed, err := feeds.Parse(body, feed)
	if err != nil {
		return nil, err
	}
	return parsed.Articles, nil
}

// extractAll runs full-text extraction over the article set on a bounded
// pool. Articles that already carry substantial content are skipped; failures
// silently keep the feed-provided content.
func (f *Fetcher) extractAll(ctx context.Context, articles []core.Article) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.extractWorkers)
	for i := range articles {
		if len(articles[i].Content) > extractSkipLength {
			continue
		}
		i := i
		g.Go(func() error {
			text, err := f.extractor.Extract(gctx, articles[i].URL)
			if err != nil {
				logger.Debug("content extraction failed", "url", articles[i].URL, "error", err.Error())
				return nil
			}
			if text != "" {
				articles[i].Content = text
			}
			return nil
		})
	}
	_ = g.Wait()
}

func filterRetention(articles []core.Article, cutoff time.Time) []core.Article {
	var kept []core.Article
	for _, a := range articles {
		if !a.PublishedAt.IsZero() && a.PublishedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, a)
	}
	return kept
}

func dedupByURL(articles []core.Article) []core.Article {
	seen := make(map[string]bool, len(articles))
	out := articles[:0]
	for _, a := range articles {
		if seen[a.URL] {
			continue
		}
		seen[a.URL] = true
		out = append(out, a)
	}
	return out
}
