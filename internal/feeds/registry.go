package feeds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"infodigest/internal/core"
)

// ErrDuplicateFeed is returned when adding a feed whose URL is already
// registered.
var ErrDuplicateFeed = errors.New("feed with this URL already exists")

// ErrFeedNotFound is returned when no feed matches the given name or URL.
var ErrFeedNotFound = errors.New("feed not found")

// validateTimeout bounds a feed validation round trip.
const validateTimeout = 10 * time.Second

type catalogFile struct {
	Feeds []core.Feed `yaml:"feeds"`
}

// Registry is the ordered, file-backed catalog of feeds. Mutations persist
// immediately; reads return snapshots.
type Registry struct {
	mu     sync.Mutex
	path   string
	feeds  []core.Feed
	client *http.Client
}

// NewRegistry loads the catalog from path. A missing file yields an empty
// registry; the file is created on first mutation.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{
		path:   path,
		client: &http.Client{Timeout: validateTimeout},
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("failed to read feeds file: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse feeds file: %w", err)
	}
	r.feeds = file.Feeds
	return r, nil
}

// List returns a snapshot of all feeds in catalog order.
func (r *Registry) List() []core.Feed {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Feed, len(r.feeds))
	copy(out, r.feeds)
	return out
}

// Enabled returns a snapshot of the enabled feeds in catalog order.
func (r *Registry) Enabled() []core.Feed {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.Feed
	for _, f := range r.feeds {
		if f.Enabled {
			out = append(out, f)
		}
	}
	return out
}

// Add registers a new feed. The URL must not already be present.
func (r *Registry) Add(name, url, category string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.feeds {
		if f.URL == url {
			return ErrDuplicateFeed
		}
	}
	if category == "" {
		category = "uncategorized"
	}
	r.feeds = append(r.feeds, core.Feed{
		Name:     name,
		URL:      url,
		Category: category,
		Enabled:  true,
	})
	return r.persistLocked()
}

// Remove deletes the feed whose name or URL exactly matches identifier.
func (r *Registry) Remove(identifier string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, f := range r.feeds {
		if f.Name == identifier || f.URL == identifier {
			r.feeds = append(r.feeds[:i], r.feeds[i+1:]...)
			return r.persistLocked()
		}
	}
	return ErrFeedNotFound
}

// SetEnabled toggles the feed whose name or URL exactly matches identifier.
func (r *Registry) SetEnabled(identifier string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.feeds {
		if r.feeds[i].Name == identifier || r.feeds[i].URL == identifier {
			r.feeds[i].Enabled = enabled
			return r.persistLocked()
		}
	}
	return ErrFeedNotFound
}

// Validate fetches the URL with a 10-second budget and checks the body parses
// as RSS or Atom. The catalog is not mutated.
func (r *Registry) Validate(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("invalid feed URL: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feed returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read feed body: %w", err)
	}
	if _, err := Parse(body, core.Feed{URL: url}); err != nil {
		return fmt.Errorf("invalid feed: %w", err)
	}
	return nil
}

func (r *Registry) persistLocked() error {
	data, err := yaml.Marshal(catalogFile{Feeds: r.feeds})
	if err != nil {
		return fmt.Errorf("failed to marshal feeds: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write feeds file: %w", err)
	}
	return nil
}
