package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

// Feed is a named RSS/Atom feed URL.
type Feed struct {
	Name string
	URL  string
}

// Feeds collects entries from status-page and changelog feeds. Deployment
// events, incident updates and release notes all arrive as ordinary items.
type Feeds struct {
	client *http.Client
	parser *gofeed.Parser
	feeds  []Feed
}

// NewFeeds creates a new feed collector.
func NewFeeds(feeds []Feed) *Feeds {
	return &Feeds{
		client: &http.Client{Timeout: 30 * time.Second},
		parser: gofeed.NewParser(),
		feeds:  feeds,
	}
}

func (f *Feeds) Name() SourceType { return SourceFeed }

func (f *Feeds) Collect(ctx context.Context) ([]Item, error) {
	var allItems []Item
	var errs []error
	for _, feed := range f.feeds {
		items, err := f.collectFeed(ctx, feed)
		if err != nil {
			errs = append(errs, &IntegrationError{Channel: feed.Name, Err: err})
			continue
		}
		allItems = append(allItems, items...)
	}
	return allItems, errors.Join(errs...)
}

func (f *Feeds) collectFeed(ctx context.Context, feed Feed) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request %s: %w", feed.Name, err)
	}
	req.Header.Set("User-Agent", "teamradar/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", feed.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s status %d", feed.Name, resp.StatusCode)
	}

	parsed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feed.Name, err)
	}

	var items []Item
	for _, entry := range parsed.Items {
		guid := entry.GUID
		if guid == "" {
			guid = entry.Link
		}

		var created, updated *int64
		if entry.PublishedParsed != nil {
			created = epoch(entry.PublishedParsed.Unix())
			updated = created
		}
		if entry.UpdatedParsed != nil {
			updated = epoch(entry.UpdatedParsed.Unix())
			if created == nil {
				created = updated
			}
		}

		link := entry.Link
		if link == "" && len(entry.Links) > 0 {
			link = entry.Links[0]
		}

		author := ""
		if entry.Author != nil {
			author = entry.Author.Name
		}

		items = append(items, Item{
			Source:    SourceFeed,
			SourceID:  feed.Name + ":" + guid,
			Title:     entry.Title,
			Body:      entry.Description,
			CreatedAt: created,
			UpdatedAt: updated,
			Author:    author,
			URL:       link,
		})
	}
	return items, nil
}
