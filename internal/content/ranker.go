// Package content ranks a repository's feed items for digests.
package content

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/ignite/repogrowth/internal/domain"
	"github.com/ignite/repogrowth/internal/pkg/httpretry"
	"github.com/ignite/repogrowth/internal/pkg/logger"
)

const (
	maxSummaryLen = 280
	maxFeedBytes  = 5 << 20
	userAgent     = "repogrowth-digest/1.0"
)

// ErrFeedStatus is returned when the feed URL answers with a non-2xx status.
var ErrFeedStatus = errors.New("content: unexpected feed status")

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// FeedRanker reads the repository's RSS/Atom/JSON feed and ranks the items
// published inside a window, newest first.
type FeedRanker struct {
	client httpretry.HTTPDoer
	parser *gofeed.Parser
}

// NewFeedRanker creates a ranker. A nil client means a retrying client with
// default settings.
func NewFeedRanker(client httpretry.HTTPDoer) *FeedRanker {
	if client == nil {
		client = httpretry.NewRetryClient(nil, 3)
	}
	return &FeedRanker{client: client, parser: gofeed.NewParser()}
}

// TopContent returns up to limit items published in [start, end). A
// repository without a feed has no content.
func (r *FeedRanker) TopContent(ctx context.Context, repo *domain.Repository, start, end time.Time, limit int) ([]domain.ContentItem, error) {
	if repo.FeedURL == "" {
		return nil, nil
	}
	feed, err := r.fetch(ctx, repo.FeedURL)
	if err != nil {
		return nil, fmt.Errorf("fetch feed for %s: %w", repo.ID, err)
	}

	window := end.Sub(start).Seconds()
	var items []domain.ContentItem
	for _, it := range feed.Items {
		at := published(it)
		if at.IsZero() || at.Before(start) || !at.Before(end) {
			continue
		}
		id := it.GUID
		if id == "" {
			id = it.Link
		}
		items = append(items, domain.ContentItem{
			ID:          id,
			Title:       strings.TrimSpace(it.Title),
			URL:         it.Link,
			Summary:     summarize(it.Description),
			PublishedAt: at.UTC(),
			Score:       at.Sub(start).Seconds() / window,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Title < items[j].Title
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	logger.Debug("feed ranked", "repository_id", repo.ID, "feed_items", len(feed.Items), "in_window", len(items))
	return items, nil
}

func (r *FeedRanker) fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %d", ErrFeedStatus, resp.StatusCode)
	}
	return r.parser.Parse(io.LimitReader(resp.Body, maxFeedBytes))
}

func published(it *gofeed.Item) time.Time {
	if it.PublishedParsed != nil {
		return *it.PublishedParsed
	}
	if it.UpdatedParsed != nil {
		return *it.UpdatedParsed
	}
	return time.Time{}
}

func summarize(raw string) string {
	text := tagPattern.ReplaceAllString(raw, "")
	text = html.UnescapeString(text)
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > maxSummaryLen {
		text = strings.TrimSpace(string(r[:maxSummaryLen-1])) + "…"
	}
	return text
}
