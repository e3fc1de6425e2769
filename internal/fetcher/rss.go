package fetcher

import (
	"bytes"
	"context"
	"strings"

	"github.com/mmcdole/gofeed"
	"github.com/samber/oops"

	"feedrouter/internal/model"
)

// RSS reads the site's RSS or Atom feed.
type RSS struct {
	client HTTPClient
	url    string
}

// NewRSS creates an RSS source for feedURL.
func NewRSS(client HTTPClient, feedURL string) *RSS {
	return &RSS{client: client, url: feedURL}
}

func (r *RSS) Name() string { return "rss" }

// Fetch returns the first limit feed items.
func (r *RSS) Fetch(ctx context.Context, limit int) ([]model.Article, error) {
	feed, err := parseFeed(ctx, r.client, r.url)
	if err != nil {
		return nil, err
	}

	var articles []model.Article
	for _, item := range feed.Items {
		if len(articles) >= limit {
			break
		}
		if item.Title == "" || item.Link == "" {
			continue
		}
		articles = append(articles, model.Article{
			ID:            articleID(model.ChannelWebsite, rssItemID(item)),
			Source:        model.ChannelWebsite,
			Title:         stripHTML(item.Title),
			URL:           item.Link,
			Description:   excerpt(stripHTML(item.Description)),
			ImageURL:      rssImage(item),
			PublishedAt:   published(item),
			CategoryNames: item.Categories,
		})
	}
	return articles, nil
}

// rssItemID prefers the WordPress post id so that the same post gets the same
// identity whether it came from the REST API or the feed.
func rssItemID(item *gofeed.Item) string {
	if id := wpPostID(item.GUID); id != "" {
		return id
	}
	if id := wpPostID(item.Link); id != "" {
		return id
	}
	return item.Link
}

func rssImage(item *gofeed.Item) string {
	if media, ok := item.Extensions["media"]; ok {
		for _, key := range []string{"content", "thumbnail"} {
			for _, ext := range media[key] {
				if u := ext.Attrs["url"]; u != "" {
					return u
				}
			}
		}
	}
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc.URL != "" && (enc.Type == "" || strings.HasPrefix(enc.Type, "image/")) {
			return enc.URL
		}
	}
	if img := firstImage(item.Description, nil); img != "" {
		return img
	}
	return firstImage(item.Content, nil)
}

func parseFeed(ctx context.Context, client HTTPClient, url string) (*gofeed.Feed, error) {
	body, err := get(ctx, client, url)
	if err != nil {
		return nil, err
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, oops.In("rss").With("url", url).Wrapf(err, "parse feed")
	}
	return feed, nil
}
