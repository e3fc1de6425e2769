package fetcher

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"feedrouter/internal/model"
)

var statusID = regexp.MustCompile(`/([^/]+)/status/(\d+)`)

// Nitter reads a Nitter-style RSS mirror of a social account.
type Nitter struct {
	client HTTPClient
	url    string
}

// NewNitter creates a social source for an instance feed URL such as
// https://nitter.net/davedotsport/rss.
func NewNitter(client HTTPClient, feedURL string) *Nitter {
	return &Nitter{client: client, url: feedURL}
}

func (n *Nitter) Name() string {
	if u, err := url.Parse(n.url); err == nil && u.Host != "" {
		return "nitter:" + u.Host
	}
	return "nitter"
}

// Fetch returns original posts only; reposts and replies are skipped.
func (n *Nitter) Fetch(ctx context.Context, limit int) ([]model.Article, error) {
	feed, err := parseFeed(ctx, n.client, n.url)
	if err != nil {
		return nil, err
	}

	base, _ := url.Parse(n.url)
	var articles []model.Article
	for _, item := range feed.Items {
		if len(articles) >= limit {
			break
		}
		text := strings.TrimSpace(item.Title)
		if text == "" || strings.HasPrefix(text, "RT by") || strings.HasPrefix(text, "R to") {
			continue
		}
		m := statusID.FindStringSubmatch(item.Link)
		if m == nil {
			continue
		}
		handle, id := m[1], m[2]
		image := firstImage(item.Description, isMediaURL)
		if image != "" && base != nil {
			image = resolve(base, image)
		}
		articles = append(articles, model.Article{
			ID:            articleID(model.ChannelSocial, id),
			Source:        model.ChannelSocial,
			Title:         handle,
			URL:           "https://x.com/" + handle + "/status/" + id,
			Description:   stripHTML(text),
			ImageURL:      image,
			PublishedAt:   published(item),
			CategoryNames: item.Categories,
		})
	}
	return articles, nil
}

func isMediaURL(src string) bool {
	return strings.Contains(src, "/pic/") || strings.Contains(src, "/media/")
}

func published(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC()
	}
	return time.Time{}
}
