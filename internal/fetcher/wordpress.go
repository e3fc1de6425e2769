package fetcher

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"

	"feedrouter/internal/model"
)

const wpTimeLayout = "2006-01-02T15:04:05"

// WordPress reads posts from the WordPress REST API with embedded terms and media.
type WordPress struct {
	client  HTTPClient
	siteURL string
}

// NewWordPress creates a WordPress source for the site at siteURL.
func NewWordPress(client HTTPClient, siteURL string) *WordPress {
	return &WordPress{client: client, siteURL: strings.TrimRight(siteURL, "/")}
}

func (w *WordPress) Name() string { return "wordpress" }

type wpRendered struct {
	Rendered string `json:"rendered"`
}

type wpMedia struct {
	SourceURL    string `json:"source_url"`
	MediaDetails struct {
		Sizes map[string]struct {
			SourceURL string `json:"source_url"`
		} `json:"sizes"`
	} `json:"media_details"`
}

type wpTerm struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Taxonomy string `json:"taxonomy"`
}

type wpPost struct {
	ID         int        `json:"id"`
	DateGMT    string     `json:"date_gmt"`
	Link       string     `json:"link"`
	Title      wpRendered `json:"title"`
	Excerpt    wpRendered `json:"excerpt"`
	Categories []int      `json:"categories"`
	Embedded   struct {
		FeaturedMedia []wpMedia  `json:"wp:featuredmedia"`
		Terms         [][]wpTerm `json:"wp:term"`
	} `json:"_embedded"`
}

func (w *WordPress) endpoint(limit int) string {
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(limit))
	q.Set("orderby", "date")
	q.Set("order", "desc")
	q.Set("_embed", "1")
	return w.siteURL + "/wp-json/wp/v2/posts?" + q.Encode()
}

// Fetch returns the latest posts.
func (w *WordPress) Fetch(ctx context.Context, limit int) ([]model.Article, error) {
	u := w.endpoint(limit)
	body, err := get(ctx, w.client, u)
	if err != nil {
		return nil, err
	}

	var posts []wpPost
	if err := json.Unmarshal(body, &posts); err != nil {
		return nil, oops.In("wordpress").With("url", u).Wrapf(err, "decode posts")
	}

	articles := make([]model.Article, 0, len(posts))
	for _, p := range posts {
		if p.ID == 0 || p.Link == "" {
			continue
		}
		a := model.Article{
			ID:          articleID(model.ChannelWebsite, strconv.Itoa(p.ID)),
			Source:      model.ChannelWebsite,
			Title:       stripHTML(p.Title.Rendered),
			URL:         p.Link,
			Description: excerpt(stripHTML(p.Excerpt.Rendered)),
			ImageURL:    p.featuredImage(),
			CategoryIDs: p.Categories,
		}
		if a.Title == "" {
			a.Title = "New Article"
		}
		if t, err := time.Parse(wpTimeLayout, p.DateGMT); err == nil {
			a.PublishedAt = t.UTC()
		}
		for _, group := range p.Embedded.Terms {
			for _, term := range group {
				if term.Taxonomy == "category" && term.Name != "" {
					a.CategoryNames = append(a.CategoryNames, stripHTML(term.Name))
				}
			}
		}
		articles = append(articles, a)
	}
	return articles, nil
}

func (p wpPost) featuredImage() string {
	if len(p.Embedded.FeaturedMedia) == 0 {
		return ""
	}
	media := p.Embedded.FeaturedMedia[0]
	if media.SourceURL != "" {
		return media.SourceURL
	}
	for _, size := range []string{"medium_large", "large", "medium", "full"} {
		if s, ok := media.MediaDetails.Sizes[size]; ok && s.SourceURL != "" {
			return s.SourceURL
		}
	}
	return ""
}

func articleID(ch model.Channel, nativeID string) string {
	return string(ch) + "_" + nativeID
}
