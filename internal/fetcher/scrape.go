package fetcher

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/oops"

	"feedrouter/internal/model"
)

// Selectors for article links on the homepage, most specific first.
var scrapeSelectors = []string{
	"article h2 a[href], article h3 a[href]",
	"h2 a[href], h3 a[href]",
	`a[href*="/news/"], a[href*="/article/"], a[href*="/post/"]`,
}

// Scraper extracts article links from the site's homepage. It is the last
// resort of the website chain: scraped articles carry no categories.
type Scraper struct {
	client  HTTPClient
	siteURL string
}

// NewScraper creates a homepage scraper for siteURL.
func NewScraper(client HTTPClient, siteURL string) *Scraper {
	return &Scraper{client: client, siteURL: siteURL}
}

func (s *Scraper) Name() string { return "homepage" }

// Fetch returns up to limit distinct article links in page order.
func (s *Scraper) Fetch(ctx context.Context, limit int) ([]model.Article, error) {
	base, err := url.Parse(s.siteURL)
	if err != nil {
		return nil, oops.In("homepage").With("url", s.siteURL).Wrapf(err, "parse site url")
	}
	body, err := get(ctx, s.client, s.siteURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, oops.In("homepage").With("url", s.siteURL).Wrapf(err, "parse html")
	}

	seen := map[string]bool{}
	var articles []model.Article
	for _, sel := range scrapeSelectors {
		doc.Find(sel).EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href, _ := a.Attr("href")
			link := resolve(base, href)
			title := strings.TrimSpace(spaces.ReplaceAllString(a.Text(), " "))
			if link == "" || title == "" || seen[link] || !sameHost(base, link) {
				return true
			}
			seen[link] = true
			articles = append(articles, model.Article{
				ID:     articleID(model.ChannelWebsite, scrapedID(a, link)),
				Source: model.ChannelWebsite,
				Title:  title,
				URL:    link,
			})
			return len(articles) < limit
		})
		if len(articles) >= limit {
			break
		}
	}
	return articles, nil
}

// scrapedID returns the WordPress post ID from a ?p= link or the enclosing
// <article id="post-N">, and the link itself otherwise.
func scrapedID(a *goquery.Selection, link string) string {
	if id := wpPostID(link); id != "" {
		return id
	}
	if attr, ok := a.Closest("article").Attr("id"); ok {
		if id, found := strings.CutPrefix(attr, "post-"); found && id != "" && strings.Trim(id, "0123456789") == "" {
			return id
		}
	}
	return link
}

func sameHost(base *url.URL, link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return strings.TrimPrefix(u.Host, "www.") == strings.TrimPrefix(base.Host, "www.")
}
