// Package fetcher polls the upstream sources and normalizes their items into articles.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/samber/oops"

	"feedrouter/internal/events"
	"feedrouter/internal/model"
)

// ErrTransientFetch marks a source that could not be reached or parsed.
// Such failures are retried on the next cycle.
var ErrTransientFetch = errors.New("transient fetch error")

const (
	userAgent    = "Mozilla/5.0 (compatible; FeedRouter/1.0)"
	maxBodyBytes = 5 * 1024 * 1024
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Source is one upstream endpoint. It returns at most limit items, newest first.
type Source interface {
	Name() string
	Fetch(ctx context.Context, limit int) ([]model.Article, error)
}

// Options configures the default source chains.
type Options struct {
	SiteURL    string
	RSSURLs    []string
	SocialURLs []string
	Limit      int
	Timeout    time.Duration
}

// Fetcher returns the latest articles of a channel. Website sources are tried
// in order and the first one that yields items wins; the same applies to the
// social sources.
type Fetcher struct {
	chains  map[model.Channel][]Source
	limit   int
	timeout time.Duration
	log     *slog.Logger
	bus     events.Bus
}

// New creates a Fetcher with the default chains: WordPress API, RSS feeds and
// homepage scrape for the website, Nitter-style RSS for the social channel.
func New(client HTTPClient, opts Options, log *slog.Logger, bus events.Bus) *Fetcher {
	website := []Source{NewWordPress(client, opts.SiteURL)}
	for _, u := range opts.RSSURLs {
		website = append(website, NewRSS(client, u))
	}
	website = append(website, NewScraper(client, opts.SiteURL))

	chains := map[model.Channel][]Source{model.ChannelWebsite: website}
	if len(opts.SocialURLs) > 0 {
		var social []Source
		for _, u := range opts.SocialURLs {
			social = append(social, NewNitter(client, u))
		}
		chains[model.ChannelSocial] = social
	}
	return NewWithSources(chains, opts.Limit, opts.Timeout, log, bus)
}

// NewWithSources creates a Fetcher with explicit source chains.
func NewWithSources(chains map[model.Channel][]Source, limit int, timeout time.Duration, log *slog.Logger, bus events.Bus) *Fetcher {
	if limit <= 0 {
		limit = 5
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if bus == nil {
		bus = events.Nop{}
	}
	return &Fetcher{
		chains:  chains,
		limit:   limit,
		timeout: timeout,
		log:     log,
		bus:     bus,
	}
}

// Channels returns the channels that have at least one source configured.
func (f *Fetcher) Channels() []model.Channel {
	var out []model.Channel
	for _, ch := range model.Channels {
		if len(f.chains[ch]) > 0 {
			out = append(out, ch)
		}
	}
	return out
}

// Fetch returns the most recent articles of a channel, newest first. Nothing
// is requested until the sequence is ranged over. When every source fails the
// sequence is empty; the failure is logged and published, never returned.
func (f *Fetcher) Fetch(ctx context.Context, ch model.Channel) iter.Seq[model.Article] {
	return func(yield func(model.Article) bool) {
		articles, err := f.fetchChain(ctx, ch)
		if err != nil {
			f.log.Error("fetch failed", "source", ch, "error", err)
			f.bus.Publish(events.Event{Type: events.FetchFailed, Data: events.Fetch{Channel: ch, Err: err}})
			return
		}
		for i, a := range articles {
			if i >= f.limit {
				return
			}
			if !yield(a) {
				return
			}
		}
	}
}

func (f *Fetcher) fetchChain(ctx context.Context, ch model.Channel) ([]model.Article, error) {
	sources := f.chains[ch]
	if len(sources) == 0 {
		return nil, nil
	}

	var errs []error
	for _, src := range sources {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		articles, err := f.fetchOne(ctx, src)
		if err != nil {
			f.log.Warn("source unavailable", "source", ch, "name", src.Name(), "error", err)
			errs = append(errs, err)
			continue
		}
		if len(articles) == 0 {
			f.log.Debug("source returned nothing", "source", ch, "name", src.Name())
			continue
		}
		f.log.Debug("fetched articles", "source", ch, "name", src.Name(), "count", len(articles))
		return articles, nil
	}

	if len(errs) == 0 {
		return nil, nil
	}
	return nil, oops.
		In("fetcher").
		With("channel", ch, "sources", len(sources)).
		Wrapf(fmt.Errorf("%w: %w", ErrTransientFetch, errors.Join(errs...)), "all sources failed")
}

func (f *Fetcher) fetchOne(ctx context.Context, src Source) ([]model.Article, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return src.Fetch(ctx, f.limit)
}

// get downloads url and returns its body.
func get(ctx context.Context, client HTTPClient, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, oops.With("url", url).Wrapf(err, "http get")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, oops.With("url", url, "status", resp.StatusCode).Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, oops.With("url", url).Wrapf(err, "read body")
	}
	return body, nil
}
