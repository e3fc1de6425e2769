// Package scheduler drives the ingestion cycle: fetch, classify, route, dispatch.
package scheduler

import (
	"context"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"feedrouter/internal/dispatcher"
	"feedrouter/internal/events"
	"feedrouter/internal/model"
)

// Fetcher returns the latest articles of a channel, newest first.
type Fetcher interface {
	Channels() []model.Channel
	Fetch(ctx context.Context, ch model.Channel) iter.Seq[model.Article]
}

// Classifier maps raw tags to canonical categories.
type Classifier interface {
	Classify(a model.Article) []model.Category
}

// Router resolves the destinations an article has not reached yet.
type Router interface {
	Resolve(ctx context.Context, a model.Article) ([]model.Destination, error)
}

// Dispatcher delivers an article to its destinations.
type Dispatcher interface {
	Dispatch(ctx context.Context, a model.Article, content model.Content, dests []model.Destination) dispatcher.Result
}

// RenderFunc turns an article into sendable content.
type RenderFunc func(a model.Article) model.Content

// Options holds the scheduler timing.
type Options struct {
	Interval      time.Duration
	FirstRunDelay time.Duration
}

// Scheduler runs one ingestion cycle at a time, on a fixed interval or on demand.
type Scheduler struct {
	fetcher    Fetcher
	classifier Classifier
	router     Router
	dispatcher Dispatcher
	render     RenderFunc
	log        *slog.Logger
	bus        events.Bus

	interval      time.Duration
	firstRunDelay time.Duration

	// mu serializes cycles, scheduled or manual.
	mu sync.Mutex
}

// New creates a Scheduler.
func New(f Fetcher, c Classifier, r Router, d Dispatcher, render RenderFunc, opts Options, log *slog.Logger, bus events.Bus) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if bus == nil {
		bus = events.Nop{}
	}
	return &Scheduler{
		fetcher:       f,
		classifier:    c,
		router:        r,
		dispatcher:    d,
		render:        render,
		log:           log,
		bus:           bus,
		interval:      opts.Interval,
		firstRunDelay: opts.FirstRunDelay,
	}
}

// Run waits for the first-run delay, runs a cycle, then keeps running cycles
// every interval until ctx is cancelled. It returns once the running cycle,
// if any, has stopped.
func (s *Scheduler) Run(ctx context.Context) {
	if s.firstRunDelay > 0 {
		timer := time.NewTimer(s.firstRunDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
	s.RunCycle(ctx)

	logger := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		if ctx.Err() == nil {
			s.RunCycle(ctx)
		}
	}))
	c.Start()
	s.log.Info("scheduler started", "interval", s.interval)

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info("scheduler stopped")
}

// RunCycle performs one full ingestion cycle and returns its report. Calls
// are serialized. Cancelling ctx stops the cycle between deliveries; the
// ledger records what was already done.
func (s *Scheduler) RunCycle(ctx context.Context) events.CycleReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := events.CycleReport{
		StartedAt: time.Now().UTC(),
		Fetched:   map[model.Channel]int{},
	}

	var articles []model.Article
	for _, ch := range s.fetcher.Channels() {
		var batch []model.Article
		for a := range s.fetcher.Fetch(ctx, ch) {
			batch = append(batch, a)
		}
		report.Fetched[ch] = len(batch)
		// Sources return newest first; deliver oldest first.
		slices.Reverse(batch)
		articles = append(articles, batch...)
	}

	for _, a := range articles {
		if ctx.Err() != nil {
			s.log.Info("cycle cancelled", "remaining", len(articles)-report.Articles)
			break
		}
		report.Articles++
		s.process(ctx, a, &report)
	}

	report.FinishedAt = time.Now().UTC()
	s.log.Info("cycle finished",
		"articles", report.Articles,
		"delivered", report.Delivered,
		"failed", report.Failed,
		"duplicates", report.Duplicates,
		"unrecorded", report.Unrecorded,
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)
	s.bus.Publish(events.Event{Type: events.CycleFinished, Data: report})
	return report
}

func (s *Scheduler) process(ctx context.Context, a model.Article, report *events.CycleReport) {
	a.Categories = s.classifier.Classify(a)
	if slices.Equal(a.Categories, []model.Category{model.Uncategorized}) {
		s.log.Debug("no known category", "article_id", a.ID, "ids", a.CategoryIDs, "names", a.CategoryNames)
	}

	dests, err := s.router.Resolve(ctx, a)
	if err != nil {
		s.log.Error("route article", "article_id", a.ID, "error", err)
		return
	}
	if len(dests) == 0 {
		return
	}

	s.log.Debug("dispatching", "article_id", a.ID, "source", a.Source, "categories", a.Categories, "destinations", len(dests))
	res := s.dispatcher.Dispatch(ctx, a, s.render(a), dests)
	report.Delivered += res.Delivered
	report.Failed += res.Failed
	report.Duplicates += res.Duplicates
	report.Unrecorded += res.Unrecorded
	if res.Fallback {
		report.Fallbacks++
	}
}

// cronLogger routes robfig/cron logging into slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
