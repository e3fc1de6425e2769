// Package dispatcher delivers a rendered article to its destinations and
// records every successful delivery in the ledger.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"feedrouter/internal/events"
	"feedrouter/internal/model"
	"feedrouter/internal/storage"
)

// ErrDeliveryFailed marks a send that was rejected or timed out. No ledger
// row is written, so the destination stays eligible for the next cycle.
var ErrDeliveryFailed = errors.New("delivery failed")

// ErrUnrecorded marks a message that went out but whose ledger row could not
// be written.
var ErrUnrecorded = errors.New("delivery not recorded")

// Sender is the outbound send primitive. It returns the message ID assigned
// by the messaging service.
type Sender interface {
	Send(ctx context.Context, dest model.Destination, content model.Content) (int, error)
}

// Ledger is the write side of the delivery ledger.
type Ledger interface {
	RecordDelivery(ctx context.Context, rec *model.DeliveryRecord) error
	IsDelivered(ctx context.Context, articleID string, chatID int64) (bool, error)
}

// Options tunes the dispatcher.
type Options struct {
	SendTimeout time.Duration
	// Rate is the overall send rate in messages per second; 0 disables limiting.
	Rate    float64
	Workers int
	// Fallback receives an article whose every delivery failed. ChatID 0 disables it.
	Fallback model.Destination
}

// Result summarizes one Dispatch call.
type Result struct {
	Delivered  int
	Failed     int
	Duplicates int
	Skipped    int
	Unrecorded int
	Fallback   bool
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeDelivered
	outcomeDuplicate
	outcomeFailed
	outcomeUnrecorded
)

type deliveryKey struct {
	articleID string
	chatID    int64
}

// Dispatcher sends articles to destinations concurrently.
type Dispatcher struct {
	sender   Sender
	ledger   Ledger
	limiter  *rate.Limiter
	timeout  time.Duration
	workers  int
	fallback model.Destination
	log      *slog.Logger
	bus      events.Bus
	backoff  func() retry.Backoff // paces ledger insert retries

	mu sync.Mutex
	// unrecorded holds sent deliveries whose ledger row is still missing.
	unrecorded map[deliveryKey]*model.DeliveryRecord
}

// New creates a Dispatcher.
func New(sender Sender, ledger Ledger, opts Options, log *slog.Logger, bus events.Bus) *Dispatcher {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), 1)
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if bus == nil {
		bus = events.Nop{}
	}
	return &Dispatcher{
		sender:     sender,
		ledger:     ledger,
		limiter:    limiter,
		timeout:    opts.SendTimeout,
		workers:    opts.Workers,
		fallback:   opts.Fallback,
		log:        log,
		bus:        bus,
		backoff:    recordBackoff,
		unrecorded: map[deliveryKey]*model.DeliveryRecord{},
	}
}

func recordBackoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.NewExponential(50*time.Millisecond))
}

// Dispatch delivers content to every destination independently. A failure
// on one destination never stops the others. If there was at least one
// destination and every attempt failed, the article goes to the fallback
// destination, which is deduplicated by its own ledger row.
//
// Cancelling ctx stops new attempts; attempts already running finish or
// time out on their own.
func (d *Dispatcher) Dispatch(ctx context.Context, a model.Article, content model.Content, dests []model.Destination) Result {
	outcomes := make([]outcome, len(dests))

	var g errgroup.Group
	g.SetLimit(d.workers)
	for i, dest := range dests {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcomes[i] = d.deliver(ctx, a, content, dest)
			return nil
		})
	}
	_ = g.Wait()

	var res Result
	for _, o := range outcomes {
		switch o {
		case outcomeDelivered:
			res.Delivered++
		case outcomeDuplicate:
			res.Duplicates++
		case outcomeFailed:
			res.Failed++
		case outcomeUnrecorded:
			res.Unrecorded++
		default:
			res.Skipped++
		}
	}

	if len(dests) > 0 && res.Failed == len(dests) {
		res.Fallback = d.deliverFallback(ctx, a, content, dests)
	}
	return res
}

func (d *Dispatcher) deliverFallback(ctx context.Context, a model.Article, content model.Content, dests []model.Destination) bool {
	if d.fallback.ChatID == 0 || ctx.Err() != nil {
		return false
	}
	for _, dest := range dests {
		if dest.ChatID == d.fallback.ChatID {
			return false
		}
	}

	delivered, err := d.ledger.IsDelivered(ctx, a.ID, d.fallback.ChatID)
	if err != nil {
		d.log.Error("check fallback ledger", "article_id", a.ID, "chat_id", d.fallback.ChatID, "error", err)
		return false
	}
	if delivered {
		return false
	}

	d.log.Warn("all destinations failed, using fallback",
		"article_id", a.ID, "destinations", len(dests), "chat_id", d.fallback.ChatID, "thread_id", d.fallback.ThreadID)
	return d.deliver(ctx, a, content, d.fallback) == outcomeDelivered
}

func (d *Dispatcher) deliver(ctx context.Context, a model.Article, content model.Content, dest model.Destination) outcome {
	key := deliveryKey{articleID: a.ID, chatID: dest.ChatID}
	if rec := d.pending(key); rec != nil {
		// Sent in an earlier attempt; only the ledger row is owed.
		return d.record(ctx, a, rec)
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return outcomeSkipped
	}

	msgID, err := d.send(ctx, dest, content)
	if err != nil {
		err = oops.
			In("dispatcher").
			With("article_id", a.ID, "chat_id", dest.ChatID, "thread_id", dest.ThreadID).
			Wrap(fmt.Errorf("%w: %w", ErrDeliveryFailed, err))
		d.log.Warn("delivery failed",
			"article_id", a.ID, "chat_id", dest.ChatID, "thread_id", dest.ThreadID, "source", a.Source, "error", err)
		d.bus.Publish(events.Event{Type: events.DeliveryFailed, Data: events.Delivery{ArticleID: a.ID, Destination: dest, Err: err}})
		return outcomeFailed
	}

	rec := &model.DeliveryRecord{
		ArticleID: a.ID,
		ChatID:    dest.ChatID,
		ThreadID:  dest.ThreadID,
		Source:    a.Source,
		MessageID: msgID,
	}
	o := d.record(ctx, a, rec)
	if o == outcomeDuplicate {
		return o
	}
	d.log.Info("delivered",
		"article_id", a.ID, "chat_id", dest.ChatID, "thread_id", dest.ThreadID, "source", a.Source, "message_id", msgID)
	if o == outcomeDelivered {
		d.bus.Publish(events.Event{Type: events.DeliverySucceeded, Data: events.Delivery{ArticleID: a.ID, Destination: dest, MessageID: msgID}})
	}
	return o
}

// record writes the ledger row for a message that is already out. The insert
// runs even when ctx is cancelled and is retried on transient errors. A row
// that still cannot be written is kept in memory so the destination is never
// sent to again by this process.
func (d *Dispatcher) record(ctx context.Context, a model.Article, rec *model.DeliveryRecord) outcome {
	key := deliveryKey{articleID: rec.ArticleID, chatID: rec.ChatID}
	dest := model.Destination{ChatID: rec.ChatID, ThreadID: rec.ThreadID}

	err := retry.Do(context.WithoutCancel(ctx), d.backoff(), func(ctx context.Context) error {
		err := d.ledger.RecordDelivery(ctx, rec)
		if err != nil && !errors.Is(err, storage.ErrAlreadyDelivered) {
			return retry.RetryableError(err)
		}
		return err
	})

	switch {
	case err == nil:
		if d.forget(key) {
			d.log.Info("recorded pending delivery", "article_id", a.ID, "chat_id", rec.ChatID, "message_id", rec.MessageID)
			return outcomeDuplicate
		}
		return outcomeDelivered
	case errors.Is(err, storage.ErrAlreadyDelivered):
		d.forget(key)
		d.log.Info("already delivered", "article_id", a.ID, "chat_id", rec.ChatID, "thread_id", rec.ThreadID)
		d.bus.Publish(events.Event{Type: events.DeliveryDuplicate, Data: events.Delivery{ArticleID: a.ID, Destination: dest, MessageID: rec.MessageID}})
		return outcomeDuplicate
	}

	d.mu.Lock()
	d.unrecorded[key] = rec
	d.mu.Unlock()

	err = oops.
		In("dispatcher").
		With("article_id", a.ID, "chat_id", rec.ChatID, "thread_id", rec.ThreadID, "message_id", rec.MessageID).
		Wrap(fmt.Errorf("%w: %w", ErrUnrecorded, err))
	d.log.Error("record delivery", "article_id", a.ID, "chat_id", rec.ChatID, "thread_id", rec.ThreadID, "error", err)
	d.bus.Publish(events.Event{Type: events.DeliveryUnrecorded, Data: events.Delivery{ArticleID: a.ID, Destination: dest, MessageID: rec.MessageID, Err: err}})
	return outcomeUnrecorded
}

func (d *Dispatcher) pending(key deliveryKey) *model.DeliveryRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unrecorded[key]
}

func (d *Dispatcher) forget(key deliveryKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.unrecorded[key]
	delete(d.unrecorded, key)
	return ok
}

func (d *Dispatcher) send(ctx context.Context, dest model.Destination, content model.Content) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	return d.sender.Send(ctx, dest, content)
}
