// Package router resolves the destinations of an article from the
// subscription registry, the routing table and the delivery ledger.
package router

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"feedrouter/internal/model"
)

// Store is the read side of the persistence layer the router needs.
type Store interface {
	ListActiveSubscribers(ctx context.Context) ([]model.Subscriber, error)
	ListRoutesByCategory(ctx context.Context, category model.Category) ([]model.RoutingEntry, error)
	IsDelivered(ctx context.Context, articleID string, chatID int64) (bool, error)
}

// Router computes eligible destinations. It keeps no state between calls.
type Router struct {
	store Store
	log   *slog.Logger
}

// New creates a Router.
func New(store Store, log *slog.Logger) *Router {
	return &Router{store: store, log: log}
}

// Resolve returns the destinations that should receive the article and have
// not received it yet. Categories are walked in the order given, so when an
// article matches several categories of the same chat the first one decides
// the thread. Each chat appears at most once.
func (r *Router) Resolve(ctx context.Context, a model.Article) ([]model.Destination, error) {
	candidates, err := r.Candidates(ctx, a)
	if err != nil {
		return nil, err
	}

	var out []model.Destination
	for _, d := range candidates {
		delivered, err := r.store.IsDelivered(ctx, a.ID, d.ChatID)
		if err != nil {
			return nil, oops.In("router").With("article_id", a.ID, "chat_id", d.ChatID).Wrapf(err, "check ledger")
		}
		if delivered {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// Candidates returns every eligible destination without consulting the ledger.
func (r *Router) Candidates(ctx context.Context, a model.Article) ([]model.Destination, error) {
	subs, err := r.store.ListActiveSubscribers(ctx)
	if err != nil {
		return nil, oops.In("router").With("article_id", a.ID).Wrapf(err, "list subscribers")
	}
	subs = filterChannel(subs, a.Source)
	if len(subs) == 0 {
		return nil, nil
	}

	categories := a.Categories
	if len(categories) == 0 {
		categories = []model.Category{model.Uncategorized}
	}

	// Explicit bindings win over the default stream: the first enabled
	// binding in category order decides the thread. A chat with no enabled
	// binding falls back to its default stream when some matching category
	// is unbound and the chat has no filter.
	resolved := make(map[int64]bool, len(subs))
	unbound := make(map[int64]bool, len(subs))
	var out []model.Destination
	for _, cat := range categories {
		entries, err := r.store.ListRoutesByCategory(ctx, cat)
		if err != nil {
			return nil, oops.In("router").With("article_id", a.ID, "category", cat).Wrapf(err, "list routes")
		}
		byChat := make(map[int64]model.RoutingEntry, len(entries))
		for _, e := range entries {
			byChat[e.ChatID] = e
		}

		for _, sub := range subs {
			if resolved[sub.ChatID] || !sub.Accepts(cat) {
				continue
			}
			entry, bound := byChat[sub.ChatID]
			switch {
			case !bound:
				unbound[sub.ChatID] = true
			case entry.Enabled:
				out = append(out, model.Destination{ChatID: sub.ChatID, ThreadID: entry.ThreadID})
				resolved[sub.ChatID] = true
			default:
				r.log.Debug("route disabled", "article_id", a.ID, "chat_id", sub.ChatID, "category", cat)
			}
		}
	}

	for _, sub := range subs {
		if !resolved[sub.ChatID] && unbound[sub.ChatID] && !sub.Restricted() {
			out = append(out, model.Destination{ChatID: sub.ChatID})
		}
	}
	return out, nil
}

func filterChannel(subs []model.Subscriber, ch model.Channel) []model.Subscriber {
	out := subs[:0:0]
	for _, s := range subs {
		if s.ChannelEnabled(ch) {
			out = append(out, s)
		}
	}
	return out
}
