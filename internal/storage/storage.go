// Package storage defines the persistence interfaces and their implementations.
package storage

import (
	"context"
	"errors"

	"feedrouter/internal/model"
)

var (
	// ErrNotFound is returned when a subscriber or routing entry does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyDelivered is returned when a delivery record for the same
	// (article, chat) pair already exists.
	ErrAlreadyDelivered = errors.New("already delivered")
)

// Registry is the subscription registry.
type Registry interface {
	Subscribe(ctx context.Context, chatID int64) (bool, error)
	Unsubscribe(ctx context.Context, chatID int64) error
	SetChannel(ctx context.Context, chatID int64, ch model.Channel, enabled bool) error
	SetContentFilter(ctx context.Context, chatID int64, filter []model.Category) error
	GetSubscriber(ctx context.Context, chatID int64) (*model.Subscriber, error)
	ListActiveSubscribers(ctx context.Context) ([]model.Subscriber, error)
}

// Routes is the routing table.
type Routes interface {
	BindCategory(ctx context.Context, chatID int64, category model.Category, threadID int) error
	SetRouteEnabled(ctx context.Context, chatID int64, category model.Category, enabled bool) error
	GetRoute(ctx context.Context, chatID int64, category model.Category) (*model.RoutingEntry, error)
	ListRoutes(ctx context.Context, chatID int64) ([]model.RoutingEntry, error)
	ListRoutesByCategory(ctx context.Context, category model.Category) ([]model.RoutingEntry, error)
}

// Ledger is the append-only delivery ledger.
type Ledger interface {
	RecordDelivery(ctx context.Context, rec *model.DeliveryRecord) error
	IsDelivered(ctx context.Context, articleID string, chatID int64) (bool, error)
	ListDeliveries(ctx context.Context, articleID string) ([]model.DeliveryRecord, error)
}

// Storage is the interface for all persistence operations.
type Storage interface {
	Registry
	Routes
	Ledger

	Close() error
}
