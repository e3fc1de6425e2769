// Package model defines the domain types used across the application.
package model

import "time"

// Channel names an upstream source channel a subscriber can toggle.
type Channel string

// Supported channels.
const (
	ChannelWebsite Channel = "website"
	ChannelSocial  Channel = "social"
)

// Channels lists every supported channel in display order.
var Channels = []Channel{ChannelWebsite, ChannelSocial}

// Category is a canonical content category.
type Category string

// Uncategorized marks an article none of whose raw tags are known.
const Uncategorized Category = "uncategorized"

// Article is a normalized item returned by a source. It only lives for one
// ingestion cycle; the ledger keeps nothing but its ID.
type Article struct {
	ID            string
	Source        Channel
	Title         string
	URL           string
	Description   string
	ImageURL      string
	PublishedAt   time.Time
	CategoryIDs   []int
	CategoryNames []string
	Categories    []Category
}

// Subscriber is a chat participating in the feed.
type Subscriber struct {
	ChatID        int64
	Channels      map[Channel]bool
	ContentFilter []Category
	SubscribedAt  time.Time
}

// ChannelEnabled reports whether the subscriber receives articles from ch.
func (s Subscriber) ChannelEnabled(ch Channel) bool {
	return s.Channels[ch]
}

// Active reports whether any channel is switched on.
func (s Subscriber) Active() bool {
	for _, on := range s.Channels {
		if on {
			return true
		}
	}
	return false
}

// Restricted reports whether the subscriber has an explicit category filter.
func (s Subscriber) Restricted() bool {
	return len(s.ContentFilter) > 0
}

// Accepts reports whether the content filter lets category c through.
// An empty filter accepts everything.
func (s Subscriber) Accepts(c Category) bool {
	if len(s.ContentFilter) == 0 {
		return true
	}
	for _, f := range s.ContentFilter {
		if f == c {
			return true
		}
	}
	return false
}

// RoutingEntry binds a category of a chat to a destination thread.
// ThreadID 0 means the chat's default stream.
type RoutingEntry struct {
	ChatID    int64
	Category  Category
	ThreadID  int
	Enabled   bool
	CreatedAt time.Time
}

// Destination is a chat plus an optional forum thread (0 = default stream).
type Destination struct {
	ChatID   int64
	ThreadID int
}

// DeliveryRecord proves that an article was delivered to a chat.
type DeliveryRecord struct {
	ArticleID string
	ChatID    int64
	ThreadID  int
	Source    Channel
	MessageID int
	PostedAt  time.Time
}

// Content is a rendered article ready for the send primitive.
type Content struct {
	Text        string
	PhotoURL    string
	ButtonText  string
	ButtonURL   string
	LinkPreview bool
}
