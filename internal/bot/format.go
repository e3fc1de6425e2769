package bot

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/samber/lo"

	"feedrouter/internal/events"
	"feedrouter/internal/model"
)

// FormatArticle renders an article as HTML content with a link button.
func FormatArticle(a model.Article) model.Content {
	if a.Source == model.ChannelSocial {
		return formatSocialPost(a)
	}

	title := a.Title
	if title == "" {
		title = "New Article"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📰 <b>%s</b>", html.EscapeString(title))
	if a.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(html.EscapeString(a.Description))
	}
	if a.URL != "" {
		fmt.Fprintf(&b, "\n\n<a href=\"%s\">Read more →</a>", html.EscapeString(a.URL))
	}

	c := model.Content{Text: b.String(), PhotoURL: a.ImageURL}
	if a.URL != "" {
		c.ButtonText = "📖 Read Article"
		c.ButtonURL = a.URL
	}
	return c
}

func formatSocialPost(a model.Article) model.Content {
	var b strings.Builder
	fmt.Fprintf(&b, "📱 <b>@%s</b>", html.EscapeString(strings.TrimPrefix(a.Title, "@")))
	if a.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(html.EscapeString(a.Description))
	}

	c := model.Content{Text: b.String(), PhotoURL: a.ImageURL}
	if a.URL != "" {
		c.ButtonText = "Open on X"
		c.ButtonURL = a.URL
	}
	return c
}

// FormatCategories lists the canonical categories in routing priority order.
func FormatCategories(cats []model.Category) string {
	var b strings.Builder
	b.WriteString("Categories (highest priority first):\n")
	for _, c := range cats {
		fmt.Fprintf(&b, "  %s\n", c)
	}
	fmt.Fprintf(&b, "\nArticles with no known category are %s.", model.Uncategorized)
	return b.String()
}

// FormatBindings lists the routing entries of a chat.
func FormatBindings(routes []model.RoutingEntry) string {
	if len(routes) == 0 {
		return "No bindings yet. Use /bind <category> [thread_id] to add one."
	}
	var b strings.Builder
	b.WriteString("Bindings:\n")
	for _, r := range routes {
		fmt.Fprintf(&b, "\n%s -> %s [%s]", r.Category, threadLabel(r.ThreadID), stateLabel(r.Enabled))
	}
	return b.String()
}

// FormatStatus describes a chat's subscription and the last ingestion cycle.
func FormatStatus(sub *model.Subscriber, routes []model.RoutingEntry, report *events.CycleReport) string {
	var b strings.Builder
	if sub == nil {
		b.WriteString("This chat is not subscribed. Use /subscribe to start.\n")
	} else {
		b.WriteString("Subscription:\n")
		for _, ch := range model.Channels {
			fmt.Fprintf(&b, "  %s: %s\n", ch, onOff(sub.ChannelEnabled(ch)))
		}
		if sub.Restricted() {
			fmt.Fprintf(&b, "  filter: %s\n", strings.Join(lo.Map(sub.ContentFilter, func(c model.Category, _ int) string {
				return string(c)
			}), ", "))
		} else {
			b.WriteString("  filter: all categories\n")
		}
		enabled := lo.CountBy(routes, func(r model.RoutingEntry) bool { return r.Enabled })
		fmt.Fprintf(&b, "  bindings: %d (%d enabled)\n", len(routes), enabled)
	}

	b.WriteString("\n")
	b.WriteString(FormatReport(report))
	return b.String()
}

// FormatReport summarizes a cycle report.
func FormatReport(r *events.CycleReport) string {
	if r == nil {
		return "No ingestion cycle has finished yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Last cycle: %s (%s)\n", r.FinishedAt.Format("2006-01-02 15:04 UTC"), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	for _, ch := range model.Channels {
		if n, ok := r.Fetched[ch]; ok {
			fmt.Fprintf(&b, "  %s: %d fetched\n", ch, n)
		}
	}
	fmt.Fprintf(&b, "  articles: %d, delivered: %d, failed: %d, duplicates: %d",
		r.Articles, r.Delivered, r.Failed, r.Duplicates)
	if r.Unrecorded > 0 {
		fmt.Fprintf(&b, ", unrecorded: %d", r.Unrecorded)
	}
	if r.Fallbacks > 0 {
		fmt.Fprintf(&b, ", fallbacks: %d", r.Fallbacks)
	}
	return b.String()
}

func threadLabel(threadID int) string {
	if threadID == 0 {
		return "default stream"
	}
	return fmt.Sprintf("thread %d", threadID)
}

func stateLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
