package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"feedrouter/internal/classifier"
	"feedrouter/internal/config"
	"feedrouter/internal/events"
	"feedrouter/internal/model"
	"feedrouter/internal/storage"
)

// --- mocks ---

type sentMsg struct {
	ChatID int64
	Text   string
	Markup any
}

type mockAPI struct {
	mu       sync.Mutex
	sent     []sentMsg
	requests int
	updates  tgbotapi.UpdatesChannel
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.mu.Lock()
		m.sent = append(m.sent, sentMsg{ChatID: msg.ChatID, Text: msg.Text, Markup: msg.ReplyMarkup})
		m.mu.Unlock()
	}
	return tgbotapi.Message{}, nil
}

func (m *mockAPI) Request(_ tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *mockAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	if m.updates != nil {
		return m.updates
	}
	return make(tgbotapi.UpdatesChannel)
}

func (m *mockAPI) StopReceivingUpdates() {}

func (m *mockAPI) lastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1].Text
}

func (m *mockAPI) last() sentMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMsg{}
	}
	return m.sent[len(m.sent)-1]
}

func (m *mockAPI) allTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, s := range m.sent {
		out[i] = s.Text
	}
	return out
}

type mockCycles struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (m *mockCycles) RunCycle(_ context.Context) events.CycleReport {
	if m.release != nil {
		<-m.release
	}
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	now := time.Now().UTC()
	return events.CycleReport{StartedAt: now, FinishedAt: now, Articles: 3, Delivered: 4}
}

// --- helpers ---

func newTestBot(t *testing.T) (*Bot, *mockAPI, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	api := &mockAPI{}
	b := &Bot{
		api:        api,
		store:      store,
		classifier: classifier.New(nil, nil),
		cfg:        &config.Config{},
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return b, api, store
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("reply missing %q, got:\n%s", want, got)
	}
}

func mustSubscriber(t *testing.T, store *storage.SQLite, chatID int64) *model.Subscriber {
	t.Helper()
	sub, err := store.GetSubscriber(context.Background(), chatID)
	if err != nil {
		t.Fatalf("get subscriber: %v", err)
	}
	return sub
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// --- handler tests ---

func TestHandleStartAndHelp(t *testing.T) {
	b, api, _ := newTestBot(t)
	b.handleStart(100)
	requireContains(t, api.lastText(), "Welcome")

	b.handleHelp(100)
	for _, cmd := range []string{"/subscribe", "/bind", "/bindings", "/setfilter", "/fetchnow"} {
		requireContains(t, api.lastText(), cmd)
	}
}

func TestHandleCategories(t *testing.T) {
	b, api, _ := newTestBot(t)
	b.handleCategories(100)
	got := api.lastText()
	requireContains(t, got, "transfer_news")
	requireContains(t, got, "football_news")
	if strings.Index(got, "transfer_news") > strings.Index(got, "football_news") {
		t.Errorf("expected priority order, got:\n%s", got)
	}
}

func TestHandleSubscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("new chat", func(t *testing.T) {
		b, api, store := newTestBot(t)
		b.handleSubscribe(ctx, 100, "")
		requireContains(t, api.lastText(), "Subscribed!")

		sub := mustSubscriber(t, store, 100)
		if !sub.ChannelEnabled(model.ChannelWebsite) || sub.Restricted() {
			t.Errorf("unexpected subscriber %+v", sub)
		}
	})

	t.Run("twice is a no-op", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleSubscribe(ctx, 100, "")
		b.handleSubscribe(ctx, 100, "")
		requireContains(t, api.lastText(), "Already subscribed")
	})

	t.Run("with categories binds them to the default stream", func(t *testing.T) {
		b, api, store := newTestBot(t)
		if err := store.BindCategory(ctx, 100, "golf_news", 44); err != nil {
			t.Fatalf("bind: %v", err)
		}

		b.handleSubscribe(ctx, 100, "f1, golf")
		requireContains(t, api.lastText(), "f1_news, golf_news")

		sub := mustSubscriber(t, store, 100)
		if diff := cmp.Diff([]model.Category{"f1_news", "golf_news"}, sub.ContentFilter); diff != "" {
			t.Errorf("filter mismatch (-want +got):\n%s", diff)
		}

		routes, err := store.ListRoutes(ctx, 100)
		if err != nil {
			t.Fatalf("list routes: %v", err)
		}
		got := make(map[model.Category]int)
		for _, r := range routes {
			got[r.Category] = r.ThreadID
		}
		// An existing binding keeps its thread.
		if diff := cmp.Diff(map[model.Category]int{"f1_news": 0, "golf_news": 44}, got); diff != "" {
			t.Errorf("routes mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("unknown category", func(t *testing.T) {
		b, api, store := newTestBot(t)
		b.handleSubscribe(ctx, 100, "cricket")
		requireContains(t, api.lastText(), "unknown category")
		if _, err := store.GetSubscriber(ctx, 100); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected no subscriber, got err=%v", err)
		}
	})
}

func TestHandleUnsubscribe(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)

	b.handleUnsubscribe(ctx, 100)
	requireContains(t, api.lastText(), "not subscribed")

	b.handleSubscribe(ctx, 100, "")
	b.handleUnsubscribe(ctx, 100)
	requireContains(t, api.lastText(), "Unsubscribed")
	if mustSubscriber(t, store, 100).Active() {
		t.Error("expected inactive subscriber")
	}

	b.handleSubscribe(ctx, 100, "")
	requireContains(t, api.lastText(), "Subscribed!")
	if !mustSubscriber(t, store, 100).Active() {
		t.Error("expected active subscriber after resubscribe")
	}
}

func TestHandleChannel(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)

	b.handleChannel(ctx, 100, "social on")
	requireContains(t, api.lastText(), "not subscribed")

	b.handleSubscribe(ctx, 100, "")
	b.handleChannel(ctx, 100, "social on")
	requireContains(t, api.lastText(), "Channel social turned on")
	if !mustSubscriber(t, store, 100).ChannelEnabled(model.ChannelSocial) {
		t.Error("expected social channel on")
	}

	b.handleChannel(ctx, 100, "telegraph on")
	requireContains(t, api.lastText(), "unknown channel")
}

func TestHandleSetFilter(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)

	b.handleSetFilter(ctx, 100, "f1")
	requireContains(t, api.lastText(), "not subscribed")

	b.handleSubscribe(ctx, 100, "")
	b.handleSetFilter(ctx, 100, "darts, boxing")
	requireContains(t, api.lastText(), "Filter set: darts_news, boxing_news")
	if diff := cmp.Diff([]model.Category{"darts_news", "boxing_news"}, mustSubscriber(t, store, 100).ContentFilter); diff != "" {
		t.Errorf("filter mismatch (-want +got):\n%s", diff)
	}
	if _, err := store.GetRoute(ctx, 100, "darts_news"); err != nil {
		t.Errorf("expected darts binding, got %v", err)
	}

	b.handleSetFilter(ctx, 100, "ALL")
	requireContains(t, api.lastText(), "Filter cleared")
	if mustSubscriber(t, store, 100).Restricted() {
		t.Error("expected unrestricted subscriber")
	}

	b.handleSetFilter(ctx, 100, "")
	requireContains(t, api.lastText(), "Usage: /setfilter")
}

func TestHandleBindAndToggle(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)

	b.handleBind(ctx, 100, "f1 12")
	requireContains(t, api.lastText(), "f1_news -> thread 12")

	b.handleBind(ctx, 100, "f1 15")
	route, err := store.GetRoute(ctx, 100, "f1_news")
	if err != nil {
		t.Fatalf("get route: %v", err)
	}
	if diff := cmp.Diff(15, route.ThreadID); diff != "" {
		t.Errorf("thread mismatch (-want +got):\n%s", diff)
	}

	b.handleSetEnabled(ctx, 100, "f1", false)
	requireContains(t, api.lastText(), "Binding f1_news disabled")
	route, _ = store.GetRoute(ctx, 100, "f1_news")
	if route.Enabled {
		t.Error("expected disabled route")
	}

	b.handleSetEnabled(ctx, 100, "golf", true)
	requireContains(t, api.lastText(), "No binding for golf_news")

	b.handleSetEnabled(ctx, 100, "", true)
	requireContains(t, api.lastText(), "Usage: /enable")

	b.handleBind(ctx, 100, "")
	requireContains(t, api.lastText(), "usage: /bind")
}

func TestHandleBindings(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)

	b.handleBindings(ctx, 100)
	requireContains(t, api.lastText(), "No bindings yet")

	if err := store.BindCategory(ctx, 100, "f1_news", 3); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := store.BindCategory(ctx, 100, "golf_news", 0); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := store.SetRouteEnabled(ctx, 100, "golf_news", false); err != nil {
		t.Fatalf("disable: %v", err)
	}

	b.handleBindings(ctx, 100)
	msg := api.last()
	requireContains(t, msg.Text, "f1_news -> thread 3 [enabled]")
	requireContains(t, msg.Text, "golf_news -> default stream [disabled]")

	markup, ok := msg.Markup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("expected inline keyboard, got %T", msg.Markup)
	}
	var data []string
	for _, row := range markup.InlineKeyboard {
		for _, btn := range row {
			data = append(data, *btn.CallbackData)
		}
	}
	if diff := cmp.Diff([]string{"disable:f1_news", "enable:golf_news", "bindings:"}, data); diff != "" {
		t.Errorf("callback data mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleCallback(t *testing.T) {
	ctx := context.Background()
	b, api, store := newTestBot(t)
	if err := store.BindCategory(ctx, 100, "f1_news", 3); err != nil {
		t.Fatalf("bind: %v", err)
	}

	cb := func(data string) *tgbotapi.CallbackQuery {
		return &tgbotapi.CallbackQuery{
			ID:      "cb1",
			From:    &tgbotapi.User{ID: 1},
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 100}},
			Data:    data,
		}
	}

	b.handleCallback(ctx, cb("disable:f1_news"))
	requireContains(t, api.lastText(), "Binding f1_news disabled")
	if route, _ := store.GetRoute(ctx, 100, "f1_news"); route.Enabled {
		t.Error("expected disabled route")
	}

	b.handleCallback(ctx, cb("enable:f1_news"))
	requireContains(t, api.lastText(), "Binding f1_news enabled")

	before := len(api.allTexts())
	b.handleCallback(ctx, cb("enable:no_such_category"))
	b.handleCallback(ctx, cb("garbage"))
	if diff := cmp.Diff(before, len(api.allTexts())); diff != "" {
		t.Errorf("unexpected replies (-want +got):\n%s", diff)
	}

	b.handleCallback(ctx, cb("bindings:"))
	requireContains(t, api.lastText(), "f1_news -> thread 3 [enabled]")

	api.mu.Lock()
	acks := api.requests
	api.mu.Unlock()
	if diff := cmp.Diff(5, acks); diff != "" {
		t.Errorf("callback acks (-want +got):\n%s", diff)
	}
}

func TestHandleFeedStatus(t *testing.T) {
	ctx := context.Background()
	b, api, _ := newTestBot(t)

	b.handleFeedStatus(ctx, 100)
	requireContains(t, api.lastText(), "not subscribed")
	requireContains(t, api.lastText(), "No ingestion cycle")

	b.handleSubscribe(ctx, 100, "")
	now := time.Now().UTC()
	b.recordReport(events.CycleReport{StartedAt: now, FinishedAt: now, Articles: 2, Delivered: 5})

	b.handleFeedStatus(ctx, 100)
	requireContains(t, api.lastText(), "website: on")
	requireContains(t, api.lastText(), "articles: 2, delivered: 5")
}

func TestHandleFetchNow(t *testing.T) {
	ctx := context.Background()

	t.Run("unavailable", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		b.handleFetchNow(ctx, 100)
		requireContains(t, api.lastText(), "not available")
	})

	t.Run("runs one cycle at a time", func(t *testing.T) {
		b, api, _ := newTestBot(t)
		cycles := &mockCycles{release: make(chan struct{})}
		b.cycles = cycles

		b.handleFetchNow(ctx, 100)
		requireContains(t, api.lastText(), "Fetching now")
		b.handleFetchNow(ctx, 100)
		requireContains(t, api.lastText(), "already running")

		close(cycles.release)
		waitFor(t, func() bool { return strings.Contains(api.lastText(), "articles: 3, delivered: 4") })
		waitFor(t, func() bool { return !b.fetching.Load() })

		cycles.mu.Lock()
		calls := cycles.calls
		cycles.mu.Unlock()
		if diff := cmp.Diff(1, calls); diff != "" {
			t.Errorf("cycle calls (-want +got):\n%s", diff)
		}
		if b.report() == nil {
			t.Error("expected report to be recorded")
		}
	})
}

func TestTrackRecordsCycleReports(t *testing.T) {
	b, _, _ := newTestBot(t)
	bus := events.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		b.Track(ctx, bus)
		close(done)
	}()

	// Track subscribes asynchronously; keep publishing until it is seen.
	waitFor(t, func() bool {
		bus.Publish(events.Event{Type: events.CycleFinished, Data: events.CycleReport{Articles: 11}})
		r := b.report()
		return r != nil && r.Articles == 11
	})

	cancel()
	<-done
}

func commandUpdate(userID int64, text string) tgbotapi.Update {
	cmd, _, _ := strings.Cut(text, " ")
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: userID},
		Chat:     &tgbotapi.Chat{ID: 100},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}}
}

func TestRunWaitsForManualCycle(t *testing.T) {
	b, api, _ := newTestBot(t)
	cycles := &mockCycles{release: make(chan struct{})}
	b.cycles = cycles
	updates := make(chan tgbotapi.Update, 1)
	updates <- commandUpdate(1, "/fetchnow")
	api.updates = updates

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return strings.Contains(api.lastText(), "Fetching now") })
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while a manual cycle was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(cycles.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the cycle finished")
	}
	if b.report() == nil {
		t.Error("expected report to be recorded")
	}
}

func TestRunAccessControl(t *testing.T) {
	b, api, _ := newTestBot(t)
	b.cfg = &config.Config{AllowedUsers: []int64{1}}
	updates := make(chan tgbotapi.Update, 2)
	updates <- commandUpdate(2, "/start")
	updates <- commandUpdate(1, "/start")
	api.updates = updates

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return len(api.allTexts()) == 2 })
	cancel()
	<-done

	texts := api.allTexts()
	requireContains(t, texts[0], "Access denied")
	requireContains(t, texts[1], "Welcome")
}
