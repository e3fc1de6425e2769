package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"feedrouter/internal/model"
	"feedrouter/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers inside the process and keeps
	// ":memory:" databases on a single handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Subscribe registers a chat with the website channel switched on. It
// reports true when the call changed anything: a new row, or a previously
// unsubscribed chat coming back. Subscribing an active chat is a no-op.
func (s *SQLite) Subscribe(ctx context.Context, chatID int64) (bool, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers (chat_id, website_enabled, social_enabled, content_filter, subscribed_at)
		 VALUES (?, 1, 0, '', ?)
		 ON CONFLICT (chat_id) DO UPDATE SET website_enabled = 1
		 WHERE website_enabled = 0 AND social_enabled = 0`,
		chatID, now,
	)
	if err != nil {
		return false, fmt.Errorf("upsert subscriber: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Unsubscribe switches every channel off. The row is kept.
func (s *SQLite) Unsubscribe(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET website_enabled = 0, social_enabled = 0 WHERE chat_id = ?`, chatID,
	)
	if err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return nil
}

// SetChannel toggles one channel of an existing subscriber.
func (s *SQLite) SetChannel(ctx context.Context, chatID int64, ch model.Channel, enabled bool) error {
	var column string
	switch ch {
	case model.ChannelWebsite:
		column = "website_enabled"
	case model.ChannelSocial:
		column = "social_enabled"
	default:
		return fmt.Errorf("unknown channel %q", ch)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET `+column+` = ? WHERE chat_id = ?`, boolToInt(enabled), chatID,
	)
	if err != nil {
		return fmt.Errorf("set channel: %w", err)
	}
	return requireRow(res)
}

// SetContentFilter replaces the category allow-list. An empty filter means all.
func (s *SQLite) SetContentFilter(ctx context.Context, chatID int64, filter []model.Category) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET content_filter = ? WHERE chat_id = ?`, joinCategories(filter), chatID,
	)
	if err != nil {
		return fmt.Errorf("set content filter: %w", err)
	}
	return requireRow(res)
}

// GetSubscriber returns a subscriber by chat ID.
func (s *SQLite) GetSubscriber(ctx context.Context, chatID int64) (*model.Subscriber, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, website_enabled, social_enabled, content_filter, subscribed_at
		 FROM subscribers WHERE chat_id = ?`, chatID,
	)
	sub, err := scanSubscriber(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListActiveSubscribers returns subscribers with at least one channel on.
func (s *SQLite) ListActiveSubscribers(ctx context.Context) ([]model.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, website_enabled, social_enabled, content_filter, subscribed_at
		 FROM subscribers
		 WHERE website_enabled = 1 OR social_enabled = 1
		 ORDER BY chat_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []model.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// BindCategory points a chat's category at a thread. Binding again
// overwrites the thread and re-enables the entry.
func (s *SQLite) BindCategory(ctx context.Context, chatID int64, category model.Category, threadID int) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO routing_entries (chat_id, category, thread_id, enabled, created_at)
		 VALUES (?, ?, ?, 1, ?)
		 ON CONFLICT (chat_id, category) DO UPDATE SET thread_id = excluded.thread_id, enabled = 1`,
		chatID, string(category), nullThread(threadID), now,
	)
	if err != nil {
		return fmt.Errorf("upsert routing entry: %w", err)
	}
	return nil
}

// SetRouteEnabled enables or disables an existing routing entry.
func (s *SQLite) SetRouteEnabled(ctx context.Context, chatID int64, category model.Category, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE routing_entries SET enabled = ? WHERE chat_id = ? AND category = ?`,
		boolToInt(enabled), chatID, string(category),
	)
	if err != nil {
		return fmt.Errorf("set route enabled: %w", err)
	}
	return requireRow(res)
}

// GetRoute returns the routing entry for a chat and category.
func (s *SQLite) GetRoute(ctx context.Context, chatID int64, category model.Category) (*model.RoutingEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, category, thread_id, enabled, created_at
		 FROM routing_entries WHERE chat_id = ? AND category = ?`, chatID, string(category),
	)
	e, err := scanRoute(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListRoutes returns all routing entries of a chat, enabled or not.
func (s *SQLite) ListRoutes(ctx context.Context, chatID int64) ([]model.RoutingEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, category, thread_id, enabled, created_at
		 FROM routing_entries WHERE chat_id = ? ORDER BY category`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRoutes(rows)
}

// ListRoutesByCategory returns all routing entries for a category, enabled or not.
func (s *SQLite) ListRoutesByCategory(ctx context.Context, category model.Category) ([]model.RoutingEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, category, thread_id, enabled, created_at
		 FROM routing_entries WHERE category = ? ORDER BY chat_id`, string(category),
	)
	if err != nil {
		return nil, fmt.Errorf("query routes by category: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRoutes(rows)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullThread(threadID int) any {
	if threadID == 0 {
		return nil
	}
	return threadID
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func joinCategories(cats []model.Category) string {
	return strings.Join(lo.Uniq(lo.Map(cats, func(c model.Category, _ int) string { return string(c) })), ",")
}

func splitCategories(s string) []model.Category {
	parts := lo.Compact(strings.Split(s, ","))
	if len(parts) == 0 {
		return nil
	}
	return lo.Map(parts, func(p string, _ int) model.Category { return model.Category(p) })
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSubscriber(row scannable) (model.Subscriber, error) {
	var sub model.Subscriber
	var website, social int
	var filter, subscribed string
	err := row.Scan(&sub.ChatID, &website, &social, &filter, &subscribed)
	if err != nil {
		return sub, fmt.Errorf("scan subscriber: %w", err)
	}
	sub.Channels = map[model.Channel]bool{
		model.ChannelWebsite: website == 1,
		model.ChannelSocial:  social == 1,
	}
	sub.ContentFilter = splitCategories(filter)
	sub.SubscribedAt, _ = time.Parse(timeLayout, subscribed)
	return sub, nil
}

func scanRoute(row scannable) (model.RoutingEntry, error) {
	var e model.RoutingEntry
	var category, created string
	var thread sql.NullInt64
	var enabled int
	err := row.Scan(&e.ChatID, &category, &thread, &enabled, &created)
	if err != nil {
		return e, fmt.Errorf("scan routing entry: %w", err)
	}
	e.Category = model.Category(category)
	if thread.Valid {
		e.ThreadID = int(thread.Int64)
	}
	e.Enabled = enabled == 1
	e.CreatedAt, _ = time.Parse(timeLayout, created)
	return e, nil
}

func scanRoutes(rows *sql.Rows) ([]model.RoutingEntry, error) {
	var entries []model.RoutingEntry
	for rows.Next() {
		e, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
