package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"feedrouter/internal/model"
)

// RecordDelivery appends a delivery record. The (article_id, chat_id)
// uniqueness constraint is the dedup gate: when a row already exists the
// insert is skipped and ErrAlreadyDelivered is returned.
func (s *SQLite) RecordDelivery(ctx context.Context, rec *model.DeliveryRecord) error {
	if rec.PostedAt.IsZero() {
		rec.PostedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (article_id, chat_id, thread_id, source, message_id, posted_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (article_id, chat_id) DO NOTHING`,
		rec.ArticleID, rec.ChatID, nullThread(rec.ThreadID), string(rec.Source), rec.MessageID,
		rec.PostedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlreadyDelivered
	}
	return nil
}

// IsDelivered checks whether an article has already reached a chat.
func (s *SQLite) IsDelivered(ctx context.Context, articleID string, chatID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deliveries WHERE article_id = ? AND chat_id = ?`,
		articleID, chatID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check delivered: %w", err)
	}
	return count > 0, nil
}

// ListDeliveries returns every delivery record of an article.
func (s *SQLite) ListDeliveries(ctx context.Context, articleID string) ([]model.DeliveryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT article_id, chat_id, thread_id, source, message_id, posted_at
		 FROM deliveries WHERE article_id = ? ORDER BY id`, articleID,
	)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []model.DeliveryRecord
	for rows.Next() {
		var rec model.DeliveryRecord
		var thread sql.NullInt64
		var source, posted string
		if err := rows.Scan(&rec.ArticleID, &rec.ChatID, &thread, &source, &rec.MessageID, &posted); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		if thread.Valid {
			rec.ThreadID = int(thread.Int64)
		}
		rec.Source = model.Channel(source)
		rec.PostedAt, _ = time.Parse(timeLayout, posted)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
