package store

import (
	"context"
	"fmt"
	"time"

	"confsfu/internal/core/domain"
)

type ReminderRepo struct{ db *DB }

func NewReminderRepo(db *DB) *ReminderRepo { return &ReminderRepo{db: db} }

func (r *ReminderRepo) Create(ctx context.Context, rem *domain.Reminder) error {
	_, err := r.db.conn.ExecContext(ctx,
		"INSERT INTO reminders (id, meeting_id, type, trigger_at, minutes_before, target_email, sent, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		rem.ID, rem.MeetingID, rem.Type, rem.TriggerAt, rem.MinutesBefore, rem.TargetEmail, rem.Sent, rem.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create reminder: %w", err)
	}
	return nil
}

func (r *ReminderRepo) ListDueUnsent(ctx context.Context, now int64, limit int) ([]*domain.Reminder, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		"SELECT id, meeting_id, type, trigger_at, minutes_before, target_email, sent, created_at "+
			"FROM reminders WHERE sent = false AND trigger_at <= $1 ORDER BY trigger_at ASC LIMIT $2",
		time.Unix(now, 0).UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	defer rows.Close()

	var out []*domain.Reminder
	for rows.Next() {
		var rem domain.Reminder
		if err := rows.Scan(&rem.ID, &rem.MeetingID, &rem.Type, &rem.TriggerAt, &rem.MinutesBefore, &rem.TargetEmail, &rem.Sent, &rem.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		out = append(out, &rem)
	}
	return out, rows.Err()
}

func (r *ReminderRepo) MarkSent(ctx context.Context, id domain.ReminderID) error {
	_, err := r.db.conn.ExecContext(ctx, "UPDATE reminders SET sent = true WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return nil
}
