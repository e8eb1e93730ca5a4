package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"confsfu/internal/core/domain"
)

type BreakoutRepo struct{ db *DB }

func NewBreakoutRepo(db *DB) *BreakoutRepo { return &BreakoutRepo{db: db} }

func (r *BreakoutRepo) Create(ctx context.Context, b *domain.BreakoutRoom) error {
	_, err := r.db.conn.ExecContext(ctx,
		"INSERT INTO breakout_rooms (id, meeting_id, name, is_active, created_at, ends_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6)",
		b.ID, b.MeetingID, b.Name, b.IsActive, b.CreatedAt, b.EndsAt,
	)
	if err != nil {
		return fmt.Errorf("create breakout room: %w", err)
	}
	return nil
}

func (r *BreakoutRepo) GetByID(ctx context.Context, id domain.BreakoutID) (*domain.BreakoutRoom, error) {
	row := r.db.conn.QueryRowContext(ctx,
		"SELECT id, meeting_id, name, is_active, created_at, ends_at FROM breakout_rooms WHERE id = $1", id)
	var b domain.BreakoutRoom
	if err := row.Scan(&b.ID, &b.MeetingID, &b.Name, &b.IsActive, &b.CreatedAt, &b.EndsAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("breakout room not found: %w", err)
		}
		return nil, fmt.Errorf("scan breakout room: %w", err)
	}
	return &b, nil
}

func (r *BreakoutRepo) ListActiveByMeeting(ctx context.Context, meetingID domain.MeetingID) ([]*domain.BreakoutRoom, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		"SELECT id, meeting_id, name, is_active, created_at, ends_at FROM breakout_rooms "+
			"WHERE meeting_id = $1 AND is_active = true", meetingID)
	if err != nil {
		return nil, fmt.Errorf("list active breakout rooms: %w", err)
	}
	defer rows.Close()

	var out []*domain.BreakoutRoom
	for rows.Next() {
		var b domain.BreakoutRoom
		if err := rows.Scan(&b.ID, &b.MeetingID, &b.Name, &b.IsActive, &b.CreatedAt, &b.EndsAt); err != nil {
			return nil, fmt.Errorf("scan breakout room: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (r *BreakoutRepo) DeactivateAll(ctx context.Context, meetingID domain.MeetingID) error {
	_, err := r.db.conn.ExecContext(ctx,
		"UPDATE breakout_rooms SET is_active = false WHERE meeting_id = $1", meetingID)
	if err != nil {
		return fmt.Errorf("deactivate breakout rooms: %w", err)
	}
	return nil
}
