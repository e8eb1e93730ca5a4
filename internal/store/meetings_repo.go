package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"confsfu/internal/core/domain"
)

type MeetingRepo struct{ db *DB }

func NewMeetingRepo(db *DB) *MeetingRepo { return &MeetingRepo{db: db} }

func (r *MeetingRepo) Create(ctx context.Context, m *domain.Meeting) error {
	_, err := r.db.conn.ExecContext(ctx,
		"INSERT INTO meetings (id, code, title, host_user_id, lobby_enabled, status, scheduled_at, started_at, ended_at, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		m.ID, m.Code, m.Title, m.HostUserID, m.LobbyEnabled, m.Status, m.ScheduledAt, m.StartedAt, m.EndedAt, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create meeting: %w", err)
	}
	return nil
}

func (r *MeetingRepo) GetByID(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error) {
	row := r.db.conn.QueryRowContext(ctx,
		"SELECT id, code, title, host_user_id, lobby_enabled, status, scheduled_at, started_at, ended_at, created_at "+
			"FROM meetings WHERE id = $1", id)
	return scanMeeting(row)
}

func (r *MeetingRepo) GetByCode(ctx context.Context, code string) (*domain.Meeting, error) {
	row := r.db.conn.QueryRowContext(ctx,
		"SELECT id, code, title, host_user_id, lobby_enabled, status, scheduled_at, started_at, ended_at, created_at "+
			"FROM meetings WHERE code = $1", code)
	return scanMeeting(row)
}

func (r *MeetingRepo) Update(ctx context.Context, m *domain.Meeting) error {
	_, err := r.db.conn.ExecContext(ctx,
		"UPDATE meetings SET title = $2, host_user_id = $3, lobby_enabled = $4, status = $5, "+
			"scheduled_at = $6, started_at = $7, ended_at = $8 WHERE id = $1",
		m.ID, m.Title, m.HostUserID, m.LobbyEnabled, m.Status, m.ScheduledAt, m.StartedAt, m.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("update meeting: %w", err)
	}
	return nil
}

// ListIdleInstant returns never-scheduled meetings idle past olderThan,
// the candidates for Pass B's garbage collection (§4.9). A meeting
// qualifies either as (i) SCHEDULED and created before the cutoff
// (created but never joined), or (ii) LIVE with no non-REMOVED
// participant currently connected or disconnected after the cutoff —
// i.e. everyone who was ever in it left more than olderThan ago.
func (r *MeetingRepo) ListIdleInstant(ctx context.Context, olderThan int64) ([]*domain.Meeting, error) {
	cutoff := time.Unix(olderThan, 0).UTC()
	rows, err := r.db.conn.QueryContext(ctx,
		"SELECT m.id, m.code, m.title, m.host_user_id, m.lobby_enabled, m.status, m.scheduled_at, m.started_at, m.ended_at, m.created_at "+
			"FROM meetings m WHERE m.scheduled_at IS NULL AND m.status != 'ENDED' AND ("+
			"  (m.status = 'SCHEDULED' AND m.created_at <= $1)"+
			"  OR (m.status = 'LIVE' AND NOT EXISTS ("+
			"    SELECT 1 FROM participants p WHERE p.meeting_id = m.id AND p.status != 'REMOVED' "+
			"    AND (p.left_at IS NULL OR p.left_at > $1)"+
			"  ))"+
			")",
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("list idle meetings: %w", err)
	}
	defer rows.Close()

	var out []*domain.Meeting
	for rows.Next() {
		m, err := scanMeetingRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *MeetingRepo) Delete(ctx context.Context, id domain.MeetingID) error {
	_, err := r.db.conn.ExecContext(ctx, "DELETE FROM meetings WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete meeting: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMeeting(row *sql.Row) (*domain.Meeting, error) {
	m, err := scanMeetingRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("meeting not found: %w", err)
	}
	return m, err
}

func scanMeetingRow(s scanner) (*domain.Meeting, error) {
	var m domain.Meeting
	if err := s.Scan(&m.ID, &m.Code, &m.Title, &m.HostUserID, &m.LobbyEnabled, &m.Status,
		&m.ScheduledAt, &m.StartedAt, &m.EndedAt, &m.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan meeting: %w", err)
	}
	return &m, nil
}

func scanMeetingRows(rows *sql.Rows) (*domain.Meeting, error) {
	return scanMeetingRow(rows)
}
