package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"confsfu/internal/core/domain"
)

type ParticipantRepo struct{ db *DB }

func NewParticipantRepo(db *DB) *ParticipantRepo { return &ParticipantRepo{db: db} }

func (r *ParticipantRepo) Create(ctx context.Context, p *domain.Participant) error {
	_, err := r.db.conn.ExecContext(ctx,
		"INSERT INTO participants (id, user_id, meeting_id, role, status, breakout_room_id, joined_at, left_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		p.ID, p.UserID, p.MeetingID, p.Role, p.Status, nullBreakoutID(p.BreakoutRoomID), p.JoinedAt, p.LeftAt,
	)
	if err != nil {
		return fmt.Errorf("create participant: %w", err)
	}
	return nil
}

func (r *ParticipantRepo) GetByID(ctx context.Context, id domain.ParticipantID) (*domain.Participant, error) {
	row := r.db.conn.QueryRowContext(ctx,
		"SELECT id, user_id, meeting_id, role, status, breakout_room_id, joined_at, left_at "+
			"FROM participants WHERE id = $1", id)
	return scanParticipant(row)
}

func (r *ParticipantRepo) GetByUserAndMeeting(ctx context.Context, userID domain.UserID, meetingID domain.MeetingID) (*domain.Participant, error) {
	row := r.db.conn.QueryRowContext(ctx,
		"SELECT id, user_id, meeting_id, role, status, breakout_room_id, joined_at, left_at "+
			"FROM participants WHERE user_id = $1 AND meeting_id = $2", userID, meetingID)
	return scanParticipant(row)
}

func (r *ParticipantRepo) Update(ctx context.Context, p *domain.Participant) error {
	_, err := r.db.conn.ExecContext(ctx,
		"UPDATE participants SET role = $2, status = $3, breakout_room_id = $4, left_at = $5 WHERE id = $1",
		p.ID, p.Role, p.Status, nullBreakoutID(p.BreakoutRoomID), p.LeftAt,
	)
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}
	return nil
}

func (r *ParticipantRepo) ListByMeeting(ctx context.Context, meetingID domain.MeetingID) ([]*domain.Participant, error) {
	return r.list(ctx, "SELECT id, user_id, meeting_id, role, status, breakout_room_id, joined_at, left_at "+
		"FROM participants WHERE meeting_id = $1", meetingID)
}

func (r *ParticipantRepo) ListNonRemovedByMeeting(ctx context.Context, meetingID domain.MeetingID) ([]*domain.Participant, error) {
	return r.list(ctx, "SELECT id, user_id, meeting_id, role, status, breakout_room_id, joined_at, left_at "+
		"FROM participants WHERE meeting_id = $1 AND status != 'REMOVED'", meetingID)
}

func (r *ParticipantRepo) list(ctx context.Context, query string, meetingID domain.MeetingID) ([]*domain.Participant, error) {
	rows, err := r.db.conn.QueryContext(ctx, query, meetingID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []*domain.Participant
	for rows.Next() {
		p, err := scanParticipantRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TransferHost demotes oldHostID to PARTICIPANT, promotes newHostID to
// HOST, and updates meetings.host_user_id, all inside one transaction so
// a crash mid-transfer can never leave two hosts or zero hosts (§8
// invariant on role exclusivity).
func (r *ParticipantRepo) TransferHost(ctx context.Context, meetingID domain.MeetingID, oldHostID, newHostID domain.ParticipantID, newHostUserID domain.UserID) error {
	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transfer host: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "UPDATE participants SET role = $2 WHERE id = $1", oldHostID, domain.RoleParticipant); err != nil {
		return fmt.Errorf("demote old host: %w", err)
	}
	if _, err = tx.ExecContext(ctx, "UPDATE participants SET role = $2 WHERE id = $1", newHostID, domain.RoleHost); err != nil {
		return fmt.Errorf("promote new host: %w", err)
	}
	if _, err = tx.ExecContext(ctx, "UPDATE meetings SET host_user_id = $2 WHERE id = $1", meetingID, newHostUserID); err != nil {
		return fmt.Errorf("update meeting host: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transfer host: %w", err)
	}
	return nil
}

func nullBreakoutID(id *domain.BreakoutID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func scanParticipant(row *sql.Row) (*domain.Participant, error) {
	p, err := scanParticipantRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("participant not found: %w", err)
	}
	return p, err
}

func scanParticipantRow(s scanner) (*domain.Participant, error) {
	var p domain.Participant
	var breakoutID sql.NullString
	if err := s.Scan(&p.ID, &p.UserID, &p.MeetingID, &p.Role, &p.Status, &breakoutID, &p.JoinedAt, &p.LeftAt); err != nil {
		return nil, fmt.Errorf("scan participant: %w", err)
	}
	if breakoutID.Valid {
		id := domain.BreakoutID(breakoutID.String)
		p.BreakoutRoomID = &id
	}
	return &p, nil
}
