package store

import (
	"context"
	"fmt"

	"confsfu/internal/core/domain"
)

type InvitationRepo struct{ db *DB }

func NewInvitationRepo(db *DB) *InvitationRepo { return &InvitationRepo{db: db} }

func (r *InvitationRepo) Create(ctx context.Context, inv *domain.Invitation) error {
	_, err := r.db.conn.ExecContext(ctx,
		"INSERT INTO invitations (id, meeting_id, email, invited_by_user_id, created_at) "+
			"VALUES ($1, $2, $3, $4, $5)",
		inv.ID, inv.MeetingID, inv.Email, inv.InvitedByUserID, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create invitation: %w", err)
	}
	return nil
}

func (r *InvitationRepo) ListByMeeting(ctx context.Context, meetingID domain.MeetingID) ([]*domain.Invitation, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		"SELECT id, meeting_id, email, invited_by_user_id, created_at FROM invitations WHERE meeting_id = $1",
		meetingID,
	)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Invitation
	for rows.Next() {
		var inv domain.Invitation
		if err := rows.Scan(&inv.ID, &inv.MeetingID, &inv.Email, &inv.InvitedByUserID, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		out = append(out, &inv)
	}
	return out, rows.Err()
}
