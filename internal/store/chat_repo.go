package store

import (
	"context"
	"fmt"

	"confsfu/internal/core/domain"
)

type ChatRepo struct{ db *DB }

func NewChatRepo(db *DB) *ChatRepo { return &ChatRepo{db: db} }

func (r *ChatRepo) Create(ctx context.Context, m *domain.ChatMessage) error {
	_, err := r.db.conn.ExecContext(ctx,
		"INSERT INTO chat_messages (id, meeting_id, user_id, user_name, content, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6)",
		m.ID, m.MeetingID, m.UserID, m.UserName, m.Content, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create chat message: %w", err)
	}
	return nil
}

func (r *ChatRepo) ListRecentByMeeting(ctx context.Context, meetingID domain.MeetingID, limit int) ([]*domain.ChatMessage, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		"SELECT id, meeting_id, user_id, user_name, content, created_at FROM chat_messages "+
			"WHERE meeting_id = $1 ORDER BY created_at DESC LIMIT $2",
		meetingID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	var out []*domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		if err := rows.Scan(&m.ID, &m.MeetingID, &m.UserID, &m.UserName, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
