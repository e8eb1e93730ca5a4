package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"confsfu/internal/core/domain"
)

type QuestionRepo struct{ db *DB }

func NewQuestionRepo(db *DB) *QuestionRepo { return &QuestionRepo{db: db} }

func (r *QuestionRepo) Create(ctx context.Context, q *domain.Question) error {
	_, err := r.db.conn.ExecContext(ctx,
		"INSERT INTO questions (id, meeting_id, user_id, content, answered, pinned, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7)",
		q.ID, q.MeetingID, q.UserID, q.Content, q.Answered, q.Pinned, q.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create question: %w", err)
	}
	return nil
}

func (r *QuestionRepo) GetByID(ctx context.Context, id domain.QuestionID) (*domain.Question, error) {
	row := r.db.conn.QueryRowContext(ctx,
		"SELECT id, meeting_id, user_id, content, answered, pinned, created_at FROM questions WHERE id = $1", id)
	var q domain.Question
	if err := row.Scan(&q.ID, &q.MeetingID, &q.UserID, &q.Content, &q.Answered, &q.Pinned, &q.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("question not found: %w", err)
		}
		return nil, fmt.Errorf("scan question: %w", err)
	}
	return &q, nil
}

func (r *QuestionRepo) Update(ctx context.Context, q *domain.Question) error {
	_, err := r.db.conn.ExecContext(ctx,
		"UPDATE questions SET answered = $2, pinned = $3 WHERE id = $1", q.ID, q.Answered, q.Pinned)
	if err != nil {
		return fmt.Errorf("update question: %w", err)
	}
	return nil
}

// ListByMeeting joins in each question's upvote count. HasUpvoted is left
// false here — the interface has no per-caller user id to check against,
// so the caller who needs it resolves it separately (§6 "list" is a pure
// read projection, not an authorization-aware view).
func (r *QuestionRepo) ListByMeeting(ctx context.Context, meetingID domain.MeetingID) ([]*domain.QuestionWithVotes, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		"SELECT q.id, q.meeting_id, q.user_id, q.content, q.answered, q.pinned, q.created_at, "+
			"COUNT(u.id) AS upvote_count "+
			"FROM questions q LEFT JOIN upvotes u ON u.question_id = q.id "+
			"WHERE q.meeting_id = $1 "+
			"GROUP BY q.id "+
			"ORDER BY q.pinned DESC, upvote_count DESC, q.created_at ASC",
		meetingID,
	)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var out []*domain.QuestionWithVotes
	for rows.Next() {
		var qv domain.QuestionWithVotes
		if err := rows.Scan(&qv.ID, &qv.MeetingID, &qv.UserID, &qv.Content, &qv.Answered, &qv.Pinned, &qv.CreatedAt, &qv.UpvoteCount); err != nil {
			return nil, fmt.Errorf("scan question with votes: %w", err)
		}
		out = append(out, &qv)
	}
	return out, rows.Err()
}

// ToggleUpvote relies on upvotes' UNIQUE(question_id, user_id) to decide
// insert vs delete inside one transaction, so concurrent double-clicks
// from the same user can race the constraint but never double-count.
func (r *QuestionRepo) ToggleUpvote(ctx context.Context, questionID domain.QuestionID, userID domain.UserID) (int, bool, error) {
	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin toggle upvote: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var exists bool
	err = tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM upvotes WHERE question_id = $1 AND user_id = $2)",
		questionID, userID,
	).Scan(&exists)
	if err != nil {
		return 0, false, fmt.Errorf("check existing upvote: %w", err)
	}

	upvoted := !exists
	if exists {
		_, err = tx.ExecContext(ctx, "DELETE FROM upvotes WHERE question_id = $1 AND user_id = $2", questionID, userID)
	} else {
		_, err = tx.ExecContext(ctx, "INSERT INTO upvotes (question_id, user_id) VALUES ($1, $2)", questionID, userID)
	}
	if err != nil {
		return 0, false, fmt.Errorf("toggle upvote: %w", err)
	}

	var count int
	if err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM upvotes WHERE question_id = $1", questionID).Scan(&count); err != nil {
		return 0, false, fmt.Errorf("count upvotes: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit toggle upvote: %w", err)
	}
	return count, upvoted, nil
}
