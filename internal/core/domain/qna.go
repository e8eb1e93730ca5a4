package domain

import "time"

type Question struct {
	ID        QuestionID
	MeetingID MeetingID
	UserID    UserID
	Content   string
	Answered  bool
	Pinned    bool
	CreatedAt time.Time
}

// UpvoteCount and HasUpvoted are read projections, not stored fields —
// the Upvote relation (questionId, userId) is the source of truth and is
// unique, giving toggle-without-duplicate semantics (§3, §8 law 3).
type QuestionWithVotes struct {
	Question
	UpvoteCount int
	HasUpvoted  bool
}

type ChatMessage struct {
	ID        ChatMessageID
	MeetingID MeetingID
	UserID    UserID
	UserName  string
	Content   string
	CreatedAt time.Time
}
