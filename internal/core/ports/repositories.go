package ports

import (
	"context"

	"confsfu/internal/core/domain"
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id domain.UserID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

type MeetingRepository interface {
	Create(ctx context.Context, m *domain.Meeting) error
	GetByID(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error)
	GetByCode(ctx context.Context, code string) (*domain.Meeting, error)
	Update(ctx context.Context, m *domain.Meeting) error
	ListIdleInstant(ctx context.Context, olderThan int64) ([]*domain.Meeting, error)
	Delete(ctx context.Context, id domain.MeetingID) error
}

type ParticipantRepository interface {
	Create(ctx context.Context, p *domain.Participant) error
	GetByID(ctx context.Context, id domain.ParticipantID) (*domain.Participant, error)
	GetByUserAndMeeting(ctx context.Context, userID domain.UserID, meetingID domain.MeetingID) (*domain.Participant, error)
	Update(ctx context.Context, p *domain.Participant) error
	ListByMeeting(ctx context.Context, meetingID domain.MeetingID) ([]*domain.Participant, error)
	ListNonRemovedByMeeting(ctx context.Context, meetingID domain.MeetingID) ([]*domain.Participant, error)
	// TransferHost demotes the current host and promotes target in one
	// durable write, also updating Meeting.hostUserId.
	TransferHost(ctx context.Context, meetingID domain.MeetingID, oldHostID, newHostID domain.ParticipantID, newHostUserID domain.UserID) error
}

type BreakoutRepository interface {
	Create(ctx context.Context, b *domain.BreakoutRoom) error
	GetByID(ctx context.Context, id domain.BreakoutID) (*domain.BreakoutRoom, error)
	ListActiveByMeeting(ctx context.Context, meetingID domain.MeetingID) ([]*domain.BreakoutRoom, error)
	DeactivateAll(ctx context.Context, meetingID domain.MeetingID) error
}

type QuestionRepository interface {
	Create(ctx context.Context, q *domain.Question) error
	GetByID(ctx context.Context, id domain.QuestionID) (*domain.Question, error)
	Update(ctx context.Context, q *domain.Question) error
	ListByMeeting(ctx context.Context, meetingID domain.MeetingID) ([]*domain.QuestionWithVotes, error)
	// ToggleUpvote relies on a UNIQUE(questionId, userId) constraint to stay
	// idempotent under concurrent toggles from the same user; returns the
	// resulting vote count and whether the caller now has an upvote.
	ToggleUpvote(ctx context.Context, questionID domain.QuestionID, userID domain.UserID) (count int, upvoted bool, err error)
}

type ChatRepository interface {
	Create(ctx context.Context, m *domain.ChatMessage) error
	ListRecentByMeeting(ctx context.Context, meetingID domain.MeetingID, limit int) ([]*domain.ChatMessage, error)
}

type ReminderRepository interface {
	Create(ctx context.Context, r *domain.Reminder) error
	ListDueUnsent(ctx context.Context, now int64, limit int) ([]*domain.Reminder, error)
	MarkSent(ctx context.Context, id domain.ReminderID) error
}

type InvitationRepository interface {
	Create(ctx context.Context, inv *domain.Invitation) error
	ListByMeeting(ctx context.Context, meetingID domain.MeetingID) ([]*domain.Invitation, error)
}
