// Package scheduler implements the Reminder Scheduler (C9): a 1-minute
// ticker that fires due reminders (Pass A) and garbage-collects idle
// instant meetings (Pass B). Grounded on the teacher's
// pkg/distributed.DistributedLock (optional Redis lease so only one
// instance of a horizontally-scaled deployment runs a given tick) and
// pkg/retry.Retry for the at-least-once email send.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"confsfu/internal/core/domain"
	"confsfu/internal/core/ports"
	"confsfu/pkg/distributed"
	"confsfu/pkg/retry"

	"go.uber.org/zap"
)

const (
	tickInterval   = time.Minute
	idleMeetingAge = 30 * time.Minute
	reminderBatch  = 50
)

// Dependencies bundles everything one tick needs. Lock is nil when no
// Redis is configured — every instance then runs every tick, which is
// safe since MarkSent/Delete are idempotent no-ops on a second writer.
type Dependencies struct {
	Reminders    ports.ReminderRepository
	Meetings     ports.MeetingRepository
	Participants ports.ParticipantRepository
	Users        ports.UserRepository
	Conns        ports.ConnectionDirectory
	Broadcaster  ports.Broadcaster
	Mailer       *Mailer
	Lock         *distributed.DistributedLock
}

type Scheduler struct {
	deps   Dependencies
	logger *zap.SugaredLogger
}

func NewScheduler(deps Dependencies, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{deps: deps, logger: logger}
}

// Run blocks, ticking once a minute until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.deps.Lock != nil {
		acquired, err := s.deps.Lock.TryLock(ctx)
		if err != nil {
			s.logger.Warnw("scheduler lock attempt failed", "error", err)
			return
		}
		if !acquired {
			return
		}
		defer s.deps.Lock.Unlock(ctx)
	}

	s.fireDueReminders(ctx)
	s.gcIdleMeetings(ctx)
}

// fireDueReminders is Pass A: fan out every due, unsent reminder, then
// mark it sent. A reminder that fails to send is left unsent and is
// picked up again on the next tick, with no cap on the number of ticks;
// the retry config only bounds the attempts of each email send.
func (s *Scheduler) fireDueReminders(ctx context.Context) {
	due, err := s.deps.Reminders.ListDueUnsent(ctx, time.Now().Unix(), reminderBatch)
	if err != nil {
		s.logger.Errorw("failed to list due reminders", "error", err)
		return
	}

	for _, r := range due {
		if err := s.fireOne(ctx, r); err != nil {
			s.logger.Warnw("reminder fire failed, will retry next tick", "reminderId", r.ID, "error", err)
			continue
		}
		if err := s.deps.Reminders.MarkSent(ctx, r.ID); err != nil {
			s.logger.Errorw("failed to mark reminder sent", "reminderId", r.ID, "error", err)
		}
	}
}

func (s *Scheduler) fireOne(ctx context.Context, r *domain.Reminder) error {
	meeting, err := s.deps.Meetings.GetByID(ctx, r.MeetingID)
	if err != nil {
		return fmt.Errorf("load meeting: %w", err)
	}

	switch r.Type {
	case domain.ReminderEmail:
		return s.fireEmail(ctx, r, meeting)

	case domain.ReminderInApp:
		return s.fireInApp(ctx, r, meeting)

	default:
		return fmt.Errorf("unknown reminder type %q", r.Type)
	}
}

// fireEmail sends one email per non-REMOVED participant of the meeting.
// A single participant's send failure is logged, not raised, so it can't
// block delivery to the rest; the reminder is considered sent as soon as
// one participant received it.
func (s *Scheduler) fireEmail(ctx context.Context, r *domain.Reminder, meeting *domain.Meeting) error {
	participants, err := s.deps.Participants.ListNonRemovedByMeeting(ctx, meeting.ID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}

	subject := fmt.Sprintf("Reminder: %q starts in %d minutes", meeting.Title, r.MinutesBefore)
	body := fmt.Sprintf("Your meeting %q is starting soon. Join code: %s", meeting.Title, meeting.Code)

	var sent int
	for _, p := range participants {
		user, err := s.deps.Users.GetByID(ctx, p.UserID)
		if err != nil {
			s.logger.Warnw("reminder email: failed to load participant user", "reminderId", r.ID, "participantId", p.ID, "error", err)
			continue
		}
		err = retry.Retry(ctx, retry.DefaultConfig(), func() error {
			return s.deps.Mailer.Send(user.Email, subject, body)
		})
		if err != nil {
			s.logger.Warnw("reminder email send failed", "reminderId", r.ID, "email", user.Email, "error", err)
			continue
		}
		sent++
	}

	if sent == 0 {
		return fmt.Errorf("reminder %s: no participant email delivered", r.ID)
	}
	return nil
}

// fireInApp emits the reminder event to the single connection bound to
// r.TargetEmail, if any. A participant with no live connection, or no
// account matching the target email, simply misses the push — that's
// expected, not an error, so the reminder is still marked sent.
func (s *Scheduler) fireInApp(ctx context.Context, r *domain.Reminder, meeting *domain.Meeting) error {
	user, err := s.deps.Users.GetByEmail(ctx, r.TargetEmail)
	if err != nil {
		s.logger.Infow("reminder in-app: no user for target email", "reminderId", r.ID, "email", r.TargetEmail)
		return nil
	}
	participant, err := s.deps.Participants.GetByUserAndMeeting(ctx, user.ID, meeting.ID)
	if err != nil {
		s.logger.Infow("reminder in-app: target user is not a participant", "reminderId", r.ID, "email", r.TargetEmail)
		return nil
	}
	connID, ok := s.deps.Conns.ConnForParticipant(participant.ID)
	if !ok {
		return nil
	}
	s.deps.Broadcaster.Send(connID, "reminder", map[string]interface{}{
		"meetingId":     meeting.ID,
		"meetingTitle":  meeting.Title,
		"meetingCode":   meeting.Code,
		"minutesBefore": r.MinutesBefore,
		"targetEmail":   r.TargetEmail,
	})
	return nil
}

// gcIdleMeetings is Pass B: delete instant (never-scheduled) meetings
// that have sat idle past idleMeetingAge. Scheduled meetings are never
// touched here regardless of age.
func (s *Scheduler) gcIdleMeetings(ctx context.Context) {
	cutoff := time.Now().Add(-idleMeetingAge).Unix()
	idle, err := s.deps.Meetings.ListIdleInstant(ctx, cutoff)
	if err != nil {
		s.logger.Errorw("failed to list idle meetings", "error", err)
		return
	}

	for _, m := range idle {
		if err := s.deps.Meetings.Delete(ctx, m.ID); err != nil {
			s.logger.Errorw("failed to delete idle meeting", "meetingId", m.ID, "error", err)
		}
	}
}
