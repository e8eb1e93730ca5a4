// Package breakout implements the Breakout Coordinator (C6): splitting a
// meeting's participants into isolated sub-rooms, timed auto-close, and
// merging them back into the main room.
package breakout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"confsfu/internal/core/domain"
	"confsfu/internal/core/ports"
	"confsfu/pkg/apperror"
	"confsfu/pkg/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func meetingGroup(code string) string  { return "meeting:" + code }
func breakoutGroup(id string) string   { return "breakout:" + id }

// Coordinator is the Breakout Coordinator (C6). No teacher analogue exists
// for sub-room partitioning; it follows the same durable-write-then-act-
// on-Room pattern as the admission state machine, since both are callers
// of Room/Peer operations rather than owners of them.
type Coordinator struct {
	meetings     ports.MeetingRepository
	participants ports.ParticipantRepository
	breakouts    ports.BreakoutRepository
	rooms        ports.RoomRegistry
	conns        ports.ConnectionDirectory
	bcast        ports.Broadcaster
	logger       *zap.SugaredLogger

	mu     sync.Mutex
	timers map[domain.MeetingID]*time.Timer
}

func NewCoordinator(
	meetings ports.MeetingRepository,
	participants ports.ParticipantRepository,
	breakouts ports.BreakoutRepository,
	rooms ports.RoomRegistry,
	conns ports.ConnectionDirectory,
	bcast ports.Broadcaster,
	logger *zap.SugaredLogger,
) *Coordinator {
	return &Coordinator{
		meetings:     meetings,
		participants: participants,
		breakouts:    breakouts,
		rooms:        rooms,
		conns:        conns,
		bcast:        bcast,
		logger:       logger,
		timers:       make(map[domain.MeetingID]*time.Timer),
	}
}

// Create implements create-breakout (§4.6): persist one BreakoutRoom row
// per config, provision a router for each, reseat every listed participant
// and their connection, arm the auto-close timer if a duration was given.
func (c *Coordinator) Create(ctx context.Context, meetingID domain.MeetingID, configs []ports.BreakoutRoomConfig, durationMinutes int) ([]*domain.BreakoutRoom, error) {
	if err := validation.ValidateBreakoutRoomCount(len(configs)); err != nil {
		return nil, apperror.InvalidArgument(err.Error())
	}
	if durationMinutes != 0 {
		if err := validation.ValidateBreakoutDurationMinutes(durationMinutes); err != nil {
			return nil, apperror.InvalidArgument(err.Error())
		}
	}

	seen := make(map[domain.ParticipantID]bool)
	for _, cfg := range configs {
		if err := validation.ValidateBreakoutName(cfg.Name); err != nil {
			return nil, apperror.InvalidArgument(err.Error())
		}
		for _, pid := range cfg.ParticipantIDs {
			if seen[pid] {
				return nil, apperror.InvalidArgument(fmt.Sprintf("participant %s listed in more than one breakout room", pid))
			}
			seen[pid] = true
		}
	}

	meeting, err := c.meetings.GetByID(ctx, meetingID)
	if err != nil {
		return nil, apperror.NotFound("meeting")
	}
	r, ok := c.rooms.Get(meeting.Code)
	if !ok {
		return nil, apperror.New(apperror.CodeInvalidState, "meeting has no live room")
	}

	var endsAt *time.Time
	if durationMinutes != 0 {
		t := time.Now().Add(time.Duration(durationMinutes) * time.Minute)
		endsAt = &t
	}

	created := make([]*domain.BreakoutRoom, 0, len(configs))
	for _, cfg := range configs {
		b := &domain.BreakoutRoom{
			ID:        domain.BreakoutID(uuid.NewString()),
			MeetingID: meetingID,
			Name:      cfg.Name,
			IsActive:  true,
			CreatedAt: time.Now(),
			EndsAt:    endsAt,
		}
		if err := c.breakouts.Create(ctx, b); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to persist breakout room")
		}
		if _, err := r.CreateBreakoutRouter(b.ID); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeUpstreamUnavailable, "failed to provision breakout router")
		}
		created = append(created, b)

		for _, pid := range cfg.ParticipantIDs {
			c.reseatIntoBreakout(ctx, r, b, pid, meeting.Code)
		}
	}

	c.bcast.Broadcast(meetingGroup(meeting.Code), "breakout-created", map[string]interface{}{
		"rooms": created,
	}, "")

	if endsAt != nil {
		c.armTimer(meetingID, durationMinutes)
	}

	return created, nil
}

// reseatIntoBreakout marks a participant's durable status IN_BREAKOUT and,
// if they currently hold a live connection in the main scope, moves it
// onto the breakout's router and notifies the client to renegotiate.
func (c *Coordinator) reseatIntoBreakout(ctx context.Context, r ports.Room, b *domain.BreakoutRoom, pid domain.ParticipantID, meetingCode string) {
	p, err := c.participants.GetByID(ctx, pid)
	if err != nil {
		c.logger.Warnw("breakout target participant not found", "participantId", pid, "error", err)
		return
	}
	p.Status = domain.StatusInBreakout
	p.BreakoutRoomID = &b.ID
	if err := c.participants.Update(ctx, p); err != nil {
		c.logger.Errorw("failed to persist breakout status", "participantId", pid, "error", err)
		return
	}

	connID, ok := c.conns.ConnForParticipant(pid)
	if !ok {
		return
	}
	if err := r.MovePeerToBreakout(connID, b.ID); err != nil {
		c.logger.Errorw("failed to move peer to breakout", "connId", connID, "breakoutId", b.ID, "error", err)
		return
	}
	c.bcast.MoveGroup(connID, meetingGroup(meetingCode), breakoutGroup(string(b.ID)))
	c.bcast.Send(connID, "breakout-joined", map[string]interface{}{
		"breakoutRoom": b,
	})
}

// CloseAll implements close-breakouts (§4.6): deactivate every BreakoutRoom
// row, revert every IN_BREAKOUT participant to IN_MEETING, collapse the
// Room's breakout scopes back into main, and cancel any pending auto-close
// timer so a later fire can never double-close.
func (c *Coordinator) CloseAll(ctx context.Context, meetingID domain.MeetingID) error {
	c.cancelTimer(meetingID)

	meeting, err := c.meetings.GetByID(ctx, meetingID)
	if err != nil {
		return apperror.NotFound("meeting")
	}

	active, err := c.breakouts.ListActiveByMeeting(ctx, meetingID)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeInternal, "failed to list active breakout rooms")
	}
	if len(active) == 0 {
		return nil
	}

	if err := c.breakouts.DeactivateAll(ctx, meetingID); err != nil {
		return apperror.Wrap(err, apperror.CodeInternal, "failed to deactivate breakout rooms")
	}

	participants, err := c.participants.ListByMeeting(ctx, meetingID)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeInternal, "failed to list participants")
	}
	for _, p := range participants {
		if p.Status != domain.StatusInBreakout {
			continue
		}
		p.Status = domain.StatusInMeeting
		p.BreakoutRoomID = nil
		if err := c.participants.Update(ctx, p); err != nil {
			c.logger.Errorw("failed to revert breakout status", "participantId", p.ID, "error", err)
			continue
		}
		if connID, ok := c.conns.ConnForParticipant(p.ID); ok {
			c.bcast.Send(connID, "breakout-ended", nil)
		}
	}

	if r, ok := c.rooms.Get(meeting.Code); ok {
		r.CloseAllBreakouts()
	}

	c.bcast.Broadcast(meetingGroup(meeting.Code), "breakout-closed", nil, "")
	return nil
}

// BroadcastToBreakouts implements broadcast-to-breakouts: host-only, fans
// a message out to every breakout:<id> group of this meeting.
func (c *Coordinator) BroadcastToBreakouts(ctx context.Context, meetingID domain.MeetingID, message string) error {
	active, err := c.breakouts.ListActiveByMeeting(ctx, meetingID)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeInternal, "failed to list active breakout rooms")
	}
	for _, b := range active {
		c.bcast.Broadcast(breakoutGroup(string(b.ID)), "breakout-broadcast", map[string]interface{}{
			"message": message,
		}, "")
	}
	return nil
}

// armTimer schedules the one-shot auto-close for a meeting's breakout
// session, replacing any prior timer for the same meeting.
func (c *Coordinator) armTimer(meetingID domain.MeetingID, durationMinutes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.timers[meetingID]; ok {
		existing.Stop()
	}
	c.timers[meetingID] = time.AfterFunc(time.Duration(durationMinutes)*time.Minute, func() {
		c.mu.Lock()
		delete(c.timers, meetingID)
		c.mu.Unlock()
		if err := c.CloseAll(context.Background(), meetingID); err != nil {
			c.logger.Errorw("auto-close of breakout rooms failed", "meetingId", meetingID, "error", err)
		}
	})
}

// cancelTimer stops a meeting's pending auto-close timer, if any. Always
// called on manual close-breakouts so a subsequent fire can never run a
// second close against an already-clean state (§4.6, resolved open
// question: cancel unconditionally rather than leave the no-op race).
func (c *Coordinator) cancelTimer(meetingID domain.MeetingID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[meetingID]; ok {
		t.Stop()
		delete(c.timers, meetingID)
	}
}
