package admission

import (
	"context"
	"time"

	"confsfu/internal/core/domain"
	"confsfu/internal/core/ports"
	"confsfu/pkg/apperror"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StateMachine is the Admission / Host State Machine (C5): the sole writer
// of Participant.status and Meeting.hostUserId from the core (§9 "single-
// writer durable state"). No teacher analogue exists — the streaming
// domain has no lobby concept — but durable-write-then-broadcast follows
// the "durable state wins" rule of §5 the way the teacher's MeshService
// treats its repository as the write-through source of truth.
type StateMachine struct {
	users        ports.UserRepository
	meetings     ports.MeetingRepository
	participants ports.ParticipantRepository
	rooms        ports.RoomRegistry
	conns        ports.ConnectionDirectory
	bcast        ports.Broadcaster
	logger       *zap.SugaredLogger
}

func NewStateMachine(
	users ports.UserRepository,
	meetings ports.MeetingRepository,
	participants ports.ParticipantRepository,
	rooms ports.RoomRegistry,
	conns ports.ConnectionDirectory,
	bcast ports.Broadcaster,
	logger *zap.SugaredLogger,
) *StateMachine {
	return &StateMachine{
		users:        users,
		meetings:     meetings,
		participants: participants,
		rooms:        rooms,
		conns:        conns,
		bcast:        bcast,
		logger:       logger,
	}
}

func meetingGroup(code string) string   { return "meeting:" + code }
func lobbyGroup(code string) string     { return "lobby:" + code }
func breakoutGroup(id string) string    { return "breakout:" + id }

// Join implements the `{∅} -> IN_LOBBY|IN_MEETING` transitions and the
// rejoin rule of §4.5: a reconnecting IN_MEETING participant with leftAt
// set stays IN_MEETING rather than being re-held in the lobby.
func (sm *StateMachine) Join(ctx context.Context, meetingCode string, user *domain.User) (*domain.Participant, *domain.Meeting, bool, error) {
	meeting, err := sm.meetings.GetByCode(ctx, meetingCode)
	if err != nil {
		return nil, nil, false, apperror.NotFound("meeting")
	}
	if meeting.Status == domain.MeetingEnded {
		return nil, nil, false, apperror.New(apperror.CodeInvalidState, "meeting has ended")
	}

	existing, err := sm.participants.GetByUserAndMeeting(ctx, user.ID, meeting.ID)
	isHost := meeting.HostUserID == user.ID

	var p *domain.Participant
	switch {
	case err == nil && existing != nil:
		p = existing
		if p.Status == domain.StatusRemoved {
			return nil, nil, false, apperror.PermissionDenied("you have been removed from this meeting")
		}
		if p.Status == domain.StatusInMeeting || p.Status == domain.StatusInBreakout {
			p.LeftAt = nil
			if uerr := sm.participants.Update(ctx, p); uerr != nil {
				return nil, nil, false, apperror.Wrap(uerr, apperror.CodeInternal, "failed to update participant")
			}
			sm.markLive(ctx, meeting)
			return p, meeting, true, nil
		}
		// previously IN_LOBBY: fall through to lobby/admit decision below.
	default:
		role := domain.RoleParticipant
		if isHost {
			role = domain.RoleHost
		}
		p = &domain.Participant{
			ID:        domain.ParticipantID(uuid.NewString()),
			UserID:    user.ID,
			MeetingID: meeting.ID,
			Role:      role,
			JoinedAt:  time.Now(),
		}
	}

	admit := isHost || !meeting.LobbyEnabled
	if admit {
		p.Status = domain.StatusInMeeting
	} else {
		p.Status = domain.StatusInLobby
	}

	if existing == nil {
		if cerr := sm.participants.Create(ctx, p); cerr != nil {
			return nil, nil, false, apperror.Wrap(cerr, apperror.CodeInternal, "failed to create participant")
		}
	} else if uerr := sm.participants.Update(ctx, p); uerr != nil {
		return nil, nil, false, apperror.Wrap(uerr, apperror.CodeInternal, "failed to update participant")
	}

	if admit {
		sm.markLive(ctx, meeting)
	} else {
		sm.bcast.Broadcast(meetingGroup(meeting.Code), "lobby-participant", map[string]interface{}{
			"participantId": p.ID,
			"userId":        user.ID,
			"name":          user.Name,
		}, "")
	}

	return p, meeting, admit, nil
}

func (sm *StateMachine) markLive(ctx context.Context, meeting *domain.Meeting) {
	if meeting.Status != domain.MeetingLive {
		now := time.Now()
		meeting.Status = domain.MeetingLive
		meeting.StartedAt = &now
		if err := sm.meetings.Update(ctx, meeting); err != nil {
			sm.logger.Errorw("failed to mark meeting live", "meetingId", meeting.ID, "error", err)
		}
	}
}

// Admit handles `IN_LOBBY -> IN_MEETING` [host admit].
func (sm *StateMachine) Admit(ctx context.Context, meetingID domain.MeetingID, targetID domain.ParticipantID) (*domain.Participant, error) {
	p, err := sm.participants.GetByID(ctx, targetID)
	if err != nil {
		return nil, apperror.NotFound("participant")
	}
	if p.Status != domain.StatusInLobby {
		return nil, apperror.InvalidState("participant is not in the lobby")
	}

	p.Status = domain.StatusInMeeting
	if err := sm.participants.Update(ctx, p); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to update participant")
	}

	meeting, err := sm.meetings.GetByID(ctx, meetingID)
	if err == nil {
		if connID, ok := sm.conns.ConnForParticipant(targetID); ok {
			sm.bcast.MoveGroup(connID, lobbyGroup(meeting.Code), meetingGroup(meeting.Code))
			sm.bcast.Send(connID, "admitted", map[string]interface{}{"participantId": p.ID})
		}

		user, uerr := sm.users.GetByID(ctx, p.UserID)
		name := ""
		if uerr == nil {
			name = user.Name
		}
		sm.bcast.Broadcast(meetingGroup(meeting.Code), "participant-joined", map[string]interface{}{
			"participantId": p.ID,
			"userId":        p.UserID,
			"name":          name,
		}, "")
	}

	return p, nil
}

// Reject handles `IN_LOBBY -> REMOVED` [host reject].
func (sm *StateMachine) Reject(ctx context.Context, meetingID domain.MeetingID, targetID domain.ParticipantID) error {
	p, err := sm.participants.GetByID(ctx, targetID)
	if err != nil {
		return apperror.NotFound("participant")
	}
	if p.Status != domain.StatusInLobby {
		return apperror.InvalidState("participant is not in the lobby")
	}

	p.Status = domain.StatusRemoved
	if err := sm.participants.Update(ctx, p); err != nil {
		return apperror.Wrap(err, apperror.CodeInternal, "failed to update participant")
	}

	if connID, ok := sm.conns.ConnForParticipant(targetID); ok {
		sm.bcast.Send(connID, "lobby-rejected", nil)
		sm.conns.Disconnect(connID)
	}
	return nil
}

// MoveToLobby handles `IN_MEETING -> IN_LOBBY` [host move-to-lobby];
// forbidden if target is HOST.
func (sm *StateMachine) MoveToLobby(ctx context.Context, meetingID domain.MeetingID, targetID domain.ParticipantID) error {
	p, err := sm.participants.GetByID(ctx, targetID)
	if err != nil {
		return apperror.NotFound("participant")
	}
	if p.IsHost() {
		return apperror.PermissionDenied("cannot move the host to the lobby")
	}
	if p.Status != domain.StatusInMeeting {
		return apperror.InvalidState("participant is not in the meeting")
	}

	p.Status = domain.StatusInLobby
	if err := sm.participants.Update(ctx, p); err != nil {
		return apperror.Wrap(err, apperror.CodeInternal, "failed to update participant")
	}

	meeting, merr := sm.meetings.GetByID(ctx, meetingID)
	if merr == nil {
		if connID, ok := sm.conns.ConnForParticipant(targetID); ok {
			sm.bcast.MoveGroup(connID, meetingGroup(meeting.Code), lobbyGroup(meeting.Code))
			sm.bcast.Send(connID, "moved-to-lobby", nil)
		}
		sm.bcast.Broadcast(meetingGroup(meeting.Code), "participant-left", map[string]interface{}{
			"participantId": p.ID,
		}, "")
	}
	return nil
}

// Kick handles `IN_MEETING -> REMOVED` [host kick]; forbidden if target
// is HOST.
func (sm *StateMachine) Kick(ctx context.Context, meetingID domain.MeetingID, targetID domain.ParticipantID) error {
	p, err := sm.participants.GetByID(ctx, targetID)
	if err != nil {
		return apperror.NotFound("participant")
	}
	if p.IsHost() {
		return apperror.PermissionDenied("cannot kick the host")
	}
	if p.Status == domain.StatusRemoved {
		return apperror.InvalidState("participant already removed")
	}

	p.Status = domain.StatusRemoved
	if err := sm.participants.Update(ctx, p); err != nil {
		return apperror.Wrap(err, apperror.CodeInternal, "failed to update participant")
	}

	meeting, merr := sm.meetings.GetByID(ctx, meetingID)
	if merr == nil {
		if connID, ok := sm.conns.ConnForParticipant(targetID); ok {
			sm.bcast.Send(connID, "kicked", nil)
			sm.conns.Disconnect(connID)
		}
		sm.bcast.Broadcast(meetingGroup(meeting.Code), "participant-left", map[string]interface{}{
			"participantId": p.ID,
		}, targetConnOrEmpty(sm, targetID))
	}
	return nil
}

func targetConnOrEmpty(sm *StateMachine, targetID domain.ParticipantID) domain.ConnID {
	if connID, ok := sm.conns.ConnForParticipant(targetID); ok {
		return connID
	}
	return ""
}

// TransferHost demotes the caller and promotes target in one atomic
// durable write (§4.5, §8 invariant 2). Requires the caller to currently
// hold HOST; CO_HOST is not sufficient.
func (sm *StateMachine) TransferHost(ctx context.Context, meetingID domain.MeetingID, callerID, targetID domain.ParticipantID) error {
	caller, err := sm.participants.GetByID(ctx, callerID)
	if err != nil {
		return apperror.NotFound("participant")
	}
	if !caller.IsHost() {
		return apperror.PermissionDenied("only the host can transfer host status")
	}

	target, err := sm.participants.GetByID(ctx, targetID)
	if err != nil {
		return apperror.NotFound("participant")
	}

	if err := sm.participants.TransferHost(ctx, meetingID, callerID, targetID, target.UserID); err != nil {
		return apperror.Wrap(err, apperror.CodeInternal, "failed to transfer host")
	}

	meeting, merr := sm.meetings.GetByID(ctx, meetingID)
	if merr == nil {
		sm.bcast.Broadcast(meetingGroup(meeting.Code), "host-changed", map[string]interface{}{
			"newHostId": targetID,
			"oldHostId": callerID,
		}, "")
	}
	return nil
}

// EndMeeting is host-only: sets Meeting.status = ENDED, closes the Room,
// fans out meeting-ended, and disconnects every member connection.
func (sm *StateMachine) EndMeeting(ctx context.Context, meetingID domain.MeetingID) error {
	meeting, err := sm.meetings.GetByID(ctx, meetingID)
	if err != nil {
		return apperror.NotFound("meeting")
	}

	now := time.Now()
	meeting.Status = domain.MeetingEnded
	meeting.EndedAt = &now
	if err := sm.meetings.Update(ctx, meeting); err != nil {
		return apperror.Wrap(err, apperror.CodeInternal, "failed to update meeting")
	}

	sm.rooms.Remove(meeting.Code)

	sm.bcast.Broadcast(meetingGroup(meeting.Code), "meeting-ended", nil, "")
	sm.bcast.DisconnectGroup(meetingGroup(meeting.Code))
	sm.bcast.DisconnectGroup(lobbyGroup(meeting.Code))

	return nil
}

// Disconnect implements the `* -> REMOVED` row's documented behavior per
// the resolved open question (§9 decision 1): only leftAt is set on
// disconnect, status is left unchanged to support transparent reconnect.
func (sm *StateMachine) Disconnect(ctx context.Context, participantID domain.ParticipantID) error {
	p, err := sm.participants.GetByID(ctx, participantID)
	if err != nil {
		return apperror.NotFound("participant")
	}

	now := time.Now()
	p.LeftAt = &now
	if err := sm.participants.Update(ctx, p); err != nil {
		sm.logger.Warnw("failed to persist disconnect timestamp", "participantId", participantID, "error", err)
		return nil
	}
	return nil
}
