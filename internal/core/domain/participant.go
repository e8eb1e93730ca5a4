package domain

import "time"

type ParticipantRole string

const (
	RoleHost        ParticipantRole = "HOST"
	RoleCoHost      ParticipantRole = "CO_HOST"
	RoleParticipant ParticipantRole = "PARTICIPANT"
)

type ParticipantStatus string

const (
	StatusInLobby    ParticipantStatus = "IN_LOBBY"
	StatusInMeeting  ParticipantStatus = "IN_MEETING"
	StatusInBreakout ParticipantStatus = "IN_BREAKOUT"
	StatusRemoved    ParticipantStatus = "REMOVED"
)

// Participant is the durable (userId, meetingId) record. It is the
// authoritative state for admission and role; Connection/Peer are the
// ephemeral, process-memory reflections of it while a user is online.
type Participant struct {
	ID             ParticipantID
	UserID         UserID
	MeetingID      MeetingID
	Role           ParticipantRole
	Status         ParticipantStatus
	BreakoutRoomID *BreakoutID
	JoinedAt       time.Time
	LeftAt         *time.Time
}

func (p *Participant) IsHost() bool {
	return p.Role == RoleHost
}

func (p *Participant) CanActAsHost() bool {
	return p.Role == RoleHost || p.Role == RoleCoHost
}
