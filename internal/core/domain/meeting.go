package domain

import "time"

type MeetingStatus string

const (
	MeetingScheduled MeetingStatus = "SCHEDULED"
	MeetingLive      MeetingStatus = "LIVE"
	MeetingEnded     MeetingStatus = "ENDED"
)

// Meeting is the durable record behind a Room. Room is the in-memory
// cache of the live subset of a LIVE meeting's state; Meeting itself is
// the source of truth for status and host.
type Meeting struct {
	ID           MeetingID
	Code         string
	Title        string
	HostUserID   UserID
	LobbyEnabled bool
	Status       MeetingStatus
	ScheduledAt  *time.Time
	StartedAt    *time.Time
	EndedAt      *time.Time
	CreatedAt    time.Time
}

// IsInstant reports whether this meeting was never scheduled ahead of
// time — instant meetings are the ones the GC pass considers for cleanup.
func (m *Meeting) IsInstant() bool {
	return m.ScheduledAt == nil
}
