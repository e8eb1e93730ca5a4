package domain

import "time"

type ReminderType string

const (
	ReminderEmail  ReminderType = "EMAIL"
	ReminderInApp  ReminderType = "IN_APP"
)

// Reminder is a durable row fired by the scheduler's Pass A (§4.9). A
// reminder targets a meeting; the participants fanned out to are read at
// fire-time from the meeting's non-REMOVED participants.
type Reminder struct {
	ID             ReminderID
	MeetingID      MeetingID
	Type           ReminderType
	TriggerAt      time.Time
	MinutesBefore  int
	TargetEmail    string
	Sent           bool
	CreatedAt      time.Time
}

type Invitation struct {
	ID              InvitationID
	MeetingID       MeetingID
	Email           string
	InvitedByUserID UserID
	CreatedAt       time.Time
}
