package domain

import "time"

// BreakoutRoom is the durable record behind a breakout sub-router. One row
// per config passed to create-breakout.
type BreakoutRoom struct {
	ID        BreakoutID
	MeetingID MeetingID
	Name      string
	IsActive  bool
	CreatedAt time.Time
	EndsAt    *time.Time
}
