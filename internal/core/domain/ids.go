package domain

// Opaque identifier types. All are plain strings so they marshal directly
// into the JSON wire protocol without custom (Un)MarshalJSON methods.
type (
	UserID         string
	MeetingID      string
	ParticipantID  string
	ConnID         string
	BreakoutID     string
	TransportID    string
	ProducerID     string
	ConsumerID     string
	QuestionID     string
	ChatMessageID  string
	ReminderID     string
	InvitationID   string
)
