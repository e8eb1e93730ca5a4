package signaling

import "encoding/json"

// Envelope is the wire shape of every client -> server request (§6):
// {event, payload} plus an optional ack id the server echoes back on the
// matching ack response.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	AckID   string          `json:"ackId,omitempty"`
}

// ackResponse is the server -> client reply to one Envelope.
type ackResponse struct {
	AckID   string      `json:"ackId,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// pushMessage is a server -> client unsolicited event (broadcasts, and
// direct pushes to one connection such as lobby-waiting).
type pushMessage struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

type joinMeetingPayload struct {
	MeetingCode string `json:"meetingCode"`
}

type createTransportPayload struct {
	Direction string `json:"direction"`
}

type connectTransportPayload struct {
	TransportID    string          `json:"transportId"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

type producePayload struct {
	TransportID   string          `json:"transportId"`
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters"`
	AppData       struct {
		Type string `json:"type"`
	} `json:"appData"`
}

type consumePayload struct {
	ProducerID      string          `json:"producerId"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

type consumerIDPayload struct {
	ConsumerID string `json:"consumerId"`
}

type preferredLayersPayload struct {
	ConsumerID   string `json:"consumerId"`
	SpatialLayer int    `json:"spatialLayer"`
	TemporalLayer int   `json:"temporalLayer"`
}

type producerIDPayload struct {
	ProducerID string `json:"producerId"`
}

type participantIDPayload struct {
	ParticipantID string `json:"participantId"`
}

type transferHostPayload struct {
	NewHostID string `json:"newHostId"`
}

type invitePayload struct {
	Email string `json:"email"`
}

type chatContentPayload struct {
	Content string `json:"content"`
}

type questionContentPayload struct {
	Content string `json:"content"`
}

type questionIDPayload struct {
	QuestionID string `json:"questionId"`
}

type breakoutRoomConfigPayload struct {
	Name           string   `json:"name"`
	ParticipantIDs []string `json:"participantIds"`
}

type createBreakoutPayload struct {
	Rooms    []breakoutRoomConfigPayload `json:"rooms"`
	Duration int                         `json:"duration"`
}

type broadcastToBreakoutsPayload struct {
	Message string `json:"message"`
}
