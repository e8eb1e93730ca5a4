package ports

import (
	"context"
	"encoding/json"

	"confsfu/internal/core/domain"
)

// TransportOptions carries the direction and the listen/announced IPs for
// a new WebRTC transport.
type TransportOptions struct {
	Direction  domain.TransportDirection
	ListenIP   string
	AnnouncedIP string
}

// TransportParams is handed back to the client verbatim.
type TransportParams struct {
	ID             domain.TransportID `json:"id"`
	ICEParameters  json.RawMessage    `json:"iceParameters"`
	ICECandidates  json.RawMessage    `json:"iceCandidates"`
	DTLSParameters json.RawMessage    `json:"dtlsParameters"`
}

type ProducerAppData struct {
	Type domain.AppType `json:"type"`
}

// Producer is an outbound media track owned by exactly one Peer.
type Producer interface {
	ID() domain.ProducerID
	Kind() domain.MediaKind
	AppType() domain.AppType
	Paused() bool
	Pause() error
	Resume() error
	Close() error
}

// Consumer is an inbound media track bound to a specific Producer.
type Consumer interface {
	ID() domain.ConsumerID
	ProducerID() domain.ProducerID
	Kind() domain.MediaKind
	Paused() bool
	Pause() error
	Resume() error
	SetPreferredLayers(spatial, temporal int) error
	Close() error
}

// Transport is a WebRTC connection between a client and a router, one per
// direction per peer.
type Transport interface {
	ID() domain.TransportID
	Params() TransportParams
	Connect(dtlsParameters json.RawMessage) error
	Produce(kind domain.MediaKind, rtpParameters json.RawMessage, appData ProducerAppData) (Producer, error)
	Consume(producerID domain.ProducerID, rtpCapabilities json.RawMessage) (Consumer, error)
	Close() error
}

// Router is an SFU routing domain; producers/consumers created on one
// router can interconnect, routers are isolated from each other.
type Router interface {
	ID() string
	RTPCapabilities() json.RawMessage
	CreateWebRtcTransport(opts TransportOptions) (Transport, error)
	CanConsume(producerID domain.ProducerID, rtpCapabilities json.RawMessage) bool
	Close() error
}

// Worker is an OS-level isolated media processor hosting routers.
type Worker interface {
	ID() string
	Alive() bool
	CreateRouter() (Router, error)
	Close() error
}

// SFUAdapter is the narrow contract over the media engine (C1).
type SFUAdapter interface {
	CreateWorker() (Worker, error)
	// NextWorker returns the next worker in round-robin order, replacing
	// dead workers transparently.
	NextWorker() (Worker, error)
	Workers() []Worker
	Close() error
}

// RoomRegistry is the process-wide meetingCode -> Room map (§5 shared
// resource policy: short exclusive guard, no suspension points).
type RoomRegistry interface {
	GetOrCreate(meetingCode string, meetingID domain.MeetingID) (Room, error)
	Get(meetingCode string) (Room, bool)
	Remove(meetingCode string)
}

// Room is the per-meeting runtime aggregate (C3). Its concrete shape lives
// in internal/room; this interface is what the signaling/admission layers
// depend on so tests can fake it.
type Room interface {
	MeetingID() domain.MeetingID
	MeetingCode() string
	IsEmpty() bool

	AddPeer(connID domain.ConnID, userID domain.UserID, participantID domain.ParticipantID, displayName string)
	RemovePeer(connID domain.ConnID)
	HasPeer(connID domain.ConnID) bool

	CreateTransport(connID domain.ConnID, opts TransportOptions) (Transport, error)
	CreateProducer(connID domain.ConnID, kind domain.MediaKind, rtpParameters json.RawMessage, appData ProducerAppData) (Producer, error)
	CreateConsumer(connID domain.ConnID, producerID domain.ProducerID, rtpCapabilities json.RawMessage) (Consumer, error)
	PauseProducer(connID domain.ConnID, producerID domain.ProducerID) error
	ResumeProducer(connID domain.ConnID, producerID domain.ProducerID) error
	CloseProducer(connID domain.ConnID, producerID domain.ProducerID) error
	ResumeConsumer(connID domain.ConnID, consumerID domain.ConsumerID) error
	SetConsumerPreferredLayers(connID domain.ConnID, consumerID domain.ConsumerID, spatial, temporal int) error
	AllProducers() []ProducerSnapshot
	// ProducersInScope returns only the producers visible in connID's own
	// scope (main, or the breakout it currently sits in) — what a newly
	// joining or reseated peer needs to start consuming immediately.
	ProducersInScope(connID domain.ConnID) []ProducerSnapshot
	// RTPCapabilities returns the capabilities of the router serving
	// connID's current scope; a connID found in no scope gets the main
	// router's capabilities.
	RTPCapabilities(connID domain.ConnID) json.RawMessage

	CreateBreakoutRouter(breakoutID domain.BreakoutID) (Router, error)
	MovePeerToBreakout(connID domain.ConnID, breakoutID domain.BreakoutID) error
	MovePeerToMain(connID domain.ConnID) error
	CloseAllBreakouts()

	Close()
}

// ProducerSnapshot is a read projection of a live producer used to answer
// meeting-joined's existingProducers[] without leaking Peer internals.
type ProducerSnapshot struct {
	ConnID     domain.ConnID
	ProducerID domain.ProducerID
	Kind       domain.MediaKind
	AppType    domain.AppType
}

// AdmissionService is the Admission / Host State Machine contract (C5).
type AdmissionService interface {
	Join(ctx context.Context, meetingCode string, user *domain.User) (*domain.Participant, *domain.Meeting, bool /*admitted*/, error)
	Admit(ctx context.Context, meetingID domain.MeetingID, targetID domain.ParticipantID) (*domain.Participant, error)
	Reject(ctx context.Context, meetingID domain.MeetingID, targetID domain.ParticipantID) error
	MoveToLobby(ctx context.Context, meetingID domain.MeetingID, targetID domain.ParticipantID) error
	Kick(ctx context.Context, meetingID domain.MeetingID, targetID domain.ParticipantID) error
	TransferHost(ctx context.Context, meetingID domain.MeetingID, callerID, targetID domain.ParticipantID) error
	EndMeeting(ctx context.Context, meetingID domain.MeetingID) error
	Disconnect(ctx context.Context, participantID domain.ParticipantID) error
}

// BreakoutService is the Breakout Coordinator contract (C6).
type BreakoutService interface {
	Create(ctx context.Context, meetingID domain.MeetingID, rooms []BreakoutRoomConfig, durationMinutes int) ([]*domain.BreakoutRoom, error)
	CloseAll(ctx context.Context, meetingID domain.MeetingID) error
	BroadcastToBreakouts(ctx context.Context, meetingID domain.MeetingID, message string) error
}

type BreakoutRoomConfig struct {
	Name           string
	ParticipantIDs []domain.ParticipantID
}

// AuthVerifier is the C8 contract: verify a bearer token at handshake.
type AuthVerifier interface {
	Verify(token string) (Identity, error)
}

type Identity struct {
	UserID  domain.UserID
	Email   string
	Name    string
	Picture string
}

// Broadcaster is the narrow push contract the Admission SM, Breakout
// Coordinator, and Reminder Scheduler use to fan out events without
// depending on the signaling engine's connection-management internals
// (§9 "scope global state behind a small server context"). Group names
// follow the lobby:<code> / meeting:<code> / breakout:<id> scheme of §4.4.
type Broadcaster interface {
	// Send delivers a push event to one connection; a no-op if the
	// connection is gone (disconnect races are expected, not errors).
	Send(connID domain.ConnID, event string, payload interface{})
	// Broadcast delivers a push event to every connection in group,
	// excluding excludeConnID if non-empty.
	Broadcast(group string, event string, payload interface{}, excludeConnID domain.ConnID)
	// MoveGroup atomically removes connID from `from` (if non-empty) and
	// adds it to `to` (if non-empty), so no outbound send can observe a
	// connection in neither or both groups (§4.4, §8 invariant 5).
	MoveGroup(connID domain.ConnID, from, to string)
	// DisconnectGroup closes every connection currently in group, used by
	// end-meeting to tear down every member connection after broadcasting
	// meeting-ended.
	DisconnectGroup(group string)
}

// ConnectionDirectory resolves the ephemeral Connection aggregate (§3):
// which connId, if any, currently represents a given Participant, and the
// reverse. The signaling engine owns connId <-> participantId binding
// since Connections are process-memory-only; the Admission SM and
// Breakout Coordinator consult this to find who to disconnect or move
// without reaching into signaling internals.
type ConnectionDirectory interface {
	ConnForParticipant(participantID domain.ParticipantID) (domain.ConnID, bool)
	Disconnect(connID domain.ConnID)
}
