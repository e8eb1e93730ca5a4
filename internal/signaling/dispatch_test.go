package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"confsfu/internal/core/domain"
	"confsfu/internal/core/ports"
	"confsfu/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// --- mocks, grounded on the hand-written testify/mock style used by
// internal/admission and internal/breakout's own tests ---

type mockAuth struct{ mock.Mock }

func (m *mockAuth) Verify(token string) (ports.Identity, error) {
	args := m.Called(token)
	return args.Get(0).(ports.Identity), args.Error(1)
}

type mockAdmission struct{ mock.Mock }

func (m *mockAdmission) Join(ctx context.Context, meetingCode string, user *domain.User) (*domain.Participant, *domain.Meeting, bool, error) {
	args := m.Called(ctx, meetingCode, user)
	var p *domain.Participant
	var mt *domain.Meeting
	if args.Get(0) != nil {
		p = args.Get(0).(*domain.Participant)
	}
	if args.Get(1) != nil {
		mt = args.Get(1).(*domain.Meeting)
	}
	return p, mt, args.Bool(2), args.Error(3)
}
func (m *mockAdmission) Admit(ctx context.Context, meetingID domain.MeetingID, targetID domain.ParticipantID) (*domain.Participant, error) {
	args := m.Called(ctx, meetingID, targetID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Participant), args.Error(1)
}
func (m *mockAdmission) Reject(ctx context.Context, meetingID domain.MeetingID, targetID domain.ParticipantID) error {
	return m.Called(ctx, meetingID, targetID).Error(0)
}
func (m *mockAdmission) MoveToLobby(ctx context.Context, meetingID domain.MeetingID, targetID domain.ParticipantID) error {
	return m.Called(ctx, meetingID, targetID).Error(0)
}
func (m *mockAdmission) Kick(ctx context.Context, meetingID domain.MeetingID, targetID domain.ParticipantID) error {
	return m.Called(ctx, meetingID, targetID).Error(0)
}
func (m *mockAdmission) TransferHost(ctx context.Context, meetingID domain.MeetingID, callerID, targetID domain.ParticipantID) error {
	return m.Called(ctx, meetingID, callerID, targetID).Error(0)
}
func (m *mockAdmission) EndMeeting(ctx context.Context, meetingID domain.MeetingID) error {
	return m.Called(ctx, meetingID).Error(0)
}
func (m *mockAdmission) Disconnect(ctx context.Context, participantID domain.ParticipantID) error {
	return m.Called(ctx, participantID).Error(0)
}

type mockRooms struct{ mock.Mock }

func (m *mockRooms) GetOrCreate(meetingCode string, meetingID domain.MeetingID) (ports.Room, error) {
	args := m.Called(meetingCode, meetingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.Room), args.Error(1)
}
func (m *mockRooms) Get(meetingCode string) (ports.Room, bool) {
	args := m.Called(meetingCode)
	if args.Get(0) == nil {
		return nil, false
	}
	return args.Get(0).(ports.Room), args.Bool(1)
}
func (m *mockRooms) Remove(meetingCode string) { m.Called(meetingCode) }

// mockRoom implements ports.Room with just enough behavior for
// join-meeting's admitted path; every method is defined so the mock
// satisfies the interface even though most go unused per test.
type mockRoom struct{ mock.Mock }

func (m *mockRoom) MeetingID() domain.MeetingID   { return "" }
func (m *mockRoom) MeetingCode() string           { return "" }
func (m *mockRoom) IsEmpty() bool                 { return false }
func (m *mockRoom) AddPeer(connID domain.ConnID, userID domain.UserID, participantID domain.ParticipantID, displayName string) {
	m.Called(connID, userID, participantID, displayName)
}
func (m *mockRoom) RemovePeer(connID domain.ConnID)        {}
func (m *mockRoom) HasPeer(connID domain.ConnID) bool      { return false }
func (m *mockRoom) CreateTransport(connID domain.ConnID, opts ports.TransportOptions) (ports.Transport, error) {
	return nil, nil
}
func (m *mockRoom) CreateProducer(connID domain.ConnID, kind domain.MediaKind, rtp json.RawMessage, appData ports.ProducerAppData) (ports.Producer, error) {
	return nil, nil
}
func (m *mockRoom) CreateConsumer(connID domain.ConnID, producerID domain.ProducerID, rtpCapabilities json.RawMessage) (ports.Consumer, error) {
	return nil, nil
}
func (m *mockRoom) PauseProducer(connID domain.ConnID, producerID domain.ProducerID) error  { return nil }
func (m *mockRoom) ResumeProducer(connID domain.ConnID, producerID domain.ProducerID) error { return nil }
func (m *mockRoom) CloseProducer(connID domain.ConnID, producerID domain.ProducerID) error  { return nil }
func (m *mockRoom) ResumeConsumer(connID domain.ConnID, consumerID domain.ConsumerID) error { return nil }
func (m *mockRoom) SetConsumerPreferredLayers(connID domain.ConnID, consumerID domain.ConsumerID, spatial, temporal int) error {
	return nil
}
func (m *mockRoom) AllProducers() []ports.ProducerSnapshot { return nil }
func (m *mockRoom) ProducersInScope(connID domain.ConnID) []ports.ProducerSnapshot {
	args := m.Called(connID)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]ports.ProducerSnapshot)
}
func (m *mockRoom) RTPCapabilities(connID domain.ConnID) json.RawMessage {
	args := m.Called(connID)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(json.RawMessage)
}
func (m *mockRoom) CreateBreakoutRouter(breakoutID domain.BreakoutID) (ports.Router, error) { return nil, nil }
func (m *mockRoom) MovePeerToBreakout(connID domain.ConnID, breakoutID domain.BreakoutID) error {
	return nil
}
func (m *mockRoom) MovePeerToMain(connID domain.ConnID) error { return nil }
func (m *mockRoom) CloseAllBreakouts()                        {}
func (m *mockRoom) Close()                                    {}

type mockParticipants struct{ mock.Mock }

func (m *mockParticipants) Create(ctx context.Context, p *domain.Participant) error {
	return m.Called(ctx, p).Error(0)
}
func (m *mockParticipants) GetByID(ctx context.Context, id domain.ParticipantID) (*domain.Participant, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Participant), args.Error(1)
}
func (m *mockParticipants) GetByUserAndMeeting(ctx context.Context, userID domain.UserID, meetingID domain.MeetingID) (*domain.Participant, error) {
	args := m.Called(ctx, userID, meetingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Participant), args.Error(1)
}
func (m *mockParticipants) Update(ctx context.Context, p *domain.Participant) error {
	return m.Called(ctx, p).Error(0)
}
func (m *mockParticipants) ListByMeeting(ctx context.Context, meetingID domain.MeetingID) ([]*domain.Participant, error) {
	args := m.Called(ctx, meetingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Participant), args.Error(1)
}
func (m *mockParticipants) ListNonRemovedByMeeting(ctx context.Context, meetingID domain.MeetingID) ([]*domain.Participant, error) {
	args := m.Called(ctx, meetingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Participant), args.Error(1)
}
func (m *mockParticipants) TransferHost(ctx context.Context, meetingID domain.MeetingID, oldHostID, newHostID domain.ParticipantID, newHostUserID domain.UserID) error {
	return m.Called(ctx, meetingID, oldHostID, newHostID, newHostUserID).Error(0)
}

type mockChat struct{ mock.Mock }

func (m *mockChat) Create(ctx context.Context, msg *domain.ChatMessage) error {
	return m.Called(ctx, msg).Error(0)
}
func (m *mockChat) ListRecentByMeeting(ctx context.Context, meetingID domain.MeetingID, limit int) ([]*domain.ChatMessage, error) {
	args := m.Called(ctx, meetingID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ChatMessage), args.Error(1)
}

// --- test harness ---

func newTestServer(t *testing.T, deps Dependencies) (*Server, *httptest.Server) {
	t.Helper()
	log := logger.New("debug").Sugar()
	srv := NewServer(deps, log)
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	t.Cleanup(ts.Close)
	return srv, ts
}

func dialTestServer(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + ts.URL[len("http"):] + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func baseDeps(auth *mockAuth) Dependencies {
	return Dependencies{Auth: auth}
}

func TestDispatch_UnboundConnectionRejectsNonJoinEvents(t *testing.T) {
	auth := new(mockAuth)
	auth.On("Verify", "tok").Return(ports.Identity{UserID: "u1", Name: "Alice"}, nil)

	_, ts := newTestServer(t, baseDeps(auth))
	conn := dialTestServer(t, ts, "tok")

	conn.WriteJSON(Envelope{Event: "send-chat", AckID: "a1", Payload: json.RawMessage(`{"content":"hi"}`)})

	var resp ackResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	assert.Equal(t, "a1", resp.AckID)
	assert.Equal(t, "join-meeting must complete first", resp.Error)
}

func TestDispatch_UnknownEventReturnsInvalidArgument(t *testing.T) {
	auth := new(mockAuth)
	auth.On("Verify", "tok").Return(ports.Identity{UserID: "u1", Name: "Alice"}, nil)
	admission := new(mockAdmission)
	admission.On("Join", mock.Anything, "abc-defg-hij", mock.Anything).Return(
		&domain.Participant{ID: "p1", UserID: "u1", Role: domain.RoleParticipant},
		&domain.Meeting{ID: "m1", Code: "abc-defg-hij", Title: "Standup"},
		true, nil)

	rooms := new(mockRooms)
	room := new(mockRoom)
	room.On("AddPeer", mock.Anything, domain.UserID("u1"), domain.ParticipantID("p1"), "Alice").Return()
	room.On("RTPCapabilities", mock.Anything).Return(json.RawMessage(nil))
	room.On("ProducersInScope", mock.Anything).Return([]ports.ProducerSnapshot(nil))
	rooms.On("GetOrCreate", "abc-defg-hij", domain.MeetingID("m1")).Return(room, nil)

	participants := new(mockParticipants)
	participants.On("ListNonRemovedByMeeting", mock.Anything, domain.MeetingID("m1")).Return([]*domain.Participant(nil), nil)

	deps := baseDeps(auth)
	deps.Admission = admission
	deps.Rooms = rooms
	deps.Participants = participants

	_, ts := newTestServer(t, deps)
	conn := dialTestServer(t, ts, "tok")

	conn.WriteJSON(Envelope{Event: "join-meeting", AckID: "j1", Payload: json.RawMessage(`{"meetingCode":"abc-defg-hij"}`)})
	var joinResp ackResponse
	if err := conn.ReadJSON(&joinResp); err != nil {
		t.Fatalf("read join ack: %v", err)
	}
	assert.Empty(t, joinResp.Error)

	conn.WriteJSON(Envelope{Event: "not-a-real-event", AckID: "a2"})
	var resp ackResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	assert.Equal(t, "a2", resp.AckID)
	assert.Contains(t, resp.Error, "unknown event")
}

func TestDispatch_JoinMeetingLobbyWaiting(t *testing.T) {
	auth := new(mockAuth)
	auth.On("Verify", "tok").Return(ports.Identity{UserID: "u1", Name: "Bob"}, nil)
	admission := new(mockAdmission)
	admission.On("Join", mock.Anything, "lob-bywa-itt", mock.Anything).Return(
		&domain.Participant{ID: "p2", UserID: "u1", Role: domain.RoleParticipant},
		&domain.Meeting{ID: "m2", Code: "lob-bywa-itt", Title: "Waiting Room Demo"},
		false, nil)

	deps := baseDeps(auth)
	deps.Admission = admission

	_, ts := newTestServer(t, deps)
	conn := dialTestServer(t, ts, "tok")

	conn.WriteJSON(Envelope{Event: "join-meeting", AckID: "j1", Payload: json.RawMessage(`{"meetingCode":"lob-bywa-itt"}`)})

	var push pushMessage
	if err := conn.ReadJSON(&push); err != nil {
		t.Fatalf("read push: %v", err)
	}
	assert.Equal(t, "lobby-waiting", push.Event)
}

func TestDispatch_HostOnlyEventRejectsParticipant(t *testing.T) {
	auth := new(mockAuth)
	auth.On("Verify", "tok").Return(ports.Identity{UserID: "u1", Name: "Carol"}, nil)
	admission := new(mockAdmission)
	admission.On("Join", mock.Anything, "hos-tonl-yyy", mock.Anything).Return(
		&domain.Participant{ID: "p3", UserID: "u1", Role: domain.RoleParticipant},
		&domain.Meeting{ID: "m3", Code: "hos-tonl-yyy", Title: "Standup"},
		true, nil)

	rooms := new(mockRooms)
	room := new(mockRoom)
	room.On("AddPeer", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()
	room.On("RTPCapabilities", mock.Anything).Return(json.RawMessage(nil))
	room.On("ProducersInScope", mock.Anything).Return([]ports.ProducerSnapshot(nil))
	rooms.On("GetOrCreate", "hos-tonl-yyy", domain.MeetingID("m3")).Return(room, nil)

	participants := new(mockParticipants)
	participants.On("ListNonRemovedByMeeting", mock.Anything, domain.MeetingID("m3")).Return([]*domain.Participant(nil), nil)
	participants.On("GetByID", mock.Anything, domain.ParticipantID("p3")).Return(
		&domain.Participant{ID: "p3", Role: domain.RoleParticipant}, nil)

	deps := baseDeps(auth)
	deps.Admission = admission
	deps.Rooms = rooms
	deps.Participants = participants

	_, ts := newTestServer(t, deps)
	conn := dialTestServer(t, ts, "tok")

	conn.WriteJSON(Envelope{Event: "join-meeting", AckID: "j1", Payload: json.RawMessage(`{"meetingCode":"hos-tonl-yyy"}`)})
	var joinResp ackResponse
	conn.ReadJSON(&joinResp)

	conn.WriteJSON(Envelope{Event: "end-meeting", AckID: "a3"})
	var resp ackResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	assert.Equal(t, "a3", resp.AckID)
	assert.Equal(t, "host or co-host role required", resp.Error)
}

func TestDispatch_RateLimitSilentlyDropsExcessEvents(t *testing.T) {
	auth := new(mockAuth)
	auth.On("Verify", "tok").Return(ports.Identity{UserID: "u1", Name: "Dana"}, nil)
	admission := new(mockAdmission)
	admission.On("Join", mock.Anything, "rat-elim-itt", mock.Anything).Return(
		&domain.Participant{ID: "p4", UserID: "u1", Role: domain.RoleParticipant},
		&domain.Meeting{ID: "m4", Code: "rat-elim-itt", Title: "Standup"},
		true, nil)

	rooms := new(mockRooms)
	room := new(mockRoom)
	room.On("AddPeer", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()
	room.On("RTPCapabilities", mock.Anything).Return(json.RawMessage(nil))
	room.On("ProducersInScope", mock.Anything).Return([]ports.ProducerSnapshot(nil))
	rooms.On("GetOrCreate", "rat-elim-itt", domain.MeetingID("m4")).Return(room, nil)

	participants := new(mockParticipants)
	participants.On("ListNonRemovedByMeeting", mock.Anything, domain.MeetingID("m4")).Return([]*domain.Participant(nil), nil)

	chat := new(mockChat)
	chat.On("ListRecentByMeeting", mock.Anything, domain.MeetingID("m4"), 100).Return([]*domain.ChatMessage(nil), nil)

	deps := baseDeps(auth)
	deps.Admission = admission
	deps.Rooms = rooms
	deps.Participants = participants
	deps.Chat = chat

	_, ts := newTestServer(t, deps)
	conn := dialTestServer(t, ts, "tok")

	conn.WriteJSON(Envelope{Event: "join-meeting", AckID: "j1", Payload: json.RawMessage(`{"meetingCode":"rat-elim-itt"}`)})
	var joinResp ackResponse
	conn.ReadJSON(&joinResp)

	// get-chat-history falls into CategoryDefault (limit 10/s), the same
	// bucket join-meeting itself just used one slot of; 11 more requests
	// should see exactly 9 allowed before the bucket saturates.
	const attempts = 11
	for i := 0; i < attempts; i++ {
		conn.WriteJSON(Envelope{Event: "get-chat-history", AckID: "ack"})
	}

	received := 0
	conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	for {
		var resp ackResponse
		if err := conn.ReadJSON(&resp); err != nil {
			break
		}
		received++
	}

	assert.Equal(t, 9, received)
}
