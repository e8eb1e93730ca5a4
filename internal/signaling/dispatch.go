package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"confsfu/internal/core/domain"
	"confsfu/internal/core/ports"
	"confsfu/internal/ratelimit"
	"confsfu/pkg/apperror"
	"confsfu/pkg/validation"

	"github.com/google/uuid"
)

// hostOnlyEvents require the caller's durable role to be HOST or CO_HOST
// (§4.5 authorization); transferHost is stricter still and checked
// separately since CO_HOST is not sufficient for it.
var hostOnlyEvents = map[string]bool{
	"lobby-admit":           true,
	"lobby-reject":          true,
	"move-to-lobby":         true,
	"kick-participant":      true,
	"end-meeting":           true,
	"invite-participant":    true,
	"mark-answered":         true,
	"pin-question":          true,
	"create-breakout":       true,
	"close-breakouts":       true,
	"broadcast-to-breakouts": true,
}

type handlerFunc func(ctx context.Context, s *Server, conn *connection, payload json.RawMessage) (interface{}, error)

var handlers = map[string]handlerFunc{
	"join-meeting":           handleJoinMeeting,
	"create-transport":       handleCreateTransport,
	"connect-transport":      handleConnectTransport,
	"produce":                handleProduce,
	"consume":                handleConsume,
	"resume-consumer":        handleResumeConsumer,
	"set-preferred-layers":   handleSetPreferredLayers,
	"pause-producer":         handlePauseProducer,
	"resume-producer":        handleResumeProducer,
	"close-producer":         handleCloseProducer,
	"lobby-admit":            handleLobbyAdmit,
	"lobby-reject":           handleLobbyReject,
	"move-to-lobby":          handleMoveToLobby,
	"kick-participant":       handleKickParticipant,
	"transfer-host":          handleTransferHost,
	"end-meeting":            handleEndMeeting,
	"invite-participant":     handleInviteParticipant,
	"send-chat":              handleSendChat,
	"get-chat-history":       handleGetChatHistory,
	"ask-question":           handleAskQuestion,
	"upvote-question":        handleUpvoteQuestion,
	"mark-answered":          handleMarkAnswered,
	"pin-question":           handlePinQuestion,
	"create-breakout":        handleCreateBreakout,
	"close-breakouts":        handleCloseBreakouts,
	"broadcast-to-breakouts": handleBroadcastToBreakouts,
}

// dispatch runs the 8-step pipeline of §4.4 for one inbound envelope.
// Steps 1 (auth) already happened at handshake; everything else happens
// here, in order, before any Room/DB mutation is attempted.
func (s *Server) dispatch(ctx context.Context, conn *connection, env Envelope) {
	category := ratelimit.ClassifyEvent(env.Event)
	if !s.limiter.Allow(conn.id, category) {
		return // RATE_LIMITED: silent drop, no ack (§4.7)
	}

	if env.Event != "join-meeting" && !conn.bound() {
		s.ack(conn, env.AckID, nil, apperror.New(apperror.CodeNotBound, "join-meeting must complete first"))
		return
	}

	handler, ok := handlers[env.Event]
	if !ok {
		s.ack(conn, env.AckID, nil, apperror.InvalidArgument(fmt.Sprintf("unknown event %q", env.Event)))
		return
	}

	if hostOnlyEvents[env.Event] || env.Event == "transfer-host" {
		if err := s.authorizeHost(ctx, conn, env.Event); err != nil {
			s.ack(conn, env.AckID, nil, err)
			return
		}
	}

	payload, err := handler(ctx, s, conn, env.Payload)
	s.ack(conn, env.AckID, payload, err)
}

// authorizeHost re-reads the participant's durable role rather than
// trusting the connection's cached snapshot, since role changes (host
// transfer) must take effect immediately and durable state wins over
// any in-memory cache (§5).
func (s *Server) authorizeHost(ctx context.Context, conn *connection, event string) error {
	_, _, participantID, _ := conn.snapshot()
	p, err := s.deps.Participants.GetByID(ctx, participantID)
	if err != nil {
		return apperror.NotFound("participant")
	}
	if event == "transfer-host" {
		if !p.IsHost() {
			return apperror.PermissionDenied("only the host can transfer host status")
		}
		return nil
	}
	if !p.CanActAsHost() {
		return apperror.PermissionDenied("host or co-host role required")
	}
	return nil
}

func (s *Server) ack(conn *connection, ackID string, payload interface{}, err error) {
	if ackID == "" && err == nil {
		return
	}
	resp := ackResponse{AckID: ackID, Payload: payload}
	if err != nil {
		resp.Error = appErrMessage(err)
	}
	s.send(conn, resp)
}

func (s *Server) room(conn *connection) (ports.Room, error) {
	_, meetingCode, _, _ := conn.snapshot()
	r, ok := s.deps.Rooms.Get(meetingCode)
	if !ok {
		return nil, apperror.NotFound("meeting room")
	}
	return r, nil
}

// --- join / meeting lifecycle ---

func handleJoinMeeting(ctx context.Context, s *Server, conn *connection, raw json.RawMessage) (interface{}, error) {
	var p joinMeetingPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperror.InvalidArgument("malformed payload")
	}
	if err := validation.ValidateMeetingCode(p.MeetingCode); err != nil {
		return nil, apperror.InvalidArgument(err.Error())
	}

	user := &domain.User{ID: conn.identity.UserID, Name: conn.identity.Name, Email: conn.identity.Email, AvatarURL: conn.identity.Picture}
	participant, meeting, admitted, err := s.deps.Admission.Join(ctx, p.MeetingCode, user)
	if err != nil {
		return nil, err
	}

	conn.bind(meeting.ID, meeting.Code, participant.ID, participant.Role)
	s.registerParticipant(conn, participant.ID)

	if !admitted {
		s.mu.Lock()
		members, ok := s.groups[lobbyGroup(meeting.Code)]
		if !ok {
			members = make(map[domain.ConnID]bool)
			s.groups[lobbyGroup(meeting.Code)] = members
		}
		members[conn.id] = true
		s.mu.Unlock()
		s.Send(conn.id, "lobby-waiting", map[string]interface{}{"meetingTitle": meeting.Title})
		return nil, nil
	}

	s.mu.Lock()
	members, ok := s.groups[meetingGroup(meeting.Code)]
	if !ok {
		members = make(map[domain.ConnID]bool)
		s.groups[meetingGroup(meeting.Code)] = members
	}
	members[conn.id] = true
	s.mu.Unlock()

	room, err := s.deps.Rooms.GetOrCreate(meeting.Code, meeting.ID)
	if err != nil {
		return nil, apperror.UpstreamUnavailable("failed to provision room")
	}
	room.AddPeer(conn.id, participant.UserID, participant.ID, conn.identity.Name)

	participants, _ := s.deps.Participants.ListNonRemovedByMeeting(ctx, meeting.ID)
	resp := map[string]interface{}{
		"meeting":            meeting,
		"participants":       participants,
		"routerCapabilities": room.RTPCapabilities(conn.id),
		"existingProducers":  room.ProducersInScope(conn.id),
	}
	return resp, nil
}

// --- transports / media ---

func handleCreateTransport(ctx context.Context, s *Server, conn *connection, raw json.RawMessage) (interface{}, error) {
	var p createTransportPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperror.InvalidArgument("malformed payload")
	}
	var direction domain.TransportDirection
	switch p.Direction {
	case "send":
		direction = domain.DirectionSend
	case "recv":
		direction = domain.DirectionRecv
	default:
		return nil, apperror.InvalidArgument("direction must be \"send\" or \"recv\"")
	}

	room, err := s.room(conn)
	if err != nil {
		return nil, err
	}
	t, err := room.CreateTransport(conn.id, ports.TransportOptions{
		Direction:   direction,
		ListenIP:    s.deps.ListenIP,
		AnnouncedIP: s.deps.AnnouncedIP,
	})
	if err != nil {
		return nil, err
	}

	conn.mu.Lock()
	if direction == domain.DirectionSend {
		conn.sendTransport = t
	} else {
		conn.recvTransport = t
	}
	conn.mu.Unlock()

	return t.Params(), nil
}

func handleConnectTransport(ctx context.Context, s *Server, conn *connection, raw json.RawMessage) (interface{}, error) {
	var p connectTransportPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperror.InvalidArgument("malformed payload")
	}
	t := conn.transportByID(p.TransportID)
	if t == nil {
		return nil, apperror.NotFound("transport")
	}
	if err := t.Connect(p.DTLSParameters); err != nil {
		return nil, err
	}
	return map[string]bool{"connected": true}, nil
}

func (c *connection) transportByID(id string) ports.Transport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sendTransport != nil && string(c.sendTransport.ID()) == id {
		return c.sendTransport
	}
	if c.recvTransport != nil && string(c.recvTransport.ID()) == id {
		return c.recvTransport
	}
	return nil
}

func handleProduce(ctx context.Context, s *Server, conn *connection, raw json.RawMessage) (interface{}, error) {
	var p producePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperror.InvalidArgument("malformed payload")
	}
	var kind domain.MediaKind
	switch p.Kind {
	case string(domain.KindAudio):
		kind = domain.KindAudio
	case string(domain.KindVideo):
		kind = domain.KindVideo
	default:
		return nil, apperror.InvalidArgument("kind must be \"audio\" or \"video\"")
	}
	appType := domain.AppType(p.AppData.Type)
	if appType != domain.AppAudio && appType != domain.AppVideo && appType != domain.AppScreen {
		return nil, apperror.InvalidArgument("appData.type must be audio, video, or screen")
	}
	if len(p.RTPParameters) == 0 {
		return nil, apperror.InvalidArgument("rtpParameters is required")
	}

	room, err := s.room(conn)
	if err != nil {
		return nil, err
	}
	prod, err := room.CreateProducer(conn.id, kind, p.RTPParameters, ports.ProducerAppData{Type: appType})
	if err != nil {
		return nil, err
	}

	_, meetingCode, _, _ := conn.snapshot()
	s.Broadcast(meetingGroup(meetingCode), "new-producer", map[string]interface{}{
		"producerId": prod.ID(),
		"connId":     conn.id,
		"kind":       kind,
		"appData":    ports.ProducerAppData{Type: appType},
	}, conn.id)

	return map[string]interface{}{"producerId": prod.ID()}, nil
}

func handleConsume(ctx context.Context, s *Server, conn *connection, raw json.RawMessage) (interface{}, error) {
	var p consumePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperror.InvalidArgument("malformed payload")
	}
	if p.ProducerID == "" || len(p.RTPCapabilities) == 0 {
		return nil, apperror.InvalidArgument("producerId and rtpCapabilities are required")
	}

	room, err := s.room(conn)
	if err != nil {
		return nil, err
	}
	c, err := room.CreateConsumer(conn.id, domain.ProducerID(p.ProducerID), p.RTPCapabilities)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"id":         c.ID(),
		"producerId": c.ProducerID(),
		"kind":       c.Kind(),
	}, nil
}

func handleResumeConsumer(ctx context.Context, s *Server, conn *connection, raw json.RawMessage) (interface{}, error) {
	var p consumerIDPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperror.InvalidArgument("malformed payload")
	}
	room, err := s.room(conn)
	if err != nil {
		return nil, err
	}
	if err := room.ResumeConsumer(conn.id, domain.ConsumerID(p.ConsumerID)); err != nil {
		return nil, err
	}
	return map[string]bool{"resumed": true}, nil
}

func handleSetPreferredLayers(ctx context.Context, s *Server, conn *connection, raw json.RawMessage) (interface{}, error) {
	var p preferredLayersPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperror.InvalidArgument("malformed payload")
	}
	room, err := s.room(conn)
	if err != nil {
		return nil, err
	}
	if err := room.SetConsumerPreferredLayers(conn.id, domain.ConsumerID(p.ConsumerID), p.SpatialLayer, p.TemporalLayer); err != nil {
		return nil, err
	}
	return map[string]bool{"success": true}, nil
}

func handlePauseProducer(ctx context.Context, s *Server, conn *connection, raw json.RawMessage) (interface{}, error) {
	return producerAction(s, conn, raw, "producer-paused", func(room ports.Room, pid domain.ProducerID) error {
		return room.PauseProducer(conn.id, pid)
	})
}

func handleResumeProducer(ctx context.Context, s *Server, conn *connection, raw json.RawMessage) (interface{}, error) {
	return producerAction(s, conn, raw, "producer-resumed", func(room ports.Room, pid domain.ProducerID) error {
		return room.ResumeProducer(conn.id, pid)
	})
}

func handleCloseProducer(ctx context.Context, s *Server, conn *connection, raw json.RawMessage) (interface{}, error) {
	return producerAction(s, conn, raw, "producer-closed", func(room ports.Room, pid domain.ProducerID) error {
		return room.CloseProducer(conn.id, pid)
	})
}

func producerAction(s *Server, conn *connection, raw json.RawMessage, event string, act func(ports.Room, domain.ProducerID) error) (interface{}, error) {
	var p producerIDPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperror.InvalidArgument("malformed payload")
	}
	room, err := s.room(conn)
	if err != nil {
		return nil, err
	}
	if err := act(room, domain.ProducerID(p.ProducerID)); err != nil {
		return nil, err
	}

	_, meetingCode, _, _ := conn.snapshot()
	s.Broadcast(meetingGroup(meetingCode), event, map[string]interface{}{"producerId": p.ProducerID}, "")
	return map[string]interface{}{"producerId": p.ProducerID}, nil
}

// --- host / admission ---

func handleLobbyAdmit(ctx context.Context, s *Server, conn *connection, raw json.RawMessage) (interface{}, error) {
	var p participantIDPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperror.InvalidArgument("malformed payload")
	}
	meetingID, _, _, _ := conn.snapshot()
	_, err := s.deps.Admission.Admit(ctx, meetingID, domain.ParticipantID(p.ParticipantID))
	return nil, err
}

func handleLobbyReject(ctx context.Context, s *Server, conn *connection, raw json.RawMessage) (interface{}, error) {
	var p participantIDPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperror.InvalidArgument("malformed payload")
	}
	meetingID, _, _, _ := conn.snapshot()
	return nil, s.deps.Admission.Reject(ctx, meetingID, domain.ParticipantID(p.ParticipantID))
}

func handleMoveToLobby(ctx context.Context, s *Server, conn *connection, raw json.RawMessage) (interface{}, error) {
	var p participantIDPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperror.InvalidArgument("malformed payload")
	}
	meetingID, _, _, _ := conn.snapshot()
	return nil, s.deps.Admission.MoveToLobby(ctx, meetingID, domain.ParticipantID(p.ParticipantID))
}

func handleKickParticipant(ctx context.Context, s *Server, conn *connection, raw json.RawMessage) (interface{}, error) {
	var p participantIDPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperror.InvalidArgument("malformed payload")
	}
	meetingID, _, _, _ := conn.snapshot()
	return nil, s.deps.Admission.Kick(ctx, meetingID, domain.ParticipantID(p.ParticipantID))
}

func handleTransferHost(ctx context.Context, s *Server, conn *connection, raw json.RawMessage) (interface{}, error) {
	var p transferHostPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperror.InvalidArgument("malformed payload")
	}
	meetingID, _, participantID, _ := conn.snapshot()
	return nil, s.deps.Admission.TransferHost(ctx, meetingID, participantID, domain.ParticipantID(p.NewHostID))
}

func handleEndMeeting(ctx context.Context, s *Server, conn *connection, raw json.RawMessage) (interface{}, error) {
	meetingID, _, _, _ := conn.snapshot()
	return nil, s.deps.Admission.EndMeeting(ctx, meetingID)
}

func handleInviteParticipant(ctx context.Context, s *Server, conn *connection, raw json.RawMessage) (interface{}, error) {
	var p invitePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperror.InvalidArgument("malformed payload")
	}
	if err := validation.ValidateEmail(p.Email); err != nil {
		return nil, apperror.InvalidArgument(err.Error())
	}
	meetingID, _, _, _ := conn.snapshot()
	inv := &domain.Invitation{
		ID:              domain.InvitationID(newID()),
		MeetingID:       meetingID,
		Email:           p.Email,
		InvitedByUserID: conn.identity.UserID,
		CreatedAt:       nowFunc(),
	}
	if err := s.deps.Invitations.Create(ctx, inv); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to persist invitation")
	}
	return map[string]bool{"invited": true}, nil
}

// --- chat ---

func handleSendChat(ctx context.Context, s *Server, conn *connection, raw json.RawMessage) (interface{}, error) {
	var p chatContentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperror.InvalidArgument("malformed payload")
	}
	if err := validation.ValidateChatContent(p.Content); err != nil {
		return nil, apperror.InvalidArgument(err.Error())
	}

	meetingID, meetingCode, _, _ := conn.snapshot()
	msg := &domain.ChatMessage{
		ID:        domain.ChatMessageID(newID()),
		MeetingID: meetingID,
		UserID:    conn.identity.UserID,
		UserName:  conn.identity.Name,
		Content:   p.Content,
		CreatedAt: nowFunc(),
	}
	if err := s.deps.Chat.Create(ctx, msg); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to persist chat message")
	}

	s.Broadcast(meetingGroup(meetingCode), "new-chat", msg, "")
	return nil, nil
}

func handleGetChatHistory(ctx context.Context, s *Server, conn *connection, raw json.RawMessage) (interface{}, error) {
	meetingID, _, _, _ := conn.snapshot()
	messages, err := s.deps.Chat.ListRecentByMeeting(ctx, meetingID, 100)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to load chat history")
	}
	return map[string]interface{}{"messages": messages}, nil
}

// --- Q&A ---

func handleAskQuestion(ctx context.Context, s *Server, conn *connection, raw json.RawMessage) (interface{}, error) {
	var p questionContentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperror.InvalidArgument("malformed payload")
	}
	if err := validation.ValidateQuestionContent(p.Content); err != nil {
		return nil, apperror.InvalidArgument(err.Error())
	}

	meetingID, meetingCode, _, _ := conn.snapshot()
	q := &domain.Question{
		ID:        domain.QuestionID(newID()),
		MeetingID: meetingID,
		UserID:    conn.identity.UserID,
		Content:   p.Content,
		CreatedAt: nowFunc(),
	}
	if err := s.deps.Questions.Create(ctx, q); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to persist question")
	}

	s.Broadcast(meetingGroup(meetingCode), "new-question", domain.QuestionWithVotes{Question: *q}, "")
	return map[string]interface{}{"questionId": q.ID}, nil
}

func handleUpvoteQuestion(ctx context.Context, s *Server, conn *connection, raw json.RawMessage) (interface{}, error) {
	var p questionIDPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperror.InvalidArgument("malformed payload")
	}
	count, upvoted, err := s.deps.Questions.ToggleUpvote(ctx, domain.QuestionID(p.QuestionID), conn.identity.UserID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to toggle upvote")
	}

	_, meetingCode, _, _ := conn.snapshot()
	s.Broadcast(meetingGroup(meetingCode), "question-upvoted", map[string]interface{}{
		"questionId":  p.QuestionID,
		"upvoteCount": count,
	}, "")
	return map[string]interface{}{"upvoted": upvoted, "upvoteCount": count}, nil
}

func handleMarkAnswered(ctx context.Context, s *Server, conn *connection, raw json.RawMessage) (interface{}, error) {
	return toggleQuestionFlag(ctx, s, conn, raw, "question-answered", func(q *domain.Question) { q.Answered = !q.Answered })
}

func handlePinQuestion(ctx context.Context, s *Server, conn *connection, raw json.RawMessage) (interface{}, error) {
	return toggleQuestionFlag(ctx, s, conn, raw, "question-pinned", func(q *domain.Question) { q.Pinned = !q.Pinned })
}

func toggleQuestionFlag(ctx context.Context, s *Server, conn *connection, raw json.RawMessage, event string, toggle func(*domain.Question)) (interface{}, error) {
	var p questionIDPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperror.InvalidArgument("malformed payload")
	}
	q, err := s.deps.Questions.GetByID(ctx, domain.QuestionID(p.QuestionID))
	if err != nil {
		return nil, apperror.NotFound("question")
	}
	toggle(q)
	if err := s.deps.Questions.Update(ctx, q); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to update question")
	}

	_, meetingCode, _, _ := conn.snapshot()
	s.Broadcast(meetingGroup(meetingCode), event, q, "")
	return q, nil
}

// --- breakouts ---

func handleCreateBreakout(ctx context.Context, s *Server, conn *connection, raw json.RawMessage) (interface{}, error) {
	var p createBreakoutPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperror.InvalidArgument("malformed payload")
	}
	configs := make([]ports.BreakoutRoomConfig, len(p.Rooms))
	for i, rc := range p.Rooms {
		ids := make([]domain.ParticipantID, len(rc.ParticipantIDs))
		for j, id := range rc.ParticipantIDs {
			ids[j] = domain.ParticipantID(id)
		}
		configs[i] = ports.BreakoutRoomConfig{Name: rc.Name, ParticipantIDs: ids}
	}

	meetingID, _, _, _ := conn.snapshot()
	created, err := s.deps.Breakouts.Create(ctx, meetingID, configs, p.Duration)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"rooms": created}, nil
}

func handleCloseBreakouts(ctx context.Context, s *Server, conn *connection, raw json.RawMessage) (interface{}, error) {
	meetingID, _, _, _ := conn.snapshot()
	return nil, s.deps.Breakouts.CloseAll(ctx, meetingID)
}

func handleBroadcastToBreakouts(ctx context.Context, s *Server, conn *connection, raw json.RawMessage) (interface{}, error) {
	var p broadcastToBreakoutsPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperror.InvalidArgument("malformed payload")
	}
	meetingID, _, _, _ := conn.snapshot()
	return nil, s.deps.Breakouts.BroadcastToBreakouts(ctx, meetingID, p.Message)
}

func meetingGroup(code string) string { return "meeting:" + code }
func lobbyGroup(code string) string   { return "lobby:" + code }

func newID() string      { return uuid.NewString() }
func nowFunc() time.Time { return time.Now() }
