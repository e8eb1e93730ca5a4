// Package signaling is the Signaling Protocol Engine (C4): the
// per-connection websocket loop, the event dispatch pipeline, and the
// broadcast-group bookkeeping the Admission SM and Breakout Coordinator
// drive through ports.Broadcaster/ports.ConnectionDirectory.
package signaling

import (
	"context"
	"net/http"
	"sync"
	"time"

	"confsfu/internal/core/domain"
	"confsfu/internal/core/ports"
	"confsfu/internal/ratelimit"
	"confsfu/pkg/apperror"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// connection is the per-websocket bookkeeping for one Connection (§3):
// identity is fixed at handshake, meeting binding and transports are
// filled in as join-meeting/create-transport complete.
type connection struct {
	id domain.ConnID

	ws     *websocket.Conn
	sendMu sync.Mutex

	identity ports.Identity

	mu            sync.RWMutex
	meetingCode   string
	meetingID     domain.MeetingID
	participantID domain.ParticipantID
	role          domain.ParticipantRole
	sendTransport ports.Transport
	recvTransport ports.Transport
}

func (c *connection) bound() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.meetingCode != ""
}

func (c *connection) bind(meetingID domain.MeetingID, meetingCode string, participantID domain.ParticipantID, role domain.ParticipantRole) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meetingID = meetingID
	c.meetingCode = meetingCode
	c.participantID = participantID
	c.role = role
}

func (c *connection) snapshot() (meetingID domain.MeetingID, meetingCode string, participantID domain.ParticipantID, role domain.ParticipantRole) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.meetingID, c.meetingCode, c.participantID, c.role
}

// Server is the concrete implementation of ports.Broadcaster and
// ports.ConnectionDirectory, and the websocket entrypoint for C4.
// Grounded on the teacher's WebSocketServer (connections map + mutex,
// ping/pong deadlines, reader-goroutine + select loop), generalized from
// one flat peer map into named broadcast groups (§4.4) and from a single
// message-type switch into the full dispatch pipeline of §4.4.
type Server struct {
	deps Dependencies

	pingInterval time.Duration
	pongTimeout  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	limiter *ratelimit.Limiter

	mu                 sync.RWMutex
	conns              map[domain.ConnID]*connection
	groups             map[string]map[domain.ConnID]bool
	connsByParticipant map[domain.ParticipantID]domain.ConnID

	logger *zap.SugaredLogger
}

// Dependencies are the core ports the dispatch pipeline acts through.
// Bundled into one struct because every handler needs most of them, the
// way the teacher's WebSocketServer bundles peerRepo+meshService.
type Dependencies struct {
	Auth         ports.AuthVerifier
	Rooms        ports.RoomRegistry
	Admission    ports.AdmissionService
	Breakouts    ports.BreakoutService
	Meetings     ports.MeetingRepository
	Participants ports.ParticipantRepository
	Users        ports.UserRepository
	Chat         ports.ChatRepository
	Questions    ports.QuestionRepository
	Invitations  ports.InvitationRepository
	ListenIP     string
	AnnouncedIP  string
}

func NewServer(deps Dependencies, logger *zap.SugaredLogger) *Server {
	return &Server{
		deps:               deps,
		pingInterval:       25 * time.Second,
		pongTimeout:        60 * time.Second,
		readTimeout:        60 * time.Second,
		writeTimeout:       10 * time.Second,
		limiter:            ratelimit.NewLimiter(),
		conns:              make(map[domain.ConnID]*connection),
		groups:             make(map[string]map[domain.ConnID]bool),
		connsByParticipant: make(map[domain.ParticipantID]domain.ConnID),
		logger:             logger,
	}
}

// SetAdmission and SetBreakouts complete wiring after construction: the
// admission state machine and breakout coordinator both need this Server
// as their ports.Broadcaster/ports.ConnectionDirectory, creating a
// construction cycle that a single Dependencies literal can't express.
// Call both before serving any connection.
func (s *Server) SetAdmission(a ports.AdmissionService) { s.deps.Admission = a }
func (s *Server) SetBreakouts(b ports.BreakoutService)  { s.deps.Breakouts = b }

// HandleWebSocket upgrades the HTTP request, verifies the bearer token
// before accepting any event (§4.8 "reject the connection with
// UNAUTHENTICATED before any event is dispatched"), then runs the
// connection's read/dispatch loop until it disconnects.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	identity, err := s.deps.Auth.Verify(token)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	conn := &connection{
		id:       domain.ConnID(uuid.NewString()),
		ws:       ws,
		identity: identity,
	}
	s.mu.Lock()
	s.conns[conn.id] = conn
	s.mu.Unlock()

	s.logger.Infow("connection established", "connId", conn.id, "userId", identity.UserID)

	ws.SetReadDeadline(time.Now().Add(s.readTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	envelopes := make(chan Envelope, 16)
	readErrs := make(chan error, 1)
	go func() {
		for {
			var env Envelope
			if err := ws.ReadJSON(&env); err != nil {
				readErrs <- err
				return
			}
			ws.SetReadDeadline(time.Now().Add(s.readTimeout))
			envelopes <- env
		}
	}()

loop:
	for {
		select {
		case env := <-envelopes:
			// Per-connection FIFO (§5): dispatch synchronously, one
			// envelope at a time, before reading the next.
			s.dispatch(context.Background(), conn, env)

		case <-pingTicker.C:
			ws.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				break loop
			}

		case err := <-readErrs:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("connection read error", "connId", conn.id, "error", err)
			}
			break loop
		}
	}

	s.cleanup(conn)
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		return auth[7:]
	}
	return r.URL.Query().Get("token")
}

// cleanup removes the connection from every group and the registry, frees
// its rate-limit counters, and disconnects the durable participant record
// (§4.5: disconnect only sets leftAt, never status).
func (s *Server) cleanup(conn *connection) {
	s.mu.Lock()
	delete(s.conns, conn.id)
	for _, members := range s.groups {
		delete(members, conn.id)
	}
	_, _, participantID, _ := conn.snapshot()
	if participantID != "" {
		if existing, ok := s.connsByParticipant[participantID]; ok && existing == conn.id {
			delete(s.connsByParticipant, participantID)
		}
	}
	s.mu.Unlock()

	s.limiter.Release(conn.id)

	if participantID != "" && s.deps.Admission != nil {
		if err := s.deps.Admission.Disconnect(context.Background(), participantID); err != nil {
			s.logger.Warnw("disconnect cleanup failed", "participantId", participantID, "error", err)
		}
	}
	s.logger.Infow("connection closed", "connId", conn.id)
}

func (s *Server) send(conn *connection, msg interface{}) {
	conn.sendMu.Lock()
	defer conn.sendMu.Unlock()
	conn.ws.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := conn.ws.WriteJSON(msg); err != nil {
		s.logger.Warnw("failed to write to connection", "connId", conn.id, "error", err)
	}
}

// --- ports.Broadcaster ---

func (s *Server) Send(connID domain.ConnID, event string, payload interface{}) {
	s.mu.RLock()
	conn, ok := s.conns[connID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	s.send(conn, pushMessage{Event: event, Payload: payload})
}

func (s *Server) Broadcast(group, event string, payload interface{}, excludeConnID domain.ConnID) {
	s.mu.RLock()
	members := make([]*connection, 0, len(s.groups[group]))
	for connID := range s.groups[group] {
		if connID == excludeConnID {
			continue
		}
		if conn, ok := s.conns[connID]; ok {
			members = append(members, conn)
		}
	}
	s.mu.RUnlock()

	msg := pushMessage{Event: event, Payload: payload}
	for _, conn := range members {
		s.send(conn, msg)
	}
}

func (s *Server) MoveGroup(connID domain.ConnID, from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if from != "" {
		if members, ok := s.groups[from]; ok {
			delete(members, connID)
		}
	}
	if to != "" {
		members, ok := s.groups[to]
		if !ok {
			members = make(map[domain.ConnID]bool)
			s.groups[to] = members
		}
		members[connID] = true
	}
}

func (s *Server) DisconnectGroup(group string) {
	s.mu.RLock()
	members := make([]*connection, 0, len(s.groups[group]))
	for connID := range s.groups[group] {
		if conn, ok := s.conns[connID]; ok {
			members = append(members, conn)
		}
	}
	s.mu.RUnlock()

	for _, conn := range members {
		conn.ws.Close()
	}
}

// --- ports.ConnectionDirectory ---

func (s *Server) ConnForParticipant(participantID domain.ParticipantID) (domain.ConnID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	connID, ok := s.connsByParticipant[participantID]
	return connID, ok
}

func (s *Server) Disconnect(connID domain.ConnID) {
	s.mu.RLock()
	conn, ok := s.conns[connID]
	s.mu.RUnlock()
	if ok {
		conn.ws.Close()
	}
}

// registerParticipant binds a connId to its durable participant id so
// ConnForParticipant can resolve it later (Admission/Breakout use this,
// never the reverse — signaling owns this binding per §3).
func (s *Server) registerParticipant(conn *connection, participantID domain.ParticipantID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connsByParticipant[participantID] = conn.id
}

func appErrMessage(err error) string {
	if ae := apperror.As(err); ae != nil {
		return ae.Message
	}
	return "internal error"
}
