package room

import (
	"encoding/json"
	"sync"

	"confsfu/internal/core/domain"
	"confsfu/internal/core/ports"
	"confsfu/pkg/apperror"
)

// scope groups the peers and router belonging to one routing domain: the
// main meeting, or a single breakout session (§4.3).
type scope struct {
	router ports.Router
	peers  map[domain.ConnID]*Peer
}

func newScope(router ports.Router) *scope {
	return &scope{router: router, peers: make(map[domain.ConnID]*Peer)}
}

// Room is the per-meeting runtime aggregate (C3): the live main scope plus
// zero or more breakout scopes, all sharing a registry-assigned worker set.
// Grounded on the teacher's WebSocketServer connection bookkeeping,
// generalized from a single flat map into main/breakout scoping so a
// connId lives in exactly one scope at a time (§8 invariant).
type Room struct {
	meetingID   domain.MeetingID
	meetingCode string
	adapter     ports.SFUAdapter

	mu        sync.Mutex
	main      *scope
	breakouts map[domain.BreakoutID]*scope
	closed    bool
}

func NewRoom(meetingID domain.MeetingID, meetingCode string, adapter ports.SFUAdapter, mainRouter ports.Router) *Room {
	return &Room{
		meetingID:   meetingID,
		meetingCode: meetingCode,
		adapter:     adapter,
		main:        newScope(mainRouter),
		breakouts:   make(map[domain.BreakoutID]*scope),
	}
}

func (r *Room) MeetingID() domain.MeetingID { return r.meetingID }
func (r *Room) MeetingCode() string         { return r.meetingCode }

func (r *Room) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.main.peers) > 0 {
		return false
	}
	for _, s := range r.breakouts {
		if len(s.peers) > 0 {
			return false
		}
	}
	return true
}

// AddPeer registers a peer in the main scope. Joining a breakout happens
// later via MovePeerToBreakout; every peer starts in main.
func (r *Room) AddPeer(connID domain.ConnID, userID domain.UserID, participantID domain.ParticipantID, displayName string) {
	p := NewPeer(connID, userID, participantID, displayName)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.main.peers[connID] = p
}

func (r *Room) HasPeer(connID domain.ConnID) bool {
	_, ok := r.GetPeer(connID)
	return ok
}

func (r *Room) RemovePeer(connID domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.main.peers[connID]; ok {
		delete(r.main.peers, connID)
		r.mu.Unlock()
		p.Close()
		return
	}
	for _, s := range r.breakouts {
		if p, ok := s.peers[connID]; ok {
			delete(s.peers, connID)
			r.mu.Unlock()
			p.Close()
			return
		}
	}
	r.mu.Unlock()
}

func (r *Room) GetPeer(connID domain.ConnID) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.main.peers[connID]; ok {
		return p, true
	}
	for _, s := range r.breakouts {
		if p, ok := s.peers[connID]; ok {
			return p, true
		}
	}
	return nil, false
}

// scopeFor returns the scope currently holding connID, or the main scope
// if the peer isn't found anywhere (callers treat that as "use main").
func (r *Room) scopeFor(connID domain.ConnID) *scope {
	if _, ok := r.main.peers[connID]; ok {
		return r.main
	}
	for _, s := range r.breakouts {
		if _, ok := s.peers[connID]; ok {
			return s
		}
	}
	return r.main
}

func (r *Room) CreateTransport(connID domain.ConnID, opts ports.TransportOptions) (ports.Transport, error) {
	r.mu.Lock()
	s := r.scopeFor(connID)
	p, ok := s.peers[connID]
	r.mu.Unlock()
	if !ok {
		return nil, apperror.NotFound("peer")
	}

	t, err := s.router.CreateWebRtcTransport(opts)
	if err != nil {
		return nil, err
	}
	if opts.Direction == domain.DirectionSend {
		err = p.SetSendTransport(t)
	} else {
		err = p.SetRecvTransport(t)
	}
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	return t, nil
}

func (r *Room) CreateProducer(connID domain.ConnID, kind domain.MediaKind, rtpParameters json.RawMessage, appData ports.ProducerAppData) (ports.Producer, error) {
	p, ok := r.GetPeer(connID)
	if !ok {
		return nil, apperror.NotFound("peer")
	}
	t := p.SendTransport()
	if t == nil {
		return nil, apperror.NotFound("transport")
	}

	if appData.Type == domain.AppScreen {
		if taken, err := r.screenShareTaken(connID); err != nil || taken {
			if err != nil {
				return nil, err
			}
			return nil, apperror.AlreadyExists("Someone is already sharing their screen")
		}
	}

	prod, err := t.Produce(kind, rtpParameters, appData)
	if err != nil {
		return nil, err
	}
	p.AddProducer(prod)
	return prod, nil
}

func (r *Room) screenShareTaken(requester domain.ConnID) (bool, error) {
	r.mu.Lock()
	s := r.scopeFor(requester)
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	r.mu.Unlock()

	for _, p := range peers {
		if len(p.ProducersOfType(domain.AppScreen)) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (r *Room) CreateConsumer(connID domain.ConnID, producerID domain.ProducerID, rtpCapabilities json.RawMessage) (ports.Consumer, error) {
	p, ok := r.GetPeer(connID)
	if !ok {
		return nil, apperror.NotFound("peer")
	}
	t := p.RecvTransport()
	if t == nil {
		return nil, apperror.NotFound("transport")
	}

	r.mu.Lock()
	s := r.scopeFor(connID)
	r.mu.Unlock()
	if !s.router.CanConsume(producerID, rtpCapabilities) {
		return nil, apperror.New(apperror.CodeCodecIncompatible, "codec incompatible")
	}

	c, err := t.Consume(producerID, rtpCapabilities)
	if err != nil {
		return nil, err
	}
	p.AddConsumer(c)
	return c, nil
}

func (r *Room) PauseProducer(connID domain.ConnID, producerID domain.ProducerID) error {
	p, ok := r.GetPeer(connID)
	if !ok {
		return apperror.NotFound("peer")
	}
	prod, ok := p.GetProducer(producerID)
	if !ok {
		return apperror.NotFound("producer")
	}
	return prod.Pause()
}

func (r *Room) ResumeProducer(connID domain.ConnID, producerID domain.ProducerID) error {
	p, ok := r.GetPeer(connID)
	if !ok {
		return apperror.NotFound("peer")
	}
	prod, ok := p.GetProducer(producerID)
	if !ok {
		return apperror.NotFound("producer")
	}
	return prod.Resume()
}

func (r *Room) CloseProducer(connID domain.ConnID, producerID domain.ProducerID) error {
	p, ok := r.GetPeer(connID)
	if !ok {
		return apperror.NotFound("peer")
	}
	prod, ok := p.GetProducer(producerID)
	if !ok {
		return apperror.NotFound("producer")
	}
	err := prod.Close()
	p.RemoveProducer(producerID)
	return err
}

func (r *Room) ResumeConsumer(connID domain.ConnID, consumerID domain.ConsumerID) error {
	p, ok := r.GetPeer(connID)
	if !ok {
		return apperror.NotFound("peer")
	}
	c, ok := p.GetConsumer(consumerID)
	if !ok {
		return apperror.NotFound("consumer")
	}
	return c.Resume()
}

func (r *Room) SetConsumerPreferredLayers(connID domain.ConnID, consumerID domain.ConsumerID, spatial, temporal int) error {
	p, ok := r.GetPeer(connID)
	if !ok {
		return apperror.NotFound("peer")
	}
	c, ok := p.GetConsumer(consumerID)
	if !ok {
		return apperror.NotFound("consumer")
	}
	return c.SetPreferredLayers(spatial, temporal)
}

// AllProducers snapshots every live producer across main and breakout
// scopes, used to answer meeting-joined's existingProducers[] without
// leaking Peer internals to the signaling layer.
func (r *Room) AllProducers() []ports.ProducerSnapshot {
	r.mu.Lock()
	scopes := make([]*scope, 0, 1+len(r.breakouts))
	scopes = append(scopes, r.main)
	for _, s := range r.breakouts {
		scopes = append(scopes, s)
	}
	var peers []*Peer
	for _, s := range scopes {
		for _, p := range s.peers {
			peers = append(peers, p)
		}
	}
	r.mu.Unlock()

	var out []ports.ProducerSnapshot
	for _, p := range peers {
		p.mu.Lock()
		for id, prod := range p.producers {
			out = append(out, ports.ProducerSnapshot{
				ConnID:     p.ConnID,
				ProducerID: id,
				Kind:       prod.Kind(),
				AppType:    prod.AppType(),
			})
		}
		p.mu.Unlock()
	}
	return out
}

// ProducersInScope returns producer snapshots visible to connID's current
// scope only (main, or whichever breakout it sits in), used to answer
// meeting-joined/breakout-joined's existingProducers[] without including
// producers isolated in an unrelated scope.
func (r *Room) ProducersInScope(connID domain.ConnID) []ports.ProducerSnapshot {
	r.mu.Lock()
	s := r.scopeFor(connID)
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	r.mu.Unlock()

	var out []ports.ProducerSnapshot
	for _, p := range peers {
		p.mu.Lock()
		for id, prod := range p.producers {
			out = append(out, ports.ProducerSnapshot{
				ConnID:     p.ConnID,
				ProducerID: id,
				Kind:       prod.Kind(),
				AppType:    prod.AppType(),
			})
		}
		p.mu.Unlock()
	}
	return out
}

// RTPCapabilities returns the capabilities of the router serving connID's
// current scope; a connID found in no scope gets the main router's
// capabilities (see scopeFor).
func (r *Room) RTPCapabilities(connID domain.ConnID) json.RawMessage {
	r.mu.Lock()
	s := r.scopeFor(connID)
	r.mu.Unlock()
	return s.router.RTPCapabilities()
}

// CreateBreakoutRouter provisions a fresh router for a breakout session on
// the next worker in rotation, isolated from the main router.
func (r *Room) CreateBreakoutRouter(breakoutID domain.BreakoutID) (ports.Router, error) {
	w, err := r.adapter.NextWorker()
	if err != nil {
		return nil, err
	}
	router, err := w.CreateRouter()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakouts[breakoutID] = newScope(router)
	return router, nil
}

// MovePeerToBreakout relocates a connection from main into an existing
// breakout scope. Media transports/producers/consumers are closed and the
// caller is expected to renegotiate them against the breakout's router.
func (r *Room) MovePeerToBreakout(connID domain.ConnID, breakoutID domain.BreakoutID) error {
	r.mu.Lock()
	p, ok := r.main.peers[connID]
	if !ok {
		r.mu.Unlock()
		return apperror.NotFound("peer")
	}
	s, ok := r.breakouts[breakoutID]
	if !ok {
		r.mu.Unlock()
		return apperror.NotFound("breakout room")
	}
	delete(r.main.peers, connID)
	s.peers[connID] = p
	r.mu.Unlock()

	p.resetTransports()
	return nil
}

// MovePeerToMain reverses MovePeerToBreakout.
func (r *Room) MovePeerToMain(connID domain.ConnID) error {
	r.mu.Lock()
	var found *scope
	for _, s := range r.breakouts {
		if _, ok := s.peers[connID]; ok {
			found = s
			break
		}
	}
	if found == nil {
		r.mu.Unlock()
		return apperror.NotFound("peer")
	}
	p := found.peers[connID]
	delete(found.peers, connID)
	r.main.peers[connID] = p
	r.mu.Unlock()

	p.resetTransports()
	return nil
}

// CloseAllBreakouts closes every breakout router and moves its occupants
// back to main, used both for manual "close all" and automatic duration
// expiry (§4.3).
func (r *Room) CloseAllBreakouts() {
	r.mu.Lock()
	breakouts := r.breakouts
	r.breakouts = make(map[domain.BreakoutID]*scope)
	var orphans []*Peer
	for _, s := range breakouts {
		for connID, p := range s.peers {
			r.main.peers[connID] = p
			orphans = append(orphans, p)
		}
	}
	r.mu.Unlock()

	for _, p := range orphans {
		p.resetTransports()
	}
	for _, s := range breakouts {
		_ = s.router.Close()
	}
}

func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	mainPeers := r.main.peers
	r.main.peers = make(map[domain.ConnID]*Peer)
	breakouts := r.breakouts
	r.breakouts = make(map[domain.BreakoutID]*scope)
	mainRouter := r.main.router
	r.mu.Unlock()

	for _, p := range mainPeers {
		p.Close()
	}
	for _, s := range breakouts {
		for _, p := range s.peers {
			p.Close()
		}
		_ = s.router.Close()
	}
	_ = mainRouter.Close()
}

// resetTransports tears down a peer's transports/producers/consumers
// without closing the Peer itself, so it can renegotiate fresh ones
// against its new scope's router after a breakout move.
func (p *Peer) resetTransports() {
	p.mu.Lock()
	producers := p.producers
	consumers := p.consumers
	send := p.sendTransport
	recv := p.recvTransport
	p.producers = make(map[domain.ProducerID]ports.Producer)
	p.consumers = make(map[domain.ConsumerID]ports.Consumer)
	p.sendTransport = nil
	p.recvTransport = nil
	p.mu.Unlock()

	for _, c := range consumers {
		_ = c.Close()
	}
	for _, prod := range producers {
		_ = prod.Close()
	}
	if send != nil {
		_ = send.Close()
	}
	if recv != nil {
		_ = recv.Close()
	}
}
