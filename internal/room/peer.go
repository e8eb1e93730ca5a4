package room

import (
	"sync"

	"confsfu/internal/core/domain"
	"confsfu/internal/core/ports"
	"confsfu/pkg/apperror"
)

// Peer is the per-connection aggregate of transports and media tracks in
// one room scope (main or a single breakout). Grounded on the teacher's
// Publisher/Subscriber structs, generalized into one object owning both
// directions per §4.2.
type Peer struct {
	ConnID        domain.ConnID
	UserID        domain.UserID
	ParticipantID domain.ParticipantID
	DisplayName   string

	mu            sync.Mutex
	sendTransport ports.Transport
	recvTransport ports.Transport
	producers     map[domain.ProducerID]ports.Producer
	consumers     map[domain.ConsumerID]ports.Consumer
	closed        bool
}

func NewPeer(connID domain.ConnID, userID domain.UserID, participantID domain.ParticipantID, displayName string) *Peer {
	return &Peer{
		ConnID:        connID,
		UserID:        userID,
		ParticipantID: participantID,
		DisplayName:   displayName,
		producers:     make(map[domain.ProducerID]ports.Producer),
		consumers:     make(map[domain.ConsumerID]ports.Consumer),
	}
}

func (p *Peer) SetSendTransport(t ports.Transport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return apperror.InvalidState("peer closed")
	}
	if p.sendTransport != nil {
		return apperror.InvalidState("transport already set")
	}
	p.sendTransport = t
	return nil
}

func (p *Peer) SetRecvTransport(t ports.Transport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return apperror.InvalidState("peer closed")
	}
	if p.recvTransport != nil {
		return apperror.InvalidState("transport already set")
	}
	p.recvTransport = t
	return nil
}

func (p *Peer) SendTransport() ports.Transport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sendTransport
}

func (p *Peer) RecvTransport() ports.Transport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recvTransport
}

func (p *Peer) AddProducer(prod ports.Producer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.producers[prod.ID()] = prod
}

func (p *Peer) RemoveProducer(id domain.ProducerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.producers, id)
}

func (p *Peer) GetProducer(id domain.ProducerID) (ports.Producer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prod, ok := p.producers[id]
	return prod, ok
}

func (p *Peer) ProducersOfType(appType domain.AppType) []ports.Producer {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []ports.Producer
	for _, prod := range p.producers {
		if prod.AppType() == appType {
			out = append(out, prod)
		}
	}
	return out
}

func (p *Peer) AddConsumer(c ports.Consumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumers[c.ID()] = c
}

func (p *Peer) RemoveConsumer(id domain.ConsumerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.consumers, id)
}

func (p *Peer) GetConsumer(id domain.ConsumerID) (ports.Consumer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.consumers[id]
	return c, ok
}

func (p *Peer) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close closes every owned Producer and Consumer, then both transports.
// Idempotent; the Peer is dead afterward and further operations should
// fail with an INVALID_STATE "peer closed" error.
func (p *Peer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	producers := p.producers
	consumers := p.consumers
	send := p.sendTransport
	recv := p.recvTransport
	p.producers = make(map[domain.ProducerID]ports.Producer)
	p.consumers = make(map[domain.ConsumerID]ports.Consumer)
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
