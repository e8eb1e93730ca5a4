package webrtc

import (
	"sync"

	"confsfu/internal/core/domain"

	"github.com/pion/rtp"
)

// TrackPriority represents the forwarding priority of a producer's track.
type TrackPriority int

const (
	PriorityAudio        TrackPriority = iota // Highest priority - audio tracks
	PriorityVideoKeyframe                     // High priority - video keyframes
	PriorityVideoNormal                       // Normal priority - screen-share video
	PriorityVideoLow                          // Low priority - camera and other video
)

// TrackPrioritizer decides, per producer, whether an RTP packet should be
// forwarded under load. A router's forwarding loop consults this before
// writing to consumer tracks so audio and keyframes survive congestion.
type TrackPrioritizer struct {
	mu sync.RWMutex

	priorities    map[domain.ProducerID]TrackPriority
	keyframeState map[domain.ProducerID]bool
}

func NewTrackPrioritizer() *TrackPrioritizer {
	return &TrackPrioritizer{
		priorities:    make(map[domain.ProducerID]TrackPriority),
		keyframeState: make(map[domain.ProducerID]bool),
	}
}

// RegisterTrack records a producer's forwarding priority. Audio always
// outranks video; among video, a screen-share gets normal priority rather
// than low since it typically carries the content everyone is looking at.
func (tp *TrackPrioritizer) RegisterTrack(producerID domain.ProducerID, kind domain.MediaKind, appType domain.AppType) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	switch {
	case kind == domain.KindAudio:
		tp.priorities[producerID] = PriorityAudio
	case appType == domain.AppScreen:
		tp.priorities[producerID] = PriorityVideoNormal
	default:
		tp.priorities[producerID] = PriorityVideoLow
	}
}

func (tp *TrackPrioritizer) GetPriority(producerID domain.ProducerID) TrackPriority {
	tp.mu.RLock()
	defer tp.mu.RUnlock()

	priority, exists := tp.priorities[producerID]
	if !exists {
		return PriorityVideoNormal
	}
	if tp.keyframeState[producerID] {
		return PriorityVideoKeyframe
	}
	return priority
}

// ProcessPacket inspects an RTP packet and updates keyframe state for the
// producer so subsequent GetPriority calls reflect it.
func (tp *TrackPrioritizer) ProcessPacket(producerID domain.ProducerID, packet *rtp.Packet) {
	isKeyframe := detectKeyframe(packet)

	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.keyframeState[producerID] = isKeyframe
}

func detectKeyframe(packet *rtp.Packet) bool {
	if len(packet.Payload) == 0 {
		return false
	}

	// VP8: extended control bits present (X bit) + I bit set.
	firstByte := packet.Payload[0]
	if firstByte&0x80 != 0 && len(packet.Payload) >= 2 {
		if packet.Payload[1]&0x10 != 0 {
			return true
		}
	}

	// H.264: NAL unit type 5 (IDR frame).
	if packet.Payload[0]&0x1F == 5 {
		return true
	}

	return false
}

// ShouldForward decides whether to forward a packet given current load
// relative to maxLoad (e.g. live producer count vs. a configured ceiling).
func (tp *TrackPrioritizer) ShouldForward(producerID domain.ProducerID, currentLoad, maxLoad float64) bool {
	priority := tp.GetPriority(producerID)

	if priority == PriorityAudio || priority == PriorityVideoKeyframe {
		return true
	}
	if maxLoad <= 0 || currentLoad < maxLoad*0.7 {
		return true
	}
	if currentLoad < maxLoad*0.9 {
		return priority != PriorityVideoLow
	}
	return false
}

func (tp *TrackPrioritizer) UnregisterTrack(producerID domain.ProducerID) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	delete(tp.priorities, producerID)
	delete(tp.keyframeState, producerID)
}
