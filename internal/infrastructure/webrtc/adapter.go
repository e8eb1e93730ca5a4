package webrtc

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"confsfu/internal/core/domain"
	"confsfu/internal/core/ports"
	"confsfu/pkg/apperror"
	rlog "confsfu/pkg/logger"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config mirrors the WebRTC section of pkg/config: listen/announced IP,
// ephemeral UDP port range, and the ICE server list handed to every
// PeerConnection.
type Config struct {
	ListenIP    string
	AnnouncedIP string
	MinPort     uint16
	MaxPort     uint16
	ICEServers  []webrtc.ICEServer
}

// Adapter is the concrete ports.SFUAdapter: a round-robin pool of Workers,
// each an isolated set of Routers. Grounded on SFUService's
// createPeerConnection/RTCP-processing/track-forwarding shape, generalized
// from a single global publisher/subscriber map to the worker/router/
// transport/producer/consumer contract of the media-engine boundary.
type Adapter struct {
	cfg     Config
	logger  *zap.SugaredLogger
	mu      sync.RWMutex
	workers []*worker
	next    uint64
}

func NewAdapter(cfg Config, numWorkers int) *Adapter {
	a := &Adapter{cfg: cfg, logger: rlog.New("info").Sugar()}
	for i := 0; i < numWorkers; i++ {
		w, err := a.CreateWorker()
		if err != nil {
			a.logger.Errorw("failed to create initial worker", "index", i, "error", err)
			continue
		}
		_ = w
	}
	return a
}

func (a *Adapter) CreateWorker() (ports.Worker, error) {
	w := &worker{id: uuid.NewString(), adapter: a, alive: true}
	a.mu.Lock()
	a.workers = append(a.workers, w)
	a.mu.Unlock()
	return w, nil
}

// NextWorker round-robins across the pool, skipping and replacing dead
// workers transparently per §4.1's failure-mode contract.
func (a *Adapter) NextWorker() (ports.Worker, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.workers) == 0 {
		return nil, fmt.Errorf("no workers available")
	}
	for attempts := 0; attempts < len(a.workers); attempts++ {
		idx := atomic.AddUint64(&a.next, 1) % uint64(len(a.workers))
		w := a.workers[idx]
		if w.Alive() {
			return w, nil
		}
		replacement := &worker{id: uuid.NewString(), adapter: a, alive: true}
		a.workers[idx] = replacement
		a.logger.Warnw("replaced dead worker", "old_worker_id", w.id, "new_worker_id", replacement.id)
		return replacement, nil
	}
	return nil, fmt.Errorf("no live workers available")
}

func (a *Adapter) Workers() []ports.Worker {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]ports.Worker, len(a.workers))
	for i, w := range a.workers {
		out[i] = w
	}
	return out
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, w := range a.workers {
		w.Close()
	}
	a.workers = nil
	return nil
}

type worker struct {
	id      string
	adapter *Adapter
	alive   bool
	mu      sync.Mutex
}

func (w *worker) ID() string  { return w.id }
func (w *worker) Alive() bool { w.mu.Lock(); defer w.mu.Unlock(); return w.alive }

func (w *worker) CreateRouter() (ports.Router, error) {
	if !w.Alive() {
		return nil, fmt.Errorf("worker %s is dead", w.id)
	}
	return &router{
		id:          uuid.NewString(),
		worker:      w,
		cfg:         w.adapter.cfg,
		logger:      w.adapter.logger,
		prioritizer: NewTrackPrioritizer(),
	}, nil
}

func (w *worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.alive = false
	return nil
}

// supportedCodecs is the fixed codec set named by §4.1: Opus stereo @48kHz
// with in-band FEC/DTX, VP8/VP9/H.264 baseline for video.
var supportedCodecs = []webrtc.RTPCodecParameters{
	{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: "minptime=10;useinbandfec=1;usedtx=1"}, PayloadType: 111},
	{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, PayloadType: 96},
	{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9, ClockRate: 90000}, PayloadType: 98},
	{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000, SDPFmtpLine: "profile-level-id=42e01f"}, PayloadType: 102},
}

type router struct {
	id     string
	worker *worker
	cfg    Config
	logger *zap.SugaredLogger

	mu          sync.RWMutex
	transports  map[domain.TransportID]*transport
	producers   map[domain.ProducerID]*producerTrack
	prioritizer *TrackPrioritizer
}

func (r *router) ID() string { return r.id }

func (r *router) RTPCapabilities() json.RawMessage {
	caps, _ := json.Marshal(supportedCodecs)
	return caps
}

func (r *router) CreateWebRtcTransport(opts ports.TransportOptions) (ports.Transport, error) {
	settingEngine := webrtc.SettingEngine{}
	if r.cfg.MinPort > 0 && r.cfg.MaxPort > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(r.cfg.MinPort, r.cfg.MaxPort); err != nil {
			return nil, fmt.Errorf("set port range: %w", err)
		}
	}

	mediaEngine := &webrtc.MediaEngine{}
	for _, codec := range supportedCodecs {
		kind := webrtc.RTPCodecTypeVideo
		if codec.MimeType == webrtc.MimeTypeOpus {
			kind = webrtc.RTPCodecTypeAudio
		}
		if err := mediaEngine.RegisterCodec(codec, kind); err != nil {
			return nil, fmt.Errorf("register codec %s: %w", codec.MimeType, err)
		}
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine), webrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: r.cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	t := &transport{
		id:        domain.TransportID(uuid.NewString()),
		direction: opts.Direction,
		router:    r,
		pc:        pc,
		consumers: make(map[domain.ConsumerID]*consumerTrack),
		logger:    r.logger,
	}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if state == webrtc.ICEConnectionStateFailed || state == webrtc.ICEConnectionStateDisconnected {
			r.logger.Infow("transport ice state degraded", "transport_id", t.id, "state", state)
		}
	})

	if opts.Direction == domain.DirectionSend {
		pc.OnTrack(t.onRemoteTrack)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}

	r.mu.Lock()
	if r.transports == nil {
		r.transports = make(map[domain.TransportID]*transport)
	}
	if r.producers == nil {
		r.producers = make(map[domain.ProducerID]*producerTrack)
	}
	r.transports[t.id] = t
	r.mu.Unlock()

	return t, nil
}

// CanConsume probes codec compatibility; in this adapter every registered
// producer's codec is drawn from the router's fixed set, so compatibility
// reduces to "does the router still know this producer".
func (r *router) CanConsume(producerID domain.ProducerID, rtpCapabilities json.RawMessage) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.producers[producerID]
	return ok
}

func (r *router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.transports {
		t.pc.Close()
	}
	r.transports = nil
	r.producers = nil
	return nil
}

type producerTrack struct {
	id       domain.ProducerID
	kind     domain.MediaKind
	appType  domain.AppType
	local    *webrtc.TrackLocalStaticRTP
	owner    *transport
	mu       sync.Mutex
	paused   bool
	consumers map[domain.ConsumerID]*consumerTrack
}

type consumerTrack struct {
	id         domain.ConsumerID
	producerID domain.ProducerID
	kind       domain.MediaKind
	owner      *transport
	sender     *webrtc.RTPSender
	mu         sync.Mutex
	paused     bool
}

type transport struct {
	id        domain.TransportID
	direction domain.TransportDirection
	router    *router
	pc        *webrtc.PeerConnection
	logger    *zap.SugaredLogger

	mu        sync.Mutex
	connected bool
	consumers map[domain.ConsumerID]*consumerTrack
}

func (t *transport) ID() domain.TransportID { return t.id }

func (t *transport) Params() ports.TransportParams {
	local := t.pc.LocalDescription()
	sdp, _ := json.Marshal(local)
	return ports.TransportParams{
		ID:             t.id,
		ICEParameters:  sdp,
		ICECandidates:  json.RawMessage(`[]`),
		DTLSParameters: json.RawMessage(`{}`),
	}
}

// Connect completes the handshake. The SDP answer produced by the client
// travels in dtlsParameters as a marshaled webrtc.SessionDescription --
// this adapter folds mediasoup-style transport negotiation onto pion's
// offer/answer exchange rather than exposing raw ICE/DTLS parameters.
// Idempotent per transport per §4.1.
func (t *transport) Connect(dtlsParameters json.RawMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		return nil
	}
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(dtlsParameters, &answer); err != nil {
		return fmt.Errorf("invalid dtls/answer payload: %w", err)
	}
	if err := t.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	t.connected = true
	return nil
}

func (t *transport) Produce(kind domain.MediaKind, rtpParameters json.RawMessage, appData ports.ProducerAppData) (ports.Producer, error) {
	mimeType := webrtc.MimeTypeOpus
	if kind == domain.KindVideo {
		mimeType = webrtc.MimeTypeVP8
	}
	local, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: mimeType}, string(appData.Type), uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("new local track: %w", err)
	}

	p := &producerTrack{
		id:        domain.ProducerID(uuid.NewString()),
		kind:      kind,
		appType:   appData.Type,
		local:     local,
		owner:     t,
		consumers: make(map[domain.ConsumerID]*consumerTrack),
	}

	t.router.mu.Lock()
	t.router.producers[p.id] = p
	t.router.mu.Unlock()
	t.router.prioritizer.RegisterTrack(p.id, kind, appData.Type)

	return p, nil
}

// onRemoteTrack starts the forwarding loop for an incoming send-transport
// track: read RTP from the remote track, write to the matching producer's
// local track so every current and future Consumer receives it. Grounded
// on forwardTrackToSubscribers, generalized from a fixed subscriber map to
// Consumer-driven fanout.
func (t *transport) onRemoteTrack(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	t.router.mu.RLock()
	var target *producerTrack
	for _, p := range t.router.producers {
		if p.owner == t && p.kind == trackKind(remote.Kind()) && target == nil {
			target = p
		}
	}
	t.router.mu.RUnlock()
	if target == nil {
		t.logger.Warnw("no producer registered for incoming track", "transport_id", t.id)
		return
	}

	go t.drainRTCP(receiver)

	buf := make([]byte, 1500)
	pkt := &rtp.Packet{}
	for {
		n, _, err := remote.Read(buf)
		if err != nil {
			t.logger.Infow("remote track ended", "transport_id", t.id, "error", err)
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}

		t.router.prioritizer.ProcessPacket(target.id, pkt)

		t.router.mu.RLock()
		load := float64(len(t.router.producers))
		t.router.mu.RUnlock()
		if !t.router.prioritizer.ShouldForward(target.id, load, maxProducersPerRouter) {
			continue
		}

		if target.local != nil {
			_ = target.local.WriteRTP(pkt)
		}
	}
}

// maxProducersPerRouter is the load ceiling the prioritizer load-sheds
// against; past it, only audio and keyframes keep forwarding.
const maxProducersPerRouter = 50

func (t *transport) drainRTCP(receiver *webrtc.RTPReceiver) {
	for {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range packets {
			if _, ok := pkt.(*rtcp.PictureLossIndication); ok {
				t.logger.Debugw("received PLI", "transport_id", t.id)
			}
		}
	}
}

func trackKind(k webrtc.RTPCodecType) domain.MediaKind {
	if k == webrtc.RTPCodecTypeAudio {
		return domain.KindAudio
	}
	return domain.KindVideo
}

func (t *transport) Consume(producerID domain.ProducerID, rtpCapabilities json.RawMessage) (ports.Consumer, error) {
	t.router.mu.RLock()
	p, ok := t.router.producers[producerID]
	t.router.mu.RUnlock()
	if !ok {
		return nil, apperror.NotFound("producer")
	}

	sender, err := t.pc.AddTrack(p.local)
	if err != nil {
		return nil, fmt.Errorf("add track for consumer: %w", err)
	}

	c := &consumerTrack{
		id:         domain.ConsumerID(uuid.NewString()),
		producerID: producerID,
		kind:       p.kind,
		owner:      t,
		sender:     sender,
		paused:     true,
	}

	p.mu.Lock()
	p.consumers[c.id] = c
	p.mu.Unlock()

	t.mu.Lock()
	t.consumers[c.id] = c
	t.mu.Unlock()

	return c, nil
}

func (t *transport) Close() error {
	return t.pc.Close()
}

func (p *producerTrack) ID() domain.ProducerID   { return p.id }
func (p *producerTrack) Kind() domain.MediaKind  { return p.kind }
func (p *producerTrack) AppType() domain.AppType { return p.appType }
func (p *producerTrack) Paused() bool            { p.mu.Lock(); defer p.mu.Unlock(); return p.paused }
func (p *producerTrack) Pause() error            { p.mu.Lock(); p.paused = true; p.mu.Unlock(); return nil }
func (p *producerTrack) Resume() error           { p.mu.Lock(); p.paused = false; p.mu.Unlock(); return nil }

func (p *producerTrack) Close() error {
	p.mu.Lock()
	consumers := make([]*consumerTrack, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	p.mu.Unlock()
	for _, c := range consumers {
		_ = c.Close()
	}
	p.owner.router.mu.Lock()
	delete(p.owner.router.producers, p.id)
	p.owner.router.mu.Unlock()
	p.owner.router.prioritizer.UnregisterTrack(p.id)
	return nil
}

func (c *consumerTrack) ID() domain.ConsumerID         { return c.id }
func (c *consumerTrack) ProducerID() domain.ProducerID { return c.producerID }
func (c *consumerTrack) Kind() domain.MediaKind        { return c.kind }
func (c *consumerTrack) Paused() bool                  { c.mu.Lock(); defer c.mu.Unlock(); return c.paused }

func (c *consumerTrack) Pause() error {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	return nil
}

func (c *consumerTrack) Resume() error {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	return nil
}

// SetPreferredLayers accepts a simulcast-layer preference and discards it:
// this adapter forwards a single encoding per producer, so the call stores
// nothing and has no forwarding effect.
func (c *consumerTrack) SetPreferredLayers(spatial, temporal int) error {
	return nil
}

func (c *consumerTrack) Close() error {
	if c.sender != nil {
		_ = c.owner.pc.RemoveTrack(c.sender)
	}
	c.owner.mu.Lock()
	delete(c.owner.consumers, c.id)
	c.owner.mu.Unlock()
	return nil
}
