package monitoring

import (
	"time"

	"confsfu/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exposes the gauges/counters/histograms an operator
// would scrape to watch meeting and media-plane health. Grounded on the
// teacher's peer/stream collector, re-keyed from stream/peer concepts to
// meeting/participant/producer ones.
type PrometheusCollector struct {
	participantsConnectedTotal prometheus.Gauge
	meetingsActiveTotal        prometheus.Gauge
	dataExchangedBytes         prometheus.Counter
	transportsTotal            prometheus.Counter

	transportConnectDuration prometheus.Histogram
	signalingDispatchLatency prometheus.Histogram
	networkLatency           prometheus.Histogram

	signalingEventsTotal *prometheus.CounterVec
	meetingParticipants  *prometheus.GaugeVec
	meetingHealthScore   *prometheus.GaugeVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		participantsConnectedTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "confsfu_participants_connected_total",
			Help: "Total number of connected participants across all meetings",
		}),

		meetingsActiveTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "confsfu_meetings_active_total",
			Help: "Total number of active meetings",
		}),

		dataExchangedBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "confsfu_data_exchanged_bytes_total",
			Help: "Total amount of RTP/RTCP data exchanged in bytes",
		}),

		transportsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "confsfu_transports_total",
			Help: "Total number of WebRTC transports established",
		}),

		transportConnectDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "confsfu_transport_connect_duration_seconds",
			Help:    "Duration from transport creation to DTLS connect",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		signalingDispatchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "confsfu_signaling_dispatch_duration_seconds",
			Help:    "Duration of one event's pass through the dispatch pipeline",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		networkLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "confsfu_network_latency_seconds",
			Help:    "Round-trip network latency observed between participants",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		signalingEventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "confsfu_signaling_events_total",
			Help: "Count of signaling events dispatched, by event name and outcome",
		}, []string{"event", "outcome"}),

		meetingParticipants: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "confsfu_meeting_participants",
			Help: "Number of participants currently in a meeting, by role",
		}, []string{"meeting_id", "role"}),

		meetingHealthScore: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "confsfu_meeting_health_score",
			Help: "Health score of a meeting's media plane (0-100)",
		}, []string{"meeting_id"}),
	}
}

func (p *PrometheusCollector) RecordParticipantJoined(meetingID domain.MeetingID, role domain.ParticipantRole) {
	p.participantsConnectedTotal.Inc()
	p.meetingParticipants.WithLabelValues(string(meetingID), string(role)).Inc()
}

func (p *PrometheusCollector) RecordParticipantLeft(meetingID domain.MeetingID, role domain.ParticipantRole) {
	p.participantsConnectedTotal.Dec()
	p.meetingParticipants.WithLabelValues(string(meetingID), string(role)).Dec()
}

func (p *PrometheusCollector) RecordMeetingStarted() {
	p.meetingsActiveTotal.Inc()
}

func (p *PrometheusCollector) RecordMeetingEnded(meetingID domain.MeetingID) {
	p.meetingsActiveTotal.Dec()

	for _, role := range []domain.ParticipantRole{domain.RoleHost, domain.RoleCoHost, domain.RoleParticipant} {
		p.meetingParticipants.DeleteLabelValues(string(meetingID), string(role))
	}
	p.meetingHealthScore.DeleteLabelValues(string(meetingID))
}

func (p *PrometheusCollector) RecordDataTransferred(bytes int64) {
	p.dataExchangedBytes.Add(float64(bytes))
}

func (p *PrometheusCollector) RecordTransportConnect(duration time.Duration) {
	p.transportConnectDuration.Observe(duration.Seconds())
	p.transportsTotal.Inc()
}

func (p *PrometheusCollector) RecordSignalingDispatch(event string, outcome string, duration time.Duration) {
	p.signalingDispatchLatency.Observe(duration.Seconds())
	p.signalingEventsTotal.WithLabelValues(event, outcome).Inc()
}

func (p *PrometheusCollector) RecordNetworkLatency(latency time.Duration) {
	p.networkLatency.Observe(latency.Seconds())
}

func (p *PrometheusCollector) UpdateMeetingHealthScore(meetingID domain.MeetingID, score float64) {
	p.meetingHealthScore.WithLabelValues(string(meetingID)).Set(score)
}
