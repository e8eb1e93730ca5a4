package domain

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// AppType distinguishes the three kinds of tracks a client may produce.
// Only one open "screen" producer is allowed per room scope (§4.4/§8-P4).
type AppType string

const (
	AppAudio  AppType = "audio"
	AppVideo  AppType = "video"
	AppScreen AppType = "screen"
)

type TransportDirection string

const (
	DirectionSend TransportDirection = "send"
	DirectionRecv TransportDirection = "recv"
)
