package domain

import "fmt"

type (
	TransportID string
	ProducerID  string
	ConsumerID  string
)

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// MediaSource is a capture source as the wire protocol names it.
// Each source maps to exactly one producer slot.
type MediaSource string

const (
	SourceMic    MediaSource = "mic"
	SourceCamera MediaSource = "camera"
)

func (s MediaSource) Kind() MediaKind {
	if s == SourceCamera {
		return MediaVideo
	}
	return MediaAudio
}

func ParseMediaSource(s string) (MediaSource, error) {
	switch src := MediaSource(s); src {
	case SourceMic, SourceCamera:
		return src, nil
	}
	return "", fmt.Errorf("unknown media source %q", s)
}

type TransportDirection string

const (
	DirectionSend TransportDirection = "send"
	DirectionRecv TransportDirection = "recv"
)

// TransportState follows the DTLS setup progression of one transport.
type TransportState string

const (
	TransportNotCreated  TransportState = "not-created"
	TransportCreated     TransportState = "created"
	TransportNegotiating TransportState = "negotiating"
	TransportConnected   TransportState = "connected"
	TransportFailed      TransportState = "failed"
)
