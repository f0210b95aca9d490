package core

import (
	"context"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

// LocalTrack describes a capture the engine has started, with everything
// the server needs to accept it as a producer.
type LocalTrack struct {
	SSRC  uint32
	Codec protocol.RTPCodecParameters
}

// MediaEngine drives the WebRTC side: transports, capture, playback.
// One send and one recv transport at most; Load must happen before
// either is created.
type MediaEngine interface {
	// Load primes codec support from the router capabilities.
	Load(caps protocol.RTPCapabilities) error

	CreateSendTransport(info protocol.TransportInfo) error
	CreateRecvTransport(info protocol.TransportInfo) error
	// OnSendTransportConnect fires when the send side has local DTLS
	// parameters ready; the callback must hand them to the server.
	OnSendTransportConnect(func(protocol.DTLSParameters))
	// OnRecvTransportConnect is the receive-side twin. Nothing may be
	// consumed before this round trip completes.
	OnRecvTransportConnect(func(protocol.DTLSParameters))
	// OnRecvTransportConnected fires once per transport when the receive
	// DTLS handshake completes.
	OnRecvTransportConnected(func())
	OnTransportStateChanged(func(domain.TransportDirection, domain.TransportState))
	// CloseTransports tears down both transports. Safe when none exist.
	CloseTransports()

	StartCamera(ctx context.Context, deviceID string) (LocalTrack, error)
	StopCamera() error
	StartMicrophone(ctx context.Context, deviceID string) (LocalTrack, error)
	StopMicrophone() error

	AddConsumer(ctx context.Context, info protocol.ConsumerInfo) error
	RemoveConsumer(ctx context.Context, id domain.ConsumerID) error

	// Close stops capture, transports, everything.
	Close()
}
