package protocol

import "github.com/dkeye/Meet/internal/domain"

// TransportInfo is the server's answer to a create-transport call.
// ICE and DTLS parameters describe the router side of the transport.
type TransportInfo struct {
	ID             domain.TransportID `json:"id"`
	ICEParameters  ICEParameters      `json:"iceParameters"`
	ICECandidates  []ICECandidate     `json:"iceCandidates"`
	DTLSParameters DTLSParameters     `json:"dtlsParameters"`
}

type ICEParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	ICELite          bool   `json:"iceLite,omitempty"`
}

type ICECandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
}

type DTLSParameters struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []DTLSFingerprint `json:"fingerprints"`
}

type DTLSFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// RTPCapabilities is the router's codec support, loaded into the media
// engine before any transport exists.
type RTPCapabilities struct {
	Codecs []RTPCodecCapability `json:"codecs"`
}

type RTPCodecCapability struct {
	Kind      domain.MediaKind `json:"kind"`
	MimeType  string           `json:"mimeType"`
	ClockRate uint32           `json:"clockRate"`
	Channels  uint16           `json:"channels,omitempty"`
	Preferred uint8            `json:"preferredPayloadType,omitempty"`
}

type RTPCodecParameters struct {
	MimeType    string `json:"mimeType"`
	PayloadType uint8  `json:"payloadType"`
	ClockRate   uint32 `json:"clockRate"`
	Channels    uint16 `json:"channels,omitempty"`
}

type RTPEncoding struct {
	SSRC uint32 `json:"ssrc"`
}

type RTPParameters struct {
	Codecs    []RTPCodecParameters `json:"codecs"`
	Encodings []RTPEncoding        `json:"encodings"`
}

// ConsumerInfo describes a remote producer's stream offered to this
// client through a newConsumer push.
type ConsumerInfo struct {
	ID            domain.ConsumerID `json:"id"`
	ProducerPeer  domain.PeerID     `json:"peerId"`
	Kind          domain.MediaKind  `json:"kind"`
	RTPParameters RTPParameters     `json:"rtpParameters"`
}
