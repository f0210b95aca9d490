// Package protocol defines the wire types of the signaling channel:
// request/reply payloads for client calls, server push notifications,
// and structured call errors. Everything is decoded exactly once at
// the signaling adapter, the rest of the client works with these types.
package protocol

import (
	"github.com/dkeye/Meet/internal/domain"
)

// Client call methods.
const (
	MethodGetServeMode          = "getServeMode"
	MethodGetRouterCapabilities = "getRouterRtpCapabilities"
	MethodJoin                  = "join"
	MethodJoinRoom              = "joinRoom"
	MethodLeaveRoom             = "leaveRoom"
	MethodReady                 = "ready"
	MethodCreateSendTransport   = "createSendWebRtcTransport"
	MethodCreateRecvTransport   = "createRecvWebRtcTransport"
	MethodConnectTransport      = "connectWebRtcTransport"
	MethodProduce               = "produce"
	MethodCloseProducer         = "closeProducer"
	MethodResumeConsumer        = "resumeConsumer"
	MethodKickPeer              = "kickPeer"
	MethodMutePeer              = "remoteMutePeer"
)

type PeerInfo struct {
	ID          domain.PeerID `json:"id"`
	DisplayName string        `json:"displayName"`
	Host        bool          `json:"host,omitempty"`
	Muted       bool          `json:"muted,omitempty"`
}

func (p PeerInfo) Peer() domain.Peer {
	return domain.Peer{ID: p.ID, DisplayName: p.DisplayName, Host: p.Host, Muted: p.Muted}
}

type ServeModeReply struct {
	ServeMode string `json:"serveMode"`
}

type RouterCapabilitiesReply struct {
	RTPCapabilities RTPCapabilities `json:"rtpCapabilities"`
}

type JoinRequest struct {
	DisplayName string `json:"displayName"`
	Device      string `json:"device,omitempty"`
}

type JoinReply struct {
	PeerID domain.PeerID `json:"peerId,omitempty"`
}

type JoinRoomRequest struct {
	RoomID domain.RoomID `json:"roomId"`
	Role   domain.Role   `json:"role"`
}

type JoinRoomReply struct {
	Peers      []PeerInfo    `json:"peers"`
	SelfPeerID domain.PeerID `json:"selfPeerId,omitempty"`
	HostPeerID domain.PeerID `json:"hostPeerId,omitempty"`
}

type ConnectTransportRequest struct {
	TransportID    domain.TransportID `json:"transportId"`
	DTLSParameters DTLSParameters     `json:"dtlsParameters"`
}

type ProduceRequest struct {
	SSRC   uint32             `json:"ssrc"`
	Codec  RTPCodecParameters `json:"codec"`
	Source domain.MediaSource `json:"source"`
}

type ProduceReply struct {
	ProducerID domain.ProducerID `json:"producerId"`
}

type CloseProducerRequest struct {
	ProducerID domain.ProducerID `json:"producerId"`
}

type ResumeConsumerRequest struct {
	ConsumerID domain.ConsumerID `json:"consumerId"`
}

type KickPeerRequest struct {
	PeerID domain.PeerID `json:"peerId"`
}

type MutePeerRequest struct {
	PeerID domain.PeerID `json:"peerId"`
	Muted  bool          `json:"muted"`
}
