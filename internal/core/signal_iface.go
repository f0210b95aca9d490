// Package core holds the interfaces the session layer consumes.
// Adapters implement them; nothing here depends on an adapter.
package core

import (
	"context"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

// ConnEvent reports signaling channel lifecycle transitions.
type ConnEvent string

const (
	ConnConnected    ConnEvent = "connected"
	ConnReconnecting ConnEvent = "reconnecting"
	ConnReconnected  ConnEvent = "reconnected"
	ConnClosed       ConnEvent = "closed"
)

// Signaling is the client side of the meeting control channel.
// Calls block until the server replies or ctx is done. The adapter
// owns the connection and redials transient drops by itself, reporting
// progress through OnConnEvent.
type Signaling interface {
	Connect(ctx context.Context, serverURL, token string) error
	Close() error

	ServeMode(ctx context.Context) (domain.ServeMode, error)
	RouterCapabilities(ctx context.Context) (protocol.RTPCapabilities, error)
	// Announce introduces this client to the server before any room is joined.
	Announce(ctx context.Context, displayName string) (domain.PeerID, error)
	JoinRoom(ctx context.Context, roomID domain.RoomID, role domain.Role) (protocol.JoinRoomReply, error)
	LeaveRoom(ctx context.Context) error
	// Ready tells the server this client can start receiving consumers.
	Ready(ctx context.Context) error
	CreateTransport(ctx context.Context, dir domain.TransportDirection) (protocol.TransportInfo, error)
	ConnectTransport(ctx context.Context, id domain.TransportID, dtls protocol.DTLSParameters) error
	Produce(ctx context.Context, req protocol.ProduceRequest) (domain.ProducerID, error)
	CloseProducer(ctx context.Context, id domain.ProducerID) error
	ResumeConsumer(ctx context.Context, id domain.ConsumerID) error
	KickPeer(ctx context.Context, id domain.PeerID) error
	MutePeer(ctx context.Context, id domain.PeerID, muted bool) error

	// OnNotification sets the sink for decoded server pushes. The callback
	// may run on the adapter's read goroutine and must not block.
	OnNotification(func(protocol.Notification))
	OnConnEvent(func(ConnEvent))
}
