package signal

import (
	"context"
	"errors"
	"fmt"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

// call runs one RPC on the current socket. Server-side refusals come
// back as *protocol.Error so callers can branch on the code.
func (c *Client) call(ctx context.Context, method string, params, result any) error {
	c.mu.RLock()
	rpc := c.rpc
	c.mu.RUnlock()
	if rpc == nil {
		return fmt.Errorf("%s: %w", method, ErrNotConnected)
	}
	if err := rpc.Call(ctx, method, params, result); err != nil {
		var rpcErr *jsonrpc2.Error
		if errors.As(err, &rpcErr) {
			return fmt.Errorf("%s: %w", method, &protocol.Error{Code: rpcErr.Code, Message: rpcErr.Message})
		}
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func (c *Client) ServeMode(ctx context.Context) (domain.ServeMode, error) {
	var reply protocol.ServeModeReply
	if err := c.call(ctx, protocol.MethodGetServeMode, struct{}{}, &reply); err != nil {
		return "", err
	}
	return domain.ParseServeMode(reply.ServeMode)
}

func (c *Client) RouterCapabilities(ctx context.Context) (protocol.RTPCapabilities, error) {
	var reply protocol.RouterCapabilitiesReply
	if err := c.call(ctx, protocol.MethodGetRouterCapabilities, struct{}{}, &reply); err != nil {
		return protocol.RTPCapabilities{}, err
	}
	return reply.RTPCapabilities, nil
}

func (c *Client) Announce(ctx context.Context, displayName string) (domain.PeerID, error) {
	var reply protocol.JoinReply
	req := protocol.JoinRequest{DisplayName: displayName, Device: "meet-go"}
	if err := c.call(ctx, protocol.MethodJoin, req, &reply); err != nil {
		return "", err
	}
	return reply.PeerID, nil
}

func (c *Client) JoinRoom(ctx context.Context, roomID domain.RoomID, role domain.Role) (protocol.JoinRoomReply, error) {
	var reply protocol.JoinRoomReply
	req := protocol.JoinRoomRequest{RoomID: roomID, Role: role}
	if err := c.call(ctx, protocol.MethodJoinRoom, req, &reply); err != nil {
		return protocol.JoinRoomReply{}, err
	}
	return reply, nil
}

func (c *Client) LeaveRoom(ctx context.Context) error {
	return c.call(ctx, protocol.MethodLeaveRoom, struct{}{}, nil)
}

func (c *Client) Ready(ctx context.Context) error {
	return c.call(ctx, protocol.MethodReady, struct{}{}, nil)
}

func (c *Client) CreateTransport(ctx context.Context, dir domain.TransportDirection) (protocol.TransportInfo, error) {
	method := protocol.MethodCreateSendTransport
	if dir == domain.DirectionRecv {
		method = protocol.MethodCreateRecvTransport
	}
	var reply protocol.TransportInfo
	if err := c.call(ctx, method, struct{}{}, &reply); err != nil {
		return protocol.TransportInfo{}, err
	}
	return reply, nil
}

func (c *Client) ConnectTransport(ctx context.Context, id domain.TransportID, dtls protocol.DTLSParameters) error {
	req := protocol.ConnectTransportRequest{TransportID: id, DTLSParameters: dtls}
	return c.call(ctx, protocol.MethodConnectTransport, req, nil)
}

func (c *Client) Produce(ctx context.Context, req protocol.ProduceRequest) (domain.ProducerID, error) {
	var reply protocol.ProduceReply
	if err := c.call(ctx, protocol.MethodProduce, req, &reply); err != nil {
		return "", err
	}
	return reply.ProducerID, nil
}

func (c *Client) CloseProducer(ctx context.Context, id domain.ProducerID) error {
	return c.call(ctx, protocol.MethodCloseProducer, protocol.CloseProducerRequest{ProducerID: id}, nil)
}

func (c *Client) ResumeConsumer(ctx context.Context, id domain.ConsumerID) error {
	return c.call(ctx, protocol.MethodResumeConsumer, protocol.ResumeConsumerRequest{ConsumerID: id}, nil)
}

func (c *Client) KickPeer(ctx context.Context, id domain.PeerID) error {
	return c.call(ctx, protocol.MethodKickPeer, protocol.KickPeerRequest{PeerID: id}, nil)
}

func (c *Client) MutePeer(ctx context.Context, id domain.PeerID, muted bool) error {
	return c.call(ctx, protocol.MethodMutePeer, protocol.MutePeerRequest{PeerID: id, Muted: muted}, nil)
}
