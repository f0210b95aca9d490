package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Meet/internal/domain"
)

// Server push notification methods.
const (
	NotifyPeerJoinRoom   = "peerJoinRoom"
	NotifyPeerLeaveRoom  = "peerLeaveRoom"
	NotifyPeerKicked     = "peerKicked"
	NotifyPeerMuted      = "peerMuted"
	NotifyRoomDismissed  = "roomDismissed"
	NotifyNewConsumer    = "newConsumer"
	NotifyConsumerClosed = "consumerClosed"
	NotifyProducerClosed = "producerClosed"
	NotifyProduceSources = "produceSources"
)

var ErrUnknownNotification = errors.New("unknown notification")

// Notification is one decoded server push. The set of variants is
// closed, consumers switch on the concrete type.
type Notification interface {
	notification()
}

type PeerJoined struct {
	Peer PeerInfo `json:"peer"`
}

type PeerLeft struct {
	PeerID domain.PeerID `json:"peerId"`
}

type PeerKicked struct {
	PeerID domain.PeerID `json:"peerId"`
}

type PeerMuted struct {
	PeerID domain.PeerID `json:"peerId"`
	Muted  bool          `json:"muted"`
}

type RoomDismissed struct{}

type NewConsumer struct {
	ConsumerInfo
}

type ConsumerClosed struct {
	ConsumerID domain.ConsumerID `json:"consumerId"`
}

type ProducerClosed struct {
	ProducerID domain.ProducerID `json:"producerId"`
}

type ProduceSources struct {
	Sources []domain.MediaSource `json:"sources"`
}

func (PeerJoined) notification()     {}
func (PeerLeft) notification()       {}
func (PeerKicked) notification()     {}
func (PeerMuted) notification()      {}
func (RoomDismissed) notification()  {}
func (NewConsumer) notification()    {}
func (ConsumerClosed) notification() {}
func (ProducerClosed) notification() {}
func (ProduceSources) notification() {}

// DecodeNotification maps a push method name and raw params to the
// matching variant. Unknown methods come back as ErrUnknownNotification
// so the caller can log and drop them.
func DecodeNotification(method string, params json.RawMessage) (Notification, error) {
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	switch method {
	case NotifyPeerJoinRoom:
		return decodeAs[PeerJoined](method, params)
	case NotifyPeerLeaveRoom:
		return decodeAs[PeerLeft](method, params)
	case NotifyPeerKicked:
		return decodeAs[PeerKicked](method, params)
	case NotifyPeerMuted:
		return decodeAs[PeerMuted](method, params)
	case NotifyRoomDismissed:
		return RoomDismissed{}, nil
	case NotifyNewConsumer:
		return decodeAs[NewConsumer](method, params)
	case NotifyConsumerClosed:
		return decodeAs[ConsumerClosed](method, params)
	case NotifyProducerClosed:
		return decodeAs[ProducerClosed](method, params)
	case NotifyProduceSources:
		return decodeAs[ProduceSources](method, params)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownNotification, method)
}

func decodeAs[T Notification](method string, params json.RawMessage) (Notification, error) {
	var n T
	if err := json.Unmarshal(params, &n); err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	return n, nil
}
