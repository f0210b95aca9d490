package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/Meet/internal/domain"
)

func TestDecodeNotificationVariants(t *testing.T) {
	n, err := DecodeNotification(NotifyPeerJoinRoom, json.RawMessage(`{"peer":{"id":"p2","displayName":"Bo","host":true}}`))
	require.NoError(t, err)
	joined, ok := n.(PeerJoined)
	require.True(t, ok, "expected PeerJoined, got %T", n)
	require.Equal(t, domain.PeerID("p2"), joined.Peer.ID)
	require.Equal(t, "Bo", joined.Peer.DisplayName)
	require.True(t, joined.Peer.Host)

	n, err = DecodeNotification(NotifyNewConsumer, json.RawMessage(
		`{"id":"c1","peerId":"p2","kind":"audio","rtpParameters":{"codecs":[{"mimeType":"audio/opus","payloadType":111,"clockRate":48000,"channels":2}],"encodings":[{"ssrc":123456}]}}`))
	require.NoError(t, err)
	consumer, ok := n.(NewConsumer)
	require.True(t, ok, "expected NewConsumer, got %T", n)
	require.Equal(t, domain.ConsumerID("c1"), consumer.ID)
	require.Equal(t, domain.MediaAudio, consumer.Kind)
	require.Len(t, consumer.RTPParameters.Encodings, 1)
	require.Equal(t, uint32(123456), consumer.RTPParameters.Encodings[0].SSRC)

	n, err = DecodeNotification(NotifyPeerMuted, json.RawMessage(`{"peerId":"p3","muted":true}`))
	require.NoError(t, err)
	muted := n.(PeerMuted)
	require.Equal(t, domain.PeerID("p3"), muted.PeerID)
	require.True(t, muted.Muted)

	n, err = DecodeNotification(NotifyProduceSources, json.RawMessage(`{"sources":["mic","camera"]}`))
	require.NoError(t, err)
	sources := n.(ProduceSources)
	require.Equal(t, []domain.MediaSource{domain.SourceMic, domain.SourceCamera}, sources.Sources)
}

func TestDecodeNotificationEmptyParams(t *testing.T) {
	// roomDismissed carries no payload, nil params must still decode.
	n, err := DecodeNotification(NotifyRoomDismissed, nil)
	require.NoError(t, err)
	require.IsType(t, RoomDismissed{}, n)
}

func TestDecodeNotificationUnknownMethod(t *testing.T) {
	_, err := DecodeNotification("screenShareStarted", json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrUnknownNotification)
}

func TestErrorCodeMatching(t *testing.T) {
	var err error = &Error{Code: CodeAlreadyJoined, Message: "peer already in room"}
	require.True(t, IsCode(err, CodeAlreadyJoined))
	require.False(t, IsCode(err, CodePermissionDenied))
	require.False(t, IsCode(nil, CodeAlreadyJoined))
}
