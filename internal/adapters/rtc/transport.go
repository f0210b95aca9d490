package rtc

import (
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

const gatherTimeout = 10 * time.Second

// ortcTransport is one direction of the media plane: an ICE gatherer,
// an ICE transport and a DTLS transport wired back to back. The router
// side of the pair comes from the create-transport reply and stays
// fixed for the transport's lifetime.
type ortcTransport struct {
	direction domain.TransportDirection
	id        domain.TransportID

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	remote protocol.TransportInfo
}

func (e *Engine) newTransport(direction domain.TransportDirection, info protocol.TransportInfo) (*ortcTransport, error) {
	gatherer, err := e.api.NewICEGatherer(webrtc.ICEGatherOptions{ICEServers: e.iceServers()})
	if err != nil {
		return nil, fmt.Errorf("ice gatherer: %w", err)
	}
	ice := e.api.NewICETransport(gatherer)
	dtls, err := e.api.NewDTLSTransport(ice, nil)
	if err != nil {
		closeLogged("gatherer", gatherer.Close)
		return nil, fmt.Errorf("dtls transport: %w", err)
	}

	t := &ortcTransport{
		direction: direction,
		id:        info.ID,
		gatherer:  gatherer,
		ice:       ice,
		dtls:      dtls,
		remote:    info,
	}

	gathered := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(gathered)
		}
	})
	if err := gatherer.Gather(); err != nil {
		t.close()
		return nil, fmt.Errorf("gather: %w", err)
	}
	select {
	case <-gathered:
	case <-time.After(gatherTimeout):
		t.close()
		return nil, errors.New("candidate gathering timed out")
	}

	log.Info().
		Str("module", "webrtc").
		Str("direction", string(direction)).
		Str("transport_id", string(info.ID)).
		Msg("transport created")
	return t, nil
}

// localDTLS reports our DTLS fingerprints for the connect exchange.
func (t *ortcTransport) localDTLS() (protocol.DTLSParameters, error) {
	params, err := t.dtls.GetLocalParameters()
	if err != nil {
		return protocol.DTLSParameters{}, fmt.Errorf("local dtls parameters: %w", err)
	}
	return localDTLSParameters(params), nil
}

// connect runs the client side of the handshake against the router's
// parameters. The router is the ICE-lite end, so this end controls.
func (t *ortcTransport) connect() error {
	candidates, err := iceCandidates(t.remote.ICECandidates)
	if err != nil {
		return err
	}
	if err := t.ice.SetRemoteCandidates(candidates); err != nil {
		return fmt.Errorf("set remote candidates: %w", err)
	}
	role := webrtc.ICERoleControlling
	if err := t.ice.Start(nil, iceParameters(t.remote.ICEParameters), &role); err != nil {
		return fmt.Errorf("ice start: %w", err)
	}
	if err := t.dtls.Start(dtlsParameters(t.remote.DTLSParameters)); err != nil {
		return fmt.Errorf("dtls start: %w", err)
	}
	return nil
}

func (t *ortcTransport) close() {
	closeLogged("dtls", t.dtls.Stop)
	closeLogged("ice", t.ice.Stop)
	closeLogged("gatherer", t.gatherer.Close)
	log.Info().
		Str("module", "webrtc").
		Str("direction", string(t.direction)).
		Str("transport_id", string(t.id)).
		Msg("transport closed")
}

func closeLogged(what string, fn func() error) {
	if err := fn(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Msgf("%s close error", what)
	}
}
