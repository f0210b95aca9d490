package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

const transportConnectTimeout = 10 * time.Second

// transportManager owns the send/recv transport pair for one room
// stay. The engine raises a connect callback per transport once local
// DTLS parameters exist; the manager answers with the connect call to
// the server. Media cannot flow earlier, so ordering here is the whole
// point.
type transportManager struct {
	signal core.Signaling
	engine core.MediaEngine

	mu              sync.Mutex
	ctx             context.Context
	send            transportSlot
	recv            transportSlot
	recvFired       bool
	onRecvConnected func(ctx context.Context)
}

type transportSlot struct {
	id    domain.TransportID
	state domain.TransportState
}

func newTransportManager(signal core.Signaling, engine core.MediaEngine) *transportManager {
	m := &transportManager{
		signal: signal,
		engine: engine,
		send:   transportSlot{state: domain.TransportNotCreated},
		recv:   transportSlot{state: domain.TransportNotCreated},
	}
	engine.OnSendTransportConnect(func(dtls protocol.DTLSParameters) {
		m.connectRemote(domain.DirectionSend, dtls)
	})
	engine.OnRecvTransportConnect(func(dtls protocol.DTLSParameters) {
		m.connectRemote(domain.DirectionRecv, dtls)
	})
	engine.OnRecvTransportConnected(m.handleRecvConnected)
	engine.OnTransportStateChanged(m.handleStateChanged)
	return m
}

// create builds both directions. One direction failing leaves the
// other usable; the session continues send-only or recv-only.
func (m *transportManager) create(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	m.createOne(ctx, domain.DirectionSend)
	m.createOne(ctx, domain.DirectionRecv)
}

func (m *transportManager) createOne(ctx context.Context, dir domain.TransportDirection) {
	info, err := m.signal.CreateTransport(ctx, dir)
	if err != nil {
		log.Error().Err(err).Str("module", "session.transports").Str("direction", string(dir)).Msg("create transport call failed, direction degraded")
		m.setSlot(dir, "", domain.TransportFailed)
		return
	}

	if dir == domain.DirectionSend {
		err = m.engine.CreateSendTransport(info)
	} else {
		err = m.engine.CreateRecvTransport(info)
	}
	if err != nil {
		log.Error().Err(err).Str("module", "session.transports").Str("direction", string(dir)).Msg("engine rejected transport, direction degraded")
		m.setSlot(dir, info.ID, domain.TransportFailed)
		return
	}

	m.setSlot(dir, info.ID, domain.TransportCreated)
	log.Info().Str("module", "session.transports").Str("direction", string(dir)).Str("transport", string(info.ID)).Msg("transport created")
}

// connectRemote completes the DTLS exchange for one direction. Runs on
// an engine goroutine.
func (m *transportManager) connectRemote(dir domain.TransportDirection, dtls protocol.DTLSParameters) {
	m.mu.Lock()
	slot := m.slotLocked(dir)
	id := slot.id
	ctx := m.ctx
	if id != "" && slot.state == domain.TransportCreated {
		slot.state = domain.TransportNegotiating
	}
	m.mu.Unlock()

	if id == "" || ctx == nil {
		log.Warn().Str("module", "session.transports").Str("direction", string(dir)).Msg("connect event without transport, dropped")
		return
	}

	cctx, cancel := context.WithTimeout(ctx, transportConnectTimeout)
	defer cancel()
	if err := m.signal.ConnectTransport(cctx, id, dtls); err != nil {
		log.Error().Err(err).Str("module", "session.transports").Str("direction", string(dir)).Str("transport", string(id)).Msg("connect transport call failed")
		m.setSlot(dir, id, domain.TransportFailed)
		return
	}
	log.Info().Str("module", "session.transports").Str("direction", string(dir)).Str("transport", string(id)).Msg("transport negotiation sent")
}

// handleRecvConnected fires the downstream hook exactly once per
// transport lifetime, even if the engine repeats the event.
func (m *transportManager) handleRecvConnected() {
	m.mu.Lock()
	if m.recvFired {
		m.mu.Unlock()
		return
	}
	m.recvFired = true
	m.recv.state = domain.TransportConnected
	cb := m.onRecvConnected
	ctx := m.ctx
	m.mu.Unlock()

	log.Info().Str("module", "session.transports").Msg("recv transport dtls connected")
	if cb != nil {
		if ctx == nil {
			ctx = context.Background()
		}
		cb(ctx)
	}
}

func (m *transportManager) handleStateChanged(dir domain.TransportDirection, state domain.TransportState) {
	m.mu.Lock()
	m.slotLocked(dir).state = state
	m.mu.Unlock()
	log.Info().Str("module", "session.transports").Str("direction", string(dir)).Str("state", string(state)).Msg("transport state")
}

// close tears both transports down and rearms the once-only recv hook
// for the next room stay.
func (m *transportManager) close() {
	m.engine.CloseTransports()
	m.mu.Lock()
	m.send = transportSlot{state: domain.TransportNotCreated}
	m.recv = transportSlot{state: domain.TransportNotCreated}
	m.recvFired = false
	m.ctx = nil
	m.mu.Unlock()
}

func (m *transportManager) slotLocked(dir domain.TransportDirection) *transportSlot {
	if dir == domain.DirectionSend {
		return &m.send
	}
	return &m.recv
}

func (m *transportManager) setSlot(dir domain.TransportDirection, id domain.TransportID, state domain.TransportState) {
	m.mu.Lock()
	slot := m.slotLocked(dir)
	slot.id = id
	slot.state = state
	m.mu.Unlock()
}

func (m *transportManager) states() (send, recv domain.TransportState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.send.state, m.recv.state
}
