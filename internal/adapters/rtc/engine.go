// Package rtc implements the media engine on pion's ORTC API. The
// signaling protocol exchanges raw ICE and DTLS parameters instead of
// SDP, so transports are assembled gatherer-by-gatherer rather than
// through a PeerConnection.
package rtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

var errNotLoaded = errors.New("router capabilities not loaded")

type Options struct {
	ICEServers     []string
	VideoWidth     int
	VideoHeight    int
	VideoFrameRate float32
	VideoBitRate   int
	AudioBitRate   int
}

func (o *Options) withDefaults() {
	if len(o.ICEServers) == 0 {
		o.ICEServers = []string{"stun:stun.l.google.com:19302"}
	}
	if o.VideoWidth == 0 {
		o.VideoWidth = 640
	}
	if o.VideoHeight == 0 {
		o.VideoHeight = 480
	}
	if o.VideoFrameRate == 0 {
		o.VideoFrameRate = 30
	}
	if o.VideoBitRate == 0 {
		o.VideoBitRate = 100_000
	}
	if o.AudioBitRate == 0 {
		o.AudioBitRate = 32_000
	}
}

// Engine holds at most one transport per direction plus the captures
// and consumers riding on them.
type Engine struct {
	opts Options

	mu        sync.Mutex
	api       *webrtc.API
	selector  *mediadevices.CodecSelector
	send      *ortcTransport
	recv      *ortcTransport
	captures  map[domain.MediaSource]*capture
	consumers map[domain.ConsumerID]*consumer
	closed    bool

	cbMu            sync.RWMutex
	onSendConnect   func(protocol.DTLSParameters)
	onRecvConnect   func(protocol.DTLSParameters)
	onRecvConnected func()
	onState         func(domain.TransportDirection, domain.TransportState)
}

func NewEngine(opts Options) *Engine {
	opts.withDefaults()
	return &Engine{
		opts:      opts,
		captures:  make(map[domain.MediaSource]*capture),
		consumers: make(map[domain.ConsumerID]*consumer),
	}
}

// Load registers the router's codecs plus our encoders. Repeat loads
// on rejoin are no-ops; the first capability set wins.
func (e *Engine) Load(caps protocol.RTPCapabilities) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.api != nil {
		return nil
	}
	if len(caps.Codecs) == 0 {
		return errors.New("router offered no codecs")
	}

	me := &webrtc.MediaEngine{}
	for _, c := range caps.Codecs {
		params, kind := routerCodec(c)
		if err := me.RegisterCodec(params, kind); err != nil {
			return fmt.Errorf("register %s: %w", c.MimeType, err)
		}
	}

	selector, err := newCodecSelector(e.opts)
	if err != nil {
		return err
	}
	selector.Populate(me)

	e.api = webrtc.NewAPI(webrtc.WithMediaEngine(me))
	e.selector = selector
	log.Info().Str("module", "webrtc").Int("codecs", len(caps.Codecs)).Msg("router capabilities loaded")
	return nil
}

func (e *Engine) CreateSendTransport(info protocol.TransportInfo) error {
	return e.createTransport(domain.DirectionSend, info)
}

func (e *Engine) CreateRecvTransport(info protocol.TransportInfo) error {
	return e.createTransport(domain.DirectionRecv, info)
}

func (e *Engine) createTransport(direction domain.TransportDirection, info protocol.TransportInfo) error {
	e.mu.Lock()
	if e.api == nil {
		e.mu.Unlock()
		return errNotLoaded
	}
	if e.slot(direction) != nil {
		e.mu.Unlock()
		return fmt.Errorf("%s transport already exists", direction)
	}
	e.mu.Unlock()

	t, err := e.newTransport(direction, info)
	if err != nil {
		return err
	}
	t.dtls.OnStateChange(func(s webrtc.DTLSTransportState) { e.handleDTLSState(t, s) })

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		t.close()
		return errors.New("engine closed")
	}
	if e.slot(direction) != nil {
		e.mu.Unlock()
		t.close()
		return fmt.Errorf("%s transport already exists", direction)
	}
	if direction == domain.DirectionSend {
		e.send = t
	} else {
		e.recv = t
	}
	e.mu.Unlock()

	go e.runConnect(t)
	return nil
}

// runConnect hands our DTLS parameters to the server, then starts ICE
// and DTLS against the router. The connect callback blocks on a server
// round trip, which is why this never runs under the engine lock.
func (e *Engine) runConnect(t *ortcTransport) {
	local, err := t.localDTLS()
	if err != nil {
		e.failTransport(t, err)
		return
	}

	e.cbMu.RLock()
	cb := e.onSendConnect
	if t.direction == domain.DirectionRecv {
		cb = e.onRecvConnect
	}
	e.cbMu.RUnlock()
	if cb != nil {
		cb(local)
	}

	if err := t.connect(); err != nil {
		e.failTransport(t, err)
	}
}

func (e *Engine) failTransport(t *ortcTransport, err error) {
	log.Error().Err(err).
		Str("module", "webrtc").
		Str("direction", string(t.direction)).
		Str("transport_id", string(t.id)).
		Msg("transport setup failed")

	e.cbMu.RLock()
	onState := e.onState
	e.cbMu.RUnlock()
	if onState != nil {
		onState(t.direction, domain.TransportFailed)
	}
}

func (e *Engine) handleDTLSState(t *ortcTransport, s webrtc.DTLSTransportState) {
	log.Info().
		Str("module", "webrtc").
		Str("direction", string(t.direction)).
		Str("dtls_state", s.String()).
		Msg("DTLS state")

	// A transport torn down on purpose still emits Closed; the session
	// has already rearmed its state by then.
	e.mu.Lock()
	stale := e.closed || e.slot(t.direction) != t
	e.mu.Unlock()
	if stale {
		return
	}

	e.cbMu.RLock()
	onState := e.onState
	onConnected := e.onRecvConnected
	e.cbMu.RUnlock()

	if onState != nil {
		onState(t.direction, dtlsState(s))
	}
	if t.direction == domain.DirectionRecv && s == webrtc.DTLSTransportStateConnected && onConnected != nil {
		onConnected()
	}
}

// slot must be called with e.mu held.
func (e *Engine) slot(direction domain.TransportDirection) *ortcTransport {
	if direction == domain.DirectionSend {
		return e.send
	}
	return e.recv
}

func (e *Engine) iceServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{{URLs: e.opts.ICEServers}}
}

func (e *Engine) OnSendTransportConnect(fn func(protocol.DTLSParameters)) {
	e.cbMu.Lock()
	e.onSendConnect = fn
	e.cbMu.Unlock()
}

func (e *Engine) OnRecvTransportConnect(fn func(protocol.DTLSParameters)) {
	e.cbMu.Lock()
	e.onRecvConnect = fn
	e.cbMu.Unlock()
}

func (e *Engine) OnRecvTransportConnected(fn func()) {
	e.cbMu.Lock()
	e.onRecvConnected = fn
	e.cbMu.Unlock()
}

func (e *Engine) OnTransportStateChanged(fn func(domain.TransportDirection, domain.TransportState)) {
	e.cbMu.Lock()
	e.onState = fn
	e.cbMu.Unlock()
}

// CloseTransports reaps captures and consumers still riding on the
// transports, then tears both directions down. Safe when none exist.
func (e *Engine) CloseTransports() {
	e.mu.Lock()
	send, recv := e.send, e.recv
	e.send, e.recv = nil, nil
	captures := e.captures
	e.captures = make(map[domain.MediaSource]*capture)
	consumers := e.consumers
	e.consumers = make(map[domain.ConsumerID]*consumer)
	e.mu.Unlock()

	for _, c := range captures {
		c.stop()
	}
	for _, c := range consumers {
		c.stop()
	}
	if send != nil {
		send.close()
	}
	if recv != nil {
		recv.close()
	}
}

func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.CloseTransports()
	log.Info().Str("module", "webrtc").Msg("engine closed")
}
