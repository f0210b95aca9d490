// Package session orchestrates one client's meeting lifecycle: the
// signaling handshake, room membership, the WebRTC transport pair,
// producers, consumers and reconnection. All server pushes and channel
// events funnel through a single dispatch loop; public commands are
// single-flight. Shared tables keep their own short-lived mutexes and
// no lock is ever held across a signaling or engine call.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/metrics"
	"github.com/dkeye/Meet/internal/protocol"
)

// State is the coarse session lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	StateInRoom       State = "in-room"
)

var (
	ErrEmptyToken       = errors.New("auth token is empty")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
	ErrNotInRoom        = errors.New("not in a room")
	ErrAlreadyInRoom    = errors.New("already in another room")
	ErrRetryUnavailable = errors.New("manual retry not available")
)

const (
	defaultOpTimeout = 10 * time.Second
	eventQueueSize   = 64
)

// TokenProvider supplies the auth token used on each connect.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken adapts a fixed token string to TokenProvider.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Options tune a Coordinator beyond its collaborators.
type Options struct {
	DisplayName  string
	CameraDevice string
	MicDevice    string
	Metrics      *metrics.Metrics
}

// Coordinator is the single entry point the application talks to.
type Coordinator struct {
	signal core.Signaling
	engine core.MediaEngine
	tokens TokenProvider
	stats  *metrics.Metrics

	displayName string
	devices     map[domain.MediaSource]string

	transports *transportManager
	producers  *producerManager
	consumers  *consumerFlow
	roster     *roster
	reconnect  *reconnector

	// cmdMu serializes public commands; it may be held across calls to
	// the server, which is why event handlers never block on it without
	// canceling the room context first.
	cmdMu sync.Mutex

	mu         sync.RWMutex
	state      State
	serveMode  domain.ServeMode
	roomID     domain.RoomID
	role       domain.Role
	serverURL  string
	token      string
	roomActive bool
	roomCtx    context.Context
	roomCancel context.CancelFunc
	produced   bool

	events    chan dispatchEvent
	done      chan struct{}
	closeOnce sync.Once
}

// dispatchEvent carries either a decoded server push or a channel
// lifecycle event into the loop.
type dispatchEvent struct {
	notif protocol.Notification
	conn  core.ConnEvent
}

func New(signal core.Signaling, engine core.MediaEngine, tokens TokenProvider, opts Options) *Coordinator {
	c := &Coordinator{
		signal:      signal,
		engine:      engine,
		tokens:      tokens,
		stats:       opts.Metrics,
		displayName: opts.DisplayName,
		devices: map[domain.MediaSource]string{
			domain.SourceMic:    opts.MicDevice,
			domain.SourceCamera: opts.CameraDevice,
		},
		state:  StateDisconnected,
		events: make(chan dispatchEvent, eventQueueSize),
		done:   make(chan struct{}),
	}
	c.roster = newRoster()
	c.transports = newTransportManager(signal, engine)
	c.producers = newProducerManager(signal, engine, opts.Metrics)
	c.consumers = newConsumerFlow(engine, c.resumeConsumer, opts.Metrics)
	c.reconnect = newReconnector(c.onReconnectExpired)
	c.transports.onRecvConnected = c.consumers.recvConnected

	signal.OnNotification(c.postNotification)
	signal.OnConnEvent(c.postConnEvent)

	go c.run()
	return c
}

// Connect dials the server and walks the handshake: serve mode, router
// capabilities into the engine, then the self announce. Any failure
// closes the channel again and leaves the session disconnected.
func (c *Coordinator) Connect(ctx context.Context, serverURL string) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if c.State() != StateDisconnected {
		return ErrAlreadyConnected
	}
	if err := domain.ValidateDisplayName(c.displayName); err != nil {
		return fmt.Errorf("display name: %w", err)
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("acquire token: %w", err)
	}
	return c.connect(ctx, serverURL, token)
}

func (c *Coordinator) connect(ctx context.Context, serverURL, token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	if err := c.signal.Connect(ctx, serverURL, token); err != nil {
		return fmt.Errorf("connect signaling: %w", err)
	}
	ok := false
	defer func() {
		if !ok {
			if cerr := c.signal.Close(); cerr != nil {
				log.Error().Err(cerr).Str("module", "session").Msg("close after failed handshake")
			}
		}
	}()

	mode, err := c.signal.ServeMode(ctx)
	if err != nil {
		return fmt.Errorf("get serve mode: %w", err)
	}
	caps, err := c.signal.RouterCapabilities(ctx)
	if err != nil {
		return fmt.Errorf("get router capabilities: %w", err)
	}
	if err := c.engine.Load(caps); err != nil {
		return fmt.Errorf("load media engine: %w", err)
	}
	selfID, err := c.signal.Announce(ctx, c.displayName)
	if err != nil {
		return fmt.Errorf("announce: %w", err)
	}

	c.roster.setSelf(selfID, c.displayName)
	c.mu.Lock()
	c.state = StateConnected
	c.serveMode = mode
	c.serverURL = serverURL
	c.token = token
	c.mu.Unlock()
	c.stats.SetSessionState(string(StateConnected))
	ok = true
	log.Info().Str("module", "session").Str("server", serverURL).Str("serve_mode", string(mode)).Str("self", string(selfID)).Msg("connected")
	return nil
}

// ManualRetry re-runs the connect sequence with the stored server and
// token. Only valid after the reconnect window expired.
func (c *Coordinator) ManualRetry(ctx context.Context) error {
	if !c.reconnect.consumeRetry() {
		return ErrRetryUnavailable
	}
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	c.mu.RLock()
	serverURL, token := c.serverURL, c.token
	c.mu.RUnlock()
	if serverURL == "" {
		return ErrRetryUnavailable
	}
	c.stats.RecordReconnect()
	if err := c.connect(ctx, serverURL, token); err != nil {
		c.reconnect.requireManual()
		return err
	}
	return nil
}

// Disconnect leaves any room, then closes the signaling channel.
func (c *Coordinator) Disconnect(ctx context.Context) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if c.State() == StateDisconnected {
		return nil
	}
	if c.State() == StateInRoom {
		if err := c.signal.LeaveRoom(ctx); err != nil {
			log.Warn().Err(err).Str("module", "session").Msg("leave call on disconnect failed")
		}
		c.leaveLocal("disconnect")
	}
	c.reconnect.reset()
	if err := c.signal.Close(); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("close signaling")
	}
	c.mu.Lock()
	c.state = StateDisconnected
	c.serveMode = ""
	c.mu.Unlock()
	c.stats.SetSessionState(string(StateDisconnected))
	log.Info().Str("module", "session").Msg("disconnected")
	return nil
}

// Close shuts the whole coordinator down, engine included.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultOpTimeout)
		defer cancel()
		if err := c.Disconnect(ctx); err != nil {
			log.Error().Err(err).Str("module", "session").Msg("disconnect on close")
		}
		close(c.done)
		c.engine.Close()
	})
}

func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Coordinator) run() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			if ev.notif != nil {
				c.handleNotification(ev.notif)
				continue
			}
			c.handleConnEvent(ev.conn)
		}
	}
}

func (c *Coordinator) postNotification(n protocol.Notification) {
	c.post(dispatchEvent{notif: n})
}

func (c *Coordinator) postConnEvent(ev core.ConnEvent) {
	c.post(dispatchEvent{conn: ev})
}

func (c *Coordinator) post(ev dispatchEvent) {
	select {
	case <-c.done:
	case c.events <- ev:
	default:
		log.Warn().Str("module", "session").Msg("event queue full, event dropped")
	}
}

func (c *Coordinator) handleNotification(n protocol.Notification) {
	switch n := n.(type) {
	case protocol.PeerJoined:
		c.onPeerJoined(n)
	case protocol.PeerLeft:
		c.onPeerLeft(n)
	case protocol.PeerKicked:
		c.onPeerKicked(n)
	case protocol.PeerMuted:
		c.onPeerMuted(n)
	case protocol.RoomDismissed:
		c.onRoomDismissed()
	case protocol.NewConsumer:
		c.onNewConsumer(n)
	case protocol.ConsumerClosed:
		c.onConsumerClosed(n)
	case protocol.ProducerClosed:
		c.producers.serverClosed(n.ProducerID)
	case protocol.ProduceSources:
		c.onProduceSources(n)
	default:
		log.Warn().Str("module", "session").Msgf("unhandled notification %T", n)
	}
}

func (c *Coordinator) handleConnEvent(ev core.ConnEvent) {
	switch ev {
	case core.ConnConnected:
		log.Info().Str("module", "session").Msg("signaling channel up")
	case core.ConnReconnecting:
		c.stats.RecordReconnect()
		c.reconnect.begin()
	case core.ConnReconnected:
		c.reconnect.succeeded()
	case core.ConnClosed:
		log.Info().Str("module", "session").Msg("signaling channel closed")
	}
}

// onReconnectExpired runs on the countdown goroutine when the window
// closes: drop the room, close the channel, wait for a manual retry.
func (c *Coordinator) onReconnectExpired() {
	c.cancelRoom()
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	c.leaveLocal("signaling lost")
	if err := c.signal.Close(); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("close signaling after reconnect expiry")
	}
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	c.stats.SetSessionState(string(StateDisconnected))
}

// resumeConsumer is the consumerFlow's hook into signaling.
func (c *Coordinator) resumeConsumer(ctx context.Context, id domain.ConsumerID) error {
	if err := c.signal.ResumeConsumer(ctx, id); err != nil {
		c.stats.RecordCallFailure(protocol.MethodResumeConsumer)
		return err
	}
	return nil
}

// roomScoped derives a context canceled by either the caller or room
// teardown, so in-flight work dies with the room.
func (c *Coordinator) roomScoped(ctx context.Context) (context.Context, context.CancelFunc) {
	c.mu.RLock()
	rctx := c.roomCtx
	c.mu.RUnlock()
	if rctx == nil {
		return context.WithCancel(ctx)
	}
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(rctx, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}

// opCtx is roomScoped for loop handlers that have no caller context.
func (c *Coordinator) opCtx() (context.Context, context.CancelFunc) {
	c.mu.RLock()
	rctx := c.roomCtx
	c.mu.RUnlock()
	if rctx == nil {
		rctx = context.Background()
	}
	return context.WithTimeout(rctx, defaultOpTimeout)
}

// Snapshot is a point-in-time view for status surfaces.
type Snapshot struct {
	State          State                 `json:"state"`
	ServeMode      domain.ServeMode      `json:"serveMode,omitempty"`
	RoomID         domain.RoomID         `json:"roomId,omitempty"`
	Self           domain.Peer           `json:"self"`
	HostID         domain.PeerID         `json:"hostId,omitempty"`
	IsHost         bool                  `json:"isHost"`
	Peers          []domain.Peer         `json:"peers"`
	PeerCount      int                   `json:"peerCount"`
	SendTransport  domain.TransportState `json:"sendTransport"`
	RecvTransport  domain.TransportState `json:"recvTransport"`
	Producers      []ProducerStatus      `json:"producers"`
	Consumers      int                   `json:"consumers"`
	PendingResumes int                   `json:"pendingResumes"`
	Reconnect      ReconnectState        `json:"reconnect"`
	RetrySeconds   int                   `json:"retrySeconds,omitempty"`
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	snap := Snapshot{
		State:     c.state,
		ServeMode: c.serveMode,
		RoomID:    c.roomID,
	}
	c.mu.RUnlock()

	snap.Self = c.roster.selfPeer()
	snap.HostID = c.roster.host()
	snap.IsHost = c.roster.isHost()
	snap.Peers = c.roster.othersList()
	if snap.State == StateInRoom {
		snap.PeerCount = c.roster.count()
	}
	snap.SendTransport, snap.RecvTransport = c.transports.states()
	snap.Producers = c.producers.statuses()
	snap.Consumers, snap.PendingResumes = c.consumers.snapshot()
	snap.Reconnect, snap.RetrySeconds = c.reconnect.snapshot()
	return snap
}
