// Package signal implements core.Signaling over a websocket carrying
// JSON-RPC 2.0. The client owns the socket: it dials on Connect,
// redials dropped connections with exponential backoff until Close,
// and decodes server pushes into protocol notifications at this
// boundary so nothing upstream touches raw JSON.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/jsonrpc2"
	websocketjsonrpc2 "github.com/sourcegraph/jsonrpc2/websocket"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/protocol"
)

var (
	ErrNotConnected = errors.New("signaling channel not connected")
	ErrClientClosed = errors.New("signaling client closed")
)

const (
	defaultDialTimeout  = 10 * time.Second
	redialFirstInterval = 500 * time.Millisecond
	redialMaxInterval   = 10 * time.Second
)

// Options tune the client; zero values pick defaults.
type Options struct {
	DialTimeout time.Duration
}

// Client is reusable across connects: Close tears the socket down and
// a later Connect starts a fresh epoch.
type Client struct {
	dialTimeout time.Duration

	mu        sync.RWMutex
	rpc       *jsonrpc2.Conn
	serverURL string
	token     string
	gen       int
	closed    bool
	done      chan struct{}

	notify func(protocol.Notification)
	connEv func(core.ConnEvent)
}

func NewClient(opts Options) *Client {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	return &Client{dialTimeout: opts.DialTimeout, closed: true}
}

func (c *Client) Connect(ctx context.Context, serverURL, token string) error {
	c.mu.Lock()
	if c.rpc != nil {
		c.mu.Unlock()
		return errors.New("already connected")
	}
	c.serverURL = serverURL
	c.token = token
	c.closed = false
	c.done = make(chan struct{})
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		c.mu.Lock()
		c.closed = true
		c.done = nil
		c.mu.Unlock()
		return err
	}
	c.emit(core.ConnConnected)
	return nil
}

// Close stops the redial loop and closes the socket. Safe to call
// twice; the client can Connect again afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.gen++
	rpc := c.rpc
	c.rpc = nil
	done := c.done
	c.done = nil
	c.mu.Unlock()

	if done != nil {
		close(done)
	}
	var err error
	if rpc != nil {
		err = rpc.Close()
	}
	c.emit(core.ConnClosed)
	log.Info().Str("module", "signal").Msg("signaling channel closed")
	return err
}

func (c *Client) OnNotification(cb func(protocol.Notification)) {
	c.mu.Lock()
	c.notify = cb
	c.mu.Unlock()
}

func (c *Client) OnConnEvent(cb func(core.ConnEvent)) {
	c.mu.Lock()
	c.connEv = cb
	c.mu.Unlock()
}

// dial opens one socket and hangs a watcher on it. Called from Connect
// and from the redial loop.
func (c *Client) dial(ctx context.Context) error {
	c.mu.RLock()
	serverURL, token := c.serverURL, c.token
	c.mu.RUnlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	dialer := &websocket.Dialer{HandshakeTimeout: c.dialTimeout}
	ws, resp, err := dialer.DialContext(ctx, serverURL, header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return fmt.Errorf("dial %s: %w", serverURL, err)
	}

	stream := websocketjsonrpc2.NewObjectStream(ws)
	rpc := jsonrpc2.NewConn(context.Background(), stream, jsonrpc2.HandlerWithError(c.handle))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = rpc.Close()
		return ErrClientClosed
	}
	c.gen++
	gen := c.gen
	c.rpc = rpc
	done := c.done
	c.mu.Unlock()

	go c.watch(rpc, gen, done)
	log.Info().Str("module", "signal").Str("server", serverURL).Msg("signaling channel connected")
	return nil
}

// handle runs serially on the connection's read loop, which preserves
// push order. The downstream callback must not block; the session's
// dispatch queue is non-blocking so a slow consumer cannot stall the
// socket.
func (c *Client) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	if !req.Notif {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: fmt.Sprintf("client does not serve %q", req.Method)}
	}
	var params json.RawMessage
	if req.Params != nil {
		params = *req.Params
	}
	n, err := protocol.DecodeNotification(req.Method, params)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("method", req.Method).Msg("push dropped")
		return nil, nil
	}
	c.mu.RLock()
	cb := c.notify
	c.mu.RUnlock()
	if cb != nil {
		cb(n)
	}
	return nil, nil
}

// watch waits for the socket to die. A deliberate Close bumps the
// generation first, so only an unexpected drop starts the redial loop.
func (c *Client) watch(rpc *jsonrpc2.Conn, gen int, done chan struct{}) {
	select {
	case <-rpc.DisconnectNotify():
	case <-done:
		return
	}

	c.mu.Lock()
	stale := gen != c.gen || c.closed
	if !stale {
		c.rpc = nil
	}
	c.mu.Unlock()
	if stale {
		return
	}

	log.Warn().Str("module", "signal").Msg("signaling channel lost, redialing")
	c.emit(core.ConnReconnecting)
	c.redial(done)
}

// redial keeps trying until the socket is back or the client closes.
// Giving up is the session's call, it runs a countdown of its own.
func (c *Client) redial(done chan struct{}) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = redialFirstInterval
	bo.MaxInterval = redialMaxInterval
	bo.MaxElapsedTime = 0

	op := func() error {
		select {
		case <-done:
			return backoff.Permanent(ErrClientClosed)
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.dialTimeout)
		defer cancel()
		if err := c.dial(ctx); err != nil {
			if errors.Is(err, ErrClientClosed) {
				return backoff.Permanent(err)
			}
			log.Warn().Err(err).Str("module", "signal").Msg("redial attempt failed")
			return err
		}
		return nil
	}
	if err := backoff.Retry(op, bo); err != nil {
		log.Info().Str("module", "signal").Msg("redial stopped")
		return
	}
	log.Info().Str("module", "signal").Msg("signaling channel restored")
	c.emit(core.ConnReconnected)
}

func (c *Client) emit(ev core.ConnEvent) {
	c.mu.RLock()
	cb := c.connEv
	c.mu.RUnlock()
	if cb != nil {
		cb(ev)
	}
}
