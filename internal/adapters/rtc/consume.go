package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

// consumer is one remote stream being received: the RTP receiver plus
// a drain loop that keeps its buffers moving.
type consumer struct {
	id       domain.ConsumerID
	receiver *webrtc.RTPReceiver
	cancel   context.CancelFunc
}

func (c *consumer) stop() {
	c.cancel()
	closeLogged("receiver", c.receiver.Stop)
	log.Info().Str("module", "webrtc").Str("consumer_id", string(c.id)).Msg("consumer stopped")
}

func (e *Engine) AddConsumer(ctx context.Context, info protocol.ConsumerInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	if e.api == nil {
		e.mu.Unlock()
		return errNotLoaded
	}
	recv := e.recv
	if recv == nil {
		e.mu.Unlock()
		return errors.New("recv transport not ready")
	}
	if _, ok := e.consumers[info.ID]; ok {
		e.mu.Unlock()
		return fmt.Errorf("consumer %s already exists", info.ID)
	}
	e.mu.Unlock()

	receiver, err := e.api.NewRTPReceiver(codecKind(info.Kind), recv.dtls)
	if err != nil {
		return fmt.Errorf("rtp receiver: %w", err)
	}
	if err := receiver.Receive(receiveParameters(info.RTPParameters)); err != nil {
		closeLogged("receiver", receiver.Stop)
		return fmt.Errorf("receive: %w", err)
	}

	drainCtx, cancel := context.WithCancel(context.Background())
	c := &consumer{id: info.ID, receiver: receiver, cancel: cancel}

	e.mu.Lock()
	if e.closed || e.recv != recv {
		e.mu.Unlock()
		cancel()
		closeLogged("receiver", receiver.Stop)
		return errors.New("recv transport closed")
	}
	e.consumers[info.ID] = c
	e.mu.Unlock()

	log.Info().
		Str("module", "webrtc").
		Str("consumer_id", string(info.ID)).
		Str("peer_id", string(info.ProducerPeer)).
		Str("kind", string(info.Kind)).
		Msg("consuming")
	go e.drain(drainCtx, c)
	return nil
}

// drain keeps reading the remote track. Playback is a renderer concern;
// the engine's job here is keeping RTCP and jitter buffers healthy.
func (e *Engine) drain(ctx context.Context, c *consumer) {
	track := c.receiver.Track()
	if track == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, _, err := track.ReadRTP(); err != nil {
			if errors.Is(err, io.EOF) {
				log.Info().Str("module", "webrtc").Str("consumer_id", string(c.id)).Msg("consumer track ended")
			}
			return
		}
	}
}

func (e *Engine) RemoveConsumer(_ context.Context, id domain.ConsumerID) error {
	e.mu.Lock()
	c, ok := e.consumers[id]
	if ok {
		delete(e.consumers, id)
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}
	c.stop()
	return nil
}
