package session

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

// EnableProducer starts capture for a source and announces it. With an
// empty deviceID the configured default device is used.
func (c *Coordinator) EnableProducer(ctx context.Context, source domain.MediaSource, deviceID string) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if c.State() != StateInRoom {
		return ErrNotInRoom
	}
	mctx, cancel := c.roomScoped(ctx)
	defer cancel()
	return c.producers.enable(mctx, source, c.deviceFor(source, deviceID))
}

// DisableProducer stops capture and closes the producer for a source.
func (c *Coordinator) DisableProducer(ctx context.Context, source domain.MediaSource) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if c.State() != StateInRoom {
		return ErrNotInRoom
	}
	mctx, cancel := c.roomScoped(ctx)
	defer cancel()
	return c.producers.disable(mctx, source)
}

// SwitchDevice moves a live producer to another capture device.
func (c *Coordinator) SwitchDevice(ctx context.Context, source domain.MediaSource, deviceID string) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if c.State() != StateInRoom {
		return ErrNotInRoom
	}
	mctx, cancel := c.roomScoped(ctx)
	defer cancel()
	return c.producers.switchDevice(mctx, source, deviceID)
}

func (c *Coordinator) deviceFor(source domain.MediaSource, override string) string {
	if override != "" {
		return override
	}
	return c.devices[source]
}

func (c *Coordinator) onNewConsumer(n protocol.NewConsumer) {
	if c.State() != StateInRoom {
		log.Warn().Str("module", "session").Str("consumer", string(n.ID)).Msg("consumer offer outside room dropped")
		return
	}
	ctx, cancel := c.opCtx()
	defer cancel()
	if err := c.consumers.add(ctx, n.ConsumerInfo); err != nil {
		// No resume for a consumer the engine refused.
		log.Error().Err(err).Str("module", "session").Str("peer", string(n.ProducerPeer)).Msg("consumer setup failed")
	}
}

func (c *Coordinator) onConsumerClosed(n protocol.ConsumerClosed) {
	ctx, cancel := c.opCtx()
	defer cancel()
	c.consumers.closed(ctx, n.ConsumerID)
}

// onProduceSources serves the invite flow: the server names which
// sources it wants from us. Sources already producing are no-ops.
func (c *Coordinator) onProduceSources(n protocol.ProduceSources) {
	if c.State() != StateInRoom {
		log.Warn().Str("module", "session").Msg("produce request outside room dropped")
		return
	}
	ctx, cancel := c.opCtx()
	defer cancel()
	for _, raw := range n.Sources {
		source, err := domain.ParseMediaSource(string(raw))
		if err != nil {
			log.Warn().Str("module", "session").Str("source", string(raw)).Msg("requested produce for unknown source dropped")
			continue
		}
		if err := c.producers.enable(ctx, source, c.devices[source]); err != nil {
			log.Error().Err(err).Str("module", "session").Str("source", string(source)).Msg("requested produce failed")
		}
	}
}
