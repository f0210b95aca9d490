package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/metrics"
	"github.com/dkeye/Meet/internal/protocol"
)

// consumerFlow decides when a freshly offered consumer may be resumed.
// The server pauses every new consumer; resuming before the receive
// transport finished its DTLS handshake silently loses media. New
// consumers arrive on the dispatch loop while the transport-connected
// event fires on an engine goroutine, so the queue is mutex-guarded.
type consumerFlow struct {
	engine core.MediaEngine
	resume func(ctx context.Context, id domain.ConsumerID) error
	stats  *metrics.Metrics

	mu        sync.Mutex
	recvReady bool
	pending   []domain.ConsumerID
	resumed   map[domain.ConsumerID]bool
	known     map[domain.ConsumerID]protocol.ConsumerInfo
}

func newConsumerFlow(engine core.MediaEngine, resume func(context.Context, domain.ConsumerID) error, stats *metrics.Metrics) *consumerFlow {
	return &consumerFlow{
		engine:  engine,
		resume:  resume,
		stats:   stats,
		resumed: make(map[domain.ConsumerID]bool),
		known:   make(map[domain.ConsumerID]protocol.ConsumerInfo),
	}
}

// add registers the consumer with the media engine, then either resumes
// it right away or parks it until the receive transport connects.
func (f *consumerFlow) add(ctx context.Context, info protocol.ConsumerInfo) error {
	if err := f.engine.AddConsumer(ctx, info); err != nil {
		return fmt.Errorf("add consumer %s: %w", info.ID, err)
	}

	f.mu.Lock()
	f.known[info.ID] = info
	if !f.recvReady {
		f.pending = append(f.pending, info.ID)
		pending := len(f.pending)
		f.mu.Unlock()
		f.stats.SetPendingResumes(pending)
		log.Info().Str("module", "session.consumers").Str("consumer", string(info.ID)).Msg("recv transport not connected, resume queued")
		return nil
	}
	if f.resumed[info.ID] {
		f.mu.Unlock()
		return nil
	}
	f.resumed[info.ID] = true
	f.mu.Unlock()

	f.doResume(ctx, info.ID)
	return nil
}

// recvConnected drains the queue. The flag and the pending slice swap
// under one lock so a concurrent add lands either in this batch or on
// the immediate path, never both and never neither.
func (f *consumerFlow) recvConnected(ctx context.Context) {
	f.mu.Lock()
	f.recvReady = true
	batch := make([]domain.ConsumerID, 0, len(f.pending))
	for _, id := range f.pending {
		if f.resumed[id] {
			continue
		}
		f.resumed[id] = true
		batch = append(batch, id)
	}
	f.pending = nil
	f.mu.Unlock()

	f.stats.SetPendingResumes(0)
	if len(batch) > 0 {
		log.Info().Str("module", "session.consumers").Int("count", len(batch)).Msg("recv transport connected, resuming queued consumers")
	}
	for _, id := range batch {
		f.doResume(ctx, id)
	}
}

func (f *consumerFlow) doResume(ctx context.Context, id domain.ConsumerID) {
	if err := f.resume(ctx, id); err != nil {
		// Consumer stays paused; the server may close and re-offer it.
		log.Error().Err(err).Str("module", "session.consumers").Str("consumer", string(id)).Msg("resume failed")
		return
	}
	f.stats.RecordConsumerResumed()
}

// closed removes a consumer on a server push. Unknown ids are fine,
// closes can race our teardown.
func (f *consumerFlow) closed(ctx context.Context, id domain.ConsumerID) {
	f.mu.Lock()
	_, ok := f.known[id]
	delete(f.known, id)
	delete(f.resumed, id)
	for i, pid := range f.pending {
		if pid == id {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			break
		}
	}
	pending := len(f.pending)
	f.mu.Unlock()
	f.stats.SetPendingResumes(pending)

	if !ok {
		log.Warn().Str("module", "session.consumers").Str("consumer", string(id)).Msg("close for unknown consumer ignored")
		return
	}
	if err := f.engine.RemoveConsumer(ctx, id); err != nil {
		log.Error().Err(err).Str("module", "session.consumers").Str("consumer", string(id)).Msg("remove consumer")
	}
}

// reset drops all tracking without issuing resumes. Used on leave and
// forced teardown; the engine side dies with the transports.
func (f *consumerFlow) reset() {
	f.mu.Lock()
	f.recvReady = false
	f.pending = nil
	f.resumed = make(map[domain.ConsumerID]bool)
	f.known = make(map[domain.ConsumerID]protocol.ConsumerInfo)
	f.mu.Unlock()
	f.stats.SetPendingResumes(0)
}

func (f *consumerFlow) snapshot() (known, pending int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.known), len(f.pending)
}
