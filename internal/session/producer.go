package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/metrics"
	"github.com/dkeye/Meet/internal/protocol"
)

const (
	produceRetryAttempts = 3
	produceRetryStep     = 500 * time.Millisecond
	producerCloseGrace   = 500 * time.Millisecond
)

// producerManager keeps at most one producer per capture source. The
// producer id is authoritative server state; capture may outlive a
// failed announce so the user keeps the device preview while retrying.
type producerManager struct {
	signal core.Signaling
	engine core.MediaEngine
	stats  *metrics.Metrics

	retryStep  time.Duration
	closeGrace time.Duration

	mu    sync.Mutex
	slots map[domain.MediaSource]*producerSlot
}

type producerSlot struct {
	id        domain.ProducerID
	deviceID  string
	track     core.LocalTrack
	capturing bool
	lastErr   error
}

func newProducerManager(signal core.Signaling, engine core.MediaEngine, stats *metrics.Metrics) *producerManager {
	return &producerManager{
		signal:     signal,
		engine:     engine,
		stats:      stats,
		retryStep:  produceRetryStep,
		closeGrace: producerCloseGrace,
		slots: map[domain.MediaSource]*producerSlot{
			domain.SourceMic:    {},
			domain.SourceCamera: {},
		},
	}
}

// enable starts capture and announces the producer. A failed announce
// leaves capture running with a null id; the caller may retry enable
// or switch devices.
func (p *producerManager) enable(ctx context.Context, source domain.MediaSource, deviceID string) error {
	p.mu.Lock()
	slot, ok := p.slots[source]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("unknown media source %q", source)
	}
	if slot.id != "" {
		p.mu.Unlock()
		return nil
	}
	capturing := slot.capturing
	p.mu.Unlock()

	track := core.LocalTrack{}
	var err error
	if !capturing {
		track, err = p.startCapture(ctx, source, deviceID)
		if err != nil {
			p.record(source, func(s *producerSlot) { s.lastErr = err })
			return fmt.Errorf("start %s: %w", source, err)
		}
		p.record(source, func(s *producerSlot) {
			s.capturing = true
			s.deviceID = deviceID
			s.track = track
		})
	} else {
		p.mu.Lock()
		track = slot.track
		p.mu.Unlock()
	}

	id, err := p.signal.Produce(ctx, protocol.ProduceRequest{SSRC: track.SSRC, Codec: track.Codec, Source: source})
	if err != nil {
		p.record(source, func(s *producerSlot) { s.lastErr = err })
		p.stats.RecordCallFailure(protocol.MethodProduce)
		return fmt.Errorf("produce %s: %w", source, err)
	}

	p.record(source, func(s *producerSlot) {
		s.id = id
		s.lastErr = nil
	})
	p.stats.SetProducerActive(string(source), true)
	log.Info().Str("module", "session.producers").Str("source", string(source)).Str("producer", string(id)).Msg("producer enabled")
	return nil
}

// disable stops capture and closes the producer. Local state clears no
// matter what the server says.
func (p *producerManager) disable(ctx context.Context, source domain.MediaSource) error {
	p.mu.Lock()
	slot, ok := p.slots[source]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("unknown media source %q", source)
	}
	id := slot.id
	capturing := slot.capturing
	slot.id = ""
	slot.capturing = false
	p.mu.Unlock()

	if capturing {
		if err := p.stopCapture(source); err != nil {
			log.Error().Err(err).Str("module", "session.producers").Str("source", string(source)).Msg("stop capture")
		}
	}
	if id != "" {
		if err := p.signal.CloseProducer(ctx, id); err != nil {
			log.Warn().Err(err).Str("module", "session.producers").Str("producer", string(id)).Msg("close producer call failed, local state cleared anyway")
		}
	}
	p.stats.SetProducerActive(string(source), false)
	log.Info().Str("module", "session.producers").Str("source", string(source)).Msg("producer disabled")
	return nil
}

// switchDevice swaps the capture device under a live producer. The old
// producer closes first so the server never sees two producers for one
// source; recreate retries with a linear backoff before giving up.
func (p *producerManager) switchDevice(ctx context.Context, source domain.MediaSource, deviceID string) error {
	p.mu.Lock()
	slot, ok := p.slots[source]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("unknown media source %q", source)
	}
	oldID := slot.id
	capturing := slot.capturing
	slot.id = ""
	p.mu.Unlock()

	if oldID != "" {
		if err := p.signal.CloseProducer(ctx, oldID); err != nil {
			log.Warn().Err(err).Str("module", "session.producers").Str("producer", string(oldID)).Msg("close before switch unacknowledged, waiting out grace period")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.closeGrace):
			}
		}
	}
	if capturing {
		if err := p.stopCapture(source); err != nil {
			log.Error().Err(err).Str("module", "session.producers").Str("source", string(source)).Msg("stop capture before switch")
		}
		p.record(source, func(s *producerSlot) { s.capturing = false })
	}

	track, err := p.startCapture(ctx, source, deviceID)
	if err != nil {
		p.record(source, func(s *producerSlot) { s.lastErr = err })
		return fmt.Errorf("start %s on %q: %w", source, deviceID, err)
	}
	p.record(source, func(s *producerSlot) {
		s.capturing = true
		s.deviceID = deviceID
		s.track = track
	})

	id, err := p.produceWithRetry(ctx, source, track)
	if err != nil {
		p.record(source, func(s *producerSlot) { s.lastErr = err })
		p.stats.SetProducerActive(string(source), false)
		return fmt.Errorf("recreate %s producer: %w", source, err)
	}

	p.record(source, func(s *producerSlot) {
		s.id = id
		s.lastErr = nil
	})
	p.stats.SetProducerActive(string(source), true)
	log.Info().Str("module", "session.producers").Str("source", string(source)).Str("device", deviceID).Str("producer", string(id)).Msg("device switched")
	return nil
}

// produceWithRetry announces the track up to produceRetryAttempts
// times, sleeping attempt*produceRetryStep between tries. Canceling
// ctx (room teardown, caller timeout) aborts the loop.
func (p *producerManager) produceWithRetry(ctx context.Context, source domain.MediaSource, track core.LocalTrack) (domain.ProducerID, error) {
	var id domain.ProducerID
	attempt := 0
	policy := backoff.WithContext(
		backoff.WithMaxRetries(newLinearBackOff(p.retryStep), produceRetryAttempts-1), ctx)
	err := backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			p.stats.RecordProducerRetry()
		}
		pid, err := p.signal.Produce(ctx, protocol.ProduceRequest{SSRC: track.SSRC, Codec: track.Codec, Source: source})
		if err != nil {
			log.Warn().Err(err).Str("module", "session.producers").Str("source", string(source)).Int("attempt", attempt).Msg("produce attempt failed")
			return err
		}
		id = pid
		return nil
	}, policy)
	if err != nil {
		p.stats.RecordCallFailure(protocol.MethodProduce)
		return "", err
	}
	return id, nil
}

// serverClosed reacts to a producerClosed push: the server dropped our
// producer, stop feeding it.
func (p *producerManager) serverClosed(id domain.ProducerID) {
	p.mu.Lock()
	var source domain.MediaSource
	var found bool
	for src, slot := range p.slots {
		if slot.id == id {
			slot.id = ""
			slot.capturing = false
			source = src
			found = true
			break
		}
	}
	p.mu.Unlock()

	if !found {
		log.Warn().Str("module", "session.producers").Str("producer", string(id)).Msg("server closed unknown producer")
		return
	}
	if err := p.stopCapture(source); err != nil {
		log.Error().Err(err).Str("module", "session.producers").Str("source", string(source)).Msg("stop capture after server close")
	}
	p.stats.SetProducerActive(string(source), false)
	log.Info().Str("module", "session.producers").Str("source", string(source)).Str("producer", string(id)).Msg("producer closed by server")
}

// closeLocal stops every capture and forgets ids without calling the
// server. Used on forced teardown where the server side is gone.
func (p *producerManager) closeLocal() {
	p.mu.Lock()
	active := make([]domain.MediaSource, 0, len(p.slots))
	for src, slot := range p.slots {
		if slot.capturing {
			active = append(active, src)
		}
		slot.id = ""
		slot.capturing = false
		slot.lastErr = nil
	}
	p.mu.Unlock()

	for _, src := range active {
		if err := p.stopCapture(src); err != nil {
			log.Error().Err(err).Str("module", "session.producers").Str("source", string(src)).Msg("stop capture on teardown")
		}
		p.stats.SetProducerActive(string(src), false)
	}
}

func (p *producerManager) startCapture(ctx context.Context, source domain.MediaSource, deviceID string) (core.LocalTrack, error) {
	if source == domain.SourceCamera {
		return p.engine.StartCamera(ctx, deviceID)
	}
	return p.engine.StartMicrophone(ctx, deviceID)
}

func (p *producerManager) stopCapture(source domain.MediaSource) error {
	if source == domain.SourceCamera {
		return p.engine.StopCamera()
	}
	return p.engine.StopMicrophone()
}

func (p *producerManager) record(source domain.MediaSource, fn func(*producerSlot)) {
	p.mu.Lock()
	fn(p.slots[source])
	p.mu.Unlock()
}

// ProducerStatus is the externally visible state of one producer slot.
type ProducerStatus struct {
	Source    domain.MediaSource `json:"source"`
	ID        domain.ProducerID  `json:"id,omitempty"`
	DeviceID  string             `json:"deviceId,omitempty"`
	Capturing bool               `json:"capturing"`
	LastError string             `json:"lastError,omitempty"`
}

func (p *producerManager) statuses() []ProducerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ProducerStatus, 0, len(p.slots))
	for _, src := range []domain.MediaSource{domain.SourceMic, domain.SourceCamera} {
		slot := p.slots[src]
		st := ProducerStatus{Source: src, ID: slot.id, DeviceID: slot.deviceID, Capturing: slot.capturing}
		if slot.lastErr != nil {
			st.LastError = slot.lastErr.Error()
		}
		out = append(out, st)
	}
	return out
}

// linearBackOff waits attempt*step: 500ms after the first failure,
// 1s after the second, and so on.
type linearBackOff struct {
	step time.Duration
	n    time.Duration
}

func newLinearBackOff(step time.Duration) *linearBackOff {
	return &linearBackOff{step: step}
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return b.n * b.step
}

func (b *linearBackOff) Reset() { b.n = 0 }
