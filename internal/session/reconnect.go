package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ReconnectState describes the signaling recovery overlay.
type ReconnectState string

const (
	ReconnectStable     ReconnectState = "stable"
	Reconnecting        ReconnectState = "reconnecting"
	ManualRetryRequired ReconnectState = "manual-retry"
)

const reconnectCountdownSeconds = 30

// reconnector runs the visible countdown while the signaling adapter
// redials underneath. If the channel comes back the overlay clears; if
// the countdown hits zero the session stops waiting and asks the user.
type reconnector struct {
	onExpired func()

	countdown int
	interval  time.Duration

	mu        sync.Mutex
	state     ReconnectState
	remaining int
	stop      chan struct{}
}

func newReconnector(onExpired func()) *reconnector {
	return &reconnector{
		onExpired: onExpired,
		countdown: reconnectCountdownSeconds,
		interval:  time.Second,
		state:     ReconnectStable,
	}
}

// begin starts one countdown. Repeated reconnecting events while a
// countdown runs are collapsed.
func (r *reconnector) begin() {
	r.mu.Lock()
	if r.state == Reconnecting {
		r.mu.Unlock()
		return
	}
	r.state = Reconnecting
	r.remaining = r.countdown
	r.stop = make(chan struct{})
	stop := r.stop
	r.mu.Unlock()

	log.Warn().Str("module", "session.reconnect").Int("seconds", r.countdown).Msg("signaling lost, reconnecting")
	go r.tick(stop)
}

func (r *reconnector) tick(stop chan struct{}) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			r.mu.Lock()
			if r.state != Reconnecting {
				r.mu.Unlock()
				return
			}
			r.remaining--
			rem := r.remaining
			if rem <= 0 {
				r.state = ManualRetryRequired
				r.stop = nil
			}
			r.mu.Unlock()

			if rem <= 0 {
				log.Error().Str("module", "session.reconnect").Msg("reconnect window expired, manual retry required")
				if r.onExpired != nil {
					r.onExpired()
				}
				return
			}
			if rem%5 == 0 {
				log.Info().Str("module", "session.reconnect").Int("seconds", rem).Msg("still reconnecting")
			}
		}
	}
}

// succeeded clears the overlay when the channel reports it is back.
func (r *reconnector) succeeded() {
	r.mu.Lock()
	if r.state != Reconnecting {
		r.mu.Unlock()
		return
	}
	r.state = ReconnectStable
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
	r.mu.Unlock()
	log.Info().Str("module", "session.reconnect").Msg("signaling restored")
}

// consumeRetry flips manual-retry back to stable so a retry attempt
// can run. Reports false from any other state.
func (r *reconnector) consumeRetry() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != ManualRetryRequired {
		return false
	}
	r.state = ReconnectStable
	return true
}

// requireManual re-arms the manual gate after a retry attempt failed,
// so the user can try again.
func (r *reconnector) requireManual() {
	r.mu.Lock()
	r.state = ManualRetryRequired
	r.mu.Unlock()
}

// reset cancels any countdown, for session shutdown.
func (r *reconnector) reset() {
	r.mu.Lock()
	r.state = ReconnectStable
	r.remaining = 0
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
	r.mu.Unlock()
}

func (r *reconnector) snapshot() (ReconnectState, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.remaining
}
