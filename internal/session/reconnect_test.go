package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/protocol"
)

// The adapter redials on its own; if the channel comes back inside the
// window the room must survive untouched.
func TestReconnectOverlayClearsOnRecovery(t *testing.T) {
	env := joinedEnv(t)
	env.coord.reconnect.countdown = 10000

	env.sig.emit(core.ConnReconnecting)
	require.Eventually(t, func() bool {
		state, _ := env.coord.reconnect.snapshot()
		return state == Reconnecting
	}, testWait, time.Millisecond)

	env.sig.emit(core.ConnReconnected)
	require.Eventually(t, func() bool {
		state, _ := env.coord.reconnect.snapshot()
		return state == ReconnectStable
	}, testWait, time.Millisecond)

	require.Equal(t, StateInRoom, env.coord.State())
	snap := env.coord.Snapshot()
	require.Len(t, snap.Peers, 2, "roster survives a transparent reconnect")
	require.Zero(t, env.engineTeardowns())
	require.True(t, env.eng.micRunning())
}

// Flapping emits several reconnecting events; only the first starts a
// countdown, the rest must not rewind it.
func TestRepeatedReconnectingCollapses(t *testing.T) {
	env := joinedEnv(t)
	env.coord.reconnect.countdown = 1000
	env.coord.reconnect.interval = time.Millisecond

	env.sig.emit(core.ConnReconnecting)
	require.Eventually(t, func() bool {
		_, rem := env.coord.reconnect.snapshot()
		return rem > 0 && rem <= 990
	}, testWait, time.Millisecond)

	env.sig.emit(core.ConnReconnecting)
	time.Sleep(25 * time.Millisecond)
	state, rem := env.coord.reconnect.snapshot()
	require.Equal(t, Reconnecting, state)
	require.LessOrEqual(t, rem, 990, "second event must not restart the countdown")
}

func TestReconnectExpiryForcesLocalTeardown(t *testing.T) {
	env := joinedEnv(t)
	env.coord.reconnect.countdown = 3

	env.sig.emit(core.ConnReconnecting)

	require.Eventually(t, func() bool {
		return env.coord.State() == StateDisconnected
	}, testWait, time.Millisecond)
	state, _ := env.coord.reconnect.snapshot()
	require.Equal(t, ManualRetryRequired, state)

	require.Equal(t, 1, env.engineTeardowns())
	require.False(t, env.eng.micRunning())
	require.Zero(t, env.sig.callCount(protocol.MethodLeaveRoom), "server is unreachable, teardown stays local")
	require.Zero(t, env.sig.callCount(protocol.MethodCloseProducer))
}

func TestManualRetryAfterExpiry(t *testing.T) {
	env := joinedEnv(t)
	env.coord.reconnect.countdown = 2
	env.sig.emit(core.ConnReconnecting)
	require.Eventually(t, func() bool {
		return env.coord.State() == StateDisconnected
	}, testWait, time.Millisecond)

	require.NoError(t, env.coord.ManualRetry(context.Background()))

	require.Equal(t, StateConnected, env.coord.State(), "retry reconnects but does not rejoin")
	state, _ := env.coord.reconnect.snapshot()
	require.Equal(t, ReconnectStable, state)
	require.Equal(t, 2, env.sig.callCount("connect"), "full handshake reran")
	require.Equal(t, 2, env.sig.callCount(protocol.MethodJoin))
}

func TestManualRetryOnlyAfterExpiry(t *testing.T) {
	env := joinedEnv(t)
	env.coord.reconnect.countdown = 10000

	require.ErrorIs(t, env.coord.ManualRetry(context.Background()), ErrRetryUnavailable)

	env.sig.emit(core.ConnReconnecting)
	require.Eventually(t, func() bool {
		state, _ := env.coord.reconnect.snapshot()
		return state == Reconnecting
	}, testWait, time.Millisecond)
	require.ErrorIs(t, env.coord.ManualRetry(context.Background()), ErrRetryUnavailable,
		"countdown still running, adapter owns the redial")
}

func TestFailedManualRetryRearms(t *testing.T) {
	env := joinedEnv(t)
	env.coord.reconnect.countdown = 2
	env.sig.emit(core.ConnReconnecting)
	require.Eventually(t, func() bool {
		return env.coord.State() == StateDisconnected
	}, testWait, time.Millisecond)

	env.sig.failAlways("connect", errors.New("still unreachable"))
	require.Error(t, env.coord.ManualRetry(context.Background()))
	state, _ := env.coord.reconnect.snapshot()
	require.Equal(t, ManualRetryRequired, state, "failed retry re-arms the gate")

	env.sig.clearFail("connect")
	require.NoError(t, env.coord.ManualRetry(context.Background()))
	require.Equal(t, StateConnected, env.coord.State())
}
