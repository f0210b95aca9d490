package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

// JoinRoom enters a room and brings up the media path: roster from the
// reply, both transports, then serve-mode dependent production and the
// ready signal. A server-side "already joined" is success; it happens
// when a previous join reply got lost and the client retries.
func (c *Coordinator) JoinRoom(ctx context.Context, roomID domain.RoomID, role domain.Role) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.RLock()
	state, current, mode := c.state, c.roomID, c.serveMode
	c.mu.RUnlock()
	if state == StateDisconnected {
		return ErrNotConnected
	}
	if state == StateInRoom {
		if current == roomID {
			return nil
		}
		return ErrAlreadyInRoom
	}

	reply, err := c.signal.JoinRoom(ctx, roomID, role)
	if err != nil {
		if !protocol.IsCode(err, protocol.CodeAlreadyJoined) {
			c.stats.RecordCallFailure(protocol.MethodJoinRoom)
			return fmt.Errorf("join room %s: %w", roomID, err)
		}
		log.Warn().Str("module", "session").Str("room", string(roomID)).Msg("server reports already joined, reconciling local state")
	}

	roomCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.state = StateInRoom
	c.roomID = roomID
	c.role = role
	c.roomActive = true
	c.roomCtx = roomCtx
	c.roomCancel = cancel
	c.produced = false
	c.mu.Unlock()
	c.stats.SetSessionState(string(StateInRoom))

	c.roster.reset(reply.Peers, reply.SelfPeerID, reply.HostPeerID)
	c.stats.SetRosterSize(c.roster.count())

	c.transports.create(roomCtx)

	jctx, jcancel := c.roomScoped(ctx)
	defer jcancel()
	if mode == domain.ServeModeOpen {
		c.autoProduce(jctx)
	}
	if mode != domain.ServeModePull {
		if err := c.signal.Ready(jctx); err != nil {
			c.stats.RecordCallFailure(protocol.MethodReady)
			log.Error().Err(err).Str("module", "session").Msg("ready signal failed")
		}
	}

	log.Info().Str("module", "session").Str("room", string(roomID)).Str("role", string(role)).Int("peers", c.roster.count()).Msg("joined room")
	return nil
}

// autoProduce enables the default producers once per room stay.
func (c *Coordinator) autoProduce(ctx context.Context) {
	c.mu.Lock()
	if c.produced {
		c.mu.Unlock()
		return
	}
	c.produced = true
	c.mu.Unlock()

	for _, source := range []domain.MediaSource{domain.SourceMic, domain.SourceCamera} {
		if err := c.producers.enable(ctx, source, c.devices[source]); err != nil {
			// Session survives with whatever producers made it.
			log.Error().Err(err).Str("module", "session").Str("source", string(source)).Msg("auto produce failed")
		}
	}
}

// LeaveRoom tells the server goodbye and tears down locally. The
// teardown runs even when the call fails, a dead server must not pin
// local media.
func (c *Coordinator) LeaveRoom(ctx context.Context) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if c.State() != StateInRoom {
		return nil
	}
	if err := c.signal.LeaveRoom(ctx); err != nil {
		c.stats.RecordCallFailure(protocol.MethodLeaveRoom)
		log.Warn().Err(err).Str("module", "session").Msg("leave call failed, tearing down anyway")
	}
	c.leaveLocal("leave")
	return nil
}

// ForceLeaveLocal tears the room down without telling the server. Used
// for kicks, dismissals and expired reconnects, where the server side
// is already gone. Safe to call any number of times.
func (c *Coordinator) ForceLeaveLocal(reason string) {
	c.cancelRoom()
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	c.leaveLocal(reason)
}

// cancelRoom aborts in-flight room work before taking cmdMu, so a
// command blocked on the server cannot deadlock a forced teardown.
func (c *Coordinator) cancelRoom() {
	c.mu.RLock()
	cancel := c.roomCancel
	c.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// leaveLocal is the one teardown path. The roomActive flag makes it
// idempotent: duplicate kick or dismissal pushes find it false and
// skip.
func (c *Coordinator) leaveLocal(reason string) bool {
	c.mu.Lock()
	if !c.roomActive {
		c.mu.Unlock()
		log.Info().Str("module", "session").Str("reason", reason).Msg("teardown skipped, no active room")
		return false
	}
	c.roomActive = false
	roomID := c.roomID
	c.roomID = ""
	c.role = ""
	c.produced = false
	cancel := c.roomCancel
	c.roomCancel = nil
	c.roomCtx = nil
	if c.state == StateInRoom {
		c.state = StateConnected
	}
	state := c.state
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.consumers.reset()
	c.producers.closeLocal()
	c.transports.close()
	c.roster.clear()
	c.stats.SetRosterSize(0)
	c.stats.SetSessionState(string(state))
	log.Info().Str("module", "session").Str("room", string(roomID)).Str("reason", reason).Msg("left room")
	return true
}

// KickPeer asks the server to remove a peer. Host-only; the server
// enforces it, we just surface the refusal.
func (c *Coordinator) KickPeer(ctx context.Context, id domain.PeerID) error {
	if c.State() != StateInRoom {
		return ErrNotInRoom
	}
	if err := c.signal.KickPeer(ctx, id); err != nil {
		c.stats.RecordCallFailure(protocol.MethodKickPeer)
		return fmt.Errorf("kick peer %s: %w", id, err)
	}
	return nil
}

// MutePeer asks the server to mute or unmute a peer's producer.
func (c *Coordinator) MutePeer(ctx context.Context, id domain.PeerID, muted bool) error {
	if c.State() != StateInRoom {
		return ErrNotInRoom
	}
	if err := c.signal.MutePeer(ctx, id, muted); err != nil {
		c.stats.RecordCallFailure(protocol.MethodMutePeer)
		return fmt.Errorf("mute peer %s: %w", id, err)
	}
	return nil
}

func (c *Coordinator) onPeerJoined(n protocol.PeerJoined) {
	c.roster.upsert(n.Peer.Peer())
	c.stats.SetRosterSize(c.roster.count())
	log.Info().Str("module", "session").Str("peer", string(n.Peer.ID)).Str("name", n.Peer.DisplayName).Msg("peer joined")
}

func (c *Coordinator) onPeerLeft(n protocol.PeerLeft) {
	if !c.roster.remove(n.PeerID) {
		log.Warn().Str("module", "session").Str("peer", string(n.PeerID)).Msg("leave for unknown peer ignored")
		return
	}
	c.stats.SetRosterSize(c.roster.count())
	log.Info().Str("module", "session").Str("peer", string(n.PeerID)).Msg("peer left")
}

func (c *Coordinator) onPeerKicked(n protocol.PeerKicked) {
	if c.roster.isSelf(n.PeerID) {
		log.Warn().Str("module", "session").Msg("kicked by host")
		c.ForceLeaveLocal("kicked")
		return
	}
	if c.roster.remove(n.PeerID) {
		c.stats.SetRosterSize(c.roster.count())
	}
	log.Info().Str("module", "session").Str("peer", string(n.PeerID)).Msg("peer kicked")
}

func (c *Coordinator) onPeerMuted(n protocol.PeerMuted) {
	if !c.roster.setMuted(n.PeerID, n.Muted) {
		log.Warn().Str("module", "session").Str("peer", string(n.PeerID)).Msg("mute for unknown peer ignored")
		return
	}
	if c.roster.isSelf(n.PeerID) && n.Muted {
		log.Warn().Str("module", "session").Msg("muted by host, stopping microphone")
		ctx, cancel := c.opCtx()
		defer cancel()
		if err := c.producers.disable(ctx, domain.SourceMic); err != nil {
			log.Error().Err(err).Str("module", "session").Msg("disable microphone after remote mute")
		}
	}
}

func (c *Coordinator) onRoomDismissed() {
	log.Warn().Str("module", "session").Msg("room dismissed by host")
	c.ForceLeaveLocal("room dismissed")
}
