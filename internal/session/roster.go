package session

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

// roster tracks who is in the room. Self lives outside the others map
// so Count and Others stay correct even while the self id is still
// unresolved. Safe for use from the dispatch loop and command paths.
type roster struct {
	mu     sync.RWMutex
	others map[domain.PeerID]domain.Peer
	order  []domain.PeerID
	self   domain.Peer
	hostID domain.PeerID
}

func newRoster() *roster {
	return &roster{others: make(map[domain.PeerID]domain.Peer)}
}

// setSelf primes the local identity. The id may be empty; it resolves
// later from the join reply or by display-name match.
func (r *roster) setSelf(id domain.PeerID, displayName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id != "" {
		r.self.ID = id
	}
	r.self.DisplayName = displayName
}

// reset replaces the whole roster from a join reply.
func (r *roster) reset(peers []protocol.PeerInfo, selfID, hostID domain.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.others = make(map[domain.PeerID]domain.Peer, len(peers))
	r.order = r.order[:0]
	r.hostID = hostID
	if selfID != "" {
		r.self.ID = selfID
	}
	for _, info := range peers {
		p := info.Peer()
		if r.isSelfLocked(p) {
			r.mergeSelfLocked(p)
			continue
		}
		r.upsertLocked(p)
	}
	r.self.Host = r.self.ID != "" && r.self.ID == r.hostID
}

// upsert adds or refreshes one peer, routing self updates to the self
// entry. Duplicate join pushes collapse by id.
func (r *roster) upsert(p domain.Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isSelfLocked(p) {
		r.mergeSelfLocked(p)
		return
	}
	r.upsertLocked(p)
}

func (r *roster) upsertLocked(p domain.Peer) {
	if _, ok := r.others[p.ID]; !ok {
		r.order = append(r.order, p.ID)
	}
	r.others[p.ID] = p
	if p.Host {
		r.hostID = p.ID
	}
}

// isSelfLocked matches by id when the id is known, else by display
// name. Name matching can mis-resolve between identical display names;
// a server-supplied id always wins over it.
func (r *roster) isSelfLocked(p domain.Peer) bool {
	if r.self.ID != "" {
		return p.ID == r.self.ID
	}
	return r.self.DisplayName != "" && p.DisplayName == r.self.DisplayName
}

func (r *roster) mergeSelfLocked(p domain.Peer) {
	if r.self.ID == "" && p.ID != "" {
		log.Info().Str("module", "session.roster").Str("peer", string(p.ID)).Msg("self id resolved by display name")
	}
	r.self.ID = p.ID
	r.self.Host = p.Host
	r.self.Muted = p.Muted
	if p.Host {
		r.hostID = p.ID
	}
}

func (r *roster) remove(id domain.PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.others[id]; !ok {
		return false
	}
	delete(r.others, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// setMuted flips the muted flag for self or another peer. Reports
// whether the target was known.
func (r *roster) setMuted(id domain.PeerID, muted bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.self.ID != "" && id == r.self.ID {
		r.self.Muted = muted
		return true
	}
	p, ok := r.others[id]
	if !ok {
		return false
	}
	p.Muted = muted
	r.others[id] = p
	return true
}

func (r *roster) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.others = make(map[domain.PeerID]domain.Peer)
	r.order = r.order[:0]
	r.hostID = ""
	r.self.Host = false
	r.self.Muted = false
}

func (r *roster) selfID() domain.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.self.ID
}

func (r *roster) isSelf(id domain.PeerID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.self.ID != "" && id == r.self.ID
}

func (r *roster) isHost() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.self.ID != "" && r.self.ID == r.hostID
}

func (r *roster) selfPeer() domain.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.self
}

func (r *roster) host() domain.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hostID
}

// othersList returns everyone except self, in arrival order.
func (r *roster) othersList() []domain.Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Peer, 0, len(r.order))
	for _, id := range r.order {
		if p, ok := r.others[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// count includes self.
func (r *roster) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.others) + 1
}
