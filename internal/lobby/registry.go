package lobby

import (
	"github.com/xjhc/alignment/internal/protocol"
)

type attachment struct {
	connID string
	outbox chan protocol.Frame
}

// registry holds the live connection of each attached player. It is owned
// by the lobby goroutine and never locked.
type registry struct {
	conns map[string]*attachment
}

func newRegistry() *registry {
	return &registry{conns: make(map[string]*attachment)}
}

// attach binds playerID to outbox. A previous connection of the same player
// is closed and reported.
func (r *registry) attach(playerID, connID string, outbox chan protocol.Frame) (replaced bool) {
	if old, ok := r.conns[playerID]; ok {
		close(old.outbox)
		replaced = true
	}
	r.conns[playerID] = &attachment{connID: connID, outbox: outbox}
	return replaced
}

// detach removes playerID only if connID is still its current connection,
// so a late detach from a replaced socket is a no-op.
func (r *registry) detach(playerID, connID string) bool {
	a, ok := r.conns[playerID]
	if !ok || a.connID != connID {
		return false
	}
	close(a.outbox)
	delete(r.conns, playerID)
	return true
}

func (r *registry) connected(playerID string) bool {
	_, ok := r.conns[playerID]
	return ok
}

func (r *registry) len() int { return len(r.conns) }

// unicast queues f without blocking. A connection whose outbox is full is
// closed and removed, and dropped is true. Unattached players are skipped.
func (r *registry) unicast(playerID string, f protocol.Frame) (dropped bool) {
	a, ok := r.conns[playerID]
	if !ok {
		return false
	}
	select {
	case a.outbox <- f:
		return false
	default:
		close(a.outbox)
		delete(r.conns, playerID)
		return true
	}
}

// broadcast sends each attached player the frame built for it. Players for
// which build returns an empty frame are skipped. It returns the ids that
// were dropped as slow.
func (r *registry) broadcast(build func(playerID string) protocol.Frame) []string {
	var dropped []string
	for id := range r.conns {
		f := build(id)
		if len(f) == 0 {
			continue
		}
		if r.unicast(id, f) {
			dropped = append(dropped, id)
		}
	}
	return dropped
}

func (r *registry) closeAll() {
	for id, a := range r.conns {
		close(a.outbox)
		delete(r.conns, id)
	}
}
