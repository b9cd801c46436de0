package broker

import (
	"net"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// registry - authoritative set of registered participants.
// Insert, remove and snapshot are serialized with the same lock.
type registry struct {
	mu   sync.RWMutex
	list map[net.Conn]*Participant
}

func newRegistry() *registry {
	return &registry{
		list: make(map[net.Conn]*Participant),
	}
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.list)
}

func (r *registry) get(conn net.Conn) (p *Participant, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok = r.list[conn]
	return p, ok
}

func (r *registry) has(conn net.Conn) bool {
	_, ok := r.get(conn)
	return ok
}

// add - registers participant and runs then under the same lock,
// so no snapshot can observe participant before then is done.
func (r *registry) add(p *Participant, then func(p *Participant)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.list[p.conn]; ok {
		return false
	}
	r.list[p.conn] = p
	if then != nil {
		then(p)
	}
	return true
}

// delete - deregisters exactly given participant, false if it is not registered.
func (r *registry) delete(p *Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if kept, ok := r.list[p.conn]; !ok || kept != p {
		return false
	}
	delete(r.list, p.conn)
	return true
}

// snapshot - returns registered participants except given one, each participant appears once.
func (r *registry) snapshot(exclude *Participant) []*Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Filter(lo.Values(r.list), func(p *Participant, _ int) bool {
		return p != exclude
	})
}

// drain - deregisters all participants and returns them.
func (r *registry) drain() []*Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	drained := lo.Values(r.list)
	r.list = make(map[net.Conn]*Participant)
	return drained
}

// infos - returns public snapshot ordered by join time.
func (r *registry) infos() []ParticipantInfo {
	infos := lo.Map(r.snapshot(nil), func(p *Participant, _ int) ParticipantInfo {
		return p.Info()
	})
	slices.SortFunc(infos, func(a, b ParticipantInfo) int {
		return a.JoinedAt.Compare(b.JoinedAt)
	})
	return infos
}
