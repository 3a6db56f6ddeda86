// ABOUTME: In-memory room bookkeeping for the Matrix adapter
// ABOUTME: Tracks DM conduits per user, the staff roster, relay rooms, and per-room ordered work queues

package matrix

import (
	"sort"
	"sync"
)

// conduits maps users to the direct-message room the bot shares with them.
type conduits struct {
	mu     sync.RWMutex
	byUser map[string]string
	byRoom map[string]string
}

func newConduits() *conduits {
	return &conduits{byUser: make(map[string]string), byRoom: make(map[string]string)}
}

func (c *conduits) roomFor(userID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.byUser[userID]
	return r, ok
}

func (c *conduits) userFor(roomID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.byRoom[roomID]
	return u, ok
}

// set records roomID as userID's conduit, replacing any previous room.
func (c *conduits) set(userID, roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.byUser[userID]; ok {
		delete(c.byRoom, old)
	}
	if oldUser, ok := c.byRoom[roomID]; ok {
		delete(c.byUser, oldUser)
	}
	c.byUser[userID] = roomID
	c.byRoom[roomID] = userID
}

// forgetRoom drops the conduit living in roomID.
func (c *conduits) forgetRoom(roomID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.byRoom[roomID]
	if !ok {
		return "", false
	}
	delete(c.byRoom, roomID)
	delete(c.byUser, u)
	return u, true
}

// roster is the set of users currently joined to the staff room.
type roster struct {
	mu      sync.RWMutex
	members map[string]struct{}
}

func newRoster() *roster {
	return &roster{members: make(map[string]struct{})}
}

func (r *roster) isStaff(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[userID]
	return ok
}

func (r *roster) replace(userIDs []string) {
	m := make(map[string]struct{}, len(userIDs))
	for _, u := range userIDs {
		m[u] = struct{}{}
	}
	r.mu.Lock()
	r.members = m
	r.mu.Unlock()
}

func (r *roster) add(userID string) {
	r.mu.Lock()
	r.members[userID] = struct{}{}
	r.mu.Unlock()
}

func (r *roster) remove(userID string) {
	r.mu.Lock()
	delete(r.members, userID)
	r.mu.Unlock()
}

func (r *roster) list() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.members))
	for u := range r.members {
		out = append(out, u)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// roomSet is a concurrent set of room ids.
type roomSet struct {
	mu    sync.RWMutex
	rooms map[string]struct{}
}

func newRoomSet() *roomSet {
	return &roomSet{rooms: make(map[string]struct{})}
}

func (s *roomSet) add(roomID string) {
	s.mu.Lock()
	s.rooms[roomID] = struct{}{}
	s.mu.Unlock()
}

func (s *roomSet) remove(roomID string) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
}

func (s *roomSet) has(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[roomID]
	return ok
}

// roomQueues runs work for one room in submission order while different
// rooms proceed in parallel. A room's goroutine exits once its queue drains.
type roomQueues struct {
	mu     sync.Mutex
	queues map[string][]func()
	wg     sync.WaitGroup
}

func newRoomQueues() *roomQueues {
	return &roomQueues{queues: make(map[string][]func())}
}

func (q *roomQueues) enqueue(roomID string, fn func()) {
	q.mu.Lock()
	pending, running := q.queues[roomID]
	q.queues[roomID] = append(pending, fn)
	if running {
		q.mu.Unlock()
		return
	}
	q.wg.Add(1)
	q.mu.Unlock()

	go q.drain(roomID)
}

func (q *roomQueues) drain(roomID string) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		pending := q.queues[roomID]
		if len(pending) == 0 {
			delete(q.queues, roomID)
			q.mu.Unlock()
			return
		}
		fn := pending[0]
		q.queues[roomID] = pending[1:]
		q.mu.Unlock()

		fn()
	}
}

// wait blocks until every queued function has run.
func (q *roomQueues) wait() {
	q.wg.Wait()
}
