// ABOUTME: Bounded, expiring record of Matrix events the bridge already handled
// ABOUTME: Guards against sync replays and duplicate delivery after reconnects

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Defaults sized for one homeserver sync stream.
const (
	DefaultTTL      = 10 * time.Minute
	DefaultCapacity = 5000
	sweepInterval   = time.Minute
)

type seenEvent struct {
	key  string
	at   time.Time
	elem *list.Element
}

// EventCache remembers event keys for a fixed window. When full, the entry
// marked longest ago is dropped first. Safe for concurrent use.
type EventCache struct {
	mu       sync.Mutex
	entries  map[string]*seenEvent
	order    *list.List // oldest mark at the front
	ttl      time.Duration
	capacity int
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// New returns an EventCache and starts its background sweeper. Non-positive
// arguments fall back to DefaultTTL and DefaultCapacity.
func New(ttl time.Duration, capacity int) *EventCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &EventCache{
		entries:  make(map[string]*seenEvent),
		order:    list.New(),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Key builds the cache key for an event in a room. Event ids are globally
// unique in current room versions; the room keeps keys readable in logs.
func Key(roomID, eventID string) string {
	return roomID + "|" + eventID
}

// FirstSeen marks key and reports whether this is the first time it was
// marked within the window. Duplicate deliveries return false.
func (c *EventCache) FirstSeen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[key]; ok {
		if now.Sub(e.at) < c.ttl {
			return false
		}
		c.drop(e)
	}

	if len(c.entries) >= c.capacity {
		if oldest := c.order.Front(); oldest != nil {
			c.drop(oldest.Value.(*seenEvent))
		}
	}

	e := &seenEvent{key: key, at: now}
	e.elem = c.order.PushBack(e)
	c.entries[key] = e
	return true
}

// Seen reports whether key was marked within the window without marking it.
func (c *EventCache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && c.now().Sub(e.at) < c.ttl
}

// Len returns the number of entries currently held, expired or not.
func (c *EventCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// drop removes e. Caller holds mu.
func (c *EventCache) drop(e *seenEvent) {
	c.order.Remove(e.elem)
	delete(c.entries, e.key)
}

// sweep removes expired entries. Marks are appended in time order, so the
// scan stops at the first live entry.
func (c *EventCache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		e := front.Value.(*seenEvent)
		if now.Sub(e.at) < c.ttl {
			break
		}
		c.drop(e)
		removed++
	}
	return removed
}

func (c *EventCache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

// Close stops the sweeper. Safe to call more than once.
func (c *EventCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}
