// Package eventlog keeps a bounded history of session events (detections,
// start/stop, errors) and fans new events out to SSE subscribers.
package eventlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/andresvm/person-counter/internal/logger"
)

const moduleName = "eventlog"

// Event is one timestamped session event.
type Event struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Log is a fixed-capacity event history with subscriber fanout. When the
// history is full the oldest event is dropped. Slow subscribers miss events
// rather than blocking the producer.
type Log struct {
	mu       sync.Mutex
	capacity int
	events   []Event
	clients  map[int]chan Event
	nextID   int
}

// New creates a Log holding at most capacity events. Capacities below 1 are
// treated as 1.
func New(capacity int) *Log {
	if capacity < 1 {
		capacity = 1
	}
	return &Log{
		capacity: capacity,
		clients:  make(map[int]chan Event),
	}
}

// Append records a new event and delivers it to all subscribers.
func (l *Log) Append(format string, args ...interface{}) {
	ev := Event{Time: time.Now(), Message: fmt.Sprintf(format, args...)}

	l.mu.Lock()
	if len(l.events) == l.capacity {
		copy(l.events, l.events[1:])
		l.events = l.events[:l.capacity-1]
	}
	l.events = append(l.events, ev)

	for id, ch := range l.clients {
		select {
		case ch <- ev:
		default:
			// Client too slow, it misses this event.
			_ = id
		}
	}
	l.mu.Unlock()

	logger.Debug(moduleName, "%s", ev.Message)
}

// Recent returns a copy of the stored history, oldest first.
func (l *Log) Recent() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Subscribe adds a client and returns a channel receiving future events.
func (l *Log) Subscribe() (int, <-chan Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	ch := make(chan Event, 2)
	l.clients[id] = ch

	logger.Debug(moduleName, "client #%d subscribed (total clients: %d)", id, len(l.clients))
	return id, ch
}

// Unsubscribe removes a client and closes its channel.
func (l *Log) Unsubscribe(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ch, ok := l.clients[id]; ok {
		close(ch)
		delete(l.clients, id)
		logger.Debug(moduleName, "client #%d unsubscribed (remaining clients: %d)", id, len(l.clients))
	}
}
