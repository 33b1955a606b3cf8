package monitor

import (
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/andresvm/person-counter/internal/logger"
	"github.com/andresvm/person-counter/internal/metrics"
)

// FrameBroadcaster fans annotated JPEG frames out to MJPEG clients. The
// pipeline checks HasClients before encoding so idle servers do no work.
type FrameBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
	mets    *metrics.Metrics
}

// NewFrameBroadcaster creates an empty frame fanout.
func NewFrameBroadcaster(mets *metrics.Metrics) *FrameBroadcaster {
	return &FrameBroadcaster{
		clients: make(map[int]chan []byte),
		mets:    mets,
	}
}

// Subscribe adds a client and returns a channel for receiving frames.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2) // Buffer 2 frames to avoid blocking
	fb.clients[id] = ch
	if fb.mets != nil {
		fb.mets.StreamClients.Store(uint64(len(fb.clients)))
	}

	logger.Debug("FrameBroadcaster", "client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		if fb.mets != nil {
			fb.mets.StreamClients.Store(uint64(len(fb.clients)))
		}
		logger.Debug("FrameBroadcaster", "client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))

		if len(fb.clients) == 0 {
			logger.Info("FrameBroadcaster", "no clients remaining, frame encoding will be skipped")
		}
	}
}

// HasClients reports whether any stream client is connected.
func (fb *FrameBroadcaster) HasClients() bool {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients) > 0
}

// Publish delivers a frame to every client. Slow clients skip the frame.
func (fb *FrameBroadcaster) Publish(frame []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for id, ch := range fb.clients {
		select {
		case ch <- frame:
		default:
			// Client too slow, skip this frame for this client.
			_ = id
		}
	}
}

// SerializedEvent holds one event pre-serialized in both transport formats,
// so broadcasting to many clients serializes once.
type SerializedEvent struct {
	JSONData     []byte // JSON payload
	ProtobufData []byte // Protobuf payload, base64-encoded for SSE
}

// serializeEvent renders payload as JSON and as a base64 protobuf Struct.
func serializeEvent(payload any) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var generic map[string]interface{}
	if err := json.Unmarshal(jsonData, &generic); err != nil {
		return nil, err
	}
	st, err := structpb.NewStruct(generic)
	if err != nil {
		return nil, err
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, err
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// StatusBroadcaster periodically snapshots the controller and fans the
// serialized status out to SSE clients.
type StatusBroadcaster struct {
	mu       sync.Mutex
	clients  map[int]chan *SerializedEvent
	nextID   int
	ctrl     Controller
	interval time.Duration
	stop     chan struct{}
	stopped  bool
}

// NewStatusBroadcaster creates a broadcaster polling ctrl every interval.
func NewStatusBroadcaster(ctrl Controller, interval time.Duration) *StatusBroadcaster {
	return &StatusBroadcaster{
		clients:  make(map[int]chan *SerializedEvent),
		ctrl:     ctrl,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Subscribe adds a client and returns a channel for receiving status events.
func (sb *StatusBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	id := sb.nextID
	sb.nextID++
	ch := make(chan *SerializedEvent, 2) // Buffer 2 events to avoid blocking
	sb.clients[id] = ch

	logger.Debug("StatusBroadcaster", "client #%d subscribed (total clients: %d)", id, len(sb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (sb *StatusBroadcaster) Unsubscribe(id int) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if ch, ok := sb.clients[id]; ok {
		close(ch)
		delete(sb.clients, id)
		logger.Debug("StatusBroadcaster", "client #%d unsubscribed (remaining clients: %d)", id, len(sb.clients))
	}
}

// Start begins the status event loop.
func (sb *StatusBroadcaster) Start() {
	go sb.run()
}

// Stop halts the broadcaster.
func (sb *StatusBroadcaster) Stop() {
	sb.mu.Lock()
	if !sb.stopped {
		close(sb.stop)
		sb.stopped = true
	}
	sb.mu.Unlock()
}

func (sb *StatusBroadcaster) run() {
	logger.Info("StatusBroadcaster", "starting status broadcaster (interval=%v)", sb.interval)
	ticker := time.NewTicker(sb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sb.stop:
			return
		case <-ticker.C:
			sb.mu.Lock()
			clientCount := len(sb.clients)
			sb.mu.Unlock()
			if clientCount == 0 {
				continue
			}

			event, err := serializeEvent(statusPayload(sb.ctrl))
			if err != nil {
				logger.Error("StatusBroadcaster", "serialize error: %v", err)
				continue
			}
			sb.broadcast(event)
		}
	}
}

func (sb *StatusBroadcaster) broadcast(event *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	for id, ch := range sb.clients {
		select {
		case ch <- event:
		default:
			// Client too slow, skip this event for this client.
			_ = id
		}
	}
}
