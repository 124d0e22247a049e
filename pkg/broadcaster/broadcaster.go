package broadcaster

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Options tune the monitoring feed.
type Options struct {
	FlushInterval time.Duration // how long frames wait before a batch ships, default 100ms
	MaxBatch      int           // frames per envelope, default 50
	ClientBuffer  int           // per-client outbound queue, default 256
	FrameBuffer   int           // intake queue, default 1024
}

func (o Options) withDefaults() Options {
	if o.FlushInterval <= 0 {
		o.FlushInterval = 100 * time.Millisecond
	}
	if o.MaxBatch <= 0 {
		o.MaxBatch = 50
	}
	if o.ClientBuffer <= 0 {
		o.ClientBuffer = 256
	}
	if o.FrameBuffer <= 0 {
		o.FrameBuffer = 1024
	}
	return o
}

// envelope is the wire form of one flushed batch: the pipeline's fact-check,
// pass-summary, and combo frames collected since the last flush.
type envelope struct {
	Type      string            `json:"type"`
	Count     int               `json:"count"`
	Events    []json.RawMessage `json:"events"`
	Timestamp int64             `json:"timestamp"`
}

func buildEnvelope(frames []json.RawMessage, at time.Time) ([]byte, error) {
	return json.Marshal(envelope{
		Type:      "batch",
		Count:     len(frames),
		Events:    frames,
		Timestamp: at.UnixMilli(),
	})
}

// client is one websocket subscriber with its own writer goroutine, so a slow
// dashboard cannot stall the flush loop or its peers.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

func (c *client) writeLoop(unregister func(*websocket.Conn), logger *zap.Logger) {
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logger.Info("Monitoring client write failed, dropping",
				zap.String("remoteAddr", c.conn.RemoteAddr().String()),
				zap.Error(err))
			unregister(c.conn)
			return
		}
	}
}

// Broadcaster fans pipeline event frames out to websocket monitoring clients.
// Frames are coalesced into batch envelopes on a short flush interval so a
// bulk fact-check pass does not turn into thousands of tiny writes.
type Broadcaster struct {
	logger *zap.Logger
	opts   Options

	mu      sync.Mutex
	clients map[*websocket.Conn]*client
	dropped int64

	frames chan json.RawMessage
	done   chan struct{}
	once   sync.Once
}

// NewBroadcaster creates a broadcaster with default options.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	return NewBroadcasterWithOptions(logger, Options{})
}

// NewBroadcasterWithOptions creates a broadcaster with explicit tuning.
func NewBroadcasterWithOptions(logger *zap.Logger, opts Options) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	return &Broadcaster{
		logger:  logger.Named("broadcaster"),
		opts:    opts,
		clients: make(map[*websocket.Conn]*client),
		frames:  make(chan json.RawMessage, opts.FrameBuffer),
		done:    make(chan struct{}),
	}
}

// Run drives the coalescing flush loop until Close is called. A batch ships
// when it reaches MaxBatch frames or when the flush interval elapses with
// frames pending, whichever comes first.
func (b *Broadcaster) Run() {
	b.logger.Info("Broadcaster started",
		zap.Duration("flush_interval", b.opts.FlushInterval),
		zap.Int("max_batch", b.opts.MaxBatch))

	ticker := time.NewTicker(b.opts.FlushInterval)
	defer ticker.Stop()

	pending := make([]json.RawMessage, 0, b.opts.MaxBatch)

	for {
		select {
		case <-b.done:
			if len(pending) > 0 {
				b.flush(pending)
			}
			b.closeClients()
			return

		case frame := <-b.frames:
			pending = append(pending, frame)
			if len(pending) >= b.opts.MaxBatch {
				b.flush(pending)
				pending = pending[:0]
			}

		case <-ticker.C:
			if len(pending) > 0 {
				b.flush(pending)
				pending = pending[:0]
			}
		}
	}
}

func (b *Broadcaster) flush(frames []json.RawMessage) {
	data, err := buildEnvelope(frames, time.Now())
	if err != nil {
		b.logger.Error("Failed to marshal batch envelope", zap.Error(err))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.clients {
		select {
		case c.send <- data:
		default:
			// The client's queue is full; it keeps its connection but loses
			// this batch.
			b.dropped++
		}
	}
}

// Broadcast enqueues one marshaled event frame for the next batch. Never
// blocks; when the intake queue is full the frame is dropped and counted.
func (b *Broadcaster) Broadcast(frame []byte) {
	select {
	case b.frames <- json.RawMessage(frame):
	case <-b.done:
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
	}
}

// Register adds a websocket client and starts its writer.
func (b *Broadcaster) Register(conn *websocket.Conn) {
	c := &client{
		conn: conn,
		send: make(chan []byte, b.opts.ClientBuffer),
	}

	b.mu.Lock()
	b.clients[conn] = c
	count := len(b.clients)
	b.mu.Unlock()

	go c.writeLoop(b.Unregister, b.logger)

	b.logger.Info("Monitoring client registered",
		zap.String("remoteAddr", conn.RemoteAddr().String()),
		zap.Int("clients", count))
}

// Unregister removes a client and closes its connection. Safe to call twice.
func (b *Broadcaster) Unregister(conn *websocket.Conn) {
	b.mu.Lock()
	c, ok := b.clients[conn]
	if ok {
		delete(b.clients, conn)
	}
	b.mu.Unlock()

	if ok {
		close(c.send)
		conn.Close()
		b.logger.Info("Monitoring client unregistered",
			zap.String("remoteAddr", conn.RemoteAddr().String()))
	}
}

func (b *Broadcaster) closeClients() {
	b.mu.Lock()
	clients := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.clients = make(map[*websocket.Conn]*client)
	b.mu.Unlock()

	for _, c := range clients {
		close(c.send)
		c.conn.Close()
	}
}

// ClientCount returns the number of connected monitoring clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// DroppedFrames returns how many frames or batches were lost to full queues.
func (b *Broadcaster) DroppedFrames() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close stops the flush loop and disconnects every client.
func (b *Broadcaster) Close() {
	b.once.Do(func() { close(b.done) })
}
