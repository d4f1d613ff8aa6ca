package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/voicelink/internal/core"
)

// DefaultQueueCapacity bounds the outbound queue used while the channel
// is not open. Overflow drops the oldest entry.
const DefaultQueueCapacity = 100

// dataChannel is the surface of *webrtc.DataChannel the control channel
// relies on; tests substitute a fake.
type dataChannel interface {
	Send([]byte) error
	ReadyState() webrtc.DataChannelState
	Close() error
	Label() string
}

// controlChannel wraps the single control data channel of a connection.
// While the channel is not open it operates in fallback mode: outbound
// messages are queued FIFO and drained in order the moment it opens.
type controlChannel struct {
	mu       sync.Mutex
	dc       dataChannel
	queue    [][]byte
	capacity int
	fallback bool
	open     bool

	bus       *core.Bus
	logger    zerolog.Logger
	onMessage func([]byte)
}

func newControlChannel(capacity int, bus *core.Bus, logger zerolog.Logger) *controlChannel {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &controlChannel{
		capacity: capacity,
		bus:      bus,
		logger:   logger,
	}
}

// attach points the channel at a (possibly still connecting) data channel.
// The previous queue is kept so a recreate does not lose messages.
func (c *controlChannel) attach(dc dataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.open = false
	c.fallback = true
	c.mu.Unlock()
}

// handleOpen drains the queue in order and leaves fallback mode. Fallback
// holds exactly while the channel is not open: a send failing mid-drain
// means the channel is already dying, so it is not reported open and the
// remaining queue waits for the next open.
func (c *controlChannel) handleOpen() {
	c.mu.Lock()
	c.open = true
	for len(c.queue) > 0 {
		head := c.queue[0]
		if err := c.dc.Send(head); err != nil {
			c.logger.Error().Err(err).Int("queued", len(c.queue)).Msg("drain send failed")
			c.open = false
			c.fallback = true
			c.mu.Unlock()
			return
		}
		c.queue = c.queue[1:]
	}
	c.fallback = false
	payload := core.ChannelStatePayload{State: "open", Fallback: false, Queued: 0}
	c.mu.Unlock()

	c.logger.Info().Int("queued", payload.Queued).Msg("control channel open")
	c.bus.Emit(core.EventDataChannelState, payload)
}

// handleClose enters fallback mode. Queue depth at close time rides on the
// event so observers see what is pending.
func (c *controlChannel) handleClose() {
	c.mu.Lock()
	c.open = false
	c.fallback = true
	payload := core.ChannelStatePayload{State: "closed", Fallback: true, Queued: len(c.queue)}
	c.mu.Unlock()

	c.logger.Warn().Int("queued", payload.Queued).Msg("control channel closed, fallback mode")
	c.bus.Emit(core.EventDataChannelState, payload)
}

func (c *controlChannel) handleMessage(data []byte) {
	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()
	if fn != nil {
		fn(data)
	}
	c.bus.Emit(core.EventDataChannelMessage, core.MessagePayload{Raw: data})
}

func (c *controlChannel) setOnMessage(fn func([]byte)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// Send delivers immediately on an open channel with an empty queue,
// appends-and-drains when the queue is non-empty, and enqueues (bounded,
// drop-oldest) while the channel is not open.
func (c *controlChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dc != nil && c.open && c.dc.ReadyState() == webrtc.DataChannelStateOpen {
		if len(c.queue) == 0 {
			return c.dc.Send(data)
		}
		// Never reorder: append, then drain from the head.
		c.queue = append(c.queue, data)
		for len(c.queue) > 0 {
			head := c.queue[0]
			if err := c.dc.Send(head); err != nil {
				return err
			}
			c.queue = c.queue[1:]
		}
		return nil
	}

	if len(c.queue) >= c.capacity {
		c.logger.Warn().Int("capacity", c.capacity).Msg("control queue full, dropping oldest")
		c.queue = c.queue[1:]
	}
	c.queue = append(c.queue, data)
	c.fallback = true
	return nil
}

func (c *controlChannel) depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *controlChannel) inFallback() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fallback
}

func (c *controlChannel) stateString() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.dc == nil:
		return "absent"
	case c.open:
		return "open"
	case c.dc.ReadyState() == webrtc.DataChannelStateConnecting:
		return "connecting"
	default:
		return "closed"
	}
}

func (c *controlChannel) close() {
	c.mu.Lock()
	dc := c.dc
	c.dc = nil
	c.open = false
	c.fallback = true
	c.mu.Unlock()
	if dc != nil {
		_ = dc.Close()
	}
}
