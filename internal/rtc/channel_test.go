package rtc

import (
	"fmt"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicelink/internal/core"
)

type fakeDC struct {
	mu        sync.Mutex
	state     webrtc.DataChannelState
	sent      [][]byte
	failAfter int
}

func (f *fakeDC) Send(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != webrtc.DataChannelStateOpen {
		return fmt.Errorf("send on %s channel", f.state)
	}
	if f.failAfter > 0 && len(f.sent) >= f.failAfter {
		return fmt.Errorf("transport write failed")
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeDC) ReadyState() webrtc.DataChannelState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeDC) setState(s webrtc.DataChannelState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *fakeDC) Close() error {
	f.setState(webrtc.DataChannelStateClosed)
	return nil
}

func (f *fakeDC) Label() string { return controlChannelLabel }

func (f *fakeDC) sentCopy() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestChannel(capacity int) (*controlChannel, *core.Bus) {
	bus := core.NewBus()
	return newControlChannel(capacity, bus, zerolog.Nop()), bus
}

// N messages queued while closed are delivered exactly once, in order,
// the moment the channel opens.
func TestChannelQueueDrainsInOrder(t *testing.T) {
	ch, _ := newTestChannel(100)
	dc := &fakeDC{state: webrtc.DataChannelStateConnecting}
	ch.attach(dc)

	const n = 10
	for i := 0; i < n; i++ {
		require.NoError(t, ch.Send([]byte(fmt.Sprintf("msg-%d", i))))
	}
	require.Equal(t, n, ch.depth())
	require.True(t, ch.inFallback())
	require.Empty(t, dc.sentCopy())

	dc.setState(webrtc.DataChannelStateOpen)
	ch.handleOpen()

	sent := dc.sentCopy()
	require.Len(t, sent, n)
	for i, b := range sent {
		require.Equal(t, fmt.Sprintf("msg-%d", i), string(b))
	}
	require.Zero(t, ch.depth())
	require.False(t, ch.inFallback())
}

func TestChannelOverflowDropsOldest(t *testing.T) {
	ch, _ := newTestChannel(100)
	dc := &fakeDC{state: webrtc.DataChannelStateConnecting}
	ch.attach(dc)

	for i := 0; i < 101; i++ {
		require.NoError(t, ch.Send([]byte(fmt.Sprintf("msg-%d", i))))
	}
	require.Equal(t, 100, ch.depth())

	dc.setState(webrtc.DataChannelStateOpen)
	ch.handleOpen()

	sent := dc.sentCopy()
	require.Len(t, sent, 100)
	require.Equal(t, "msg-1", string(sent[0]))
	require.Equal(t, "msg-100", string(sent[99]))
}

func TestChannelSendsImmediatelyWhenOpen(t *testing.T) {
	ch, _ := newTestChannel(100)
	dc := &fakeDC{state: webrtc.DataChannelStateOpen}
	ch.attach(dc)
	ch.handleOpen()

	require.NoError(t, ch.Send([]byte("direct")))
	require.Equal(t, [][]byte{[]byte("direct")}, dc.sentCopy())
	require.Zero(t, ch.depth())
}

// Channel closes mid-session with two messages stranded, then reopens:
// exactly two state events, carrying {fallback, queued} payloads.
func TestChannelFallbackEvents(t *testing.T) {
	ch, bus := newTestChannel(100)
	dc := &fakeDC{state: webrtc.DataChannelStateOpen}
	ch.attach(dc)
	ch.handleOpen()

	var events []core.ChannelStatePayload
	bus.Subscribe(func(ev core.Event) {
		if ev.Type == core.EventDataChannelState {
			events = append(events, ev.Payload.(core.ChannelStatePayload))
		}
	})

	// Underlying channel dies; two sends land in the queue before the
	// close callback is observed.
	dc.setState(webrtc.DataChannelStateClosed)
	require.NoError(t, ch.Send([]byte("a")))
	require.NoError(t, ch.Send([]byte("b")))
	ch.handleClose()

	dc.setState(webrtc.DataChannelStateOpen)
	ch.handleOpen()

	require.Len(t, events, 2)
	require.True(t, events[0].Fallback)
	require.Equal(t, 2, events[0].Queued)
	require.False(t, events[1].Fallback)
	require.Zero(t, events[1].Queued)
}

// A drain interrupted by a failing send keeps the channel in fallback:
// it is never reported open with messages still queued.
func TestChannelPartialDrainStaysInFallback(t *testing.T) {
	ch, bus := newTestChannel(100)
	dc := &fakeDC{state: webrtc.DataChannelStateConnecting, failAfter: 1}
	ch.attach(dc)

	var openEvents int
	bus.Subscribe(func(ev core.Event) {
		if ev.Type == core.EventDataChannelState {
			if ev.Payload.(core.ChannelStatePayload).State == "open" {
				openEvents++
			}
		}
	})

	require.NoError(t, ch.Send([]byte("a")))
	require.NoError(t, ch.Send([]byte("b")))

	dc.setState(webrtc.DataChannelStateOpen)
	ch.handleOpen()

	require.True(t, ch.inFallback())
	require.Equal(t, 1, ch.depth())
	require.NotEqual(t, "open", ch.stateString())
	require.Zero(t, openEvents)

	// The next open delivers the remainder.
	dc.mu.Lock()
	dc.failAfter = 0
	dc.mu.Unlock()
	ch.handleOpen()
	require.False(t, ch.inFallback())
	require.Zero(t, ch.depth())
	require.Equal(t, 1, openEvents)
}

func TestChannelStateString(t *testing.T) {
	ch, _ := newTestChannel(10)
	require.Equal(t, "absent", ch.stateString())

	dc := &fakeDC{state: webrtc.DataChannelStateConnecting}
	ch.attach(dc)
	require.Equal(t, "connecting", ch.stateString())

	dc.setState(webrtc.DataChannelStateOpen)
	ch.handleOpen()
	require.Equal(t, "open", ch.stateString())

	ch.handleClose()
	require.Equal(t, "closed", ch.stateString())
}
