package rtc

import "sync"

// timerSet tracks every timer/interval owned by one transport so teardown
// can cancel them all. Nothing scoped to a connection may outlive it.
type timerSet struct {
	mu    sync.Mutex
	stops []func()
}

// add registers a stop func and returns it wrapped for idempotent use.
func (ts *timerSet) add(stop func()) func() {
	once := sync.OnceFunc(stop)
	ts.mu.Lock()
	ts.stops = append(ts.stops, once)
	ts.mu.Unlock()
	return once
}

// drain cancels everything registered so far.
func (ts *timerSet) drain() {
	ts.mu.Lock()
	stops := ts.stops
	ts.stops = nil
	ts.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
}
