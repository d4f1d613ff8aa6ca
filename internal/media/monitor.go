package media

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicelink/internal/core"
)

// DefaultMonitorInterval is the quality poll period.
const DefaultMonitorInterval = 2 * time.Second

// QualityMonitor periodically reads the transport's statistics and fires
// a notification only when the classification actually changes from the
// previous tick. Stable connections produce no notification traffic.
type QualityMonitor struct {
	interval time.Duration
	stats    func() core.ConnectionStats
	notify   func(prev, cur core.Quality)
	logger   zerolog.Logger

	mu   sync.Mutex
	last core.Quality
	stop chan struct{}
}

func NewQualityMonitor(interval time.Duration, stats func() core.ConnectionStats, notify func(prev, cur core.Quality)) *QualityMonitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return &QualityMonitor{
		interval: interval,
		stats:    stats,
		notify:   notify,
		logger:   log.With().Str("module", "media.monitor").Logger(),
		last:     core.QualityUnknown,
	}
}

func (q *QualityMonitor) Start() {
	q.mu.Lock()
	if q.stop != nil {
		q.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	q.stop = stop
	q.mu.Unlock()

	go q.loop(stop)
}

func (q *QualityMonitor) Stop() {
	q.mu.Lock()
	stop := q.stop
	q.stop = nil
	q.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (q *QualityMonitor) loop(stop chan struct{}) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			q.Tick()
		}
	}
}

// Tick runs one poll. Exposed so tests can drive the monitor without a
// real clock.
func (q *QualityMonitor) Tick() {
	cur := q.stats().Quality
	if cur == "" {
		cur = core.QualityUnknown
	}

	q.mu.Lock()
	prev := q.last
	q.last = cur
	q.mu.Unlock()

	if prev == cur {
		return
	}
	q.logger.Info().Str("from", string(prev)).Str("to", string(cur)).Msg("quality changed")
	if q.notify != nil {
		q.notify(prev, cur)
	}
}
