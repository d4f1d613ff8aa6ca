package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicelink/internal/core"
)

type qualityChange struct {
	prev, cur core.Quality
}

// Quality wandering Good -> Poor -> Good over five polls notifies exactly
// twice, once per actual transition.
func TestMonitorNotifiesOnlyOnChange(t *testing.T) {
	sequence := []core.Quality{
		core.QualityGood,
		core.QualityGood,
		core.QualityPoor,
		core.QualityPoor,
		core.QualityGood,
	}
	i := 0
	var changes []qualityChange
	mon := NewQualityMonitor(time.Hour, func() core.ConnectionStats {
		q := sequence[i]
		i++
		return core.ConnectionStats{Quality: q}
	}, func(prev, cur core.Quality) {
		changes = append(changes, qualityChange{prev, cur})
	})

	// Seed past the initial unknown -> good transition.
	mon.Tick()
	require.Len(t, changes, 1)
	changes = changes[:0]

	for range sequence[1:] {
		mon.Tick()
	}

	require.Equal(t, []qualityChange{
		{core.QualityGood, core.QualityPoor},
		{core.QualityPoor, core.QualityGood},
	}, changes)
}

func TestMonitorEmptyQualityReadsAsUnknown(t *testing.T) {
	calls := 0
	mon := NewQualityMonitor(time.Hour, func() core.ConnectionStats {
		return core.ConnectionStats{}
	}, func(core.Quality, core.Quality) { calls++ })

	mon.Tick()
	mon.Tick()
	require.Zero(t, calls)
}

func TestMonitorStartStopIdempotent(t *testing.T) {
	mon := NewQualityMonitor(time.Millisecond, func() core.ConnectionStats {
		return core.ConnectionStats{Quality: core.QualityGood}
	}, nil)
	mon.Start()
	mon.Start()
	time.Sleep(5 * time.Millisecond)
	mon.Stop()
	mon.Stop()
}
