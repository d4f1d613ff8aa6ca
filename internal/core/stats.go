package core

import "time"

// Quality is the coarse connection quality tier derived from sampled stats.
type Quality string

const (
	QualityUnknown   Quality = "unknown"
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
	QualityFailed    Quality = "failed"
)

// ConnectionStats is a point-in-time snapshot. It is always replaced
// wholesale on a sampling tick, never partially updated.
type ConnectionStats struct {
	PacketsSent     uint64        `json:"packets_sent"`
	PacketsReceived uint64        `json:"packets_received"`
	BytesSent       uint64        `json:"bytes_sent"`
	BytesReceived   uint64        `json:"bytes_received"`
	PacketsLost     int64         `json:"packets_lost"`
	LossRatio       float64       `json:"loss_ratio"`
	JitterMs        float64       `json:"jitter_ms"`
	RTTMs           float64       `json:"rtt_ms"`
	ChannelState    string        `json:"channel_state"`
	Quality         Quality       `json:"quality"`
	NegotiationMs   int64         `json:"negotiation_ms"`
	Timestamp       time.Time     `json:"timestamp"`
	SampleDuration  time.Duration `json:"-"`
}

// ClassifyQuality maps raw measurements to a tier. Thresholds follow the
// usual VoIP guidance: loss dominates, then round-trip time, then jitter.
func ClassifyQuality(lossRatio, rttMs, jitterMs float64) Quality {
	switch {
	case lossRatio >= 0.25:
		return QualityFailed
	case lossRatio >= 0.10 || rttMs >= 600 || jitterMs >= 100:
		return QualityPoor
	case lossRatio >= 0.03 || rttMs >= 300 || jitterMs >= 50:
		return QualityFair
	case lossRatio >= 0.01 || rttMs >= 150 || jitterMs >= 25:
		return QualityGood
	default:
		return QualityExcellent
	}
}
