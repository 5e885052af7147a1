package speaker

import "sync/atomic"

// Stats counts what an engine did with its packets. Counters are written by
// the engine goroutine and may be read from anywhere.
type Stats struct {
	played       atomic.Uint64
	concealed    atomic.Uint64
	stale        atomic.Uint64
	gapsSkipped  atomic.Uint64
	resets       atomic.Uint64
	decodeErrors atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Played       uint64
	Concealed    uint64
	Stale        uint64
	GapsSkipped  uint64
	Resets       uint64
	DecodeErrors uint64
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Played:       s.played.Load(),
		Concealed:    s.concealed.Load(),
		Stale:        s.stale.Load(),
		GapsSkipped:  s.gapsSkipped.Load(),
		Resets:       s.resets.Load(),
		DecodeErrors: s.decodeErrors.Load(),
	}
}

func (s StatsSnapshot) Add(o StatsSnapshot) StatsSnapshot {
	return StatsSnapshot{
		Played:       s.Played + o.Played,
		Concealed:    s.Concealed + o.Concealed,
		Stale:        s.Stale + o.Stale,
		GapsSkipped:  s.GapsSkipped + o.GapsSkipped,
		Resets:       s.Resets + o.Resets,
		DecodeErrors: s.DecodeErrors + o.DecodeErrors,
	}
}

// ConcealedPercent is the share of played frames that were synthesized
// (0-100).
func (s StatsSnapshot) ConcealedPercent() float64 {
	total := s.Played + s.Concealed
	if total == 0 {
		return 0.0
	}
	return float64(s.Concealed) / float64(total) * 100.0
}

// Quality returns a rating: "Excellent", "Good", "Fair", "Poor".
func (s StatsSnapshot) Quality() string {
	loss := s.ConcealedPercent()

	if loss < 1.0 {
		return "Excellent"
	} else if loss < 3.0 {
		return "Good"
	} else if loss < 10.0 {
		return "Fair"
	}
	return "Poor"
}
