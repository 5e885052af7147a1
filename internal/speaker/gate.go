package speaker

// Verdict is the gate's decision for an arriving packet.
type Verdict uint8

const (
	VerdictPlay Verdict = iota
	VerdictStale
	VerdictStop
)

func (v Verdict) String() string {
	switch v {
	case VerdictPlay:
		return "play"
	case VerdictStale:
		return "stale"
	case VerdictStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Admission is the result of Gate.Admit.
type Admission struct {
	Verdict Verdict
	// Conceal is how many missing frames should be synthesized before the
	// packet is played. Zero unless the verdict is VerdictPlay.
	Conceal int
	// Gap is the number of missing sequence slots, even when it was too
	// large to conceal.
	Gap uint64
}

// Gate tracks the last played sequence number of one source. It does not
// reorder: packets are judged in arrival order against the last one played.
type Gate struct {
	maxConceal int
	last       uint64
	active     bool
}

// NewGate returns a gate that conceals gaps smaller than maxConceal.
func NewGate(maxConceal int) *Gate {
	if maxConceal < 0 {
		maxConceal = 0
	}
	return &Gate{maxConceal: maxConceal}
}

// Admit classifies p without changing gate state.
func (g *Gate) Admit(p Packet) Admission {
	if p.IsStop() {
		return Admission{Verdict: VerdictStop}
	}
	if !g.active {
		return Admission{Verdict: VerdictPlay}
	}
	if p.Sequence <= g.last {
		return Admission{Verdict: VerdictStale}
	}

	gap := p.Sequence - (g.last + 1)
	adm := Admission{Verdict: VerdictPlay, Gap: gap}
	if gap > 0 && gap < uint64(g.maxConceal) {
		adm.Conceal = int(gap)
	}
	return adm
}

// Advance records seq as the last played packet.
func (g *Gate) Advance(seq uint64) {
	g.last = seq
	g.active = true
}

// Reset drops the sequence baseline; the next packet is treated as first.
func (g *Gate) Reset() {
	g.last = 0
	g.active = false
}

// Last returns the last played sequence number, if a stream is active.
func (g *Gate) Last() (uint64, bool) {
	return g.last, g.active
}
