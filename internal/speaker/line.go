package speaker

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
)

var (
	ErrLineClosed  = errors.New("output line closed")
	ErrLineNotOpen = errors.New("output line not open")
	ErrNoDevice    = errors.New("no output device available")
)

// Format is the PCM layout of a line. FrameSize is samples per channel in
// one codec frame.
type Format struct {
	SampleRate int
	Channels   int
	FrameSize  int
}

// FrameSamples is the number of interleaved samples in one frame.
func (f Format) FrameSamples() int {
	return f.FrameSize * f.Channels
}

// GainControl is a master gain in decibels.
type GainControl interface {
	Min() float64
	Max() float64
	Value() float64
	Set(db float64)
}

// OutputLine is a buffered playback line. Sizes are in int16 samples.
type OutputLine interface {
	Open(format Format) error
	// Write queues samples, blocking while a started line is full.
	Write(samples []int16) (int, error)
	// Available is the free space in the buffer.
	Available() int
	BufferSize() int
	Start()
	Stop()
	Flush()
	IsActive() bool
	Gain() GainControl
	Close() error
}

// Devices hands out output lines, one per engine.
type Devices interface {
	Line() (OutputLine, error)
}

type gainControl struct {
	min, max float64
	bits     atomic.Uint64
}

func newGainControl(min, max float64) *gainControl {
	gc := &gainControl{min: min, max: max}
	gc.bits.Store(math.Float64bits(0))
	return gc
}

func (g *gainControl) Min() float64 { return g.min }
func (g *gainControl) Max() float64 { return g.max }

func (g *gainControl) Value() float64 {
	return math.Float64frombits(g.bits.Load())
}

func (g *gainControl) Set(db float64) {
	if math.IsNaN(db) {
		return
	}
	db = math.Min(math.Max(db, g.min), g.max)
	g.bits.Store(math.Float64bits(db))
}

func (g *gainControl) linear() float64 {
	return math.Pow(10, g.Value()/20)
}

// BufferedLine is an OutputLine backed by a ring buffer. A device callback
// drains it with Read; the engine fills it with Write.
type BufferedLine struct {
	mu       sync.Mutex
	cond     *sync.Cond
	ring     []int16
	head     int
	size     int
	capacity int
	format   Format
	open     bool
	started  bool
	closed   bool
	gain     *gainControl
	onClose  func() error
}

const (
	DefaultMinGain = -80.0
	DefaultMaxGain = 6.0206
)

// NewBufferedLine creates a line holding capacity samples. A capacity of
// zero sizes the buffer to eight frames when the line is opened. onClose,
// if set, runs once when the line is closed.
func NewBufferedLine(capacity int, onClose func() error) *BufferedLine {
	l := &BufferedLine{
		capacity: capacity,
		gain:     newGainControl(DefaultMinGain, DefaultMaxGain),
		onClose:  onClose,
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *BufferedLine) Open(format Format) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLineClosed
	}
	if format.Channels < 1 || format.FrameSize < 1 {
		return errors.New("invalid line format")
	}
	if l.capacity <= 0 {
		l.capacity = format.FrameSamples() * 8
	}
	l.format = format
	l.ring = make([]int16, l.capacity)
	l.head, l.size = 0, 0
	l.open = true
	return nil
}

func (l *BufferedLine) Write(samples []int16) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	written := 0
	for written < len(samples) {
		if l.closed {
			return written, ErrLineClosed
		}
		if !l.open {
			return written, ErrLineNotOpen
		}
		free := l.capacity - l.size
		if free == 0 {
			if !l.started {
				return written, nil
			}
			l.cond.Wait()
			continue
		}
		n := min(free, len(samples)-written)
		tail := (l.head + l.size) % l.capacity
		first := min(n, l.capacity-tail)
		copy(l.ring[tail:], samples[written:written+first])
		copy(l.ring, samples[written+first:written+n])
		l.size += n
		written += n
	}
	return written, nil
}

// Read drains up to len(out) samples with the master gain applied and
// zero-fills the rest. A stopped line yields silence and keeps its data.
func (l *BufferedLine) Read(out []int16) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	if l.started && !l.closed && l.size > 0 {
		n = min(l.size, len(out))
		gain := l.gain.linear()
		for i := 0; i < n; i++ {
			s := l.ring[(l.head+i)%l.capacity]
			if gain != 1.0 {
				out[i] = clip16(float64(s) * gain)
			} else {
				out[i] = s
			}
		}
		l.head = (l.head + n) % l.capacity
		l.size -= n
		l.cond.Broadcast()
	}
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	return n
}

func (l *BufferedLine) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capacity - l.size
}

func (l *BufferedLine) BufferSize() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capacity
}

func (l *BufferedLine) Format() Format {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.format
}

func (l *BufferedLine) Start() {
	l.mu.Lock()
	l.started = true
	l.mu.Unlock()
}

func (l *BufferedLine) Stop() {
	l.mu.Lock()
	l.started = false
	l.cond.Broadcast()
	l.mu.Unlock()
}

func (l *BufferedLine) Flush() {
	l.mu.Lock()
	l.head, l.size = 0, 0
	l.cond.Broadcast()
	l.mu.Unlock()
}

func (l *BufferedLine) IsActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started && !l.closed
}

func (l *BufferedLine) Gain() GainControl {
	return l.gain
}

func (l *BufferedLine) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.started = false
	l.cond.Broadcast()
	onClose := l.onClose
	l.mu.Unlock()

	if onClose != nil {
		return onClose()
	}
	return nil
}
