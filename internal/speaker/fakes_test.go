package speaker

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	testAudioValue = 1000
	testPLCValue   = 500
)

type fakeDecoder struct {
	mu       sync.Mutex
	payloads [][]byte
	plc      int
	closed   int
	failOn   string
}

func (d *fakeDecoder) Decode(data []byte) ([]int16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	value := int16(testAudioValue)
	if data == nil {
		d.plc++
		value = testPLCValue
	} else {
		if d.failOn != "" && string(data) == d.failOn {
			return nil, errors.New("corrupt frame")
		}
		d.payloads = append(d.payloads, data)
	}
	pcm := make([]int16, DefaultFrameSize)
	for i := range pcm {
		pcm[i] = value
	}
	return pcm, nil
}

func (d *fakeDecoder) Close() error {
	d.mu.Lock()
	d.closed++
	d.mu.Unlock()
	return nil
}

func (d *fakeDecoder) counts() (decoded, plc, closed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.payloads), d.plc, d.closed
}

// fakeLine never blocks; it tracks how many samples are queued so tests can
// script headroom.
type fakeLine struct {
	mu       sync.Mutex
	capacity int
	queued   int
	writes   [][]int16
	started  bool
	opened   bool
	closed   int
	stops    int
	flushes  int
	gain     *gainControl
	openErr  error
}

func newFakeLine(capacity int) *fakeLine {
	return &fakeLine{
		capacity: capacity,
		gain:     newGainControl(DefaultMinGain, DefaultMaxGain),
	}
}

func (l *fakeLine) Open(Format) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.openErr != nil {
		return l.openErr
	}
	l.opened = true
	return nil
}

func (l *fakeLine) Write(samples []int16) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed > 0 {
		return 0, ErrLineClosed
	}
	cp := make([]int16, len(samples))
	copy(cp, samples)
	l.writes = append(l.writes, cp)
	l.queued = min(l.capacity, l.queued+len(samples))
	return len(samples), nil
}

func (l *fakeLine) Available() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.capacity - l.queued
}

func (l *fakeLine) BufferSize() int {
	return l.capacity
}

func (l *fakeLine) Start() {
	l.mu.Lock()
	l.started = true
	l.mu.Unlock()
}

func (l *fakeLine) Stop() {
	l.mu.Lock()
	l.started = false
	l.stops++
	l.mu.Unlock()
}

func (l *fakeLine) Flush() {
	l.mu.Lock()
	l.queued = 0
	l.flushes++
	l.mu.Unlock()
}

func (l *fakeLine) IsActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started
}

func (l *fakeLine) Gain() GainControl {
	return l.gain
}

func (l *fakeLine) Close() error {
	l.mu.Lock()
	l.closed++
	l.started = false
	l.mu.Unlock()
	return nil
}

func (l *fakeLine) drain() {
	l.mu.Lock()
	l.queued = 0
	l.mu.Unlock()
}

func (l *fakeLine) writeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.writes)
}

type fakeDevices struct {
	mu    sync.Mutex
	lines []*fakeLine
	err   error
	size  int
	calls int
}

func (d *fakeDevices) Line() (OutputLine, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	size := d.size
	if size == 0 {
		size = DefaultFrameSize * lineChannels * 64
	}
	l := newFakeLine(size)
	d.lines = append(d.lines, l)
	return l, nil
}

type fakeWorld struct {
	mu        sync.Mutex
	listener  Pose
	sources   map[uuid.UUID]Vec3
	occlusion float64
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{sources: make(map[uuid.UUID]Vec3)}
}

func (w *fakeWorld) Listener() Pose {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.listener
}

func (w *fakeWorld) SourcePosition(id uuid.UUID) (Vec3, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	pos, ok := w.sources[id]
	return pos, ok
}

func (w *fakeWorld) OccludedPercent(uuid.UUID, Vec3, Vec3) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.occlusion
}

func (w *fakeWorld) place(id uuid.UUID, pos Vec3) {
	w.mu.Lock()
	w.sources[id] = pos
	w.mu.Unlock()
}

func (w *fakeWorld) remove(id uuid.UUID) {
	w.mu.Lock()
	delete(w.sources, id)
	w.mu.Unlock()
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func (d *fakeDevices) opened() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}
