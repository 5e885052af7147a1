// Package speaker plays the voice stream of one remote source: it gates
// packets by sequence number, conceals short gaps with decoder PLC, applies
// distance fade, occlusion and stereo pan, and paces writes against an
// output line.
package speaker

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultSampleRate = 48000
	DefaultFrameSize  = 960
	lineChannels      = 2
)

// Decoder turns one compressed frame into mono PCM. A nil frame asks for a
// concealment frame extrapolated from the decoder's history.
type Decoder interface {
	Decode(data []byte) ([]int16, error)
	Close() error
}

// World answers position queries for the listener and remote sources.
type World interface {
	Listener() Pose
	// SourcePosition reports false when the source is not present.
	SourcePosition(id uuid.UUID) (Vec3, bool)
	// OccludedPercent is 0 for a clear line of sight and 1 when fully
	// blocked.
	OccludedPercent(id uuid.UUID, listener, source Vec3) float64
}

// Config holds the engine timing and buffering parameters.
type Config struct {
	Format Format
	// MaxConcealment is the smallest gap that is no longer concealed.
	MaxConcealment int
	// PreRollFrames of silence are queued when the line has drained.
	PreRollFrames int
	CloseAfter    time.Duration
	KillAfter     time.Duration
	IdleWait      time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

func DefaultConfig() Config {
	return Config{
		Format: Format{
			SampleRate: DefaultSampleRate,
			Channels:   lineChannels,
			FrameSize:  DefaultFrameSize,
		},
		MaxConcealment: 10,
		PreRollFrames:  6,
		CloseAfter:     time.Second,
		KillAfter:      30 * time.Second,
		IdleWait:       10 * time.Millisecond,
	}
}

// Deps are the collaborators of an engine.
type Deps struct {
	Decoder    Decoder
	Devices    Devices
	World      World
	Talking    *Talking
	Settings   func() Settings
	Suppressed func() bool
}

// Engine is the playback loop of one remote source. It is started once and
// cannot be reused after Close.
type Engine struct {
	id   uuid.UUID
	cfg  Config
	deps Deps
	now  func() time.Time

	queue *Queue
	gate  *Gate
	atten Attenuator
	stats Stats

	lineMu sync.Mutex
	line   OutputLine

	lastPacket atomic.Int64
	stopped    atomic.Bool
	started    atomic.Bool
	failed     atomic.Bool
	done       chan struct{}
	exited     chan struct{}
	closeOnce  sync.Once
	closeErr   error
}

func NewEngine(id uuid.UUID, cfg Config, deps Deps) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Format.Channels == 0 {
		cfg.Format.Channels = lineChannels
	}
	if deps.Settings == nil {
		deps.Settings = DefaultSettings
	}
	if deps.Suppressed == nil {
		deps.Suppressed = func() bool { return false }
	}
	if deps.Talking == nil {
		deps.Talking = NewTalking()
	}

	e := &Engine{
		id:     id,
		cfg:    cfg,
		deps:   deps,
		now:    cfg.Clock,
		queue:  NewQueue(),
		gate:   NewGate(cfg.MaxConcealment),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	// Start slightly in the past so a source that never plays can still be
	// closed promptly.
	e.lastPacket.Store(e.now().Add(-300 * time.Millisecond).UnixNano())
	return e
}

func (e *Engine) ID() uuid.UUID {
	return e.id
}

// Start launches the playback goroutine. Calls after the first are no-ops.
func (e *Engine) Start() {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	go e.run()
}

// Enqueue hands a packet to the engine. Safe for concurrent use.
func (e *Engine) Enqueue(p *Packet) {
	e.queue.Enqueue(p)
}

// CanClose reports whether the source has been silent long enough to stop
// the line.
func (e *Engine) CanClose() bool {
	return e.sinceLastPacket() > e.cfg.CloseAfter
}

// CanKill reports whether the source is presumed gone.
func (e *Engine) CanKill() bool {
	return e.sinceLastPacket() > e.cfg.KillAfter
}

func (e *Engine) sinceLastPacket() time.Duration {
	return e.now().Sub(time.Unix(0, e.lastPacket.Load()))
}

func (e *Engine) IsClosed() bool {
	return e.stopped.Load()
}

// Failed reports whether the engine ended because no output line could be
// opened.
func (e *Engine) Failed() bool {
	return e.failed.Load()
}

// Done is closed when the playback goroutine has exited.
func (e *Engine) Done() <-chan struct{} {
	return e.exited
}

func (e *Engine) Stats() StatsSnapshot {
	return e.stats.Snapshot()
}

// Close stops the loop and releases the line and decoder. It is safe to
// call more than once and from any goroutine.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.stopped.Store(true)
		close(e.done)

		e.lineMu.Lock()
		if e.line != nil {
			if err := e.line.Close(); err != nil {
				e.closeErr = err
			}
		}
		e.lineMu.Unlock()

		if e.deps.Decoder != nil {
			if err := e.deps.Decoder.Close(); err != nil && e.closeErr == nil {
				e.closeErr = err
			}
		}
		// Never started: claim the start so the goroutine can't run later.
		if e.started.CompareAndSwap(false, true) {
			close(e.exited)
		}
	})
	return e.closeErr
}

func (e *Engine) run() {
	defer close(e.exited)

	line, err := e.openLine()
	if err != nil {
		log.Printf("[SPEAKER] %s: failed to open speaker: %v", e.id, err)
		e.failed.Store(true)
		e.Close()
		return
	}

	timer := time.NewTimer(e.cfg.IdleWait)
	defer timer.Stop()

	for !e.stopped.Load() {
		if p, ok := e.queue.TryDequeue(); ok {
			e.process(line, p)
			continue
		}

		e.idle(line)

		timer.Reset(e.cfg.IdleWait)
		select {
		case <-e.queue.Wake():
		case <-timer.C:
		case <-e.done:
		}
	}
}

func (e *Engine) openLine() (OutputLine, error) {
	if e.deps.Devices == nil {
		return nil, ErrNoDevice
	}
	line, err := e.deps.Devices.Line()
	if err != nil {
		return nil, err
	}
	if line == nil {
		return nil, ErrNoDevice
	}
	if err := line.Open(e.cfg.Format); err != nil {
		line.Stop()
		line.Flush()
		line.Close()
		return nil, err
	}

	e.lineMu.Lock()
	defer e.lineMu.Unlock()
	if e.stopped.Load() {
		line.Close()
		return nil, ErrLineClosed
	}
	e.line = line
	return line, nil
}

func (e *Engine) process(line OutputLine, p Packet) {
	if p.IsStop() {
		line.Stop()
		line.Flush()
		e.reset()
		return
	}

	adm := e.gate.Admit(p)
	if adm.Verdict == VerdictStale {
		e.stats.stale.Add(1)
		return
	}
	e.lastPacket.Store(e.now().UnixNano())

	if e.deps.Suppressed() {
		return
	}

	e.preRoll(line)

	if e.deps.World == nil {
		e.reset()
		return
	}
	listener := e.deps.World.Listener()
	source, ok := e.deps.World.SourcePosition(e.id)
	if !ok {
		e.reset()
		return
	}

	maxDistance := float64(p.MaxDistance)
	distance := listener.Position.DistanceTo(source)
	if distance > maxDistance {
		e.reset()
		return
	}

	settings := e.deps.Settings()
	fade := FadeDistance(p.MaxDistance, settings)
	percentage := FadePercentage(distance, float64(fade), maxDistance)
	if settings.Occlusion {
		raw := e.deps.World.OccludedPercent(e.id, listener.Position, source)
		percentage *= 1 - e.atten.Occlusion(raw)
	}

	gain := line.Gain()
	gain.Set(ClampGain(PercentageToDB(percentage*settings.Volume), gain))

	left, right := StereoVolume(listener, source)

	if adm.Conceal > 0 {
		e.conceal(line, adm.Conceal, left, right)
	} else if adm.Gap > 0 {
		e.stats.gapsSkipped.Add(1)
	}
	e.gate.Advance(p.Sequence)

	pcm, err := e.deps.Decoder.Decode(p.Payload)
	if err != nil {
		if e.stats.decodeErrors.Add(1)%100 == 1 {
			log.Printf("[SPEAKER] %s: decode failed for seq %d: %v", e.id, p.Sequence, err)
		}
		pcm = make([]int16, e.cfg.Format.FrameSize)
	}
	e.write(line, pcm, left, right)
	e.stats.played.Add(1)
}

// conceal synthesizes up to n frames, stopping once the line has no room
// for another frame so the loop never blocks on it.
func (e *Engine) conceal(line OutputLine, n int, left, right float64) int {
	frame := e.cfg.Format.FrameSamples()
	done := 0
	for ; done < n; done++ {
		if line.Available() < frame {
			break
		}
		pcm, err := e.deps.Decoder.Decode(nil)
		if err != nil {
			pcm = make([]int16, e.cfg.Format.FrameSize)
		}
		e.write(line, pcm, left, right)
	}
	e.stats.concealed.Add(uint64(done))
	return done
}

// preRoll queues silence when the line has run dry so the next frames have
// slack against network jitter.
func (e *Engine) preRoll(line OutputLine) {
	size := line.BufferSize()
	if size-line.Available() > 0 {
		return
	}
	frame := e.cfg.Format.FrameSamples()
	n := min(frame*e.cfg.PreRollFrames, size-frame)
	if n <= 0 {
		return
	}
	if _, err := line.Write(make([]int16, n)); err != nil {
		log.Printf("[SPEAKER] %s: pre-roll write failed: %v", e.id, err)
	}
}

func (e *Engine) write(line OutputLine, mono []int16, left, right float64) {
	if len(mono) == 0 {
		return
	}
	stereo := ToStereo(mono, left, right)
	line.Start()
	if _, err := line.Write(stereo); err != nil && !e.stopped.Load() {
		log.Printf("[SPEAKER] %s: write failed: %v", e.id, err)
	}
}

func (e *Engine) idle(line OutputLine) {
	drained := line.BufferSize()-line.Available() <= 0
	if !drained || !line.IsActive() || !e.CanClose() {
		return
	}
	line.Stop()
	line.Flush()
	e.reset()
	e.deps.Talking.Remove(e.id)
	log.Printf("[SPEAKER] %s: stopped after silence", e.id)
}

// reset drops the sequence baseline and the smoothed occlusion together.
func (e *Engine) reset() {
	e.gate.Reset()
	e.atten.Reset()
	e.stats.resets.Add(1)
}
