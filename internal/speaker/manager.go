package speaker

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const defaultReapInterval = time.Second

// Manager owns the engines of a session, one per remote source, and the
// registry of who is talking.
type Manager struct {
	mu      sync.Mutex
	engines map[uuid.UUID]*Engine
	closed  bool

	cfg        Config
	devices    Devices
	world      World
	newDecoder func() (Decoder, error)
	talking    *Talking

	settings     atomic.Pointer[Settings]
	suppressed   atomic.Bool
	reapInterval time.Duration
	retired      Stats
}

// NewManager creates a manager. newDecoder is called once per new source.
func NewManager(cfg Config, devices Devices, world World, newDecoder func() (Decoder, error)) *Manager {
	m := &Manager{
		engines:      make(map[uuid.UUID]*Engine),
		cfg:          cfg,
		devices:      devices,
		world:        world,
		newDecoder:   newDecoder,
		talking:      NewTalking(),
		reapInterval: defaultReapInterval,
	}
	s := DefaultSettings()
	m.settings.Store(&s)
	return m
}

func (m *Manager) Talking() *Talking {
	return m.talking
}

func (m *Manager) Settings() Settings {
	return *m.settings.Load()
}

func (m *Manager) SetSettings(s Settings) {
	m.settings.Store(&s)
}

// SetSuppressed mutes all playback while keeping streams alive, e.g. while
// the user is testing their microphone.
func (m *Manager) SetSuppressed(suppressed bool) {
	m.suppressed.Store(suppressed)
}

func (m *Manager) Suppressed() bool {
	return m.suppressed.Load()
}

// Deliver routes a packet to the source's engine, creating it on first
// audio. A stop packet for an unknown source is dropped. A source whose
// engine failed to open a line stays silent until its stop signal or the
// kill timeout, so a broken device is not reopened for every packet.
func (m *Manager) Deliver(id uuid.UUID, p Packet) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.IsStop() {
		m.talking.Remove(id)
		e := m.engines[id]
		if e == nil {
			return
		}
		if e.Failed() {
			m.retireLocked(id, e)
			return
		}
		e.Enqueue(&p)
		return
	}

	e := m.engineLocked(id)
	if e == nil {
		return
	}
	m.talking.Add(id)
	e.Enqueue(&p)
}

func (m *Manager) engineLocked(id uuid.UUID) *Engine {
	if m.closed {
		return nil
	}
	if e, ok := m.engines[id]; ok {
		switch {
		case !e.IsClosed():
			return e
		case e.Failed() && !e.CanKill():
			return nil
		}
		m.retireLocked(id, e)
	}

	dec, err := m.newDecoder()
	if err != nil {
		log.Printf("[SPEAKER] %s: failed to create decoder: %v", id, err)
		return nil
	}
	e := NewEngine(id, m.cfg, Deps{
		Decoder:    dec,
		Devices:    m.devices,
		World:      m.world,
		Talking:    m.talking,
		Settings:   m.Settings,
		Suppressed: m.Suppressed,
	})
	m.engines[id] = e
	e.Start()
	log.Printf("[SPEAKER] %s: playback started", id)
	return e
}

func (m *Manager) retireLocked(id uuid.UUID, e *Engine) {
	if err := e.Close(); err != nil {
		log.Printf("[SPEAKER] %s: close failed: %v", id, err)
	}
	s := e.Stats()
	m.retired.played.Add(s.Played)
	m.retired.concealed.Add(s.Concealed)
	m.retired.stale.Add(s.Stale)
	m.retired.gapsSkipped.Add(s.GapsSkipped)
	m.retired.resets.Add(s.Resets)
	m.retired.decodeErrors.Add(s.DecodeErrors)
	delete(m.engines, id)
	m.talking.Remove(id)
}

// Reap closes engines whose source went silent for the kill timeout or
// whose loop has ended, and returns how many were removed.
func (m *Manager) Reap() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, e := range m.engines {
		if e.CanKill() || (e.IsClosed() && !e.Failed()) {
			m.retireLocked(id, e)
			n++
		}
	}
	return n
}

// Run reaps periodically until ctx is done, then closes every engine.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Close()
			return ctx.Err()
		case <-ticker.C:
			if n := m.Reap(); n > 0 {
				log.Printf("[SPEAKER] Reaped %d idle speaker(s)", n)
			}
		}
	}
}

// Active returns the number of live engines.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.engines {
		if !e.IsClosed() {
			n++
		}
	}
	return n
}

// Stats sums the counters of live and retired engines.
func (m *Manager) Stats() StatsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := m.retired.Snapshot()
	for _, e := range m.engines {
		total = total.Add(e.Stats())
	}
	return total
}

// Close shuts every engine down. The manager accepts no packets afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for id, e := range m.engines {
		m.retireLocked(id, e)
	}
	return nil
}
