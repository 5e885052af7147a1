package speaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type managerHarness struct {
	m       *Manager
	world   *fakeWorld
	devices *fakeDevices
	clock   *fakeClock
	decs    []*fakeDecoder
}

func newManagerHarness(t *testing.T) *managerHarness {
	t.Helper()
	h := &managerHarness{
		world:   newFakeWorld(),
		devices: &fakeDevices{},
		clock:   newFakeClock(),
	}
	cfg := DefaultConfig()
	cfg.Clock = h.clock.Now
	h.m = NewManager(cfg, h.devices, h.world, func() (Decoder, error) {
		d := &fakeDecoder{}
		h.decs = append(h.decs, d)
		return d, nil
	})
	t.Cleanup(func() { h.m.Close() })
	return h
}

func TestManagerDeliverCreatesOneEnginePerSource(t *testing.T) {
	h := newManagerHarness(t)
	a, b := uuid.New(), uuid.New()
	h.world.place(a, Vec3{Z: 1})
	h.world.place(b, Vec3{X: 2})

	h.m.Deliver(a, AudioPacket(1, 32, []byte{1}))
	h.m.Deliver(a, AudioPacket(2, 32, []byte{2}))
	h.m.Deliver(b, AudioPacket(7, 32, []byte{7}))

	if got := h.m.Active(); got != 2 {
		t.Fatalf("expected 2 engines, got %d", got)
	}
	if !h.m.Talking().Contains(a) || !h.m.Talking().Contains(b) {
		t.Error("expected both sources to be talking")
	}

	waitFor(t, func() bool { return h.m.Stats().Played == 3 })
}

func TestManagerStopPacket(t *testing.T) {
	h := newManagerHarness(t)
	id := uuid.New()
	h.world.place(id, Vec3{Z: 1})

	h.m.Deliver(uuid.New(), StopPacket(32))
	if h.m.Active() != 0 {
		t.Error("stop for an unknown source must not create an engine")
	}

	h.m.Deliver(id, AudioPacket(1, 32, []byte{1}))
	h.m.Deliver(id, StopPacket(32))
	if h.m.Talking().Contains(id) {
		t.Error("expected stop to clear talking state")
	}
	waitFor(t, func() bool { return h.m.Stats().Resets == 1 })
}

func TestManagerReap(t *testing.T) {
	h := newManagerHarness(t)
	id := uuid.New()
	h.world.place(id, Vec3{Z: 1})
	h.m.Deliver(id, AudioPacket(1, 32, []byte{1}))
	waitFor(t, func() bool { return h.m.Stats().Played == 1 })

	if n := h.m.Reap(); n != 0 {
		t.Fatalf("expected nothing reaped, got %d", n)
	}

	h.clock.Advance(31 * time.Second)
	if n := h.m.Reap(); n != 1 {
		t.Fatalf("expected 1 engine reaped, got %d", n)
	}
	if h.m.Active() != 0 || h.m.Talking().Contains(id) {
		t.Error("expected reaped source to be gone")
	}
	if _, _, closed := h.decs[0].counts(); closed != 1 {
		t.Errorf("expected decoder closed, got %d", closed)
	}
	if got := h.m.Stats().Played; got != 1 {
		t.Errorf("expected retired stats to be kept, got played=%d", got)
	}

	// The source comes back with a fresh engine.
	h.m.Deliver(id, AudioPacket(900, 32, []byte{1}))
	if h.m.Active() != 1 || len(h.decs) != 2 {
		t.Errorf("expected a new engine, active=%d decoders=%d", h.m.Active(), len(h.decs))
	}
}

func (h *managerHarness) failed(id uuid.UUID) bool {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	e := h.m.engines[id]
	return e != nil && e.Failed()
}

func TestManagerReapsFailedEngines(t *testing.T) {
	h := newManagerHarness(t)
	h.devices.err = errors.New("device busy")
	id := uuid.New()

	h.m.Deliver(id, AudioPacket(1, 32, []byte{1}))
	waitFor(t, func() bool { return h.failed(id) })

	if got := h.m.Reap(); got != 0 {
		t.Fatalf("failed engine reaped before kill timeout: %d", got)
	}
	if h.m.Active() != 0 {
		t.Error("failed engine counted as active")
	}
	h.clock.Advance(31 * time.Second)
	if got := h.m.Reap(); got != 1 {
		t.Fatalf("Reap = %d, want 1", got)
	}
}

func TestManagerFailedLineOpensOnce(t *testing.T) {
	h := newManagerHarness(t)
	h.devices.err = errors.New("device busy")
	id := uuid.New()

	h.m.Deliver(id, AudioPacket(1, 32, []byte{1}))
	waitFor(t, func() bool { return h.failed(id) })

	for seq := uint64(2); seq < 52; seq++ {
		h.m.Deliver(id, AudioPacket(seq, 32, []byte{byte(seq)}))
	}
	if got := h.devices.opened(); got != 1 {
		t.Fatalf("Line called %d times, want 1", got)
	}
	if len(h.decs) != 1 {
		t.Fatalf("created %d decoders, want 1", len(h.decs))
	}
	if h.m.Talking().Contains(id) {
		t.Error("failed source marked talking")
	}

	// The stop signal clears the failure so the next burst retries.
	h.m.Deliver(id, StopPacket(32))
	h.devices.mu.Lock()
	h.devices.err = nil
	h.devices.mu.Unlock()
	h.m.Deliver(id, AudioPacket(53, 32, []byte{53}))
	waitFor(t, func() bool { return h.devices.opened() == 2 })
	if h.m.Active() != 1 {
		t.Fatalf("Active = %d after retry, want 1", h.m.Active())
	}
}

func TestManagerTalkingSourcesHaveEngines(t *testing.T) {
	h := newManagerHarness(t)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			h.clock.Advance(31 * time.Second)
			h.m.Reap()
		}
	}()
	for seq := uint64(1); seq <= 200; seq++ {
		h.m.Deliver(ids[seq%3], AudioPacket(seq, 32, []byte{byte(seq)}))
	}
	<-done

	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	for _, id := range h.m.Talking().List() {
		if e := h.m.engines[id]; e == nil {
			t.Errorf("%s talking without an engine", id)
		}
	}
}

func TestManagerDecoderFailure(t *testing.T) {
	m := NewManager(DefaultConfig(), &fakeDevices{}, newFakeWorld(), func() (Decoder, error) {
		return nil, errors.New("codec unavailable")
	})
	defer m.Close()

	id := uuid.New()
	m.Deliver(id, AudioPacket(1, 32, []byte{1}))
	if m.Active() != 0 || m.Talking().Contains(id) {
		t.Error("expected no engine without a decoder")
	}
}

func TestManagerSettingsAndSuppression(t *testing.T) {
	h := newManagerHarness(t)

	s := h.m.Settings()
	s.Volume = 0.5
	s.Occlusion = false
	h.m.SetSettings(s)
	if got := h.m.Settings(); got.Volume != 0.5 || got.Occlusion {
		t.Errorf("settings not stored: %+v", got)
	}

	id := uuid.New()
	h.world.place(id, Vec3{Z: 1})
	h.m.SetSuppressed(true)
	h.m.Deliver(id, AudioPacket(1, 32, []byte{1}))

	time.Sleep(30 * time.Millisecond)
	if decoded, _, _ := h.decs[0].counts(); decoded != 0 {
		t.Errorf("expected suppressed playback, got %d decodes", decoded)
	}
}

func TestManagerRunClosesOnCancel(t *testing.T) {
	h := newManagerHarness(t)
	h.m.reapInterval = 5 * time.Millisecond
	id := uuid.New()
	h.world.place(id, Vec3{Z: 1})
	h.m.Deliver(id, AudioPacket(1, 32, []byte{1}))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.m.Run(ctx) }()

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}

	if h.m.Active() != 0 {
		t.Error("expected all engines closed")
	}
	h.m.Deliver(id, AudioPacket(2, 32, []byte{1}))
	if h.m.Active() != 0 {
		t.Error("closed manager must not create engines")
	}
}
