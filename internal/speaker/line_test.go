package speaker

import (
	"errors"
	"testing"
	"time"
)

var testFormat = Format{SampleRate: 48000, Channels: 2, FrameSize: 4}

func TestBufferedLineOpen(t *testing.T) {
	l := NewBufferedLine(0, nil)
	if _, err := l.Write([]int16{1}); !errors.Is(err, ErrLineNotOpen) {
		t.Errorf("expected ErrLineNotOpen, got %v", err)
	}
	if err := l.Open(Format{}); err == nil {
		t.Error("expected invalid format to fail")
	}
	if err := l.Open(testFormat); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if got := l.BufferSize(); got != testFormat.FrameSamples()*8 {
		t.Errorf("expected default size of 8 frames, got %d", got)
	}
	if l.Available() != l.BufferSize() {
		t.Error("expected empty line")
	}
}

func TestBufferedLineReadWrite(t *testing.T) {
	l := NewBufferedLine(6, nil)
	if err := l.Open(testFormat); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// Stopped and full: partial write instead of blocking.
	n, err := l.Write([]int16{1, 2, 3, 4, 5, 6, 7, 8})
	if err != nil || n != 6 {
		t.Fatalf("expected partial write of 6, got n=%d err=%v", n, err)
	}

	out := make([]int16, 4)
	if got := l.Read(out); got != 0 {
		t.Errorf("stopped line must not drain, read %d", got)
	}

	l.Start()
	if !l.IsActive() {
		t.Error("expected started line to be active")
	}
	if got := l.Read(out); got != 4 {
		t.Fatalf("expected 4 samples, got %d", got)
	}
	for i, want := range []int16{1, 2, 3, 4} {
		if out[i] != want {
			t.Errorf("sample %d: expected %d, got %d", i, want, out[i])
		}
	}

	// Wraps around the ring.
	if n, err := l.Write([]int16{9, 10, 11}); err != nil || n != 3 {
		t.Fatalf("expected write of 3, got n=%d err=%v", n, err)
	}
	out = make([]int16, 8)
	if got := l.Read(out); got != 5 {
		t.Fatalf("expected 5 samples, got %d", got)
	}
	want := []int16{5, 6, 9, 10, 11, 0, 0, 0}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d: expected %d, got %d", i, want[i], out[i])
		}
	}
}

func TestBufferedLineWriteBlocksUntilDrained(t *testing.T) {
	l := NewBufferedLine(4, nil)
	if err := l.Open(testFormat); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	l.Start()
	l.Write([]int16{1, 2, 3, 4})

	done := make(chan int)
	go func() {
		n, _ := l.Write([]int16{5, 6})
		done <- n
	}()

	select {
	case <-done:
		t.Fatal("write on a full started line should block")
	case <-time.After(20 * time.Millisecond):
	}

	l.Read(make([]int16, 2))
	select {
	case n := <-done:
		if n != 2 {
			t.Errorf("expected 2 samples written, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("write did not resume after drain")
	}
}

func TestBufferedLineCloseUnblocksWriter(t *testing.T) {
	closes := 0
	l := NewBufferedLine(2, func() error {
		closes++
		return nil
	})
	if err := l.Open(testFormat); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	l.Start()
	l.Write([]int16{1, 2})

	errc := make(chan error)
	go func() {
		_, err := l.Write([]int16{3})
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	select {
	case err := <-errc:
		if !errors.Is(err, ErrLineClosed) {
			t.Errorf("expected ErrLineClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("close did not unblock writer")
	}

	if err := l.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if closes != 1 {
		t.Errorf("expected release hook to run once, got %d", closes)
	}
	if err := l.Open(testFormat); !errors.Is(err, ErrLineClosed) {
		t.Errorf("expected reopen to fail, got %v", err)
	}
}

func TestBufferedLineFlushAndStop(t *testing.T) {
	l := NewBufferedLine(8, nil)
	if err := l.Open(testFormat); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	l.Start()
	l.Write([]int16{1, 2, 3})
	l.Stop()
	if l.IsActive() {
		t.Error("expected stopped line to be inactive")
	}
	l.Flush()
	if l.Available() != 8 {
		t.Errorf("expected flushed line to be empty, available=%d", l.Available())
	}
}

func TestBufferedLineGain(t *testing.T) {
	l := NewBufferedLine(4, nil)
	if err := l.Open(testFormat); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	l.Gain().Set(-20)
	l.Start()
	l.Write([]int16{1000, -1000})

	out := make([]int16, 2)
	l.Read(out)
	if out[0] < 99 || out[0] > 100 || out[1] > -99 || out[1] < -100 {
		t.Errorf("expected -20 dB to scale by 0.1, got %v", out)
	}

	l.Gain().Set(100)
	if got := l.Gain().Value(); got != DefaultMaxGain {
		t.Errorf("expected gain clamp to %f, got %f", DefaultMaxGain, got)
	}
}
