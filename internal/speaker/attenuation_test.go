package speaker

import (
	"math"
	"testing"
)

func TestFadeDistance(t *testing.T) {
	s := Settings{MaxDistance: 32, FadeDivisor: 2, PriorityFadeDivisor: 4}

	tests := []struct {
		name string
		max  int32
		want int32
	}{
		{name: "normal range", max: 32, want: 16},
		{name: "shorter range", max: 8, want: 4},
		{name: "priority range", max: 64, want: 16},
		{name: "integer division", max: 33, want: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FadeDistance(tt.max, s); got != tt.want {
				t.Errorf("FadeDistance(%d) = %d, expected %d", tt.max, got, tt.want)
			}
		})
	}

	s.FadeDivisor = 0
	if got := FadeDistance(10, s); got != 10 {
		t.Errorf("expected zero divisor to be treated as 1, got %d", got)
	}
}

func TestFadePercentage(t *testing.T) {
	const fade, max = 16.0, 32.0

	if got := FadePercentage(0, fade, max); got != 1.0 {
		t.Errorf("expected full volume at the listener, got %f", got)
	}
	if got := FadePercentage(fade, fade, max); got != 1.0 {
		t.Errorf("expected full volume at fade distance, got %f", got)
	}
	if got := FadePercentage(max, fade, max); got != 0.0 {
		t.Errorf("expected silence at max distance, got %f", got)
	}
	if got := FadePercentage(24, fade, max); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("expected half volume midway, got %f", got)
	}
	if got := FadePercentage(40, fade, max); got != 0.0 {
		t.Errorf("expected clamp beyond max, got %f", got)
	}

	prev := 1.0
	for d := 0.0; d <= max; d += 0.25 {
		got := FadePercentage(d, fade, max)
		if got > prev {
			t.Fatalf("fade increased at distance %.2f: %f > %f", d, got, prev)
		}
		prev = got
	}
}

func TestOcclusionSmoothingRising(t *testing.T) {
	var a Attenuator
	a.Occlusion(0)

	prev := 0.0
	for i := 1; i <= 40; i++ {
		raw := math.Min(float64(i)/10, 1)
		got := a.Occlusion(raw)
		if got-prev > occlusionStep+1e-9 {
			t.Fatalf("packet %d: smoothed occlusion rose by %f", i, got-prev)
		}
		if got > raw+1e-9 {
			t.Fatalf("packet %d: smoothed occlusion %f overshot raw %f", i, got, raw)
		}
		prev = got
	}
	if math.Abs(prev-1.0) > 1e-9 {
		t.Errorf("expected smoothed occlusion to reach 1, got %f", prev)
	}
}

func TestOcclusionSmoothingFalling(t *testing.T) {
	var a Attenuator
	a.Occlusion(1)

	// Never below the raw sample, never faster than one step.
	if got := a.Occlusion(0.98); math.Abs(got-0.98) > 1e-9 {
		t.Errorf("expected to settle on raw sample 0.98, got %f", got)
	}
	if got := a.Occlusion(0); math.Abs(got-0.93) > 1e-9 {
		t.Errorf("expected step down to 0.93, got %f", got)
	}
}

func TestOcclusionFirstSample(t *testing.T) {
	var a Attenuator
	if _, ok := a.Last(); ok {
		t.Fatal("expected uninitialized occlusion")
	}
	if got := a.Occlusion(0.7); got != 0.7 {
		t.Errorf("expected first sample to be used as is, got %f", got)
	}
	a.Reset()
	if got := a.Occlusion(0.2); got != 0.2 {
		t.Errorf("expected reset to drop history, got %f", got)
	}
	if got := a.Occlusion(-3); math.Abs(got-0.15) > 1e-9 {
		t.Errorf("expected out-of-range sample to be clamped, got %f", got)
	}
}

func TestPercentageToDB(t *testing.T) {
	if got := PercentageToDB(1); got != 0 {
		t.Errorf("expected 0 dB at unity, got %f", got)
	}
	if got := PercentageToDB(0.1); math.Abs(got+20) > 1e-9 {
		t.Errorf("expected -20 dB at 0.1, got %f", got)
	}
	if got := PercentageToDB(0); !math.IsInf(got, -1) {
		t.Errorf("expected -Inf at silence, got %f", got)
	}

	gc := newGainControl(-80, 6)
	if got := ClampGain(PercentageToDB(0), gc); got != -80 {
		t.Errorf("expected clamp to -80, got %f", got)
	}
	if got := ClampGain(PercentageToDB(4), gc); got != 6 {
		t.Errorf("expected clamp to 6, got %f", got)
	}
}

func TestStereoVolume(t *testing.T) {
	tests := []struct {
		name        string
		listener    Pose
		source      Vec3
		left, right float64
	}{
		{name: "ahead", source: Vec3{Z: 10}, left: 1, right: 1},
		{name: "behind", source: Vec3{Z: -10}, left: 1, right: 1},
		{name: "right", source: Vec3{X: 10}, left: 0, right: 1},
		{name: "left", source: Vec3{X: -10}, left: 1, right: 0},
		{name: "on top of listener", source: Vec3{Y: 3}, left: 1, right: 1},
		{name: "turned right, source ahead is left", listener: Pose{Yaw: 90}, source: Vec3{Z: 10}, left: 1, right: 0},
		{name: "diagonal", source: Vec3{X: 10, Z: 10}, left: math.Sqrt(1 - math.Sqrt2/2), right: 1},
		{name: "offset listener", listener: Pose{Position: Vec3{X: 5}}, source: Vec3{X: 15}, left: 0, right: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, r := StereoVolume(tt.listener, tt.source)
			if math.Abs(l-tt.left) > 1e-9 || math.Abs(r-tt.right) > 1e-9 {
				t.Errorf("expected L=%.3f R=%.3f, got L=%.3f R=%.3f", tt.left, tt.right, l, r)
			}
		})
	}
}

func TestToStereo(t *testing.T) {
	out := ToStereo([]int16{100, -200, 30000}, 0.5, 2)
	want := []int16{50, 200, -100, -400, 15000, math.MaxInt16}
	if len(out) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(out))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d: expected %d, got %d", i, want[i], out[i])
		}
	}
}
