package speaker

import "math"

const occlusionStep = 0.05

// Vec3 is a world-space position.
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

func (v Vec3) Len() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

func (v Vec3) DistanceTo(o Vec3) float64 {
	return v.Sub(o).Len()
}

// Pose is the listener's position and facing. Yaw is in degrees; yaw 0
// faces +Z with +X to the right.
type Pose struct {
	Position Vec3
	Yaw      float64
}

// Settings are the playback parameters shared by all engines of a session.
// MaxDistance and the fade divisors come from the server.
type Settings struct {
	MaxDistance         int32
	FadeDivisor         int32
	PriorityFadeDivisor int32
	Occlusion           bool
	Volume              float64
}

func DefaultSettings() Settings {
	return Settings{
		MaxDistance:         32,
		FadeDivisor:         2,
		PriorityFadeDivisor: 4,
		Occlusion:           true,
		Volume:              1.0,
	}
}

// FadeDistance returns the distance at which a source declared with
// maxDistance starts fading. Sources louder than the server's normal range
// use the priority divisor.
func FadeDistance(maxDistance int32, s Settings) int32 {
	divisor := s.FadeDivisor
	if maxDistance > s.MaxDistance {
		divisor = s.PriorityFadeDivisor
	}
	if divisor < 1 {
		divisor = 1
	}
	return maxDistance / divisor
}

// FadePercentage is the linear fade from 1 at fadeDistance to 0 at
// maxDistance.
func FadePercentage(distance, fadeDistance, maxDistance float64) float64 {
	if distance <= fadeDistance {
		return 1.0
	}
	span := maxDistance - fadeDistance
	if span <= 0 {
		return 0.0
	}
	return 1.0 - math.Min((distance-fadeDistance)/span, 1.0)
}

// PercentageToDB converts a linear volume factor to decibels. Zero maps to
// -Inf; callers clamp to the device range.
func PercentageToDB(p float64) float64 {
	if p <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(p)
}

// ClampGain clamps db into the control's range.
func ClampGain(db float64, gc GainControl) float64 {
	return math.Min(math.Max(db, gc.Min()), gc.Max())
}

// Attenuator holds the smoothed occlusion of one source.
type Attenuator struct {
	last    float64
	hasLast bool
}

// Occlusion smooths a raw occlusion sample. The first sample is taken as
// is; afterwards the value moves toward the sample by at most 0.05 per
// packet in either direction.
func (a *Attenuator) Occlusion(raw float64) float64 {
	raw = math.Min(math.Max(raw, 0), 1)
	if !a.hasLast {
		a.last = raw
		a.hasLast = true
		return raw
	}
	if raw > a.last {
		a.last = math.Min(a.last+occlusionStep, raw)
	} else {
		a.last = math.Max(a.last-occlusionStep, raw)
	}
	return a.last
}

// Last returns the current smoothed occlusion, if initialized.
func (a *Attenuator) Last() (float64, bool) {
	return a.last, a.hasLast
}

func (a *Attenuator) Reset() {
	a.last = 0
	a.hasLast = false
}

// StereoVolume returns left and right multipliers for a source heard by
// listener. Centered sources play at full volume on both sides; a source
// directly to one side silences the opposite channel.
func StereoVolume(listener Pose, source Vec3) (left, right float64) {
	d := source.Sub(listener.Position)
	horizontal := math.Hypot(d.X, d.Z)
	if horizontal < 1e-6 {
		return 1.0, 1.0
	}

	yaw := listener.Yaw * math.Pi / 180
	rightX, rightZ := math.Cos(yaw), -math.Sin(yaw)
	pan := (d.X*rightX + d.Z*rightZ) / horizontal
	pan = math.Min(math.Max(pan, -1), 1)

	left = math.Min(math.Sqrt(1-pan), 1)
	right = math.Min(math.Sqrt(1+pan), 1)
	return left, right
}

// ToStereo interleaves a mono frame into L/R samples scaled by the given
// multipliers, clipping to int16.
func ToStereo(mono []int16, left, right float64) []int16 {
	out := make([]int16, len(mono)*2)
	for i, s := range mono {
		v := float64(s)
		out[2*i] = clip16(v * left)
		out[2*i+1] = clip16(v * right)
	}
	return out
}

func clip16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
