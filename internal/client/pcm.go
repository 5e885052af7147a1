package client

import "math"

func fitSamples(samples []int16, frameSize int) []int16 {
	if frameSize <= 0 {
		return []int16{}
	}
	if len(samples) < frameSize {
		padded := make([]int16, frameSize)
		copy(padded, samples)
		return padded
	}
	if len(samples) > frameSize {
		return samples[:frameSize]
	}
	return samples
}

// resampleLinear performs basic linear interpolation for audio resampling.
// It is only used when the output device refuses the network sample rate.
func resampleLinear(input []int16, inRate int, outRate int, outLen int) []int16 {
	if outLen <= 0 {
		return []int16{}
	}
	if len(input) == 0 {
		return make([]int16, outLen)
	}
	if inRate == outRate {
		return fitSamples(input, outLen)
	}
	if outLen == 1 {
		return []int16{input[0]}
	}

	result := make([]int16, outLen)
	maxIndex := len(input) - 1
	step := float64(maxIndex) / float64(outLen-1)
	for i := 0; i < outLen; i++ {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		if idx >= maxIndex {
			result[i] = input[maxIndex]
			continue
		}
		v0 := float64(input[idx])
		v1 := float64(input[idx+1])
		v := v0 + (v1-v0)*frac
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		result[i] = int16(v)
	}
	return result
}

// renderStereo converts interleaved stereo from a line into the device
// layout: channels 1 or 2, outFrames frames at outRate.
func renderStereo(out []int16, stereo []int16, inRate, outRate, channels int) {
	inFrames := len(stereo) / 2
	left := make([]int16, inFrames)
	right := make([]int16, inFrames)
	for i := 0; i < inFrames; i++ {
		left[i] = stereo[2*i]
		right[i] = stereo[2*i+1]
	}

	outFrames := len(out) / channels
	if inRate != outRate || inFrames != outFrames {
		left = resampleLinear(left, inRate, outRate, outFrames)
		right = resampleLinear(right, inRate, outRate, outFrames)
	}

	for i := 0; i < outFrames; i++ {
		if channels == 1 {
			out[i] = int16((int32(left[i]) + int32(right[i])) / 2)
			continue
		}
		out[2*i] = left[i]
		out[2*i+1] = right[i]
	}
}

// inputFrames is how many line frames feed outFrames device frames.
func inputFrames(outFrames, inRate, outRate int) int {
	if inRate == outRate || outRate <= 0 {
		return outFrames
	}
	return int(math.Ceil(float64(outFrames) * float64(inRate) / float64(outRate)))
}
