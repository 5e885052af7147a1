//go:build !cgo
// +build !cgo

package client

import (
	"errors"

	"github.com/zokiio/proximity-voice/internal/speaker"
)

const DefaultDeviceLabel = "Default (system)"

var errNoCgo = errors.New("audio requires a CGO-enabled build")

// AudioManager is a stub for non-CGO builds.
type AudioManager struct {
	sampleRate int
	frameSize  int
}

func NewAudioManager(sampleRate int) *AudioManager {
	sampleRate = sanitizeSampleRate(sampleRate)
	return &AudioManager{
		sampleRate: sampleRate,
		frameSize:  frameSizeForSampleRate(sampleRate),
	}
}

func (am *AudioManager) SetOutputDeviceLabel(_ string) {}

func (am *AudioManager) Format() speaker.Format {
	return speaker.Format{SampleRate: am.sampleRate, Channels: 2, FrameSize: am.frameSize}
}

func (am *AudioManager) Start() error {
	return errNoCgo
}

func (am *AudioManager) Stop() error {
	return nil
}

func (am *AudioManager) NewDecoder() (speaker.Decoder, error) {
	return nil, errNoCgo
}

func (am *AudioManager) Line() (speaker.OutputLine, error) {
	return nil, errNoCgo
}

func ListOutputDevices() ([]string, error) {
	return []string{DefaultDeviceLabel}, nil
}
