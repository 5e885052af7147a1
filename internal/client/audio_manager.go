//go:build cgo
// +build cgo

package client

import (
	"fmt"
	"log"
	"math"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/zokiio/proximity-voice/internal/speaker"
)

const DefaultDeviceLabel = "Default (system)"

// AudioManager owns PortAudio and hands out one output stream per remote
// speaker. It implements speaker.Devices.
type AudioManager struct {
	mu          sync.Mutex
	sampleRate  int
	frameSize   int
	outputLabel string
	device      *portaudio.DeviceInfo
	streams     map[*portaudio.Stream]struct{}
	running     bool
}

func NewAudioManager(sampleRate int) *AudioManager {
	sampleRate = sanitizeSampleRate(sampleRate)
	return &AudioManager{
		sampleRate: sampleRate,
		frameSize:  frameSizeForSampleRate(sampleRate),
		streams:    make(map[*portaudio.Stream]struct{}),
	}
}

func (am *AudioManager) SetOutputDeviceLabel(label string) {
	am.mu.Lock()
	am.outputLabel = label
	am.mu.Unlock()
}

// Format is the PCM layout every speaker line is opened with.
func (am *AudioManager) Format() speaker.Format {
	return speaker.Format{
		SampleRate: am.sampleRate,
		Channels:   2,
		FrameSize:  am.frameSize,
	}
}

func (am *AudioManager) Start() error {
	am.mu.Lock()
	defer am.mu.Unlock()

	if am.running {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	device, err := resolveOutputDeviceByLabel(am.outputLabel)
	if err != nil {
		portaudio.Terminate()
		return err
	}
	if device == nil {
		portaudio.Terminate()
		return speaker.ErrNoDevice
	}
	am.device = device
	am.running = true

	log.Printf("[AUDIO] Output device ready: %s (%s, network=%dHz, device=%.0fHz)",
		device.Name, hostNameFromDevice(device), am.sampleRate, device.DefaultSampleRate)
	return nil
}

func (am *AudioManager) Stop() error {
	am.mu.Lock()
	defer am.mu.Unlock()

	if !am.running {
		return nil
	}
	for stream := range am.streams {
		stream.Stop()
		stream.Close()
	}
	am.streams = make(map[*portaudio.Stream]struct{})
	am.running = false

	portaudio.Terminate()
	time.Sleep(50 * time.Millisecond)
	return nil
}

// NewDecoder creates an Opus decoder matching the line format.
func (am *AudioManager) NewDecoder() (speaker.Decoder, error) {
	return newOpusDecoder(am.sampleRate, am.frameSize)
}

// Line opens a PortAudio output stream fed by a fresh buffered line.
func (am *AudioManager) Line() (speaker.OutputLine, error) {
	am.mu.Lock()
	defer am.mu.Unlock()

	if !am.running || am.device == nil {
		return nil, speaker.ErrNoDevice
	}

	format := am.Format()
	var stream *portaudio.Stream
	line := speaker.NewBufferedLine(format.FrameSamples()*lineFrames, func() error {
		return am.closeStream(stream)
	})

	stream, err := am.openOutputStream(line)
	if err != nil {
		return nil, err
	}
	am.streams[stream] = struct{}{}
	return line, nil
}

func (am *AudioManager) closeStream(stream *portaudio.Stream) error {
	if stream == nil {
		return nil
	}
	am.mu.Lock()
	_, ok := am.streams[stream]
	delete(am.streams, stream)
	am.mu.Unlock()
	if !ok {
		return nil
	}

	stream.Stop()
	if err := stream.Close(); err != nil {
		return fmt.Errorf("close output stream: %w", err)
	}
	return nil
}

func (am *AudioManager) openOutputStream(line *speaker.BufferedLine) (*portaudio.Stream, error) {
	device := am.device
	outputRate := am.sampleRate

	// Try multiple configurations in order of preference
	configs := []struct {
		channels int
		rate     int
		latency  time.Duration
		desc     string
	}{
		{2, am.sampleRate, device.DefaultLowOutputLatency, "stereo low latency"},
		{2, am.sampleRate, device.DefaultHighOutputLatency, "stereo high latency"},
		{1, am.sampleRate, device.DefaultLowOutputLatency, "mono low latency"},
	}
	if device.DefaultSampleRate > 0 {
		deviceRate := int(math.Round(device.DefaultSampleRate))
		if deviceRate != outputRate {
			configs = append(configs,
				struct {
					channels int
					rate     int
					latency  time.Duration
					desc     string
				}{2, deviceRate, device.DefaultHighOutputLatency, fmt.Sprintf("stereo %dHz", deviceRate)})
		}
	}

	for _, cfg := range configs {
		stream, err := am.tryOpenOutputStream(device, line, cfg.rate, cfg.channels, cfg.latency, cfg.desc)
		if err == nil {
			return stream, nil
		}
	}

	if runtime.GOOS == "windows" {
		log.Printf("[AUDIO] All configs failed with primary device, trying alternative devices...")
		devices, err := portaudio.Devices()
		if err == nil {
			for _, altDevice := range devices {
				if altDevice.MaxOutputChannels == 0 || altDevice == device {
					continue
				}
				hostName := hostNameFromDevice(altDevice)
				if !strings.Contains(hostName, "DirectSound") && !strings.Contains(hostName, "MME") {
					continue
				}
				stream, err := am.tryOpenOutputStream(altDevice, line, am.sampleRate, 2, altDevice.DefaultHighOutputLatency, hostName)
				if err == nil {
					return stream, nil
				}
			}
		}
	}

	return nil, fmt.Errorf("failed to open audio stream after trying all configurations and devices")
}

func (am *AudioManager) tryOpenOutputStream(device *portaudio.DeviceInfo, line *speaker.BufferedLine, rate int, channels int, latency time.Duration, desc string) (*portaudio.Stream, error) {
	framesPerBuffer := frameSizeForSampleRate(rate)
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  latency,
		},
		SampleRate:      float64(rate),
		FramesPerBuffer: framesPerBuffer,
	}

	stream, err := portaudio.OpenStream(params, am.processOutput(line, rate, channels))
	if err != nil {
		log.Printf("[AUDIO] Failed to open output with %s: %v", desc, err)
		return nil, err
	}

	// Try to start the stream to verify it actually works
	if err := stream.Start(); err != nil {
		log.Printf("[AUDIO] Failed to start output with %s: %v", desc, err)
		stream.Close()
		return nil, err
	}

	if channels == 1 {
		log.Printf("[AUDIO] Warning: Using mono output (stereo not supported)")
	}
	log.Printf("[AUDIO] Opened speaker stream with %s", desc)
	return stream, nil
}

// processOutput drains the line into the device buffer.
func (am *AudioManager) processOutput(line *speaker.BufferedLine, outputRate int, channels int) func([]int16) {
	var scratch []int16
	return func(out []int16) {
		frames := inputFrames(len(out)/channels, am.sampleRate, outputRate)
		need := frames * 2
		if cap(scratch) < need {
			scratch = make([]int16, need)
		}
		buf := scratch[:need]
		line.Read(buf)
		renderStereo(out, buf, am.sampleRate, outputRate, channels)
	}
}

func ListOutputDevices() ([]string, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	options, err := buildOutputDeviceOptions()
	if err != nil {
		return nil, err
	}

	labels := []string{DefaultDeviceLabel}
	for _, option := range options {
		labels = append(labels, option.label)
	}
	return labels, nil
}

type deviceOption struct {
	label  string
	device *portaudio.DeviceInfo
}

func resolveOutputDeviceByLabel(label string) (*portaudio.DeviceInfo, error) {
	if label != "" && label != DefaultDeviceLabel {
		options, err := buildOutputDeviceOptions()
		if err != nil {
			return nil, err
		}
		for _, option := range options {
			if option.label == label {
				return option.device, nil
			}
		}
		log.Printf("[AUDIO] Output device %q not found, using default", label)
	}

	device, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return nil, fmt.Errorf("failed to get default output device: %w", err)
	}
	return device, nil
}

func hostNameFromDevice(device *portaudio.DeviceInfo) string {
	if device == nil || device.HostApi == nil {
		return ""
	}
	return device.HostApi.Name
}

func buildOutputDeviceOptions() ([]deviceOption, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	candidates := make([]*portaudio.DeviceInfo, 0, len(devices))
	for _, device := range devices {
		if device.MaxOutputChannels > 0 {
			candidates = append(candidates, device)
		}
	}

	names := make([]string, len(candidates))
	hosts := make([]string, len(candidates))
	for i, device := range candidates {
		names[i] = device.Name
		hosts[i] = hostNameFromDevice(device)
	}
	labels := deviceLabels(names, hosts)

	options := make([]deviceOption, 0, len(candidates))
	for i, device := range candidates {
		options = append(options, deviceOption{
			label:  labels[i],
			device: device,
		})
	}
	return options, nil
}
