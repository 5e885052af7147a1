//go:build cgo
// +build cgo

package client

import (
	"errors"
	"sync"

	"gopkg.in/hraban/opus.v2"
)

var errDecoderClosed = errors.New("opus decoder closed")

// opusDecoder decodes one source's mono Opus stream. A nil frame runs the
// codec's packet loss concealment.
type opusDecoder struct {
	mu        sync.Mutex
	dec       *opus.Decoder
	frameSize int
}

func newOpusDecoder(sampleRate, frameSize int) (*opusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, err
	}
	return &opusDecoder{dec: dec, frameSize: frameSize}, nil
}

func (d *opusDecoder) Decode(data []byte) ([]int16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dec == nil {
		return nil, errDecoderClosed
	}

	pcm := make([]int16, d.frameSize)
	if data == nil {
		if err := d.dec.DecodePLC(pcm); err != nil {
			return nil, err
		}
		return pcm, nil
	}

	n, err := d.dec.Decode(data, pcm)
	if err != nil {
		return nil, err
	}
	return fitSamples(pcm[:n], d.frameSize), nil
}

func (d *opusDecoder) Close() error {
	d.mu.Lock()
	d.dec = nil
	d.mu.Unlock()
	return nil
}
