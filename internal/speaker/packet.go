package speaker

// Signal tells the engine what a packet carries.
type Signal uint8

const (
	SignalAudio Signal = iota
	// SignalStop ends the current talk spurt: the line is flushed and the
	// sequence baseline is dropped.
	SignalStop
)

func (s Signal) String() string {
	switch s {
	case SignalAudio:
		return "audio"
	case SignalStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Packet is one voice frame received from a remote source.
type Packet struct {
	Sequence    uint64
	Signal      Signal
	Payload     []byte
	MaxDistance int32
}

// AudioPacket builds an audio packet. An empty payload is the wire form of
// the stop signal, so it yields a stop packet.
func AudioPacket(seq uint64, maxDistance int32, payload []byte) Packet {
	if len(payload) == 0 {
		return StopPacket(maxDistance)
	}
	return Packet{
		Sequence:    seq,
		Signal:      SignalAudio,
		Payload:     payload,
		MaxDistance: maxDistance,
	}
}

// StopPacket builds the end-of-stream marker for a source.
func StopPacket(maxDistance int32) Packet {
	return Packet{Signal: SignalStop, MaxDistance: maxDistance}
}

func (p Packet) IsStop() bool {
	return p.Signal == SignalStop
}
