package client

import (
	"encoding/binary"
	"math"

	"github.com/google/uuid"

	"github.com/zokiio/proximity-voice/internal/speaker"
)

const (
	PacketTypeAuthentication = 0x01
	PacketTypeAudio          = 0x02
	PacketTypeAuthAck        = 0x03
	PacketTypeDisconnect     = 0x04
	PacketTypeTestAudio      = 0x05
	PacketTypeAudioEnd       = 0x06
	PacketTypeListenerState  = 0x07
)

const (
	AudioCodecOpus byte = 0x01

	flagPosition  byte = 0x80
	flagOcclusion byte = 0x40
	codecMask     byte = 0x3F
)

const (
	audioHeaderSize   = 32
	audioEndSize      = 19
	listenerStateSize = 17
	authAckMinSize    = 20
)

// audioFrame is a parsed audio datagram.
type audioFrame struct {
	source       uuid.UUID
	packet       speaker.Packet
	position     *speaker.Vec3
	occlusion    float64
	hasOcclusion bool
}

// serverSettings are the fade parameters announced in the auth ack.
type serverSettings struct {
	maxDistance         int32
	fadeDivisor         int32
	priorityFadeDivisor int32
}

// parseAudioPacket decodes an audio datagram:
//
//	[0] type  [1] codec|flags  [2:18] source  [18:26] seq  [26:28] distance
//	[28:32] payload length  payload  [x y z float32]  [occlusion byte]
//
// A zero-length payload is the source's stop signal.
func parseAudioPacket(data []byte) (audioFrame, bool) {
	if len(data) < audioHeaderSize {
		return audioFrame{}, false
	}
	if data[0] != PacketTypeAudio && data[0] != PacketTypeTestAudio {
		return audioFrame{}, false
	}
	flags := data[1]
	if flags&codecMask != AudioCodecOpus {
		return audioFrame{}, false
	}

	source, err := uuid.FromBytes(data[2:18])
	if err != nil {
		return audioFrame{}, false
	}
	seq := binary.BigEndian.Uint64(data[18:26])
	distance := int32(binary.BigEndian.Uint16(data[26:28]))
	audioLen := binary.BigEndian.Uint32(data[28:32])
	end := audioHeaderSize + int(audioLen)
	if int(audioLen) > len(data)-audioHeaderSize {
		return audioFrame{}, false
	}

	payload := make([]byte, audioLen)
	copy(payload, data[audioHeaderSize:end])
	frame := audioFrame{
		source: source,
		packet: speaker.AudioPacket(seq, distance, payload),
	}

	rest := data[end:]
	if flags&flagPosition != 0 {
		if len(rest) < 12 {
			return audioFrame{}, false
		}
		frame.position = &speaker.Vec3{
			X: float64(math.Float32frombits(binary.BigEndian.Uint32(rest[0:4]))),
			Y: float64(math.Float32frombits(binary.BigEndian.Uint32(rest[4:8]))),
			Z: float64(math.Float32frombits(binary.BigEndian.Uint32(rest[8:12]))),
		}
		rest = rest[12:]
	}
	if flags&flagOcclusion != 0 {
		if len(rest) < 1 {
			return audioFrame{}, false
		}
		frame.occlusion = float64(rest[0]) / 255.0
		frame.hasOcclusion = true
	}
	return frame, true
}

func encodeAudioPacket(source uuid.UUID, seq uint64, distance uint16, payload []byte, position *speaker.Vec3, occlusion *byte) []byte {
	flags := AudioCodecOpus
	size := audioHeaderSize + len(payload)
	if position != nil {
		flags |= flagPosition
		size += 12
	}
	if occlusion != nil {
		flags |= flagOcclusion
		size++
	}

	packet := make([]byte, size)
	packet[0] = PacketTypeAudio
	packet[1] = flags
	copy(packet[2:18], source[:])
	binary.BigEndian.PutUint64(packet[18:26], seq)
	binary.BigEndian.PutUint16(packet[26:28], distance)
	binary.BigEndian.PutUint32(packet[28:32], uint32(len(payload)))
	off := copy(packet[audioHeaderSize:], payload) + audioHeaderSize
	if position != nil {
		binary.BigEndian.PutUint32(packet[off:], math.Float32bits(float32(position.X)))
		binary.BigEndian.PutUint32(packet[off+4:], math.Float32bits(float32(position.Y)))
		binary.BigEndian.PutUint32(packet[off+8:], math.Float32bits(float32(position.Z)))
		off += 12
	}
	if occlusion != nil {
		packet[off] = *occlusion
	}
	return packet
}

// parseAudioEnd decodes [0] type [1:17] source [17:19] distance.
func parseAudioEnd(data []byte) (uuid.UUID, speaker.Packet, bool) {
	if len(data) < audioEndSize || data[0] != PacketTypeAudioEnd {
		return uuid.UUID{}, speaker.Packet{}, false
	}
	source, err := uuid.FromBytes(data[1:17])
	if err != nil {
		return uuid.UUID{}, speaker.Packet{}, false
	}
	distance := int32(binary.BigEndian.Uint16(data[17:19]))
	return source, speaker.StopPacket(distance), true
}

// parseListenerState decodes [0] type, then x, y, z and yaw as float32.
func parseListenerState(data []byte) (speaker.Pose, bool) {
	if len(data) < listenerStateSize || data[0] != PacketTypeListenerState {
		return speaker.Pose{}, false
	}
	f := func(off int) float64 {
		return float64(math.Float32frombits(binary.BigEndian.Uint32(data[off : off+4])))
	}
	return speaker.Pose{
		Position: speaker.Vec3{X: f(1), Y: f(5), Z: f(9)},
		Yaw:      f(13),
	}, true
}

// parseAuthAck decodes [0] type [1:17] client [17] accepted [18:20] message
// length, the message, then optionally u16 max distance, u8 fade divisor
// and u8 priority fade divisor.
func parseAuthAck(data []byte) (uuid.UUID, bool, string, *serverSettings, bool) {
	if len(data) < authAckMinSize {
		return uuid.UUID{}, false, "", nil, false
	}
	if data[0] != PacketTypeAuthAck {
		return uuid.UUID{}, false, "", nil, false
	}

	ackClientID, err := uuid.FromBytes(data[1:17])
	if err != nil {
		return uuid.UUID{}, false, "", nil, false
	}

	accepted := data[17] == 1
	messageLen := int(binary.BigEndian.Uint16(data[18:20]))
	if authAckMinSize+messageLen > len(data) {
		return uuid.UUID{}, false, "", nil, false
	}
	message := string(data[authAckMinSize : authAckMinSize+messageLen])

	var settings *serverSettings
	rest := data[authAckMinSize+messageLen:]
	if len(rest) >= 4 {
		settings = &serverSettings{
			maxDistance:         int32(binary.BigEndian.Uint16(rest[0:2])),
			fadeDivisor:         int32(rest[2]),
			priorityFadeDivisor: int32(rest[3]),
		}
	}
	return ackClientID, accepted, message, settings, true
}

func encodeAuthentication(clientID uuid.UUID, username string) []byte {
	usernameBytes := []byte(username)
	packet := make([]byte, 1+16+4+len(usernameBytes))
	packet[0] = PacketTypeAuthentication
	copy(packet[1:17], clientID[:])
	binary.BigEndian.PutUint32(packet[17:21], uint32(len(usernameBytes)))
	copy(packet[21:], usernameBytes)
	return packet
}

func encodeDisconnect(clientID uuid.UUID) []byte {
	packet := make([]byte, 17)
	packet[0] = PacketTypeDisconnect
	copy(packet[1:17], clientID[:])
	return packet
}
