package cras

import "encoding/binary"

// Wire format notes: every record on the server socket is little-endian,
// naturally packed, with no trailing padding. We never rely
// on Go struct layout for this — every record is hand-packed into a byte
// slice with encoding/binary so host struct padding can never leak onto the
// wire, matching the "MUST NOT rely on host struct padding" requirement.

// Server message IDs (client -> server).
const (
	serverConnectStream    uint32 = 0
	serverDisconnectStream uint32 = 1
)

// Client message IDs (server -> client).
const (
	clientConnected        uint32 = 0
	clientStreamConnected  uint32 = 1
)

// Notification-socket message IDs (C2).
const (
	// AudioRequestData is sent server -> client for a playback stream: the
	// client should fill the current write slot and commit it.
	AudioRequestData uint32 = 0
	// AudioDataReady is sent client -> server after a playback commit, or
	// server -> client to announce captured data is available.
	AudioDataReady uint32 = 1
	// AudioCaptureReady is sent client -> server after a capture commit.
	AudioCaptureReady uint32 = 2
)

const (
	serverMessageHeaderSize = 8 // length u32, id u32
	audioFormatPackedSize   = 23
	connectStreamSize       = serverMessageHeaderSize + 4*7 + audioFormatPackedSize + 4*2
	disconnectStreamSize    = serverMessageHeaderSize + 4
	clientConnectedSize     = serverMessageHeaderSize + 4
	streamConnectedSize     = serverMessageHeaderSize + 4 + 4

	maxChannelLayout = 11
)

// Direction of a stream, matching CRAS_STREAM_DIRECTION.
type Direction uint32

const (
	DirectionPlayback Direction = 0
	DirectionCapture  Direction = 1
)

// SampleFormat mirrors a subset of snd_pcm_format_t used by CRAS. Only the
// values the client needs to distinguish are enumerated; unknown values pass
// through unchanged.
type SampleFormat int32

const (
	FormatS16LE SampleFormat = 0
	FormatS32LE SampleFormat = 1
	FormatU8    SampleFormat = 2
)

// AudioFormat is the format/channel layout sent on CONNECT_STREAM.
type AudioFormat struct {
	Format         SampleFormat
	FrameRate      uint32
	NumChannels    uint32
	ChannelLayout  [maxChannelLayout]int8
}

// NewAudioFormat builds the channel layout the way
// cras_audio_format_packed_new does in the original client: channel indices
// 0..NumChannels-1, remaining slots set to -1.
func NewAudioFormat(format SampleFormat, rate uint32, channels uint32) AudioFormat {
	var layout [maxChannelLayout]int8
	for i := range layout {
		if uint32(i) < channels {
			layout[i] = int8(i)
		} else {
			layout[i] = -1
		}
	}
	return AudioFormat{
		Format:        format,
		FrameRate:     rate,
		NumChannels:   channels,
		ChannelLayout: layout,
	}
}

func (f AudioFormat) marshal(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(int32(f.Format)))
	binary.LittleEndian.PutUint32(buf[4:8], f.FrameRate)
	binary.LittleEndian.PutUint32(buf[8:12], f.NumChannels)
	for i, c := range f.ChannelLayout {
		buf[12+i] = byte(c)
	}
}

func unmarshalAudioFormat(buf []byte) AudioFormat {
	var f AudioFormat
	f.Format = SampleFormat(int32(binary.LittleEndian.Uint32(buf[0:4])))
	f.FrameRate = binary.LittleEndian.Uint32(buf[4:8])
	f.NumChannels = binary.LittleEndian.Uint32(buf[8:12])
	for i := range f.ChannelLayout {
		f.ChannelLayout[i] = int8(buf[12+i])
	}
	return f
}

// connectStreamMessage is CONNECT_STREAM.
type connectStreamMessage struct {
	ProtoVersion  uint32
	Direction     Direction
	StreamID      uint32
	StreamType    uint32
	BufferFrames  uint32
	CbThreshold   uint32
	Flags         uint32
	Format        AudioFormat
	DevIdx        uint32
	Effects       uint32
}

// CRAS_STREAM_TYPE_DEFAULT and the "no device" sentinel, carried through from
// the original client's cras_connect_message population.
const (
	streamTypeDefault uint32 = 0
	noDevice          uint32 = 0xFFFFFFFF
)

func (m connectStreamMessage) marshal() []byte {
	buf := make([]byte, connectStreamSize)
	binary.LittleEndian.PutUint32(buf[0:4], connectStreamSize)
	binary.LittleEndian.PutUint32(buf[4:8], serverConnectStream)
	off := 8
	binary.LittleEndian.PutUint32(buf[off:off+4], m.ProtoVersion)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(m.Direction))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], m.StreamID)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], m.StreamType)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], m.BufferFrames)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], m.CbThreshold)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], m.Flags)
	off += 4
	m.Format.marshal(buf[off : off+audioFormatPackedSize])
	off += audioFormatPackedSize
	binary.LittleEndian.PutUint32(buf[off:off+4], m.DevIdx)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], m.Effects)
	return buf
}

// disconnectStreamMessage is DISCONNECT_STREAM.
type disconnectStreamMessage struct {
	StreamID uint32
}

func (m disconnectStreamMessage) marshal() []byte {
	buf := make([]byte, disconnectStreamSize)
	binary.LittleEndian.PutUint32(buf[0:4], disconnectStreamSize)
	binary.LittleEndian.PutUint32(buf[4:8], serverDisconnectStream)
	binary.LittleEndian.PutUint32(buf[8:12], m.StreamID)
	return buf
}

func peekHeader(buf []byte) (length uint32, id uint32, ok bool) {
	if len(buf) < serverMessageHeaderSize {
		return 0, 0, false
	}
	return binary.LittleEndian.Uint32(buf[0:4]), binary.LittleEndian.Uint32(buf[4:8]), true
}

// clientConnectedMessage is CLIENT_CONNECTED.
type clientConnectedMessage struct {
	ClientID uint32
}

func unmarshalClientConnected(buf []byte) (clientConnectedMessage, error) {
	if len(buf) < clientConnectedSize {
		return clientConnectedMessage{}, invalidInput("CLIENT_CONNECTED message too short")
	}
	return clientConnectedMessage{ClientID: binary.LittleEndian.Uint32(buf[8:12])}, nil
}

// streamConnectedMessage is STREAM_CONNECTED.
type streamConnectedMessage struct {
	StreamID    uint32
	ShmMaxSize  int32
}

func unmarshalStreamConnected(buf []byte) (streamConnectedMessage, error) {
	if len(buf) < streamConnectedSize {
		return streamConnectedMessage{}, invalidInput("STREAM_CONNECTED message too short")
	}
	return streamConnectedMessage{
		StreamID:   binary.LittleEndian.Uint32(buf[8:12]),
		ShmMaxSize: int32(binary.LittleEndian.Uint32(buf[12:16])),
	}, nil
}
