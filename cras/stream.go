package cras

/*------------------------------------------------------------------
 *
 * Component:	Stream (C5)
 *
 * Purpose:	Per-stream state machine (Pending -> Active -> Closed): format,
 *		IDs, notification socket, and, once established, the shared
 *		ring. The audio loop itself is pure C2+C3 once Active: wait
 *		for a notification, derive a BufferHandle, release it.
 *
 *------------------------------------------------------------------*/

import (
	"sync"
	"sync/atomic"
)

// StreamState is the Stream lifecycle.
type StreamState int32

const (
	StreamPending StreamState = iota
	StreamActive
	StreamClosed
)

// Stream is a client-side playback or capture stream.
type Stream struct {
	ID          uint32
	Direction   Direction
	Rate        uint32
	Channels    uint32
	Format      SampleFormat
	BlockSize   uint32

	notify *NotifySocket
	sock   *ServerSocket // dup'd server socket, used only to send DISCONNECT_STREAM on Close

	state StreamState // accessed via atomic

	mu          sync.Mutex
	header      *HeaderView
	buffer      *BufferView
	outstanding bool

	onClose func(streamID uint32) // forgets this stream in the owning client's registry
}

func newStream(id uint32, dir Direction, rate, channels uint32, format SampleFormat, blockSize uint32, notify *NotifySocket, sock *ServerSocket, onClose func(uint32)) *Stream {
	return &Stream{
		ID:        id,
		Direction: dir,
		Rate:      rate,
		Channels:  channels,
		Format:    format,
		BlockSize: blockSize,
		notify:    notify,
		sock:      sock,
		state:     StreamPending,
		onClose:   onClose,
	}
}

// State returns the current lifecycle state.
func (s *Stream) State() StreamState {
	return StreamState(atomic.LoadInt32((*int32)(&s.state)))
}

// initWithRegion maps shmFd (shmSize bytes) and transitions Pending ->
// Active.
func (s *Stream) initWithRegion(shmFd int, shmSize int) error {
	header, buffer, err := mapSharedRegion(shmFd, shmSize)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.header = header
	s.buffer = buffer
	s.mu.Unlock()
	atomic.StoreInt32((*int32)(&s.state), int32(StreamActive))
	return nil
}

func (s *Stream) clearOutstanding() {
	s.mu.Lock()
	s.outstanding = false
	s.mu.Unlock()
}

// NextPlaybackBuffer blocks until the server requests more data, then
// returns a handle into the current write slot. Only one
// handle may be outstanding; the caller must Release it before requesting
// the next.
func (s *Stream) NextPlaybackBuffer() (*BufferHandle, error) {
	if s.Direction != DirectionPlayback {
		return nil, newErr(ErrProtocol, "NextPlaybackBuffer called on a capture stream", nil)
	}
	if s.State() != StreamActive {
		return nil, newErr(ErrNoShm, "stream has no shared region", nil)
	}

	s.mu.Lock()
	if s.outstanding {
		s.mu.Unlock()
		return nil, newErr(ErrProtocol, "a buffer handle is already outstanding", nil)
	}
	s.outstanding = true
	header, buffer := s.header, s.buffer
	s.mu.Unlock()

	msg, err := s.notify.ReadMessage()
	if err != nil {
		s.clearOutstanding()
		return nil, err
	}
	if msg.ID != AudioRequestData {
		s.clearOutstanding()
		return nil, newErr(ErrMessageType, "expected REQUEST_DATA", nil)
	}

	offset, length := header.WritableRegion()
	slice := buffer.Slice(offset, length)
	return newBufferHandle(slice, header.FrameSize(), header, s.notify, false, s.clearOutstanding), nil
}

// NextCaptureBuffer is the capture-direction analogue of
// NextPlaybackBuffer, awaiting DATA_READY.
func (s *Stream) NextCaptureBuffer() (*BufferHandle, error) {
	if s.Direction != DirectionCapture {
		return nil, newErr(ErrProtocol, "NextCaptureBuffer called on a playback stream", nil)
	}
	if s.State() != StreamActive {
		return nil, newErr(ErrNoShm, "stream has no shared region", nil)
	}

	s.mu.Lock()
	if s.outstanding {
		s.mu.Unlock()
		return nil, newErr(ErrProtocol, "a buffer handle is already outstanding", nil)
	}
	s.outstanding = true
	header, buffer := s.header, s.buffer
	s.mu.Unlock()

	msg, err := s.notify.ReadMessage()
	if err != nil {
		s.clearOutstanding()
		return nil, err
	}
	if msg.ID != AudioDataReady {
		s.clearOutstanding()
		return nil, newErr(ErrMessageType, "expected DATA_READY", nil)
	}

	offset, length := header.ReadableRegion()
	slice := buffer.Slice(offset, length)
	return newBufferHandle(slice, header.FrameSize(), header, s.notify, true, s.clearOutstanding), nil
}

// Close tears the stream down: sends DISCONNECT_STREAM best-effort, closes the notification
// socket, releases the shared region, and forgets the stream in the owning
// client's registry.
func (s *Stream) Close() error {
	prev := atomic.SwapInt32((*int32)(&s.state), int32(StreamClosed))
	if StreamState(prev) == StreamClosed {
		return nil
	}

	msg := disconnectStreamMessage{StreamID: s.ID}
	if _, err := s.sock.SendMessage(msg.marshal(), nil); err != nil {
		Logger.Warn("DISCONNECT_STREAM send failed", "stream_id", s.ID, "err", err)
	}

	if err := s.notify.Close(); err != nil {
		Logger.Warn("notify socket close failed", "stream_id", s.ID, "err", err)
	}
	if err := s.sock.Close(); err != nil {
		Logger.Warn("stream socket close failed", "stream_id", s.ID, "err", err)
	}

	s.mu.Lock()
	header, buffer := s.header, s.buffer
	s.header, s.buffer = nil, nil
	s.mu.Unlock()
	if header != nil {
		header.release()
	}
	if buffer != nil {
		buffer.release()
	}

	if s.onClose != nil {
		s.onClose(s.ID)
	}
	return nil
}
