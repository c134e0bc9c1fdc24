package cras

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestBufferHandle(t *testing.T, usedSize uint32, frameBytes uint32, capture bool) (*BufferHandle, *HeaderView, *NotifySocket, *NotifySocket) {
	t.Helper()
	header, buffer := newTestRegion(t, usedSize, frameBytes)
	client, server, err := NewNotifySocketPair()
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	var slice []byte
	if capture {
		off, length := header.ReadableRegion()
		slice = buffer.Slice(off, length)
	} else {
		off, length := header.WritableRegion()
		slice = buffer.Slice(off, length)
	}
	handle := newBufferHandle(slice, frameBytes, header, client, capture, nil)
	return handle, header, client, server
}

func Test_BufferHandle_WriteFrames_partialFrameDiscardedAtRelease(t *testing.T) {
	handle, header, _, server := newTestBufferHandle(t, 64, 4, false)

	// 10 bytes is 2 whole frames (8 bytes) plus 2 residual bytes.
	n, err := handle.WriteFrames([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	handle.Release()

	assert.Equal(t, uint32(8), header.WriteOffset(0))

	msg, err := server.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, AudioDataReady, msg.ID)
	assert.Equal(t, uint32(2), msg.Frames)
}

func Test_BufferHandle_Release_isIdempotent(t *testing.T) {
	handle, _, _, server := newTestBufferHandle(t, 64, 4, false)

	_, err := handle.WriteFrames([]byte{1, 2, 3, 4})
	require.NoError(t, err)

	handle.Release()
	handle.Release() // must not send DATA_READY twice

	buf := make([]byte, notifyRecordSize)
	n, err := unix.Read(server.AsFd(), buf)
	require.NoError(t, err)
	assert.Equal(t, notifyRecordSize, n)

	// a second read must block (no second record); use non-blocking probe.
	require.NoError(t, unix.SetNonblock(server.AsFd(), true))
	_, err = unix.Read(server.AsFd(), buf)
	assert.ErrorIs(t, err, unix.EAGAIN)
}

func Test_BufferHandle_ReadFrames_captureDirection(t *testing.T) {
	handle, header, _, server := newTestBufferHandle(t, 64, 4, true)

	dst := make([]byte, 8)
	n, err := handle.ReadFrames(dst)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	handle.Release()
	assert.Equal(t, uint32(8), header.ReadOffset(0))

	msg, err := server.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, AudioCaptureReady, msg.ID)
	assert.Equal(t, uint32(2), msg.Frames)
}

func Test_BufferHandle_WriteFrames_rejectedOnCaptureBuffer(t *testing.T) {
	handle, _, _, _ := newTestBufferHandle(t, 64, 4, true)
	_, err := handle.WriteFrames([]byte{1, 2, 3, 4})
	assert.Error(t, err)
}

func Test_BufferHandle_ReadFrames_rejectedOnPlaybackBuffer(t *testing.T) {
	handle, _, _, _ := newTestBufferHandle(t, 64, 4, false)
	_, err := handle.ReadFrames(make([]byte, 4))
	assert.Error(t, err)
}
