package cras

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newSeqpacketPair(t *testing.T) (*ServerSocket, *ServerSocket) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	require.NoError(t, err)
	return &ServerSocket{fd: fds[0]}, &ServerSocket{fd: fds[1]}
}

func Test_validateSockPath(t *testing.T) {
	assert.Error(t, validateSockPath(""))
	assert.Error(t, validateSockPath("\x00abc"))

	long := make([]byte, maxUnixPathLen)
	for i := range long {
		long[i] = 'a'
	}
	assert.Error(t, validateSockPath(string(long)))

	assert.NoError(t, validateSockPath("/run/cras/.cras_socket"))
}

func Test_ServerSocket_SendRecvMessage_roundTrip(t *testing.T) {
	a, b := newSeqpacketPair(t)
	defer a.Close()
	defer b.Close()

	record := []byte("hello cras")
	n, err := a.SendMessage(record, nil)
	require.NoError(t, err)
	assert.Equal(t, len(record), n)

	buf := make([]byte, 64)
	got, fds, err := b.RecvMessage(buf)
	require.NoError(t, err)
	assert.Empty(t, fds)
	assert.Equal(t, record, buf[:got])
}

func Test_ServerSocket_SendMessage_withFds(t *testing.T) {
	a, b := newSeqpacketPair(t)
	defer a.Close()
	defer b.Close()

	tmp, err := os.CreateTemp(t.TempDir(), "cras-fd-pass")
	require.NoError(t, err)
	defer tmp.Close()

	record := []byte("shm coming")
	_, err = a.SendMessage(record, []int{int(tmp.Fd())})
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, fds, err := b.RecvMessage(buf)
	require.NoError(t, err)
	assert.Equal(t, record, buf[:n])
	require.Len(t, fds, 1)
	unix.Close(fds[0])
}

func Test_ServerSocket_SendMessage_brokenPipe(t *testing.T) {
	a, b := newSeqpacketPair(t)
	defer a.Close()
	b.Close()

	_, err := a.SendMessage([]byte("nobody home"), nil)
	assert.Error(t, err)
}

func Test_ServerSocket_Dup(t *testing.T) {
	a, b := newSeqpacketPair(t)
	defer b.Close()

	dup, err := a.Dup()
	require.NoError(t, err)
	defer dup.Close()

	assert.NoError(t, a.Close())

	// a is closed, but the dup'd descriptor still works.
	_, err = dup.SendMessage([]byte("still alive"), nil)
	assert.NoError(t, err)
}
