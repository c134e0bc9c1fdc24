package cras

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_NewNotifySocket_rejectsInvalidFd(t *testing.T) {
	_, err := NewNotifySocket(0)
	assert.Error(t, err)
	_, err = NewNotifySocket(-1)
	assert.Error(t, err)
}

func Test_NotifySocket_sendAndReadMessage(t *testing.T) {
	client, server, err := NewNotifySocketPair()
	require.NoError(t, err)
	defer client.Close()
	defer server.Close()

	require.NoError(t, server.SendSuccess(AudioDataReady, 256))

	msg, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, AudioDataReady, msg.ID)
	assert.Equal(t, int32(0), msg.Error)
	assert.Equal(t, uint32(256), msg.Frames)
}

func Test_NotifySocket_SendError(t *testing.T) {
	client, server, err := NewNotifySocketPair()
	require.NoError(t, err)
	defer client.Close()
	defer server.Close()

	require.NoError(t, server.SendError(-5))

	msg, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, int32(-5), msg.Error)
}

func Test_NotifySocket_ReadMessage_EOF(t *testing.T) {
	client, server, err := NewNotifySocketPair()
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, server.Close())

	_, err = client.ReadMessage()
	assert.Error(t, err)
}

func Test_NotifySocket_send_brokenPipe(t *testing.T) {
	client, server, err := NewNotifySocketPair()
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, server.Close())

	err = client.SendSuccess(AudioDataReady, 10)
	assert.Error(t, err)
}
