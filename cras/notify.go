package cras

/*------------------------------------------------------------------
 *
 * Component:	Audio Notification Socket (C2)
 *
 * Purpose:	A stream-oriented socket pair, one per stream, carrying tiny
 *		fixed-size records that coordinate filling/draining the
 *		shared-memory ring: REQUEST_DATA, DATA_READY, CAPTURE_READY.
 *
 *------------------------------------------------------------------*/

import (
	"encoding/binary"
	"io"

	"golang.org/x/sys/unix"
)

// notifyRecordSize is the current wire size of a notification record:
// id(u32) + error(i32) + frames(u32) = 12 bytes. Some deployed servers pad
// this to 16 bytes; this package targets the 12-byte layout and does not
// guess at the padded variant.
const notifyRecordSize = 12

// notifyRecord is one audio notification message.
type notifyRecord struct {
	ID     uint32
	Error  int32
	Frames uint32
}

func (r notifyRecord) marshal() []byte {
	buf := make([]byte, notifyRecordSize)
	binary.LittleEndian.PutUint32(buf[0:4], r.ID)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.Error))
	binary.LittleEndian.PutUint32(buf[8:12], r.Frames)
	return buf
}

func unmarshalNotifyRecord(buf []byte) notifyRecord {
	return notifyRecord{
		ID:     binary.LittleEndian.Uint32(buf[0:4]),
		Error:  int32(binary.LittleEndian.Uint32(buf[4:8])),
		Frames: binary.LittleEndian.Uint32(buf[8:12]),
	}
}

// NotifySocket wraps one end of a stream-notification socket pair (C2).
type NotifySocket struct {
	fd int
}

// NewNotifySocket wraps fd, which must be a valid, positive descriptor.
func NewNotifySocket(fd int) (*NotifySocket, error) {
	if fd <= 0 {
		return nil, invalidInput("notify socket fd must be > 0")
	}
	return &NotifySocket{fd: fd}, nil
}

// NewNotifySocketPair creates a connected pair of stream sockets for a new
// stream's notification channel, mirroring the original client's
// libc::socketpair(AF_UNIX, SOCK_STREAM, 0) call.
func NewNotifySocketPair() (client *NotifySocket, server *NotifySocket, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, wrapIO("socketpair", err)
	}
	client, err = NewNotifySocket(fds[0])
	if err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, err
	}
	server, err = NewNotifySocket(fds[1])
	if err != nil {
		client.Close()
		unix.Close(fds[1])
		return nil, nil, err
	}
	return client, server, nil
}

// AsFd exposes the raw descriptor for readiness polling.
func (n *NotifySocket) AsFd() int {
	return n.fd
}

// Close releases the underlying descriptor.
func (n *NotifySocket) Close() error {
	return unix.Close(n.fd)
}

// ReadMessage blocks until one full record has arrived. A short read before
// EOF fails with ErrIO wrapping io.ErrUnexpectedEOF.
func (n *NotifySocket) ReadMessage() (notifyRecord, error) {
	buf := make([]byte, notifyRecordSize)
	read := 0
	for read < notifyRecordSize {
		m, err := unix.Read(n.fd, buf[read:])
		if err != nil {
			return notifyRecord{}, wrapIO("read", err)
		}
		if m == 0 {
			if read == 0 {
				return notifyRecord{}, wrapIO("read", io.EOF)
			}
			return notifyRecord{}, wrapIO("read", io.ErrUnexpectedEOF)
		}
		read += m
	}
	return unmarshalNotifyRecord(buf), nil
}

func (n *NotifySocket) send(r notifyRecord) error {
	buf := r.marshal()
	written := 0
	for written < len(buf) {
		m, err := unix.Write(n.fd, buf[written:])
		if err != nil {
			if err == unix.EPIPE {
				return wrapIO("write", unix.EPIPE)
			}
			return wrapIO("write", err)
		}
		written += m
	}
	return nil
}

// SendSuccess sends a record with the given message id and frame count,
// e.g. DATA_READY(frames) or CAPTURE_READY(frames).
func (n *NotifySocket) SendSuccess(id uint32, frames uint32) error {
	return n.send(notifyRecord{ID: id, Error: 0, Frames: frames})
}

// SendError sends an error record, which the original audio_fd.rs spells as
// the AudioMessage::Error variant (id 0, the given negative errno, no
// frames).
func (n *NotifySocket) SendError(code int32) error {
	return n.send(notifyRecord{ID: 0, Error: code, Frames: 0})
}
