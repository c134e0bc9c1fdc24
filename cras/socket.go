package cras

/*------------------------------------------------------------------
 *
 * Component:	Server Socket (C1)
 *
 * Purpose:	Connection-oriented SOCK_SEQPACKET UNIX socket to the CRAS
 *		server, carrying length-prefixed control-plane messages and,
 *		for CONNECT_STREAM and the server's replies, an attached
 *		file descriptor via SCM_RIGHTS.
 *
 *------------------------------------------------------------------*/

import (
	"os"

	"golang.org/x/sys/unix"
)

// DefaultServerSocketPath is the default CRAS server socket location.
const DefaultServerSocketPath = "/run/cras/.cras_socket"

// maxUnixPathLen is the platform sun_path capacity. Linux's sockaddr_un
// reserves 108 bytes including the trailing NUL.
const maxUnixPathLen = 108

// validateSockPath rejects an empty path, an embedded leading NUL, or a
// path that (with its terminator) would not fit sun_path.
func validateSockPath(path string) error {
	if len(path) == 0 {
		return invalidInput("empty socket path")
	}
	if path[0] == 0 {
		return invalidInput("socket path starts with NUL")
	}
	if len(path) >= maxUnixPathLen {
		return invalidInput("socket path too long for sun_path")
	}
	return nil
}

// ServerSocket is a SOCK_SEQPACKET connection to the CRAS server (C1).
type ServerSocket struct {
	fd int
}

// ConnectServerSocket opens a SOCK_SEQPACKET connection to path.
func ConnectServerSocket(path string) (*ServerSocket, error) {
	if err := validateSockPath(path); err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return nil, wrapIO("socket", err)
	}

	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Connect(fd, addr); err != nil {
		unix.Close(fd)
		return nil, wrapIO("connect", err)
	}

	return &ServerSocket{fd: fd}, nil
}

// AsFd exposes the raw descriptor for readiness polling.
func (s *ServerSocket) AsFd() int {
	return s.fd
}

// Close releases the underlying descriptor.
func (s *ServerSocket) Close() error {
	return unix.Close(s.fd)
}

// Dup returns a new ServerSocket sharing the same underlying connection, for
// use by a worker thread that needs its own descriptor without racing the
// original's lifetime.
func (s *ServerSocket) Dup() (*ServerSocket, error) {
	newFd, err := unix.Dup(s.fd)
	if err != nil {
		return nil, wrapIO("dup", err)
	}
	return &ServerSocket{fd: newFd}, nil
}

// SendMessage writes a packed record to the server, optionally attaching
// fds via SCM_RIGHTS. When fds is empty this is a plain write.
func (s *ServerSocket) SendMessage(record []byte, fds []int) (int, error) {
	if len(fds) == 0 {
		n, err := unix.Write(s.fd, record)
		if err != nil {
			return 0, wrapIO("write", err)
		}
		return n, nil
	}

	rights := unix.UnixRights(fds...)
	if err := unix.Sendmsg(s.fd, record, rights, nil, 0); err != nil {
		return 0, wrapIO("sendmsg", err)
	}
	return len(record), nil
}

// maxAncillaryFds bounds the ancillary buffer; no message in this protocol
// carries more than two attached fds (server-state fd, shm fd).
const maxAncillaryFds = 2

// RecvMessage reads exactly one datagram, returning its bytes and any
// attached file descriptors.
func (s *ServerSocket) RecvMessage(buf []byte) (n int, fds []int, err error) {
	oob := make([]byte, unix.CmsgSpace(maxAncillaryFds*4))
	n, oobn, _, _, err := unix.Recvmsg(s.fd, buf, oob, 0)
	if err != nil {
		return 0, nil, wrapIO("recvmsg", err)
	}
	if n == 0 {
		return 0, nil, newErr(ErrIO, "recvmsg", os.ErrClosed)
	}

	if oobn > 0 {
		cmsgs, parseErr := unix.ParseSocketControlMessage(oob[:oobn])
		if parseErr != nil {
			return n, nil, wrapIO("parse control message", parseErr)
		}
		for _, cmsg := range cmsgs {
			parsedFds, rightsErr := unix.ParseUnixRights(&cmsg)
			if rightsErr != nil {
				continue
			}
			fds = append(fds, parsedFds...)
		}
	}

	return n, fds, nil
}
