package streamreader

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// TuneReceiveBuffer sets the kernel socket receive buffer via SO_RCVBUF
// on the connection's raw file descriptor. A large receive buffer
// absorbs scheduling jitter on the analyser side without the reader
// blocking on a full kernel buffer.
func TuneReceiveBuffer(conn *net.TCPConn, bytes int) error {
	var rawConn, err = conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("streamreader: get raw conn: %w", err)
	}

	var setErr error
	var ctrlErr = rawConn.Control(func(fd uintptr) {
		setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, bytes)
	})
	if ctrlErr != nil {
		return fmt.Errorf("streamreader: control raw conn: %w", ctrlErr)
	}
	if setErr != nil {
		return fmt.Errorf("streamreader: setsockopt SO_RCVBUF: %w", setErr)
	}
	return nil
}
