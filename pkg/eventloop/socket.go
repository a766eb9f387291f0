// Package eventloop provides the single-threaded, select()-based socket
// multiplexer that spec §4.7 calls for: a listen fd plus an arbitrary set
// of client fds, woken either by readiness or by an adaptive timeout
// derived from the driver's requested tick cadence. Grounded on
// _examples/original_source/src/server/Server.cpp::start, realized with
// golang.org/x/sys/unix since net.Listener does not expose raw,
// select()-able file descriptors the way this loop needs.
package eventloop

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ListenBacklog matches Server::openSocket's listen(fd, 5).
const ListenBacklog = 5

// OpenListenSocket binds a non-blocking Unix stream socket at path,
// unlinking a stale path first (only if it is missing or already a
// socket), mirroring Server::openSocket.
func OpenListenSocket(path string) (int, error) {
	if err := unlinkStale(path); err != nil {
		return -1, err
	}
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("eventloop: socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("eventloop: bind %s: %w", path, err)
	}
	if err := unix.Listen(fd, ListenBacklog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("eventloop: listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("eventloop: set nonblock: %w", err)
	}
	return fd, nil
}

func unlinkStale(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("eventloop: %s exists and is not a socket", path)
	}
	return os.Remove(path)
}

// Accept accepts a pending connection on a listen fd and sets it
// non-blocking.
func Accept(listenFd int) (int, error) {
	nfd, _, err := unix.Accept(listenFd)
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return -1, err
	}
	return nfd, nil
}

// Read reads into buf from fd; a zero-length, nil-error result means the
// peer closed the connection (mirrors Serial/Client readData's -2 case).
func Read(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

// Write writes buf to fd.
func Write(fd int, buf []byte) (int, error) {
	return unix.Write(fd, buf)
}

// Close closes fd.
func Close(fd int) error {
	return unix.Close(fd)
}

// OpenWakePipe creates a non-blocking self-pipe used to wake the event loop
// from outside its own goroutine (e.g. a signal handler) without any
// goroutine but the loop's own touching Server state directly. Write a
// single byte to the write end; the loop reads and drains it after select
// reports the read end ready.
func OpenWakePipe() (readFd, writeFd int, err error) {
	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		return -1, -1, fmt.Errorf("eventloop: pipe: %w", err)
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return -1, -1, fmt.Errorf("eventloop: set nonblock: %w", err)
		}
	}
	return fds[0], fds[1], nil
}
