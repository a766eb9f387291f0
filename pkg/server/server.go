// Package server implements the event loop, per-client framing
// reassembly, and IPC command dispatch that sit between the control
// socket and the printer driver. Grounded on
// _examples/original_source/src/server/Server.cpp and Client.cpp.
package server

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/doodle3d/print3d/pkg/driver"
	"github.com/doodle3d/print3d/pkg/eventloop"
	"github.com/doodle3d/print3d/pkg/ipc"
	"golang.org/x/sys/unix"
)

// Server owns the listen socket, the set of connected clients, and the
// single printer driver instance.
type Server struct {
	socketPath string
	listenFd   int
	wakeRead   int
	wakeWrite  int
	poller     *eventloop.Poller

	clients map[int]*Client

	Driver driver.Driver

	exitCode int
	exiting  bool
}

// New constructs a Server bound to a driver; call Start to open the
// socket and run the loop.
func New(socketPath string, d driver.Driver) *Server {
	return &Server{
		socketPath: socketPath,
		clients:    make(map[int]*Client),
		Driver:     d,
	}
}

// Start opens the listen socket and the driver, ignores SIGPIPE, and runs
// the event loop until RequestExit is called or an unrecoverable error
// occurs. Returns the requested exit code.
func (s *Server) Start() int {
	signal.Ignore(syscall.SIGPIPE)

	fd, err := eventloop.OpenListenSocket(s.socketPath)
	if err != nil {
		log.Printf("server: listen: %v", err)
		return 1
	}
	s.listenFd = fd
	defer eventloop.Close(fd)
	defer os.Remove(s.socketPath)

	wakeRead, wakeWrite, err := eventloop.OpenWakePipe()
	if err != nil {
		log.Printf("server: wake pipe: %v", err)
		return 1
	}
	s.wakeRead, s.wakeWrite = wakeRead, wakeWrite
	defer eventloop.Close(wakeRead)
	defer eventloop.Close(wakeWrite)

	s.poller = eventloop.NewPoller(fd, wakeRead)

	if err := s.Driver.Open(); err != nil {
		log.Printf("server: driver open: %v", err)
		return 1
	}
	defer s.Driver.Close()

	nextDelay := s.Driver.Update()
	for !s.exiting {
		hasTimeout := nextDelay >= 0
		listenReady, wakeReady, ready, err := s.poller.Wait(nextDelay, hasTimeout)
		if err != nil {
			log.Printf("server: select: %v", err)
			return 1
		}

		if wakeReady {
			s.drainWake()
		}
		if listenReady {
			s.acceptClient()
		}
		for _, fd := range ready {
			s.serviceClient(fd)
		}

		nextDelay = s.Driver.Update()
	}
	return s.exitCode
}

// RequestExit wakes the event loop and schedules its exit with the given
// code. Safe to call from any goroutine (e.g. a signal handler): it only
// writes to the self-pipe, never touches exitCode/exiting directly — those
// fields are set exclusively by the loop goroutine itself after it wakes
// and reads the pipe, per spec §6's single-mutator rule.
func (s *Server) RequestExit(code int) {
	b := byte(code)
	eventloop.Write(s.wakeWrite, []byte{b})
}

// drainWake reads and discards pending wake-pipe bytes, taking the last
// one as the requested exit code, mirroring Server::requestExit's effect
// but applied from the loop goroutine itself.
func (s *Server) drainWake() {
	buf := make([]byte, 16)
	for {
		n, err := eventloop.Read(s.wakeRead, buf)
		if n > 0 {
			s.exitCode = int(buf[n-1])
			s.exiting = true
		}
		if err != nil || n < len(buf) {
			return
		}
	}
}

func (s *Server) acceptClient() {
	fd, err := eventloop.Accept(s.listenFd)
	if err != nil {
		log.Printf("server: accept: %v", err)
		return
	}
	c := newClient(fd)
	s.clients[fd] = c
	s.poller.AddClient(fd)
}

func (s *Server) serviceClient(fd int) {
	c, ok := s.clients[fd]
	if !ok {
		return
	}

	buf := make([]byte, 4096)
	n, err := eventloop.Read(fd, buf)
	closed := false
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return
		}
		closed = true
	} else if n == 0 {
		closed = true
	} else {
		c.readBuf = append(c.readBuf, buf[:n]...)
	}

	s.drainFrames(c)

	if closed {
		s.removeClient(c)
	}
}

func (s *Server) drainFrames(c *Client) {
	for {
		frameLen, err := ipc.IsComplete(c.readBuf)
		if err != nil {
			log.Printf("server: malformed frame from client, dropping connection: %v", err)
			s.removeClient(c)
			return
		}
		if frameLen == 0 {
			return
		}
		frame, _, err := ipc.Decode(c.readBuf)
		if err != nil {
			log.Printf("server: decode: %v", err)
			s.removeClient(c)
			return
		}
		c.readBuf = ipc.RemoveFirst(c.readBuf, frameLen)
		s.dispatch(c, frame)
	}
}

func (s *Server) removeClient(c *Client) {
	s.poller.RemoveClient(c.fd)
	delete(s.clients, c.fd)
	eventloop.Close(c.fd)
}

// cancelAllTransactions marks every client's transaction cancelled except
// the one given, mirroring Server::cancelAllTransactions.
func (s *Server) cancelAllTransactions(except *Client) {
	for fd, c := range s.clients {
		if fd == except.fd {
			continue
		}
		c.Transaction.Cancelled = true
	}
}

func (s *Server) reply(c *Client, f *ipc.Frame) {
	data := ipc.Encode(f)
	if _, err := eventloop.Write(c.fd, data); err != nil {
		log.Printf("server: write to client %d: %v", c.fd, err)
	}
}
