package eventloop

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Poller tracks the listen fd, the wake-pipe read fd, and the current set
// of client fds, and multiplexes readiness over them with unix.Select.
type Poller struct {
	listenFd int
	wakeFd   int
	clients  map[int]struct{}
}

// NewPoller creates a Poller bound to a listen fd and a wake-pipe read fd
// (see OpenWakePipe).
func NewPoller(listenFd, wakeFd int) *Poller {
	return &Poller{listenFd: listenFd, wakeFd: wakeFd, clients: make(map[int]struct{})}
}

// AddClient registers a client fd for readiness polling.
func (p *Poller) AddClient(fd int) { p.clients[fd] = struct{}{} }

// RemoveClient unregisters a client fd.
func (p *Poller) RemoveClient(fd int) { delete(p.clients, fd) }

// Wait blocks until the listen fd, the wake fd, or a client fd is readable,
// or until timeout elapses (hasTimeout == false blocks indefinitely,
// matching the driver's NoDelay sentinel).
func (p *Poller) Wait(timeout time.Duration, hasTimeout bool) (listenReady, wakeReady bool, readyClients []int, err error) {
	var set unix.FdSet
	maxFd := p.listenFd
	fdSet(&set, p.listenFd)
	fdSet(&set, p.wakeFd)
	if p.wakeFd > maxFd {
		maxFd = p.wakeFd
	}
	for fd := range p.clients {
		fdSet(&set, fd)
		if fd > maxFd {
			maxFd = fd
		}
	}

	var tv *unix.Timeval
	if hasTimeout {
		if timeout < 0 {
			timeout = 0
		}
		t := unix.NsecToTimeval(timeout.Nanoseconds())
		tv = &t
	}

	n, err := unix.Select(maxFd+1, &set, nil, nil, tv)
	if err != nil {
		if err == unix.EINTR {
			return false, false, nil, nil
		}
		return false, false, nil, err
	}
	if n == 0 {
		return false, false, nil, nil
	}

	if fdIsSet(&set, p.listenFd) {
		listenReady = true
	}
	if fdIsSet(&set, p.wakeFd) {
		wakeReady = true
	}
	for fd := range p.clients {
		if fdIsSet(&set, fd) {
			readyClients = append(readyClients, fd)
		}
	}
	return listenReady, wakeReady, readyClients, nil
}

// fdSetWordBits is the bit width of one unix.FdSet.Bits element on the
// build target: 64 on linux (Bits [16]int64), 32 on darwin (Bits [32]int32).
// Computed from unsafe.Sizeof instead of a hardcoded constant so this stays
// correct across platforms without a build-tagged constant per GOOS.
var fdSetWordBits = int(unsafe.Sizeof(unix.FdSet{}.Bits[0])) * 8

func fdSet(set *unix.FdSet, fd int) {
	idx := fd / fdSetWordBits
	bit := uint(fd % fdSetWordBits)
	set.Bits[idx] |= 1 << bit
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	idx := fd / fdSetWordBits
	bit := uint(fd % fdSetWordBits)
	return set.Bits[idx]&(1<<bit) != 0
}
