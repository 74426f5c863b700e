//go:build linux

package loop

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

type fdInfo struct {
	callback IOCallback
	events   IOEvents
	active   bool
}

// epollSelector implements Selector using epoll.
//
// Adapted from the teacher's eventloop/poller_linux.go FastPoller: this
// keeps the epoll_create1/epoll_ctl/epoll_wait skeleton but replaces the
// fixed 65536-entry direct-index array (and its cache-line padding) with a
// map guarded by an RWMutex, since this spec has no documented requirement
// to sustain the teacher's microsecond-level dispatch latency.
type epollSelector struct {
	epfd     int
	fdMu     sync.RWMutex
	fds      map[int]*fdInfo
	eventBuf []unix.EpollEvent
	closed   atomic.Bool
}

// NewSelector constructs the platform readiness selector.
func NewSelector() Selector {
	return &epollSelector{
		fds:      make(map[int]*fdInfo),
		eventBuf: make([]unix.EpollEvent, 256),
	}
}

func (p *epollSelector) Init() error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.epfd = epfd
	return nil
}

func (p *epollSelector) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(p.epfd)
}

func eventsToEpoll(e IOEvents) uint32 {
	var out uint32
	if e&EventRead != 0 {
		out |= unix.EPOLLIN
	}
	if e&EventWrite != 0 {
		out |= unix.EPOLLOUT
	}
	return out
}

func epollToEvents(mask uint32) IOEvents {
	var out IOEvents
	if mask&unix.EPOLLIN != 0 {
		out |= EventRead
	}
	if mask&unix.EPOLLOUT != 0 {
		out |= EventWrite
	}
	if mask&(unix.EPOLLERR) != 0 {
		out |= EventError
	}
	if mask&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		out |= EventHangup
	}
	return out
}

func (p *epollSelector) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	p.fdMu.Lock()
	if _, ok := p.fds[fd]; ok {
		p.fdMu.Unlock()
		return ErrFDAlreadyRegistered
	}
	p.fds[fd] = &fdInfo{callback: cb, events: events, active: true}
	p.fdMu.Unlock()

	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		p.fdMu.Lock()
		delete(p.fds, fd)
		p.fdMu.Unlock()
		return err
	}
	return nil
}

func (p *epollSelector) ModifyFD(fd int, events IOEvents) error {
	p.fdMu.Lock()
	info, ok := p.fds[fd]
	if !ok {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	info.events = events
	p.fdMu.Unlock()

	ev := &unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *epollSelector) UnregisterFD(fd int) error {
	p.fdMu.Lock()
	if _, ok := p.fds[fd]; !ok {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	delete(p.fds, fd)
	p.fdMu.Unlock()

	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	return nil
}

func (p *epollSelector) Poll(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, ErrPollerClosed
	}
	n, err := unix.EpollWait(p.epfd, p.eventBuf, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		ev := p.eventBuf[i]
		fd := int(ev.Fd)
		p.fdMu.RLock()
		info, ok := p.fds[fd]
		p.fdMu.RUnlock()
		if !ok || !info.active {
			continue
		}
		info.callback(epollToEvents(ev.Events))
	}
	return n, nil
}
