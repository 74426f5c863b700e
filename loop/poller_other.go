//go:build !linux && !darwin

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

// pollSelector is the portable fallback Selector, built on unix.Poll. Used
// on BSDs and any other unix target without a dedicated epoll/kqueue
// backend, grounded on the same RegisterFD/Poll contract as the Linux and
// Darwin backends.
type pollSelector struct {
	fdMu   sync.RWMutex
	order  []int
	fds    map[int]*fdInfo
	closed atomic.Bool
}

// NewSelector constructs the platform readiness selector.
func NewSelector() Selector {
	return &pollSelector{fds: make(map[int]*fdInfo)}
}

func (p *pollSelector) Init() error  { return nil }
func (p *pollSelector) Close() error { p.closed.Store(true); return nil }

func (p *pollSelector) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	p.fdMu.Lock()
	defer p.fdMu.Unlock()
	if _, ok := p.fds[fd]; ok {
		return ErrFDAlreadyRegistered
	}
	p.fds[fd] = &fdInfo{callback: cb, events: events, active: true}
	p.order = append(p.order, fd)
	return nil
}

func (p *pollSelector) ModifyFD(fd int, events IOEvents) error {
	p.fdMu.Lock()
	defer p.fdMu.Unlock()
	info, ok := p.fds[fd]
	if !ok {
		return ErrFDNotRegistered
	}
	info.events = events
	return nil
}

func (p *pollSelector) UnregisterFD(fd int) error {
	p.fdMu.Lock()
	defer p.fdMu.Unlock()
	if _, ok := p.fds[fd]; !ok {
		return ErrFDNotRegistered
	}
	delete(p.fds, fd)
	for i, f := range p.order {
		if f == fd {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return nil
}

func eventsToPoll(e IOEvents) int16 {
	var out int16
	if e&EventRead != 0 {
		out |= unix.POLLIN
	}
	if e&EventWrite != 0 {
		out |= unix.POLLOUT
	}
	return out
}

func (p *pollSelector) Poll(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, ErrPollerClosed
	}
	p.fdMu.RLock()
	fds := make([]unix.PollFd, 0, len(p.order))
	targets := make([]int, 0, len(p.order))
	for _, fd := range p.order {
		info := p.fds[fd]
		if info == nil || !info.active {
			continue
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: eventsToPoll(info.events)})
		targets = append(targets, fd)
	}
	p.fdMu.RUnlock()

	if len(fds) == 0 {
		return 0, nil
	}

	n, err := unix.Poll(fds, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	dispatched := 0
	for i, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		var got IOEvents
		if pfd.Revents&unix.POLLIN != 0 {
			got |= EventRead
		}
		if pfd.Revents&unix.POLLOUT != 0 {
			got |= EventWrite
		}
		if pfd.Revents&unix.POLLERR != 0 {
			got |= EventError
		}
		if pfd.Revents&unix.POLLHUP != 0 {
			got |= EventHangup
		}
		p.fdMu.RLock()
		info, ok := p.fds[targets[i]]
		p.fdMu.RUnlock()
		if ok && info.active {
			info.callback(got)
			dispatched++
		}
	}
	_ = n
	return dispatched, nil
}
