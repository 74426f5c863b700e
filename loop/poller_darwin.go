//go:build darwin

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

// kqueueSelector implements Selector using kqueue.
//
// Adapted from the teacher's eventloop/poller_darwin.go FastPoller: same
// EVFILT_READ/EVFILT_WRITE registration shape, but fds are tracked in a
// map guarded by a mutex instead of a growable direct-index slice, since
// this spec has no sustained-throughput requirement that would justify the
// extra bookkeeping.
type kqueueSelector struct {
	kq       int
	fdMu     sync.RWMutex
	fds      map[int]*fdInfo
	eventBuf []unix.Kevent_t
	closed   atomic.Bool
}

// NewSelector constructs the platform readiness selector.
func NewSelector() Selector {
	return &kqueueSelector{
		fds:      make(map[int]*fdInfo),
		eventBuf: make([]unix.Kevent_t, 256),
	}
}

func (p *kqueueSelector) Init() error {
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	p.kq = kq
	return nil
}

func (p *kqueueSelector) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(p.kq)
}

func (p *kqueueSelector) changeEvents(fd int, events IOEvents, flags uint16) error {
	var changes []unix.Kevent_t
	if events&EventRead != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if events&EventWrite != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueueSelector) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
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

	if err := p.changeEvents(fd, events, unix.EV_ADD|unix.EV_ENABLE); err != nil {
		p.fdMu.Lock()
		delete(p.fds, fd)
		p.fdMu.Unlock()
		return err
	}
	return nil
}

func (p *kqueueSelector) ModifyFD(fd int, events IOEvents) error {
	p.fdMu.Lock()
	info, ok := p.fds[fd]
	if !ok {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	old := info.events
	info.events = events
	p.fdMu.Unlock()

	if old&EventRead != 0 && events&EventRead == 0 {
		_ = p.changeEvents(fd, EventRead, unix.EV_DELETE)
	}
	if old&EventWrite != 0 && events&EventWrite == 0 {
		_ = p.changeEvents(fd, EventWrite, unix.EV_DELETE)
	}
	return p.changeEvents(fd, events, unix.EV_ADD|unix.EV_ENABLE)
}

func (p *kqueueSelector) UnregisterFD(fd int) error {
	p.fdMu.Lock()
	info, ok := p.fds[fd]
	if !ok {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	delete(p.fds, fd)
	p.fdMu.Unlock()

	_ = p.changeEvents(fd, info.events, unix.EV_DELETE)
	return nil
}

func (p *kqueueSelector) Poll(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, ErrPollerClosed
	}
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		ts = &t
	}
	n, err := unix.Kevent(p.kq, nil, p.eventBuf, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		ev := p.eventBuf[i]
		fd := int(ev.Ident)
		p.fdMu.RLock()
		info, ok := p.fds[fd]
		p.fdMu.RUnlock()
		if !ok || !info.active {
			continue
		}
		var got IOEvents
		switch ev.Filter {
		case unix.EVFILT_READ:
			got = EventRead
		case unix.EVFILT_WRITE:
			got = EventWrite
		}
		if ev.Flags&unix.EV_EOF != 0 {
			got |= EventHangup
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			got |= EventError
		}
		info.callback(got)
	}
	return n, nil
}
