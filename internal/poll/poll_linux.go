// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package poll

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Poller is an epoll-backed readiness selector with an eventfd wakeup.
type Poller struct {
	epfd   int
	wakefd int

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	// waitMu is held for the duration of Wait so Close can release the
	// descriptors only after a concurrent Wait has observed the wakeup.
	waitMu sync.Mutex

	raw []unix.EpollEvent
}

// Open creates an idle Poller.
func Open() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(epfd)
		unix.Close(wakefd)
		return nil, err
	}
	return &Poller{epfd: epfd, wakefd: wakefd}, nil
}

// Add registers fd with an empty interest set. Use Mod to declare interest.
func (p *Poller) Add(fd int) error {
	ev := unix.EpollEvent{Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Mod replaces the interest set of a registered fd.
func (p *Poller) Mod(fd int, read, write bool) error {
	ev := unix.EpollEvent{Fd: int32(fd)}
	if read {
		ev.Events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if write {
		ev.Events |= unix.EPOLLOUT
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Del cancels the registration of fd.
func (p *Poller) Del(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wakeup unblocks a concurrent Wait. Safe from any goroutine, coalescing.
func (p *Poller) Wakeup() {
	var one = [8]byte{0: 1}
	unix.Write(p.wakefd, one[:]) //nolint:errcheck // EAGAIN means already pending
}

// Wait blocks until at least one registered fd is ready or Wakeup is
// called, then fills evs and returns the event count. A pure wakeup returns
// zero events. After Close it returns ErrClosed.
func (p *Poller) Wait(evs []Event) (int, error) {
	p.waitMu.Lock()
	defer p.waitMu.Unlock()
	if p.closed.Load() {
		return 0, ErrClosed
	}
	if len(p.raw) < len(evs) {
		p.raw = make([]unix.EpollEvent, len(evs))
	}
	for {
		n, err := unix.EpollWait(p.epfd, p.raw[:len(evs)], -1)
		if p.closed.Load() {
			return 0, ErrClosed
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		out := 0
		for i := 0; i < n; i++ {
			e := p.raw[i]
			if int(e.Fd) == p.wakefd {
				var buf [8]byte
				unix.Read(p.wakefd, buf[:]) //nolint:errcheck // reset the counter
				continue
			}
			ev := Event{FD: int(e.Fd)}
			if e.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				ev.Readable = true
			}
			if e.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				ev.Writable = true
			}
			evs[out] = ev
			out++
		}
		return out, nil
	}
}

// Close shuts the poller down and unblocks any concurrent Wait with
// ErrClosed. Idempotent.
func (p *Poller) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.Wakeup()
		p.waitMu.Lock()
		defer p.waitMu.Unlock()
		p.closeErr = unix.Close(p.epfd)
		unix.Close(p.wakefd)
	})
	return p.closeErr
}
