// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package poll

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Poller is a kqueue-backed readiness selector with a self-pipe wakeup.
//
// Both filters of every registered fd are added up front in disabled state;
// Mod toggles EV_ENABLE/EV_DISABLE, which keeps interest recomputation a
// pair of cheap kevent changes.
type Poller struct {
	kq     int
	wakeRd int
	wakeWr int

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	// waitMu is held for the duration of Wait so Close can release the
	// descriptors only after a concurrent Wait has observed the wakeup.
	waitMu sync.Mutex

	raw []unix.Kevent_t
}

// Open creates an idle Poller.
func Open() (*Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	var pfds [2]int
	if err := unix.Pipe(pfds[:]); err != nil {
		unix.Close(kq)
		return nil, err
	}
	for _, fd := range pfds {
		unix.SetNonblock(fd, true) //nolint:errcheck
		unix.CloseOnExec(fd)
	}
	var kev unix.Kevent_t
	unix.SetKevent(&kev, pfds[0], unix.EVFILT_READ, unix.EV_ADD)
	if _, err := unix.Kevent(kq, []unix.Kevent_t{kev}, nil, nil); err != nil {
		unix.Close(kq)
		unix.Close(pfds[0])
		unix.Close(pfds[1])
		return nil, err
	}
	return &Poller{kq: kq, wakeRd: pfds[0], wakeWr: pfds[1]}, nil
}

// Add registers fd with an empty interest set. Use Mod to declare interest.
func (p *Poller) Add(fd int) error {
	changes := make([]unix.Kevent_t, 2)
	unix.SetKevent(&changes[0], fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_DISABLE)
	unix.SetKevent(&changes[1], fd, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_DISABLE)
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

// Mod replaces the interest set of a registered fd.
func (p *Poller) Mod(fd int, read, write bool) error {
	flag := func(on bool) int {
		if on {
			return unix.EV_ENABLE
		}
		return unix.EV_DISABLE
	}
	changes := make([]unix.Kevent_t, 2)
	unix.SetKevent(&changes[0], fd, unix.EVFILT_READ, flag(read))
	unix.SetKevent(&changes[1], fd, unix.EVFILT_WRITE, flag(write))
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

// Del cancels the registration of fd.
func (p *Poller) Del(fd int) error {
	changes := make([]unix.Kevent_t, 2)
	unix.SetKevent(&changes[0], fd, unix.EVFILT_READ, unix.EV_DELETE)
	unix.SetKevent(&changes[1], fd, unix.EVFILT_WRITE, unix.EV_DELETE)
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

// Wakeup unblocks a concurrent Wait. Safe from any goroutine, coalescing.
func (p *Poller) Wakeup() {
	var one = [1]byte{1}
	unix.Write(p.wakeWr, one[:]) //nolint:errcheck // EAGAIN means already pending
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
		p.raw = make([]unix.Kevent_t, len(evs))
	}
	for {
		n, err := unix.Kevent(p.kq, nil, p.raw[:len(evs)], nil)
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
			fd := int(e.Ident)
			if fd == p.wakeRd {
				var buf [16]byte
				unix.Read(p.wakeRd, buf[:]) //nolint:errcheck // drain the pipe
				continue
			}
			ev := Event{FD: fd}
			switch e.Filter {
			case unix.EVFILT_READ:
				ev.Readable = true
			case unix.EVFILT_WRITE:
				ev.Writable = true
			}
			if e.Flags&unix.EV_EOF != 0 {
				ev.Readable = true
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
		p.closeErr = unix.Close(p.kq)
		unix.Close(p.wakeRd)
		unix.Close(p.wakeWr)
	})
	return p.closeErr
}
