// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package muxhub

import (
	"io"

	"github.com/pkg/errors"

	"code.hybscloud.com/muxhub/internal/poll"
)

// dualTransport drives two distinct descriptors, one per direction (for
// example the two ends of a pipe pair). Each direction closes its own
// descriptor outright and cancels its own registration.
type dualTransport struct {
	nioTransport

	// Loop-owned; -1 once the direction is closed.
	rfd, wfd int
}

func newDualTransport(h *Hub, rfd, wfd int, remote Capability, owner Owner) *dualTransport {
	t := &dualTransport{rfd: rfd, wfd: wfd}
	t.init(h, remote, owner, t)
	return t
}

func (t *dualTransport) register() error {
	if err := t.hub.poller.Add(t.rfd); err != nil {
		t.releaseUnregistered()
		return errors.Wrap(err, "registering read handle")
	}
	if err := t.hub.poller.Add(t.wfd); err != nil {
		t.hub.poller.Del(t.rfd) //nolint:errcheck
		t.releaseUnregistered()
		return errors.Wrap(err, "registering write handle")
	}
	t.hub.adopt(&t.nioTransport, t.rfd, t.wfd)
	return t.reregister()
}

func (t *dualTransport) releaseUnregistered() {
	poll.Close(t.rfd) //nolint:errcheck
	poll.Close(t.wfd) //nolint:errcheck
	t.rfd, t.wfd = -1, -1
	t.rb.Close()
	t.wb.Close()
}

func (t *dualTransport) reregister() error {
	t.hub.assertLoop()
	if t.rfd >= 0 {
		if err := t.hub.poller.Mod(t.rfd, t.wantsToRead(), false); err != nil {
			return err
		}
	}
	if t.wfd >= 0 {
		if err := t.hub.poller.Mod(t.wfd, false, t.wantsToWrite()); err != nil {
			return err
		}
	}
	return nil
}

func (t *dualTransport) recvSrc() io.Reader { return fdReader{fd: t.rfd} }
func (t *dualTransport) sendDst() io.Writer { return fdWriter{fd: t.wfd} }

func (t *dualTransport) closeRecvHandle() {
	fd := t.rfd
	t.rfd = -1
	t.hub.poller.Del(fd) //nolint:errcheck // key may already be gone
	poll.Close(fd)       //nolint:errcheck
	t.hub.forgetFD(fd)
}

func (t *dualTransport) closeSendHandle() {
	fd := t.wfd
	t.wfd = -1
	t.hub.poller.Del(fd) //nolint:errcheck // key may already be gone
	poll.Close(fd)       //nolint:errcheck
	t.hub.forgetFD(fd)
}

func (t *dualTransport) readOpen() bool  { return t.rfd >= 0 }
func (t *dualTransport) writeOpen() bool { return t.wfd >= 0 }

func (t *dualTransport) servesRead(fd int) bool  { return t.rfd >= 0 && fd == t.rfd }
func (t *dualTransport) servesWrite(fd int) bool { return t.wfd >= 0 && fd == t.wfd }
