// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package muxhub

import (
	"io"

	"github.com/pkg/errors"

	"code.hybscloud.com/muxhub/internal/poll"
)

// monoTransport drives one duplex descriptor (typically a socket). The two
// directions half-close via socket shutdown so the descriptor survives
// until both are gone; only then is the registration cancelled and the
// descriptor released.
type monoTransport struct {
	nioTransport
	fd int

	// Loop-owned.
	rShut, wShut bool
	cancelled    bool
}

func newMonoTransport(h *Hub, fd int, remote Capability, owner Owner) *monoTransport {
	t := &monoTransport{fd: fd}
	t.init(h, remote, owner, t)
	return t
}

func (t *monoTransport) register() error {
	if err := t.hub.poller.Add(t.fd); err != nil {
		poll.Close(t.fd) //nolint:errcheck
		t.rb.Close()
		t.wb.Close()
		return errors.Wrap(err, "registering mono transport")
	}
	t.hub.adopt(&t.nioTransport, t.fd)
	return t.reregister()
}

func (t *monoTransport) reregister() error {
	t.hub.assertLoop()
	if t.rShut && t.wShut {
		if !t.cancelled {
			t.cancelled = true
			t.hub.poller.Del(t.fd) //nolint:errcheck // key may already be gone
			poll.Close(t.fd)       //nolint:errcheck
			t.hub.forgetFD(t.fd)
		}
		return nil
	}
	r := t.wantsToRead() && !t.rShut
	w := t.wantsToWrite() && !t.wShut
	return t.hub.poller.Mod(t.fd, r, w)
}

func (t *monoTransport) recvSrc() io.Reader { return fdReader{fd: t.fd} }
func (t *monoTransport) sendDst() io.Writer { return fdWriter{fd: t.fd} }

func (t *monoTransport) closeRecvHandle() {
	t.rShut = true
	poll.ShutdownRead(t.fd) //nolint:errcheck // best-effort half-close
}

func (t *monoTransport) closeSendHandle() {
	t.wShut = true
	poll.ShutdownWrite(t.fd) //nolint:errcheck // best-effort half-close
}

func (t *monoTransport) readOpen() bool  { return !t.rShut }
func (t *monoTransport) writeOpen() bool { return !t.wShut }

func (t *monoTransport) servesRead(fd int) bool  { return fd == t.fd && !t.rShut }
func (t *monoTransport) servesWrite(fd int) bool { return fd == t.fd && !t.wShut }
