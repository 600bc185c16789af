// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package muxhub

import (
	"io"
	"reflect"
	"syscall"

	"github.com/pkg/errors"

	"code.hybscloud.com/muxhub/internal/poll"
)

// AttachOptions configures one Attach call.
type AttachOptions struct {
	// Remote is the capability token negotiated for the peer.
	Remote Capability

	// Owner receives the back-reference used for terminal notifications.
	// Optional; see the Owner docs.
	Owner Owner

	// Fallback constructs the transport when the handles are not
	// selectable or the remote does not advertise chunked binary streams.
	// A transport built here is not managed by the hub.
	Fallback func(r io.Reader, w io.Writer) (Transport, error)
}

type AttachOption func(*AttachOptions)

// WithRemoteCapability records the peer's negotiated capability token.
func WithRemoteCapability(c Capability) AttachOption {
	return func(o *AttachOptions) { o.Remote = c }
}

// WithOwner records the owning channel for terminal notifications.
func WithOwner(o Owner) AttachOption {
	return func(ao *AttachOptions) { ao.Owner = o }
}

// WithFallback supplies the non-selectable / non-chunked escape hatch.
func WithFallback(fn func(r io.Reader, w io.Writer) (Transport, error)) AttachOption {
	return func(o *AttachOptions) { o.Fallback = fn }
}

// Attach builds a transport over a pair of byte streams and registers it
// with the running hub.
//
// Both streams must expose their descriptor via syscall.Conn to be
// selectable. When the same object backs both directions the result is a
// mono transport over one duplicated duplex descriptor; otherwise each
// direction gets its own duplicate. Non-selectable handles and remotes
// without chunked binary support route to the Fallback constructor, or fail
// with ErrNotSelectable / ErrCapability when none is set.
//
// The returned transport is mute until Setup installs its receiver; its
// registration is applied by the selector loop.
func (h *Hub) Attach(r io.Reader, w io.Writer, opts ...AttachOption) (Transport, error) {
	if r == nil || w == nil {
		return nil, ErrInvalidArgument
	}
	o := AttachOptions{Remote: CapChunked | CapBinary}
	for _, fn := range opts {
		fn(&o)
	}
	if !h.Running() {
		return nil, ErrHubNotRunning
	}

	rc, rok := r.(syscall.Conn)
	wc, wok := w.(syscall.Conn)
	if !rok || !wok {
		return fallbackOr(o, r, w, ErrNotSelectable)
	}
	if !o.Remote.Has(CapChunked | CapBinary) {
		return fallbackOr(o, r, w, ErrCapability)
	}

	if sameHandle(r, w) {
		fd, err := poll.DupConn(rc)
		if err != nil {
			return nil, errors.Wrap(err, "duplicating duplex handle")
		}
		t := newMonoTransport(h, fd, o.Remote, o.Owner)
		h.schedule(t.register)
		return t, nil
	}

	rfd, err := poll.DupConn(rc)
	if err != nil {
		return nil, errors.Wrap(err, "duplicating read handle")
	}
	wfd, err := poll.DupConn(wc)
	if err != nil {
		poll.Close(rfd) //nolint:errcheck
		return nil, errors.Wrap(err, "duplicating write handle")
	}
	t := newDualTransport(h, rfd, wfd, o.Remote, o.Owner)
	h.schedule(t.register)
	return t, nil
}

func fallbackOr(o AttachOptions, r io.Reader, w io.Writer, err error) (Transport, error) {
	if o.Fallback != nil {
		return o.Fallback(r, w)
	}
	return nil, err
}

// sameHandle reports whether one object backs both stream directions.
func sameHandle(r io.Reader, w io.Writer) bool {
	rv := reflect.ValueOf(r)
	wv := reflect.ValueOf(w)
	if rv.Kind() != reflect.Pointer || wv.Kind() != reflect.Pointer {
		return false
	}
	return rv.Pointer() == wv.Pointer()
}
