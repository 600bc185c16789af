// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package muxhub

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/pkg/errors"

	"code.hybscloud.com/muxhub/internal/poll"
)

// Receiver consumes reassembled messages of one transport.
//
// Handle is invoked once per message in wire arrival order. Terminate is
// invoked at most once; no callback follows it. The hub never invokes
// either on the selector goroutine: both are dispatched through the
// transport's lane on the shared Executor.
type Receiver interface {
	Handle(payload []byte)
	Terminate(err error)
}

// Owner is the terminal-notification surface of whatever entity owns a
// transport, typically the remoting channel. The owner holds the transport;
// the transport holds this back-reference purely as a relation: it is
// consulted on terminal events and dropped on termination. Closing reports
// whether the owner already initiated a local close, which suppresses the
// peer-EOF terminal event.
type Owner interface {
	Closing() bool
}

// Transport is one registered connection of a Hub.
//
// A transport starts mute: until Setup installs the receiver no read
// interest is declared. WriteBlock may be used immediately. A single
// producer goroutine at a time may call WriteBlock; producers sharing a
// transport must serialize externally.
type Transport interface {
	// WriteBlock fragments payload into chunks of at most the hub's frame
	// size and queues them on the write buffer, blocking while the buffer
	// is full. On ctx cancellation the already queued prefix remains and
	// will still be transmitted.
	WriteBlock(ctx context.Context, payload []byte) error

	// Setup installs the receiver, exactly once, and enables reading.
	Setup(r Receiver)

	// CloseRead half-closes the receive direction.
	CloseRead()

	// CloseWrite half-closes the send direction once queued bytes have
	// been flushed.
	CloseWrite()

	// RemoteCapability returns the opaque token provided at construction.
	RemoteCapability() Capability
}

// variantOps is what a transport variant contributes to the shared state
// machine. Every method except servesRead/servesWrite runs on the hub loop.
type variantOps interface {
	register() error
	reregister() error
	recvSrc() io.Reader
	sendDst() io.Writer
	closeRecvHandle()
	closeSendHandle()
	readOpen() bool
	writeOpen() bool
	servesRead(fd int) bool
	servesWrite(fd int) bool
}

// nioTransport is the state shared by the Mono and Dual variants: the two
// FIFO buffers, the receiver, the dispatch lane and the close/terminate
// bookkeeping.
type nioTransport struct {
	hub  *Hub
	cap  Capability
	rb   *FifoBuffer
	wb   *FifoBuffer
	lane *lane
	self variantOps

	setupDone  atomic.Bool
	localClose atomic.Bool

	// Loop-owned.
	recv       Receiver
	owner      Owner
	terminated bool
}

func (t *nioTransport) init(h *Hub, remote Capability, owner Owner, self variantOps) {
	t.hub = h
	t.cap = remote
	t.owner = owner
	t.rb = NewFifoBuffer(h.rbInit, h.rbLimit)
	t.wb = NewFifoBuffer(h.wbInit, h.wbLimit)
	t.lane = newLane(h.exec)
	t.self = self
}

func (t *nioTransport) RemoteCapability() Capability { return t.cap }

// wantsToRead and wantsToWrite feed the interest recomputation of the
// variants; the half-close state is theirs to factor in.
func (t *nioTransport) wantsToRead() bool  { return t.recv != nil && t.rb.Writable() > 0 }
func (t *nioTransport) wantsToWrite() bool { return t.wb.Readable() > 0 }

func (t *nioTransport) WriteBlock(ctx context.Context, payload []byte) error {
	frame := t.hub.FrameSize()
	rem := payload
	for first := true; first || len(rem) > 0; first = false {
		n := len(rem)
		if n > frame {
			n = frame
		}
		hi, lo := PackChunkHeader(n, len(rem) > n)
		if err := t.wb.Write(ctx, []byte{hi, lo}); err != nil {
			t.scheduleReregister()
			return errors.Wrap(err, "queueing chunk header")
		}
		if err := t.wb.Write(ctx, rem[:n]); err != nil {
			t.scheduleReregister()
			return errors.Wrap(err, "queueing chunk payload")
		}
		rem = rem[n:]
		t.scheduleReregister()
	}
	return nil
}

func (t *nioTransport) Setup(r Receiver) {
	if r == nil {
		panic(ErrInvalidArgument)
	}
	if !t.setupDone.CompareAndSwap(false, true) {
		panic(ErrReceiverSet)
	}
	t.hub.schedule(func() error {
		t.recv = r
		return t.self.reregister()
	})
}

func (t *nioTransport) CloseRead() {
	t.localClose.Store(true)
	t.hub.schedule(func() error {
		t.closeRecvSide()
		return t.self.reregister()
	})
}

func (t *nioTransport) CloseWrite() {
	t.wb.Close()
	t.hub.schedule(func() error {
		if t.wb.Readable() == 0 {
			t.closeSendSide()
		}
		return t.self.reregister()
	})
}

func (t *nioTransport) scheduleReregister() {
	t.hub.schedule(t.self.reregister)
}

// closeRecvSide half-closes the read handle and closes rb. Loop only.
func (t *nioTransport) closeRecvSide() {
	t.hub.assertLoop()
	if t.self.readOpen() {
		t.self.closeRecvHandle()
	}
	t.rb.Close()
}

// closeSendSide half-closes the write handle. Loop only.
func (t *nioTransport) closeSendSide() {
	t.hub.assertLoop()
	if t.self.writeOpen() {
		t.self.closeSendHandle()
	}
}

// handleReadable pumps the read handle into rb, reassembles and dispatches
// packets, and sequences the EOF event once the read side is done. The
// returned error is fatal for the transport. Loop only.
func (t *nioTransport) handleReadable() error {
	if !t.self.readOpen() {
		return nil
	}
	_, err := t.rb.Receive(t.self.recvSrc())
	eof := err == io.EOF
	if err != nil && !eof {
		return err
	}
	if eof {
		t.closeRecvSide()
	}
	if err := t.dispatchPackets(); err != nil {
		return err
	}
	if t.rb.Writable() == 0 && t.rb.Readable() > 0 {
		return ErrCommandOverflow
	}
	if t.rb.Closed() {
		t.queueEOFEvent()
	}
	return nil
}

// handleWritable drains wb into the write handle and half-closes it once
// the buffer is drained and closed. Loop only.
func (t *nioTransport) handleWritable() error {
	if !t.self.writeOpen() {
		return nil
	}
	_, err := t.wb.Send(t.self.sendDst())
	if err == ErrBufferDrained {
		t.closeSendSide()
		return nil
	}
	return err
}

// dispatchPackets scans rb for complete packets and hands each to the lane
// in arrival order. A partial packet stays in rb untouched for the next
// readiness event. Loop only.
func (t *nioTransport) dispatchPackets() error {
	if t.recv == nil {
		return nil
	}
	var hdr [chunkHeaderLen]byte
	for {
		pos, size := 0, 0
		complete := false
		for t.rb.Peek(pos, hdr[:]) == chunkHeaderLen {
			length, last := ParseChunkHeader(hdr[0], hdr[1])
			if length == 0 && !last {
				return errors.Wrap(ErrFraming, "zero-length continuation chunk")
			}
			pos += chunkHeaderLen + length
			size += length
			if last {
				complete = pos <= t.rb.Readable()
				break
			}
		}
		if !complete {
			return nil
		}
		payload := make([]byte, size)
		off := 0
		for {
			t.rb.Read(hdr[:])
			length, last := ParseChunkHeader(hdr[0], hdr[1])
			off += t.rb.Read(payload[off : off+length])
			if last {
				break
			}
		}
		r, p := t.recv, payload
		t.lane.submit(func() { r.Handle(p) })
	}
}

// queueEOFEvent sequences the terminal event after every packet of the
// transport. Suppressed when the local side initiated the close. Loop only.
func (t *nioTransport) queueEOFEvent() {
	if t.terminated {
		return
	}
	t.terminated = true
	local := t.localClose.Load() || (t.owner != nil && t.owner.Closing())
	t.owner = nil
	r := t.recv
	t.lane.submit(func() {
		if local || r == nil {
			return
		}
		r.Terminate(errors.Wrap(io.ErrUnexpectedEOF, "connection closed by peer"))
	})
}

// abort tears the transport down: both halves are closed ignoring I/O
// errors, the registration is cancelled and the receiver is terminated with
// a wrapping error. Loop only.
func (t *nioTransport) abort(cause error) {
	t.hub.assertLoop()
	t.closeRecvSide()
	t.closeSendSide()
	t.wb.Close()
	t.self.reregister() //nolint:errcheck // both halves closed: cancellation path
	if !t.terminated {
		t.terminated = true
		t.owner = nil
		if r := t.recv; r != nil {
			t.lane.submit(func() { r.Terminate(errors.Wrap(cause, "transport aborted")) })
		}
	}
	t.hub.forget(t)
}

// fdReader and fdWriter adapt a raw descriptor to the non-blocking
// source/sink shape FifoBuffer speaks.
type fdReader struct{ fd int }

func (r fdReader) Read(p []byte) (int, error) { return poll.Read(r.fd, p) }

type fdWriter struct{ fd int }

func (w fdWriter) Write(p []byte) (int, error) { return poll.Write(w.fd, p) }
