// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package muxhub

import (
	"bytes"
	"context"
	"log/slog"
	"runtime"
	"runtime/pprof"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"code.hybscloud.com/muxhub/internal/poll"
)

// Hub multiplexes many framed command streams over a single selector
// goroutine.
//
// The loop is cooperative and never blocks outside the selector wait. All
// registration and half-close state is mutated on the loop exclusively;
// other goroutines request such mutations through the lock-free task queue
// plus a selector wakeup. Receiver callbacks never run on the loop: they are
// sequenced per transport through a lane over the shared Executor.
type Hub struct {
	poller *poll.Poller
	tasks  *taskQueue
	exec   Executor
	logger *slog.Logger

	frameSize atomic.Int32
	rbInit    int
	rbLimit   int
	wbInit    int
	wbLimit   int

	// onSelected handles readiness of descriptors that do not belong to a
	// transport, for embedders layering extra registrations onto the loop.
	onSelected func(fd int, readable, writable bool)

	// Loop-owned.
	byFD       map[int]*nioTransport
	transports map[*nioTransport]struct{}
	gen        uint64

	running   atomic.Bool
	loopID    atomic.Int64
	closeOnce sync.Once
}

// New creates an idle Hub. The selector loop starts when the driver calls
// Run.
func New(opts ...Option) (*Hub, error) {
	o := defaultOptions
	for _, fn := range opts {
		fn(&o)
	}
	if o.FrameSize <= 0 || o.FrameSize > MaxChunkPayload {
		return nil, ErrInvalidArgument
	}
	if o.ReadBufferInit <= 0 || o.WriteBufferInit <= 0 ||
		o.ReadBufferLimit < o.ReadBufferInit || o.WriteBufferLimit < o.WriteBufferInit {
		return nil, ErrInvalidArgument
	}
	// A full chunk must fit in the write buffer or a producer could block
	// before the loop ever learns there is something to drain.
	if o.WriteBufferLimit < o.FrameSize+chunkHeaderLen {
		return nil, ErrInvalidArgument
	}
	if o.Executor == nil {
		o.Executor = goExecutor{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	p, err := poll.Open()
	if err != nil {
		return nil, errors.Wrap(err, "opening selector")
	}
	h := &Hub{
		poller:     p,
		tasks:      newTaskQueue(),
		exec:       o.Executor,
		logger:     o.Logger,
		rbInit:     o.ReadBufferInit,
		rbLimit:    o.ReadBufferLimit,
		wbInit:     o.WriteBufferInit,
		wbLimit:    o.WriteBufferLimit,
		onSelected: o.OnSelected,
		byFD:       make(map[int]*nioTransport),
		transports: make(map[*nioTransport]struct{}),
	}
	h.frameSize.Store(int32(o.FrameSize))
	return h, nil
}

// FrameSize returns the per-chunk payload cap.
func (h *Hub) FrameSize() int { return int(h.frameSize.Load()) }

// SetFrameSize replaces the per-chunk payload cap. Intended to be called in
// advance of traffic; in-flight WriteBlock calls keep the size they started
// with.
func (h *Hub) SetFrameSize(n int) error {
	if n <= 0 || n > MaxChunkPayload || n+chunkHeaderLen > h.wbLimit {
		return ErrInvalidArgument
	}
	h.frameSize.Store(int32(n))
	return nil
}

// Running reports whether the selector loop is active.
func (h *Hub) Running() bool { return h.running.Load() }

// Close shuts the selector down. A concurrent Run aborts every registered
// transport with ErrHubClosed and returns nil. Idempotent.
func (h *Hub) Close() error {
	var err error
	h.closeOnce.Do(func() { err = h.poller.Close() })
	return err
}

// schedule enqueues fn for the loop and wakes the selector. The loop runs
// tasks in submission order at the top of its next iteration.
func (h *Hub) schedule(fn func() error) {
	h.tasks.push(fn)
	h.poller.Wakeup()
}

// adopt records a transport and its descriptors in the loop-owned tables.
func (h *Hub) adopt(t *nioTransport, fds ...int) {
	h.transports[t] = struct{}{}
	for _, fd := range fds {
		h.byFD[fd] = t
	}
}

func (h *Hub) forgetFD(fd int) { delete(h.byFD, fd) }

func (h *Hub) forget(t *nioTransport) { delete(h.transports, t) }

// Run drives the selector loop until Close is called or a selector-level
// I/O error occurs. It must be called at most once.
func (h *Hub) Run() error {
	if !h.running.CompareAndSwap(false, true) {
		return errors.New("muxhub: hub already running")
	}
	h.loopID.Store(goroutineID())
	defer func() {
		h.loopID.Store(0)
		h.running.Store(false)
		if r := recover(); r != nil {
			h.abortAll(errors.Errorf("selector loop panic: %v", r))
			panic(r)
		}
	}()

	evs := make([]poll.Event, 64)
	for {
		for fn := h.tasks.pop(); fn != nil; fn = h.tasks.pop() {
			if err := fn(); err != nil {
				h.logger.Warn("selector task failed", "err", err)
			}
		}

		// Diagnostics only; no program logic may depend on the labels.
		h.gen++
		h.setLoopLabels()

		n, err := h.poller.Wait(evs)
		if err == poll.ErrClosed {
			h.abortAll(ErrHubClosed)
			return nil
		}
		if err != nil {
			h.abortAll(err)
			return errors.Wrap(err, "selector wait")
		}
		for i := 0; i < n; i++ {
			h.dispatch(evs[i])
		}
	}
}

func (h *Hub) dispatch(ev poll.Event) {
	t := h.byFD[ev.FD]
	if t == nil {
		// Stale key, or a registration the embedder layered on.
		if h.onSelected != nil {
			h.onSelected(ev.FD, ev.Readable, ev.Writable)
		}
		return
	}
	var err error
	if ev.Readable && t.self.servesRead(ev.FD) {
		err = t.handleReadable()
	}
	if err == nil && ev.Writable && t.self.servesWrite(ev.FD) {
		err = t.handleWritable()
	}
	if err == nil {
		err = t.self.reregister()
	}
	if err != nil {
		h.logger.Warn("transport failed", "fd", ev.FD, "err", err)
		t.abort(err)
	}
}

func (h *Hub) abortAll(cause error) {
	ts := make([]*nioTransport, 0, len(h.transports))
	for t := range h.transports {
		ts = append(ts, t)
	}
	for _, t := range ts {
		t.abort(cause)
	}
}

// setLoopLabels exposes key count and loop generation as goroutine pprof
// labels, the closest Go analogue to a diagnostic thread rename.
func (h *Hub) setLoopLabels() {
	ctx := pprof.WithLabels(context.Background(), pprof.Labels(
		"muxhub.keys", strconv.Itoa(len(h.byFD)),
		"muxhub.gen", strconv.FormatUint(h.gen, 10),
	))
	pprof.SetGoroutineLabels(ctx)
}

// assertLoop fails loudly when a loop-only operation is invoked from any
// other goroutine.
func (h *Hub) assertLoop() {
	if h.loopID.Load() != goroutineID() {
		panic("muxhub: selector-loop-only operation called from another goroutine")
	}
}

func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(s, ' '); i > 0 {
		if id, err := strconv.ParseInt(string(s[:i]), 10, 64); err == nil {
			return id
		}
	}
	return -1
}
