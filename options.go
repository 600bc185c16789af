// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package muxhub

import (
	"log/slog"
	"math"
)

const (
	defaultBufferInit = 16 << 10

	// Hard caps of the per-transport buffers. The read side only stops at
	// the command-overflow guard; the write side is where backpressure
	// lives.
	defaultReadBufferLimit  = math.MaxInt32
	defaultWriteBufferLimit = 256 << 10
)

// Options configures a Hub.
type Options struct {
	// FrameSize caps the payload length of every emitted chunk,
	// 0 < FrameSize <= MaxChunkPayload.
	FrameSize int

	// Read/write buffer geometry per transport. Buffers start at the
	// initial size and grow geometrically up to the limit.
	ReadBufferInit   int
	ReadBufferLimit  int
	WriteBufferInit  int
	WriteBufferLimit int

	// Executor runs receiver callbacks. The default spawns a goroutine per
	// lane drain; production embedders typically pass their worker pool.
	Executor Executor

	// Logger receives the hub's contained-failure diagnostics.
	Logger *slog.Logger

	// OnSelected observes readiness of registered descriptors that do not
	// belong to a transport.
	OnSelected func(fd int, readable, writable bool)
}

var defaultOptions = Options{
	FrameSize:        DefaultFrameSize,
	ReadBufferInit:   defaultBufferInit,
	ReadBufferLimit:  defaultReadBufferLimit,
	WriteBufferInit:  defaultBufferInit,
	WriteBufferLimit: defaultWriteBufferLimit,
	Executor:         goExecutor{},
}

type Option func(*Options)

// WithFrameSize sets the per-chunk payload cap.
func WithFrameSize(n int) Option {
	return func(o *Options) { o.FrameSize = n }
}

// WithReadBuffer sets the initial size and hard limit of per-transport read
// buffers.
func WithReadBuffer(initial, limit int) Option {
	return func(o *Options) {
		o.ReadBufferInit = initial
		o.ReadBufferLimit = limit
	}
}

// WithWriteBuffer sets the initial size and hard limit of per-transport
// write buffers.
func WithWriteBuffer(initial, limit int) Option {
	return func(o *Options) {
		o.WriteBufferInit = initial
		o.WriteBufferLimit = limit
	}
}

// WithExecutor installs the shared worker pool receiver callbacks run on.
func WithExecutor(e Executor) Option {
	return func(o *Options) {
		if e != nil {
			o.Executor = e
		}
	}
}

// WithLogger installs the hub's logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithSelectHook installs the non-transport readiness hook.
func WithSelectHook(fn func(fd int, readable, writable bool)) Option {
	return func(o *Options) { o.OnSelected = fn }
}
