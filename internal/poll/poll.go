// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package poll wraps the OS readiness mechanism behind a small selector
// API: register file descriptors, declare read/write interest, block until
// something is ready, wake the waiter from any goroutine.
//
// Implementation is platform-specific: epoll plus an eventfd wakeup on
// linux, kqueue plus a self-pipe wakeup on darwin. Both are level-triggered
// so interest recomputation stays idempotent.
package poll

import "errors"

// Event reports readiness of one registered descriptor. Error and hang-up
// conditions surface as readiness on both directions so the owner observes
// them on its next non-blocking read or write.
type Event struct {
	FD       int
	Readable bool
	Writable bool
}

// ErrClosed reports a Wait on a closed Poller. It is the normal exit signal
// of a selector loop.
var ErrClosed = errors.New("poll: poller closed")
