// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package muxhub multiplexes many bidirectional framed command streams over
// a single selector goroutine.
//
// Semantics and design:
//   - One readiness loop: a Hub owns one OS selector (epoll/kqueue via
//     internal/poll) and a single goroutine that pumps every registered
//     connection without ever blocking outside the selector wait.
//     Registration and half-close state belong to that goroutine alone;
//     other goroutines inject work through a lock-free task queue plus a
//     selector wakeup.
//   - Per-connection buffering with backpressure: each Transport owns a
//     growable read FIFO and a bounded write FIFO. Producers block in
//     WriteBlock when the write FIFO is full and are woken as the loop
//     drains it; the read side aborts the transport when its hard cap is
//     reached without a complete packet in view.
//   - Chunked framing: messages travel as runs of length-prefixed chunks
//     (2-byte header, 15-bit length, last flag; see chunk.go). The loop
//     reassembles whole messages before dispatch and preserves partial
//     packets across readiness events.
//   - Ordered dispatch: reassembled messages are handed to the transport's
//     Receiver through a per-transport lane over a shared Executor —
//     serial per transport, parallel across transports, never on the
//     selector goroutine. The terminal event of a transport is sequenced
//     after its last message.
//   - Half-close and abort: mono transports shut down socket directions
//     independently and release the descriptor once both are gone; dual
//     transports close each descriptor outright. Aborts close both halves,
//     cancel the registration and terminate the receiver with the cause.
//
// Non-blocking control flow follows iox conventions: sources and sinks
// surface iox.ErrWouldBlock (re-exported as ErrWouldBlock) instead of
// blocking, and the loop relies on readiness to retry.
package muxhub
