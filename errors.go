// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package muxhub

import (
	"errors"

	"code.hybscloud.com/iox"
)

var (
	// ErrInvalidArgument reports an invalid configuration value or nil handle.
	ErrInvalidArgument = errors.New("muxhub: invalid argument")

	// ErrBufferClosed reports a write to a closed FifoBuffer.
	ErrBufferClosed = errors.New("muxhub: buffer closed")

	// ErrBufferDrained is returned by FifoBuffer.Send once every queued byte
	// has been pushed to the sink and the buffer is closed. The caller may
	// half-close the sink.
	ErrBufferDrained = errors.New("muxhub: buffer drained and closed")

	// ErrCommandOverflow reports that a transport's read buffer reached its
	// hard cap without a complete packet in view.
	ErrCommandOverflow = errors.New("muxhub: command buffer overflow")

	// ErrFraming reports a chunk stream that violates the wire contract.
	ErrFraming = errors.New("muxhub: malformed chunk stream")

	// ErrHubNotRunning is returned by Attach before Run has entered the loop.
	ErrHubNotRunning = errors.New("muxhub: hub is not running")

	// ErrHubClosed reports that the hub's selector has been closed.
	ErrHubClosed = errors.New("muxhub: hub closed")

	// ErrNotSelectable reports handles that cannot be registered with the
	// readiness selector and for which no fallback constructor was supplied.
	ErrNotSelectable = errors.New("muxhub: handle is not selectable")

	// ErrCapability reports a remote that does not advertise chunked binary
	// transport and for which no fallback constructor was supplied.
	ErrCapability = errors.New("muxhub: remote does not support chunked binary streams")

	// ErrReceiverSet reports a second Setup call on the same transport.
	ErrReceiverSet = errors.New("muxhub: receiver already installed")
)

// ErrWouldBlock means “no further progress without waiting”.
//
// It is an expected, non-failure control-flow signal for non-blocking I/O.
// Sources handed to FifoBuffer.Receive and sinks handed to FifoBuffer.Send
// are expected to return it instead of blocking; any returned byte count
// still represents real progress.
var ErrWouldBlock = iox.ErrWouldBlock
