// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package muxhub

// Capability is the opaque token describing what a negotiated remote
// supports. The hub only interprets the two bits below; embedders may carry
// further bits of their own.
type Capability uint64

const (
	// CapChunked advertises support for the chunked framing layer.
	CapChunked Capability = 1 << iota
	// CapBinary advertises a binary (non text mode) command stream.
	CapBinary
)

// Has reports whether every bit of want is advertised.
func (c Capability) Has(want Capability) bool { return c&want == want }
