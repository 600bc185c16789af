// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package muxhub

// Chunk wire format.
//
// Every message on the wire is a run of chunks. A chunk is a 2-byte header
// followed by `length` payload bytes. Reading the header as a 16-bit value,
// most significant byte first:
//   - bit 15: last flag, 1 on the final chunk of the message
//   - bits 14..0: payload length, 0..32767
//
// A message is the concatenation of consecutive chunk payloads up to and
// including the chunk whose last flag is set. A zero-length chunk is legal
// only as a terminator.

const (
	chunkHeaderLen = 2

	// MaxChunkPayload is the largest payload length a chunk header can encode.
	MaxChunkPayload = 1<<15 - 1

	// DefaultFrameSize is the per-chunk payload cap used by a Hub unless
	// configured otherwise.
	DefaultFrameSize = 8192

	lastChunkFlag = 0x80
)

// PackChunkHeader encodes a chunk header for a payload of the given length.
// hasMore is true when at least one further chunk of the same message
// follows. length must be in [0, MaxChunkPayload].
func PackChunkHeader(length int, hasMore bool) (hi, lo byte) {
	if length < 0 || length > MaxChunkPayload {
		panic("muxhub: chunk payload length out of range")
	}
	hi = byte(length >> 8)
	if !hasMore {
		hi |= lastChunkFlag
	}
	return hi, byte(length)
}

// ParseChunkHeader decodes a 2-byte chunk header. last reports whether the
// chunk is the final chunk of its message.
func ParseChunkHeader(hi, lo byte) (length int, last bool) {
	return int(hi&^lastChunkFlag)<<8 | int(lo), hi&lastChunkFlag != 0
}
