// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package muxhub_test

import (
	"testing"

	"code.hybscloud.com/muxhub"
)

func TestChunkHeaderRoundTrip(t *testing.T) {
	for length := 0; length <= muxhub.MaxChunkPayload; length++ {
		for _, hasMore := range []bool{false, true} {
			hi, lo := muxhub.PackChunkHeader(length, hasMore)
			gotLen, gotLast := muxhub.ParseChunkHeader(hi, lo)
			if gotLen != length || gotLast == hasMore {
				t.Fatalf("round trip (%d, %v): got (%d, last=%v)", length, hasMore, gotLen, gotLast)
			}
		}
	}
}

func TestChunkHeaderWireLayout(t *testing.T) {
	cases := []struct {
		length  int
		hasMore bool
		hi, lo  byte
	}{
		{0, false, 0x80, 0x00},
		{5, false, 0x80, 0x05},
		{4, true, 0x00, 0x04},
		{2, false, 0x80, 0x02},
		{256, true, 0x01, 0x00},
		{muxhub.MaxChunkPayload, true, 0x7f, 0xff},
		{muxhub.MaxChunkPayload, false, 0xff, 0xff},
	}
	for i, c := range cases {
		hi, lo := muxhub.PackChunkHeader(c.length, c.hasMore)
		if hi != c.hi || lo != c.lo {
			t.Fatalf("case[%d]: pack(%d, %v) = %#02x %#02x, want %#02x %#02x",
				i, c.length, c.hasMore, hi, lo, c.hi, c.lo)
		}
		length, last := muxhub.ParseChunkHeader(c.hi, c.lo)
		if length != c.length || last == c.hasMore {
			t.Fatalf("case[%d]: parse(%#02x %#02x) = (%d, last=%v)", i, c.hi, c.lo, length, last)
		}
	}
}

func TestChunkHeaderRange(t *testing.T) {
	for _, bad := range []int{-1, muxhub.MaxChunkPayload + 1} {
		func() {
			defer func() {
				if recover() == nil {
					t.Fatalf("pack(%d) did not panic", bad)
				}
			}()
			muxhub.PackChunkHeader(bad, false)
		}()
	}
}
