// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package muxhub

import (
	"context"
	"io"
	"sync"

	"code.hybscloud.com/iox"
)

// FifoBuffer is a bounded, growable single-producer / single-consumer byte
// queue with close semantics.
//
// The buffer starts at its initial capacity and grows geometrically on
// demand up to a hard limit; it never shrinks. readable+writable never
// exceeds the limit. One producer goroutine and one consumer goroutine may
// act simultaneously; Close is idempotent and safe from either side.
//
// Producers block in Write when the buffer is full. Every other operation is
// non-blocking: Receive pulls from a source until it reports ErrWouldBlock,
// Send pushes to a sink the same way.
type FifoBuffer struct {
	mu     sync.Mutex
	buf    []byte
	rpos   int // index of the first readable byte
	cnt    int // readable byte count
	limit  int // hard cap on readable+writable
	closed bool

	// Edge signals: closed and replaced when space frees up / data arrives
	// or when the buffer closes.
	space chan struct{}
	data  chan struct{}
}

// NewFifoBuffer returns an empty buffer with the given initial capacity and
// hard limit. initial is clamped into [1, limit]; limit must be positive.
func NewFifoBuffer(initial, limit int) *FifoBuffer {
	if limit <= 0 {
		panic("muxhub: non-positive FifoBuffer limit")
	}
	if initial < 1 {
		initial = 1
	}
	if initial > limit {
		initial = limit
	}
	return &FifoBuffer{
		buf:   make([]byte, initial),
		limit: limit,
		space: make(chan struct{}),
		data:  make(chan struct{}),
	}
}

// Readable returns the number of bytes available to Read.
func (b *FifoBuffer) Readable() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cnt
}

// Writable returns the number of bytes the buffer can still accept,
// counting capacity it may yet grow into.
func (b *FifoBuffer) Writable() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limit - b.cnt
}

// Closed reports whether Close has been called.
func (b *FifoBuffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close marks the buffer closed and wakes all waiters. Remaining bytes stay
// readable; further writes fail with ErrBufferClosed.
func (b *FifoBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.signalSpace()
	b.signalData()
}

// signalSpace and signalData publish one edge each. Callers hold b.mu.
func (b *FifoBuffer) signalSpace() {
	close(b.space)
	b.space = make(chan struct{})
}

func (b *FifoBuffer) signalData() {
	close(b.data)
	b.data = make(chan struct{})
}

// grow linearizes the ring into a larger backing slice. Callers hold b.mu.
// want is the total byte count the buffer must be able to hold.
func (b *FifoBuffer) grow(want int) {
	if want > b.limit {
		want = b.limit
	}
	if want <= len(b.buf) {
		return
	}
	size := len(b.buf)
	for size < want {
		size <<= 1
	}
	if size > b.limit {
		size = b.limit
	}
	nb := make([]byte, size)
	n := copy(nb, b.buf[b.rpos:])
	copy(nb[n:], b.buf[:b.rpos])
	b.buf = nb
	b.rpos = 0
}

// copyIn appends p to the ring. Callers hold b.mu and have ensured capacity.
func (b *FifoBuffer) copyIn(p []byte) {
	wpos := (b.rpos + b.cnt) % len(b.buf)
	n := copy(b.buf[wpos:], p)
	if n < len(p) {
		copy(b.buf, p[n:])
	}
	b.cnt += len(p)
}

// Write appends p, blocking while the buffer is full until space appears,
// the buffer closes, or ctx is cancelled. On cancellation the prefix copied
// so far stays queued and ctx.Err() is returned.
func (b *FifoBuffer) Write(ctx context.Context, p []byte) error {
	b.mu.Lock()
	if len(p) == 0 {
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return ErrBufferClosed
		}
		return nil
	}
	for {
		if b.closed {
			b.mu.Unlock()
			return ErrBufferClosed
		}
		if free := b.limit - b.cnt; free > 0 {
			n := len(p)
			if n > free {
				n = free
			}
			b.grow(b.cnt + n)
			b.copyIn(p[:n])
			p = p[n:]
			b.signalData()
			if len(p) == 0 {
				b.mu.Unlock()
				return nil
			}
		}
		ch := b.space
		b.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
		b.mu.Lock()
	}
}

// Read copies up to len(p) readable bytes into p without blocking and
// returns the number copied, possibly zero.
func (b *FifoBuffer) Read(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.cnt
	if n > len(p) {
		n = len(p)
	}
	if n == 0 {
		return 0
	}
	c := copy(p[:n], b.buf[b.rpos:])
	if c < n {
		copy(p[c:n], b.buf)
	}
	b.rpos = (b.rpos + n) % len(b.buf)
	b.cnt -= n
	b.signalSpace()
	return n
}

// Peek copies readable bytes starting offset bytes past the head into p
// without consuming them. It returns the number of bytes copied, which is
// less than len(p) when not enough bytes are buffered.
func (b *FifoBuffer) Peek(offset int, p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	avail := b.cnt - offset
	if avail <= 0 {
		return 0
	}
	n := len(p)
	if n > avail {
		n = avail
	}
	pos := (b.rpos + offset) % len(b.buf)
	c := copy(p[:n], b.buf[pos:])
	if c < n {
		copy(p[c:n], b.buf)
	}
	return n
}

// Receive pulls bytes from a non-blocking source into the buffer's free
// region until the source reports ErrWouldBlock, the source is exhausted, or
// the buffer is full at its hard limit. It never blocks.
//
// It returns the number of bytes moved. err is io.EOF when the source
// reached end of stream, nil on would-block or a full buffer,
// ErrBufferClosed once the buffer is closed, and the source's error
// otherwise.
func (b *FifoBuffer) Receive(src io.Reader) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for {
		if b.closed {
			return total, ErrBufferClosed
		}
		if b.limit == b.cnt {
			return total, nil
		}
		if len(b.buf) == b.cnt {
			b.grow(len(b.buf) * 2)
		}
		wpos := (b.rpos + b.cnt) % len(b.buf)
		seg := len(b.buf) - wpos
		if free := len(b.buf) - b.cnt; seg > free {
			seg = free
		}
		n, err := src.Read(b.buf[wpos : wpos+seg])
		if n > 0 {
			b.cnt += n
			total += n
			b.signalData()
		}
		switch {
		case err == iox.ErrWouldBlock:
			return total, nil
		case err != nil:
			return total, err
		case n == 0:
			// Broken source returning (0, nil); treat as no progress.
			return total, nil
		}
	}
}

// Send pushes readable bytes to a non-blocking sink until the sink reports
// ErrWouldBlock or the buffer runs dry. It never blocks.
//
// It returns the number of bytes written. Once the buffer is both empty and
// closed, err is ErrBufferDrained so the caller may half-close the sink.
func (b *FifoBuffer) Send(dst io.Writer) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for {
		if b.cnt == 0 {
			if b.closed {
				return total, ErrBufferDrained
			}
			return total, nil
		}
		seg := b.cnt
		if wrap := len(b.buf) - b.rpos; seg > wrap {
			seg = wrap
		}
		n, err := dst.Write(b.buf[b.rpos : b.rpos+seg])
		if n > 0 {
			b.rpos = (b.rpos + n) % len(b.buf)
			b.cnt -= n
			total += n
			b.signalSpace()
		}
		switch {
		case err == iox.ErrWouldBlock:
			return total, nil
		case err != nil:
			return total, err
		case n == 0:
			return total, io.ErrShortWrite
		}
	}
}
