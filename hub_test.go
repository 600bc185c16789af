// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package muxhub_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"code.hybscloud.com/muxhub"
)

func startHub(t *testing.T, opts ...muxhub.Option) *muxhub.Hub {
	t.Helper()
	h, err := muxhub.New(opts...)
	require.NoError(t, err)
	go h.Run() //nolint:errcheck
	require.Eventually(t, h.Running, time.Second, time.Millisecond)
	t.Cleanup(func() { h.Close() })
	return h
}

// collector records receiver callbacks.
type collector struct {
	mu    sync.Mutex
	msgs  [][]byte
	terms []error
	// callbacks observed after Terminate, which the contract forbids
	late int
}

func (c *collector) Handle(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.terms) > 0 {
		c.late++
		return
	}
	c.msgs = append(c.msgs, append([]byte(nil), p...))
}

func (c *collector) Terminate(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.terms) > 0 {
		c.late++
		return
	}
	c.terms = append(c.terms, err)
}

func (c *collector) messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.msgs))
	copy(out, c.msgs)
	return out
}

func (c *collector) terminations() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.terms...)
}

func (c *collector) lateCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.late
}

// attachPipes wires a dual transport over two pipe pairs and returns the
// peer's ends: write into feed to reach the transport, read drain to
// observe what it emits. The originals handed to the hub are closed so the
// duplicated descriptors are the only remaining ends.
func attachPipes(t *testing.T, h *muxhub.Hub, opts ...muxhub.AttachOption) (tr muxhub.Transport, feed *os.File, drain *os.File) {
	t.Helper()
	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	qr, qw, err := os.Pipe()
	require.NoError(t, err)

	tr, err = h.Attach(pr, qw, opts...)
	require.NoError(t, err)
	require.NoError(t, pr.Close())
	require.NoError(t, qw.Close())
	t.Cleanup(func() {
		pw.Close()
		qr.Close()
	})
	return tr, pw, qr
}

// readMessage blocks on the wire until one whole message is assembled.
func readMessage(t *testing.T, r io.Reader) []byte {
	t.Helper()
	msg := []byte{}
	for {
		var hdr [2]byte
		_, err := io.ReadFull(r, hdr[:])
		require.NoError(t, err)
		length, last := muxhub.ParseChunkHeader(hdr[0], hdr[1])
		buf := make([]byte, length)
		_, err = io.ReadFull(r, buf)
		require.NoError(t, err)
		msg = append(msg, buf...)
		if last {
			return msg
		}
	}
}

func packMessage(frameSize int, payload []byte) []byte {
	var wire []byte
	rem := payload
	for first := true; first || len(rem) > 0; first = false {
		n := len(rem)
		if n > frameSize {
			n = frameSize
		}
		hi, lo := muxhub.PackChunkHeader(n, len(rem) > n)
		wire = append(wire, hi, lo)
		wire = append(wire, rem[:n]...)
		rem = rem[n:]
	}
	return wire
}

func TestSingleMessage(t *testing.T) {
	h := startHub(t)
	tr, feed, _ := attachPipes(t, h)

	col := &collector{}
	tr.Setup(col)

	_, err := feed.Write([]byte{0x80, 0x05, 'h', 'e', 'l', 'l', 'o'})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(col.messages()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "hello", string(col.messages()[0]))

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, col.messages(), 1)
	assert.Empty(t, col.terminations())
}

func TestWriteBlockFragmentsOnTheWire(t *testing.T) {
	h := startHub(t, muxhub.WithFrameSize(4))
	tr, _, drain := attachPipes(t, h)

	payload := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	require.NoError(t, tr.WriteBlock(context.Background(), payload))

	wire := make([]byte, 16)
	_, err := io.ReadFull(drain, wire)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x00, 0x04, 0, 1, 2, 3,
		0x00, 0x04, 4, 5, 6, 7,
		0x80, 0x02, 8, 9,
	}, wire)
}

func TestMultiChunkReassembly(t *testing.T) {
	h := startHub(t)
	tr, feed, _ := attachPipes(t, h)

	col := &collector{}
	tr.Setup(col)

	payload := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	_, err := feed.Write(packMessage(4, payload))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(col.messages()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, payload, col.messages()[0])
}

func TestSplitHeaderAcrossReceives(t *testing.T) {
	h := startHub(t)
	tr, feed, _ := attachPipes(t, h)

	col := &collector{}
	tr.Setup(col)

	_, err := feed.Write([]byte{0x80})
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, col.messages())

	_, err = feed.Write([]byte{0x03, 'a', 'b', 'c'})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(col.messages()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "abc", string(col.messages()[0]))
}

func TestMultipleMessagesInOneBurst(t *testing.T) {
	h := startHub(t)
	tr, feed, _ := attachPipes(t, h)

	col := &collector{}
	tr.Setup(col)

	burst := append(packMessage(8192, []byte("first")), packMessage(2, []byte("second"))...)
	burst = append(burst, packMessage(8192, nil)...)
	_, err := feed.Write(burst)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(col.messages()) == 3 }, time.Second, time.Millisecond)
	msgs := col.messages()
	assert.Equal(t, "first", string(msgs[0]))
	assert.Equal(t, "second", string(msgs[1]))
	assert.Empty(t, msgs[2])
}

func TestTerminatorChunk(t *testing.T) {
	h := startHub(t, muxhub.WithFrameSize(4))
	tr, feed, _ := attachPipes(t, h)

	col := &collector{}
	tr.Setup(col)

	// A full-size chunk with has-more set, closed by an empty terminator.
	_, err := feed.Write([]byte{0x00, 0x04, 'a', 'b', 'c', 'd', 0x80, 0x00})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(col.messages()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "abcd", string(col.messages()[0]))
}

func TestZeroLengthMessageRoundTrip(t *testing.T) {
	h := startHub(t)
	tr, feed, drain := attachPipes(t, h)

	col := &collector{}
	tr.Setup(col)

	require.NoError(t, tr.WriteBlock(context.Background(), nil))
	wire := make([]byte, 2)
	_, err := io.ReadFull(drain, wire)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x80, 0x00}, wire)

	_, err = feed.Write([]byte{0x80, 0x00})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(col.messages()) == 1 }, time.Second, time.Millisecond)
	assert.Empty(t, col.messages()[0])
}

func TestTwoTransportsStayIsolated(t *testing.T) {
	h := startHub(t)
	ta, feedA, _ := attachPipes(t, h)
	tb, feedB, _ := attachPipes(t, h)

	colA := &collector{}
	colB := &collector{}
	ta.Setup(colA)
	tb.Setup(colB)

	_, err := feedA.Write([]byte{0x80, 0x01, 'A'})
	require.NoError(t, err)
	_, err = feedB.Write([]byte{0x80, 0x02, 'B', 'B'})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(colA.messages()) == 1 && len(colB.messages()) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, "A", string(colA.messages()[0]))
	assert.Equal(t, "BB", string(colB.messages()[0]))

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, colA.messages(), 1)
	assert.Len(t, colB.messages(), 1)
}

func TestCleanEOFAfterMessage(t *testing.T) {
	h := startHub(t)
	tr, feed, _ := attachPipes(t, h)

	col := &collector{}
	tr.Setup(col)

	_, err := feed.Write([]byte{0x80, 0x05, 'h', 'e', 'l', 'l', 'o'})
	require.NoError(t, err)
	require.NoError(t, feed.Close())

	require.Eventually(t, func() bool { return len(col.terminations()) == 1 }, time.Second, time.Millisecond)
	require.Len(t, col.messages(), 1)
	assert.Equal(t, "hello", string(col.messages()[0]))
	assert.ErrorIs(t, col.terminations()[0], io.ErrUnexpectedEOF)
	assert.Zero(t, col.lateCalls())
}

func TestLocalCloseSuppressesEOFEvent(t *testing.T) {
	h := startHub(t)
	tr, feed, _ := attachPipes(t, h)

	col := &collector{}
	tr.Setup(col)

	tr.CloseRead()
	time.Sleep(20 * time.Millisecond)
	feed.Close()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, col.terminations())
	assert.Empty(t, col.messages())
}

func TestCommandOverflowAbortsTransport(t *testing.T) {
	h := startHub(t, muxhub.WithFrameSize(16), muxhub.WithReadBuffer(16, 64))
	tr, feed, _ := attachPipes(t, h)

	col := &collector{}
	tr.Setup(col)

	// A never-ending message: one has-more chunk whose bytes fill the read
	// buffer to its hard cap without completing the packet.
	wire := append([]byte{0x00, 0x3e}, bytes.Repeat([]byte{0xab}, 62)...)
	_, err := feed.Write(wire)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(col.terminations()) == 1 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, col.terminations()[0], muxhub.ErrCommandOverflow)
	assert.Empty(t, col.messages())
}

func TestMalformedChunkStreamAbortsTransport(t *testing.T) {
	h := startHub(t)
	tr, feed, _ := attachPipes(t, h)

	col := &collector{}
	tr.Setup(col)

	// Zero-length continuation chunks are illegal on the wire.
	_, err := feed.Write([]byte{0x00, 0x00})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(col.terminations()) == 1 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, col.terminations()[0], muxhub.ErrFraming)
	assert.Empty(t, col.messages())
}

func TestCloseWriteFlushesQueuedBytes(t *testing.T) {
	h := startHub(t)
	tr, _, drain := attachPipes(t, h)

	require.NoError(t, tr.WriteBlock(context.Background(), []byte("flush me")))
	tr.CloseWrite()

	assert.Equal(t, "flush me", string(readMessage(t, drain)))

	// Once drained, the write handle is half-closed: the peer sees EOF.
	var one [1]byte
	_, err := drain.Read(one[:])
	assert.ErrorIs(t, err, io.EOF)
}

func TestSingleWriterBackpressure(t *testing.T) {
	h := startHub(t)
	tr, _, drain := attachPipes(t, h)

	payload := make([]byte, 1<<20)
	for i := range payload {
		payload[i] = byte(i * 31)
	}

	done := make(chan error, 1)
	go func() {
		done <- tr.WriteBlock(context.Background(), payload)
	}()

	got := readMessage(t, drain)
	require.NoError(t, <-done)
	require.Len(t, got, len(payload))
	assert.True(t, bytes.Equal(payload, got))
}

func TestWriteOrderAcrossBlocks(t *testing.T) {
	h := startHub(t, muxhub.WithFrameSize(32))
	tr, _, drain := attachPipes(t, h)

	var want [][]byte
	for i := 0; i < 50; i++ {
		want = append(want, bytes.Repeat([]byte{byte(i)}, 70))
	}
	go func() {
		for _, m := range want {
			if err := tr.WriteBlock(context.Background(), m); err != nil {
				return
			}
		}
	}()

	for i, m := range want {
		got := readMessage(t, drain)
		require.Equal(t, m, got, "message %d out of order or corrupt", i)
	}
}

func TestHubCloseAbortsTransports(t *testing.T) {
	h := startHub(t)
	tr, _, _ := attachPipes(t, h)

	col := &collector{}
	tr.Setup(col)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, h.Close())

	require.Eventually(t, func() bool { return len(col.terminations()) == 1 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, col.terminations()[0], muxhub.ErrHubClosed)
}

func TestSetupTwicePanics(t *testing.T) {
	h := startHub(t)
	tr, _, _ := attachPipes(t, h)

	tr.Setup(&collector{})
	assert.Panics(t, func() { tr.Setup(&collector{}) })
}

// closingOwner models an owning channel mid local close.
type closingOwner struct{ closing bool }

func (o *closingOwner) Closing() bool { return o.closing }

func TestOwnerClosingSuppressesEOFEvent(t *testing.T) {
	h := startHub(t)
	tr, feed, _ := attachPipes(t, h, muxhub.WithOwner(&closingOwner{closing: true}))

	col := &collector{}
	tr.Setup(col)

	_, err := feed.Write([]byte{0x80, 0x01, 'z'})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(col.messages()) == 1 }, time.Second, time.Millisecond)

	feed.Close()
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, col.terminations())
}

func TestFramingRoundTripAcrossFrameSizes(t *testing.T) {
	payload := make([]byte, 2000)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	for _, frameSize := range []int{1, 3, 8, 512, muxhub.MaxChunkPayload} {
		h := startHub(t, muxhub.WithFrameSize(frameSize))
		tr, feed, drain := attachPipes(t, h)

		col := &collector{}
		tr.Setup(col)

		// Writer side: fragment through the transport, observe the wire.
		require.NoError(t, tr.WriteBlock(context.Background(), payload))
		assert.Equal(t, payload, readMessage(t, drain), "frameSize=%d", frameSize)

		// Reader side: feed the same framing back through the reassembler.
		go feed.Write(packMessage(frameSize, payload)) //nolint:errcheck
		require.Eventually(t, func() bool { return len(col.messages()) == 1 },
			time.Second, time.Millisecond, "frameSize=%d", frameSize)
		assert.Equal(t, payload, col.messages()[0], "frameSize=%d", frameSize)

		h.Close() //nolint:errcheck
	}
}

func TestSetFrameSizeValidation(t *testing.T) {
	h := startHub(t)
	require.NoError(t, h.SetFrameSize(1))
	require.NoError(t, h.SetFrameSize(muxhub.MaxChunkPayload))
	assert.Error(t, h.SetFrameSize(0))
	assert.Error(t, h.SetFrameSize(muxhub.MaxChunkPayload+1))

	_, err := muxhub.New(muxhub.WithFrameSize(-3))
	assert.ErrorIs(t, err, muxhub.ErrInvalidArgument)
}
