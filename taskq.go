// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package muxhub

import "sync/atomic"

// taskQueue is an intrusive lock-free multi-producer / single-consumer FIFO.
// Producers are arbitrary goroutines scheduling selector work; the only
// consumer is the hub loop.
type taskQueue struct {
	head atomic.Pointer[taskNode] // consumer end, points at the stub
	tail atomic.Pointer[taskNode]
}

type taskNode struct {
	fn   func() error
	next atomic.Pointer[taskNode]
}

func newTaskQueue() *taskQueue {
	q := new(taskQueue)
	stub := new(taskNode)
	q.head.Store(stub)
	q.tail.Store(stub)
	return q
}

// push enqueues fn. Safe to call from any goroutine.
func (q *taskQueue) push(fn func() error) {
	n := &taskNode{fn: fn}
	prev := q.tail.Swap(n)
	prev.next.Store(n)
}

// pop dequeues the oldest task or returns nil when the queue is empty or a
// push is still in flight. Only the consumer goroutine may call it; an
// in-flight push is always followed by a wakeup, so a nil here never strands
// a task.
func (q *taskQueue) pop() func() error {
	head := q.head.Load()
	next := head.next.Load()
	if next == nil {
		return nil
	}
	q.head.Store(next)
	fn := next.fn
	next.fn = nil
	return fn
}
