// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package muxhub

import "sync"

// Executor runs callbacks on behalf of the hub. It is the boundary to the
// shared worker pool: the hub never runs receiver callbacks on the selector
// goroutine, it hands them to the Executor through per-transport lanes.
//
// Execute must not block the caller; it schedules fn to run soon on some
// worker. Implementations are typically fixed-size pools.
type Executor interface {
	Execute(fn func())
}

// goExecutor is the default Executor: one short-lived goroutine per drain.
type goExecutor struct{}

func (goExecutor) Execute(fn func()) { go fn() }

// lane sequences submissions for one transport over the shared Executor:
// tasks of one lane run one at a time in submission order, while distinct
// lanes make independent progress.
//
// The lane is a two-state machine. Submitting to an idle lane schedules one
// executor task that drains the local queue in order and parks the lane
// again once empty.
type lane struct {
	exec Executor

	mu      sync.Mutex
	queue   []func()
	running bool
}

func newLane(exec Executor) *lane {
	return &lane{exec: exec}
}

func (l *lane) submit(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()
	l.exec.Execute(l.drain)
}

func (l *lane) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.running = false
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()
		fn()
	}
}
