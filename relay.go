// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package muxhub

import (
	"context"
	"sync"
)

// Pump is a Receiver that forwards every reassembled message of one
// transport onto another, preserving message boundaries and arrival order.
//
// An optional transform rewrites each payload before forwarding (for
// example compression on a backhaul leg). When the source terminates or the
// transform fails, the pump half-closes the destination's write side so the
// drain still flushes queued messages.
//
// The lane already serializes Handle calls, so a Pump needs no locking on
// the forwarding path itself.
type Pump struct {
	dst       Transport
	transform func(payload []byte) ([]byte, error)

	mu   sync.Mutex
	err  error
	done bool
}

// NewPump returns a pump forwarding into dst. transform may be nil.
func NewPump(dst Transport, transform func(payload []byte) ([]byte, error)) *Pump {
	return &Pump{dst: dst, transform: transform}
}

// Err returns the first failure that stopped the pump, if any.
func (p *Pump) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pump) fail(err error) {
	p.mu.Lock()
	stopped := p.done
	p.done = true
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
	if !stopped {
		p.dst.CloseWrite()
	}
}

func (p *Pump) stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Handle implements Receiver.
func (p *Pump) Handle(payload []byte) {
	if p.stopped() {
		return
	}
	b := payload
	if p.transform != nil {
		var err error
		if b, err = p.transform(payload); err != nil {
			p.fail(err)
			return
		}
	}
	if err := p.dst.WriteBlock(context.Background(), b); err != nil {
		p.fail(err)
	}
}

// Terminate implements Receiver.
func (p *Pump) Terminate(err error) {
	p.fail(err)
}
