// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package manager

import (
	"context"
	"sync"
	"time"
)

// Timer kinds for schedule-or-replace coalescing. One pending timer
// exists per kind; re-arming replaces the previous one.
const (
	timerBatch = iota
	timerReset
	timerCaptivePosted
	timerCaptiveRemoved
)

// dispatcher serializes all manager state mutation onto one goroutine and
// owns the single-shot coalescing timers. Scheduled functions run on the
// same goroutine as submitted ones, so no two flushes ever overlap.
type dispatcher struct {
	tasks chan func()

	mu     sync.Mutex
	timers map[int]*time.Timer
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		tasks:  make(chan func(), 256),
		timers: make(map[int]*time.Timer),
	}
}

// Serve runs tasks until ctx is cancelled. Implements suture.Service.
func (d *dispatcher) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			for kind, t := range d.timers {
				t.Stop()
				delete(d.timers, kind)
			}
			d.mu.Unlock()
			return ctx.Err()
		case fn := <-d.tasks:
			fn()
		}
	}
}

// Submit enqueues fn for execution on the dispatch goroutine.
func (d *dispatcher) Submit(fn func()) {
	d.tasks <- fn
}

// Schedule arms (or re-arms) the kind's single-shot timer. A pending
// timer of the same kind is cancelled first, which gives burst coalescing:
// only the last arm within the delay fires.
func (d *dispatcher) Schedule(kind int, delay time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[kind]; ok {
		t.Stop()
	}
	d.timers[kind] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.timers, kind)
		d.mu.Unlock()
		d.Submit(fn)
	})
}

// CancelTimer stops the kind's pending timer, if any.
func (d *dispatcher) CancelTimer(kind int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[kind]; ok {
		t.Stop()
		delete(d.timers, kind)
	}
}

// String implements fmt.Stringer for supervisor logs.
func (d *dispatcher) String() string { return "manager-dispatcher" }
