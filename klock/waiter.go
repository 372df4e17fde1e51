package klock

import "runtime"

//go:generate mockgen -package mocks -destination mocks/waiter.go github.com/thek-os/segheap/klock Waiter

// Waiter decides how a contended acquirer passes the time until its ticket is served
type Waiter interface {
	// Wait is called once after each unsuccessful poll of the serving counter. spins is the
	// number of polls made so far by this acquirer and starts at 1.
	Wait(spins uint64)
}

// SpinWaiter busy-waits: Wait returns immediately and the acquirer polls again
type SpinWaiter struct{}

func (SpinWaiter) Wait(spins uint64) {}

// YieldWaiter busy-waits for SpinLimit polls and yields the processor on every poll after that
type YieldWaiter struct {
	SpinLimit uint64
}

func (w YieldWaiter) Wait(spins uint64) {
	if spins > w.SpinLimit {
		runtime.Gosched()
	}
}

var _ Waiter = SpinWaiter{}
var _ Waiter = YieldWaiter{}
