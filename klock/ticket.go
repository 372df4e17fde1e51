package klock

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// TicketLock is a FIFO-fair mutual exclusion lock around a value of type T. The zero value is an
// unlocked lock around the zero value of T that spins while contended.
type TicketLock[T any] struct {
	nextTicket atomic.Uint64
	nowServing atomic.Uint64
	epoch      atomic.Uint64

	waiter Waiter
	value  T
}

var _ sync.Locker = &TicketLock[struct{}]{}

// New creates a lock that owns value. waiter may be nil, in which case contended acquirers spin.
func New[T any](value T, waiter Waiter) *TicketLock[T] {
	return &TicketLock[T]{
		waiter: waiter,
		value:  value,
	}
}

// Acquire draws the next ticket and waits until it is served. The returned guard grants exclusive
// access to the protected value until Release is called on it, and belongs to the epoch that was
// current when its ticket was served.
//
//	guard := lock.Acquire()
//	defer guard.Release()
func (l *TicketLock[T]) Acquire() *Guard[T] {
	ticket := l.lock()

	return &Guard[T]{
		lock:   l,
		ticket: ticket,
		epoch:  l.epoch.Load(),
	}
}

// TryAcquire takes the lock only if it is free and nobody is queued for it
func (l *TicketLock[T]) TryAcquire() (*Guard[T], bool) {
	serving := l.nowServing.Load()
	if !l.nextTicket.CompareAndSwap(serving, serving+1) {
		return nil, false
	}

	return &Guard[T]{
		lock:   l,
		ticket: serving,
		epoch:  l.epoch.Load(),
	}, true
}

// Do runs fn while holding the lock. The lock is released on every exit path, including a panic
// inside fn.
func (l *TicketLock[T]) Do(fn func(value *T)) {
	guard := l.Acquire()
	defer guard.Release()

	fn(guard.Value())
}

// Lock acquires the lock without producing a guard, so TicketLock can serve as a sync.Locker.
// The protected value is not reachable this way.
func (l *TicketLock[T]) Lock() {
	l.lock()
}

// Unlock releases a lock taken with Lock
func (l *TicketLock[T]) Unlock() {
	l.nowServing.Add(1)
}

func (l *TicketLock[T]) lock() uint64 {
	ticket := l.nextTicket.Add(1) - 1

	var spins uint64
	for l.nowServing.Load() != ticket {
		spins++
		if l.waiter != nil {
			l.waiter.Wait(spins)
		}
	}

	return ticket
}

// Reset forcibly returns the lock to its initial, unlocked state, regardless of who holds it or
// who is queued. Guards issued before the reset become inert: releasing them does nothing.
//
// Reset exists for the abort path, which must be able to read shared state after a holder has
// died while holding the lock. It must never be used in normal operation.
func (l *TicketLock[T]) Reset() {
	l.epoch.Add(1)
	l.nowServing.Store(0)
	l.nextTicket.Store(0)
}

// Pending returns the number of tickets issued but not yet finished, including the holder's
func (l *TicketLock[T]) Pending() uint64 {
	return l.nextTicket.Load() - l.nowServing.Load()
}

// NowServing returns the ticket that currently holds (or may next take) the lock
func (l *TicketLock[T]) NowServing() uint64 {
	return l.nowServing.Load()
}

// Guard is the exclusive, single-use handle returned by Acquire
type Guard[T any] struct {
	lock     *TicketLock[T]
	ticket   uint64
	epoch    uint64
	released bool
}

// Value returns the protected value. The pointer must not be retained past Release.
func (g *Guard[T]) Value() *T {
	if g.released {
		panic("klock: protected value accessed through a released guard")
	}
	return &g.lock.value
}

// Ticket returns the ticket this guard was served with
func (g *Guard[T]) Ticket() uint64 {
	return g.ticket
}

// Release passes the lock to the next ticket. Releasing a guard more than once, or releasing a
// guard issued before a Reset, does nothing.
func (g *Guard[T]) Release() {
	if g.released {
		return
	}
	g.released = true

	if g.lock.epoch.Load() != g.epoch {
		return
	}

	if g.lock.nowServing.CompareAndSwap(g.ticket, g.ticket+1) {
		return
	}

	panic(errors.AssertionFailedf("ticket %d released while ticket %d was being served", g.ticket, g.lock.nowServing.Load()))
}
