// Package klock provides a FIFO-fair ticket lock that owns the value it protects.
//
// Every acquirer draws a ticket and is served strictly in ticket order, so no acquirer can be
// starved by later arrivals. What an acquirer does while it waits for its turn is decided by a
// Waiter: SpinWaiter busy-waits, YieldWaiter hands the processor back to the scheduler once it
// has spun for a while. A blocking backend only has to implement Waiter.
//
// The lock is not reentrant. Acquiring it a second time from the holder deadlocks.
package klock
