/*

This file contains the two guard primitives wrapped around every
state-mutating engine entry point: an emergency pause flag and a single-slot
re-entrancy latch. The latch is the primary defense against callback-based
draining while the engine is inside an external staking or strategy call.

*/

package guard

import (
	"errors"
	"sync/atomic"
)

// Error definitions for zero-tolerance error handling
var (
	ErrPaused     = errors.New("vault is paused")
	ErrNotPaused  = errors.New("vault is not paused")
	ErrReentrancy = errors.New("re-entrant call detected")
)

const (
	notEntered uint32 = 0
	entered    uint32 = 1
)

// Latch is a single-slot re-entrancy latch claimed before any blocking lock.
// A second Enter while the latch is held aborts immediately instead of
// queueing, so a collaborator that calls back into the engine mid-operation
// fails fast with ErrReentrancy rather than deadlocking on the engine mutex.
type Latch struct {
	status atomic.Uint32
}

// NewLatch returns a latch in the not-entered state.
func NewLatch() *Latch {
	return &Latch{}
}

// Enter claims the latch, failing with ErrReentrancy if it is already held.
func (l *Latch) Enter() error {
	if !l.status.CompareAndSwap(notEntered, entered) {
		return ErrReentrancy
	}
	return nil
}

// Exit releases the latch. Safe to call from a deferred statement.
func (l *Latch) Exit() {
	l.status.Store(notEntered)
}

// IsEntered reports whether the latch is currently held.
func (l *Latch) IsEntered() bool {
	return l.status.Load() == entered
}

// Pausable is the emergency pause flag. Pausing blocks deposits and
// compounding but never withdrawals, so a pause cannot trap user funds.
type Pausable struct {
	paused bool
}

// NewPausable returns an unpaused flag.
func NewPausable() *Pausable {
	return &Pausable{}
}

// Pause sets the flag, failing with ErrPaused if already set.
func (p *Pausable) Pause() error {
	if p.paused {
		return ErrPaused
	}
	p.paused = true
	return nil
}

// Unpause clears the flag, failing with ErrNotPaused if not set.
func (p *Pausable) Unpause() error {
	if !p.paused {
		return ErrNotPaused
	}
	p.paused = false
	return nil
}

// IsPaused reports the current flag state.
func (p *Pausable) IsPaused() bool {
	return p.paused
}

// WhenNotPaused fails with ErrPaused while the flag is set.
func (p *Pausable) WhenNotPaused() error {
	if p.paused {
		return ErrPaused
	}
	return nil
}
