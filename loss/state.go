// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package loss

import "sync/atomic"

// State is the lifecycle position of a Publisher or Subscriber.
type State uint32

// Publisher: Connecting -> Sending -> Draining -> Closed.
// Subscriber: Connecting -> Subscribed -> AwaitingStart -> Counting ->
// Completed | Stalled -> Closed.
const (
	StateIdle State = iota
	StateConnecting
	StateSending
	StateDraining
	StateSubscribed
	StateAwaitingStart
	StateCounting
	StateCompleted
	StateStalled
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSending:
		return "sending"
	case StateDraining:
		return "draining"
	case StateSubscribed:
		return "subscribed"
	case StateAwaitingStart:
		return "awaiting_start"
	case StateCounting:
		return "counting"
	case StateCompleted:
		return "completed"
	case StateStalled:
		return "stalled"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// stateManager handles atomic state transitions.
type stateManager struct {
	state uint32
}

func newStateManager() *stateManager {
	return &stateManager{state: uint32(StateIdle)}
}

func (sm *stateManager) get() State {
	return State(atomic.LoadUint32(&sm.state))
}

func (sm *stateManager) set(s State) {
	atomic.StoreUint32(&sm.state, uint32(s))
}

// transition moves from one state to another. Returns true if successful.
func (sm *stateManager) transition(from, to State) bool {
	return atomic.CompareAndSwapUint32(&sm.state, uint32(from), uint32(to))
}

// is reports whether the current state is one of states.
func (sm *stateManager) is(states ...State) bool {
	cur := sm.get()
	for _, s := range states {
		if cur == s {
			return true
		}
	}
	return false
}
