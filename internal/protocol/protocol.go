// Package protocol holds the pieces shared by every settlement state machine:
// the lifecycle status enum, the event emitter hook, and the strict deadline
// gates. Every operation validates all of its guards before mutating any
// state, so a rejected call leaves the agreement exactly as it was.
package protocol

import (
	"math/big"
	"time"
)

// Status is the lifecycle phase of a protocol instance.
type Status string

const (
	StatusOpen       Status = "open"       // created, waiting for a counterparty
	StatusActive     Status = "active"     // both sides engaged
	StatusSettled    Status = "settled"    // value distributed, terminal
	StatusCancelled  Status = "cancelled"  // abandoned before activation, terminal
	StatusLiquidated Status = "liquidated" // collateral seized, terminal
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusCancelled || s == StatusLiquidated
}

// Emitter receives an event after each successful transition.
type Emitter interface {
	Emit(kind string, payload map[string]any)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(kind string, payload map[string]any)

func (f EmitterFunc) Emit(kind string, payload map[string]any) {
	f(kind, payload)
}

// NopEmitter discards all events.
var NopEmitter Emitter = EmitterFunc(func(string, map[string]any) {})

// Expired reports whether a deadline has passed. The boundary is strict:
// an agreement is expired at the exact deadline instant.
func Expired(now, deadline time.Time) bool {
	return !now.Before(deadline)
}

// Amount returns a defensive copy of n, treating nil as zero.
func Amount(n *big.Int) *big.Int {
	if n == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(n)
}

// Positive reports whether n is a strictly positive amount.
func Positive(n *big.Int) bool {
	return n != nil && n.Sign() > 0
}
