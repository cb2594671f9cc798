// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package contextset implements fixed capacity sets that record what the
// program is currently doing (tags, active span and trace ids) in a way the
// crash collector can read without locks or allocation.
//
// Every slot carries a state word combining a generation and an occupancy
// state. Writers claim an empty slot with compare-and-swap, fill it and then
// publish it. Removal bumps the generation, so an index that was already
// removed, or whose slot has since been reused, is silently ignored.
package contextset // import "go.opentelemetry.io/crashtracker/contextset"

import (
	"errors"
	"runtime"
	"sync/atomic"

	"go.opentelemetry.io/crashtracker/protocol"
)

var (
	// ErrFull is returned by Insert when no slot could be claimed.
	ErrFull = errors.New("context set is full")
	// ErrNotFound is returned by Remove for an index outside the set.
	ErrNotFound = errors.New("context set index not found")
)

const (
	stateEmpty uint64 = iota
	stateBusy
	stateFull

	stateBits = 2
	stateMask = 1<<stateBits - 1

	// insertAttempts bounds how often Insert rescans the slots when it
	// loses races against other writers.
	insertAttempts = 3
)

func packState(gen uint32, state uint64) uint64 {
	return uint64(gen)<<stateBits | state
}

func unpackState(word uint64) (gen uint32, state uint64) {
	return uint32(word >> stateBits), word & stateMask
}

// Index identifies an inserted value. It combines the slot number with the
// generation the slot had when the value was inserted.
type Index uint64

func makeIndex(slot int, gen uint32) Index {
	return Index(uint64(gen)<<32 | uint64(uint32(slot)))
}

func (i Index) slot() int {
	return int(uint32(i))
}

func (i Index) generation() uint32 {
	return uint32(i >> 32)
}

type slot[V any] struct {
	state atomic.Uint64
	value V
}

// set is the slot machinery shared by StringSet and IDSet.
type set[V any] struct {
	slots []slot[V]
}

func newSet[V any](capacity int) set[V] {
	return set[V]{slots: make([]slot[V], capacity)}
}

// insert claims the first empty slot and lets fill write the value before
// the slot becomes visible.
func (s *set[V]) insert(fill func(*V)) (Index, error) {
	for range insertAttempts {
		for i := range s.slots {
			sl := &s.slots[i]
			word := sl.state.Load()
			gen, state := unpackState(word)
			if state != stateEmpty {
				continue
			}
			if !sl.state.CompareAndSwap(word, packState(gen, stateBusy)) {
				continue
			}
			fill(&sl.value)
			sl.state.Store(packState(gen, stateFull))
			return makeIndex(i, gen), nil
		}
	}
	return 0, ErrFull
}

// Remove frees the slot of idx. Removing an index twice, or an index whose
// slot was drained or reused in the meantime, is a no-op. A slot that is
// being read is waited for, so the remove is not lost when the reader puts
// the value back.
func (s *set[V]) Remove(idx Index) error {
	i := idx.slot()
	if i >= len(s.slots) {
		return ErrNotFound
	}
	sl := &s.slots[i]
	gen := idx.generation()
	for {
		word := sl.state.Load()
		g, state := unpackState(word)
		if g != gen {
			return nil
		}
		switch state {
		case stateFull:
			if sl.state.CompareAndSwap(word, packState(gen+1, stateEmpty)) {
				return nil
			}
		case stateBusy:
			runtime.Gosched()
		default:
			return nil
		}
	}
}

// Clear frees all occupied slots.
func (s *set[V]) Clear() {
	for i := range s.slots {
		sl := &s.slots[i]
		word := sl.state.Load()
		gen, state := unpackState(word)
		if state == stateFull {
			sl.state.CompareAndSwap(word, packState(gen+1, stateEmpty))
		}
	}
}

// Len returns the number of occupied slots.
func (s *set[V]) Len() int {
	n := 0
	for i := range s.slots {
		if _, state := unpackState(s.slots[i].state.Load()); state == stateFull {
			n++
		}
	}
	return n
}

// Cap returns the number of slots.
func (s *set[V]) Cap() int {
	return len(s.slots)
}

// each visits every occupied slot. With drain set, visited slots are freed.
// A slot is marked busy while visit reads it, so a concurrent insert cannot
// overwrite the value underneath.
func (s *set[V]) each(drain bool, visit func(*V)) {
	for i := range s.slots {
		sl := &s.slots[i]
		word := sl.state.Load()
		gen, state := unpackState(word)
		if state != stateFull {
			continue
		}
		if !sl.state.CompareAndSwap(word, packState(gen, stateBusy)) {
			continue
		}
		visit(&sl.value)
		if drain {
			sl.state.Store(packState(gen+1, stateEmpty))
		} else {
			sl.state.Store(packState(gen, stateFull))
		}
	}
}

// emitter is implemented by the value types to write one protocol line.
type emitter interface {
	emit(w *protocol.Writer)
}

func consumeAndEmit[V any, PV interface {
	*V
	emitter
}](s *set[V], w *protocol.Writer, drain bool) error {
	s.each(drain, func(v *V) {
		PV(v).emit(w)
	})
	return w.Err()
}
