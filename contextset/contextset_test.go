// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package contextset

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/crashtracker/protocol"
)

func TestInsertUntilFull(t *testing.T) {
	for _, capacity := range []int{1, 7, 64} {
		t.Run(fmt.Sprintf("capacity %d", capacity), func(t *testing.T) {
			s := NewStringSet(capacity)
			seen := make(map[Index]struct{})
			for i := range capacity {
				idx, err := s.Insert(fmt.Sprintf("tag:%d", i))
				require.NoError(t, err)
				_, dup := seen[idx]
				require.False(t, dup, "index %d returned twice", idx)
				seen[idx] = struct{}{}
			}
			assert.Equal(t, capacity, s.Len())

			_, err := s.Insert("one too many")
			require.ErrorIs(t, err, ErrFull)
		})
	}
}

func TestRemoveIdempotent(t *testing.T) {
	s := NewStringSet(2)
	idx, err := s.Insert("a")
	require.NoError(t, err)

	require.NoError(t, s.Remove(idx))
	require.NoError(t, s.Remove(idx))
	assert.Zero(t, s.Len())

	// The freed slot is reused; the stale index must not remove the new value.
	idx2, err := s.Insert("b")
	require.NoError(t, err)
	assert.NotEqual(t, idx, idx2)
	require.NoError(t, s.Remove(idx))
	assert.Equal(t, []string{"b"}, s.values())

	require.ErrorIs(t, s.Remove(makeIndex(5, 0)), ErrNotFound)
}

func TestRemoveWhileRead(t *testing.T) {
	s := NewStringSet(1)
	idx, err := s.Insert("a")
	require.NoError(t, err)

	// Mark the slot busy the way a non-draining read does.
	sl := &s.slots[idx.slot()]
	word := sl.state.Load()
	require.True(t, sl.state.CompareAndSwap(word, packState(idx.generation(), stateBusy)))

	removed := make(chan error, 1)
	go func() { removed <- s.Remove(idx) }()
	select {
	case <-removed:
		t.Fatal("remove returned while the slot was busy")
	default:
	}

	// The reader puts the value back; the pending remove then frees it.
	sl.state.Store(word)
	require.NoError(t, <-removed)
	assert.Zero(t, s.Len())
	assert.Empty(t, s.values())
}

func TestStringValues(t *testing.T) {
	long := strings.Repeat("x", MaxStringLen-1) + "日本"
	tests := map[string]struct {
		input    string
		expected string
	}{
		"plain":    {input: "service:web", expected: "service:web"},
		"newlines": {input: "a\nb\rc", expected: "a b c"},
		"empty":    {input: "", expected: ""},
		"truncated at rune boundary": {
			input:    long,
			expected: strings.Repeat("x", MaxStringLen-1),
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			s := NewStringSet(1)
			_, err := s.Insert(tc.input)
			require.NoError(t, err)
			assert.Equal(t, []string{tc.expected}, s.values())
		})
	}
}

func TestConsumeAndEmit(t *testing.T) {
	s := NewStringSet(4)
	_, _ = s.Insert("first")
	idx, _ := s.Insert("removed")
	_, _ = s.Insert("third")
	require.NoError(t, s.Remove(idx))

	var out bytes.Buffer
	w := protocol.NewWriter(&out)
	require.NoError(t, s.emitAll(w))
	require.NoError(t, w.Flush())
	assert.Equal(t, "first\nthird\n", out.String())
	assert.Equal(t, 2, s.Len())

	out.Reset()
	require.NoError(t, s.ConsumeAndEmit(w))
	require.NoError(t, w.Flush())
	assert.Equal(t, "first\nthird\n", out.String())
	assert.Zero(t, s.Len())
}

func TestIDSet(t *testing.T) {
	s := NewIDSet(3)
	_, err := s.Insert(IDFromUint64(42))
	require.NoError(t, err)
	_, err = s.Insert(ID{Hi: 1, Lo: 0})
	require.NoError(t, err)

	var out bytes.Buffer
	w := protocol.NewWriter(&out)
	require.NoError(t, s.ConsumeAndEmit(w))
	require.NoError(t, w.Flush())
	assert.Equal(t, "42\n18446744073709551616\n", out.String())
	assert.Zero(t, s.Len())
	assert.Equal(t, "18446744073709551616", ID{Hi: 1}.String())
}

func TestClear(t *testing.T) {
	s := NewIDSet(8)
	var indices []Index
	for i := range 8 {
		idx, err := s.Insert(IDFromUint64(uint64(i)))
		require.NoError(t, err)
		indices = append(indices, idx)
	}
	s.Clear()
	assert.Zero(t, s.Len())
	for _, idx := range indices {
		require.NoError(t, s.Remove(idx))
	}
	for i := range 8 {
		_, err := s.Insert(IDFromUint64(uint64(i)))
		require.NoError(t, err)
	}
	assert.Equal(t, s.Cap(), s.Len())
}

func TestConcurrentInsertRemove(t *testing.T) {
	const workers = 8
	const rounds = 2000
	s := NewIDSet(workers * 2)

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range rounds {
				idx, err := s.Insert(ID{Hi: uint64(w), Lo: uint64(r)})
				if err != nil {
					t.Errorf("insert failed: %v", err)
					return
				}
				if err := s.Remove(idx); err != nil {
					t.Errorf("remove failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, s.Len())
}
