package cache

import (
	"slices"
	"testing"
)

// =============================================================================
// Arena Tests
// =============================================================================

func TestNewArena(t *testing.T) {
	a := NewArena(4, 2)
	if a.Nodes() != 4 {
		t.Errorf("Nodes = %d, want 4", a.Nodes())
	}
	if a.Lists() != 2 {
		t.Errorf("Lists = %d, want 2", a.Lists())
	}
	for l := range 2 {
		if a.Front(l) != a.Sentinel(l) {
			t.Errorf("list %d: Front = %d, want sentinel %d", l, a.Front(l), a.Sentinel(l))
		}
		if a.Len(l) != 0 {
			t.Errorf("list %d: Len = %d, want 0", l, a.Len(l))
		}
	}
	for i := range 4 {
		if a.Linked(i) {
			t.Errorf("node %d linked before push", i)
		}
	}
}

func TestArenaPushFrontOrder(t *testing.T) {
	a := NewArena(3, 1)
	a.PushFront(0, 0)
	a.PushFront(0, 1)
	a.PushFront(0, 2)

	if got, want := a.Slice(0), []int{2, 1, 0}; !slices.Equal(got, want) {
		t.Errorf("Slice = %v, want %v", got, want)
	}
	if a.Front(0) != 2 {
		t.Errorf("Front = %d, want 2", a.Front(0))
	}
	if a.Back(0) != 0 {
		t.Errorf("Back = %d, want 0", a.Back(0))
	}
}

func TestArenaBackwardWalk(t *testing.T) {
	a := NewArena(3, 1)
	for i := range 3 {
		a.PushFront(0, i)
	}

	var got []int
	for i := a.Back(0); i != a.Sentinel(0); i = a.Prev(i) {
		got = append(got, i)
	}
	if want := []int{0, 1, 2}; !slices.Equal(got, want) {
		t.Errorf("backward walk = %v, want %v", got, want)
	}
}

func TestArenaRemove(t *testing.T) {
	a := NewArena(3, 1)
	for i := range 3 {
		a.PushFront(0, i)
	}

	a.Remove(1)
	if a.Linked(1) {
		t.Error("node 1 still linked after Remove")
	}
	if got, want := a.Slice(0), []int{2, 0}; !slices.Equal(got, want) {
		t.Errorf("Slice = %v, want %v", got, want)
	}

	a.Remove(2)
	a.Remove(0)
	if a.Len(0) != 0 {
		t.Errorf("Len = %d, want 0", a.Len(0))
	}
	if a.Front(0) != a.Sentinel(0) || a.Back(0) != a.Sentinel(0) {
		t.Error("empty list sentinel not self-linked")
	}
}

func TestArenaMoveToFront(t *testing.T) {
	a := NewArena(3, 1)
	for i := range 3 {
		a.PushFront(0, i)
	}

	// LRU node becomes MRU
	a.MoveToFront(0, 0)
	if got, want := a.Slice(0), []int{0, 2, 1}; !slices.Equal(got, want) {
		t.Errorf("Slice = %v, want %v", got, want)
	}

	// Moving the front node is a no-op
	a.MoveToFront(0, 0)
	if got, want := a.Slice(0), []int{0, 2, 1}; !slices.Equal(got, want) {
		t.Errorf("Slice after no-op = %v, want %v", got, want)
	}
}

func TestArenaMoveAcrossLists(t *testing.T) {
	a := NewArena(4, 2)
	a.PushFront(0, 0)
	a.PushFront(0, 1)
	a.PushFront(1, 2)
	a.PushFront(1, 3)

	a.MoveToFront(0, 2)

	if got, want := a.Slice(0), []int{2, 1, 0}; !slices.Equal(got, want) {
		t.Errorf("list 0 = %v, want %v", got, want)
	}
	if got, want := a.Slice(1), []int{3}; !slices.Equal(got, want) {
		t.Errorf("list 1 = %v, want %v", got, want)
	}
	if !a.Contains(0, 2) || a.Contains(1, 2) {
		t.Error("node 2 not relocated to list 0")
	}
}

func TestArenaPanics(t *testing.T) {
	tests := []struct {
		name string
		fn   func(a *Arena)
	}{
		{"push linked", func(a *Arena) { a.PushFront(0, 0); a.PushFront(0, 0) }},
		{"remove detached", func(a *Arena) { a.Remove(1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			tt.fn(NewArena(2, 1))
		})
	}
}
