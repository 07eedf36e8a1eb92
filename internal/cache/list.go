// Package cache provides the building blocks of the buffer pool.
//
// The pool keeps every cache line in a fixed array for the lifetime of the
// process. Lines are threaded onto per-shard LRU lists by slot index rather
// than by pointer, so relinking a line never allocates and the lists can be
// rebuilt or inspected without chasing references.
//
// This package includes:
//   - Arena: a fixed set of nodes threaded onto a fixed number of circular
//     doubly linked lists, each anchored at its own sentinel node
//   - SpinLock: the short, busy-wait lock guarding a shard's list
//   - SleepLock: the long, blocking lock guarding a cache line's content
package cache

import "fmt"

// detached marks a node that is not on any list.
const detached = -1

// Arena holds the link fields of a fixed number of nodes and list sentinels.
//
// Node indices are [0, nodes). The sentinel of list l is at index nodes+l.
// An empty list is a sentinel linked to itself. Front is the most recently
// pushed node, Back the least recently pushed one.
//
// Arena is not safe for concurrent use. Callers serialize access to a list
// with that list's lock.
type Arena struct {
	next  []int
	prev  []int
	nodes int
	lists int
}

// NewArena creates an arena with the given number of nodes and lists.
// All nodes start detached and all lists start empty.
func NewArena(nodes, lists int) *Arena {
	if nodes < 0 || lists < 0 {
		panic(fmt.Sprintf("cache: invalid arena size nodes=%d lists=%d", nodes, lists))
	}
	a := &Arena{
		next:  make([]int, nodes+lists),
		prev:  make([]int, nodes+lists),
		nodes: nodes,
		lists: lists,
	}
	for i := range nodes {
		a.next[i] = detached
		a.prev[i] = detached
	}
	for l := range lists {
		s := nodes + l
		a.next[s] = s
		a.prev[s] = s
	}
	return a
}

// Nodes returns the number of non-sentinel nodes.
func (a *Arena) Nodes() int {
	return a.nodes
}

// Lists returns the number of lists.
func (a *Arena) Lists() int {
	return a.lists
}

// Sentinel returns the sentinel index of list l.
// Iteration over a list stops when it reaches the sentinel.
func (a *Arena) Sentinel(l int) int {
	return a.nodes + l
}

// Front returns the most recently used node of list l, or the sentinel if empty.
func (a *Arena) Front(l int) int {
	return a.next[a.Sentinel(l)]
}

// Back returns the least recently used node of list l, or the sentinel if empty.
func (a *Arena) Back(l int) int {
	return a.prev[a.Sentinel(l)]
}

// Next returns the node after i (towards the back).
func (a *Arena) Next(i int) int {
	return a.next[i]
}

// Prev returns the node before i (towards the front).
func (a *Arena) Prev(i int) int {
	return a.prev[i]
}

// Linked reports whether node i is currently on a list.
func (a *Arena) Linked(i int) bool {
	return a.next[i] != detached
}

// PushFront links detached node i at the front of list l.
func (a *Arena) PushFront(l, i int) {
	if a.Linked(i) {
		panic(fmt.Sprintf("cache: push of linked node %d", i))
	}
	s := a.Sentinel(l)
	a.next[i] = a.next[s]
	a.prev[i] = s
	a.prev[a.next[s]] = i
	a.next[s] = i
}

// Remove unlinks node i from whatever list it is on.
func (a *Arena) Remove(i int) {
	if !a.Linked(i) {
		panic(fmt.Sprintf("cache: remove of detached node %d", i))
	}
	a.prev[a.next[i]] = a.prev[i]
	a.next[a.prev[i]] = a.next[i]
	a.next[i] = detached
	a.prev[i] = detached
}

// MoveToFront relinks node i at the front of list l.
// i may currently be on l or on another list.
func (a *Arena) MoveToFront(l, i int) {
	if a.Front(l) == i {
		return
	}
	a.Remove(i)
	a.PushFront(l, i)
}

// Len walks list l and returns its length.
func (a *Arena) Len(l int) int {
	n := 0
	for i := a.Front(l); i != a.Sentinel(l); i = a.next[i] {
		n++
	}
	return n
}

// Contains walks list l and reports whether node i is on it.
func (a *Arena) Contains(l, i int) bool {
	for j := a.Front(l); j != a.Sentinel(l); j = a.next[j] {
		if j == i {
			return true
		}
	}
	return false
}

// Slice returns the nodes of list l from front to back.
// Intended for tests and diagnostics.
func (a *Arena) Slice(l int) []int {
	out := make([]int, 0, a.nodes)
	for i := a.Front(l); i != a.Sentinel(l); i = a.next[i] {
		out = append(out, i)
	}
	return out
}
