// internal/pq/pq.go

// Package pq provides a generic min-ordered priority queue.
package pq

import (
	"github.com/emirpasic/gods/trees/binaryheap"
)

// Queue is a binary min-heap over T. Pop always returns the element the
// comparator ranks smallest among the elements currently held.
type Queue[T any] struct {
	heap *binaryheap.Heap
}

// New creates an empty queue ordered by cmp, which must return a negative
// number when a sorts before b, zero when they tie and a positive number otherwise.
func New[T any](cmp func(a, b T) int) *Queue[T] {
	return &Queue[T]{
		heap: binaryheap.NewWith(func(a, b any) int {
			return cmp(a.(T), b.(T))
		}),
	}
}

// Push inserts item, sifting it up to its place.
func (q *Queue[T]) Push(item T) { q.heap.Push(item) }

// Pop removes and returns the minimal element. ok is false on an empty queue.
func (q *Queue[T]) Pop() (item T, ok bool) {
	v, ok := q.heap.Pop()
	if !ok {
		return item, false
	}
	return v.(T), true
}

// Peek returns the minimal element without removing it.
func (q *Queue[T]) Peek() (item T, ok bool) {
	v, ok := q.heap.Peek()
	if !ok {
		return item, false
	}
	return v.(T), true
}

func (q *Queue[T]) Empty() bool { return q.heap.Empty() }

func (q *Queue[T]) Size() int { return q.heap.Size() }

// Clear drops every element.
func (q *Queue[T]) Clear() { q.heap.Clear() }
