package sched

import (
	"github.com/emirpasic/gods/trees/redblacktree"
)

// InterruptID uniquely identifies an interrupt. Interrupts do not share ids with tasks.
type InterruptID uint64

// CheckFunc reports whether an interrupt should fire this cycle.
// It must not change scheduler state.
type CheckFunc func() bool

// DefaultInterruptPriority is the priority callers use when they have no preference.
const DefaultInterruptPriority = 1

// Interrupt is a condition checked at the start of every cycle and the handler run when it holds.
type Interrupt struct {
	ID       InterruptID
	Priority int
	check    CheckFunc
	run      TaskFunc
}

// interruptKey orders interrupts by priority (descending), then registration (ascending).
type interruptKey struct {
	priority int
	id       InterruptID
}

func interruptCmp(a, b any) int {
	ka, kb := a.(interruptKey), b.(interruptKey)
	switch {
	case ka.priority > kb.priority:
		return -1
	case ka.priority < kb.priority:
		return 1
	case ka.id < kb.id:
		return -1
	case ka.id > kb.id:
		return 1
	default:
		return 0
	}
}

// interruptTable keeps interrupts in dispatch order.
type interruptTable struct {
	tree *redblacktree.Tree
}

func newInterruptTable() *interruptTable {
	return &interruptTable{tree: redblacktree.NewWith(interruptCmp)}
}

func (t *interruptTable) put(in *Interrupt) {
	t.tree.Put(interruptKey{priority: in.Priority, id: in.ID}, in)
}

func (t *interruptTable) len() int { return t.tree.Size() }

// ordered returns a snapshot in dispatch order.
func (t *interruptTable) ordered() []*Interrupt {
	out := make([]*Interrupt, 0, t.tree.Size())
	it := t.tree.Iterator()
	for it.Next() {
		out = append(out, it.Value().(*Interrupt))
	}
	return out
}
