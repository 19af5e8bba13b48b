// Package psll implements the persistent singly linked list used by the
// region allocator's free and allocated lists. Nodes are region spans
// elsewhere in the arena; this package only manipulates
// head/tail offsets and per-node "next" links through the NodeStore it is
// given, and guarantees that any single crash leaves the list either in
// its pre-operation or post-operation state, never torn in between.
package psll

import (
	"encoding/binary"
)

// Invalid is the sentinel offset meaning "no node" — an empty list's head
// and tail, and a node's next pointer once it is the list's last element.
const Invalid = ^uint64(0)

// NodeStore reads and writes a node's "next" link. The region allocator
// supplies an implementation backed by span.SetNextFree/SetNextAllocated
// depending on which list is being manipulated: each list has its own
// link field, so a region span can sit on both lists while it is moved
// from one to the other.
type NodeStore interface {
	Next(offset uint64) uint64
	SetNext(offset uint64, next uint64)
	// Flush schedules the node's next field for durability; Drain
	// orders it relative to subsequent stores. Both are passed through
	// to the backing pmem.Mapping.
	Flush(offset uint64)
	Drain()
}

// List is a PSLL head/tail pair stored at a fixed location inside a
// persistent buffer (the allocator header embeds two of these: one for
// the free list, one for the allocated list).
type List struct {
	data    []byte
	headOff uint64
	tailOff uint64
	store   NodeStore
	flush   func(offset uint64, p []byte)
	drain   func()
}

// New binds a List to its on-media head/tail location and the node store
// used to traverse it. flush persists the 8 bytes at a given offset;
// drain orders dependent stores — both are the mapping's primitives.
func New(data []byte, headOff, tailOff uint64, store NodeStore, flush func(uint64, []byte), drain func()) *List {
	return &List{data: data, headOff: headOff, tailOff: tailOff, store: store, flush: flush, drain: drain}
}

func (l *List) Head() uint64 { return binary.LittleEndian.Uint64(l.data[l.headOff:]) }
func (l *List) Tail() uint64 { return binary.LittleEndian.Uint64(l.data[l.tailOff:]) }

func (l *List) setHead(v uint64) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	l.flush(l.headOff, buf)
}

func (l *List) setTail(v uint64) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	l.flush(l.tailOff, buf)
}

// Init resets the list to empty. Used only at stream creation time.
func (l *List) Init() {
	l.setHead(Invalid)
	l.setTail(Invalid)
}

// RuntimeInit restores the three PSLL invariants after a possible torn
// write:
//
//	head == Invalid  iff  tail == Invalid
//	next(tail) == Invalid
//	every node from head reaches tail in finite steps
//
// It is idempotent: running it twice is equivalent to running it once.
func (l *List) RuntimeInit() {
	head := l.Head()
	if head == Invalid {
		// An empty list repairs itself: tail must also be Invalid.
		if l.Tail() != Invalid {
			l.setTail(Invalid)
		}
		return
	}

	// Walk from head to the real last node (the one whose next is
	// Invalid); this is the only self-consistent definition of "tail"
	// once the list is non-empty, crash or not.
	cur := head
	for {
		next := l.store.Next(cur)
		if next == Invalid {
			break
		}
		cur = next
	}
	if cur != l.Tail() {
		l.setTail(cur)
	}
}

// InsertHead links offset in as the new head. Store order matches the
// spec: node.next <- head; (if list was empty) tail <- offset; head <-
// offset. If the process crashes before the head store, RuntimeInit's
// walk from the (stale) head already reaches offset's successor chain
// correctly since offset itself isn't reachable yet — the insert is
// rolled back, which is safe because offset was never observed as part
// of the list by any reader.
func (l *List) InsertHead(offset uint64) {
	head := l.Head()
	l.store.SetNext(offset, head)
	l.store.Flush(offset)
	l.drain()

	if head == Invalid {
		l.setTail(offset)
		l.drain()
	}

	l.setHead(offset)
}

// InsertTail links offset in as the new tail. Store order: node.next <-
// Invalid; next(old_tail) <- offset; tail <- offset. If the crash lands
// before the tail store, RuntimeInit's walk-to-the-real-end advances tail
// to offset anyway, completing the operation.
func (l *List) InsertTail(offset uint64) {
	l.store.SetNext(offset, Invalid)
	l.store.Flush(offset)
	l.drain()

	tail := l.Tail()
	if tail == Invalid {
		l.setHead(offset)
		l.drain()
		l.setTail(offset)
		return
	}

	l.store.SetNext(tail, offset)
	l.store.Flush(tail)
	l.drain()

	l.setTail(offset)
}

// RemoveHead unlinks and returns the current head, or Invalid if the
// list is empty.
func (l *List) RemoveHead() uint64 {
	head := l.Head()
	if head == Invalid {
		return Invalid
	}

	next := l.store.Next(head)
	if next == Invalid {
		// Head was the only element: clearing both is a single
		// logical publication from the reader's point of view.
		l.Init()
	} else {
		l.setHead(next)
	}
	return head
}

// Remove unlinks offset from wherever it sits in the list. Returns false
// if offset was not found. If the crash lands after only the tail store
// (when offset was the tail), RuntimeInit's walk recomputes tail from
// the still-linked predecessor and the removal is rolled back; a caller
// that needs "remove" to be durable must retry after RuntimeInit.
func (l *List) Remove(offset uint64) bool {
	head := l.Head()
	if head == Invalid {
		return false
	}

	if head == offset {
		l.RemoveHead()
		return true
	}

	pred := head
	for {
		next := l.store.Next(pred)
		if next == Invalid {
			return false
		}
		if next == offset {
			break
		}
		pred = next
	}

	next := l.store.Next(offset)
	if offset == l.Tail() {
		l.setTail(pred)
		l.drain()
	}
	l.store.SetNext(pred, next)
	l.store.Flush(pred)
	return true
}

// Foreach returns every offset reachable from head, in list order.
func (l *List) Foreach() []uint64 {
	var out []uint64
	cur := l.Head()
	for cur != Invalid {
		out = append(out, cur)
		cur = l.store.Next(cur)
	}
	return out
}

// Empty reports whether the list currently has no nodes.
func (l *List) Empty() bool {
	return l.Head() == Invalid
}
