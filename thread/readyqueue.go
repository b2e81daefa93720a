package thread

import "github.com/google/btree"

// readyItem is the ready queue's btree key: effective priority descending,
// insertion sequence ascending as the tie-break (spec §8: "ties break by
// insertion order"). Both fields are snapshots taken at insert time rather
// than read live from the thread, because a B-tree's sort order must stay
// fixed for as long as an item is in the tree; donation can raise a queued
// thread's priority, so repositioning means delete-by-old-snapshot then
// insert-with-new-snapshot (see ReadyQueue.Reposition). The sequence must be
// stamped by Insert itself, not carried from thread creation: two threads
// created in one order can become Ready in the opposite order (one yields
// and re-enters Ready while the other was already waiting), and it's the
// Ready-entry order that must break the tie.
type readyItem struct {
	prio int
	seq  int64
	t    *Thread
}

func (a readyItem) Less(other btree.Item) bool {
	b := other.(readyItem)
	if a.prio != b.prio {
		return a.prio > b.prio
	}
	return a.seq < b.seq
}

// ReadyQueue is the ready set of spec §3, ordered by effective priority
// descending. It is backed by github.com/google/btree for O(log n)
// insert/remove/reposition, since unlike the small, bounded wait sets and
// donor lists, the ready queue can hold every runnable thread in the
// system.
type ReadyQueue struct {
	tree    *btree.BTree
	nextSeq int64
}

// NewReadyQueue returns an empty ReadyQueue.
func NewReadyQueue() *ReadyQueue {
	return &ReadyQueue{tree: btree.New(32)}
}

func (q *ReadyQueue) snapshot(t *Thread) readyItem {
	return readyItem{prio: t.readyPriority, seq: t.readySeq, t: t}
}

// Insert adds t to the queue at its current effective priority, stamping a
// fresh insertion sequence so same-priority ties break by Ready-entry order.
func (q *ReadyQueue) Insert(t *Thread) {
	t.readyPriority = t.effPriority
	q.nextSeq++
	t.readySeq = q.nextSeq
	q.tree.ReplaceOrInsert(q.snapshot(t))
}

// Remove drops t from the queue, using the snapshot taken at its last
// Insert/Reposition.
func (q *ReadyQueue) Remove(t *Thread) {
	q.tree.Delete(q.snapshot(t))
}

// Reposition re-sorts t after its effective priority has changed while
// queued (donation raising a Ready holder's priority, or the MLFQS
// priority recomputation).
func (q *ReadyQueue) Reposition(t *Thread) {
	q.Remove(t)
	q.Insert(t)
}

// Front returns the highest-priority ready thread, or nil if empty.
func (q *ReadyQueue) Front() *Thread {
	min := q.tree.Min()
	if min == nil {
		return nil
	}
	return min.(readyItem).t
}

// PopFront removes and returns the highest-priority ready thread, or nil.
func (q *ReadyQueue) PopFront() *Thread {
	min := q.tree.DeleteMin()
	if min == nil {
		return nil
	}
	return min.(readyItem).t
}

// Len returns the number of ready threads queued.
func (q *ReadyQueue) Len() int { return q.tree.Len() }

// Empty reports whether the queue has no threads.
func (q *ReadyQueue) Empty() bool { return q.tree.Len() == 0 }
