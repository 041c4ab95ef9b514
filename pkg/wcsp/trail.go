package wcsp

// trail.go: reversible memory for backtracking search

// Trail records undo actions between checkpoints.
//
// Store opens a checkpoint. Every mutation recorded afterwards is undone, in
// reverse order, by the Restore call that closes that checkpoint. Checkpoints
// nest and must be closed in LIFO order. Nothing is recorded while no
// checkpoint is open.
//
// Thread Safety: not safe for concurrent use. A Trail belongs to exactly one
// search.
type Trail struct {
	undo  []func()
	marks []trailMark
	epoch uint64 // identifies the innermost open checkpoint
	next  uint64
}

type trailMark struct {
	pos   int
	epoch uint64
}

// Depth returns the number of open checkpoints.
func (t *Trail) Depth() int { return len(t.marks) }

// Size returns the number of recorded undo actions.
func (t *Trail) Size() int { return len(t.undo) }

// Store opens a new checkpoint.
func (t *Trail) Store() {
	t.marks = append(t.marks, trailMark{pos: len(t.undo), epoch: t.epoch})
	t.next++
	t.epoch = t.next
}

// Restore closes checkpoints until exactly depth remain open, undoing every
// action recorded since the checkpoint at that depth was opened.
func (t *Trail) Restore(depth int) {
	for len(t.marks) > depth {
		m := t.marks[len(t.marks)-1]
		t.marks = t.marks[:len(t.marks)-1]
		for i := len(t.undo) - 1; i >= m.pos; i-- {
			t.undo[i]()
			t.undo[i] = nil
		}
		t.undo = t.undo[:m.pos]
		t.epoch = m.epoch
	}
}

// Record registers an undo action for the current checkpoint.
func (t *Trail) Record(undo func()) {
	if len(t.marks) == 0 {
		return
	}
	t.undo = append(t.undo, undo)
}

// Cell is a reversible value. Its old value is saved at most once per
// checkpoint, the first time it is overwritten inside that checkpoint.
type Cell[T any] struct {
	v     T
	stamp uint64
}

// NewCell returns a cell holding v.
func NewCell[T any](v T) Cell[T] {
	return Cell[T]{v: v}
}

// Get returns the current value.
func (c *Cell[T]) Get() T { return c.v }

// Set overwrites the value, trailing the previous one on t.
func (c *Cell[T]) Set(t *Trail, v T) {
	if len(t.marks) > 0 && c.stamp != t.epoch {
		old, oldStamp := c.v, c.stamp
		t.undo = append(t.undo, func() {
			c.v = old
			c.stamp = oldStamp
		})
		c.stamp = t.epoch
	}
	c.v = v
}
