package session

import "encoding/json"

// history is a bounded command log. Every entry is the snapshot that was
// replaced by an edit, so undoing an entry is replacing the current snapshot
// with it (and redo is the inverse).
type history struct {
	depth int
	undo  []json.RawMessage
	redo  []json.RawMessage
}

func newHistory(depth int) *history {
	if depth <= 0 {
		depth = DefaultHistoryDepth
	}
	return &history{depth: depth}
}

// record pushes the replaced snapshot and invalidates redo.
func (h *history) record(prev json.RawMessage) {
	h.undo = pushBounded(h.undo, prev, h.depth)
	h.redo = h.redo[:0]
}

func (h *history) canUndo() bool { return len(h.undo) > 0 }
func (h *history) canRedo() bool { return len(h.redo) > 0 }

// stepBack returns the snapshot to restore and remembers current for redo.
func (h *history) stepBack(current json.RawMessage) (json.RawMessage, bool) {
	if len(h.undo) == 0 {
		return nil, false
	}
	prev := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = pushBounded(h.redo, current, h.depth)
	return prev, true
}

// stepForward is the inverse of stepBack.
func (h *history) stepForward(current json.RawMessage) (json.RawMessage, bool) {
	if len(h.redo) == 0 {
		return nil, false
	}
	next := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = pushBounded(h.undo, current, h.depth)
	return next, true
}

func (h *history) reset() {
	h.undo = nil
	h.redo = nil
}

func pushBounded(stack []json.RawMessage, v json.RawMessage, depth int) []json.RawMessage {
	stack = append(stack, v)
	if len(stack) > depth {
		// Drop the oldest entry.
		copy(stack, stack[1:])
		stack = stack[:depth]
	}
	return stack
}
