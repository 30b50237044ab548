package rewind

import "github.com/gammazero/deque"

// History is an age-bounded, time-ordered sequence of Frames held in a
// deque: appending at the tail and removing at the head are both O(1).
// Frames are addressed by logical index, where 0 is the oldest retained
// Frame. It is not safe for concurrent use
type History struct {
	frames deque.Deque[*Frame]
}

// NewHistory creates an empty History
func NewHistory() *History {
	return &History{}
}

// Len returns the number of retained Frames
func (h *History) Len() int {
	return h.frames.Len()
}

// At returns the Frame at the logical index, or nil if out of range
func (h *History) At(idx int) *Frame {
	if idx < 0 || idx >= h.frames.Len() {
		return nil
	}
	return h.frames.At(idx)
}

// First returns the oldest retained Frame, or nil
func (h *History) First() *Frame {
	return h.At(0)
}

// Last returns the newest retained Frame, or nil
func (h *History) Last() *Frame {
	return h.At(h.frames.Len() - 1)
}

// Frames returns a copy of the retained Frames, oldest first
func (h *History) Frames() []*Frame {
	res := make([]*Frame, h.frames.Len())
	for i := range res {
		res[i] = h.frames.At(i)
	}
	return res
}

// Append adds a Frame at the tail. The Frame's timestamp must be strictly
// greater than that of the current last Frame
func (h *History) Append(f *Frame) error {
	if last := h.Last(); last != nil && f.Timestamp() <= last.Timestamp() {
		return &OutOfOrderError{
			Last:      last.Timestamp(),
			Timestamp: f.Timestamp(),
		}
	}
	h.frames.PushBack(f)
	return nil
}

// TrimOlderThan removes every Frame at the head whose timestamp precedes
// the cutoff, returning the removed Frames oldest first
func (h *History) TrimOlderThan(cutoff float64) []*Frame {
	var removed []*Frame
	for h.frames.Len() > 0 && h.frames.Front().Timestamp() < cutoff {
		removed = append(removed, h.frames.PopFront())
	}
	return removed
}

// TruncateAfter removes every Frame strictly after the logical index,
// returning the removed Frames oldest first
func (h *History) TruncateAfter(idx int) []*Frame {
	idx = max(idx, -1)
	n := h.frames.Len() - idx - 1
	if n <= 0 {
		return nil
	}
	removed := make([]*Frame, n)
	for i := n - 1; i >= 0; i-- {
		removed[i] = h.frames.PopBack()
	}
	return removed
}

// Clear removes every Frame, returning them oldest first
func (h *History) Clear() []*Frame {
	return h.TruncateAfter(-1)
}

// FloorSeek returns the logical index of the Frame with the greatest
// timestamp not after target. The search starts from hint and walks
// adjacent Frames, so successive calls with a slowly moving target cost
// O(1). A target before the first Frame clamps to index 0. It returns
// false when the History is empty
func (h *History) FloorSeek(target float64, hint int) (int, *Frame, bool) {
	size := h.frames.Len()
	if size == 0 {
		return 0, nil, false
	}
	idx := min(max(hint, 0), size-1)
	for idx > 0 && h.frames.At(idx).Timestamp() > target {
		idx--
	}
	for idx < size-1 && h.frames.At(idx+1).Timestamp() <= target {
		idx++
	}
	return idx, h.frames.At(idx), true
}

// Span returns the time covered between the first and last Frames, or 0
// when fewer than two are retained
func (h *History) Span() float64 {
	if h.frames.Len() < 2 {
		return 0
	}
	return h.frames.Back().Timestamp() - h.frames.Front().Timestamp()
}
