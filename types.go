package rewind

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type (
	// ID is the stable identity of a tracked entity. An ID is never reused
	// once its entity has been unregistered
	ID string

	// Snapshot is the opaque, self-contained state captured from a single
	// entity. Being raw JSON, it cannot alias live objects
	Snapshot = json.RawMessage

	// Frame is an immutable, timestamped capture of every entity that was
	// alive when it was recorded
	Frame struct {
		states    map[ID]Snapshot
		ids       []ID
		timestamp float64
	}

	// OutOfOrderError is returned when a frame would not extend the history
	// in strictly increasing timestamp order
	OutOfOrderError struct {
		Last      float64
		Timestamp float64
	}

	frameState struct {
		ID    ID       `json:"id"`
		State Snapshot `json:"state"`
	}

	framePayload struct {
		Timestamp float64      `json:"timestamp"`
		States    []frameState `json:"states"`
	}
)

var (
	// ErrOutOfOrder is the sentinel wrapped by OutOfOrderError
	ErrOutOfOrder = errors.New("frame timestamp out of order")

	// ErrDuplicateState indicates a frame was built with the same ID twice
	ErrDuplicateState = errors.New("duplicate entity state in frame")
)

// NewID returns a fresh random entity identity
func NewID() ID {
	return ID(uuid.NewString())
}

// NewFrame builds a Frame from states given in capture order. The slice is
// copied, so the caller may reuse it
func NewFrame(ts float64, states []EntityState) (*Frame, error) {
	f := &Frame{
		timestamp: ts,
		states:    make(map[ID]Snapshot, len(states)),
		ids:       make([]ID, 0, len(states)),
	}
	for _, s := range states {
		if _, ok := f.states[s.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateState, s.ID)
		}
		f.states[s.ID] = s.State
		f.ids = append(f.ids, s.ID)
	}
	return f, nil
}

// Timestamp returns the game time at which the frame was captured
func (f *Frame) Timestamp() float64 {
	return f.timestamp
}

// IDs returns the entity identities in the frame, in capture order
func (f *Frame) IDs() []ID {
	res := make([]ID, len(f.ids))
	copy(res, f.ids)
	return res
}

// Len returns the number of entity states held by the frame
func (f *Frame) Len() int {
	return len(f.ids)
}

// Has reports whether the entity was alive when the frame was captured
func (f *Frame) Has(id ID) bool {
	_, ok := f.states[id]
	return ok
}

// State returns the snapshot captured for the entity, if any
func (f *Frame) State(id ID) (Snapshot, bool) {
	s, ok := f.states[id]
	return s, ok
}

// MarshalJSON encodes the frame with its states in capture order
func (f *Frame) MarshalJSON() ([]byte, error) {
	p := framePayload{
		Timestamp: f.timestamp,
		States:    make([]frameState, 0, len(f.ids)),
	}
	for _, id := range f.ids {
		p.States = append(p.States, frameState{ID: id, State: f.states[id]})
	}
	return json.Marshal(p)
}

// UnmarshalJSON decodes a frame previously encoded by MarshalJSON
func (f *Frame) UnmarshalJSON(data []byte) error {
	var p framePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	states := make([]EntityState, 0, len(p.States))
	for _, s := range p.States {
		states = append(states, EntityState(s))
	}
	res, err := NewFrame(p.Timestamp, states)
	if err != nil {
		return err
	}
	*f = *res
	return nil
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf(
		"frame timestamp out of order: %g does not follow %g",
		e.Timestamp, e.Last,
	)
}

func (e *OutOfOrderError) Unwrap() error {
	return ErrOutOfOrder
}
