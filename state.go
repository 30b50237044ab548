package rewind

import "encoding/json"

// EntityState pairs an entity identity with its captured Snapshot
type EntityState struct {
	ID    ID
	State Snapshot
}

// MarshalState encodes a typed entity state into a Snapshot. A value that
// cannot be encoded yields false, and the entity is left out of the frame
func MarshalState[T any](value T) (Snapshot, bool) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, false
	}
	return data, true
}

// UnmarshalState decodes a Snapshot produced by MarshalState
func UnmarshalState[T any](snap Snapshot) (T, error) {
	var res T
	if err := json.Unmarshal(snap, &res); err != nil {
		return res, err
	}
	return res, nil
}

// MakeRestorer adapts a typed restore function into one that accepts a
// Snapshot, decoding it first
func MakeRestorer[T any](fn func(T) error) func(Snapshot) error {
	return func(snap Snapshot) error {
		value, err := UnmarshalState[T](snap)
		if err != nil {
			return err
		}
		return fn(value)
	}
}
