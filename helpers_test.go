package rewind_test

import (
	"errors"

	"github.com/kode4food/rewind"
)

type (
	// Counter is a small entity with a value that tests move around
	Counter struct {
		*rewind.Behavior
		surface     *toggles
		Value       int
		Disposed    int
		OmitCapture bool
		FailRestore bool
	}

	counterState struct {
		Value int `json:"value"`
	}

	toggles struct {
		active, visible, collidable bool
		calls                       int
	}
)

var errRestore = errors.New("restore refused")

func newCounter(reg *rewind.Registry, id rewind.ID, value int) *Counter {
	s := &toggles{}
	c := &Counter{
		Behavior: rewind.NewBehavior(reg, id, s),
		surface:  s,
		Value:    value,
	}
	c.Start(c)
	return c
}

func (c *Counter) CaptureState() (rewind.Snapshot, bool) {
	if c.OmitCapture {
		return nil, false
	}
	return rewind.MarshalState(counterState{Value: c.Value})
}

func (c *Counter) RestoreState(snap rewind.Snapshot) error {
	if c.FailRestore {
		return errRestore
	}
	st, err := rewind.UnmarshalState[counterState](snap)
	if err != nil {
		return err
	}
	c.Value = st.Value
	return nil
}

func (c *Counter) Dispose() {
	c.Disposed++
}

func (t *toggles) SetActive(on bool) {
	t.active = on
	t.calls++
}

func (t *toggles) SetVisible(on bool) {
	t.visible = on
}

func (t *toggles) SetCollidable(on bool) {
	t.collidable = on
}

func frameAt(ts float64, ids ...rewind.ID) *rewind.Frame {
	states := make([]rewind.EntityState, 0, len(ids))
	for _, id := range ids {
		states = append(states, rewind.EntityState{
			ID:    id,
			State: rewind.Snapshot(`{}`),
		})
	}
	f, err := rewind.NewFrame(ts, states)
	if err != nil {
		panic(err)
	}
	return f
}

func timestamps(frames []*rewind.Frame) []float64 {
	res := make([]float64, len(frames))
	for i, f := range frames {
		res[i] = f.Timestamp()
	}
	return res
}
