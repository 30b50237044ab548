package rewind_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kode4food/rewind"
)

type testWorld struct {
	clock *rewind.ManualClock
	ctrl  *rewind.Controller
	reg   *rewind.Registry
	evs   []*rewind.Event
}

func newTestWorld(t *testing.T, cfg rewind.Config) *testWorld {
	t.Helper()
	w := &testWorld{clock: rewind.NewManualClock()}
	cfg.Listener = func(ev *rewind.Event) {
		w.evs = append(w.evs, ev)
	}
	ctrl, err := rewind.NewController(cfg, w.clock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctrl.Close() })
	w.ctrl = ctrl
	w.reg = ctrl.Registry()
	return w
}

func (w *testWorld) recordAt(t *testing.T, ts float64) {
	t.Helper()
	w.clock.SetNow(ts)
	require.True(t, w.ctrl.Record())
}

func (w *testWorld) events(typ rewind.EventType) []*rewind.Event {
	var res []*rewind.Event
	for _, ev := range w.evs {
		if ev.Type == typ {
			res = append(res, ev)
		}
	}
	return res
}

func TestNewControllerValidation(t *testing.T) {
	_, err := rewind.NewController(rewind.DefaultConfig(), nil)
	assert.True(t, errors.Is(err, rewind.ErrInvalidConfig))

	cfg := rewind.DefaultConfig()
	cfg.SampleInterval = 0
	_, err = rewind.NewController(cfg, rewind.NewManualClock())
	assert.True(t, errors.Is(err, rewind.ErrInvalidConfig))
}

func TestPreviewCommitScenario(t *testing.T) {
	w := newTestWorld(t, rewind.DefaultConfig())
	e := newCounter(w.reg, "e", 10)

	w.recordAt(t, 0)
	e.Value = 11
	w.recordAt(t, 1)
	e.Destroy()
	w.recordAt(t, 2)

	assert.Equal(t, 2, w.reg.RefCount("e"))
	assert.Equal(t, 2.0, w.ctrl.AvailableRewindSpan())

	w.ctrl.BeginPreview()
	assert.True(t, w.ctrl.IsPreviewing())
	assert.False(t, w.ctrl.IsAutoRewinding())
	assert.Equal(t, 2.0, w.ctrl.ScrubTarget())
	assert.False(t, w.ctrl.Record())

	w.ctrl.Tick(1.5)
	assert.Equal(t, 0.5, w.ctrl.ScrubTarget())
	assert.True(t, e.Alive())
	assert.Equal(t, 10, e.Value)
	assert.Equal(t, 3, w.ctrl.FrameCount())

	w.ctrl.Commit()
	assert.Equal(t, rewind.Recording, w.ctrl.State())
	assert.Equal(t, 1, w.ctrl.FrameCount())
	assert.Equal(t, 0.0, w.ctrl.LastFrame().Timestamp())
	assert.Equal(t, 0.0, w.ctrl.AvailableRewindSpan())
	assert.Equal(t, 0.0, w.clock.Now())
	assert.True(t, w.reg.Tracked("e"))
	assert.True(t, w.reg.Alive("e"))
	assert.Equal(t, 1, w.reg.RefCount("e"))

	committed := w.events(rewind.EventCommitted)
	require.Len(t, committed, 1)
	assert.Equal(t, 2, committed[0].Count)
	assert.Len(t, w.events(rewind.EventFramesDiscarded), 1)
}

func TestScrubMovesBothWays(t *testing.T) {
	w := newTestWorld(t, rewind.DefaultConfig())
	a := newCounter(w.reg, "a", 0)
	w.recordAt(t, 0)

	b := newCounter(w.reg, "b", 0)
	a.Value = 1
	w.recordAt(t, 1)

	a.Destroy()
	b.Value = 2
	w.recordAt(t, 2)

	w.ctrl.BeginPreview()
	w.ctrl.Seek(0)
	assert.True(t, a.Alive())
	assert.False(t, b.Alive())
	assert.Equal(t, 0, a.Value)

	w.ctrl.Seek(2.5)
	assert.Equal(t, 2.0, w.ctrl.ScrubTarget())
	assert.False(t, a.Alive())
	assert.True(t, b.Alive())
	assert.Equal(t, 2, b.Value)

	w.ctrl.Seek(1.2)
	assert.True(t, a.Alive())
	assert.True(t, b.Alive())
	assert.Equal(t, 1, a.Value)
	assert.Equal(t, 0, b.Value)
	assert.ElementsMatch(t, w.ctrl.LastFrame().IDs(), []rewind.ID{"b"})

	w.ctrl.Commit()
	assert.Equal(t, 1.0, w.ctrl.LastFrame().Timestamp())
	assert.ElementsMatch(t, []rewind.ID{"a", "b"}, w.reg.AliveIDs())
}

func TestReconcileMatchesFrame(t *testing.T) {
	w := newTestWorld(t, rewind.DefaultConfig())
	a := newCounter(w.reg, "a", 0)
	b := newCounter(w.reg, "b", 0)
	c := newCounter(w.reg, "c", 0)
	d := newCounter(w.reg, "d", 0)
	d.Destroy()

	b.Destroy()
	w.recordAt(t, 0)

	b.Resurrect()
	c.Destroy()
	a.Value = 9
	w.recordAt(t, 1)

	w.ctrl.BeginPreview()
	w.ctrl.Seek(0)

	assert.ElementsMatch(t, []rewind.ID{"a", "c"}, w.reg.AliveIDs())
	assert.True(t, a.Alive())
	assert.False(t, b.Alive())
	assert.True(t, c.Alive())
	assert.False(t, d.Alive())
	assert.Equal(t, 0, a.Value)
}

func TestManualScrubStopsAtFirstFrame(t *testing.T) {
	w := newTestWorld(t, rewind.DefaultConfig())
	newCounter(w.reg, "a", 0)
	w.recordAt(t, 3)
	w.recordAt(t, 4)

	w.ctrl.BeginPreview()
	w.ctrl.Tick(100)
	assert.Equal(t, 3.0, w.ctrl.ScrubTarget())
	w.ctrl.Tick(1)
	assert.Equal(t, 3.0, w.ctrl.ScrubTarget())
}

func TestCommitWithoutPreview(t *testing.T) {
	w := newTestWorld(t, rewind.DefaultConfig())
	newCounter(w.reg, "a", 0)
	w.recordAt(t, 0)
	w.recordAt(t, 1)

	w.ctrl.Commit()
	assert.Equal(t, rewind.Recording, w.ctrl.State())
	assert.Equal(t, 2, w.ctrl.FrameCount())
	assert.Empty(t, w.events(rewind.EventCommitted))
}

func TestBeginPreviewWithEmptyHistory(t *testing.T) {
	w := newTestWorld(t, rewind.DefaultConfig())
	w.ctrl.BeginPreview()
	assert.False(t, w.ctrl.IsPreviewing())
	assert.False(t, w.ctrl.TriggerAutoRewind(0.5))
}

func TestAutoRewindInsufficientHistory(t *testing.T) {
	w := newTestWorld(t, rewind.DefaultConfig())
	newCounter(w.reg, "a", 0)
	for _, ts := range []float64{0, 1, 2, 3} {
		w.recordAt(t, ts)
	}
	assert.Equal(t, 3.0, w.ctrl.AvailableRewindSpan())

	assert.False(t, w.ctrl.TriggerAutoRewind(5))
	assert.Equal(t, rewind.Recording, w.ctrl.State())
	assert.Equal(t, 4, w.ctrl.FrameCount())
	assert.False(t, w.ctrl.TriggerAutoRewind(0))
	assert.Empty(t, w.evs)
}

func TestAutoRewind(t *testing.T) {
	w := newTestWorld(t, rewind.DefaultConfig())
	c := newCounter(w.reg, "a", 0)
	for i := range 6 {
		c.Value = i
		w.recordAt(t, float64(i))
	}

	assert.True(t, w.ctrl.TriggerAutoRewind(2))
	assert.True(t, w.ctrl.IsPreviewing())
	assert.True(t, w.ctrl.IsAutoRewinding())
	assert.False(t, w.ctrl.TriggerAutoRewind(1))

	w.ctrl.Commit()
	w.ctrl.Seek(0)
	w.ctrl.BeginPreview()
	assert.True(t, w.ctrl.IsAutoRewinding())
	assert.Equal(t, 5.0, w.ctrl.ScrubTarget())

	w.ctrl.Tick(1.5)
	assert.True(t, w.ctrl.IsAutoRewinding())
	assert.Equal(t, 3, c.Value)

	w.ctrl.Tick(1)
	assert.False(t, w.ctrl.IsPreviewing())
	assert.Equal(t, rewind.Recording, w.ctrl.State())
	assert.Equal(t, 3.0, w.ctrl.LastFrame().Timestamp())
	assert.Equal(t, 3.0, w.clock.Now())
	assert.Equal(t, 3, c.Value)
	assert.Len(t, w.events(rewind.EventAutoRewindStarted), 1)
	assert.Len(t, w.events(rewind.EventCommitted), 1)
}

func TestAutoRewindFullSpan(t *testing.T) {
	cfg := rewind.DefaultConfig()
	cfg.RetentionWindow = 3
	w := newTestWorld(t, cfg)
	c := newCounter(w.reg, "a", 0)
	for i := range 8 {
		c.Value = i
		w.recordAt(t, float64(i))
	}
	assert.Equal(t, 4.0, w.ctrl.FirstFrame().Timestamp())
	assert.Equal(t, 3.0, w.ctrl.AvailableRewindSpan())

	assert.True(t, w.ctrl.TriggerAutoRewind(3))
	w.ctrl.Tick(10)
	assert.Equal(t, rewind.Recording, w.ctrl.State())
	assert.Equal(t, 4.0, w.ctrl.LastFrame().Timestamp())
	assert.Equal(t, 4, c.Value)
}

func TestRecordingCadence(t *testing.T) {
	cfg := rewind.DefaultConfig()
	cfg.SampleInterval = 0.5
	w := newTestWorld(t, cfg)
	newCounter(w.reg, "a", 0)

	for range 10 {
		w.clock.Advance(0.25)
		w.ctrl.Tick(0.25)
	}
	assert.Equal(t, 5, w.ctrl.FrameCount())
	assert.Equal(t, 0.25, w.ctrl.FirstFrame().Timestamp())
	assert.Equal(t, 2.25, w.ctrl.LastFrame().Timestamp())

	w.clock.SetTimeScale(0)
	for range 10 {
		w.ctrl.Tick(0.25)
	}
	assert.Equal(t, 5, w.ctrl.FrameCount())
}

func TestScrubScalesWithTimeScale(t *testing.T) {
	cfg := rewind.DefaultConfig()
	cfg.ScrubRate = 2
	w := newTestWorld(t, cfg)
	newCounter(w.reg, "a", 0)
	for i := range 10 {
		w.recordAt(t, float64(i))
	}

	w.clock.SetTimeScale(0.5)
	w.ctrl.BeginPreview()
	w.ctrl.Tick(2)
	assert.Equal(t, 7.0, w.ctrl.ScrubTarget())
}

func TestTrimPurgesDeadEntity(t *testing.T) {
	cfg := rewind.DefaultConfig()
	cfg.RetentionWindow = 2
	w := newTestWorld(t, cfg)
	keep := newCounter(w.reg, "keep", 0)
	gone := newCounter(w.reg, "gone", 0)

	for _, ts := range []float64{0, 1, 2, 3, 4} {
		w.recordAt(t, ts)
	}
	gone.Destroy()
	w.recordAt(t, 5)
	w.recordAt(t, 6)
	assert.True(t, w.reg.Tracked("gone"))
	assert.Equal(t, 1, w.reg.RefCount("gone"))

	w.recordAt(t, 7)
	assert.False(t, w.reg.Tracked("gone"))
	assert.Equal(t, 1, gone.Disposed)
	assert.True(t, w.reg.Tracked("keep"))
	assert.Zero(t, keep.Disposed)
	assert.Equal(t, 1, w.ctrl.TrackedEntityCount())

	purged := w.events(rewind.EventEntityPurged)
	require.Len(t, purged, 1)
	assert.Equal(t, rewind.ID("gone"), purged[0].ID)
	assert.Equal(t, []float64{5, 6, 7}, timestamps(w.ctrl.Frames()))
}

func TestRefCountsMatchHistory(t *testing.T) {
	cfg := rewind.DefaultConfig()
	cfg.RetentionWindow = 3
	w := newTestWorld(t, cfg)

	var all []*Counter
	for i := range 12 {
		c := newCounter(w.reg, rewind.ID(fmt.Sprintf("e%d", i)), i)
		all = append(all, c)
		if i%3 == 2 {
			all[i-1].Destroy()
		}
		w.recordAt(t, float64(i))
	}

	w.ctrl.BeginPreview()
	w.ctrl.Seek(9.5)
	w.ctrl.Commit()
	assert.Equal(t, []float64{8, 9}, timestamps(w.ctrl.Frames()))

	for _, c := range all {
		count := 0
		for _, f := range w.ctrl.Frames() {
			if f.Has(c.ID()) {
				count++
			}
		}
		if !w.reg.Tracked(c.ID()) {
			assert.Zero(t, count, c.ID())
			assert.False(t, c.Alive(), c.ID())
			assert.Equal(t, 1, c.Disposed, c.ID())
			continue
		}
		assert.Equal(t, count, w.reg.RefCount(c.ID()), c.ID())
		if count == 0 {
			assert.True(t, w.reg.Alive(c.ID()), c.ID())
		}
	}
	assert.False(t, w.reg.Tracked("e10"))
	assert.False(t, w.reg.Tracked("e11"))
}

func TestPreviewPurgesUnreferencedEntity(t *testing.T) {
	w := newTestWorld(t, rewind.DefaultConfig())
	a := newCounter(w.reg, "a", 0)
	w.recordAt(t, 0)
	w.recordAt(t, 1)

	late := newCounter(w.reg, "late", 0)
	w.ctrl.BeginPreview()
	w.ctrl.Seek(0)

	assert.False(t, w.reg.Tracked("late"))
	assert.Equal(t, 1, late.Disposed)
	assert.True(t, a.Alive())
}

func TestContractViolationsIsolated(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	cfg := rewind.DefaultConfig()
	cfg.Logger = zap.New(core)
	w := newTestWorld(t, cfg)

	bad := newCounter(w.reg, "bad", 1)
	good := newCounter(w.reg, "good", 1)
	shy := newCounter(w.reg, "shy", 1)
	shy.OmitCapture = true

	w.recordAt(t, 0)
	assert.False(t, w.ctrl.LastFrame().Has("shy"))
	assert.Equal(t, 1, logs.FilterMessage("entity omitted from frame").Len())

	bad.Value, good.Value = 2, 2
	bad.FailRestore = true
	w.recordAt(t, 1)

	w.ctrl.BeginPreview()
	w.ctrl.Seek(0)
	assert.Equal(t, 2, bad.Value)
	assert.Equal(t, 1, good.Value)
	assert.False(t, shy.Alive())
	assert.Positive(t, logs.FilterMessage("entity state not restored").Len())
}

func TestOutOfOrderRecordSkipped(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	cfg := rewind.DefaultConfig()
	cfg.Logger = zap.New(core)
	w := newTestWorld(t, cfg)
	newCounter(w.reg, "a", 0)

	w.recordAt(t, 1)
	w.clock.SetNow(1)
	assert.False(t, w.ctrl.Record())
	assert.Equal(t, 1, w.ctrl.FrameCount())
	assert.Equal(t, 1, w.reg.RefCount("a"))
	assert.Equal(t, 1, logs.FilterMessage("frame not recorded").Len())
}

func TestResetHistory(t *testing.T) {
	w := newTestWorld(t, rewind.DefaultConfig())
	player := newCounter(w.reg, "player", 0)
	enemy := newCounter(w.reg, "enemy", 0)
	w.recordAt(t, 0)
	enemy.Destroy()
	w.recordAt(t, 1)

	w.ctrl.BeginPreview()
	w.ctrl.ResetHistory()

	assert.False(t, w.ctrl.IsPreviewing())
	assert.Len(t, w.events(rewind.EventCommitted), 1)
	assert.Equal(t, 1.0, w.clock.Now())
	assert.Equal(t, 0, w.ctrl.FrameCount())
	assert.Equal(t, 0.0, w.ctrl.AvailableRewindSpan())
	assert.True(t, w.reg.Tracked("player"))
	assert.True(t, player.Alive())
	assert.Equal(t, 0, w.reg.RefCount("player"))
	assert.False(t, w.reg.Tracked("enemy"))
	assert.Equal(t, 1, enemy.Disposed)
	assert.Len(t, w.events(rewind.EventHistoryReset), 1)

	w.clock.SetNow(0.5)
	w.ctrl.Tick(0.01)
	assert.Equal(t, 1, w.ctrl.FrameCount())
}

func TestResetHistoryCommitsScrubbedPreview(t *testing.T) {
	w := newTestWorld(t, rewind.DefaultConfig())
	e := newCounter(w.reg, "e", 0)
	for i := range 6 {
		e.Value = i
		w.recordAt(t, float64(i))
	}

	w.ctrl.BeginPreview()
	w.ctrl.Seek(0)
	w.ctrl.ResetHistory()

	assert.Equal(t, rewind.Recording, w.ctrl.State())
	assert.Equal(t, 0, e.Value)
	assert.Equal(t, 0.0, w.clock.Now())
	require.Len(t, w.events(rewind.EventFramesDiscarded), 1)
	assert.Equal(t, 5, w.events(rewind.EventFramesDiscarded)[0].Count)
	assert.Equal(t, 0, w.ctrl.FrameCount())

	w.clock.Advance(0.01)
	w.ctrl.Tick(0.01)
	require.Equal(t, 1, w.ctrl.FrameCount())
	assert.Equal(t, 0.01, w.ctrl.LastFrame().Timestamp())
	snap, ok := w.ctrl.LastFrame().State("e")
	require.True(t, ok)
	assert.JSONEq(t, `{"value":0}`, string(snap))
}

func TestResetHistoryCommitsAutoRewind(t *testing.T) {
	w := newTestWorld(t, rewind.DefaultConfig())
	e := newCounter(w.reg, "e", 0)
	for i := range 6 {
		e.Value = i
		w.recordAt(t, float64(i))
	}

	require.True(t, w.ctrl.TriggerAutoRewind(3))
	w.ctrl.Tick(1)
	w.ctrl.ResetHistory()

	assert.Equal(t, rewind.Recording, w.ctrl.State())
	assert.Equal(t, 4, e.Value)
	assert.Equal(t, 4.0, w.clock.Now())
	assert.Len(t, w.events(rewind.EventCommitted), 1)
}

func TestRecordingCarriesOvershoot(t *testing.T) {
	cfg := rewind.DefaultConfig()
	cfg.SampleInterval = 0.5
	w := newTestWorld(t, cfg)
	newCounter(w.reg, "a", 0)

	for range 9 {
		w.clock.Advance(0.375)
		w.ctrl.Tick(0.375)
	}
	assert.Equal(t,
		[]float64{0.375, 1.125, 1.5, 1.875, 2.625, 3, 3.375},
		timestamps(w.ctrl.Frames()),
	)
}

func TestLeaveWhileReferenced(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	cfg := rewind.DefaultConfig()
	cfg.Logger = zap.New(core)
	cfg.RetentionWindow = 2
	w := newTestWorld(t, cfg)

	keep := newCounter(w.reg, "keep", 0)
	gone := newCounter(w.reg, "gone", 0)
	for _, ts := range []float64{0, 1, 2} {
		w.recordAt(t, ts)
	}
	gone.Leave()
	assert.False(t, w.reg.Tracked("gone"))

	w.ctrl.BeginPreview()
	w.ctrl.Seek(0)
	assert.True(t, w.ctrl.FirstFrame().Has("gone"))
	assert.False(t, w.reg.Tracked("gone"))
	assert.False(t, gone.Alive())
	assert.True(t, keep.Alive())

	w.ctrl.Commit()
	for _, ts := range []float64{1, 2, 3} {
		w.recordAt(t, ts)
	}
	assert.Equal(t, 3, w.ctrl.FrameCount())
	assert.False(t, w.ctrl.FirstFrame().Has("gone"))
	assert.Equal(t, 0, gone.Disposed)
	assert.Equal(t, 0, logs.Len())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "recording", rewind.Recording.String())
	assert.Equal(t, "previewing", rewind.Previewing.String())
	assert.Equal(t, "auto_rewinding", rewind.AutoRewinding.String())
	assert.Equal(t, "committing", rewind.Committing.String())
	assert.Equal(t, "state(9)", rewind.State(9).String())
}
