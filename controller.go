package rewind

import (
	"fmt"
	"slices"

	"go.uber.org/zap"
)

type (
	// Controller records a rolling window of Frames and lets the
	// application scrub back through them, preview a past moment, and
	// commit to it. Every method must be called from the single goroutine
	// that drives the simulation tick
	Controller struct {
		config    Config
		clock     Clock
		history   *History
		registry  *Registry
		archive   *ArchiveWorker
		log       *zap.Logger
		metrics   *Metrics
		listener  Listener
		state     State
		target    float64
		commitAt  float64
		countdown float64
		cursor    int
	}

	// State is the Controller's position in its record/preview/commit cycle
	State int
)

const (
	Recording State = iota
	Previewing
	AutoRewinding
	Committing
)

// NewController creates a Controller driven by the Clock. It owns a fresh
// Registry that entities register themselves with
func NewController(cfg Config, clock Clock) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		return nil, fmt.Errorf("%w: clock is required", ErrInvalidConfig)
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	c := &Controller{
		config:   cfg,
		clock:    clock,
		history:  NewHistory(),
		registry: NewRegistry(log),
		log:      log,
		metrics:  cfg.Metrics,
		listener: cfg.Listener,
	}
	c.registry.onPurge = c.entityPurged

	if cfg.Archiver != nil {
		c.archive = NewArchiveWorker(cfg.Archiver, cfg)
	}
	return c, nil
}

// Registry returns the entity pool owned by the Controller
func (c *Controller) Registry() *Registry {
	return c.registry
}

// Tick advances the Controller by the unscaled elapsed time. While
// recording, a Frame is captured each time the sample interval elapses,
// with any overshoot carried into the next interval. While previewing, the scrub target moves back and the world is
// reconciled to the Frame at or before it
func (c *Controller) Tick(elapsed float64) {
	scaled := max(elapsed, 0) * c.clock.TimeScale()
	switch c.state {
	case Previewing, AutoRewinding:
		c.scrub(scaled)
	case Recording:
		if c.countdown > 0 {
			c.countdown -= scaled
			if c.countdown > 0 {
				return
			}
		}
		c.countdown = max(c.countdown+c.config.SampleInterval, 0)
		c.Record()
	}
}

// Record captures every alive entity into a Frame stamped with the
// Clock's current time, then trims Frames that fell out of the retention
// window. It does nothing and returns false unless the Controller is
// recording
func (c *Controller) Record() bool {
	if c.state != Recording {
		return false
	}

	now := c.clock.Now()
	f, err := NewFrame(now, c.capture())
	if err != nil {
		c.log.Error("frame not recorded", zap.Error(err))
		return false
	}
	if err := c.history.Append(f); err != nil {
		c.log.Warn("frame not recorded",
			zap.Float64("timestamp", now),
			zap.Error(err),
		)
		return false
	}

	c.registry.IncrementRefs(f.ids)
	c.metrics.frameRecorded()
	c.release(ReasonExpired,
		c.history.TrimOlderThan(now-c.config.RetentionWindow),
	)
	c.observe()
	return true
}

// BeginPreview freezes recording and starts scrubbing back from the last
// recorded Frame. It is ignored unless the Controller is recording with at
// least one Frame retained
func (c *Controller) BeginPreview() {
	if !c.startPreview(Previewing) {
		return
	}
	c.log.Debug("preview started", zap.Float64("target", c.target))
	c.emit(&Event{Type: EventPreviewStarted, Timestamp: c.target})
}

// TriggerAutoRewind starts a preview that scrubs back by duration and then
// commits on its own, ignoring manual commits and seeks. It returns false
// without changing anything if a preview is already active or if the
// retained history spans less than duration
func (c *Controller) TriggerAutoRewind(duration float64) bool {
	if c.state != Recording || duration <= 0 {
		return false
	}
	if c.history.Span() < duration {
		return false
	}
	if !c.startPreview(AutoRewinding) {
		return false
	}
	c.commitAt = max(c.target-duration, c.history.First().Timestamp())
	c.log.Debug("auto rewind started",
		zap.Float64("target", c.target),
		zap.Float64("commit_at", c.commitAt),
	)
	c.emit(&Event{Type: EventAutoRewindStarted, Timestamp: c.commitAt})
	return true
}

// Seek moves the scrub target of a manual preview directly, in either
// direction, and reconciles the world to it. The target is clamped to the
// retained history
func (c *Controller) Seek(target float64) {
	if c.state != Previewing {
		return
	}
	c.target = target
	c.clampTarget()
	c.preview()
}

// Commit fixes the previewed Frame as the present: the world is reconciled
// to it, the Clock is set to its timestamp, and every later Frame is
// discarded. It does nothing unless a manual preview is active
func (c *Controller) Commit() {
	if c.state != Previewing {
		return
	}
	c.commit()
}

// ResetHistory discards every Frame and purges every entity that is not
// alive. An active preview is first committed at its current scrub
// position, so the Clock agrees with the state the world was left in.
// Alive entities stay registered
func (c *Controller) ResetHistory() {
	if c.state != Recording {
		c.log.Debug("preview committed by history reset",
			zap.Stringer("state", c.state),
			zap.Float64("target", c.target),
		)
		c.commit()
	}
	c.countdown = 0

	removed := c.history.Clear()
	c.release(ReasonReset, removed)
	c.registry.Purge()
	c.observe()
	c.emit(&Event{
		Type:      EventHistoryReset,
		Timestamp: c.clock.Now(),
		Count:     len(removed),
	})
}

// Close stops the archive worker after it has flushed queued Frames
func (c *Controller) Close() error {
	if c.archive != nil {
		c.archive.Stop()
	}
	return nil
}

// State returns the Controller's current state
func (c *Controller) State() State {
	return c.state
}

// IsPreviewing reports whether a manual or automatic preview is active
func (c *Controller) IsPreviewing() bool {
	return c.state == Previewing || c.state == AutoRewinding
}

// IsAutoRewinding reports whether an automatic rewind is active
func (c *Controller) IsAutoRewinding() bool {
	return c.state == AutoRewinding
}

// AvailableRewindSpan returns the game time covered by retained history
func (c *Controller) AvailableRewindSpan() float64 {
	return c.history.Span()
}

// TrackedEntityCount returns the number of entities in the pool
func (c *Controller) TrackedEntityCount() int {
	return c.registry.Len()
}

// ScrubTarget returns the time the active preview is scrubbing toward
func (c *Controller) ScrubTarget() float64 {
	return c.target
}

// FrameCount returns the number of retained Frames
func (c *Controller) FrameCount() int {
	return c.history.Len()
}

// Frames returns the retained Frames, oldest first
func (c *Controller) Frames() []*Frame {
	return c.history.Frames()
}

// FirstFrame returns the oldest retained Frame, or nil
func (c *Controller) FirstFrame() *Frame {
	return c.history.First()
}

// LastFrame returns the newest retained Frame, or nil
func (c *Controller) LastFrame() *Frame {
	return c.history.Last()
}

func (s State) String() string {
	switch s {
	case Recording:
		return "recording"
	case Previewing:
		return "previewing"
	case AutoRewinding:
		return "auto_rewinding"
	case Committing:
		return "committing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (c *Controller) startPreview(st State) bool {
	if c.state != Recording {
		return false
	}
	last := c.history.Last()
	if last == nil {
		return false
	}
	c.state = st
	c.target = last.Timestamp()
	c.cursor = c.history.Len() - 1
	return true
}

func (c *Controller) scrub(scaled float64) {
	c.target -= scaled * c.config.ScrubRate
	if c.state == AutoRewinding && c.target <= c.commitAt {
		c.target = c.commitAt
		c.commit()
		return
	}
	c.clampTarget()
	c.preview()
}

func (c *Controller) clampTarget() {
	first, last := c.history.First(), c.history.Last()
	if first == nil {
		return
	}
	c.target = min(max(c.target, first.Timestamp()), last.Timestamp())
}

func (c *Controller) preview() {
	idx, f, ok := c.history.FloorSeek(c.target, c.cursor)
	if !ok {
		c.log.Warn("preview aborted, history is empty")
		c.commit()
		return
	}
	c.cursor = idx
	c.reconcile(f)
}

func (c *Controller) commit() {
	c.state = Committing
	idx, f, ok := c.history.FloorSeek(c.target, c.cursor)
	if !ok {
		c.finish()
		return
	}

	c.reconcile(f)
	c.clock.SetNow(f.Timestamp())
	removed := c.history.TruncateAfter(idx)
	c.release(ReasonDiscarded, removed)
	c.metrics.committed()
	c.finish()
	c.observe()

	c.log.Debug("rewind committed",
		zap.Float64("timestamp", f.Timestamp()),
		zap.Int("discarded", len(removed)),
	)
	c.emit(&Event{
		Type:      EventCommitted,
		Timestamp: f.Timestamp(),
		Count:     len(removed),
	})
}

func (c *Controller) finish() {
	c.state = Recording
	c.target = 0
	c.commitAt = 0
	c.cursor = 0
	c.countdown = c.config.SampleInterval
}

func (c *Controller) capture() []EntityState {
	ids := c.registry.AliveIDs()
	res := make([]EntityState, 0, len(ids))
	for _, id := range ids {
		e, ok := c.registry.Entity(id)
		if !ok {
			continue
		}
		snap, ok := e.CaptureState()
		if !ok || len(snap) == 0 {
			c.log.Warn("entity omitted from frame",
				zap.String("id", string(id)),
			)
			continue
		}
		res = append(res, EntityState{ID: id, State: slices.Clone(snap)})
	}
	return res
}

// reconcile brings the alive set and entity states in line with the
// Frame. Entities it destroys that no Frame refers to are purged, but only
// once the pass has finished
func (c *Controller) reconcile(f *Frame) {
	release := c.registry.hold()
	defer release()

	for _, id := range c.registry.IDs() {
		e, ok := c.registry.Entity(id)
		if !ok {
			continue
		}
		alive := c.registry.Alive(id)
		snap, inFrame := f.State(id)

		switch {
		case inFrame && !alive:
			e.Resurrect()
			if !c.registry.Alive(id) {
				c.log.Error("resurrected entity did not register",
					zap.String("id", string(id)),
				)
				c.registry.Register(e)
			}
			c.restore(id, e, snap)
		case inFrame:
			c.restore(id, e, snap)
		case alive:
			e.Destroy()
			if c.registry.Alive(id) {
				c.log.Error("destroyed entity still alive",
					zap.String("id", string(id)),
				)
				c.registry.MarkDestroyed(id)
			}
		}
	}
	c.registry.Purge()
}

func (c *Controller) restore(id ID, e Rewindable, snap Snapshot) {
	if err := e.RestoreState(snap); err != nil {
		c.log.Warn("entity state not restored",
			zap.String("id", string(id)),
			zap.Error(err),
		)
	}
}

// release drops the references held by removed Frames, hands them to the
// archive, and purges entities nothing refers to anymore
func (c *Controller) release(reason ArchiveReason, frames []*Frame) {
	if len(frames) == 0 {
		return
	}
	for _, f := range frames {
		c.registry.DecrementRefs(f.ids)
	}
	c.metrics.framesRemoved(reason, len(frames))
	if c.archive != nil {
		c.archive.Enqueue(&ArchiveBatch{Reason: reason, Frames: frames})
	}

	switch reason {
	case ReasonExpired:
		c.emit(&Event{
			Type:      EventFramesExpired,
			Timestamp: frames[len(frames)-1].Timestamp(),
			Count:     len(frames),
		})
	case ReasonDiscarded:
		c.emit(&Event{
			Type:      EventFramesDiscarded,
			Timestamp: frames[0].Timestamp(),
			Count:     len(frames),
		})
	}
	c.registry.Purge()
}

func (c *Controller) entityPurged(id ID) {
	c.metrics.entityPurged()
	c.emit(&Event{
		Type:      EventEntityPurged,
		ID:        id,
		Timestamp: c.clock.Now(),
	})
}

func (c *Controller) observe() {
	c.metrics.observe(c.history.Span(), c.registry.Len())
}

func (c *Controller) emit(ev *Event) {
	if c.listener != nil {
		c.listener(ev)
	}
}
