package main

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kode4food/rewind"
)

type (
	// Simulation drives a Controller and a World through a Scenario with a
	// fixed step. Game time only advances while the Controller records
	Simulation struct {
		opts     Options
		scenario *Scenario
		log      *zap.Logger
		clock    *rewind.ManualClock
		ctrl     *rewind.Controller
		world    *World
		gatherer prometheus.Gatherer
		events   map[rewind.EventType]int
	}

	// Summary is the state of a Simulation after its Run
	Summary struct {
		Events   map[rewind.EventType]int
		Elapsed  float64
		GameTime float64
		Span     float64
		Frames   int
		Tracked  int
		Entities int
		Spawned  int
		Disposed int
	}
)

// NewSimulation wires a Controller, its metrics and a World. The archiver
// may be nil
func NewSimulation(
	opts Options, sc *Scenario, log *zap.Logger, archiver rewind.Archiver,
) (*Simulation, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	metrics, err := rewind.NewMetrics(promReg)
	if err != nil {
		return nil, err
	}

	s := &Simulation{
		opts:     opts,
		scenario: sc,
		log:      log,
		clock:    rewind.NewManualClock(),
		gatherer: promReg,
		events:   map[rewind.EventType]int{},
	}

	cfg := rewind.DefaultConfig()
	cfg.Logger = log
	cfg.Metrics = metrics
	cfg.Archiver = archiver
	cfg.Listener = s.observe
	cfg.RetentionWindow = opts.Retention
	cfg.SampleInterval = opts.SampleInterval
	cfg.ScrubRate = opts.ScrubRate

	s.ctrl, err = rewind.NewController(cfg, s.clock)
	if err != nil {
		return nil, err
	}
	s.world = NewWorld(s.ctrl.Registry(), log, opts.Seed, opts.Wanderers)
	return s, nil
}

// Run steps the simulation until the scenario's duration has elapsed,
// performing each scripted action once its time is reached. The
// Controller is closed before returning
func (s *Simulation) Run(ctx context.Context) (*Summary, error) {
	defer func() { _ = s.ctrl.Close() }()

	duration := s.duration()
	steps := int(math.Ceil(duration / s.opts.Step))
	actions := s.scenario.Actions

	s.log.Info("simulation started",
		zap.String("scenario", s.scenario.Name),
		zap.Float64("duration", duration),
		zap.Int("actions", len(actions)),
	)

	for i := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		elapsed := float64(i) * s.opts.Step
		for len(actions) > 0 && actions[0].At <= elapsed {
			s.perform(actions[0])
			actions = actions[1:]
		}
		if s.ctrl.State() == rewind.Recording {
			s.clock.Advance(s.opts.Step)
			s.world.Step(s.opts.Step)
		}
		s.ctrl.Tick(s.opts.Step)
	}

	return &Summary{
		Events:   maps.Clone(s.events),
		Elapsed:  float64(steps) * s.opts.Step,
		GameTime: s.clock.Now(),
		Span:     s.ctrl.AvailableRewindSpan(),
		Frames:   s.ctrl.FrameCount(),
		Tracked:  s.ctrl.TrackedEntityCount(),
		Entities: s.world.Entities(),
		Spawned:  s.world.Spawned(),
		Disposed: s.world.Disposed(),
	}, nil
}

// Controller exposes the simulation's Controller
func (s *Simulation) Controller() *rewind.Controller {
	return s.ctrl
}

// World exposes the simulated entities
func (s *Simulation) World() *World {
	return s.world
}

// WriteSummary prints the Summary followed by every gathered metric
func (s *Simulation) WriteSummary(w io.Writer, sum *Summary) error {
	var b strings.Builder
	fmt.Fprintf(&b, "elapsed:   %.2fs\n", sum.Elapsed)
	fmt.Fprintf(&b, "game time: %.2fs\n", sum.GameTime)
	fmt.Fprintf(&b, "span:      %.2fs\n", sum.Span)
	fmt.Fprintf(&b, "frames:    %d\n", sum.Frames)
	fmt.Fprintf(&b, "tracked:   %d\n", sum.Tracked)
	fmt.Fprintf(&b, "entities:  %d (spawned %d, disposed %d)\n",
		sum.Entities, sum.Spawned, sum.Disposed,
	)

	b.WriteString("events:\n")
	for _, typ := range slices.Sorted(maps.Keys(sum.Events)) {
		fmt.Fprintf(&b, "  %s: %d\n", typ, sum.Events[typ])
	}

	mfs, err := s.gatherer.Gather()
	if err != nil {
		return err
	}
	b.WriteString("metrics:\n")
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			value := m.GetCounter().GetValue() + m.GetGauge().GetValue()
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			fmt.Fprintf(&b, "  %s: %g\n", name, value)
		}
	}

	_, err = io.WriteString(w, b.String())
	return err
}

func (s *Simulation) duration() float64 {
	return cmp.Or(s.opts.Duration, s.scenario.Duration, DefaultDuration)
}

func (s *Simulation) perform(a Action) {
	switch a.Do {
	case ActionPreview:
		s.ctrl.BeginPreview()
	case ActionSeek:
		s.ctrl.Seek(a.Target)
	case ActionCommit:
		s.ctrl.Commit()
	case ActionAutoRewind:
		if !s.ctrl.TriggerAutoRewind(a.Duration) {
			s.log.Warn("auto rewind refused",
				zap.Float64("duration", a.Duration),
				zap.Float64("span", s.ctrl.AvailableRewindSpan()),
			)
		}
	case ActionReset:
		s.ctrl.ResetHistory()
	}
	s.log.Info("scenario action",
		zap.String("action", string(a.Do)),
		zap.Float64("at", a.At),
		zap.Stringer("state", s.ctrl.State()),
	)
}

func (s *Simulation) observe(ev *rewind.Event) {
	s.events[ev.Type]++
	switch ev.Type {
	case rewind.EventFramesExpired, rewind.EventEntityPurged:
		s.log.Debug("rewind event",
			zap.String("type", string(ev.Type)),
			zap.String("id", string(ev.ID)),
			zap.Float64("timestamp", ev.Timestamp),
			zap.Int("count", ev.Count),
		)
	default:
		s.log.Info("rewind event",
			zap.String("type", string(ev.Type)),
			zap.Float64("timestamp", ev.Timestamp),
			zap.Int("count", ev.Count),
		)
	}
}
