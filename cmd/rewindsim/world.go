package main

import (
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/kode4food/rewind"
)

type (
	// World owns the simulated entities. It spawns wanderers with finite
	// lifetimes around a single persistent player and moves them all with
	// a seeded random walk
	World struct {
		registry   *rewind.Registry
		rng        *rand.Rand
		log        *zap.Logger
		walkers    map[rewind.ID]*walker
		player     rewind.ID
		maxAlive   int
		spawnEvery float64
		untilSpawn float64
		spawned    int
		disposed   int
	}

	walker struct {
		*rewind.Behavior
		body    body
		state   walkerState
		restore func(rewind.Snapshot) error
		dispose func(rewind.ID)
	}

	walkerState struct {
		X        float64 `json:"x"`
		Y        float64 `json:"y"`
		Age      float64 `json:"age"`
		Lifetime float64 `json:"lifetime,omitempty"`
	}

	body struct {
		active     bool
		visible    bool
		collidable bool
	}
)

const (
	walkSpeed   = 2.0
	minLifetime = 2.0
	maxLifetime = 8.0
)

var _ rewind.Rewindable = (*walker)(nil)

// NewWorld creates a World with its player already started
func NewWorld(
	reg *rewind.Registry, log *zap.Logger, seed uint64, maxAlive int,
) *World {
	w := &World{
		registry:   reg,
		rng:        rand.New(rand.NewPCG(seed, seed)),
		log:        log,
		walkers:    map[rewind.ID]*walker{},
		maxAlive:   maxAlive,
		spawnEvery: maxLifetime / float64(max(maxAlive, 1)),
	}
	w.player = w.spawn(0).ID()
	return w
}

// Step advances every alive entity by dt, retires wanderers that outlived
// their lifetime, and spawns new ones
func (w *World) Step(dt float64) {
	for _, id := range w.registry.AliveIDs() {
		wk, ok := w.walkers[id]
		if !ok {
			continue
		}
		wk.step(w.rng, dt)
		if wk.expired() {
			w.log.Debug("wanderer expired", zap.String("id", string(id)))
			wk.Destroy()
		}
	}

	w.untilSpawn -= dt
	if w.untilSpawn > 0 {
		return
	}
	w.untilSpawn = w.spawnEvery
	if w.aliveWanderers() < w.maxAlive {
		lifetime := minLifetime + w.rng.Float64()*(maxLifetime-minLifetime)
		w.spawn(lifetime)
	}
}

// Player returns the identity of the persistent player
func (w *World) Player() rewind.ID {
	return w.player
}

// Entities returns the number of entities the World still holds in memory
func (w *World) Entities() int {
	return len(w.walkers)
}

// Spawned returns the number of entities ever created
func (w *World) Spawned() int {
	return w.spawned
}

// Disposed returns the number of entities released after being purged
func (w *World) Disposed() int {
	return w.disposed
}

func (w *World) spawn(lifetime float64) *walker {
	id := rewind.NewID()
	wk := &walker{
		state:   walkerState{Lifetime: lifetime},
		dispose: w.forget,
	}
	wk.Behavior = rewind.NewBehavior(w.registry, id, &wk.body)
	wk.restore = rewind.MakeRestorer(func(s walkerState) error {
		wk.state = s
		return nil
	})
	w.walkers[id] = wk
	w.spawned++
	wk.Start(wk)
	w.log.Debug("entity spawned",
		zap.String("id", string(id)),
		zap.Float64("lifetime", lifetime),
	)
	return wk
}

func (w *World) forget(id rewind.ID) {
	delete(w.walkers, id)
	w.disposed++
}

func (w *World) aliveWanderers() int {
	res := 0
	for _, id := range w.registry.AliveIDs() {
		if id != w.player {
			res++
		}
	}
	return res
}

func (wk *walker) CaptureState() (rewind.Snapshot, bool) {
	return rewind.MarshalState(wk.state)
}

func (wk *walker) RestoreState(snap rewind.Snapshot) error {
	return wk.restore(snap)
}

func (wk *walker) Dispose() {
	wk.dispose(wk.ID())
}

func (wk *walker) step(rng *rand.Rand, dt float64) {
	wk.state.Age += dt
	wk.state.X += (rng.Float64()*2 - 1) * walkSpeed * dt
	wk.state.Y += (rng.Float64()*2 - 1) * walkSpeed * dt
}

func (wk *walker) expired() bool {
	return wk.state.Lifetime > 0 && wk.state.Age >= wk.state.Lifetime
}

func (b *body) SetActive(on bool) {
	b.active = on
}

func (b *body) SetVisible(on bool) {
	b.visible = on
}

func (b *body) SetCollidable(on bool) {
	b.collidable = on
}
