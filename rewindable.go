package rewind

type (
	// Rewindable is the capability every entity tracked by the rewind
	// subsystem exposes
	Rewindable interface {
		// ID returns the entity's stable identity
		ID() ID

		// CaptureState returns a self-contained snapshot of the entity. If
		// the entity cannot produce one it returns false and is left out of
		// the Frame being recorded
		CaptureState() (Snapshot, bool)

		// RestoreState fully resets the entity's observable state to the
		// snapshot. Repeated calls with the same snapshot are idempotent
		RestoreState(Snapshot) error

		// Destroy soft-disables the entity and marks it not alive in the
		// Registry. It is a no-op if the entity is already destroyed
		Destroy()

		// Resurrect reverses Destroy and re-registers the entity. It is a
		// no-op if the entity is already alive
		Resurrect()

		// Dispose releases the entity's resources once it has been purged
		Dispose()
	}

	// Surface is the small set of toggles an entity offers so that a
	// Behavior can enable or disable it
	Surface interface {
		SetActive(bool)
		SetVisible(bool)
		SetCollidable(bool)
	}

	// Behavior implements identity, soft destruction and resurrection for
	// an entity by composition. An entity embeds a *Behavior and supplies
	// CaptureState, RestoreState and Dispose itself
	Behavior struct {
		registry *Registry
		surface  Surface
		owner    Rewindable
		id       ID
		alive    bool
	}
)

// NewBehavior creates a Behavior bound to the Registry. The surface may be
// nil for entities with nothing to toggle
func NewBehavior(reg *Registry, id ID, surface Surface) *Behavior {
	return &Behavior{
		registry: reg,
		surface:  surface,
		id:       id,
	}
}

// Start brings the owning entity into the simulation, enabling its surface
// and registering it. The owner must report the Behavior's ID
func (b *Behavior) Start(owner Rewindable) {
	b.owner = owner
	b.alive = true
	b.toggle(true)
	b.registry.Register(owner)
}

// ID returns the entity's stable identity
func (b *Behavior) ID() ID {
	return b.id
}

// Alive reports whether the entity is currently part of the simulation
func (b *Behavior) Alive() bool {
	return b.alive
}

// Destroy soft-disables the entity, keeping its identity and memory
func (b *Behavior) Destroy() {
	if !b.alive {
		return
	}
	b.alive = false
	b.toggle(false)
	b.registry.MarkDestroyed(b.id)
}

// Resurrect re-enables a destroyed entity and registers it again
func (b *Behavior) Resurrect() {
	if b.alive || b.owner == nil {
		return
	}
	b.alive = true
	b.toggle(true)
	b.registry.Register(b.owner)
}

// Leave permanently removes the entity from the simulation. If the entity
// was already purged, the Registry is left untouched
func (b *Behavior) Leave() {
	b.Destroy()
	if b.registry.Tracked(b.id) {
		b.registry.Unregister(b.id)
	}
}

func (b *Behavior) toggle(on bool) {
	if b.surface == nil {
		return
	}
	b.surface.SetActive(on)
	b.surface.SetVisible(on)
	b.surface.SetCollidable(on)
}
