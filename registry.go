package rewind

import (
	"cmp"
	"reflect"
	"slices"

	"go.uber.org/zap"
)

type (
	// Registry is the pool of every entity seen by the rewind subsystem. It
	// tracks which entities are alive and, per entity, how many retained
	// Frames mention it. An entity that is neither alive nor referenced is
	// purged: disposed and unregistered. It is not safe for concurrent use
	Registry struct {
		records map[ID]*record
		log     *zap.Logger
		onPurge func(ID)
		nextSeq uint64
		holds   int
		pending bool
	}

	// record is the arena slot for a single entity
	record struct {
		entity  Rewindable
		id      ID
		seq     uint64
		refs    int
		alive   bool
		suspect bool
	}
)

// NewRegistry creates an empty Registry that reports through the logger
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		records: map[ID]*record{},
		log:     log,
	}
}

// Register marks the entity alive, adding it to the pool on first sight.
// Registering an already tracked entity only flips it back to alive.
// Entities of pointer type are also checked against the tracked object;
// other kinds are matched by ID alone
func (r *Registry) Register(e Rewindable) {
	id := e.ID()
	if rec, ok := r.records[id]; ok {
		if !sameEntity(rec.entity, e) {
			r.log.Error("identity already bound to another entity",
				zap.String("id", string(id)),
			)
			return
		}
		rec.alive = true
		return
	}
	r.nextSeq++
	r.records[id] = &record{
		entity: e,
		id:     id,
		seq:    r.nextSeq,
		alive:  true,
	}
}

// Unregister drops the entity from every tracking structure. It reports
// false if the entity was not tracked
func (r *Registry) Unregister(id ID) bool {
	if _, ok := r.records[id]; !ok {
		r.log.Warn("unregister of untracked entity",
			zap.String("id", string(id)),
		)
		return false
	}
	delete(r.records, id)
	return true
}

// MarkDestroyed flags the entity as no longer alive without removing it
// from the pool
func (r *Registry) MarkDestroyed(id ID) {
	rec, ok := r.records[id]
	if !ok {
		r.log.Warn("destroy of untracked entity",
			zap.String("id", string(id)),
		)
		return
	}
	rec.alive = false
}

// IncrementRefs adds one reference for each tracked entity in ids
func (r *Registry) IncrementRefs(ids []ID) {
	for _, id := range ids {
		rec, ok := r.records[id]
		if !ok {
			r.log.Warn("reference to untracked entity",
				zap.String("id", string(id)),
			)
			continue
		}
		rec.refs++
		rec.suspect = false
	}
}

// DecrementRefs removes one reference for each tracked entity in ids.
// Entities that already left the pool are skipped
func (r *Registry) DecrementRefs(ids []ID) {
	for _, id := range ids {
		rec, ok := r.records[id]
		if !ok {
			continue
		}
		if rec.refs == 0 {
			r.log.Error("reference count underflow",
				zap.String("id", string(id)),
			)
			rec.suspect = true
			continue
		}
		rec.refs--
	}
}

// Purge disposes and unregisters every entity that is neither alive nor
// referenced by a retained Frame, returning their identities in
// registration order. While the Registry is held, the purge is deferred
// until the last hold is released
func (r *Registry) Purge() []ID {
	if r.holds > 0 {
		r.pending = true
		return nil
	}
	r.pending = false

	var candidates []*record
	for _, rec := range r.records {
		if rec.eligible() {
			candidates = append(candidates, rec)
		}
	}
	slices.SortFunc(candidates, func(a, b *record) int {
		return cmp.Compare(a.seq, b.seq)
	})

	var purged []ID
	for _, rec := range candidates {
		id := rec.id
		if cur, ok := r.records[id]; !ok || cur != rec || !rec.eligible() {
			continue
		}
		delete(r.records, id)
		rec.entity.Dispose()
		purged = append(purged, id)
		r.log.Debug("entity purged", zap.String("id", string(id)))
		if r.onPurge != nil {
			r.onPurge(id)
		}
	}
	return purged
}

// Tracked reports whether the entity is in the pool
func (r *Registry) Tracked(id ID) bool {
	_, ok := r.records[id]
	return ok
}

// Alive reports whether the entity is tracked and currently alive
func (r *Registry) Alive(id ID) bool {
	rec, ok := r.records[id]
	return ok && rec.alive
}

// Entity returns the tracked entity for the identity
func (r *Registry) Entity(id ID) (Rewindable, bool) {
	rec, ok := r.records[id]
	if !ok {
		return nil, false
	}
	return rec.entity, true
}

// RefCount returns the number of retained Frames mentioning the entity
func (r *Registry) RefCount(id ID) int {
	if rec, ok := r.records[id]; ok {
		return rec.refs
	}
	return 0
}

// Len returns the number of entities in the pool, alive or not
func (r *Registry) Len() int {
	return len(r.records)
}

// IDs returns every tracked identity in registration order. The result is
// a copy and remains valid while the Registry changes
func (r *Registry) IDs() []ID {
	return r.collect(func(*record) bool { return true })
}

// AliveIDs returns the identities of alive entities in registration order
func (r *Registry) AliveIDs() []ID {
	return r.collect(func(rec *record) bool { return rec.alive })
}

// hold defers purges until the returned release function is called
func (r *Registry) hold() func() {
	r.holds++
	released := false
	return func() {
		if released {
			return
		}
		released = true
		r.holds--
		if r.holds == 0 && r.pending {
			r.Purge()
		}
	}
}

func (r *Registry) collect(pred func(*record) bool) []ID {
	recs := make([]*record, 0, len(r.records))
	for _, rec := range r.records {
		if pred(rec) {
			recs = append(recs, rec)
		}
	}
	slices.SortFunc(recs, func(a, b *record) int {
		return cmp.Compare(a.seq, b.seq)
	})
	res := make([]ID, len(recs))
	for i, rec := range recs {
		res[i] = rec.id
	}
	return res
}

func (rec *record) eligible() bool {
	return rec.refs == 0 && !rec.alive && !rec.suspect
}

func sameEntity(l, r Rewindable) bool {
	lv, rv := reflect.ValueOf(l), reflect.ValueOf(r)
	if lv.Type() != rv.Type() {
		return false
	}
	if lv.Kind() != reflect.Pointer {
		return true
	}
	return lv.Pointer() == rv.Pointer()
}
