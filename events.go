package rewind

type (
	// EventType identifies a Controller notification
	EventType string

	// Event describes a notable transition inside the Controller. ID is set
	// only for entity-level events, Count only for frame-level ones
	Event struct {
		Type      EventType
		ID        ID
		Timestamp float64
		Count     int
	}

	// Listener receives Controller events synchronously, within the tick
	// that raised them
	Listener func(*Event)
)

const (
	EventPreviewStarted    EventType = "preview_started"
	EventAutoRewindStarted EventType = "auto_rewind_started"
	EventCommitted         EventType = "committed"
	EventFramesExpired     EventType = "frames_expired"
	EventFramesDiscarded   EventType = "frames_discarded"
	EventEntityPurged      EventType = "entity_purged"
	EventHistoryReset      EventType = "history_reset"
)

// MakeDispatcher routes each Event to the Listener registered for its type.
// Events without a Listener are ignored
func MakeDispatcher(listeners map[EventType]Listener) Listener {
	return func(ev *Event) {
		if fn, ok := listeners[ev.Type]; ok {
			fn(ev)
		}
	}
}
