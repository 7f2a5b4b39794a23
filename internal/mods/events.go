package mods

// EventKind identifies a lifecycle event.
type EventKind string

const (
	// EventModAdded is raised by the registry after a mod is registered.
	EventModAdded EventKind = "mod_added"
	// EventModRemoved is raised by the registry after a mod's entry and
	// backing file are gone.
	EventModRemoved EventKind = "mod_removed"
	// EventModUnloaded is raised by a provider after it unregistered and
	// closed a mod.
	EventModUnloaded EventKind = "mod_unloaded"
	// EventModStatusChanged is raised by a provider after a mod's installed
	// flag changed.
	EventModStatusChanged EventKind = "mod_status_changed"
)

// Event is a mod lifecycle notification.
type Event struct {
	Kind EventKind
	ID   string
	Mod  Mod
}

// Emitter fans events out to subscribers. The zero value is ready to use.
// It is not safe for concurrent use; callers emit while holding the install
// lock.
type Emitter struct {
	subscribers []func(Event)
}

// Subscribe registers fn.
func (e *Emitter) Subscribe(fn func(Event)) {
	if fn != nil {
		e.subscribers = append(e.subscribers, fn)
	}
}

// Emit delivers ev to every subscriber in registration order.
func (e *Emitter) Emit(ev Event) {
	for _, fn := range e.subscribers {
		fn(ev)
	}
}
