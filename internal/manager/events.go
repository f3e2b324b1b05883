package manager

import (
	"inferd/internal/modelinstance"
)

// Event represents a manager lifecycle event.
// Minimal and stable: name + model ID and optional fields via key/values.
type Event struct {
	Name    string
	ModelID string
	Fields  map[string]any
}

// Event names.
const (
	EventStateChanged  = "state_changed"
	EventLoadStart     = "load_start"
	EventLoadDone      = "load_done"
	EventLoadFailed    = "load_failed"
	EventReloadStart   = "reload_start"
	EventReloadDone    = "reload_done"
	EventReloadFailed  = "reload_failed"
	EventUnloadStart   = "unload_start"
	EventUnloadDone    = "unload_done"
	EventUnloadTimeout = "unload_timeout"
)

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

func (m *Manager) publish(name, model string, version int64, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["version"] = version
	m.publisher.Publish(Event{Name: name, ModelID: model, Fields: fields})
}

// onTransition forwards instance state changes to events and metrics.
func (m *Manager) onTransition(in *instance, t modelinstance.Transition) {
	fields := map[string]any{"from": t.From.String(), "to": t.To.String()}
	if t.Err != nil {
		fields["error"] = t.Err.Error()
	}
	m.publish(EventStateChanged, t.Name, t.Version, fields)

	switch t.To {
	case modelinstance.StateAvailable:
		in.rep.PoolSize(in.model.Status().PoolSize)
		n := in.model.Reloads()
		for prev := in.reloadsSeen.Swap(n); prev < n; prev++ {
			in.rep.Reloaded()
		}
	case modelinstance.StateEnd:
		in.rep.PoolSize(0)
	}

	m.mu.Lock()
	switch {
	case t.Err != nil:
		in.lastErr = t.Err.Error()
	case t.To == modelinstance.StateAvailable:
		in.lastErr = ""
	}
	m.mu.Unlock()
}
