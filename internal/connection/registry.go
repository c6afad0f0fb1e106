package connection

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
)

// topic holds the listeners of one event name. A topic exists exactly while
// it has listeners, and owns the single raw subscription for its name.
type topic struct {
	listeners []listenerEntry
}

type listenerEntry struct {
	id ListenerID
	fn Listener
}

// registry fans raw transport events out to application listeners.
type registry struct {
	logger *slog.Logger
	// prepare runs once per raw event before fan-out; returning false drops
	// the event.
	prepare func(Event) (Event, bool)

	mu        sync.RWMutex
	topics    map[string]*topic
	nextID    ListenerID
	transport Transport
}

func newRegistry(prepare func(Event) (Event, bool), logger *slog.Logger) *registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &registry{
		logger:  logger,
		prepare: prepare,
		topics:  make(map[string]*topic),
	}
}

// add registers fn for event, subscribing on the live transport when event
// is new.
func (r *registry) add(event string, fn Listener) ListenerID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID

	t, ok := r.topics[event]
	if !ok {
		t = &topic{}
		r.topics[event] = t
		if r.transport != nil {
			r.subscribe(r.transport, event)
		}
	}
	t.listeners = append(t.listeners, listenerEntry{id: id, fn: fn})
	return id
}

// remove drops one listener. The raw subscription goes with the last one.
func (r *registry) remove(event string, id ListenerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.topics[event]
	if !ok {
		return false
	}
	for i, l := range t.listeners {
		if l.id != id {
			continue
		}
		t.listeners = append(t.listeners[:i:i], t.listeners[i+1:]...)
		if len(t.listeners) == 0 {
			r.drop(event)
		}
		return true
	}
	return false
}

// removeAll drops every listener of event and its raw subscription.
func (r *registry) removeAll(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.topics[event]
	if !ok {
		return 0
	}
	n := len(t.listeners)
	r.drop(event)
	return n
}

func (r *registry) drop(event string) {
	delete(r.topics, event)
	if r.transport != nil {
		r.transport.Off(event)
	}
}

// bind replays every topic onto t and makes it the live transport.
func (r *registry) bind(t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.transport = t
	for event := range r.topics {
		r.subscribe(t, event)
	}
	r.logger.Debug("listeners bound", "events", len(r.topics), "transport", t.Protocol())
}

// unbind detaches from the live transport.
func (r *registry) unbind() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.transport == nil {
		return
	}
	for event := range r.topics {
		r.transport.Off(event)
	}
	r.transport = nil
}

func (r *registry) subscribe(t Transport, event string) {
	t.On(event, func(data json.RawMessage) {
		r.dispatch(event, data)
	})
}

// dispatch delivers one raw event to a snapshot of the topic's listeners,
// outside the lock.
func (r *registry) dispatch(event string, data json.RawMessage) {
	ev := Event{Name: event, Data: data}
	if r.prepare != nil {
		var ok bool
		if ev, ok = r.prepare(ev); !ok {
			return
		}
	}

	r.mu.RLock()
	t, ok := r.topics[event]
	var listeners []listenerEntry
	if ok {
		listeners = append(listeners, t.listeners...)
	}
	r.mu.RUnlock()

	for _, l := range listeners {
		l.fn(ev)
	}
}

// events returns the subscribed event names, sorted.
func (r *registry) events() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.topics))
	for event := range r.topics {
		out = append(out, event)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// count returns the number of listeners on event.
func (r *registry) count(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.topics[event]; ok {
		return len(t.listeners)
	}
	return 0
}
