// Package realtime delivers named server events to registered handlers,
// over WebSocket or Server-Sent Events.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/leafsync/leafsync/internal/metrics"
)

// Handler handles one event. Args are the event's positional arguments.
type Handler func(args []json.RawMessage) error

// Channel is anything handlers can be attached to. On returns a function
// that detaches the handler; calling it more than once is a no-op.
type Channel interface {
	On(event string, h Handler) (off func())
}

// ErrMissingArg is returned by DecodeArgs when an event carries fewer
// arguments than the handler expects.
var ErrMissingArg = errors.New("missing event argument")

// HandlerError is a failure returned by an event handler. Transports stop
// on it: it means local state no longer matches the server.
type HandlerError struct {
	Event string
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handle %s: %v", e.Event, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

type listener struct {
	id uint64
	h  Handler
}

// Emitter is an in-memory Channel. Handlers for an event run in the order
// they were registered.
type Emitter struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[string][]listener
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[string][]listener)}
}

// On registers h for event.
func (e *Emitter) On(event string, h Handler) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners[event] = append(e.listeners[event], listener{id: id, h: h})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.off(event, id) })
	}
}

func (e *Emitter) off(event string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ls := e.listeners[event]
	for i, l := range ls {
		if l.id == id {
			e.listeners[event] = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(e.listeners[event]) == 0 {
		delete(e.listeners, event)
	}
}

// Count returns the number of handlers registered for event.
func (e *Emitter) Count(event string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[event])
}

// Emit delivers an event to its handlers. Events nobody listens to are
// dropped. Handler errors are joined and returned as a *HandlerError.
func (e *Emitter) Emit(event string, args []json.RawMessage) error {
	e.mu.RLock()
	ls := make([]listener, len(e.listeners[event]))
	copy(ls, e.listeners[event])
	e.mu.RUnlock()

	if len(ls) == 0 {
		return nil
	}

	var errs []error
	for _, l := range ls {
		if err := l.h(args); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		metrics.RecordChannelEvent(event, false)
		return &HandlerError{Event: event, Err: errors.Join(errs...)}
	}
	metrics.RecordChannelEvent(event, true)
	return nil
}

// EncodeArgs marshals values into positional event arguments.
func EncodeArgs(values ...any) ([]json.RawMessage, error) {
	args := make([]json.RawMessage, len(values))
	for i, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode arg %d: %w", i, err)
		}
		args[i] = data
	}
	return args, nil
}

// DecodeArgs unmarshals positional arguments into dst in order. A nil
// destination skips that argument.
func DecodeArgs(args []json.RawMessage, dst ...any) error {
	for i, d := range dst {
		if d == nil {
			continue
		}
		if i >= len(args) {
			return fmt.Errorf("arg %d: %w", i, ErrMissingArg)
		}
		if err := json.Unmarshal(args[i], d); err != nil {
			return fmt.Errorf("decode arg %d: %w", i, err)
		}
	}
	return nil
}
