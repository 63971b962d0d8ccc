// Package input maps host key and touch events into canonical
// controller buttons and delivers them to a runtime.
package input

import (
	"sync"

	"github.com/retroplay/retroplay/pkg/emulator"
	"github.com/retroplay/retroplay/pkg/logger"
)

// DefaultKeys is the static keyboard layout.
var DefaultKeys = map[string]emulator.Button{
	"ArrowUp":    emulator.Up,
	"ArrowDown":  emulator.Down,
	"ArrowLeft":  emulator.Left,
	"ArrowRight": emulator.Right,
	"z":          emulator.A,
	"x":          emulator.B,
	"Enter":      emulator.Start,
	"Shift":      emulator.Select,
}

// Router turns input events into button transitions for
// the currently attached sink.
type Router struct {
	keys map[string]emulator.Button
	log  *logger.Logger

	mu   sync.Mutex
	sink chan<- emulator.InputEvent
	// incremented with each attach so stale releases are no-op
	gen uint64
}

// NewRouter creates a router with the default key map
// overridden by custom key -> button name pairs.
// Custom pairs with unknown buttons are skipped.
func NewRouter(custom map[string]string, log *logger.Logger) *Router {
	if log == nil {
		log = logger.Nop()
	}
	r := &Router{keys: make(map[string]emulator.Button, len(DefaultKeys)+len(custom)), log: log.Module("input")}
	for k, b := range DefaultKeys {
		r.keys[k] = b
	}
	for k, name := range custom {
		b, ok := emulator.ParseButton(name)
		if !ok {
			r.log.Warn().Str("key", k).Str("button", name).Msg("unknown button in the key map")
			continue
		}
		r.keys[k] = b
	}
	return r
}

// Map returns the button for the key.
func (r *Router) Map(key string) (emulator.Button, bool) {
	b, ok := r.keys[key]
	return b, ok
}

// Keys returns a copy of the active key map.
func (r *Router) Keys() map[string]string {
	m := make(map[string]string, len(r.keys))
	for k, b := range r.keys {
		m[k] = string(b)
	}
	return m
}

// Attach makes the sink receive all the subsequent events.
// Any previously attached sink is replaced.
// The returned release func is idempotent and detaches only this sink.
func (r *Router) Attach(sink chan<- emulator.InputEvent) (release func()) {
	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.sink = sink
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			if r.gen == gen {
				r.sink = nil
			}
			r.mu.Unlock()
		})
	}
}

// Attached tells whether some sink receives events.
func (r *Router) Attached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sink != nil
}

func (r *Router) KeyDown(key string) bool { return r.key(key, true) }
func (r *Router) KeyUp(key string) bool   { return r.key(key, false) }

// Button routes a touch or gamepad event by its canonical button name.
func (r *Router) Button(name string, pressed bool) bool {
	b, ok := emulator.ParseButton(name)
	if !ok {
		return false
	}
	return r.send(b, pressed)
}

func (r *Router) key(key string, pressed bool) bool {
	b, ok := r.keys[key]
	if !ok {
		return false
	}
	return r.send(b, pressed)
}

// send never blocks, events that don't fit into the sink are dropped.
func (r *Router) send(b emulator.Button, pressed bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sink == nil {
		return false
	}
	select {
	case r.sink <- emulator.InputEvent{Button: b, Pressed: pressed}:
		return true
	default:
		r.log.Warn().Str("button", string(b)).Msg("input dropped, the queue is full")
		return false
	}
}
