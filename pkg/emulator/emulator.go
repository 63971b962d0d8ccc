package emulator

import (
	"errors"
	"image"
)

var (
	// ErrInvalidImage is returned for empty or otherwise unloadable program images.
	ErrInvalidImage = errors.New("invalid program image")
	// ErrNoImageLoaded is returned when the runtime is started without an image.
	ErrNoImageLoaded = errors.New("no program image loaded")
	// ErrInvalidTransition is returned for the calls the current status doesn't allow.
	ErrInvalidTransition = errors.New("invalid runtime state transition")
	// ErrSurfaceBusy is returned when the output surface is bound to another runtime.
	ErrSurfaceBusy = errors.New("surface is already bound")
	// ErrClosed is returned when the runtime is asked to run after Cleanup.
	ErrClosed = errors.New("runtime is closed")
)

// Core is some emulation engine the runtime drives.
// All the calls are serialized by the runtime, the core doesn't need its own locking.
type Core interface {
	// Load replaces the running program with the image.
	Load(image []byte) error
	// Reset restarts the program from its initial state.
	Reset()
	// RunFrame emulates one frame and draws it into dst.
	RunFrame(dst *image.RGBA)
	// SetButton changes the state of a controller button.
	SetButton(b Button, pressed bool)
	// Serialize captures the complete emulation state.
	Serialize() ([]byte, error)
	// Deserialize restores the state from previously serialized data.
	Deserialize(data []byte) error
}

type Status int

const (
	Idle Status = iota
	Loaded
	Running
	Paused
	Stopped
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loaded:
		return "loaded"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Button is a canonical platform-independent controller button.
type Button string

const (
	Up     Button = "up"
	Down   Button = "down"
	Left   Button = "left"
	Right  Button = "right"
	A      Button = "a"
	B      Button = "b"
	Start  Button = "start"
	Select Button = "select"
)

// Buttons lists the whole canonical vocabulary in a fixed order.
var Buttons = []Button{Up, Down, Left, Right, A, B, Start, Select}

// ParseButton checks that the name is a canonical button.
func ParseButton(name string) (Button, bool) {
	for _, b := range Buttons {
		if string(b) == name {
			return b, true
		}
	}
	return "", false
}

// Bit returns the position of the button in a bitmask or -1.
func (b Button) Bit() int {
	for i, x := range Buttons {
		if x == b {
			return i
		}
	}
	return -1
}

// InputEvent is a button press/release transition.
type InputEvent struct {
	Button  Button
	Pressed bool

	// a non-nil ack makes a flush barrier
	ack chan struct{}
}
