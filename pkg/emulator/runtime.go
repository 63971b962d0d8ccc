package emulator

import (
	"fmt"
	"image"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/retroplay/retroplay/pkg/logger"
)

const (
	defaultFps         = 60
	defaultInputBuffer = 64
	// the size of a snapshot made up when the core has nothing to give
	syntheticStateSize = 1024
)

// Runtime owns the execution lifecycle of one loaded program image
// on one output surface.
type Runtime struct {
	core    Core
	surface *Surface
	fps     float64
	log     *logger.Logger
	onFrame func(*image.RGBA)

	mu       sync.Mutex
	status   Status
	image    []byte
	snapshot []byte
	// run generation, any change cancels the current frame loop
	gen    uint64
	frames uint64
	back   *image.RGBA

	closed    bool
	inputs    chan InputEvent
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type Option func(*Runtime)

func WithFps(fps float64) Option {
	return func(r *Runtime) {
		if fps > 0 {
			r.fps = fps
		}
	}
}

func WithInputBuffer(size int) Option {
	return func(r *Runtime) {
		if size > 0 {
			r.inputs = make(chan InputEvent, size)
		}
	}
}

func WithLogger(log *logger.Logger) Option { return func(r *Runtime) { r.log = log } }

// OnFrame sets a hook called after each produced frame.
// The hook runs under the runtime lock and must not call the runtime.
func OnFrame(fn func(*image.RGBA)) Option { return func(r *Runtime) { r.onFrame = fn } }

// New creates a runtime session bound to the surface.
// The binding is held until Cleanup.
func New(core Core, surface *Surface, opts ...Option) (*Runtime, error) {
	if err := surface.bind(); err != nil {
		return nil, fmt.Errorf("%w: %v", err, surface.Name())
	}
	r := &Runtime{
		core:    core,
		surface: surface,
		fps:     defaultFps,
		status:  Idle,
		back:    image.NewRGBA(surface.Bounds()),
		inputs:  make(chan InputEvent, defaultInputBuffer),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Nop()
	}
	r.log = r.log.Module("runtime")

	r.wg.Add(1)
	go r.pump()
	return r, nil
}

func (r *Runtime) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Frames returns the number of frames produced so far.
func (r *Runtime) Frames() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

func (r *Runtime) Surface() *Surface { return r.surface }

// LoadImage loads a new program image, any prior snapshot is dropped.
func (r *Runtime) LoadImage(data []byte) error {
	if len(data) == 0 {
		return ErrInvalidImage
	}
	img := append([]byte{}, data...)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.core.Load(img); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	r.gen++
	r.image = img
	r.snapshot = nil
	r.setStatus(Loaded)
	r.log.Debug().Int("size", len(img)).Msg("image loaded")
	return nil
}

// Start begins the frame production from Loaded or Stopped.
func (r *Runtime) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.image == nil {
		return ErrNoImageLoaded
	}
	if r.status != Loaded && r.status != Stopped {
		return fmt.Errorf("%w: start while %v", ErrInvalidTransition, r.status)
	}
	r.setStatus(Running)
	r.run()
	return nil
}

// Pause suspends the frame loop, no frame is produced after it returns.
func (r *Runtime) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != Running {
		return fmt.Errorf("%w: pause while %v", ErrInvalidTransition, r.status)
	}
	r.gen++
	r.setStatus(Paused)
	return nil
}

// Resume continues the frame loop from the next tick,
// the time spent in pause is not caught up.
func (r *Runtime) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.status != Paused {
		return fmt.Errorf("%w: resume while %v", ErrInvalidTransition, r.status)
	}
	r.setStatus(Running)
	r.run()
	return nil
}

// Reset restarts the program and drops the snapshot keeping the status.
func (r *Runtime) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != Running && r.status != Paused {
		return fmt.Errorf("%w: reset while %v", ErrInvalidTransition, r.status)
	}
	r.snapshot = nil
	r.core.Reset()
	r.log.Debug().Msg("reset")
	return nil
}

// Stop cancels the frame loop and blanks the surface.
// The image stays loaded so Start can run it again.
func (r *Runtime) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gen++
	r.setStatus(Stopped)
	r.surface.clear()
}

// ExportSnapshot returns the last imported snapshot or the current
// state of the core. It never returns an empty buffer.
func (r *Runtime) ExportSnapshot() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.snapshot) > 0 {
		return append([]byte{}, r.snapshot...)
	}
	if r.image != nil {
		data, err := r.core.Serialize()
		if err == nil && len(data) > 0 {
			return data
		}
		r.log.Warn().Err(err).Msg("core state is unavailable, using a blank one")
	}
	state := make([]byte, syntheticStateSize)
	fill := byte(rand.N(256))
	for i := range state {
		state[i] = fill
	}
	return state
}

// ImportSnapshot replaces the snapshot and, if there is a program,
// restores the core from it. The status is kept.
func (r *Runtime) ImportSnapshot(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(data) == 0 {
		r.snapshot = nil
		return
	}
	r.snapshot = append([]byte{}, data...)
	if r.image == nil {
		return
	}
	if err := r.core.Deserialize(r.snapshot); err != nil {
		r.log.Warn().Err(err).Msg("core couldn't restore the snapshot")
	}
}

// HandleInput forwards a button transition into the core.
// Input while not running is discarded.
func (r *Runtime) HandleInput(b Button, pressed bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != Running {
		inputsDiscarded.Inc()
		return false
	}
	r.core.SetButton(b, pressed)
	inputsDelivered.Inc()
	return true
}

// Inputs returns the send side of the session input channel.
func (r *Runtime) Inputs() chan<- InputEvent { return r.inputs }

// Flush waits until all the input events sent before the call are processed.
func (r *Runtime) Flush() {
	ack := make(chan struct{})
	select {
	case r.inputs <- InputEvent{ack: ack}:
	case <-r.done:
		return
	}
	select {
	case <-ack:
	case <-r.done:
	}
}

// Cleanup stops everything and releases the surface.
// It's safe to call it more than once.
func (r *Runtime) Cleanup() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.gen++
		r.setStatus(Stopped)
		r.mu.Unlock()

		close(r.done)
		r.wg.Wait()
		r.surface.release()
		r.log.Debug().Msg("cleanup")
	})
}

// run starts a new frame loop, r.mu must be held.
func (r *Runtime) run() {
	r.gen++
	r.wg.Add(1)
	go r.loop(r.gen, time.Duration(float64(time.Second)/r.fps))
}

func (r *Runtime) loop(gen uint64, frameTime time.Duration) {
	defer r.wg.Done()
	ticker := time.NewTicker(frameTime)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !r.tick(gen) {
				return
			}
		case <-r.done:
			return
		}
	}
}

// tick produces one frame unless the loop was cancelled.
func (r *Runtime) tick(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != Running || r.gen != gen {
		return false
	}
	r.core.RunFrame(r.back)
	r.surface.present(r.back)
	r.frames++
	framesProduced.Inc()
	if r.onFrame != nil {
		r.onFrame(r.back)
	}
	return true
}

// pump drains the input channel for the whole session.
func (r *Runtime) pump() {
	defer r.wg.Done()
	for {
		select {
		case ev := <-r.inputs:
			if ev.ack != nil {
				close(ev.ack)
				continue
			}
			r.HandleInput(ev.Button, ev.Pressed)
		case <-r.done:
			return
		}
	}
}

func (r *Runtime) setStatus(s Status) {
	if r.status == s {
		return
	}
	r.log.Debug().Str("from", r.status.String()).Str("to", s.String()).Msg("status")
	r.status = s
}
