package emulator

import (
	"image"
	"sync"
	"sync/atomic"
)

// Surface is an output target for the frames.
// Only one runtime can be bound to it at a time.
type Surface struct {
	name  string
	bound atomic.Bool

	mu    sync.Mutex
	front *image.RGBA
	count uint64
}

func NewSurface(name string, w, h int) *Surface {
	return &Surface{name: name, front: image.NewRGBA(image.Rect(0, 0, w, h))}
}

func (s *Surface) Name() string            { return s.name }
func (s *Surface) Bounds() image.Rectangle { return s.front.Rect }
func (s *Surface) IsBound() bool           { return s.bound.Load() }

// Frame returns a copy of the last presented frame.
func (s *Surface) Frame() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &image.RGBA{
		Pix:    append([]uint8{}, s.front.Pix...),
		Stride: s.front.Stride,
		Rect:   s.front.Rect,
	}
}

// Presented returns the number of frames shown on the surface.
func (s *Surface) Presented() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *Surface) bind() error {
	if !s.bound.CompareAndSwap(false, true) {
		return ErrSurfaceBusy
	}
	return nil
}

func (s *Surface) release() {
	s.clear()
	s.bound.Store(false)
}

func (s *Surface) present(frame *image.RGBA) {
	s.mu.Lock()
	copy(s.front.Pix, frame.Pix)
	s.count++
	s.mu.Unlock()
}

func (s *Surface) clear() {
	s.mu.Lock()
	clear(s.front.Pix)
	s.mu.Unlock()
}
