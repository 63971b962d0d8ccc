// Package demo is a stand-in emulation core.
// It doesn't execute the program, it draws a test pattern derived from
// the image and keeps just enough state to exercise save states.
package demo

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"image/draw"

	"github.com/retroplay/retroplay/pkg/emulator"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	stateVersion = 1
	stateSize    = 4 + 1 + 4 + 8 + 1
	gridStep     = 20
)

var stateMagic = []byte("RPDS")

var (
	ErrBadState      = errors.New("malformed demo state")
	ErrStateMismatch = errors.New("state belongs to another image")
)

var (
	background = color.RGBA{R: 0x1a, G: 0x1a, B: 0x2e, A: 0xff}
	titleColor = color.RGBA{R: 0xe9, G: 0x45, B: 0x60, A: 0xff}
	pressed    = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

type Core struct {
	sum     uint32
	frame   uint64
	buttons uint8
	grid    color.RGBA
	loaded  bool
}

func New() *Core { return &Core{} }

func (c *Core) Load(image []byte) error {
	if len(image) == 0 {
		return emulator.ErrInvalidImage
	}
	c.sum = crc32.ChecksumIEEE(image)
	c.grid = color.RGBA{R: byte(c.sum), G: byte(c.sum >> 8), B: byte(c.sum >> 16), A: 0xff}
	c.frame, c.buttons = 0, 0
	c.loaded = true
	return nil
}

func (c *Core) Reset() { c.frame, c.buttons = 0, 0 }

func (c *Core) SetButton(b emulator.Button, down bool) {
	bit := b.Bit()
	if bit < 0 {
		return
	}
	if down {
		c.buttons |= 1 << bit
	} else {
		c.buttons &^= 1 << bit
	}
}

// Buttons returns the current controller bitmask.
func (c *Core) Buttons() uint8 { return c.buttons }

// Frame returns the number of emulated frames since the load or reset.
func (c *Core) Frame() uint64 { return c.frame }

func (c *Core) RunFrame(dst *image.RGBA) {
	b := dst.Bounds()
	draw.Draw(dst, b, &image.Uniform{C: background}, image.Point{}, draw.Src)

	shift := int(c.frame % gridStep)
	for x := b.Min.X + shift; x < b.Max.X; x += gridStep {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			dst.SetRGBA(x, y, c.grid)
		}
	}
	for i := range emulator.Buttons {
		if c.buttons&(1<<i) == 0 {
			continue
		}
		x := b.Min.X + 8 + i*14
		draw.Draw(dst, image.Rect(x, b.Max.Y-18, x+10, b.Max.Y-8), &image.Uniform{C: pressed}, image.Point{}, draw.Src)
	}
	label(dst, b.Dx()/2-45, b.Dy()/2-6, "EMULATOR DEMO", titleColor)
	label(dst, 8, 8, fmt.Sprintf("%08x %d", c.sum, c.frame), pressed)
	c.frame++
}

// Serialize packs the state as:
// magic[4] version[1] image crc32[4] frame[8] buttons[1], big endian.
func (c *Core) Serialize() ([]byte, error) {
	if !c.loaded {
		return nil, errors.New("nothing is loaded")
	}
	buf := bytes.NewBuffer(make([]byte, 0, stateSize))
	buf.Write(stateMagic)
	buf.WriteByte(stateVersion)
	_ = binary.Write(buf, binary.BigEndian, c.sum)
	_ = binary.Write(buf, binary.BigEndian, c.frame)
	buf.WriteByte(c.buttons)
	return buf.Bytes(), nil
}

func (c *Core) Deserialize(data []byte) error {
	if len(data) != stateSize || !bytes.Equal(data[:4], stateMagic) {
		return ErrBadState
	}
	if data[4] != stateVersion {
		return fmt.Errorf("%w: version %d", ErrBadState, data[4])
	}
	if sum := binary.BigEndian.Uint32(data[5:9]); sum != c.sum {
		return fmt.Errorf("%w: %08x != %08x", ErrStateMismatch, sum, c.sum)
	}
	c.frame = binary.BigEndian.Uint64(data[9:17])
	c.buttons = data[17]
	return nil
}

func label(img *image.RGBA, x, y int, text string, col color.RGBA) {
	(&font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x + 2), Y: fixed.I(y + 10)},
	}).DrawString(text)
}
