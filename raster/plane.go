// Package raster builds the packed bit planes a QL printer consumes from a
// label request.
package raster

import (
	"fmt"
	"image"
)

const bitsPerWord = 8

// Plane is one colour channel packed 8 dots per byte, most significant bit
// first. Every line has the same stride; trailing pad bits stay zero.
type Plane struct {
	data                  []byte
	width, height, stride int
}

func NewPlane(width, height int) *Plane {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	stride := (width + bitsPerWord - 1) / bitsPerWord
	return &Plane{
		data:   make([]byte, stride*height),
		width:  width,
		height: height,
		stride: stride,
	}
}

func (p *Plane) Width() int {
	return p.width
}

func (p *Plane) Height() int {
	return p.height
}

// Stride is the byte length of every line, ceil(width/8).
func (p *Plane) Stride() int {
	return p.stride
}

func (p *Plane) Data() []byte {
	return p.data
}

// Line returns the packed bytes of line y. The slice aliases the plane.
func (p *Plane) Line(y int) []byte {
	return p.data[y*p.stride : (y+1)*p.stride]
}

// MirroredLine returns line y with its dots in reverse order.
func (p *Plane) MirroredLine(y int) []byte {
	out := make([]byte, p.stride)
	for x := 0; x < p.width; x++ {
		if p.Get(x, y) {
			mx := p.width - 1 - x
			out[mx/bitsPerWord] |= 0x80 >> (mx % bitsPerWord)
		}
	}
	return out
}

// Get reports whether the dot at (x, y) is set. Out of range dots are unset.
func (p *Plane) Get(x, y int) bool {
	if x < 0 || y < 0 || x >= p.width || y >= p.height {
		return false
	}
	return p.data[y*p.stride+x/bitsPerWord]&(0x80>>(x%bitsPerWord)) != 0
}

// Set changes the dot at (x, y). Dots outside the plane are clipped.
func (p *Plane) Set(x, y int, on bool) {
	if x < 0 || y < 0 || x >= p.width || y >= p.height {
		return
	}
	i := y*p.stride + x/bitsPerWord
	mask := byte(0x80 >> (x % bitsPerWord))
	if on {
		p.data[i] |= mask
	} else {
		p.data[i] &^= mask
	}
}

// FillRect sets every dot of r that lies within the plane.
func (p *Plane) FillRect(r image.Rectangle) {
	r = r.Intersect(image.Rect(0, 0, p.width, p.height))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			p.Set(x, y, true)
		}
	}
}

// Draw ORs src onto p with its origin at at. Dots falling outside p are
// clipped, never wrapped.
func (p *Plane) Draw(src *Plane, at image.Point) {
	for y := 0; y < src.height; y++ {
		dy := at.Y + y
		if dy < 0 || dy >= p.height {
			continue
		}
		for x := 0; x < src.width; x++ {
			if src.Get(x, y) {
				p.Set(at.X+x, dy, true)
			}
		}
	}
}

// Rotate returns the plane turned 90 degrees counter-clockwise.
func (p *Plane) Rotate() *Plane {
	out := NewPlane(p.height, p.width)
	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			if p.Get(x, y) {
				out.Set(y, p.width-1-x, true)
			}
		}
	}
	return out
}

// Count returns the number of set dots.
func (p *Plane) Count() int {
	n := 0
	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			if p.Get(x, y) {
				n++
			}
		}
	}
	return n
}

func (p *Plane) String() string {
	return fmt.Sprintf("Plane(%d,%d)", p.width, p.height)
}
