package raster

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/nixxel-company-limited/ql-usb-server/label"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TextBox is the area a TextRenderer is asked to typeset into.
type TextBox struct {
	Lines    []string
	Width    int
	FontSize int
	Align    label.Align
}

// Sample is typeset text. Pix is Width dots wide; the ink occupies the first
// InkWidth columns, with lines aligned against each other inside that block.
type Sample struct {
	Width    int
	InkWidth int
	Pix      *Plane
}

// TextRenderer typesets text into monochrome dots. Glyph shaping is left
// entirely to the implementation.
type TextRenderer interface {
	Render(ctx context.Context, box TextBox) (*Sample, error)
	// FitFontSize returns the font size whose wrapped text best fills a
	// band of the given height without overflowing the box width.
	FitFontSize(ctx context.Context, box TextBox, bandHeight int) (int, error)
}

const (
	minFontSize   = 10
	fitGrowSteps  = 12
	fitGrowFactor = 1.12
	fitShrink     = 0.9
)

// BasicRenderer draws text with the fixed 7x13 bitmap face scaled to the
// requested font size, where the font size is the line height in dots.
type BasicRenderer struct {
	face font.Face
}

func NewBasicRenderer() *BasicRenderer {
	return &BasicRenderer{face: basicfont.Face7x13}
}

func (r *BasicRenderer) nativeHeight() int {
	return r.face.Metrics().Height.Ceil()
}

func (r *BasicRenderer) nativeWidth(s string) int {
	return font.MeasureString(r.face, s).Ceil()
}

func (r *BasicRenderer) width(s string, size int) int {
	h := r.nativeHeight()
	return (r.nativeWidth(s)*size + h - 1) / h
}

// wrap breaks each line on spaces so that it fits maxWidth. A single word
// wider than maxWidth is kept on its own line.
func (r *BasicRenderer) wrap(lines []string, maxWidth, size int) []string {
	var out []string
	for _, para := range lines {
		cur := ""
		for _, w := range strings.Split(para, " ") {
			cand := w
			if cur != "" {
				cand = cur + " " + w
			}
			if cur == "" || r.width(cand, size) <= maxWidth {
				cur = cand
				continue
			}
			out = append(out, cur)
			cur = w
		}
		if cur == "" {
			cur = " "
		}
		out = append(out, cur)
	}
	return out
}

func (r *BasicRenderer) measure(box TextBox, size int) (int, int) {
	wrapped := r.wrap(box.Lines, box.Width, size)
	w := 0
	for _, l := range wrapped {
		if lw := r.width(l, size); lw > w {
			w = lw
		}
	}
	return w, len(wrapped) * size
}

func (r *BasicRenderer) Render(ctx context.Context, box TextBox) (*Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if box.Width <= 0 || box.FontSize <= 0 {
		return nil, fmt.Errorf("invalid text box %dx%d", box.Width, box.FontSize)
	}

	wrapped := r.wrap(box.Lines, box.Width, box.FontSize)
	nh := r.nativeHeight()
	nw := 1
	for _, l := range wrapped {
		if w := r.nativeWidth(l); w > nw {
			nw = w
		}
	}

	native := image.NewGray(image.Rect(0, 0, nw, nh*len(wrapped)))
	draw.Draw(native, native.Bounds(), image.White, image.Point{}, draw.Src)
	ascent := r.face.Metrics().Ascent.Ceil()
	for i, l := range wrapped {
		x := 0
		switch box.Align {
		case label.AlignRight:
			x = nw - r.nativeWidth(l)
		case label.AlignCenter:
			x = (nw - r.nativeWidth(l)) / 2
		}
		d := &font.Drawer{
			Dst:  native,
			Src:  image.Black,
			Face: r.face,
			Dot:  fixed.P(x, i*nh+ascent),
		}
		d.DrawString(l)
	}

	inkW := (nw*box.FontSize + nh - 1) / nh
	height := box.FontSize * len(wrapped)
	scaled := image.NewGray(image.Rect(0, 0, inkW, height))
	draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), native, native.Bounds(), draw.Src, nil)

	if inkW > box.Width {
		inkW = box.Width
	}
	pix := NewPlane(box.Width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < inkW; x++ {
			if scaled.GrayAt(x, y).Y < 0x80 {
				pix.Set(x, y, true)
			}
		}
	}

	return &Sample{Width: box.Width, InkWidth: inkW, Pix: pix}, nil
}

func (r *BasicRenderer) FitFontSize(ctx context.Context, box TextBox, bandHeight int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	size := box.FontSize
	if size <= 0 {
		size = minFontSize
	}
	w, h := r.measure(box, size)

	for i := 0; i < fitGrowSteps && float64(h) < float64(bandHeight)*0.98; i++ {
		next := int(float64(size) * fitGrowFactor)
		if next == size {
			next++
		}
		nw, nh := r.measure(box, next)
		if nh > bandHeight || nw > box.Width {
			break
		}
		size, w, h = next, nw, nh
	}

	for i := 0; i < fitGrowSteps && (h > bandHeight || w > box.Width) && size > minFontSize; i++ {
		size = int(float64(size) * fitShrink)
		if size < minFontSize {
			size = minFontSize
		}
		w, h = r.measure(box, size)
	}

	return size, nil
}
