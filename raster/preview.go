package raster

import (
	"fmt"
	"image"
	"image/color"

	"github.com/makeworld-the-better-one/dither/v2"
	"github.com/nixxel-company-limited/ql-usb-server/qlerr"
	"golang.org/x/image/draw"
)

var (
	paperWhite = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	inkBlack   = color.RGBA{A: 0xff}
	inkRed     = color.RGBA{R: 0xff, A: 0xff}
)

// FromImage converts a rendered label preview into planes of the given
// width. The preview is scaled to the tape width keeping its aspect ratio and
// dithered against the colours the media can print.
func FromImage(img image.Image, width int, twoColor bool) (*Image, error) {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: empty preview image", qlerr.ErrRenderingFailed)
	}
	if width <= 0 {
		return nil, fmt.Errorf("%w: invalid target width %d", qlerr.ErrRenderingFailed, width)
	}

	height := (b.Dy()*width + b.Dx() - 1) / b.Dx()
	scaled := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(scaled, scaled.Bounds(), image.NewUniform(paperWhite), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, b, draw.Over, nil)

	palette := []color.Color{paperWhite, inkBlack}
	if twoColor {
		palette = append(palette, inkRed)
	}
	ditherer := dither.NewDitherer(palette)
	ditherer.Matrix = dither.FloydSteinberg
	ditherer.Serpentine = true
	dithered := ditherer.DitherPaletted(scaled)

	out := NewImage(width, height, twoColor)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			switch classify(dithered.Palette[dithered.ColorIndexAt(x, y)]) {
			case inkBlack:
				out.Black.Set(x, y, true)
			case inkRed:
				if out.Red != nil {
					out.Red.Set(x, y, true)
				}
			}
		}
	}
	return out, nil
}

func classify(c color.Color) color.RGBA {
	r, g, b, _ := c.RGBA()
	switch {
	case r > 0x8000 && g > 0x8000 && b > 0x8000:
		return paperWhite
	case r > 0x8000:
		return inkRed
	default:
		return inkBlack
	}
}
