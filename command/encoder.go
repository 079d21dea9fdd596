package command

import (
	"bytes"
	"fmt"

	"github.com/nixxel-company-limited/ql-usb-server/media"
	"github.com/nixxel-company-limited/ql-usb-server/qlerr"
	"github.com/nixxel-company-limited/ql-usb-server/raster"
)

// Feed margin on endless tape, roughly 3 mm.
const endlessMarginDots = 35

// A raster line carries its byte count in a single byte.
const maxLineBytes = 0xFF

// Options selects how a raster image is framed.
type Options struct {
	// AutoFormat lets the printer use whatever media it detected instead of
	// declaring Media explicitly.
	AutoFormat bool
	TwoColor   bool
	// Mirror reverses the dot order of every line. The head prints the
	// first dot of a line at the far edge.
	Mirror bool
	Media  media.Label
}

// Encode serialises im into the command stream of one print job.
func Encode(im *raster.Image, opts Options) ([]byte, error) {
	if im == nil {
		return nil, fmt.Errorf("%w: nil raster image", qlerr.ErrRenderingFailed)
	}
	n := im.BytesPerLine()
	if n > maxLineBytes {
		return nil, fmt.Errorf("%w: %d bytes per raster line exceeds %d",
			qlerr.ErrUnsupportedMedia, n, maxLineBytes)
	}
	if opts.TwoColor && opts.Media.ID != "" && !opts.Media.TwoColor {
		return nil, fmt.Errorf("%w: label %s cannot print two colours",
			qlerr.ErrUnsupportedMedia, opts.Media.ID)
	}

	lineCmd := 3 + n
	if opts.TwoColor {
		lineCmd *= 2
	}
	var buf bytes.Buffer
	buf.Grow(64 + im.Height()*lineCmd)

	buf.Write(initialize())
	buf.Write(twoColorMode(opts.TwoColor))
	buf.Write(preamble(im, opts))

	blank := make([]byte, n)
	for y := 0; y < im.Height(); y++ {
		black := line(im.Black, y, opts.Mirror)
		if !opts.TwoColor {
			buf.Write(rasterLine(black))
			continue
		}
		red := blank
		if im.Red != nil {
			red = line(im.Red, y, opts.Mirror)
		}
		buf.Write(planeLine(planeRed, red))
		buf.Write(planeLine(planeBlack, black))
	}

	buf.WriteByte(Print)
	return buf.Bytes(), nil
}

// Media, margin and mode commands between the colour toggle and the first
// raster line.
func preamble(im *raster.Image, opts Options) []byte {
	m := opts.Media

	var cmds [][]byte
	if opts.AutoFormat {
		// the printer sizes the page itself and always gets the endless feed
		cmds = [][]byte{
			cutEach(1),
			margin(endlessMarginDots),
			rasterMode(),
			autoCut(),
		}
	} else {
		mt := MediaContinuous
		feed := uint16(endlessMarginDots)
		if !m.IsEndless() {
			mt = MediaDieCut
			if m.ID != "" {
				feed = 0
			}
		}
		cmds = [][]byte{
			StatusRequest(),
			mediaInfo(mt, byte(m.WidthMM), byte(m.LengthMM), uint32(im.Height())),
			margin(feed),
			rasterMode(),
			autoCut(),
			cutEach(1),
		}
	}
	return bytes.Join(cmds, nil)
}

func line(p *raster.Plane, y int, mirror bool) []byte {
	if mirror {
		return p.MirroredLine(y)
	}
	return p.Line(y)
}
