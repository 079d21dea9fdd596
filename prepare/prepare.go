// Package prepare turns label requests into printer command streams, either
// locally or through an external rendering service.
package prepare

import (
	"context"
	"fmt"
	"image"

	"github.com/nixxel-company-limited/ql-usb-server/command"
	"github.com/nixxel-company-limited/ql-usb-server/label"
	"github.com/nixxel-company-limited/ql-usb-server/media"
	"github.com/nixxel-company-limited/ql-usb-server/qlerr"
	"github.com/nixxel-company-limited/ql-usb-server/raster"
)

// Output is what a Preparer produced: either a ready command stream or a
// rendered preview still to be converted.
type Output struct {
	Data    []byte
	Preview image.Image
}

// Preparer renders req for the given label stock.
type Preparer interface {
	Prepare(ctx context.Context, req label.Request, lbl media.Label) (Output, error)
}

// Encoding holds the framing options shared by every path that encodes a
// raster image.
type Encoding struct {
	AutoFormat bool `mapstructure:"auto_format"`
	Mirror     bool `mapstructure:"mirror"`
}

func (e Encoding) Encode(im *raster.Image, req label.Request, lbl media.Label) ([]byte, error) {
	return command.Encode(im, command.Options{
		AutoFormat: e.AutoFormat,
		TwoColor:   req.IsTwoColor(),
		Mirror:     e.Mirror,
		Media:      lbl,
	})
}

// Stream runs p and returns the command stream, converting a preview image
// to planes first if that is what p returned.
func Stream(ctx context.Context, p Preparer, enc Encoding, req label.Request, lbl media.Label) ([]byte, error) {
	out, err := p.Prepare(ctx, req, lbl)
	if err != nil {
		return nil, err
	}
	switch {
	case len(out.Data) > 0:
		return out.Data, nil
	case out.Preview != nil:
		im, err := raster.FromImage(out.Preview, lbl.WidthDots(), req.IsTwoColor())
		if err != nil {
			return nil, err
		}
		return enc.Encode(im, req, lbl)
	default:
		return nil, fmt.Errorf("%w: preparer returned neither data nor preview", qlerr.ErrRenderingFailed)
	}
}
