package prepare

import (
	"context"

	"github.com/nixxel-company-limited/ql-usb-server/label"
	"github.com/nixxel-company-limited/ql-usb-server/media"
	"github.com/nixxel-company-limited/ql-usb-server/raster"
)

// Local rasterizes and encodes in process.
type Local struct {
	rasterizer *raster.Rasterizer
	enc        Encoding
}

func NewLocal(rasterizer *raster.Rasterizer, enc Encoding) *Local {
	if rasterizer == nil {
		rasterizer = raster.NewRasterizer(nil, nil)
	}
	return &Local{rasterizer: rasterizer, enc: enc}
}

func (l *Local) Prepare(ctx context.Context, req label.Request, lbl media.Label) (Output, error) {
	im, err := l.rasterizer.Rasterize(ctx, req, lbl)
	if err != nil {
		return Output{}, err
	}
	data, err := l.enc.Encode(im, req, lbl)
	if err != nil {
		return Output{}, err
	}
	return Output{Data: data}, nil
}
