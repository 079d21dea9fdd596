package raster

import (
	"context"
	"fmt"
	"image"

	"github.com/nixxel-company-limited/ql-usb-server/label"
	"github.com/nixxel-company-limited/ql-usb-server/media"
	"github.com/nixxel-company-limited/ql-usb-server/qlerr"
	"go.uber.org/zap"
)

const (
	// codeGap separates the code symbol from the text box.
	codeGap = 8
	// maxCodeShare caps the code symbol to a share of the available width.
	maxCodeShare = 60
	// endlessLengthFactor bounds how long, relative to the tape width, a
	// rotated label on endless tape may grow.
	endlessLengthFactor = 8
)

// Rasterizer lays out a label request on its media and produces the planes
// to encode. Text is typeset by the configured TextRenderer.
type Rasterizer struct {
	renderer TextRenderer
	logger   *zap.Logger
}

func NewRasterizer(renderer TextRenderer, logger *zap.Logger) *Rasterizer {
	if renderer == nil {
		renderer = NewBasicRenderer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rasterizer{renderer: renderer, logger: logger.Named("raster")}
}

// layout is the label composed on an unrotated canvas. A zero dimension is
// derived from the content.
type layout struct {
	width, height            int
	top, bottom, left, right int
	availW, availH           int
}

func percent(v, pct int) int {
	return v * pct / 100
}

// Rasterize composes req on lbl. In rotated orientation the canvas is laid
// out with the tape width as its height and turned before it is returned, so
// the image width is always the printable tape width.
func (r *Rasterizer) Rasterize(ctx context.Context, req label.Request, lbl media.Label) (*Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.IsTwoColor() && !lbl.TwoColor {
		return nil, fmt.Errorf("%w: label %s cannot print two colours", qlerr.ErrUnsupportedMedia, lbl.ID)
	}

	cross := lbl.WidthDots()
	rotated := req.Orientation == label.Rotated
	m := req.Margins

	var l layout
	if rotated {
		l.height = cross
		l.width = lbl.LengthDots()
	} else {
		l.width = cross
		l.height = lbl.LengthDots()
	}
	if l.width > 0 {
		l.left, l.right = percent(l.width, m.Left), percent(l.width, m.Right)
		l.availW = l.width - l.left - l.right
	} else {
		l.availW = cross * endlessLengthFactor
	}
	if l.height > 0 {
		l.top, l.bottom = percent(l.height, m.Top), percent(l.height, m.Bottom)
		l.availH = l.height - l.top - l.bottom
	}

	box := TextBox{
		Lines:    req.Lines(),
		FontSize: req.FontSize,
		Align:    req.Align,
		Width:    l.availW,
	}

	// Standard orientation on endless tape: the band is as tall as the text
	// set at the requested size across the full width.
	if l.availH == 0 {
		measured, err := r.render(ctx, box)
		if err != nil {
			return nil, err
		}
		l.availH = measured.Pix.Height()
	}

	codeSide := 0
	if req.Code != "" && req.CodeScale > 0 {
		codeSide = int(req.CodeScale * float64(l.availH))
		if codeSide > l.availH {
			codeSide = l.availH
		}
		if l.width > 0 {
			if maxSide := percent(l.availW, maxCodeShare); codeSide > maxSide {
				codeSide = maxSide
			}
		}
	}
	gap := 0
	if codeSide > 0 {
		gap = codeGap
	}

	box.Width = l.availW - codeSide - gap
	if box.Width <= 0 {
		return nil, fmt.Errorf("%w: no room left for text on %s", qlerr.ErrRenderingFailed, lbl.ID)
	}

	if req.AutoFit {
		scale := req.TextScale
		if scale == 0 {
			scale = 1
		}
		band := int(scale * float64(l.availH))
		size, err := r.renderer.FitFontSize(ctx, box, band)
		if err != nil {
			return nil, fmt.Errorf("%w: fit font size: %w", qlerr.ErrRenderingFailed, err)
		}
		r.logger.Debug("Auto-fit font size",
			zap.Int("requested", req.FontSize),
			zap.Int("fitted", size),
			zap.Int("band", band))
		box.FontSize = size
	}

	sample, err := r.render(ctx, box)
	if err != nil {
		return nil, err
	}
	textH := sample.Pix.Height()

	if l.height == 0 {
		content := max(textH, codeSide)
		l.top, l.bottom = percent(content, m.Top), percent(content, m.Bottom)
		l.availH = content
		l.height = content + l.top + l.bottom
	}
	if l.width == 0 {
		content := codeSide + gap + sample.InkWidth
		l.left, l.right = percent(content, m.Left), percent(content, m.Right)
		l.availW = content
		l.width = content + l.left + l.right
		box.Width = sample.InkWidth
	}

	canvas := NewImage(l.width, l.height, req.IsTwoColor())

	if codeSide > 0 {
		symbol, err := CodeSymbol(req.Code, codeSide)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", qlerr.ErrRenderingFailed, err)
		}
		canvas.Black.Draw(symbol, image.Pt(l.left, l.top))
	}

	tx := l.left + codeSide + gap
	switch req.Align {
	case label.AlignRight:
		tx += box.Width - sample.InkWidth
	case label.AlignCenter:
		tx += (box.Width - sample.InkWidth) / 2
	}
	ty := l.top + max((l.availH-textH)/2, 0)
	canvas.Black.Draw(sample.Pix, image.Pt(tx, ty))

	if canvas.TwoColor() && req.Banner && l.top > 0 {
		canvas.Red.FillRect(image.Rect(l.left, 0, l.width-l.right, l.top))
	}

	if rotated {
		canvas = canvas.Rotate()
	}

	r.logger.Debug("Rasterized label",
		zap.String("label_size", lbl.ID),
		zap.Int("width", canvas.Width()),
		zap.Int("height", canvas.Height()),
		zap.Int("code_side", codeSide),
		zap.Int("font_size", box.FontSize),
		zap.Bool("two_color", canvas.TwoColor()))

	return canvas, nil
}

func (r *Rasterizer) render(ctx context.Context, box TextBox) (*Sample, error) {
	sample, err := r.renderer.Render(ctx, box)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", qlerr.ErrRenderingFailed, err)
	}
	if sample == nil || sample.Pix == nil {
		return nil, fmt.Errorf("%w: renderer returned no pixels", qlerr.ErrRenderingFailed)
	}
	if sample.Width != box.Width || sample.Pix.Width() != box.Width {
		return nil, fmt.Errorf("%w: sample width %d does not match text box width %d",
			qlerr.ErrRenderingFailed, sample.Width, box.Width)
	}
	if sample.InkWidth > sample.Width {
		return nil, fmt.Errorf("%w: ink width %d exceeds sample width %d",
			qlerr.ErrRenderingFailed, sample.InkWidth, sample.Width)
	}
	return sample, nil
}
