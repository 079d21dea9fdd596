package raster

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/nixxel-company-limited/ql-usb-server/label"
	"github.com/nixxel-company-limited/ql-usb-server/media"
	"github.com/nixxel-company-limited/ql-usb-server/qlerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// stubRenderer returns a solid block of ink, optionally with a wrong width.
type stubRenderer struct {
	height    int
	widthSkew int
	err       error
	fitted    int
	boxes     []TextBox
}

func (s *stubRenderer) Render(ctx context.Context, box TextBox) (*Sample, error) {
	s.boxes = append(s.boxes, box)
	if s.err != nil {
		return nil, s.err
	}
	w := box.Width + s.widthSkew
	pix := NewPlane(w, s.height)
	ink := min(w, 50)
	pix.FillRect(image.Rect(0, 0, ink, s.height))
	return &Sample{Width: w, InkWidth: ink, Pix: pix}, nil
}

func (s *stubRenderer) FitFontSize(ctx context.Context, box TextBox, band int) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.fitted, nil
}

func binRequest() label.Request {
	return label.Request{
		Text:        "BIN A1",
		Code:        "LOC-123",
		LabelSize:   "62",
		FontSize:    60,
		Align:       label.AlignCenter,
		Orientation: label.Standard,
		Margins:     label.Margins{Top: 10, Bottom: 10, Left: 3, Right: 3},
		ColorMode:   label.SingleColor,
		CodeScale:   0.9,
		TextScale:   1,
	}
}

func mustLabel(t *testing.T, id string) media.Label {
	t.Helper()
	l, err := media.Lookup(id)
	require.NoError(t, err)
	return l
}

func assertLineLengths(t *testing.T, im *Image) {
	t.Helper()
	stride := (im.Width() + 7) / 8
	for y := 0; y < im.Height(); y++ {
		require.Len(t, im.Black.Line(y), stride)
		if im.Red != nil {
			require.Len(t, im.Red.Line(y), stride)
		}
	}
}

func TestRasterizeEndlessStandard(t *testing.T) {
	r := NewRasterizer(NewBasicRenderer(), zaptest.NewLogger(t))

	im, err := r.Rasterize(context.Background(), binRequest(), mustLabel(t, "62"))
	require.NoError(t, err)

	assert.Equal(t, 696, im.Width())
	assert.Equal(t, 87, im.BytesPerLine())
	assert.False(t, im.TwoColor())
	assert.Greater(t, im.Height(), 60)
	assert.Greater(t, im.Black.Count(), 0)
	assertLineLengths(t, im)
}

func TestRasterizeTwoColor(t *testing.T) {
	r := NewRasterizer(NewBasicRenderer(), zaptest.NewLogger(t))
	req := binRequest()
	req.LabelSize = "62red"
	req.ColorMode = label.TwoColor
	req.Banner = true

	im, err := r.Rasterize(context.Background(), req, mustLabel(t, "62red"))
	require.NoError(t, err)
	require.True(t, im.TwoColor())

	assert.Equal(t, im.Black.Height(), im.Red.Height())
	assert.Equal(t, im.Black.Stride(), im.Red.Stride())
	assertLineLengths(t, im)

	// the banner is red only, above any black ink
	assert.Greater(t, im.Red.Count(), 0)
	top := 0
	for y := 0; y < im.Height() && im.Red.Get(100, y); y++ {
		top++
	}
	require.Greater(t, top, 0)
	for y := 0; y < top; y++ {
		for x := 0; x < im.Width(); x++ {
			require.False(t, im.Black.Get(x, y), "black dot inside red banner at (%d,%d)", x, y)
		}
	}
}

func TestRasterizeTwoColorNeedsTwoColorMedia(t *testing.T) {
	r := NewRasterizer(NewBasicRenderer(), nil)
	req := binRequest()
	req.ColorMode = label.TwoColor

	_, err := r.Rasterize(context.Background(), req, mustLabel(t, "62"))
	assert.True(t, errors.Is(err, qlerr.ErrUnsupportedMedia))
}

func TestRasterizeDieCut(t *testing.T) {
	r := NewRasterizer(NewBasicRenderer(), zaptest.NewLogger(t))
	lbl := mustLabel(t, "62x29")
	req := binRequest()
	req.LabelSize = lbl.ID
	req.AutoFit = true

	im, err := r.Rasterize(context.Background(), req, lbl)
	require.NoError(t, err)
	assert.Equal(t, lbl.WidthDots(), im.Width())
	assert.Equal(t, lbl.LengthDots(), im.Height())
	assertLineLengths(t, im)
}

func TestRasterizeRotated(t *testing.T) {
	r := NewRasterizer(NewBasicRenderer(), zaptest.NewLogger(t))

	t.Run("DieCut", func(t *testing.T) {
		lbl := mustLabel(t, "29x90")
		req := binRequest()
		req.LabelSize = lbl.ID
		req.Orientation = label.Rotated

		im, err := r.Rasterize(context.Background(), req, lbl)
		require.NoError(t, err)
		assert.Equal(t, lbl.WidthDots(), im.Width())
		assert.Equal(t, lbl.LengthDots(), im.Height())
		assertLineLengths(t, im)
	})

	t.Run("Endless", func(t *testing.T) {
		lbl := mustLabel(t, "29")
		req := binRequest()
		req.LabelSize = lbl.ID
		req.Orientation = label.Rotated

		im, err := r.Rasterize(context.Background(), req, lbl)
		require.NoError(t, err)
		assert.Equal(t, lbl.WidthDots(), im.Width())
		assert.Greater(t, im.Height(), 0)
		assertLineLengths(t, im)
	})
}

func TestRasterizeCodePlacement(t *testing.T) {
	stub := &stubRenderer{height: 100}
	r := NewRasterizer(stub, zaptest.NewLogger(t))
	req := binRequest()
	req.Text = "X"
	req.Align = label.AlignRight

	im, err := r.Rasterize(context.Background(), req, mustLabel(t, "62"))
	require.NoError(t, err)

	// band is the stub's 100 dots; margins are 10% of it; code side is 90
	assert.Equal(t, 120, im.Height())
	left := 696 * 3 / 100
	assert.False(t, im.Black.Get(left-1, 10))
	// QR finder pattern corner is always dark
	assert.True(t, im.Black.Get(left, 10))
	assert.False(t, im.Black.Get(left, 9))

	// right aligned text ends at the right margin
	right := 696 - 696*3/100
	assert.True(t, im.Black.Get(right-1, 50))
	assert.False(t, im.Black.Get(right, 50))

	last := stub.boxes[len(stub.boxes)-1]
	assert.Equal(t, 696-2*left-90-codeGap, last.Width)
}

func TestRasterizeAutoFitUsesRendererSize(t *testing.T) {
	stub := &stubRenderer{height: 80, fitted: 42}
	r := NewRasterizer(stub, nil)
	req := binRequest()
	req.AutoFit = true

	_, err := r.Rasterize(context.Background(), req, mustLabel(t, "62x29"))
	require.NoError(t, err)
	assert.Equal(t, 42, stub.boxes[len(stub.boxes)-1].FontSize)
}

func TestRasterizeRenderingFailed(t *testing.T) {
	lbl := mustLabel(t, "62")

	t.Run("RendererError", func(t *testing.T) {
		r := NewRasterizer(&stubRenderer{height: 10, err: errors.New("font missing")}, nil)
		_, err := r.Rasterize(context.Background(), binRequest(), lbl)
		assert.True(t, errors.Is(err, qlerr.ErrRenderingFailed))
		assert.Contains(t, err.Error(), "font missing")
	})

	t.Run("WidthMismatch", func(t *testing.T) {
		r := NewRasterizer(&stubRenderer{height: 10, widthSkew: 3}, nil)
		_, err := r.Rasterize(context.Background(), binRequest(), lbl)
		assert.True(t, errors.Is(err, qlerr.ErrRenderingFailed))
		assert.Contains(t, err.Error(), "does not match")
	})
}

func TestRasterizeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRasterizer(nil, nil)
	_, err := r.Rasterize(ctx, binRequest(), mustLabel(t, "62"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCodeSymbol(t *testing.T) {
	p, err := CodeSymbol("LOC-123", 100)
	require.NoError(t, err)
	assert.Equal(t, 100, p.Width())
	assert.Equal(t, 100, p.Height())
	assert.True(t, p.Get(0, 0))
	assert.Greater(t, p.Count(), 100)

	_, err = CodeSymbol("LOC-123", 0)
	assert.Error(t, err)
}

func TestBasicRenderer(t *testing.T) {
	r := NewBasicRenderer()
	ctx := context.Background()

	box := TextBox{Lines: []string{"shelf one two three"}, Width: 200, FontSize: 26, Align: label.AlignLeft}
	s, err := r.Render(ctx, box)
	require.NoError(t, err)
	assert.Equal(t, 200, s.Width)
	assert.Equal(t, 200, s.Pix.Width())
	assert.LessOrEqual(t, s.InkWidth, 200)
	// wrapped onto more than one line of 26 dots
	assert.Greater(t, s.Pix.Height(), 26)
	assert.Greater(t, s.Pix.Count(), 0)

	_, err = r.Render(ctx, TextBox{Lines: []string{"x"}, Width: 0, FontSize: 10})
	assert.Error(t, err)
}

func TestBasicRendererFitFontSize(t *testing.T) {
	r := NewBasicRenderer()
	ctx := context.Background()

	box := TextBox{Lines: []string{"A1"}, Width: 600, FontSize: 20}
	size, err := r.FitFontSize(ctx, box, 200)
	require.NoError(t, err)
	assert.Greater(t, size, 20)
	assert.LessOrEqual(t, size, 200)

	box.FontSize = 400
	size, err = r.FitFontSize(ctx, box, 100)
	require.NoError(t, err)
	assert.Less(t, size, 400)
}

func TestFromImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 200; x++ {
			c := color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
			switch {
			case x < 100 && y < 50:
				c = color.RGBA{A: 0xff}
			case x >= 100 && y >= 50:
				c = color.RGBA{R: 0xff, A: 0xff}
			}
			src.Set(x, y, c)
		}
	}

	im, err := FromImage(src, 400, true)
	require.NoError(t, err)
	assert.Equal(t, 400, im.Width())
	assert.Equal(t, 200, im.Height())
	assertLineLengths(t, im)
	assert.True(t, im.Black.Get(50, 50))
	assert.False(t, im.Red.Get(50, 50))
	assert.True(t, im.Red.Get(350, 150))
	assert.False(t, im.Black.Get(350, 150))

	mono, err := FromImage(src, 400, false)
	require.NoError(t, err)
	assert.Nil(t, mono.Red)

	_, err = FromImage(image.NewRGBA(image.Rect(0, 0, 0, 0)), 400, false)
	assert.True(t, errors.Is(err, qlerr.ErrRenderingFailed))
}
