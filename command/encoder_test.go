package command

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/nixxel-company-limited/ql-usb-server/label"
	"github.com/nixxel-company-limited/ql-usb-server/media"
	"github.com/nixxel-company-limited/ql-usb-server/qlerr"
	"github.com/nixxel-company-limited/ql-usb-server/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func concat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

func mustLabel(t *testing.T, id string) media.Label {
	t.Helper()
	l, err := media.Lookup(id)
	require.NoError(t, err)
	return l
}

func TestEncodeEmptyImageAutoFormat(t *testing.T) {
	im := raster.NewImage(696, 0, false)

	got, err := Encode(im, Options{AutoFormat: true})
	require.NoError(t, err)

	want := concat(
		[]byte{0x1B, 0x40},
		[]byte{0x1B, 0x69, 0x4B, 0x00},
		[]byte{0x1B, 0x69, 0x41, 0x01},
		[]byte{0x1B, 0x69, 0x64, 35, 0x00},
		[]byte{0x1B, 0x69, 0x61, 0x01},
		[]byte{0x1B, 0x69, 0x4D, 0x40},
		[]byte{0x1A},
	)
	assert.Equal(t, want, got)
	assert.NotContains(t, string(got), string([]byte{0x67, 0x00}))
}

func TestEncodeEmptyImageExplicitMedia(t *testing.T) {
	im := raster.NewImage(696, 0, false)

	got, err := Encode(im, Options{Media: mustLabel(t, "62")})
	require.NoError(t, err)

	want := concat(
		[]byte{0x1B, 0x40},
		[]byte{0x1B, 0x69, 0x4B, 0x00},
		[]byte{0x1B, 0x69, 0x53},
		[]byte{0x1B, 0x69, 0x7A, 0xC6, 0x0A, 62, 0, 0, 0, 0, 0, 0, 0},
		[]byte{0x1B, 0x69, 0x64, 35, 0x00},
		[]byte{0x1B, 0x69, 0x61, 0x01},
		[]byte{0x1B, 0x69, 0x4D, 0x40},
		[]byte{0x1B, 0x69, 0x41, 0x01},
		[]byte{0x1A},
	)
	assert.Equal(t, want, got)
}

func TestEncodeDieCutMediaInfo(t *testing.T) {
	lbl := mustLabel(t, "62x29")
	im := raster.NewImage(lbl.WidthDots(), 300, false)

	got, err := Encode(im, Options{Media: lbl})
	require.NoError(t, err)

	info := []byte{0x1B, 0x69, 0x7A, 0xCE, 0x0B, 62, 29, 0x2C, 0x01, 0, 0, 0, 0}
	assert.True(t, bytes.Contains(got, info), "media info with length and raster count")
	// die-cut labels need no feed margin
	assert.True(t, bytes.Contains(got, []byte{0x1B, 0x69, 0x64, 0x00, 0x00}))
}

func TestEncodeAutoFormatDieCutMargin(t *testing.T) {
	lbl := mustLabel(t, "62x29")
	im := raster.NewImage(lbl.WidthDots(), 10, false)

	got, err := Encode(im, Options{Media: lbl, AutoFormat: true})
	require.NoError(t, err)
	assert.True(t, bytes.Contains(got, []byte{0x1B, 0x69, 0x64, 35, 0x00}))
	assert.False(t, bytes.Contains(got, []byte{0x1B, 0x69, 0x7A}), "no media info in auto format")
}

func TestEncodeSingleColorLines(t *testing.T) {
	im := raster.NewImage(16, 2, false)
	im.Black.Set(0, 0, true)
	im.Black.Set(15, 1, true)

	got, err := Encode(im, Options{AutoFormat: true})
	require.NoError(t, err)

	lines := concat(
		[]byte{0x67, 0x00, 0x02, 0x80, 0x00},
		[]byte{0x67, 0x00, 0x02, 0x00, 0x01},
		[]byte{0x1A},
	)
	assert.True(t, bytes.HasSuffix(got, lines))
}

func TestEncodeMirror(t *testing.T) {
	im := raster.NewImage(16, 1, false)
	im.Black.Set(0, 0, true)

	got, err := Encode(im, Options{AutoFormat: true, Mirror: true})
	require.NoError(t, err)
	assert.True(t, bytes.HasSuffix(got, []byte{0x67, 0x00, 0x02, 0x00, 0x01, 0x1A}))
}

func TestEncodeTwoColorRedBeforeBlack(t *testing.T) {
	im := raster.NewImage(8, 2, true)
	im.Red.Set(0, 0, true)
	im.Black.Set(7, 1, true)

	got, err := Encode(im, Options{AutoFormat: true, TwoColor: true})
	require.NoError(t, err)

	assert.True(t, bytes.Contains(got, []byte{0x1B, 0x69, 0x4B, 0x01}))
	lines := concat(
		[]byte{0x77, 0x02, 0x01, 0x80},
		[]byte{0x77, 0x01, 0x01, 0x00},
		[]byte{0x77, 0x02, 0x01, 0x00},
		[]byte{0x77, 0x01, 0x01, 0x01},
		[]byte{0x1A},
	)
	assert.True(t, bytes.HasSuffix(got, lines))
}

func TestEncodeTwoColorWithoutRedPlane(t *testing.T) {
	im := raster.NewImage(8, 1, false)
	im.Black.Set(0, 0, true)

	got, err := Encode(im, Options{AutoFormat: true, TwoColor: true})
	require.NoError(t, err)
	assert.True(t, bytes.HasSuffix(got, []byte{0x77, 0x02, 0x01, 0x00, 0x77, 0x01, 0x01, 0x80, 0x1A}))
}

func TestEncodeRejects(t *testing.T) {
	_, err := Encode(raster.NewImage(8*256, 1, false), Options{AutoFormat: true})
	assert.True(t, errors.Is(err, qlerr.ErrUnsupportedMedia))

	_, err = Encode(raster.NewImage(696, 1, true), Options{TwoColor: true, Media: mustLabel(t, "62")})
	assert.True(t, errors.Is(err, qlerr.ErrUnsupportedMedia))

	_, err = Encode(nil, Options{})
	assert.Error(t, err)
}

func TestEncodeLabelEndToEnd(t *testing.T) {
	lbl := mustLabel(t, "62red")
	req := label.Request{
		Text:        "BIN A1",
		Code:        "LOC-123",
		LabelSize:   "62red",
		FontSize:    60,
		Align:       label.AlignCenter,
		Orientation: label.Standard,
		Margins:     label.Margins{Top: 10, Bottom: 10, Left: 3, Right: 3},
		ColorMode:   label.TwoColor,
		CodeScale:   0.9,
		TextScale:   1,
		Banner:      true,
	}
	im, err := raster.NewRasterizer(nil, nil).Rasterize(context.Background(), req, lbl)
	require.NoError(t, err)

	got, err := Encode(im, Options{TwoColor: true, Media: lbl, Mirror: true})
	require.NoError(t, err)

	require.True(t, bytes.HasPrefix(got, []byte{0x1B, 0x40}))
	require.Equal(t, byte(0x1A), got[len(got)-1])

	// every red line is immediately followed by its black line
	n := byte(im.BytesPerLine())
	pairs := 0
	for i := 0; i+3 < len(got); i++ {
		if got[i] == 0x77 && got[i+1] == 0x02 && got[i+2] == n {
			j := i + 3 + int(n)
			require.Less(t, j+2, len(got))
			assert.Equal(t, []byte{0x77, 0x01, n}, got[j:j+3])
			pairs++
			i = j + 2 + int(n)
		}
	}
	assert.Equal(t, im.Height(), pairs)
}
