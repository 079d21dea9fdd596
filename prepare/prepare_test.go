package prepare

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nixxel-company-limited/ql-usb-server/label"
	"github.com/nixxel-company-limited/ql-usb-server/media"
	"github.com/nixxel-company-limited/ql-usb-server/qlerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

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

func aPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
			if x < w/2 {
				c = color.RGBA{A: 0xff}
			}
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type stubPreparer struct {
	out Output
	err error
}

func (s stubPreparer) Prepare(context.Context, label.Request, media.Label) (Output, error) {
	return s.out, s.err
}

func TestLocal(t *testing.T) {
	p := NewLocal(nil, Encoding{AutoFormat: true})

	out, err := p.Prepare(context.Background(), binRequest(), mustLabel(t, "62"))
	require.NoError(t, err)
	require.NotEmpty(t, out.Data)
	assert.Nil(t, out.Preview)
	assert.Equal(t, []byte{0x1B, 0x40}, out.Data[:2])
	assert.Equal(t, byte(0x1A), out.Data[len(out.Data)-1])
}

func TestLocalInvalidRequest(t *testing.T) {
	p := NewLocal(nil, Encoding{})
	req := binRequest()
	req.FontSize = 0

	_, err := p.Prepare(context.Background(), req, mustLabel(t, "62"))
	assert.ErrorIs(t, err, qlerr.ErrSettingsInvalid)
}

func TestRemoteData(t *testing.T) {
	stream := []byte{0x1B, 0x40, 0x1A}
	var got label.Request

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"data": base64.StdEncoding.EncodeToString(stream)})
	}))
	defer srv.Close()

	p := NewRemote(srv.URL, srv.Client(), zaptest.NewLogger(t))
	out, err := p.Prepare(context.Background(), binRequest(), mustLabel(t, "62"))
	require.NoError(t, err)
	assert.Equal(t, stream, out.Data)
	assert.Equal(t, binRequest(), got)
}

func TestRemotePreview(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(aPNG(t, 100, 40))
	}))
	defer srv.Close()

	p := NewRemote(srv.URL, srv.Client(), nil)
	lbl := mustLabel(t, "62")

	out, err := p.Prepare(context.Background(), binRequest(), lbl)
	require.NoError(t, err)
	require.NotNil(t, out.Preview)
	assert.Equal(t, 100, out.Preview.Bounds().Dx())

	// previews are converted and encoded like local output
	data, err := Stream(context.Background(), p, Encoding{}, binRequest(), lbl)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1B, 0x40}, data[:2])
	assert.Contains(t, string(data), string([]byte{0x67, 0x00, 87}))
	assert.Equal(t, byte(0x1A), data[len(data)-1])
}

func TestRemoteErrors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "ErrorStatus",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":"Please provide the text for the label"}`))
			},
			want: "Please provide the text for the label",
		},
		{
			name: "BadBase64",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"data":"***"}`))
			},
			want: "decode data",
		},
		{
			name: "UnexpectedType",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/plain")
				w.Write([]byte("hello"))
			},
			want: "unexpected content type",
		},
		{
			name: "BrokenPNG",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "image/png")
				w.Write([]byte("not a png"))
			},
			want: "decode preview",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			_, err := NewRemote(srv.URL, srv.Client(), nil).Prepare(context.Background(), binRequest(), mustLabel(t, "62"))
			assert.ErrorIs(t, err, qlerr.ErrRenderingFailed)
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestStream(t *testing.T) {
	lbl := mustLabel(t, "62")

	data, err := Stream(context.Background(), stubPreparer{out: Output{Data: []byte{1, 2}}}, Encoding{}, binRequest(), lbl)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, data)

	_, err = Stream(context.Background(), stubPreparer{}, Encoding{}, binRequest(), lbl)
	assert.ErrorIs(t, err, qlerr.ErrRenderingFailed)

	boom := errors.New("boom")
	_, err = Stream(context.Background(), stubPreparer{err: boom}, Encoding{}, binRequest(), lbl)
	assert.ErrorIs(t, err, boom)
}
