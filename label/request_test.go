package label

import (
	"errors"
	"testing"

	"github.com/nixxel-company-limited/ql-usb-server/qlerr"
	"github.com/stretchr/testify/assert"
)

func validRequest() Request {
	return Request{
		Text:        "BIN A1",
		LabelSize:   "62",
		FontSize:    100,
		Align:       AlignCenter,
		Orientation: Standard,
		Margins:     Margins{Top: 10, Bottom: 10, Left: 5, Right: 5},
		ColorMode:   SingleColor,
		CodeScale:   0.9,
		TextScale:   1,
	}
}

func TestRequestValidate(t *testing.T) {
	assert.NoError(t, validRequest().Validate())

	testCases := []struct {
		name   string
		mutate func(r *Request)
	}{
		{"ZeroFont", func(r *Request) { r.FontSize = 0 }},
		{"BadAlign", func(r *Request) { r.Align = "justify" }},
		{"BadOrientation", func(r *Request) { r.Orientation = "upside-down" }},
		{"BadColor", func(r *Request) { r.ColorMode = "cmyk" }},
		{"CodeScale", func(r *Request) { r.CodeScale = 1.5 }},
		{"TextScale", func(r *Request) { r.TextScale = -0.1 }},
		{"NegativeMargin", func(r *Request) { r.Margins.Left = -1 }},
		{"HugeMargin", func(r *Request) { r.Margins.Top = 50 }},
		{"OppositeMargins", func(r *Request) { r.Margins.Left, r.Margins.Right = 45, 45 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := validRequest()
			tc.mutate(&r)
			err := r.Validate()
			assert.Error(t, err)
			assert.True(t, errors.Is(err, qlerr.ErrSettingsInvalid))
		})
	}
}

func TestRequestLines(t *testing.T) {
	r := Request{Text: "BIN A1\n\nshelf 3"}
	assert.Equal(t, []string{"BIN A1", " ", "shelf 3"}, r.Lines())
}
