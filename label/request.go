// Package label holds the logical description of a label to print.
package label

import (
	"fmt"
	"strings"

	"github.com/nixxel-company-limited/ql-usb-server/qlerr"
)

type Align string

const (
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
)

type Orientation string

const (
	Standard Orientation = "standard"
	Rotated  Orientation = "rotated"
)

type ColorMode string

const (
	SingleColor ColorMode = "single"
	TwoColor    ColorMode = "two-color"
)

// Margins are percentages of the printable area on each side.
type Margins struct {
	Top    int `json:"top" yaml:"top" mapstructure:"top"`
	Bottom int `json:"bottom" yaml:"bottom" mapstructure:"bottom"`
	Left   int `json:"left" yaml:"left" mapstructure:"left"`
	Right  int `json:"right" yaml:"right" mapstructure:"right"`
}

// MaxMargin bounds each side so that some printable area always remains.
const MaxMargin = 45

func (m Margins) Validate() error {
	for name, v := range map[string]int{"top": m.Top, "bottom": m.Bottom, "left": m.Left, "right": m.Right} {
		if v < 0 || v > MaxMargin {
			return fmt.Errorf("%w: margin %s must be within 0..%d, got %d", qlerr.ErrSettingsInvalid, name, MaxMargin, v)
		}
	}
	return nil
}

// Request is a label to print. It is passed by value and never modified
// after construction.
type Request struct {
	Text        string      `json:"text"`
	Code        string      `json:"code,omitempty"`
	LabelSize   string      `json:"label_size"`
	FontSize    int         `json:"font_size"`
	Align       Align       `json:"align"`
	Orientation Orientation `json:"orientation"`
	Margins     Margins     `json:"margins"`
	ColorMode   ColorMode   `json:"color_mode"`
	CodeScale   float64     `json:"code_scale"`
	TextScale   float64     `json:"text_scale"`
	AutoFit     bool        `json:"auto_fit"`
	// Banner draws a second-colour band over the top margin in two-colour mode.
	Banner bool `json:"banner,omitempty"`
}

// Lines splits the text into lines; an empty line is kept as a single space
// so that it still occupies a line when rendered.
func (r Request) Lines() []string {
	lines := strings.Split(r.Text, "\n")
	for i, l := range lines {
		if l == "" {
			lines[i] = " "
		}
	}
	return lines
}

func (r Request) IsTwoColor() bool {
	return r.ColorMode == TwoColor
}

// Validate checks the request fields that do not depend on the label table.
func (r Request) Validate() error {
	if r.FontSize <= 0 {
		return fmt.Errorf("%w: font size must be positive, got %d", qlerr.ErrSettingsInvalid, r.FontSize)
	}
	switch r.Align {
	case AlignLeft, AlignCenter, AlignRight:
	default:
		return fmt.Errorf("%w: unknown alignment %q", qlerr.ErrSettingsInvalid, r.Align)
	}
	switch r.Orientation {
	case Standard, Rotated:
	default:
		return fmt.Errorf("%w: unknown orientation %q", qlerr.ErrSettingsInvalid, r.Orientation)
	}
	switch r.ColorMode {
	case SingleColor, TwoColor:
	default:
		return fmt.Errorf("%w: unknown color mode %q", qlerr.ErrSettingsInvalid, r.ColorMode)
	}
	if r.CodeScale < 0 || r.CodeScale > 1 {
		return fmt.Errorf("%w: code scale must be within 0..1, got %v", qlerr.ErrSettingsInvalid, r.CodeScale)
	}
	if r.TextScale < 0 || r.TextScale > 1 {
		return fmt.Errorf("%w: text scale must be within 0..1, got %v", qlerr.ErrSettingsInvalid, r.TextScale)
	}
	if r.Margins.Top+r.Margins.Bottom >= 90 || r.Margins.Left+r.Margins.Right >= 90 {
		return fmt.Errorf("%w: opposite margins leave no printable area", qlerr.ErrSettingsInvalid)
	}
	return r.Margins.Validate()
}
