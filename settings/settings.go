// Package settings holds the process-wide print settings and the service
// configuration.
package settings

import (
	"fmt"
	"sync"
	"time"

	"github.com/nixxel-company-limited/ql-usb-server/label"
	"github.com/nixxel-company-limited/ql-usb-server/media"
	"github.com/nixxel-company-limited/ql-usb-server/qlerr"
)

// Kind names a preset.
type Kind string

const (
	KindDefault  Kind = ""
	KindBin      Kind = "bin"
	KindLocation Kind = "location"
)

// Preset is the layout of one kind of label. Zero fields of a named preset
// fall back to the defaults.
type Preset struct {
	LabelSize   string            `json:"label_size,omitempty" yaml:"label_size" mapstructure:"label_size"`
	FontSize    int               `json:"font_size,omitempty" yaml:"font_size" mapstructure:"font_size"`
	Align       label.Align       `json:"align,omitempty" yaml:"align" mapstructure:"align"`
	Orientation label.Orientation `json:"orientation,omitempty" yaml:"orientation" mapstructure:"orientation"`
	Margins     *label.Margins    `json:"margins,omitempty" yaml:"margins" mapstructure:"margins"`
	ColorMode   label.ColorMode   `json:"color_mode,omitempty" yaml:"color_mode" mapstructure:"color_mode"`
	CodeScale   float64           `json:"code_scale,omitempty" yaml:"code_scale" mapstructure:"code_scale"`
	TextScale   float64           `json:"text_scale,omitempty" yaml:"text_scale" mapstructure:"text_scale"`
	AutoFit     *bool             `json:"auto_fit,omitempty" yaml:"auto_fit" mapstructure:"auto_fit"`
	Banner      bool              `json:"banner,omitempty" yaml:"banner" mapstructure:"banner"`
}

// over returns p with its zero fields taken from base.
func (p Preset) over(base Preset) Preset {
	out := base
	if base.Margins != nil {
		m := *base.Margins
		out.Margins = &m
	}
	if base.AutoFit != nil {
		v := *base.AutoFit
		out.AutoFit = &v
	}
	if p.LabelSize != "" {
		out.LabelSize = p.LabelSize
	}
	if p.FontSize != 0 {
		out.FontSize = p.FontSize
	}
	if p.Align != "" {
		out.Align = p.Align
	}
	if p.Orientation != "" {
		out.Orientation = p.Orientation
	}
	if p.Margins != nil {
		m := *p.Margins
		out.Margins = &m
	}
	if p.ColorMode != "" {
		out.ColorMode = p.ColorMode
	}
	if p.CodeScale != 0 {
		out.CodeScale = p.CodeScale
	}
	if p.TextScale != 0 {
		out.TextScale = p.TextScale
	}
	if p.AutoFit != nil {
		v := *p.AutoFit
		out.AutoFit = &v
	}
	if p.Banner {
		out.Banner = true
	}
	return out
}

type Presets struct {
	Bin      Preset `json:"bin" yaml:"bin" mapstructure:"bin"`
	Location Preset `json:"location" yaml:"location" mapstructure:"location"`
}

// PrintSettings is the label layout used when a request does not say
// otherwise, plus the delay between consecutive jobs.
type PrintSettings struct {
	Defaults   Preset  `json:"defaults"`
	Presets    Presets `json:"presets"`
	JobDelayMS int     `json:"job_delay_ms"`
}

// Default mirrors the layout the label designer starts with.
func Default() PrintSettings {
	autoFit := true
	return PrintSettings{
		Defaults: Preset{
			LabelSize:   "62",
			FontSize:    100,
			Align:       label.AlignCenter,
			Orientation: label.Standard,
			Margins:     &label.Margins{Top: 10, Bottom: 10, Left: 3, Right: 3},
			ColorMode:   label.SingleColor,
			CodeScale:   0.9,
			TextScale:   1,
			AutoFit:     &autoFit,
		},
		Presets: Presets{
			Location: Preset{
				LabelSize: "62red",
				ColorMode: label.TwoColor,
				Banner:    true,
			},
		},
	}
}

func (s PrintSettings) JobDelay() time.Duration {
	return time.Duration(s.JobDelayMS) * time.Millisecond
}

func (s PrintSettings) preset(kind Kind) (Preset, error) {
	switch kind {
	case KindDefault:
		return Preset{}.over(s.Defaults), nil
	case KindBin:
		return s.Presets.Bin.over(s.Defaults), nil
	case KindLocation:
		return s.Presets.Location.over(s.Defaults), nil
	default:
		return Preset{}, fmt.Errorf("%w: unknown label kind %q", qlerr.ErrSettingsInvalid, kind)
	}
}

// Request builds the label request for text and code laid out as kind.
func (s PrintSettings) Request(kind Kind, text, code string) (label.Request, error) {
	p, err := s.preset(kind)
	if err != nil {
		return label.Request{}, err
	}
	req := label.Request{
		Text:        text,
		Code:        code,
		LabelSize:   p.LabelSize,
		FontSize:    p.FontSize,
		Align:       p.Align,
		Orientation: p.Orientation,
		ColorMode:   p.ColorMode,
		CodeScale:   p.CodeScale,
		TextScale:   p.TextScale,
		Banner:      p.Banner,
	}
	if p.Margins != nil {
		req.Margins = *p.Margins
	}
	if p.AutoFit != nil {
		req.AutoFit = *p.AutoFit
	}
	return req, nil
}

// Toggles are the on/off layout choices of a request. A nil field takes
// the preset value.
type Toggles struct {
	AutoFit *bool `json:"auto_fit,omitempty"`
	Banner  *bool `json:"banner,omitempty"`
}

// Complete fills the zero layout fields of req from the preset of kind and
// sets auto-fit and banner from t or the preset. The label size is left
// empty for the default kind when req has none so the loaded media can
// decide.
func (s PrintSettings) Complete(kind Kind, req label.Request, t Toggles) (label.Request, error) {
	base, err := s.Request(kind, req.Text, req.Code)
	if err != nil {
		return label.Request{}, err
	}
	if req.FontSize == 0 {
		req.FontSize = base.FontSize
	}
	if req.Align == "" {
		req.Align = base.Align
	}
	if req.Orientation == "" {
		req.Orientation = base.Orientation
	}
	if req.Margins == (label.Margins{}) {
		req.Margins = base.Margins
	}
	if req.ColorMode == "" {
		req.ColorMode = base.ColorMode
	}
	if req.CodeScale == 0 {
		req.CodeScale = base.CodeScale
	}
	if req.TextScale == 0 {
		req.TextScale = base.TextScale
	}
	if req.LabelSize == "" && kind != KindDefault {
		req.LabelSize = base.LabelSize
	}
	req.AutoFit = base.AutoFit
	if t.AutoFit != nil {
		req.AutoFit = *t.AutoFit
	}
	req.Banner = base.Banner
	if t.Banner != nil {
		req.Banner = *t.Banner
	}
	return req, nil
}

// Validate checks that every preset yields a printable request.
func (s PrintSettings) Validate() error {
	if s.JobDelayMS < 0 {
		return fmt.Errorf("%w: job delay must not be negative", qlerr.ErrSettingsInvalid)
	}
	for _, kind := range []Kind{KindDefault, KindBin, KindLocation} {
		req, err := s.Request(kind, "", "")
		if err != nil {
			return err
		}
		if err := req.Validate(); err != nil {
			return fmt.Errorf("preset %q: %w", kind, err)
		}
		lbl, err := media.Lookup(req.LabelSize)
		if err != nil {
			return fmt.Errorf("%w: preset %q: %w", qlerr.ErrSettingsInvalid, kind, err)
		}
		if req.IsTwoColor() && !lbl.TwoColor {
			return fmt.Errorf("%w: preset %q: label %s cannot print two colours",
				qlerr.ErrSettingsInvalid, kind, lbl.ID)
		}
	}
	return nil
}

// Patch is a partial update. Nil fields are left unchanged; a preset is
// replaced as a whole.
type Patch struct {
	LabelSize   *string            `json:"label_size,omitempty"`
	FontSize    *int               `json:"font_size,omitempty"`
	Align       *label.Align       `json:"align,omitempty"`
	Orientation *label.Orientation `json:"orientation,omitempty"`
	Margins     *label.Margins     `json:"margins,omitempty"`
	ColorMode   *label.ColorMode   `json:"color_mode,omitempty"`
	CodeScale   *float64           `json:"code_scale,omitempty"`
	TextScale   *float64           `json:"text_scale,omitempty"`
	AutoFit     *bool              `json:"auto_fit,omitempty"`
	Bin         *Preset            `json:"bin,omitempty"`
	Location    *Preset            `json:"location,omitempty"`
	JobDelayMS  *int               `json:"job_delay_ms,omitempty"`
}

func (p Patch) apply(s PrintSettings) PrintSettings {
	d := &s.Defaults
	if p.LabelSize != nil {
		d.LabelSize = *p.LabelSize
	}
	if p.FontSize != nil {
		d.FontSize = *p.FontSize
	}
	if p.Align != nil {
		d.Align = *p.Align
	}
	if p.Orientation != nil {
		d.Orientation = *p.Orientation
	}
	if p.Margins != nil {
		m := *p.Margins
		d.Margins = &m
	}
	if p.ColorMode != nil {
		d.ColorMode = *p.ColorMode
	}
	if p.CodeScale != nil {
		d.CodeScale = *p.CodeScale
	}
	if p.TextScale != nil {
		d.TextScale = *p.TextScale
	}
	if p.AutoFit != nil {
		v := *p.AutoFit
		d.AutoFit = &v
	}
	if p.Bin != nil {
		s.Presets.Bin = Preset{}.over(*p.Bin)
	}
	if p.Location != nil {
		s.Presets.Location = Preset{}.over(*p.Location)
	}
	if p.JobDelayMS != nil {
		s.JobDelayMS = *p.JobDelayMS
	}
	return s
}

// Store is the single owner of the current PrintSettings.
type Store struct {
	mu  sync.RWMutex
	cur PrintSettings
}

func NewStore(initial PrintSettings) (*Store, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &Store{cur: initial.clone()}, nil
}

// Get returns a copy of the current settings.
func (s *Store) Get() PrintSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.clone()
}

// Update merges p into the current settings. The result replaces the
// current settings only if it validates.
func (s *Store) Update(p Patch) (PrintSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := p.apply(s.cur.clone())
	if err := next.Validate(); err != nil {
		return s.cur.clone(), err
	}
	s.cur = next
	return next.clone(), nil
}

// clone copies the pointer fields so callers never share them with the store.
func (s PrintSettings) clone() PrintSettings {
	s.Defaults = Preset{}.over(s.Defaults)
	s.Presets.Bin = Preset{}.over(s.Presets.Bin)
	s.Presets.Location = Preset{}.over(s.Presets.Location)
	return s
}
