// Package media describes the label stock a QL printer can be loaded with and
// converts its physical dimensions into printer dots.
package media

import (
	"fmt"
	"math"
	"sort"

	"github.com/nixxel-company-limited/ql-usb-server/qlerr"
)

// DPI is the horizontal and vertical resolution of the print head.
const DPI = 300

// Kind is the form factor of a label stock.
type Kind int

const (
	Endless Kind = iota
	DieCut
	RoundDieCut
)

func (k Kind) String() string {
	switch k {
	case Endless:
		return "endless"
	case DieCut:
		return "die-cut"
	case RoundDieCut:
		return "round die-cut"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Label is one entry of the label size table.
type Label struct {
	ID       string
	Name     string
	WidthMM  int
	LengthMM int // 0 for endless tape
	Kind     Kind
	TwoColor bool
}

// WidthDots is the printable width across the tape.
func (l Label) WidthDots() int {
	return DotsForWidth(l.WidthMM)
}

// LengthDots is the printable length along the tape, 0 for endless tape.
func (l Label) LengthDots() int {
	return DotsForLength(l.LengthMM)
}

// BytesPerLine is the packed length of one raster line.
func (l Label) BytesPerLine() int {
	return (l.WidthDots() + 7) / 8
}

func (l Label) IsEndless() bool {
	return l.Kind == Endless
}

var labels = []Label{
	{ID: "12", Name: "12mm endless", WidthMM: 12, Kind: Endless},
	{ID: "29", Name: "29mm endless", WidthMM: 29, Kind: Endless},
	{ID: "38", Name: "38mm endless", WidthMM: 38, Kind: Endless},
	{ID: "50", Name: "50mm endless", WidthMM: 50, Kind: Endless},
	{ID: "54", Name: "54mm endless", WidthMM: 54, Kind: Endless},
	{ID: "62", Name: "62mm endless", WidthMM: 62, Kind: Endless},
	{ID: "62red", Name: "62mm endless (black/red/white)", WidthMM: 62, Kind: Endless, TwoColor: true},
	{ID: "102", Name: "102mm endless", WidthMM: 102, Kind: Endless},
	{ID: "17x54", Name: "17mm x 54mm die-cut", WidthMM: 17, LengthMM: 54, Kind: DieCut},
	{ID: "17x87", Name: "17mm x 87mm die-cut", WidthMM: 17, LengthMM: 87, Kind: DieCut},
	{ID: "23x23", Name: "23mm x 23mm die-cut", WidthMM: 23, LengthMM: 23, Kind: DieCut},
	{ID: "29x42", Name: "29mm x 42mm die-cut", WidthMM: 29, LengthMM: 42, Kind: DieCut},
	{ID: "29x90", Name: "29mm x 90mm die-cut", WidthMM: 29, LengthMM: 90, Kind: DieCut},
	{ID: "39x90", Name: "38mm x 90mm die-cut", WidthMM: 39, LengthMM: 90, Kind: DieCut},
	{ID: "39x48", Name: "39mm x 48mm die-cut", WidthMM: 39, LengthMM: 48, Kind: DieCut},
	{ID: "52x29", Name: "52mm x 29mm die-cut", WidthMM: 52, LengthMM: 29, Kind: DieCut},
	{ID: "62x29", Name: "62mm x 29mm die-cut", WidthMM: 62, LengthMM: 29, Kind: DieCut},
	{ID: "62x100", Name: "62mm x 100mm die-cut", WidthMM: 62, LengthMM: 100, Kind: DieCut},
	{ID: "102x51", Name: "102mm x 51mm die-cut", WidthMM: 102, LengthMM: 51, Kind: DieCut},
	{ID: "102x152", Name: "102mm x 153mm die-cut", WidthMM: 102, LengthMM: 152, Kind: DieCut},
	{ID: "d12", Name: "12mm round die-cut", WidthMM: 12, LengthMM: 12, Kind: RoundDieCut},
	{ID: "d24", Name: "24mm round die-cut", WidthMM: 24, LengthMM: 24, Kind: RoundDieCut},
	{ID: "d58", Name: "58mm round die-cut", WidthMM: 58, LengthMM: 58, Kind: RoundDieCut},
}

var byID = func() map[string]Label {
	m := make(map[string]Label, len(labels))
	for _, l := range labels {
		m[l.ID] = l
	}
	return m
}()

// Lookup returns the label with the given identifier.
func Lookup(id string) (Label, error) {
	l, ok := byID[id]
	if !ok {
		return Label{}, fmt.Errorf("%w: unknown label size %q", qlerr.ErrUnsupportedMedia, id)
	}
	return l, nil
}

// All returns the label table sorted by identifier.
func All() []Label {
	out := make([]Label, len(labels))
	copy(out, labels)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DotsForWidth converts a tape width to printable dots. 62mm tape is the one
// stock whose printable area is not the plain conversion.
func DotsForWidth(mm int) int {
	if mm == 62 {
		return 696
	}
	return DotsForLength(mm)
}

// DotsForLength converts millimetres along the tape to dots.
func DotsForLength(mm int) int {
	if mm <= 0 {
		return 0
	}
	return int(math.Round(float64(mm) / 25.4 * DPI))
}

// Identify maps the media reported by the device to the most likely label
// identifier. Endless tape prefers the single-colour variant since the device
// does not report the colour of the stock.
func Identify(widthMM, lengthMM int, continuous bool) (Label, bool) {
	var candidates []Label
	for _, l := range labels {
		if continuous != l.IsEndless() {
			continue
		}
		if l.WidthMM != widthMM {
			continue
		}
		if !l.IsEndless() && lengthMM > 0 && l.LengthMM != lengthMM {
			continue
		}
		candidates = append(candidates, l)
	}
	if len(candidates) == 0 {
		return Label{}, false
	}
	for _, c := range candidates {
		if !c.TwoColor {
			return c, true
		}
	}
	return candidates[0], true
}
