// Package status decodes the 32 byte status report of a QL printer.
package status

import (
	"fmt"

	"github.com/nixxel-company-limited/ql-usb-server/command"
	"github.com/nixxel-company-limited/ql-usb-server/media"
)

// Size is the length of a complete status report.
const Size = 32

// Offsets within the report.
const (
	offError1     = 8
	offError2     = 9
	offMediaWidth = 10
	offMediaType  = 11
	offMediaLen   = 17
	offStatusType = 18
	offPhaseType  = 19
)

var error1Names = [8]string{
	0: "No media when printing",
	1: "End of media (die-cut size only)",
	2: "Tape cutter jam",
	4: "Main unit in use",
	5: "Printer turned off",
	6: "High-voltage adapter",
	7: "Fan doesn't work",
}

var error2Names = [8]string{
	0: "Replace media error",
	1: "Expansion buffer full error",
	2: "Communication error",
	4: "Cover opened while printing",
	6: "Media cannot be fed",
	7: "System error",
}

// MediaType of the loaded stock. Values outside the known set are kept raw.
type MediaType byte

const (
	Continuous = MediaType(command.MediaContinuous)
	DieCut     = MediaType(command.MediaDieCut)
)

func (m MediaType) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m MediaType) String() string {
	switch m {
	case Continuous:
		return "continuous"
	case DieCut:
		return "die-cut"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(m))
	}
}

type Type byte

const (
	Reply          Type = 0x00
	PrintCompleted Type = 0x01
	ErrorOccurred  Type = 0x02
	Notification   Type = 0x05
	PhaseChange    Type = 0x06
)

func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t Type) String() string {
	switch t {
	case Reply:
		return "reply to status request"
	case PrintCompleted:
		return "printing completed"
	case ErrorOccurred:
		return "error occurred"
	case Notification:
		return "notification"
	case PhaseChange:
		return "phase change"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

type Phase byte

const (
	Waiting  Phase = 0x00
	Printing Phase = 0x01
)

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p Phase) String() string {
	switch p {
	case Waiting:
		return "waiting to receive"
	case Printing:
		return "printing"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(p))
	}
}

// Report is a decoded status report.
type Report struct {
	Errors        []string  `json:"errors"`
	Type          Type      `json:"type"`
	Phase         Phase     `json:"phase"`
	MediaWidthMM  int       `json:"media_width_mm"`
	MediaLengthMM int       `json:"media_length_mm"`
	MediaType     MediaType `json:"media_type"`
	PrintWidth    int       `json:"print_width"`
	BytesPerLine  int       `json:"bytes_per_line"`
	Raw           []byte    `json:"-"`
}

// Decode parses a status report. It reports false when b is too short to
// hold one.
func Decode(b []byte) (*Report, bool) {
	if len(b) < Size {
		return nil, false
	}
	r := &Report{
		Errors:        append(errorNames(b[offError1], 0, error1Names), errorNames(b[offError2], 8, error2Names)...),
		Type:          Type(b[offStatusType]),
		Phase:         Phase(b[offPhaseType]),
		MediaWidthMM:  int(b[offMediaWidth]),
		MediaLengthMM: int(b[offMediaLen]),
		MediaType:     MediaType(b[offMediaType]),
		Raw:           append([]byte(nil), b[:Size]...),
	}
	r.PrintWidth = media.DotsForWidth(r.MediaWidthMM)
	r.BytesPerLine = (r.PrintWidth + 7) / 8
	return r, true
}

// errorNames lists the set bits of one error byte. Unnamed bits are called
// "bit N", counting across both error bytes from 0.
func errorNames(field byte, base int, names [8]string) []string {
	var out []string
	for bit := 0; bit < 8; bit++ {
		if field&(1<<bit) == 0 {
			continue
		}
		name := names[bit]
		if name == "" {
			name = fmt.Sprintf("bit %d", base+bit)
		}
		out = append(out, name)
	}
	return out
}

// IsEndless reports whether continuous tape is loaded.
func (r *Report) IsEndless() bool {
	return r.MediaType == Continuous
}

// HasErrors reports whether any error bit is set.
func (r *Report) HasErrors() bool {
	return len(r.Errors) > 0
}

// Label identifies the loaded stock in the label table.
func (r *Report) Label() (media.Label, bool) {
	return media.Identify(r.MediaWidthMM, r.MediaLengthMM, r.IsEndless())
}

func (r *Report) String() string {
	return fmt.Sprintf("%s, %s, %dmm %s (%d dots), errors %v",
		r.Type, r.Phase, r.MediaWidthMM, r.MediaType, r.PrintWidth, r.Errors)
}
