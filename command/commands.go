// Package command implements the raster command byte sequences accepted by
// Brother QL label printers.
package command

import "encoding/binary"

// Control characters
const (
	Esc = 0x1B
	// Print is the terminal print-and-cut byte of a job.
	Print = 0x1A
)

// MediaType is the media type byte of the media configuration command and
// of the status report.
type MediaType byte

const (
	MediaContinuous MediaType = 0x0A
	MediaDieCut     MediaType = 0x0B
)

// Valid-field flags of the media configuration command.
const (
	mediaFlagKind    = 0x02
	mediaFlagWidth   = 0x04
	mediaFlagLength  = 0x08
	mediaFlagQuality = 0x40
	mediaFlagRecover = 0x80
)

// Various mode bit enabling the automatic cutter.
const autoCutBit = 0x40

// Two-colour bit of the expanded mode command.
const twoColorBit = 0x01

// Resets the printer to its power-on command state.
func initialize() []byte {
	return []byte{Esc, 0x40}
}

// Switches two-colour printing on or off.
func twoColorMode(on bool) []byte {
	var flag byte
	if on {
		flag = twoColorBit
	}
	return []byte{Esc, 0x69, 0x4B, flag}
}

// StatusRequest asks the device for its 32 byte status report.
func StatusRequest() []byte {
	return []byte{Esc, 0x69, 0x53}
}

// Declares the loaded media. lines is the number of raster lines that follow.
func mediaInfo(mt MediaType, widthMM, lengthMM byte, lines uint32) []byte {
	flags := byte(mediaFlagRecover | mediaFlagKind | mediaFlagWidth | mediaFlagQuality)
	if lengthMM > 0 {
		flags |= mediaFlagLength
	}
	cmd := []byte{Esc, 0x69, 0x7A, flags, byte(mt), widthMM, lengthMM, 0, 0, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(cmd[7:11], lines)
	return cmd
}

// Sets the feed margin in dots.
func margin(dots uint16) []byte {
	return []byte{Esc, 0x69, 0x64, byte(dots), byte(dots >> 8)}
}

// Switches the printer into raster command mode.
func rasterMode() []byte {
	return []byte{Esc, 0x69, 0x61, 0x01}
}

// Enables the automatic cutter.
func autoCut() []byte {
	return []byte{Esc, 0x69, 0x4D, autoCutBit}
}

// Cuts after every n labels. With n = 1 this is also the feed amount
// between consecutive labels.
func cutEach(n byte) []byte {
	return []byte{Esc, 0x69, 0x41, n}
}

// One line of a single-colour raster.
func rasterLine(data []byte) []byte {
	cmd := make([]byte, 0, 3+len(data))
	cmd = append(cmd, 0x67, 0x00, byte(len(data)))
	return append(cmd, data...)
}

// Plane selectors of the two-colour raster line command.
const (
	planeBlack = 0x01
	planeRed   = 0x02
)

// One line of one plane of a two-colour raster.
func planeLine(plane byte, data []byte) []byte {
	cmd := make([]byte, 0, 3+len(data))
	cmd = append(cmd, 0x77, plane, byte(len(data)))
	return append(cmd, data...)
}
