package raster

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// CodeSymbol encodes payload as a QR code and scales its modules to fill a
// side x side square. The quiet zone is left to the surrounding margins.
func CodeSymbol(payload string, side int) (*Plane, error) {
	if side <= 0 {
		return nil, fmt.Errorf("code symbol side must be positive, got %d", side)
	}
	q, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("encode code symbol: %w", err)
	}
	q.DisableBorder = true
	modules := q.Bitmap()
	n := len(modules)

	p := NewPlane(side, side)
	for y := 0; y < side; y++ {
		row := modules[y*n/side]
		for x := 0; x < side; x++ {
			if row[x*n/side] {
				p.Set(x, y, true)
			}
		}
	}
	return p, nil
}
