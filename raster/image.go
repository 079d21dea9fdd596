package raster

import "fmt"

// Image is a label ready for encoding. Red is nil unless the image is two-colour,
// in which case both planes share dimensions.
type Image struct {
	Black *Plane
	Red   *Plane
}

func NewImage(width, height int, twoColor bool) *Image {
	im := &Image{Black: NewPlane(width, height)}
	if twoColor {
		im.Red = NewPlane(width, height)
	}
	return im
}

func (im *Image) Width() int {
	return im.Black.Width()
}

func (im *Image) Height() int {
	return im.Black.Height()
}

func (im *Image) BytesPerLine() int {
	return im.Black.Stride()
}

func (im *Image) TwoColor() bool {
	return im.Red != nil
}

// Rotate turns both planes 90 degrees counter-clockwise.
func (im *Image) Rotate() *Image {
	out := &Image{Black: im.Black.Rotate()}
	if im.Red != nil {
		out.Red = im.Red.Rotate()
	}
	return out
}

func (im *Image) String() string {
	if im.TwoColor() {
		return fmt.Sprintf("Image(%d,%d,two-color)", im.Width(), im.Height())
	}
	return fmt.Sprintf("Image(%d,%d)", im.Width(), im.Height())
}
