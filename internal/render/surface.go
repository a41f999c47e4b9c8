package render

import (
	"image"
	"image/color"
	"image/draw"
)

// Surface is the RGBA drawing target handed to renderers and captured by the
// encode sink. It is exclusively owned by whichever pipeline is active.
type Surface struct {
	img *image.RGBA
}

func NewSurface(width, height int) *Surface {
	return &Surface{img: image.NewRGBA(image.Rect(0, 0, width, height))}
}

func (s *Surface) Width() int  { return s.img.Rect.Dx() }
func (s *Surface) Height() int { return s.img.Rect.Dy() }

// Bytes returns the raw RGBA pixel data, row-major, one contiguous slice.
// This is the exact layout the encode sink consumes.
func (s *Surface) Bytes() []byte { return s.img.Pix }

func (s *Surface) Image() *image.RGBA { return s.img }

// Fill paints the whole surface with a single color.
func (s *Surface) Fill(c color.Color) {
	draw.Draw(s.img, s.img.Rect, image.NewUniform(c), image.Point{}, draw.Src)
}

// FillRect paints a rectangle, clipped to the surface.
func (s *Surface) FillRect(x, y, w, h int, c color.Color) {
	r := image.Rect(x, y, x+w, y+h).Intersect(s.img.Rect)
	if r.Empty() {
		return
	}
	draw.Draw(s.img, r, image.NewUniform(c), image.Point{}, draw.Src)
}

// SetPixel sets one pixel, ignoring out-of-bounds coordinates.
func (s *Surface) SetPixel(x, y int, c color.Color) {
	if image.Pt(x, y).In(s.img.Rect) {
		s.img.Set(x, y, c)
	}
}
