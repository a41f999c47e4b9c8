package render

import (
	"image/color"

	"github.com/audiolibrelab/wavescope/internal/analyzer"
)

func init() {
	Register("bars", func() Renderer { return &Bars{} })
}

// Compositor is a reusable background/foreground helper shared by renderers
// rather than inherited from a base type.
type Compositor struct {
	Background color.RGBA
}

// Clear repaints the surface with the background color.
func (c Compositor) Clear(s *Surface) {
	s.Fill(c.Background)
}

// Bars draws a classic frequency bar graph.
type Bars struct {
	comp     Compositor
	barColor color.RGBA
	barWidth int
	gap      int
}

func (b *Bars) Init(s *Surface, opts Options) error {
	b.comp = Compositor{Background: color.RGBA{16, 16, 24, 255}}
	b.barColor = color.RGBA{64, 200, 120, 255}
	b.barWidth = 6
	b.gap = 2
	return b.SetOptions(opts)
}

func (b *Bars) SetOptions(opts Options) error {
	if opts == nil {
		return nil
	}
	if v, ok := opts["barWidth"].(int); ok && v > 0 {
		b.barWidth = v
	}
	if v, ok := opts["gap"].(int); ok && v >= 0 {
		b.gap = v
	}
	if v, ok := opts["barColor"].(color.RGBA); ok {
		b.barColor = v
	}
	if v, ok := opts["background"].(color.RGBA); ok {
		b.comp.Background = v
	}
	return nil
}

func (b *Bars) Draw(s *Surface, f *analyzer.Frame) {
	b.comp.Clear(s)

	step := b.barWidth + b.gap
	count := s.Width() / step
	if count < 1 || len(f.Frequency) == 0 {
		return
	}

	binsPerBar := len(f.Frequency) / count
	if binsPerBar < 1 {
		binsPerBar = 1
	}

	for i := 0; i < count; i++ {
		var sum int
		var n int
		for j := i * binsPerBar; j < (i+1)*binsPerBar && j < len(f.Frequency); j++ {
			sum += int(f.Frequency[j])
			n++
		}
		if n == 0 {
			break
		}
		h := (sum / n) * s.Height() / 255
		s.FillRect(i*step, s.Height()-h, b.barWidth, h, b.barColor)
	}
}

func (b *Bars) Destroy() {}
