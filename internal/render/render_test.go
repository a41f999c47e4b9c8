package render

import (
	"errors"
	"image/color"
	"testing"

	"github.com/audiolibrelab/wavescope/internal/analyzer"
)

func TestNew_UnknownRenderer(t *testing.T) {
	if _, err := New("does-not-exist"); !errors.Is(err, ErrUnknownRenderer) {
		t.Errorf("Expected ErrUnknownRenderer, got %v", err)
	}
}

func TestNames_IncludesBuiltins(t *testing.T) {
	names := Names()
	found := false
	for _, n := range names {
		if n == "bars" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected built-in 'bars' renderer, got %v", names)
	}
}

type noopRenderer struct{}

func (noopRenderer) Init(s *Surface, opts Options) error { return nil }
func (noopRenderer) Draw(s *Surface, f *analyzer.Frame)  {}
func (noopRenderer) SetOptions(opts Options) error       { return nil }
func (noopRenderer) Destroy()                            {}

func TestRegister_CustomRenderer(t *testing.T) {
	Register("test-noop", func() Renderer { return noopRenderer{} })

	r, err := New("test-noop")
	if err != nil {
		t.Fatalf("New failed after Register: %v", err)
	}
	if _, ok := r.(noopRenderer); !ok {
		t.Errorf("Expected noopRenderer instance, got %T", r)
	}
}

func TestSurface_Dimensions(t *testing.T) {
	s := NewSurface(8, 6)
	if s.Width() != 8 || s.Height() != 6 {
		t.Errorf("Expected 8x6 surface, got %dx%d", s.Width(), s.Height())
	}
	if len(s.Bytes()) != 8*6*4 {
		t.Errorf("Expected %d RGBA bytes, got %d", 8*6*4, len(s.Bytes()))
	}
}

func TestSurface_FillAndPixels(t *testing.T) {
	s := NewSurface(4, 4)
	red := color.RGBA{255, 0, 0, 255}
	s.Fill(red)

	if got := s.Image().RGBAAt(2, 2); got != red {
		t.Errorf("Expected fill color %v, got %v", red, got)
	}

	blue := color.RGBA{0, 0, 255, 255}
	s.SetPixel(1, 1, blue)
	if got := s.Image().RGBAAt(1, 1); got != blue {
		t.Errorf("Expected pixel %v, got %v", blue, got)
	}

	// Out-of-bounds writes are ignored.
	s.SetPixel(-1, 0, blue)
	s.SetPixel(100, 100, blue)
	s.FillRect(-10, -10, 5, 5, blue)
	s.FillRect(1000, 1000, 5, 5, blue)
}

func TestBars_DrawsFullHeightBars(t *testing.T) {
	s := NewSurface(64, 32)
	b := &Bars{}
	if err := b.Init(s, nil); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer b.Destroy()

	f := &analyzer.Frame{
		TimeDomain: make([]byte, 256),
		Frequency:  make([]byte, 128),
	}
	for i := range f.Frequency {
		f.Frequency[i] = 255
	}

	b.Draw(s, f)

	// Default geometry: 6px bars with a 2px gap. Column 0 is inside the
	// first full-height bar, column 6 is gap.
	bar := s.Image().RGBAAt(0, 0)
	gap := s.Image().RGBAAt(6, 0)
	if bar == gap {
		t.Errorf("Expected bar and gap columns to differ, both %v", bar)
	}
	if bar != (color.RGBA{64, 200, 120, 255}) {
		t.Errorf("Expected default bar color at full height, got %v", bar)
	}
}

func TestBars_SilenceDrawsBackgroundOnly(t *testing.T) {
	s := NewSurface(64, 32)
	b := &Bars{}
	if err := b.Init(s, nil); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	f := &analyzer.Frame{
		TimeDomain: make([]byte, 256),
		Frequency:  make([]byte, 128),
	}
	b.Draw(s, f)

	bg := color.RGBA{16, 16, 24, 255}
	for y := 0; y < 32; y++ {
		for x := 0; x < 64; x++ {
			if got := s.Image().RGBAAt(x, y); got != bg {
				t.Fatalf("Pixel (%d,%d): expected background %v, got %v", x, y, bg, got)
			}
		}
	}
}

func TestBars_SetOptions(t *testing.T) {
	s := NewSurface(64, 32)
	b := &Bars{}
	if err := b.Init(s, Options{"barWidth": 10, "gap": 0}); err != nil {
		t.Fatalf("Init with options failed: %v", err)
	}
	if b.barWidth != 10 || b.gap != 0 {
		t.Errorf("Options not applied: barWidth=%d gap=%d", b.barWidth, b.gap)
	}

	// Unknown keys and wrong types are ignored, not errors.
	if err := b.SetOptions(Options{"barWidth": "wide", "mystery": true}); err != nil {
		t.Fatalf("SetOptions with junk failed: %v", err)
	}
	if b.barWidth != 10 {
		t.Errorf("Wrong-typed option mutated state: barWidth=%d", b.barWidth)
	}
}
