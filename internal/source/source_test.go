package source

import (
	"io"
	"testing"
	"time"
)

func TestBufferDuration(t *testing.T) {
	tests := []struct {
		name     string
		samples  int
		rate     int
		expected time.Duration
	}{
		{"one second", 44100, 44100, time.Second},
		{"half second", 22050, 44100, 500 * time.Millisecond},
		{"two seconds low rate", 16000, 8000, 2 * time.Second},
		{"empty", 0, 44100, 0},
		{"zero rate", 1000, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &Buffer{Samples: make([]float32, tt.samples), SampleRate: tt.rate}
			if got := b.Duration(); got != tt.expected {
				t.Errorf("Duration() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestDownmix_Stereo(t *testing.T) {
	interleaved := []float32{1.0, 0.0, 0.0, 1.0, -0.5, 0.5}
	mono := downmix(interleaved, 2)

	expected := []float32{0.5, 0.5, 0.0}
	if len(mono) != len(expected) {
		t.Fatalf("Expected %d mono samples, got %d", len(expected), len(mono))
	}
	for i, want := range expected {
		if mono[i] != want {
			t.Errorf("Sample %d: got %v, expected %v", i, mono[i], want)
		}
	}
}

func TestDownmix_MonoPassthrough(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	out := downmix(in, 1)
	if &out[0] != &in[0] {
		t.Error("Expected mono input to pass through without copying")
	}
}

type stubDecoder struct{}

func (stubDecoder) Decode(r io.ReadSeeker) (*Buffer, error) {
	return &Buffer{Samples: []float32{0}, SampleRate: 8000}, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	if _, ok := r.Get("flac"); ok {
		t.Error("Expected empty registry to miss")
	}

	r.Register("FLAC", stubDecoder{})
	if _, ok := r.Get("flac"); !ok {
		t.Error("Expected lookup to be case-insensitive on register")
	}
	if _, ok := r.Get("FlAc"); !ok {
		t.Error("Expected lookup to be case-insensitive on get")
	}
}

func TestDefaultRegistry_KnownFormats(t *testing.T) {
	for _, ext := range []string{"wav", "mp3", "ogg", "oga"} {
		if _, ok := defaultRegistry.Get(ext); !ok {
			t.Errorf("Expected built-in decoder for %q", ext)
		}
	}
}
