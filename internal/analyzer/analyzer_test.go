package analyzer

import (
	"errors"
	"testing"
	"time"
)

// mockStream is a hand-driven live source for tests.
type mockStream struct {
	ch   chan []float32
	rate int
	err  error
}

func newMockStream(rate int) *mockStream {
	return &mockStream{ch: make(chan []float32, 16), rate: rate}
}

func (m *mockStream) Samples() <-chan []float32 { return m.ch }
func (m *mockStream) SampleRate() int           { return m.rate }
func (m *mockStream) Err() error                { return m.err }
func (m *mockStream) Close() error              { return nil }

func TestNew_FFTSizeValidation(t *testing.T) {
	valid := []int{32, 64, 128, 256, 512, 1024, 2048, 4096, 8192, 16384, 32768}
	for _, size := range valid {
		if _, err := New(size); err != nil {
			t.Errorf("New(%d) returned error: %v", size, err)
		}
	}

	invalid := []int{-1, 0, 1, 16, 31, 33, 100, 1000, 2047, 65536}
	for _, size := range invalid {
		if _, err := New(size); !errors.Is(err, ErrInvalidFFTSize) {
			t.Errorf("New(%d) expected ErrInvalidFFTSize, got %v", size, err)
		}
	}
}

func TestReadFrame_SilenceWhenUnbound(t *testing.T) {
	a, err := New(64)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	f := a.ReadFrame()
	if len(f.TimeDomain) != 64 {
		t.Errorf("Expected time domain length 64, got %d", len(f.TimeDomain))
	}
	if len(f.Frequency) != 32 {
		t.Errorf("Expected frequency length 32, got %d", len(f.Frequency))
	}
	for i, v := range f.TimeDomain {
		if v != 128 {
			t.Errorf("Time domain sample %d: expected silence value 128, got %d", i, v)
		}
	}
	for i, v := range f.Frequency {
		if v != 0 {
			t.Errorf("Frequency bin %d: expected 0, got %d", i, v)
		}
	}
}

// waitForSignal polls ReadFrame until the time domain leaves silence or the
// deadline passes.
func waitForSignal(t *testing.T, a *Analyzer) *Frame {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		f := a.ReadFrame()
		for _, v := range f.TimeDomain {
			if v != 128 {
				return f
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Analyzer never left silence after samples were pushed")
	return nil
}

func TestConnectLive_SamplesReachFrames(t *testing.T) {
	a, err := New(64)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Destroy()

	s := newMockStream(44100)
	if err := a.ConnectLive(s); err != nil {
		t.Fatalf("ConnectLive failed: %v", err)
	}

	chunk := make([]float32, 64)
	for i := range chunk {
		chunk[i] = 1.0
	}
	s.ch <- chunk

	f := waitForSignal(t, a)
	if f.SampleRate != 44100 {
		t.Errorf("Expected sample rate 44100, got %d", f.SampleRate)
	}
	if f.WindowSize != 64 {
		t.Errorf("Expected window size 64, got %d", f.WindowSize)
	}
	// Full-scale positive samples map to 255.
	for i, v := range f.TimeDomain {
		if v != 255 {
			t.Errorf("Time domain sample %d: expected 255, got %d", i, v)
			break
		}
	}
}

func TestConnectLive_ReplacesPreviousBinding(t *testing.T) {
	a, err := New(64)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Destroy()

	first := newMockStream(44100)
	if err := a.ConnectLive(first); err != nil {
		t.Fatalf("ConnectLive failed: %v", err)
	}
	chunk := make([]float32, 64)
	for i := range chunk {
		chunk[i] = 0.5
	}
	first.ch <- chunk
	waitForSignal(t, a)

	second := newMockStream(48000)
	if err := a.ConnectLive(second); err != nil {
		t.Fatalf("ConnectLive replacement failed: %v", err)
	}

	// The old binding's data must be gone.
	f := a.ReadFrame()
	for i, v := range f.TimeDomain {
		if v != 128 {
			t.Errorf("Time domain sample %d not silenced after rebind: got %d", i, v)
			break
		}
	}
	if f.SampleRate != 48000 {
		t.Errorf("Expected new sample rate 48000, got %d", f.SampleRate)
	}
}

func TestConnectLive_RejectsFailedOrigin(t *testing.T) {
	a, err := New(64)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Destroy()

	s := newMockStream(44100)
	s.err = errors.New("device gone")
	if err := a.ConnectLive(s); err == nil {
		t.Error("Expected error binding an already-failed origin")
	}
}

func TestDisconnect_SilencesAndIsIdempotent(t *testing.T) {
	a, err := New(64)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Destroy()

	s := newMockStream(44100)
	if err := a.ConnectLive(s); err != nil {
		t.Fatalf("ConnectLive failed: %v", err)
	}
	chunk := make([]float32, 64)
	for i := range chunk {
		chunk[i] = 0.9
	}
	s.ch <- chunk
	waitForSignal(t, a)

	a.Disconnect()
	a.Disconnect()

	f := a.ReadFrame()
	for i, v := range f.TimeDomain {
		if v != 128 {
			t.Errorf("Time domain sample %d: expected 128 after disconnect, got %d", i, v)
			break
		}
	}
	for i, v := range f.Frequency {
		if v != 0 {
			t.Errorf("Frequency bin %d: expected 0 after disconnect, got %d", i, v)
			break
		}
	}
}

func TestDestroy_Idempotent(t *testing.T) {
	a, err := New(128)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	a.Destroy()
	a.Destroy()

	if err := a.ConnectLive(newMockStream(44100)); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Expected ErrDestroyed binding after destroy, got %v", err)
	}
}

func TestSourceDone_ReportsStreamEnd(t *testing.T) {
	a, err := New(64)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Destroy()

	s := newMockStream(44100)
	if err := a.ConnectLive(s); err != nil {
		t.Fatalf("ConnectLive failed: %v", err)
	}

	done := a.SourceDone()
	s.err = errors.New("capture died")
	close(s.ch)

	select {
	case got := <-done:
		if got == nil || got.Error() != "capture died" {
			t.Errorf("Expected terminal stream error, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("SourceDone never fired after stream close")
	}
}

func TestLevelByte(t *testing.T) {
	tests := []struct {
		in   float32
		want byte
	}{
		{0, 128},
		{-1, 0},
		{1, 255},
		{-2, 0},    // clamped
		{2, 255},   // clamped
		{0.5, 191}, // round(1.5 * 127.5)
	}
	for _, tt := range tests {
		if got := levelByte(tt.in); got != tt.want {
			t.Errorf("levelByte(%v) = %d, expected %d", tt.in, got, tt.want)
		}
	}
}

func TestDbByte(t *testing.T) {
	tests := []struct {
		in   float64
		want byte
	}{
		{-100, 0},
		{0, 255},
		{-50, 128}, // round(127.5)
		{-200, 0},  // clamped
		{10, 255},  // clamped
	}
	for _, tt := range tests {
		if got := dbByte(tt.in); got != tt.want {
			t.Errorf("dbByte(%v) = %d, expected %d", tt.in, got, tt.want)
		}
	}
}

func TestSourceDone_ClosedOnRebind(t *testing.T) {
	a, err := New(64)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Destroy()

	first := newMockStream(44100)
	if err := a.ConnectLive(first); err != nil {
		t.Fatalf("ConnectLive failed: %v", err)
	}
	superseded := a.SourceDone()

	if err := a.ConnectLive(newMockStream(48000)); err != nil {
		t.Fatalf("ConnectLive rebind failed: %v", err)
	}

	// The superseded binding's channel closes without a value, so a watcher
	// on the old binding does not linger.
	select {
	case err, ok := <-superseded:
		if ok {
			t.Errorf("Superseded binding delivered a value: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Superseded binding's done channel never closed")
	}
}

func TestSourceDone_ClosedOnDisconnect(t *testing.T) {
	a, err := New(64)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Destroy()

	if err := a.ConnectLive(newMockStream(44100)); err != nil {
		t.Fatalf("ConnectLive failed: %v", err)
	}
	done := a.SourceDone()
	a.Disconnect()

	select {
	case err, ok := <-done:
		if ok {
			t.Errorf("Torn-down binding delivered a value: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Done channel never closed after Disconnect")
	}
}
