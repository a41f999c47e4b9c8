package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/audiolibrelab/wavescope/internal/analyzer"
	"github.com/audiolibrelab/wavescope/internal/render"
	"github.com/audiolibrelab/wavescope/internal/sink"
)

// recordingMirror counts forwarded frames and option updates.
type recordingMirror struct {
	mu      sync.Mutex
	frames  int
	options int
}

func (m *recordingMirror) TrySend(f *analyzer.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames++
}

func (m *recordingMirror) TryOptions(renderer string, opts render.Options) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.options++
}

func (m *recordingMirror) stats() (frames, options int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames, m.options
}

// testStream is a hand-driven live origin.
type testStream struct {
	ch  chan []float32
	err error
}

func newTestStream() *testStream {
	return &testStream{ch: make(chan []float32, 16)}
}

func (s *testStream) Samples() <-chan []float32 { return s.ch }
func (s *testStream) SampleRate() int           { return 44100 }
func (s *testStream) Err() error                { return s.err }
func (s *testStream) Close() error              { return nil }

func newTestSession(t *testing.T, enc sink.Encoder) (*Session, *countingRenderer, *recordingMirror) {
	t.Helper()
	a, err := analyzer.New(64)
	if err != nil {
		t.Fatalf("analyzer.New failed: %v", err)
	}
	r := &countingRenderer{}
	m := &recordingMirror{}
	return &Session{
		FPS:      30,
		Format:   "webm",
		Analyzer: a,
		Renderer: r,
		Surface:  render.NewSurface(16, 8),
		Sink:     sink.NewWithEncoder(enc),
		Mirror:   m,
	}, r, m
}

func TestSession_TicksAndMirrors(t *testing.T) {
	s, r, m := newTestSession(t, &memEncoder{})
	defer s.Close()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("Expected second Start to be rejected")
	}

	time.Sleep(200 * time.Millisecond)

	_, draws, _ := r.stats()
	if draws == 0 {
		t.Error("Expected frames to be drawn while running")
	}
	frames, _ := m.stats()
	if frames == 0 {
		t.Error("Expected frames to be mirrored while running")
	}
}

func TestSession_RecordStopRecord(t *testing.T) {
	enc := &memEncoder{}
	s, _, _ := newTestSession(t, enc)
	defer s.Close()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := s.Record(); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	out, err := s.StopRecording()
	if err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}
	if len(out.Data) == 0 {
		t.Error("Expected non-empty recording")
	}
	if s.Sink.State() != sink.StateIdle {
		t.Errorf("Expected sink IDLE, got %s", s.Sink.State())
	}

	// A second recording starts without reconnecting anything.
	if err := s.Record(); err != nil {
		t.Fatalf("Second Record failed: %v", err)
	}
	time.Sleep(300 * time.Millisecond)
	if _, err := s.StopRecording(); err != nil {
		t.Fatalf("Second StopRecording failed: %v", err)
	}
}

func TestSession_PauseResume(t *testing.T) {
	enc := &memEncoder{}
	s, _, _ := newTestSession(t, enc)
	defer s.Close()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Record(); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if err := s.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	// Let any tick already past the state check land before sampling.
	time.Sleep(50 * time.Millisecond)
	paused := enc.frames()
	time.Sleep(200 * time.Millisecond)
	if got := enc.frames(); got != paused {
		t.Errorf("Frames encoded while paused: %d -> %d", paused, got)
	}

	if err := s.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if got := enc.frames(); got == paused {
		t.Error("No frames encoded after resume")
	}

	if _, err := s.StopRecording(); err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}
}

func TestSession_SourceFailureCancelsRecording(t *testing.T) {
	enc := &memEncoder{}
	s, _, _ := newTestSession(t, enc)
	defer s.Close()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	origin := newTestStream()
	if err := s.Connect(origin); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := s.Record(); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	// The origin dies mid-capture.
	origin.err = errors.New("device unplugged")
	close(origin.ch)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && s.Err() == nil {
		time.Sleep(10 * time.Millisecond)
	}
	if err := s.Err(); !errors.Is(err, ErrSource) {
		t.Fatalf("Expected terminal ErrSource, got %v", err)
	}
	if s.Sink.State() != sink.StateIdle {
		t.Errorf("Expected in-flight capture cancelled, sink state %s", s.Sink.State())
	}
}

func TestSession_DisconnectRendersSilence(t *testing.T) {
	s, _, _ := newTestSession(t, &memEncoder{})
	defer s.Close()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	origin := newTestStream()
	if err := s.Connect(origin); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	origin.ch <- []float32{0.5, 0.5, 0.5, 0.5}
	time.Sleep(50 * time.Millisecond)

	s.Disconnect()

	f := s.Analyzer.ReadFrame()
	for i, v := range f.TimeDomain {
		if v != 128 {
			t.Errorf("Time domain sample %d: expected silence 128 after disconnect, got %d", i, v)
			break
		}
	}
}

func TestSession_SetRendererOptionsMirrors(t *testing.T) {
	s, _, m := newTestSession(t, &memEncoder{})
	defer s.Close()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.SetRendererOptions("bars", render.Options{"gap": 4}); err != nil {
		t.Fatalf("SetRendererOptions failed: %v", err)
	}
	if _, options := m.stats(); options != 1 {
		t.Errorf("Expected 1 mirrored option update, got %d", options)
	}
}

func TestSession_CloseIdempotent(t *testing.T) {
	s, r, _ := newTestSession(t, &memEncoder{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Record(); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	s.Close()
	s.Close()

	if s.Sink.State() != sink.StateIdle {
		t.Errorf("Expected in-flight capture cancelled on close, got %s", s.Sink.State())
	}
	if _, _, destroys := r.stats(); destroys != 1 {
		t.Errorf("Expected renderer destroyed exactly once, got %d", destroys)
	}
	if err := s.Connect(newTestStream()); err == nil {
		t.Error("Expected Connect to fail after Close")
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("Expected Start to fail after Close")
	}
}
