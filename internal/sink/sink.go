// Package sink wraps rendered frames plus an optional audio stream into an
// encoding session with explicit states and chunked output accumulation.
package sink

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/audiolibrelab/wavescope/internal/source"
)

// State of an encode session.
type State string

const (
	StateIdle     State = "IDLE"
	StateEncoding State = "ENCODING"
	StatePaused   State = "PAUSED"
)

var (
	// ErrNotIdle is returned when Start is called on a session that is
	// already running. Sessions are not reentrant.
	ErrNotIdle = errors.New("encode session already started")

	// ErrNotEncoding is returned for operations that require an active
	// session.
	ErrNotEncoding = errors.New("encode session is not active")

	// ErrNotPaused is returned when Resume is called outside Paused.
	ErrNotPaused = errors.New("encode session is not paused")
)

// Options configures one encode session.
type Options struct {
	Width  int
	Height int
	FPS    int

	// AudioRate is the sample rate of the audio track; 0 encodes video only.
	AudioRate int

	// Format is the output container family: "webm" or "matroska".
	Format string
}

// Output is the assembled result of a stopped session: one contiguous byte
// buffer plus its container MIME tag.
type Output struct {
	Data []byte
	MIME string
}

// Encoder abstracts the underlying encode process so session logic is
// testable without FFmpeg.
type Encoder interface {
	// Start launches the encoder and returns the channel of output chunks,
	// flushed roughly once per second. The channel closes after the final
	// chunk.
	Start(opts Options) (<-chan []byte, error)

	WriteVideo(frame []byte) error
	WriteAudio(samples []float32) error

	// Finish closes the input streams and waits for the encoder to drain.
	Finish() error

	// Abort kills the encoder, discarding pending output.
	Abort() error

	MIME() string
}

// Session is the capture/encode sink. All chunk mutation happens on the
// session's own collector goroutine; callers only see assembled output.
type Session struct {
	mu       sync.Mutex
	state    State
	enc      Encoder
	chunks   [][]byte
	draining bool

	// encMu serializes encoder writes against Finish/Abort: writers hold it
	// shared, Stop and Cancel hold it exclusively, so end-of-input waits out
	// in-flight writes and no write lands on a closed encoder.
	encMu sync.RWMutex

	collected chan struct{}
	audioStop chan struct{}
}

// New creates an idle session backed by an FFmpeg encoder process.
func New() *Session {
	return NewWithEncoder(&ffmpegEncoder{})
}

// NewWithEncoder creates an idle session over the given encoder.
func NewWithEncoder(enc Encoder) *Session {
	return &Session{state: StateIdle, enc: enc}
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins encoding. audio may be nil for video-only capture; when
// present it is caller-owned and is never closed by the session. Rejected
// unless the session is Idle.
func (s *Session) Start(opts Options, audio source.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return fmt.Errorf("%w: state %s", ErrNotIdle, s.state)
	}
	if audio != nil && opts.AudioRate == 0 {
		opts.AudioRate = audio.SampleRate()
	}

	ch, err := s.enc.Start(opts)
	if err != nil {
		return fmt.Errorf("failed to start encoder: %w", err)
	}

	s.chunks = nil
	s.collected = make(chan struct{})
	go s.collect(ch, s.collected)

	if audio != nil {
		s.audioStop = make(chan struct{})
		go s.feedAudio(audio, s.audioStop)
	} else {
		s.audioStop = nil
	}

	s.state = StateEncoding
	slog.Debug("encode session started", "width", opts.Width, "height", opts.Height,
		"fps", opts.FPS, "audio_rate", opts.AudioRate, "format", opts.Format)
	return nil
}

// collect is the only mutator of the chunk list.
func (s *Session) collect(ch <-chan []byte, done chan struct{}) {
	defer close(done)
	for chunk := range ch {
		s.mu.Lock()
		s.chunks = append(s.chunks, chunk)
		s.mu.Unlock()
	}
}

// feedAudio copies the caller's audio stream into the encoder. An audio
// write failure degrades the session to video-only rather than failing it.
func (s *Session) feedAudio(audio source.Stream, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case chunk, ok := <-audio.Samples():
			if !ok {
				return
			}
			if err := s.WriteAudio(chunk); err != nil {
				if errors.Is(err, ErrNotEncoding) {
					continue
				}
				slog.Warn("audio track write failed, continuing video-only", "error", err)
				return
			}
		}
	}
}

// WriteFrame hands one rendered frame (raw RGBA bytes) to the encoder.
// Frames written while Paused are dropped; writing while Idle is a
// precondition failure. A frame racing a concurrent Stop or Cancel is
// dropped the same way Paused drops frames.
func (s *Session) WriteFrame(frame []byte) error {
	switch s.State() {
	case StateIdle:
		return ErrNotEncoding
	case StatePaused:
		return nil
	}

	s.encMu.RLock()
	defer s.encMu.RUnlock()
	if !s.acceptingWrites() {
		return nil
	}
	return s.enc.WriteVideo(frame)
}

// WriteAudio hands audio samples to the encoder directly, for callers that
// pace audio themselves instead of passing a stream to Start. Dropped while
// Paused or racing a concurrent Stop or Cancel.
func (s *Session) WriteAudio(samples []float32) error {
	switch s.State() {
	case StateIdle:
		return ErrNotEncoding
	case StatePaused:
		return nil
	}

	s.encMu.RLock()
	defer s.encMu.RUnlock()
	if !s.acceptingWrites() {
		return nil
	}
	return s.enc.WriteAudio(samples)
}

// acceptingWrites re-checks state under the shared encoder lock: a caller
// that passed the entry check may have lost the race with Stop or Cancel.
func (s *Session) acceptingWrites() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateEncoding && !s.draining
}

// Pause suspends frame intake. Rejected unless Encoding.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateEncoding {
		return fmt.Errorf("%w: state %s", ErrNotEncoding, s.state)
	}
	s.state = StatePaused
	return nil
}

// Resume reenables frame intake. Rejected unless Paused.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return fmt.Errorf("%w: state %s", ErrNotPaused, s.state)
	}
	s.state = StateEncoding
	return nil
}

// Stop ends the session, waits for the final output slice, and assembles all
// accumulated slices into one contiguous buffer. The session returns to Idle
// whether or not the encoder drained cleanly; on encoder failure the partial
// output is discarded.
func (s *Session) Stop() (*Output, error) {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return nil, ErrNotEncoding
	}
	s.draining = true
	s.stopAudioLocked()
	collected := s.collected
	s.mu.Unlock()

	s.encMu.Lock()
	finishErr := s.enc.Finish()
	s.encMu.Unlock()
	<-collected

	s.mu.Lock()
	defer s.mu.Unlock()
	s.draining = false
	s.state = StateIdle

	if finishErr != nil {
		s.chunks = nil
		return nil, fmt.Errorf("encoder failed: %w", finishErr)
	}

	var total int
	for _, c := range s.chunks {
		total += len(c)
	}
	data := make([]byte, 0, total)
	for _, c := range s.chunks {
		data = append(data, c...)
	}
	s.chunks = nil

	slog.Debug("encode session stopped", "bytes", total)
	return &Output{Data: data, MIME: s.enc.MIME()}, nil
}

// Cancel ends the session discarding all accumulated output. Rejected when
// Idle.
func (s *Session) Cancel() error {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return ErrNotEncoding
	}
	s.draining = true
	s.stopAudioLocked()
	collected := s.collected
	s.mu.Unlock()

	s.encMu.Lock()
	err := s.enc.Abort()
	s.encMu.Unlock()
	<-collected

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = nil
	s.draining = false
	s.state = StateIdle
	if err != nil {
		return fmt.Errorf("encoder abort failed: %w", err)
	}
	slog.Debug("encode session cancelled")
	return nil
}

// stopAudioLocked halts the audio feeder. The audio stream itself is never
// closed here; it belongs to the caller and may be reused across sessions.
func (s *Session) stopAudioLocked() {
	if s.audioStop != nil {
		close(s.audioStop)
		s.audioStop = nil
	}
}
