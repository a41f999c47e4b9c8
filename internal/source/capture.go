package source

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// captureChunk is the number of samples delivered per channel send.
const captureChunk = 1024

// Capture is a live microphone Stream backed by an FFmpeg device-input
// process decoding to raw mono float32 PCM.
type Capture struct {
	device     string
	inputFmt   string
	sampleRate int

	cmd    *exec.Cmd
	reader io.ReadCloser
	out    chan []float32

	mu        sync.Mutex
	err       error
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewCapture starts capturing from an audio input device. inputFmt is the
// FFmpeg input format ("pulse", "alsa"); device is the device identifier or
// "default".
func NewCapture(inputFmt, device string, sampleRate int) (*Capture, error) {
	if device == "" {
		device = "default"
	}
	if sampleRate <= 0 {
		sampleRate = fallbackSampleRate
	}

	c := &Capture{
		device:     device,
		inputFmt:   inputFmt,
		sampleRate: sampleRate,
		out:        make(chan []float32, 16),
		done:       make(chan struct{}),
	}

	pipeReader, pipeWriter := io.Pipe()
	c.reader = pipeReader

	cmd := ffmpeg.Input(device, ffmpeg.KwArgs{"f": inputFmt, "fflags": "nobuffer"}).
		Output("pipe:", ffmpeg.KwArgs{
			"f":        "f32le",
			"acodec":   "pcm_f32le",
			"ar":       strconv.Itoa(sampleRate),
			"ac":       "1",
			"loglevel": "error",
		}).
		WithOutput(pipeWriter).
		Compile()
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start capture process: %w", err)
	}
	c.cmd = cmd

	go func() {
		err := cmd.Wait()
		if err != nil && !strings.Contains(err.Error(), "signal:") {
			c.setErr(fmt.Errorf("capture process failed: %w", err))
		}
		pipeWriter.Close()
	}()

	go c.readLoop()

	slog.Info("audio capture started", "format", inputFmt, "device", device, "rate", sampleRate)
	return c, nil
}

func (c *Capture) readLoop() {
	defer close(c.out)
	defer close(c.done)

	buf := make([]byte, captureChunk*4)
	for {
		_, err := io.ReadFull(c.reader, buf)
		if err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF && err != io.ErrClosedPipe {
				c.setErr(fmt.Errorf("capture read failed: %w", err))
			}
			return
		}

		chunk := make([]float32, captureChunk)
		for i := range chunk {
			chunk[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4 : i*4+4]))
		}

		select {
		case c.out <- chunk:
		default:
			// Consumer is behind; drop the chunk rather than stall capture.
		}
	}
}

func (c *Capture) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil && !c.closed {
		c.err = err
	}
}

func (c *Capture) Samples() <-chan []float32 { return c.out }

func (c *Capture) SampleRate() int { return c.sampleRate }

func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close stops the capture process. Safe to call more than once.
func (c *Capture) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		if c.cmd != nil && c.cmd.Process != nil {
			if err := c.cmd.Process.Signal(os.Interrupt); err != nil {
				c.cmd.Process.Kill()
			}
		}
		c.reader.Close()

		select {
		case <-c.done:
		case <-time.After(2 * time.Second):
			if c.cmd != nil && c.cmd.Process != nil {
				c.cmd.Process.Kill()
			}
		}
		slog.Debug("audio capture closed", "device", c.device)
	})
	return nil
}
