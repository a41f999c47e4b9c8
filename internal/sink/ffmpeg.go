package sink

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	// chunkInterval is how often accumulated encoder output is flushed into
	// a new slice, bounding memory growth on long captures.
	chunkInterval = time.Second

	// finishTimeout bounds how long Finish waits for FFmpeg to drain.
	finishTimeout = 10 * time.Second
)

// ffmpegEncoder muxes raw RGBA frames and float32 PCM into a streamable
// container via an FFmpeg child process. Video arrives on pipe:3, audio on
// pipe:4, the container is read back from stdout.
type ffmpegEncoder struct {
	cmd    *exec.Cmd
	videoW *os.File
	audioW *os.File

	stderrBuf strings.Builder
	mime      string
}

func (e *ffmpegEncoder) Start(opts Options) (<-chan []byte, error) {
	videoR, videoW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create video pipe: %w", err)
	}

	args := []string{
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"-framerate", fmt.Sprintf("%d", opts.FPS),
		"-i", "pipe:3",
	}
	extra := []*os.File{videoR}

	var audioR, audioW *os.File
	if opts.AudioRate > 0 {
		audioR, audioW, err = os.Pipe()
		if err != nil {
			videoR.Close()
			videoW.Close()
			return nil, fmt.Errorf("failed to create audio pipe: %w", err)
		}
		args = append(args,
			"-f", "f32le",
			"-ar", fmt.Sprintf("%d", opts.AudioRate),
			"-ac", "1",
			"-i", "pipe:4",
		)
		extra = append(extra, audioR)
	}

	switch opts.Format {
	case "matroska":
		args = append(args, "-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p")
		if opts.AudioRate > 0 {
			args = append(args, "-c:a", "aac")
		}
		args = append(args, "-f", "matroska")
		e.mime = "video/x-matroska"
	default: // webm
		args = append(args, "-c:v", "libvpx-vp9", "-deadline", "realtime", "-b:v", "2M")
		if opts.AudioRate > 0 {
			args = append(args, "-c:a", "libopus")
		}
		args = append(args, "-f", "webm")
		e.mime = "video/webm"
	}
	args = append(args, "pipe:1")

	slog.Debug("starting encoder", "command", "ffmpeg "+strings.Join(args, " "))

	cmd := exec.Command("ffmpeg", args...)
	cmd.ExtraFiles = extra

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		closeAll(videoR, videoW, audioR, audioW)
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		closeAll(videoR, videoW, audioR, audioW)
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		closeAll(videoR, videoW, audioR, audioW)
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	// Child holds its own copies of the read ends.
	videoR.Close()
	if audioR != nil {
		audioR.Close()
	}

	e.cmd = cmd
	e.videoW = videoW
	e.audioW = audioW

	go e.readStderr(stderr)

	out := make(chan []byte, 8)
	go e.readOutput(stdout, out)
	return out, nil
}

// readOutput accumulates encoded bytes and flushes a chunk roughly once per
// chunkInterval, plus a final chunk at stream end.
func (e *ffmpegEncoder) readOutput(stdout io.Reader, out chan<- []byte) {
	defer close(out)

	buf := make([]byte, 64<<10)
	var cur []byte
	lastFlush := time.Now()

	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			cur = append(cur, buf[:n]...)
			if time.Since(lastFlush) >= chunkInterval {
				out <- cur
				cur = nil
				lastFlush = time.Now()
			}
		}
		if err != nil {
			if len(cur) > 0 {
				out <- cur
			}
			return
		}
	}
}

func (e *ffmpegEncoder) readStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		e.stderrBuf.WriteString(line + "\n")
		slog.Debug("ffmpeg output", "line", line)
	}
}

func (e *ffmpegEncoder) WriteVideo(frame []byte) error {
	if e.videoW == nil {
		return fmt.Errorf("encoder not started")
	}
	if _, err := e.videoW.Write(frame); err != nil {
		return fmt.Errorf("video write failed: %w", err)
	}
	return nil
}

func (e *ffmpegEncoder) WriteAudio(samples []float32) error {
	if e.audioW == nil {
		return fmt.Errorf("no audio track configured")
	}
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	if _, err := e.audioW.Write(buf); err != nil {
		return fmt.Errorf("audio write failed: %w", err)
	}
	return nil
}

// Finish signals end of input and waits for FFmpeg to flush and exit.
func (e *ffmpegEncoder) Finish() error {
	e.closeInputs()
	if e.cmd == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- e.cmd.Wait() }()

	select {
	case err := <-done:
		e.cmd = nil
		if err != nil {
			return fmt.Errorf("ffmpeg exited with error: %w (stderr: %s)", err, tail(e.stderrBuf.String(), 512))
		}
		return nil
	case <-time.After(finishTimeout):
		slog.Warn("ffmpeg did not drain within timeout, killing")
		if e.cmd.Process != nil {
			e.cmd.Process.Kill()
		}
		<-done
		e.cmd = nil
		return fmt.Errorf("ffmpeg did not finish within %s", finishTimeout)
	}
}

// Abort kills the encoder immediately, discarding output.
func (e *ffmpegEncoder) Abort() error {
	e.closeInputs()
	if e.cmd == nil {
		return nil
	}

	if e.cmd.Process != nil {
		if err := e.cmd.Process.Signal(os.Interrupt); err != nil {
			e.cmd.Process.Kill()
		}
	}

	done := make(chan error, 1)
	go func() { done <- e.cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		if e.cmd.Process != nil {
			e.cmd.Process.Kill()
		}
		<-done
	}
	e.cmd = nil
	return nil
}

// closeInputs releases the encoder's own write ends. Only the video and
// audio pipes owned by this process are touched.
func (e *ffmpegEncoder) closeInputs() {
	if e.videoW != nil {
		e.videoW.Close()
		e.videoW = nil
	}
	if e.audioW != nil {
		e.audioW.Close()
		e.audioW = nil
	}
}

func (e *ffmpegEncoder) MIME() string { return e.mime }

func closeAll(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
