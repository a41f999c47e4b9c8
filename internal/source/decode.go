package source

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

// Decoder turns an input reader into a fully decoded Buffer.
type Decoder interface {
	Decode(r io.ReadSeeker) (*Buffer, error)
}

// Registry maps file extensions (without the dot) to decoders.
type Registry struct {
	mtx    sync.Mutex
	codecs map[string]Decoder
}

func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Decoder)}
}

func (r *Registry) Register(ext string, d Decoder) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.codecs[strings.ToLower(ext)] = d
}

func (r *Registry) Get(ext string) (Decoder, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	d, ok := r.codecs[strings.ToLower(ext)]
	return d, ok
}

var defaultRegistry = NewRegistry()

func init() {
	defaultRegistry.Register("wav", WAVDecoder{})
	defaultRegistry.Register("mp3", MP3Decoder{})
	defaultRegistry.Register("ogg", OggDecoder{})
	defaultRegistry.Register("oga", OggDecoder{})
}

// DecodeFile fully decodes an audio file into a mono Buffer. Formats with a
// registered native decoder are handled in-process; anything else falls back
// to an FFmpeg decode subprocess.
func DecodeFile(path string) (*Buffer, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")

	dec, ok := defaultRegistry.Get(ext)
	if !ok {
		slog.Debug("no native decoder, falling back to ffmpeg", "ext", ext, "path", path)
		buf, err := decodeWithFFmpeg(path, fallbackSampleRate)
		if err != nil {
			if errors.Is(err, ErrEmptyAudio) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
		}
		return buf, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	buf, err := dec.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if len(buf.Samples) == 0 {
		return nil, ErrEmptyAudio
	}
	return buf, nil
}

// WAVDecoder decodes PCM WAV files.
type WAVDecoder struct{}

func (WAVDecoder) Decode(r io.ReadSeeker) (*Buffer, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("not a valid wav file")
	}

	pcm, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wav read failed: %w", err)
	}

	bits := pcm.SourceBitDepth
	if bits == 0 {
		bits = int(d.BitDepth)
	}
	if bits == 0 {
		bits = 16
	}
	scale := float32(int64(1) << (bits - 1))

	interleaved := make([]float32, len(pcm.Data))
	for i, v := range pcm.Data {
		interleaved[i] = float32(v) / scale
	}

	return &Buffer{
		Samples:    downmix(interleaved, pcm.Format.NumChannels),
		SampleRate: pcm.Format.SampleRate,
	}, nil
}

// MP3Decoder decodes MPEG layer 3 files. go-mp3 always yields 16-bit
// little-endian stereo PCM.
type MP3Decoder struct{}

func (MP3Decoder) Decode(r io.ReadSeeker) (*Buffer, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("mp3 open failed: %w", err)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("mp3 read failed: %w", err)
	}

	frames := len(raw) / 4
	interleaved := make([]float32, frames*2)
	for i := 0; i < frames*2; i++ {
		v := int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
		interleaved[i] = float32(v) / 32768.0
	}

	return &Buffer{
		Samples:    downmix(interleaved, 2),
		SampleRate: dec.SampleRate(),
	}, nil
}

// OggDecoder decodes Ogg Vorbis files.
type OggDecoder struct{}

func (OggDecoder) Decode(r io.ReadSeeker) (*Buffer, error) {
	data, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("vorbis read failed: %w", err)
	}

	return &Buffer{
		Samples:    downmix(data, format.Channels),
		SampleRate: format.SampleRate,
	}, nil
}
