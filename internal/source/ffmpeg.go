package source

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// fallbackSampleRate is used when FFmpeg resamples formats we cannot decode
// natively.
const fallbackSampleRate = 44100

// decodeWithFFmpeg shells out to FFmpeg to decode any supported container to
// raw mono float32 PCM.
func decodeWithFFmpeg(path string, sampleRate int) (*Buffer, error) {
	out := &bytes.Buffer{}

	err := ffmpeg.Input(path).
		Output("pipe:", ffmpeg.KwArgs{
			"f":        "f32le",
			"acodec":   "pcm_f32le",
			"ar":       strconv.Itoa(sampleRate),
			"ac":       "1",
			"loglevel": "error",
		}).
		WithOutput(out).
		Run()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w", path, err)
	}

	raw := out.Bytes()
	// Trim any trailing partial sample.
	raw = raw[:len(raw)/4*4]
	if len(raw) == 0 {
		return nil, ErrEmptyAudio
	}

	samples := make([]float32, len(raw)/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
		samples[i] = math.Float32frombits(bits)
	}

	return &Buffer{Samples: samples, SampleRate: sampleRate}, nil
}
