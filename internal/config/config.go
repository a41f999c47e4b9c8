package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

type Config struct {
	Video    VideoConfig    `mapstructure:"video" yaml:"video"`
	Analysis AnalysisConfig `mapstructure:"analysis" yaml:"analysis"`
	Renderer RendererConfig `mapstructure:"renderer" yaml:"renderer"`
	Capture  CaptureConfig  `mapstructure:"capture" yaml:"capture"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output"`
	Forward  ForwardConfig  `mapstructure:"forward" yaml:"forward"`
}

type VideoConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
	FPS    int `mapstructure:"fps" yaml:"fps"`
}

type AnalysisConfig struct {
	FFTSize int `mapstructure:"fft_size" yaml:"fft_size"`
}

type RendererConfig struct {
	Name    string         `mapstructure:"name" yaml:"name"`
	Options map[string]any `mapstructure:"options" yaml:"options"`
}

type CaptureConfig struct {
	// Format is the FFmpeg device input format: "pulse" or "alsa".
	Format     string `mapstructure:"format" yaml:"format"`
	Device     string `mapstructure:"device" yaml:"device"`
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
	// Format is the container family: "webm" or "matroska".
	Format string `mapstructure:"format" yaml:"format"`
}

type ForwardConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

var defaultConfig = Config{
	Video:    VideoConfig{Width: 1280, Height: 720, FPS: 30},
	Analysis: AnalysisConfig{FFTSize: 2048},
	Renderer: RendererConfig{Name: "bars"},
	Capture:  CaptureConfig{Format: "pulse", Device: "default", SampleRate: 44100},
	Output: OutputConfig{
		Directory: filepath.Join(os.Getenv("HOME"), "Videos", "WaveScope"),
		Format:    "webm",
	},
	Forward: ForwardConfig{Listen: ":8090"},
}

// Default returns a copy of the built-in configuration.
func Default() *Config {
	cfg := defaultConfig
	return &cfg
}

// Load reads the config file at path, falling back to built-in defaults for
// anything unset. A missing file is not an error; it yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, missing := err.(viper.ConfigFileNotFoundError); !missing && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("video.width", defaultConfig.Video.Width)
	v.SetDefault("video.height", defaultConfig.Video.Height)
	v.SetDefault("video.fps", defaultConfig.Video.FPS)
	v.SetDefault("analysis.fft_size", defaultConfig.Analysis.FFTSize)
	v.SetDefault("renderer.name", defaultConfig.Renderer.Name)
	v.SetDefault("capture.format", defaultConfig.Capture.Format)
	v.SetDefault("capture.device", defaultConfig.Capture.Device)
	v.SetDefault("capture.sample_rate", defaultConfig.Capture.SampleRate)
	v.SetDefault("output.directory", defaultConfig.Output.Directory)
	v.SetDefault("output.format", defaultConfig.Output.Format)
	v.SetDefault("forward.listen", defaultConfig.Forward.Listen)
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Video.Width <= 0 || c.Video.Height <= 0 {
		return fmt.Errorf("video dimensions must be positive, got %dx%d", c.Video.Width, c.Video.Height)
	}
	if c.Video.Width%2 != 0 || c.Video.Height%2 != 0 {
		// Encoders require even dimensions for chroma subsampling.
		return fmt.Errorf("video dimensions must be even, got %dx%d", c.Video.Width, c.Video.Height)
	}
	if c.Video.FPS < 1 || c.Video.FPS > 240 {
		return fmt.Errorf("fps must be in [1, 240], got %d", c.Video.FPS)
	}
	if c.Analysis.FFTSize < 32 || c.Analysis.FFTSize > 32768 || c.Analysis.FFTSize&(c.Analysis.FFTSize-1) != 0 {
		return fmt.Errorf("fft_size must be a power of two in [32, 32768], got %d", c.Analysis.FFTSize)
	}
	if c.Renderer.Name == "" {
		return fmt.Errorf("renderer name is required")
	}
	switch c.Output.Format {
	case "webm", "matroska":
	default:
		return fmt.Errorf("output format must be webm or matroska, got %q", c.Output.Format)
	}
	switch c.Capture.Format {
	case "pulse", "alsa":
	default:
		return fmt.Errorf("capture format must be pulse or alsa, got %q", c.Capture.Format)
	}
	if c.Capture.SampleRate <= 0 {
		return fmt.Errorf("capture sample_rate must be positive, got %d", c.Capture.SampleRate)
	}
	return nil
}
