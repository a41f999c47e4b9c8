package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/wavescope/internal/analyzer"
	"github.com/audiolibrelab/wavescope/internal/pipeline"
	"github.com/audiolibrelab/wavescope/internal/render"
	"github.com/audiolibrelab/wavescope/internal/sink"
)

var convertCmd = &cobra.Command{
	Use:   "convert [audio-file]",
	Short: "Convert an audio file to a visualization video",
	Long: `Decode a complete audio file, render one visualization frame per video
frame against a virtual clock, and encode frames plus audio into a video
file. No real-time playback is involved; progress is reported as it runs.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := args[0]

		rendererName, _ := cmd.Flags().GetString("renderer")
		if rendererName == "" {
			rendererName = cfg.Renderer.Name
		}
		outPath, _ := cmd.Flags().GetString("output")

		a, err := analyzer.New(cfg.Analysis.FFTSize)
		if err != nil {
			return err
		}
		defer a.Destroy()

		r, err := render.New(rendererName)
		if err != nil {
			return err
		}

		conv := &pipeline.Converter{
			FPS:      cfg.Video.FPS,
			Format:   cfg.Output.Format,
			Analyzer: a,
			Renderer: r,
			Options:  render.Options(cfg.Renderer.Options),
			Surface:  render.NewSurface(cfg.Video.Width, cfg.Video.Height),
			Sink:     sink.New(),
			Progress: func(fraction float64) {
				fmt.Printf("\rConverting... %3.0f%%", fraction*100)
			},
		}

		// Ctrl+C cancels the job; partial output is discarded.
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		out, err := conv.Convert(ctx, input)
		fmt.Println()
		if err != nil {
			return err
		}

		if outPath == "" {
			outPath = defaultOutputPath(input, out.MIME)
		}
		if err := saveOutput(out.Data, outPath); err != nil {
			return err
		}

		slog.Info("video saved", "file", outPath, "bytes", len(out.Data))
		return nil
	},
}

func init() {
	convertCmd.Flags().StringP("output", "o", "", "output file (default derives from the input name)")
	convertCmd.Flags().StringP("renderer", "r", "", "renderer to use (overrides config)")
}

// saveOutput is the shell save boundary: one contiguous byte buffer plus a
// suggested filename.
func saveOutput(data []byte, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to save output: %w", err)
	}
	return nil
}

func defaultOutputPath(input, mime string) string {
	ext := ".webm"
	if mime == "video/x-matroska" {
		ext = ".mkv"
	}
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(cfg.Output.Directory, cleanFileName(base)+ext)
}

// cleanFileName sanitizes a filename.
// Allows: letters, numbers, spaces, hyphens, underscores.
func cleanFileName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(result.String()), " ", "_")
}
