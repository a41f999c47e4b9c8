package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/wavescope/internal/analyzer"
	"github.com/audiolibrelab/wavescope/internal/pipeline"
	"github.com/audiolibrelab/wavescope/internal/render"
	"github.com/audiolibrelab/wavescope/internal/sink"
	"github.com/audiolibrelab/wavescope/internal/source"
)

var recordCmd = &cobra.Command{
	Use:   "record [name]",
	Short: "Record a live microphone visualization",
	Long: `Capture the configured audio input device, render the visualization
continuously, and record surface plus audio into a video file until
interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		slog.Info("record command started", "name", name)

		a, err := analyzer.New(cfg.Analysis.FFTSize)
		if err != nil {
			return err
		}

		r, err := render.New(cfg.Renderer.Name)
		if err != nil {
			return err
		}

		session := &pipeline.Session{
			FPS:      cfg.Video.FPS,
			Format:   cfg.Output.Format,
			Analyzer: a,
			Renderer: r,
			Options:  render.Options(cfg.Renderer.Options),
			Surface:  render.NewSurface(cfg.Video.Width, cfg.Video.Height),
			Sink:     sink.New(),
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := session.Start(ctx); err != nil {
			return err
		}
		defer session.Close()

		mic, err := source.NewCapture(cfg.Capture.Format, cfg.Capture.Device, cfg.Capture.SampleRate)
		if err != nil {
			return fmt.Errorf("failed to open audio input: %w", err)
		}
		defer mic.Close()

		if err := session.Connect(mic); err != nil {
			return err
		}
		if err := session.Record(); err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}

		slog.Info("recording... press Ctrl+C to stop")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		start := time.Now()
	wait:
		for {
			select {
			case <-sigChan:
				break wait
			case <-ticker.C:
				if err := session.Err(); err != nil {
					return err
				}
				fmt.Printf("\rRecording... %s", time.Since(start).Round(time.Second))
			}
		}
		fmt.Println()
		slog.Info("stopping recording...")

		out, err := session.StopRecording()
		if err != nil {
			return fmt.Errorf("failed to stop recording: %w", err)
		}

		ext := ".webm"
		if out.MIME == "video/x-matroska" {
			ext = ".mkv"
		}
		outPath := filepath.Join(cfg.Output.Directory, cleanFileName(name)+ext)
		if err := saveOutput(out.Data, outPath); err != nil {
			return err
		}

		slog.Info("recording saved", "file", outPath, "bytes", len(out.Data))
		return nil
	},
}
