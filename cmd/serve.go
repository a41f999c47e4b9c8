package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/wavescope/internal/analyzer"
	"github.com/audiolibrelab/wavescope/internal/forward"
	"github.com/audiolibrelab/wavescope/internal/pipeline"
	"github.com/audiolibrelab/wavescope/internal/render"
	"github.com/audiolibrelab/wavescope/internal/sink"
	"github.com/audiolibrelab/wavescope/internal/source"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a live session mirrored to secondary displays",
	Long: `Capture the configured audio input and mirror per-frame analysis data to
secondary presentation surfaces over websockets. Visualization pages on any
device on the network can subscribe to /ws and render the stream.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		if listen == "" {
			listen = cfg.Forward.Listen
		}

		a, err := analyzer.New(cfg.Analysis.FFTSize)
		if err != nil {
			return err
		}

		r, err := render.New(cfg.Renderer.Name)
		if err != nil {
			return err
		}

		hub := forward.NewHub()
		defer hub.Close()

		session := &pipeline.Session{
			FPS:      cfg.Video.FPS,
			Format:   cfg.Output.Format,
			Analyzer: a,
			Renderer: r,
			Options:  render.Options(cfg.Renderer.Options),
			Surface:  render.NewSurface(cfg.Video.Width, cfg.Video.Height),
			Sink:     sink.New(),
			Mirror:   hub,
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

		mux := http.NewServeMux()
		mux.HandleFunc("/ws", hub.Handle)
		srv := &http.Server{Addr: listen, Handler: mux}

		go func() {
			slog.Info("display mirror listening", "addr", listen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("mirror server failed", "error", err)
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		slog.Info("shutting down")
		return srv.Shutdown(context.Background())
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "listen address for the mirror server (overrides config)")
}
