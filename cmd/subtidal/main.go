// Command subtidal captions locally produced audio: it captures the system
// mixdown or one application's stream, runs local speech recognition, and
// feeds rolling caption lines to the overlay renderer.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/jslandau/subtidal/internal/app"
	"github.com/jslandau/subtidal/internal/audio"
	"github.com/jslandau/subtidal/internal/config"
	"github.com/jslandau/subtidal/internal/render"
	"github.com/jslandau/subtidal/internal/stt"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := pflag.String("config", "", "path to the configuration file (default: user config dir)")
	engineFlag := pflag.String("engine", "", "speech engine variant (overrides the configured one)")
	resetConfig := pflag.Bool("reset-config", false, "rewrite the configuration with defaults and exit")
	listSources := pflag.Bool("list-sources", false, "list capturable audio sources and exit")
	verbose := pflag.BoolP("verbose", "v", false, "enable debug logging")
	pflag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}
	log.SetDefault(logger)

	path := *configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			logger.Error("cannot resolve config path", "err", err)
			return 1
		}
	}

	if *resetConfig {
		if err := config.Save(path, config.Default()); err != nil {
			logger.Error("reset config failed", "err", err)
			return 1
		}
		logger.Info("configuration reset to defaults", "path", path)
		return 0
	}

	store, err := config.OpenStore(path, config.WithStoreLogger(logger))
	if err != nil {
		logger.Error("open configuration", "err", err)
		return 1
	}
	cfg := store.Current()

	// The CLI flag is strict (malformed CLI is fatal); the config value
	// falls back to the default with a warning.
	choice := stt.DefaultChoice
	switch {
	case *engineFlag != "":
		if choice, err = stt.ParseChoice(*engineFlag); err != nil {
			fmt.Fprintf(os.Stderr, "subtidal: %v\n", err)
			return 1
		}
	case cfg.Engine != "":
		if choice, err = stt.ParseChoice(cfg.Engine); err != nil {
			logger.Warn("configured engine unknown, using default",
				"engine", cfg.Engine, "default", stt.DefaultChoice)
			choice = stt.DefaultChoice
		}
	}

	if *listSources {
		return listCaptureSources(logger)
	}

	application, err := app.New(store, choice, app.WithLogger(logger))
	if err != nil {
		logger.Error("startup failed", "err", err)
		return 1
	}

	logger.Info("subtidal starting",
		"config", path,
		"engine", choice,
		"source", application.CurrentSource().String(),
		"mode", cfg.OverlayMode,
		"width", cfg.Appearance.Width,
		"max_lines", cfg.Appearance.MaxLines,
	)

	renderer := render.NewTerminal(os.Stdout, logger)
	rendererDone := make(chan struct{})
	go func() {
		defer close(rendererDone)
		renderer.Run(application.Commands(), application.Fragments())
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("captioning, press Ctrl+C to quit")
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("pipeline error", "err", err)
		<-rendererDone
		return 1
	}

	select {
	case <-rendererDone:
	case <-time.After(5 * time.Second):
		logger.Warn("renderer shutdown timeout")
	}
	logger.Info("goodbye")
	return 0
}

// listCaptureSources connects to the audio graph just long enough to print
// the node directory.
func listCaptureSources(logger *log.Logger) int {
	capture, err := audio.StartCapture(audio.SystemMix(), audio.WithLogger(logger))
	if err != nil {
		logger.Error("audio host unavailable", "err", err)
		return 1
	}
	defer func() {
		capture.Shutdown()
		_ = capture.Wait()
	}()

	fmt.Println("Capturable sources:")
	fmt.Println("  system mix (default)")
	for _, node := range capture.Nodes() {
		fmt.Printf("  [%d] %s (%s)\n", node.ID, node.Name, node.Kind)
	}
	return 0
}
