// Command ambienced runs the generative ambience engine: it loads a
// workspace document, decodes its sound files, and drives a mixer that
// streams a mixed PCM feed to a remote voice client over WebTransport while
// serving the HTTP control plane of spec §6.
//
// Flag parsing and the overall flags-then-JSON-file shutdown flow follow
// the bken server's own main.go; the control plane follows its
// internal/httpapi package.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MomoPewpew/Orpheus/internal/config"
	"github.com/MomoPewpew/Orpheus/internal/httpapi"
	"github.com/MomoPewpew/Orpheus/internal/mixer"
	"github.com/MomoPewpew/Orpheus/internal/persist"
	"github.com/MomoPewpew/Orpheus/internal/reconcile"
	"github.com/MomoPewpew/Orpheus/internal/registry"
	"github.com/MomoPewpew/Orpheus/internal/transport"
)

func main() {
	cfg, err := config.Load(flag.CommandLine, os.Args[1:], "ambienced.json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	voiceAddr := flag.Arg(0)
	if voiceAddr == "" {
		logger.Error("a voice-server address is required", "usage", "ambienced [flags] <voice-server-addr>")
		os.Exit(1)
	}

	store := persist.New(cfg.WorkspacePath, logger)
	state, err := store.Load()
	if err != nil {
		logger.Error("failed to load workspace", "error", err)
		os.Exit(1)
	}

	reg := registry.New()
	for _, sf := range state.SoundFiles {
		if err := reg.Load(sf.ID, sf.Name, sf.Path); err != nil {
			logger.Warn("sound file failed to decode, will play as silence", "id", sf.ID, "path", sf.Path, "error", err)
		}
	}

	adapter, err := transport.NewWebTransportAdapter(voiceAddr, mixer.SampleRate, mixer.Channels, mixer.ChunkSamples, mixer.TargetBufferChunks*2)
	if err != nil {
		logger.Error("failed to build voice transport", "error", err)
		os.Exit(1)
	}

	m := mixer.New(reg.Lookup, adapter, logger)
	reconciler := reconcile.New(m, logger)
	reconciler.Reconcile(state)

	api := httpapi.New(m, reconciler, store, state, logger)

	if _, err := store.Watch(func() {
		reloaded, err := store.Load()
		if err != nil {
			logger.Error("hot-reload: failed to reload workspace", "error", err)
			return
		}
		logger.Info("hot-reload: workspace file changed on disk, reconciling")
		reconciler.Reconcile(reloaded)
	}); err != nil {
		logger.Warn("hot-reload watch unavailable", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("ambienced listening", "addr", cfg.ListenAddr, "voice_server", voiceAddr, "workspace", cfg.WorkspacePath)
	if err := api.Run(ctx, cfg.ListenAddr); err != nil {
		logger.Error("http server exited with error", "error", err)
	}

	m.Stop()
	logger.Info("ambienced stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
