// Command ambienced-monitor runs the mixer against the local sound card
// instead of a live voice transport, for an operator auditioning a
// workspace's ambience without a remote party connected. It serves the same
// control plane as cmd/ambienced so the normal web UI can drive it.
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
	cfg, err := config.Load(flag.CommandLine, os.Args[1:], "ambienced-monitor.json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

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

	adapter, err := transport.NewLocalAdapter(float64(mixer.SampleRate), mixer.Channels, mixer.ChunkSamples, mixer.TargetBufferChunks*2)
	if err != nil {
		logger.Error("failed to open local audio output", "error", err)
		os.Exit(1)
	}

	m := mixer.New(reg.Lookup, adapter, logger)
	reconciler := reconcile.New(m, logger)
	reconciler.Reconcile(state)

	api := httpapi.New(m, reconciler, store, state, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("ambienced-monitor listening", "addr", cfg.ListenAddr, "workspace", cfg.WorkspacePath)
	if err := api.Run(ctx, cfg.ListenAddr); err != nil {
		logger.Error("http server exited with error", "error", err)
	}

	m.Stop()
	logger.Info("ambienced-monitor stopped")
}
