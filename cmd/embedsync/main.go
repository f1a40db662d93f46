package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MereWhiplash/embedsync/internal/app"
	"github.com/MereWhiplash/embedsync/internal/config"
)

// version is set by goreleaser via ldflags
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCMD().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type globals struct {
	cfgPath string
	mode    string
}

func rootCMD() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:           "embedsync",
		Short:         "Keep post and message embeddings in sync with their content",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&g.cfgPath, "config", "c", "", "config file (default: ./embedsync.yaml if present)")
	root.PersistentFlags().StringVar(&g.mode, "mode", "", "sync mode override: replace or hash")

	root.AddCommand(syncCMD(g), searchCMD(g), countCMD(g), importCMD(g), migrateCMD(g))
	return root
}

func (g *globals) load() (*config.Config, error) {
	cfg, err := config.Load(g.cfgPath)
	if err != nil {
		return nil, err
	}
	if g.mode != "" {
		cfg.Sync.Mode = g.mode
	}
	return cfg, nil
}

// open loads configuration, applies tweak when set and wires the full service
func (g *globals) open(cmd *cobra.Command, tweak func(*config.Config)) (*app.App, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, err
	}
	if tweak != nil {
		tweak(cfg)
	}
	logger := config.NewLogger(cfg.Log, cmd.ErrOrStderr())
	return app.New(cmd.Context(), cfg, logger)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
