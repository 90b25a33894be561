// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quarry Contributors

package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quarry-dev/quarry/internal/bridge"
	"github.com/quarry-dev/quarry/internal/config"
	"github.com/quarry-dev/quarry/internal/embedding/openai"
	"github.com/quarry-dev/quarry/internal/ingest"
	minioos "github.com/quarry-dev/quarry/internal/objectstore/minio"
	"github.com/quarry-dev/quarry/internal/query"
	"github.com/quarry-dev/quarry/internal/server"
	"github.com/quarry-dev/quarry/internal/splitter"
	"github.com/quarry-dev/quarry/internal/store"
	"github.com/quarry-dev/quarry/internal/store/sqlite"
	quarryerr "github.com/quarry-dev/quarry/pkg/errors"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the quarry server",
		Long:  "Load configuration, initialize all subsystems, and start the HTTP server.",
		RunE:  runStart,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	_ = viper.BindPFlag("server.listen", cmd.Flags().Lookup("listen"))

	return cmd
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	// Apply any flag overrides that Viper resolved.
	if listen := viper.GetString("server.listen"); listen != "" {
		cfg.Server.Listen = listen
	}

	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	gateway, err := sqlite.New(cfg.Storage.Path, cfg.Storage.Collection, cfg.Storage.Dimensions)
	if err != nil {
		return quarryerr.Wrap(err, quarryerr.CodeCLISetupFailure, "opening vector store")
	}
	defer gateway.Close()

	pool, err := bridge.New(cfg.Bridge.Workers)
	if err != nil {
		return quarryerr.Wrap(err, quarryerr.CodeCLISetupFailure, "creating worker pool")
	}
	defer pool.Release()

	bridged := store.NewBridged(gateway, pool)

	objects, err := minioos.New(minioos.Config{
		Endpoint:  cfg.ObjectStore.Endpoint,
		AccessKey: cfg.ObjectStore.AccessKey,
		SecretKey: cfg.ObjectStore.SecretKey,
		UseSSL:    cfg.ObjectStore.UseSSL,
		Region:    cfg.ObjectStore.Region,
	})
	if err != nil {
		return quarryerr.Wrap(err, quarryerr.CodeCLISetupFailure, "connecting object store")
	}

	embedder, err := openai.New(openai.Config{
		APIKey:     cfg.Embeddings.APIKey,
		BaseURL:    cfg.Embeddings.BaseURL,
		Model:      cfg.Embeddings.Model,
		Dimensions: cfg.Embeddings.Dimensions,
		BatchSize:  cfg.Embeddings.BatchSize,
	})
	if err != nil {
		return quarryerr.Wrap(err, quarryerr.CodeCLISetupFailure, "creating embedding client")
	}

	split, err := splitter.New(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	if err != nil {
		return quarryerr.Wrap(err, quarryerr.CodeCLISetupFailure, "creating splitter")
	}

	ingestor := ingest.New(objects, split, embedder, bridged, logger)
	queries := query.New(embedder, bridged, logger)

	svc, err := server.NewServices(ingestor, queries, bridged)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		ListenAddr:  cfg.Server.Listen,
		CORSOrigins: cfg.Server.CORSOrigins,
	}, svc, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting quarry", "listen", cfg.Server.Listen, "collection", cfg.Storage.Collection)
	return srv.Start(ctx)
}
