// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/lodestone-obs/lodestone/internal/alerts"
	"github.com/lodestone-obs/lodestone/internal/flags"
	"github.com/lodestone-obs/lodestone/internal/healthcheck"
	"github.com/lodestone-obs/lodestone/internal/ingest"
	"github.com/lodestone-obs/lodestone/internal/partition"
	"github.com/lodestone-obs/lodestone/internal/pipeline"
	"github.com/lodestone-obs/lodestone/internal/recoveryhandler"
	"github.com/lodestone-obs/lodestone/internal/schema"
	"github.com/lodestone-obs/lodestone/internal/usage"
	"github.com/lodestone-obs/lodestone/internal/wal"
)

func main() {
	signalsChannel := make(chan os.Signal, 1)
	signal.Notify(signalsChannel, os.Interrupt, syscall.SIGTERM)

	v := viper.New()
	command := &cobra.Command{
		Use:   "lodestone-ingester",
		Short: "Lodestone ingester receives OTLP metrics and writes them to the WAL",
		Long:  `Lodestone ingester exposes OTLP/HTTP and OTLP/gRPC metrics endpoints, flattens incoming data points into stream records, and commits them durably to per-stream write-ahead logs.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := flags.TryLoadConfigFile(v); err != nil {
				return err
			}

			sFlags := new(flags.SharedFlags).InitFromViper(v)
			logger, err := sFlags.NewLogger(zap.NewProductionConfig())
			if err != nil {
				return err
			}
			defer logger.Sync()

			iFlags := new(flags.IngesterFlags).InitFromViper(v)
			return runIngester(logger, iFlags, signalsChannel)
		},
	}

	if err := flags.SetupFlags(v, command,
		flags.AddFlags,
		flags.AddIngesterFlags,
	); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := command.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runIngester(logger *zap.Logger, f *flags.IngesterFlags, signals chan os.Signal) error {
	hc := healthcheck.New(logger)

	db, err := badger.Open(badger.DefaultOptions(f.MetaDir).WithLogger(nil))
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer db.Close()

	store := schema.NewBadgerStore(db)
	walManager := wal.NewManager(f.DataDir, f.WALFlushInterval, f.WALSegmentSize, logger)
	defer walManager.Close()

	service := ingest.NewService(ingest.Params{
		Logger:     logger,
		Schemas:    schema.NewCoordinator(store, logger),
		Partitions: partition.NewResolver(store, logger),
		Pipelines:  pipeline.NewStoreRegistry(store, logger),
		AlertStore: alerts.NewBadgerStore(db),
		Notifier:   alerts.NewLogNotifier(logger),
		WAL:        walManager,
		Usage:      usage.NewLogReporter(logger),
	})

	router := mux.NewRouter()
	ingest.NewAPIHandler(service, logger).RegisterRoutes(router)
	recovery := recoveryhandler.NewRecoveryHandler(logger, true)
	httpServer := &http.Server{
		Addr:              f.HTTPHostPort,
		Handler:           recovery(router),
		ReadHeaderTimeout: 2 * time.Second,
	}
	go func() {
		logger.Info("Starting HTTP ingestion server", zap.String("addr", f.HTTPHostPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	grpcListener, err := net.Listen("tcp", f.GRPCHostPort)
	if err != nil {
		return fmt.Errorf("listen on gRPC port: %w", err)
	}
	grpcServer := grpc.NewServer()
	ingest.NewGRPCHandler(service, logger).Register(grpcServer)
	go func() {
		logger.Info("Starting gRPC ingestion server", zap.String("addr", f.GRPCHostPort))
		if err := grpcServer.Serve(grpcListener); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	adminMux := http.NewServeMux()
	adminMux.Handle("/", hc.Handler())
	adminMux.Handle("/metrics", promhttp.Handler())
	adminServer := &http.Server{
		Addr:              f.AdminHostPort,
		Handler:           adminMux,
		ReadHeaderTimeout: 2 * time.Second,
	}
	go func() {
		logger.Info("Starting admin server", zap.String("addr", f.AdminHostPort))
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Admin server failed", zap.Error(err))
		}
	}()

	hc.Ready()
	<-signals
	logger.Info("Shutting down")
	hc.Set(http.StatusServiceUnavailable)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Failed to stop HTTP server", zap.Error(err))
	}
	grpcServer.GracefulStop()
	if err := adminServer.Shutdown(ctx); err != nil {
		logger.Error("Failed to stop admin server", zap.Error(err))
	}
	logger.Info("Shutdown complete")
	return nil
}
