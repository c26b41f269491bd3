// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

// Package flags binds the shared command-line configuration surface of the
// ingester binaries through pflag and viper.
package flags

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	configFile = "config-file"
	logLevel   = "log-level"

	httpHostPort  = "ingest.http-host-port"
	grpcHostPort  = "ingest.grpc-host-port"
	adminHostPort = "admin.http-host-port"

	dataDir          = "storage.data-dir"
	metaDir          = "storage.meta-dir"
	walFlushInterval = "storage.wal.flush-interval"
	walSegmentSize   = "storage.wal.segment-size"
)

// SharedFlags holds the configuration common to every binary.
type SharedFlags struct {
	Logging logging
}

type logging struct {
	Level string
}

// IngesterFlags holds the ingester's listen addresses and storage layout.
type IngesterFlags struct {
	HTTPHostPort  string
	GRPCHostPort  string
	AdminHostPort string

	DataDir          string
	MetaDir          string
	WALFlushInterval time.Duration
	WALSegmentSize   int64
}

// AddFlags registers the shared flags.
func AddFlags(flagSet *pflag.FlagSet) {
	flagSet.String(configFile, "", "Configuration file in JSON, TOML, YAML or properties format")
	flagSet.String(logLevel, "info", "Minimal allowed log level, e.g. debug, info, warn")
}

// TryLoadConfigFile reads the configured config file into viper, if one was
// given.
func TryLoadConfigFile(v *viper.Viper) error {
	if file := v.GetString(configFile); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("cannot load config file %s: %w", file, err)
		}
	}
	return nil
}

// AddIngesterFlags registers the ingester flags.
func AddIngesterFlags(flagSet *pflag.FlagSet) {
	flagSet.String(httpHostPort, ":5080", "The host:port of the OTLP HTTP ingestion endpoint")
	flagSet.String(grpcHostPort, ":5081", "The host:port of the OTLP gRPC ingestion endpoint")
	flagSet.String(adminHostPort, ":5090", "The host:port of the admin server (health check, metrics)")
	flagSet.String(dataDir, "./data/wal", "The directory holding write-ahead log segments")
	flagSet.String(metaDir, "./data/meta", "The directory holding the stream metadata store")
	flagSet.Duration(walFlushInterval, time.Second, "How often buffered WAL data is flushed to disk")
	flagSet.Int64(walSegmentSize, 128*1024*1024, "The maximum size in bytes of one WAL segment file")
}

// InitFromViper initializes the shared flags from viper.
func (f *SharedFlags) InitFromViper(v *viper.Viper) *SharedFlags {
	f.Logging.Level = v.GetString(logLevel)
	return f
}

// InitFromViper initializes the ingester flags from viper.
func (f *IngesterFlags) InitFromViper(v *viper.Viper) *IngesterFlags {
	f.HTTPHostPort = v.GetString(httpHostPort)
	f.GRPCHostPort = v.GetString(grpcHostPort)
	f.AdminHostPort = v.GetString(adminHostPort)
	f.DataDir = v.GetString(dataDir)
	f.MetaDir = v.GetString(metaDir)
	f.WALFlushInterval = v.GetDuration(walFlushInterval)
	f.WALSegmentSize = v.GetInt64(walSegmentSize)
	return f
}

// NewLogger builds a zap logger from the configured level.
func (f *SharedFlags) NewLogger(conf zap.Config, options ...zap.Option) (*zap.Logger, error) {
	var level zapcore.Level
	if err := (&level).UnmarshalText([]byte(f.Logging.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", f.Logging.Level, err)
	}
	conf.Level = zap.NewAtomicLevelAt(level)
	return conf.Build(options...)
}

// SetupFlags wires a set of flag-registration functions into the command and
// binds the resulting flag set to viper, so values resolve from CLI flags
// and environment alike.
func SetupFlags(v *viper.Viper, command *cobra.Command, inits ...func(*pflag.FlagSet)) error {
	flagSet := new(pflag.FlagSet)
	for _, init := range inits {
		init(flagSet)
	}
	command.PersistentFlags().AddFlagSet(flagSet)
	v.AutomaticEnv()
	return v.BindPFlags(command.PersistentFlags())
}
