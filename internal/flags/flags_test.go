// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

package flags

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func setup(t *testing.T, args ...string) *viper.Viper {
	t.Helper()
	v := viper.New()
	command := &cobra.Command{}
	require.NoError(t, SetupFlags(v, command, AddFlags, AddIngesterFlags))
	require.NoError(t, command.ParseFlags(args))
	return v
}

func TestSharedFlagsDefaults(t *testing.T) {
	v := setup(t)
	f := new(SharedFlags).InitFromViper(v)
	assert.Equal(t, "info", f.Logging.Level)
}

func TestIngesterFlags(t *testing.T) {
	v := setup(t,
		"--ingest.http-host-port=:9999",
		"--storage.wal.flush-interval=5s",
	)
	f := new(IngesterFlags).InitFromViper(v)
	assert.Equal(t, ":9999", f.HTTPHostPort)
	assert.Equal(t, 5*time.Second, f.WALFlushInterval)
	assert.Equal(t, ":5081", f.GRPCHostPort)
	assert.Equal(t, int64(128*1024*1024), f.WALSegmentSize)
}

func TestNewLogger(t *testing.T) {
	f := &SharedFlags{Logging: logging{Level: "warn"}}
	logger, err := f.NewLogger(zap.NewProductionConfig())
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestNewLoggerBadLevel(t *testing.T) {
	f := &SharedFlags{Logging: logging{Level: "nonsense"}}
	_, err := f.NewLogger(zap.NewProductionConfig())
	require.ErrorContains(t, err, "invalid log level")
}

func TestTryLoadConfigFileMissing(t *testing.T) {
	v := setup(t)
	require.NoError(t, TryLoadConfigFile(v))

	v.Set("config-file", "/does/not/exist.yaml")
	require.Error(t, TryLoadConfigFile(v))
}
