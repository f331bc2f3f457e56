package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Wyydra/yacall/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesFile(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	path := filepath.Join(t.TempDir(), "yacall.log")
	closer, err := Setup(config.LoggingConfig{Level: "warn", File: path, MaxSizeMB: 1, MaxBackups: 1})
	require.NoError(t, err)

	log.Info().Msg("hidden")
	log.Warn().Str("room_id", "42").Msg("visible")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"room_id":"42"`)
	assert.Contains(t, string(data), "visible")
	assert.NotContains(t, string(data), "hidden")
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	_, err := Setup(config.LoggingConfig{Level: "chatty"})
	assert.Error(t, err)
}
