package kvguard

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigRoundtrip(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Replicas = map[string]string{"r0": "http://localhost:8080"}
	cfg.Keys = 7

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, cfg.Save(path))

	var got Config
	require.NoError(t, got.Load(path))
	require.Equal(t, cfg, got)
}

func TestConfigDurations(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	require.Equal(t, 60*time.Second, cfg.Duration())
	require.Equal(t, time.Second, cfg.Timeout())
	require.Equal(t, 2*time.Second, cfg.PollInterval())
}
