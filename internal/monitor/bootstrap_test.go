package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bootstrapYAML = `monitors:
  - id: live-1
    start: false
    config:
      stale_limit_ms: 5000
      scte35: true
      webhooks:
        - url: https://hooks.example.com/hls
          events: [StaleManifest, FetchError]
          secret: hunter2
    streams:
      - url: http://origin/master.m3u8
        id: main
`

func writeBootstrap(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "monitors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadBootstrapFile(t *testing.T) {
	bf, err := LoadBootstrapFile(writeBootstrap(t, bootstrapYAML))
	require.NoError(t, err)
	require.Len(t, bf.Monitors, 1)

	bm := bf.Monitors[0]
	assert.Equal(t, "live-1", bm.ID)
	assert.False(t, bm.Start)

	cfg := bm.Config.ToConfig()
	assert.Equal(t, 5*time.Second, cfg.StaleLimit)
	assert.True(t, cfg.SCTE35)
	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, []Kind{KindStaleManifest, KindFetchError}, cfg.Webhooks[0].Events)
	assert.Equal(t, "hunter2", cfg.Webhooks[0].Secret)
}

func TestLoadBootstrapFile_rejects_unknown_fields(t *testing.T) {
	_, err := LoadBootstrapFile(writeBootstrap(t, "monitors:\n  - id: x\n    bogus: true\n"))
	require.Error(t, err)
}

func TestBootstrapFile_apply(t *testing.T) {
	f := newFakeFetcher()
	r := NewRegistry(f, testLogger(), nil)
	t.Cleanup(r.DeleteAll)

	bf, err := LoadBootstrapFile(writeBootstrap(t, bootstrapYAML))
	require.NoError(t, err)
	require.NoError(t, bf.Apply(r))

	mon, err := r.Get("live-1")
	require.NoError(t, err)
	require.Len(t, mon.Streams(), 1)
	assert.Equal(t, "main", mon.Streams()[0].ID)
	assert.Equal(t, StateIdle, mon.State())
}
