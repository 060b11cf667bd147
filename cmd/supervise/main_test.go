//go:build linux

package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/LovationAdmin/fleet-api/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ecosystem.yml")
	require.NoError(t, os.WriteFile(path, []byte("apps:\n  - name: api\n    script: ./api\n    max_memory_restart: 200M\n"), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"validate", "--config", path})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "✅ api: ./api (memory limit 200 MiB)\n", out.String())

	bad := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("apps:\n  - name: api\n"), 0o644))
	rootCmd.SetArgs([]string{"validate", "--config", bad})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "script is required")
}

func TestServeMetrics(t *testing.T) {
	metrics.ProcessRestarts.WithLabelValues("fleet-api", "exit").Inc()

	ctx, cancel := context.WithCancel(context.Background())
	addr, err := serveMetrics(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `app="fleet-api"`)

	cancel()
	assert.Eventually(t, func() bool {
		_, err := http.Get("http://" + addr.String() + "/metrics")
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)
}
