package server

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/INLOpen/nexuswal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppServer_StartStop(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{GRPCPort: 0},
		Debug: config.DebugConfig{
			Enabled:           true,
			ListenAddress:     "127.0.0.1:0",
			MetricsEnabled:    true,
			PrometheusEnabled: true,
		},
		SelfMonitoring: config.SelfMonitoringConfig{Enabled: true, Interval: "50ms"},
		Engine:         config.EngineConfig{DataDir: t.TempDir()},
	}
	appServer, err := NewAppServer(newFakeSource(t, "east"), cfg, testLogger())
	require.NoError(t, err)
	assert.Nil(t, appServer.GRPCAddr())
	require.NotNil(t, appServer.MetricsAddr())

	errCh := make(chan error, 1)
	go func() { errCh <- appServer.Start() }()

	url := fmt.Sprintf("http://%s/metrics/prom", appServer.MetricsAddr())
	assert.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	appServer.Stop()
	select {
	case err := <-errCh:
		assert.NoError(t, err, "Start should return nil on graceful shutdown")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the app server to stop")
	}
}

func TestAppServer_NothingConfigured(t *testing.T) {
	appServer, err := NewAppServer(newFakeSource(t, "east"), &config.Config{}, testLogger())
	require.NoError(t, err)
	assert.NoError(t, appServer.Start())
	assert.NotPanics(t, appServer.Stop)
}

func TestAppServer_BadDebugAddress(t *testing.T) {
	cfg := &config.Config{Debug: config.DebugConfig{Enabled: true, ListenAddress: "256.0.0.1:bad"}}
	_, err := NewAppServer(newFakeSource(t, "east"), cfg, testLogger())
	assert.Error(t, err)
}
