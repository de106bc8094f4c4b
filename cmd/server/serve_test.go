package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/servo-bridge/backend/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestServeSimulated(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Simulate()
	cfg.Server.BindAddress = "127.0.0.1"
	cfg.Server.Port = freePort(t)
	cfg.Server.EnableRequestLogging = false
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, zap.NewNop()) }()

	base := fmt.Sprintf("http://%s", cfg.GetServerAddr())
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Post(base+"/api/channels", "application/json", bytes.NewBufferString(`{"channelId":0,"position":30}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestConfigAndVersionCommands(t *testing.T) {
	configPath = filepath.Join(t.TempDir(), "config.yaml")
	simulate = true
	t.Cleanup(func() { configPath, simulate = "config.yaml", false })

	var out bytes.Buffer
	configCmd.SetOut(&out)
	require.NoError(t, configCmd.RunE(configCmd, nil))
	assert.Contains(t, out.String(), "driver: simulated")
	assert.FileExists(t, configPath)

	out.Reset()
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, out.String(), "servo-bridge dev")
}
