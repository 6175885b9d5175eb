package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 120*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 1<<20, cfg.MaxHeaderBytes)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
}

func TestManager_StartAndShutdown(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	cfg := DefaultConfig()
	cfg.Addr = ":0" // random port
	m := NewManager(handler, cfg, zap.NewNop())

	require.NoError(t, m.Start())
	t.Cleanup(func() { m.Shutdown(context.Background()) })

	addr := m.listener.Addr().String()
	resp, err := http.Get("http://" + addr + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
}

func TestManager_DoubleStart(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = ":0"
	m := NewManager(http.NewServeMux(), cfg, zap.NewNop())

	require.NoError(t, m.Start())
	t.Cleanup(func() { m.Shutdown(context.Background()) })

	err := m.Start()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already started")
}

func TestManager_ShutdownIdempotent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = ":0"
	m := NewManager(http.NewServeMux(), cfg, zap.NewNop())

	require.NoError(t, m.Start())
	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_StartAfterShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = ":0"
	m := NewManager(http.NewServeMux(), cfg, zap.NewNop())

	require.NoError(t, m.Start())
	require.NoError(t, m.Shutdown(context.Background()))

	err := m.Start()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestManager_Errors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = ":0"
	m := NewManager(http.NewServeMux(), cfg, zap.NewNop())

	ch := m.Errors()
	require.NotNil(t, ch)

	select {
	case <-ch:
		t.Fatal("should not have received an error")
	default:
	}
}
