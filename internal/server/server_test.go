package server

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandrinn/llm-gateway/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStart_RefusesUnloadedConfig(t *testing.T) {
	mgr := config.NewManager(t.TempDir())

	err := New(mgr, testLogger(), "test").Start()
	require.Error(t, err)
	require.Contains(t, err.Error(), "configuration not loaded")
}

func TestStart_RefusesInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing base URL",
			content: `{"host":"127.0.0.1","port":8790,"host_capability":{"models":["m"]}}`,
			wantErr: "host_capability.base_url is required",
		},
		{
			name:    "no models",
			content: `{"host":"127.0.0.1","port":8790,"host_capability":{"base_url":"https://api.example.com/v1"}}`,
			wantErr: "at least one model",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			mgr := config.NewManager(dir)
			_, err := mgr.Load()
			require.NoError(t, err)

			err = New(mgr, testLogger(), "test").Start()
			require.Error(t, err)
			require.Contains(t, err.Error(), "invalid configuration")
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
