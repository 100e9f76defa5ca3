package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		opts        config.LogConfig
		wantErr     string
		wantContain string
		wantMissing string
	}{
		{
			name:        "json at info drops debug",
			opts:        config.LogConfig{Level: "info", Format: "json"},
			wantContain: `"msg":"visible"`,
			wantMissing: "hidden",
		},
		{
			name:        "text at debug",
			opts:        config.LogConfig{Level: "debug", Format: "text"},
			wantContain: "msg=hidden",
		},
		{
			name:    "invalid level",
			opts:    config.LogConfig{Level: "loud"},
			wantErr: "invalid log level",
		},
		{
			name:    "invalid format",
			opts:    config.LogConfig{Format: "xml"},
			wantErr: "invalid log format: xml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log, err := newWithStdout(tt.opts, &buf)
			if tt.wantErr != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)

			log.Debug("hidden")
			log.Info("visible")

			assert.Contains(t, buf.String(), tt.wantContain)
			if tt.wantMissing != "" {
				assert.NotContains(t, buf.String(), tt.wantMissing)
			}
		})
	}
}

func TestNew_OutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "wallstreet.log")

	var buf bytes.Buffer
	log, err := newWithStdout(config.LogConfig{Level: "info", OutputFile: path}, &buf)
	require.NoError(t, err)

	log.Info("written twice")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "written twice")
	assert.Contains(t, buf.String(), "written twice")
}
