package utils

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerTo_FormatSelection(t *testing.T) {
	tests := []struct {
		name     string
		format   string
		terminal bool
		wantJSON bool
	}{
		{"auto on terminal", "auto", true, false},
		{"auto off terminal", "auto", false, true},
		{"forced json", "json", true, true},
		{"forced text", "text", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerTo(&buf, "info", tt.format, tt.terminal)
			logger.Info("hello", "k", "v")

			out := strings.TrimSpace(buf.String())
			assert.Equal(t, tt.wantJSON, strings.HasPrefix(out, "{"), out)
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestAppError(t *testing.T) {
	base := errors.New("boom")
	err := NewAppError("evaluate", "budget refresh failed", base)

	require.ErrorIs(t, err, base)
	assert.Equal(t, "evaluate: budget refresh failed: boom", err.Error())

	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "evaluate", appErr.Op)

	assert.Equal(t, "op: msg", NewAppError("op", "msg", nil).Error())
}
