//go:build unit

package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go-press/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		entries = append(entries, entry)
	}
	return entries
}

func TestLogger(t *testing.T) {
	t.Run("console format", func(t *testing.T) {
		var buf bytes.Buffer
		log := New(config.LogConfig{Level: "info", Format: "console"}, &buf)

		log.Info("sqlite pool opened")

		assert.Contains(t, buf.String(), "sqlite pool opened")
		assert.NotContains(t, buf.String(), "{", "console output must not be JSON")
	})

	t.Run("json error entry", func(t *testing.T) {
		var buf bytes.Buffer
		log := New(config.LogConfig{Level: "error", Format: "json"}, &buf)

		log.Error(errors.New("disk I/O error"), "storage write failed")

		entries := decodeLines(t, &buf)
		require.Len(t, entries, 1)
		assert.Equal(t, "error", entries[0]["level"])
		assert.Equal(t, "storage write failed", entries[0]["message"])
		assert.Equal(t, "disk I/O error", entries[0]["error"])
	})

	levels := []struct {
		level string
		want  []string
	}{
		{"debug", []string{"debug", "info", "warn"}},
		{"warn", []string{"warn"}},
		{"", []string{"info", "warn"}},
		{"loud", []string{"info", "warn"}},
	}
	for _, tc := range levels {
		t.Run("level "+tc.level, func(t *testing.T) {
			var buf bytes.Buffer
			log := New(config.LogConfig{Level: tc.level, Format: "json"}, &buf)

			log.Debug("debug")
			log.Info("info")
			log.Warn("warn")

			var got []string
			for _, e := range decodeLines(t, &buf) {
				got = append(got, e["message"].(string))
			}
			assert.Equal(t, tc.want, got)
		})
	}

	t.Run("with fields", func(t *testing.T) {
		var buf bytes.Buffer
		log := New(config.LogConfig{Level: "debug", Format: "json"}, &buf)

		log.With(map[string]interface{}{"op": "create_post", "actor": "ed"}).Info("storage write committed")

		entries := decodeLines(t, &buf)
		require.Len(t, entries, 1)
		assert.Equal(t, "create_post", entries[0]["op"])
		assert.Equal(t, "ed", entries[0]["actor"])
	})

	t.Run("nop", func(t *testing.T) {
		assert.NotPanics(t, func() {
			Nop().With(map[string]interface{}{"k": 1}).Error(errors.New("x"), "discarded")
		})
	})
}
