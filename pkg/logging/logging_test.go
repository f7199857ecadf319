package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" INFO ":  zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in, zapcore.InfoLevel), "ParseLevel(%q)", in)
	}
}

func TestConsoleCoreLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := zap.New(NewCore(Config{}, zapcore.AddSync(&buf)))
	logger.Debug("hidden")
	logger.Info("solve done", zap.Int("num_basis", 3))
	require.NoError(t, logger.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "solve done", entry[FieldMessage])
	assert.Equal(t, "info", entry[FieldLevel])
	assert.EqualValues(t, 3, entry["num_basis"])

	buf.Reset()
	dev := zap.New(NewCore(Config{Development: true}, zapcore.AddSync(&buf)))
	dev.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestFileCore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lensim.log")
	var console bytes.Buffer
	logger := zap.New(NewCore(Config{File: path, Level: "warn"}, zapcore.AddSync(&console)))
	logger.Info("dropped")
	logger.Warn("kept")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")
	assert.Contains(t, console.String(), "kept")
}

type recordingEncoder struct {
	zapcore.PrimitiveArrayEncoder
	got string
}

func (r *recordingEncoder) AppendString(s string) { r.got = s }

func TestShortTimeEncoder(t *testing.T) {
	enc := &recordingEncoder{}
	shortTimeEncoder(time.Date(2024, 1, 15, 14, 30, 45, 123000000, time.UTC), enc)
	assert.Equal(t, "14:30:45.123", enc.got)
}
