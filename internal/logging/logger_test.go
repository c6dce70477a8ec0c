package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, TRACE, ParseLevel("trace"))
	assert.Equal(t, WARN, ParseLevel(" warning "))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel("что-то"))
	assert.Equal(t, "DEBUG", DEBUG.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}

func TestWriterLoggerFiltersLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger("visibility", &buf, INFO)

	l.Debug("скрытое сообщение")
	l.Info("radius=%d", 10)
	l.Error("ошибка %s", "запроса")

	out := buf.String()
	assert.NotContains(t, out, "скрытое")
	assert.Contains(t, out, "[INFO] [visibility] radius=10")
	assert.Contains(t, out, "[ERROR] [visibility] ошибка запроса")
}

func TestFileLogger(t *testing.T) {
	dir := t.TempDir()
	Configure(dir, ERROR)
	defer Configure("", INFO)

	l, err := NewLogger("storage")
	require.NoError(t, err)
	l.Debug("в файл")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close(), "повторное закрытие не ошибка")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "storage_"))

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "[DEBUG] [storage] в файл")
}

func TestLoggerManager(t *testing.T) {
	lm := &LoggerManager{loggers: make(map[string]*Logger)}

	a := lm.MustGetLogger("api")
	b := lm.MustGetLogger("api")
	assert.Same(t, a, b)
	assert.Equal(t, []string{"api"}, lm.ListComponents())

	require.NoError(t, lm.SetLogLevel("api", WARN, ERROR))
	assert.Error(t, lm.SetLogLevel("missing", WARN, ERROR))
	require.NoError(t, lm.CloseAll())
	assert.Empty(t, lm.ListComponents())
}
