package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grovetools/appshell/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Setenv("APPSHELL_HOME", t.TempDir())
	Reset()
	defer Reset()

	logger := NewLogger("test-component")
	require.NotNil(t, logger)
	assert.Equal(t, "test-component", logger.Data["component"])
	assert.Same(t, logger, NewLogger("test-component"), "loggers are cached per component")
}

func TestLoggerUsesConfiguredSection(t *testing.T) {
	home := t.TempDir()
	t.Setenv("APPSHELL_HOME", home)
	t.Setenv("APPSHELL_LOG_LEVEL", "")
	Reset()
	defer Reset()

	cfg, err := config.LoadFromBytes([]byte("logging:\n  level: debug\n  format:\n    preset: simple\n"), config.FormatYAML)
	require.NoError(t, err)

	var buf bytes.Buffer
	SetGlobalOutput(&buf)
	defer SetGlobalOutput(os.Stderr)

	Configure(cfg, "always")
	logger := NewLogger("configured")
	assert.Equal(t, logrus.DebugLevel, logger.Logger.GetLevel())

	logger.Debug("hello there")
	assert.Contains(t, buf.String(), "[DEBUG] hello there")
	assert.NotContains(t, buf.String(), "[configured]", "simple preset hides the component")

	matches, err := filepath.Glob(filepath.Join(home, "state", "appshell", "logs", "configured-*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello there")
}

func TestEnvLevelOverridesConfig(t *testing.T) {
	t.Setenv("APPSHELL_HOME", t.TempDir())
	t.Setenv("APPSHELL_LOG_LEVEL", "error")
	Reset()
	defer Reset()

	cfg, err := config.LoadFromBytes([]byte("logging:\n  level: debug\n"), config.FormatYAML)
	require.NoError(t, err)
	Configure(cfg, "never")

	assert.Equal(t, logrus.ErrorLevel, NewLogger("env-level").Logger.GetLevel())
}

func TestTextFormatter(t *testing.T) {
	tests := []struct {
		name    string
		config  FormatConfig
		entry   *logrus.Entry
		want    []string
		notWant []string
	}{
		{
			name:   "default format",
			config: FormatConfig{},
			entry: &logrus.Entry{
				Level:   logrus.InfoLevel,
				Message: "test message",
				Data: logrus.Fields{
					"component": "test-component",
					"key1":      "value1",
				},
			},
			want: []string{"[INFO]", "[test-component]", "test message", "key1=value1"},
		},
		{
			name: "simple format",
			config: FormatConfig{
				DisableTimestamp: true,
				DisableComponent: true,
			},
			entry: &logrus.Entry{
				Level:   logrus.WarnLevel,
				Message: "careful",
				Data:    logrus.Fields{"component": "hidden"},
			},
			want:    []string{"[WARN]", "careful"},
			notWant: []string{"hidden"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &TextFormatter{Config: tt.config}
			out, err := f.Format(tt.entry)
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, string(out), w)
			}
			for _, nw := range tt.notWant {
				assert.NotContains(t, string(out), nw)
			}
		})
	}
}

func TestTextFormatterSortsFields(t *testing.T) {
	f := &TextFormatter{Config: FormatConfig{DisableTimestamp: true}}
	out, err := f.Format(&logrus.Entry{
		Level:   logrus.InfoLevel,
		Message: "m",
		Data:    logrus.Fields{"b": 2, "a": 1},
	})
	require.NoError(t, err)
	assert.True(t, strings.Index(string(out), "a=1") < strings.Index(string(out), "b=2"))
}
