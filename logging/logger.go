package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/grovetools/appshell/config"
	"github.com/grovetools/appshell/pkg/paths"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	loggers   = make(map[string]*logrus.Entry)
	files     []*os.File
	loggersMu sync.Mutex

	activeConfig *config.Config
	stderrMode   string
)

// Configure sets the configuration used by loggers created afterwards.
// A non-empty mode overrides format.structured_to_stderr ("auto", "always", "never").
func Configure(cfg *config.Config, mode string) {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	activeConfig = cfg
	stderrMode = mode
}

// Reset drops all cached loggers and closes their log files.
func Reset() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, f := range files {
		f.Close()
	}
	files = nil
	loggers = make(map[string]*logrus.Entry)
	activeConfig = nil
	stderrMode = ""
}

// NewLogger creates and returns a pre-configured logger for a specific component.
// It uses a singleton pattern per component to avoid re-initializing.
func NewLogger(component string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if logger, exists := loggers[component]; exists {
		return logger
	}

	logger := logrus.New()
	logCfg := loadConfig()

	levelStr := "info"
	if os.Getenv("APPSHELL_LOG_LEVEL") != "" {
		levelStr = os.Getenv("APPSHELL_LOG_LEVEL")
	} else if logCfg.Level != "" {
		levelStr = logCfg.Level
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if os.Getenv("APPSHELL_LOG_CALLER") == "true" || logCfg.ReportCaller {
		logger.SetReportCaller(true)
	}

	interactive := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

	switch logCfg.Format.Preset {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "simple":
		logger.SetFormatter(&TextFormatter{Config: FormatConfig{
			DisableTimestamp: true,
			DisableComponent: true,
		}})
	default:
		colorize := interactive
		if logCfg.Format.Color != nil {
			colorize = *logCfg.Format.Color
		}
		logger.SetFormatter(&TextFormatter{Config: logCfg.Format, Colorize: colorize})
	}

	var writers []io.Writer

	if !logCfg.File.Disabled {
		logFilePath := logCfg.File.Path
		if logFilePath != "" {
			logFilePath = expandPath(logFilePath)
		} else if dir := paths.LogDir(); dir != "" {
			dateStr := time.Now().Format("2006-01-02")
			logFilePath = filepath.Join(dir, fmt.Sprintf("%s-%s.log", component, dateStr))
		}

		if logFilePath != "" {
			if err := os.MkdirAll(filepath.Dir(logFilePath), 0755); err == nil {
				file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
				if err == nil {
					files = append(files, file)
					writers = append(writers, file)
				} else if logCfg.File.Path != "" {
					fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", logFilePath, err)
				}
			}
		}
	}

	mode := "auto"
	if stderrMode != "" {
		mode = stderrMode
	} else if logCfg.Format.StructuredToStderr != "" {
		mode = logCfg.Format.StructuredToStderr
	}

	shouldLogToStderr := false
	switch mode {
	case "always":
		shouldLogToStderr = true
	case "never":
		shouldLogToStderr = false
	default:
		// Interactive sessions stay quiet unless debugging.
		isDebug := os.Getenv("APPSHELL_DEBUG") == "1" || logger.GetLevel() >= logrus.DebugLevel
		shouldLogToStderr = isDebug || !interactive
	}

	if shouldLogToStderr {
		writers = append(writers, GetGlobalOutput())
	}

	switch len(writers) {
	case 0:
		logger.SetOutput(io.Discard)
	case 1:
		logger.SetOutput(writers[0])
	default:
		logger.SetOutput(io.MultiWriter(writers...))
	}

	entry := logger.WithField("component", component)
	loggers[component] = entry
	return entry
}

// loadConfig returns the logging section of the active configuration,
// falling back to the default config file. Callers hold loggersMu.
func loadConfig() Config {
	var logCfg Config

	cfg := activeConfig
	if cfg == nil {
		loaded, err := config.LoadDefault()
		if err != nil {
			return logCfg
		}
		cfg = loaded
	}

	if err := cfg.UnmarshalExtension("logging", &logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse 'logging' config: %v\n", err)
	}
	return logCfg
}

// expandPath expands tilde in file paths
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
