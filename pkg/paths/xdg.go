// Package paths provides XDG-compliant path resolution for appshell.
//
// Resolution order:
// 1. APPSHELL_HOME (portable root) → $APPSHELL_HOME/{config,state,run}
// 2. XDG env vars → $XDG_*_HOME/appshell
// 3. Platform defaults → ~/.config/appshell, ~/.local/state/appshell, etc.
package paths

import (
	"os"
	"path/filepath"
)

const appName = "appshell"

// getConfigHome returns the base config home directory.
func getConfigHome() string {
	if home := os.Getenv("APPSHELL_HOME"); home != "" {
		return filepath.Join(home, "config")
	}
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return xdgConfigHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".config")
	}
	return ""
}

// getStateHome returns the base state home directory.
func getStateHome() string {
	if home := os.Getenv("APPSHELL_HOME"); home != "" {
		return filepath.Join(home, "state")
	}
	if xdgStateHome := os.Getenv("XDG_STATE_HOME"); xdgStateHome != "" {
		return xdgStateHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".local", "state")
	}
	return ""
}

// ConfigDir returns the appshell configuration directory.
func ConfigDir() string {
	base := getConfigHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, appName)
}

// StateDir returns the appshell state directory.
// Used for settings, logs and the pid file.
func StateDir() string {
	base := getStateHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, appName)
}

// LogDir returns the directory holding per-component log files.
func LogDir() string {
	return filepath.Join(StateDir(), "logs")
}

// SettingsPath returns the path of the persisted user settings file.
func SettingsPath() string {
	return filepath.Join(StateDir(), "settings.yml")
}

// RuntimeDir returns the directory for sockets.
// Uses XDG_RUNTIME_DIR when available (Linux), falls back to StateDir (macOS).
func RuntimeDir() string {
	if home := os.Getenv("APPSHELL_HOME"); home != "" {
		return filepath.Join(home, "run")
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, appName)
	}
	return StateDir()
}

// SocketPath returns the path to the renderer boundary unix socket.
func SocketPath() string {
	return filepath.Join(RuntimeDir(), "appshell.sock")
}

// PidFilePath returns the path to the coordinator PID file.
func PidFilePath() string {
	return filepath.Join(StateDir(), "appshell.pid")
}

// EnsureDirs creates all appshell directories if they don't exist.
func EnsureDirs() error {
	dirs := []string{
		ConfigDir(),
		StateDir(),
		LogDir(),
		RuntimeDir(),
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
