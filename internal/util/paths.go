package util

import (
	"os"
	"path/filepath"
	"strings"
)

// HomeEnv overrides the usersync home directory.
const HomeEnv = "USERSYNC_HOME"

// HomeDir returns the user's home directory
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return home
}

// UsersyncHome returns the usersync state directory, $USERSYNC_HOME or
// ~/.usersync.
func UsersyncHome() string {
	if v := strings.TrimSpace(os.Getenv(HomeEnv)); v != "" {
		return ExpandPath(v)
	}
	return filepath.Join(HomeDir(), ".usersync")
}

// UsersyncCachePath returns the default cache directory
func UsersyncCachePath() string {
	return filepath.Join(UsersyncHome(), "cache")
}

// ExpandPath expands a leading ~ to the home directory.
func ExpandPath(p string) string {
	switch {
	case p == "~":
		return HomeDir()
	case strings.HasPrefix(p, "~/"):
		return filepath.Join(HomeDir(), p[2:])
	default:
		return p
	}
}
