package util

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// UserHome returns the current user's home directory. It falls back to
// $HOME, then %USERPROFILE%, then the working directory, so it can be
// called during package initialization in containers without a home.
func UserHome() string {
	homeDir, err := os.UserHomeDir()
	if err == nil {
		return homeDir
	}
	for _, env := range []string{"HOME", "USERPROFILE"} {
		if home := os.Getenv(env); home != "" {
			log.WithError(err).WithField("env", env).Warn("os.UserHomeDir failed, using environment")
			return home
		}
	}
	if wd, wdErr := os.Getwd(); wdErr == nil {
		log.WithError(err).Warn("no home directory, using working directory")
		return wd
	}
	panic("go-msgrouter: unable to determine home directory; set $HOME")
}

// ExpandHome replaces a leading "~" in path with UserHome.
func ExpandHome(path string) string {
	if path == "~" {
		return UserHome()
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return filepath.Join(UserHome(), path[2:])
	}
	return path
}

// FileExists reports whether fpath can be stat'ed.
func FileExists(fpath string) bool {
	_, err := os.Stat(fpath)
	return err == nil
}
