package conf

import (
	"os"
	"path/filepath"
	"runtime"
)

// GetDefaultConfigPaths returns the directories searched for config.yaml,
// most specific first. If one of them already holds a config.yaml only
// that directory is returned.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}

	if homeDir, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "windows" {
			paths = append(paths, filepath.Join(homeDir, "AppData", "Roaming", "fieldwatch"))
		} else {
			paths = append(paths, filepath.Join(homeDir, ".config", "fieldwatch"))
		}
	}

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/fieldwatch")
	}

	for _, path := range paths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}
		}
	}

	return paths
}
