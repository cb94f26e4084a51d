package config

import (
	"os"
	"path/filepath"
)

const (
	DefaultInstance = "default"
	DefaultProfile  = "default"
)

// InstancePaths contains all paths for a Veles instance.
type InstancePaths struct {
	Home        string // Instance home directory
	ConfigDB    string // SQLite configuration store path
	Logs        string // Logs directory
	MocksDir    string // Scripted mock handlers (*.mock.js)
	ProfilesDir string // Profiles directory
	TempDir     string // Temporary files directory
}

// GetInstancePaths returns all paths for a given instance.
// Empty instance name defaults to "default".
func GetInstancePaths(instanceName string) InstancePaths {
	if instanceName == "" {
		instanceName = DefaultInstance
	}

	instanceDir := filepath.Join(GetVelesHome(), "instances", instanceName)

	return InstancePaths{
		Home:        instanceDir,
		ConfigDB:    filepath.Join(instanceDir, "config.db"),
		Logs:        filepath.Join(instanceDir, "logs"),
		MocksDir:    filepath.Join(instanceDir, "mocks"),
		ProfilesDir: filepath.Join(instanceDir, "profiles"),
		TempDir:     filepath.Join(instanceDir, "tmp"),
	}
}

// GetVelesHome returns the Veles home directory (~/.veles).
func GetVelesHome() string {
	if home := os.Getenv("VELES_HOME"); home != "" {
		return ExpandPath(home)
	}
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".veles")
}

// ExpandPath expands a leading ~ to the user home directory. Paths like
// ~user are returned untouched.
func ExpandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	switch {
	case len(path) == 1:
		return home
	case path[1] == '/' || path[1] == os.PathSeparator:
		return filepath.Join(home, path[2:])
	}
	return path
}

// EnsureInstanceDirs creates the directory structure for the given
// instance if it does not exist.
func EnsureInstanceDirs(instanceName string) (InstancePaths, error) {
	paths := GetInstancePaths(instanceName)
	for _, dir := range []string{paths.Home, paths.Logs, paths.MocksDir, paths.ProfilesDir, paths.TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return paths, err
		}
	}
	return paths, nil
}
