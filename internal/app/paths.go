package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Paths stores resolved runtime file locations for config, database and logs.
type Paths struct {
	RootDir    string
	ConfigFile string
	DBFile     string
	LogFile    string
}

func ResolvePaths() (Paths, error) {
	cfgRoot, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve config dir: %w", err)
	}

	return pathsIn(filepath.Join(cfgRoot, Name))
}

// ResolvePathsFor keeps the database and log next to an explicit config file.
// An empty configFile falls back to ResolvePaths.
func ResolvePathsFor(configFile string) (Paths, error) {
	if strings.TrimSpace(configFile) == "" {
		return ResolvePaths()
	}
	abs, err := filepath.Abs(configFile)
	if err != nil {
		return Paths{}, fmt.Errorf("resolve config path: %w", err)
	}
	paths, err := pathsIn(filepath.Dir(abs))
	if err != nil {
		return Paths{}, err
	}
	paths.ConfigFile = abs

	return paths, nil
}

func pathsIn(root string) (Paths, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return Paths{}, fmt.Errorf("create app config dir: %w", err)
	}

	return Paths{
		RootDir:    root,
		ConfigFile: filepath.Join(root, ConfigFilename),
		DBFile:     filepath.Join(root, DBFilename),
		LogFile:    filepath.Join(root, LogFilename),
	}, nil
}
