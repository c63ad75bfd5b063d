package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// FilePermissions is the default permission mode for regular files (read/write for owner, read for others)
	FilePermissions = 0644
	// DirPermissions is the default permission mode for directories (rwxr-xr-x)
	DirPermissions = 0755

	// EnvPrefix prefixes every environment override, e.g. SURGE_CONCURRENCY
	EnvPrefix = "SURGE"
)

var (
	// ConfigDir is the global configuration directory (~/.surge)
	ConfigDir string

	// WorkloadsDir holds workload files that can be referenced by name
	WorkloadsDir string

	// DatabasePath is the SQLite database file for run history
	DatabasePath string

	// ConfigFile is the default config file, read when present
	ConfigFile string
)

// Initialize sets up the configuration directories
// It creates ~/.surge/ if it doesn't exist
func Initialize() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	return InitializeAt(filepath.Join(homeDir, ".surge"))
}

// InitializeAt sets up the configuration layout rooted at dir
func InitializeAt(dir string) error {
	ConfigDir = dir
	WorkloadsDir = filepath.Join(ConfigDir, "workloads")
	DatabasePath = filepath.Join(ConfigDir, "surge.db")
	ConfigFile = filepath.Join(ConfigDir, "config.yaml")

	for _, d := range []string{ConfigDir, WorkloadsDir} {
		if err := os.MkdirAll(d, DirPermissions); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return nil
}

// NewViper creates the settings store. Values resolve in the order flag,
// SURGE_* environment variable, config file, default. cfgFile overrides the
// default config file location; a missing default file is not an error.
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
		return v, nil
	}

	if ConfigDir == "" {
		return v, nil
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(ConfigDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return v, nil
}

// ResolveWorkload finds a workload file. Names are tried as given, then in
// the workloads directory, each with .yaml and .yml appended.
func ResolveWorkload(name string) (string, error) {
	extensions := []string{"", ".yaml", ".yml"}

	for _, ext := range extensions {
		candidate := name + ext
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	if filepath.IsAbs(name) || WorkloadsDir == "" {
		return "", fmt.Errorf("workload file not found: %s (tried .yaml, .yml extensions)", name)
	}

	for _, ext := range extensions {
		candidate := filepath.Join(WorkloadsDir, name+ext)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("workload file not found: %s (searched current directory and %s, tried .yaml, .yml extensions)", name, WorkloadsDir)
}
