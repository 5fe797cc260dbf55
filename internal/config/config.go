// Package config resolves the on-disk configuration directory and the
// scan Options object of spec.md §6, mirroring the teacher's Config/Load
// shape (internal/config/config.go: resolve a home-relative dir, merge
// caller overrides over documented defaults).
package config

import (
	"os"
	"path/filepath"

	"github.com/diffsec/clrsentry/internal/deepbehavior"
)

const (
	DefaultConfigDir   = ".clrsentry"
	DefaultRulePackDir = "rulepacks"
	DefaultLogFile     = "clrsentry.jsonl"
	DefaultCacheFile   = "scancache.db"
)

// Options is the scan Configuration object of spec.md §6.
type Options struct {
	EnableMultiSignalDetection      bool
	AnalyzeExceptionHandlers        bool
	AnalyzeLocalVariables           bool
	AnalyzePropertyAccessors        bool
	DetectAssemblyMetadata          bool
	EnableCrossMethodAnalysis       bool
	MaxCallChainDepth               int
	EnableReturnValueTracking       bool
	EnableRecursiveResourceScanning bool
	MaxRecursiveResourceSizeMB      int
	MinimumEncodedStringLength      int
	DeveloperMode                   bool
	DeepAnalysis                    deepbehavior.Config
}

// DefaultOptions matches spec.md §6's stated defaults verbatim.
func DefaultOptions() Options {
	return Options{
		EnableMultiSignalDetection:      true,
		AnalyzeExceptionHandlers:        true,
		AnalyzeLocalVariables:           true,
		AnalyzePropertyAccessors:        true,
		DetectAssemblyMetadata:          true,
		EnableCrossMethodAnalysis:       true,
		MaxCallChainDepth:               5,
		EnableReturnValueTracking:       true,
		EnableRecursiveResourceScanning: true,
		MaxRecursiveResourceSizeMB:      10,
		MinimumEncodedStringLength:      10,
		DeveloperMode:                   false,
		DeepAnalysis:                    deepbehavior.DefaultConfig(),
	}
}

// Config is the resolved on-disk layout for a CLI invocation.
type Config struct {
	ConfigDir   string
	RulePackDir string
	LogPath     string
	CachePath   string
	Options     Options
}

// Load resolves ~/.clrsentry (or the CLRSENTRY_CONFIG_DIR override),
// ensures it exists, and merges caller-supplied path overrides over the
// documented defaults.
func Load(rulePackDir, logPath, cachePath string) (*Config, error) {
	configDir := os.Getenv("CLRSENTRY_CONFIG_DIR")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		configDir = filepath.Join(homeDir, DefaultConfigDir)
	}
	if err := ensureDir(configDir); err != nil {
		return nil, err
	}

	cfg := &Config{ConfigDir: configDir, Options: DefaultOptions()}

	if rulePackDir != "" {
		cfg.RulePackDir = rulePackDir
	} else {
		cfg.RulePackDir = filepath.Join(configDir, DefaultRulePackDir)
	}
	if logPath != "" {
		cfg.LogPath = logPath
	} else {
		cfg.LogPath = filepath.Join(configDir, DefaultLogFile)
	}
	if cachePath != "" {
		cfg.CachePath = cachePath
	} else {
		cfg.CachePath = filepath.Join(configDir, DefaultCacheFile)
	}
	return cfg, nil
}

func ensureDir(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, 0700)
	}
	return nil
}
