package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docker/go-units"
)

// RepoConfigName is the file name looked up while walking upward from the
// working directory. Its directory becomes the default workspace root.
const RepoConfigName = "compost.json"

// DefaultReserveBytes is the free space kept on the primary volume when no
// reserve is configured.
const DefaultReserveBytes int64 = 512 * units.MiB

// Environment keys consumed by ApplyEnv.
const (
	EnvReserveMB   = "COMPOST_RESERVE_MB"
	EnvMaxMB       = "COMPOST_MAX_MB"
	EnvMaxBytes    = "COMPOST_MAX_BYTES"
	EnvWorkspace   = "COMPOST_WORKSPACE"
	EnvMemoryRoot  = "COMPOST_MEMORY_ROOT"
	EnvLogLevel    = "COMPOST_LOG_LEVEL"
	EnvDisableLock = "COMPOST_DISABLE_LOCK"
)

// Config holds application configuration.
type Config struct {
	// WorkspaceRoot is the root that owns the .compost tree and anchors scope keys.
	// Empty means the directory holding the nearest compost.json, else the working directory.
	WorkspaceRoot string `json:"workspace_root,omitempty"`

	// MemoryRoot is the default scope for unrecognized scope tokens.
	// Empty means <workspace>/memory.
	MemoryRoot string `json:"memory_root,omitempty"`

	// ReserveBytes is the minimum free space the primary volume must keep after a move-in.
	// An explicit 0 in a config file disables the reserve.
	ReserveBytes int64 `json:"reserve_bytes,omitempty"`

	// MaxCompostBytes caps the compost footprint. 0 disables the cap.
	MaxCompostBytes int64 `json:"max_compost_bytes,omitempty"`

	// ExtraJunkPatterns are added to the built-in tidy patterns.
	ExtraJunkPatterns []string `json:"extra_junk_patterns,omitempty"`

	// BackupExcludes are added to the built-in backup deny-list.
	BackupExcludes []string `json:"backup_excludes,omitempty"`

	// CleanAllow is the default allow-list for clean when the caller passes none.
	CleanAllow []string `json:"clean_allow,omitempty"`

	// DisableLock turns off the per-scope advisory lock around capacity check + move.
	DisableLock bool `json:"disable_lock,omitempty"`

	// LogLevel is a zap level name (debug, info, warn, error).
	LogLevel string `json:"log_level,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	reserveSet bool
}

// UnmarshalJSON records whether reserve_bytes was present so an explicit 0
// survives Merge.
func (c *Config) UnmarshalJSON(data []byte) error {
	type plain Config
	aux := struct {
		*plain
		ReserveBytes *int64 `json:"reserve_bytes"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.ReserveBytes != nil {
		if *aux.ReserveBytes < 0 {
			return fmt.Errorf("reserve_bytes must be non-negative: %d", *aux.ReserveBytes)
		}
		c.ReserveBytes = *aux.ReserveBytes
		c.reserveSet = true
	}
	return nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ReserveBytes: DefaultReserveBytes,
		LogLevel:     "info",
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from the global directory and the nearest
// compost.json found walking upward from startDir.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// When the repo config leaves workspace_root empty, its directory is used.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repoConfigPath := FindRepoConfig(startDir)
	repo, err := loadFileRaw(repoConfigPath)
	if err != nil {
		return nil, err
	}
	if repoConfigPath != "" && repo.WorkspaceRoot == "" {
		repo.WorkspaceRoot = filepath.Dir(repoConfigPath)
	}

	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest compost.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, RepoConfigName)
		if info, err := os.Stat(configPath); err == nil && !info.IsDir() {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the path is empty or the file doesn't exist.
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.WorkspaceRoot = firstNonEmpty(overlay.WorkspaceRoot, base.WorkspaceRoot)
	result.MemoryRoot = firstNonEmpty(overlay.MemoryRoot, base.MemoryRoot)
	result.LogLevel = firstNonEmpty(overlay.LogLevel, base.LogLevel)

	result.ReserveBytes = base.ReserveBytes
	if overlay.reserveSet || overlay.ReserveBytes != 0 {
		result.ReserveBytes = overlay.ReserveBytes
	}
	result.reserveSet = base.reserveSet || overlay.reserveSet

	result.MaxCompostBytes = overlay.MaxCompostBytes
	if result.MaxCompostBytes == 0 {
		result.MaxCompostBytes = base.MaxCompostBytes
	}

	result.DisableLock = base.DisableLock || overlay.DisableLock

	result.ExtraJunkPatterns = mergeStringSlice(base.ExtraJunkPatterns, overlay.ExtraJunkPatterns)
	result.BackupExcludes = mergeStringSlice(base.BackupExcludes, overlay.BackupExcludes)
	result.CleanAllow = mergeStringSlice(base.CleanAllow, overlay.CleanAllow)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

// ApplyEnv overlays process environment settings on cfg.
// The reserve is read in megabytes; the cap in megabytes or raw bytes, bytes
// taking precedence when both are set. Values may carry a unit suffix ("2GiB").
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookupNonEmpty(lookup, EnvReserveMB); ok {
		n, err := ParseSize(v, units.MiB)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvReserveMB, err)
		}
		cfg.ReserveBytes = n
	}

	if v, ok := lookupNonEmpty(lookup, EnvMaxBytes); ok {
		n, err := ParseSize(v, 1)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxBytes, err)
		}
		cfg.MaxCompostBytes = n
	} else if v, ok := lookupNonEmpty(lookup, EnvMaxMB); ok {
		n, err := ParseSize(v, units.MiB)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxMB, err)
		}
		cfg.MaxCompostBytes = n
	}

	if v, ok := lookupNonEmpty(lookup, EnvWorkspace); ok {
		cfg.WorkspaceRoot = v
	}
	if v, ok := lookupNonEmpty(lookup, EnvMemoryRoot); ok {
		cfg.MemoryRoot = v
	}
	if v, ok := lookupNonEmpty(lookup, EnvLogLevel); ok {
		cfg.LogLevel = v
	}
	if v, ok := lookupNonEmpty(lookup, EnvDisableLock); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDisableLock, err)
		}
		cfg.DisableLock = b
	}

	return nil
}

// ParseSize parses a size string. A bare number is multiplied by unit;
// anything with a suffix is parsed as a binary size ("512MiB", "2g").
func ParseSize(s string, unit int64) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("size must be non-negative: %s", s)
		}
		if unit > 1 && n > math.MaxInt64/unit {
			return 0, fmt.Errorf("size out of range: %s", s)
		}
		return n * unit, nil
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("size must be non-negative: %s", s)
	}
	return n, nil
}

// Resolve fills in the derived roots. cwd is used when no workspace is configured.
func (c *Config) Resolve(cwd string) error {
	if c.WorkspaceRoot == "" {
		c.WorkspaceRoot = cwd
	}
	ws, err := filepath.Abs(c.WorkspaceRoot)
	if err != nil {
		return fmt.Errorf("resolve workspace root: %w", err)
	}
	c.WorkspaceRoot = ws

	if c.MemoryRoot == "" {
		c.MemoryRoot = filepath.Join(ws, "memory")
	} else if !filepath.IsAbs(c.MemoryRoot) {
		c.MemoryRoot = filepath.Join(ws, c.MemoryRoot)
	}
	c.MemoryRoot = filepath.Clean(c.MemoryRoot)
	return nil
}

func lookupNonEmpty(lookup func(string) (string, bool), key string) (string, bool) {
	v, ok := lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
