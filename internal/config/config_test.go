package config

import (
	"os"
	"path/filepath"
	"testing"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoad_DefaultWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ReserveBytes != DefaultReserveBytes {
		t.Fatalf("ReserveBytes = %d, want %d", cfg.ReserveBytes, DefaultReserveBytes)
	}
	if cfg.MaxCompostBytes != 0 {
		t.Fatalf("MaxCompostBytes = %d, want 0 (cap disabled)", cfg.MaxCompostBytes)
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"reserve_bytes": 1024, "max_compost_bytes": 4096}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ReserveBytes != 1024 {
		t.Fatalf("ReserveBytes = %d, want 1024", cfg.ReserveBytes)
	}
	if cfg.MaxCompostBytes != 4096 {
		t.Fatalf("MaxCompostBytes = %d, want 4096", cfg.MaxCompostBytes)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{not json}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestLoadWithRepo_BothPresent(t *testing.T) {
	globalDir := t.TempDir()
	repoRoot := t.TempDir()

	globalConfig := `{"reserve_bytes": 2048, "clean_allow": ["core"]}`
	if err := os.WriteFile(filepath.Join(globalDir, "config.json"), []byte(globalConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	repoConfig := `{"reserve_bytes": 1024, "clean_allow": ["README.md", "core"]}`
	if err := os.WriteFile(filepath.Join(repoRoot, RepoConfigName), []byte(repoConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	nested := filepath.Join(repoRoot, "docs", "notes")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	cfg, err := LoadWithRepo(globalDir, nested)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}

	if cfg.ReserveBytes != 1024 {
		t.Errorf("ReserveBytes = %d, want 1024 (repo override)", cfg.ReserveBytes)
	}
	if len(cfg.CleanAllow) != 2 {
		t.Errorf("CleanAllow = %v, want 2 merged entries", cfg.CleanAllow)
	}
	if cfg.WorkspaceRoot != repoRoot {
		t.Errorf("WorkspaceRoot = %q, want repo config dir %q", cfg.WorkspaceRoot, repoRoot)
	}
}

func TestLoadWithRepo_ExplicitZeroReserve(t *testing.T) {
	globalDir := t.TempDir()
	repoRoot := t.TempDir()

	if err := os.WriteFile(filepath.Join(globalDir, "config.json"), []byte(`{"reserve_bytes": 2048}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(repoRoot, RepoConfigName), []byte(`{"reserve_bytes": 0}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := LoadWithRepo(globalDir, repoRoot)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}
	if cfg.ReserveBytes != 0 {
		t.Errorf("ReserveBytes = %d, want 0 (explicitly disabled)", cfg.ReserveBytes)
	}

	cfg, err = Load(repoRoot)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ReserveBytes != DefaultReserveBytes {
		t.Errorf("ReserveBytes = %d, want default when config.json is absent", cfg.ReserveBytes)
	}
}

func TestLoad_NegativeReserveRejected(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "config.json"), []byte(`{"reserve_bytes": -1}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := Load(tmpDir); err == nil {
		t.Fatal("Load() expected error, got nil")
	}
}

func TestLoadWithRepo_NeitherPresent(t *testing.T) {
	globalDir := t.TempDir()
	repoDir := t.TempDir()

	cfg, err := LoadWithRepo(globalDir, repoDir)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}

	if cfg.ReserveBytes != DefaultReserveBytes {
		t.Errorf("ReserveBytes = %d, want default", cfg.ReserveBytes)
	}
	if cfg.WorkspaceRoot != "" {
		t.Errorf("WorkspaceRoot = %q, want empty", cfg.WorkspaceRoot)
	}
}

func TestFindRepoConfig_IgnoresDirectory(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, RepoConfigName), 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if got := FindRepoConfig(root); got == filepath.Join(root, RepoConfigName) {
		t.Errorf("FindRepoConfig matched a directory named %s", RepoConfigName)
	}
}

func TestMerge_ScalarOverride(t *testing.T) {
	base := &Config{ReserveBytes: 100, MaxCompostBytes: 500, LogLevel: "info"}
	overlay := &Config{ReserveBytes: 200}

	result := Merge(base, overlay)

	if result.ReserveBytes != 200 {
		t.Errorf("ReserveBytes = %d, want 200", result.ReserveBytes)
	}
	if result.MaxCompostBytes != 500 {
		t.Errorf("MaxCompostBytes = %d, want 500 (from base)", result.MaxCompostBytes)
	}
	if result.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", result.LogLevel)
	}
}

func TestMerge_BoolAndArrays(t *testing.T) {
	base := &Config{DisableLock: true, BackupExcludes: []string{"*.iso", " "}}
	overlay := &Config{BackupExcludes: []string{"*.iso", "media"}}

	result := Merge(base, overlay)

	if !result.DisableLock {
		t.Error("DisableLock should stay true when set in base")
	}
	if len(result.BackupExcludes) != 2 {
		t.Errorf("BackupExcludes = %v, want [*.iso media]", result.BackupExcludes)
	}
}

func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		wantReserve int64
		wantMax     int64
		wantErr     bool
	}{
		{
			name:        "no env keeps config",
			env:         map[string]string{},
			wantReserve: DefaultReserveBytes,
		},
		{
			name:        "reserve in megabytes",
			env:         map[string]string{EnvReserveMB: "100"},
			wantReserve: 100 * 1024 * 1024,
		},
		{
			name:        "reserve with suffix",
			env:         map[string]string{EnvReserveMB: "1GiB"},
			wantReserve: 1024 * 1024 * 1024,
		},
		{
			name:        "cap in megabytes",
			env:         map[string]string{EnvMaxMB: "2"},
			wantReserve: DefaultReserveBytes,
			wantMax:     2 * 1024 * 1024,
		},
		{
			name:        "bytes win over megabytes",
			env:         map[string]string{EnvMaxMB: "2", EnvMaxBytes: "12345"},
			wantReserve: DefaultReserveBytes,
			wantMax:     12345,
		},
		{
			name:        "blank values ignored",
			env:         map[string]string{EnvReserveMB: "  "},
			wantReserve: DefaultReserveBytes,
		},
		{
			name:    "garbage rejected",
			env:     map[string]string{EnvReserveMB: "lots"},
			wantErr: true,
		},
		{
			name:    "megabytes overflow rejected",
			env:     map[string]string{EnvReserveMB: "9223372036854775807"},
			wantErr: true,
		},
		{
			name:    "negative rejected",
			env:     map[string]string{EnvMaxBytes: "-5"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			err := ApplyEnv(cfg, envMap(tt.env))
			if tt.wantErr {
				if err == nil {
					t.Fatal("ApplyEnv() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyEnv() error = %v", err)
			}
			if cfg.ReserveBytes != tt.wantReserve {
				t.Errorf("ReserveBytes = %d, want %d", cfg.ReserveBytes, tt.wantReserve)
			}
			if cfg.MaxCompostBytes != tt.wantMax {
				t.Errorf("MaxCompostBytes = %d, want %d", cfg.MaxCompostBytes, tt.wantMax)
			}
		})
	}
}

func TestApplyEnv_Roots(t *testing.T) {
	cfg := DefaultConfig()
	err := ApplyEnv(cfg, envMap(map[string]string{
		EnvWorkspace:   "/srv/ws",
		EnvMemoryRoot:  "mem",
		EnvLogLevel:    "debug",
		EnvDisableLock: "true",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if cfg.WorkspaceRoot != "/srv/ws" || cfg.MemoryRoot != "mem" || cfg.LogLevel != "debug" || !cfg.DisableLock {
		t.Errorf("unexpected config after env: %+v", cfg)
	}
}

func TestResolve(t *testing.T) {
	ws := t.TempDir()

	cfg := &Config{}
	if err := cfg.Resolve(ws); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.WorkspaceRoot != ws {
		t.Errorf("WorkspaceRoot = %q, want %q", cfg.WorkspaceRoot, ws)
	}
	if cfg.MemoryRoot != filepath.Join(ws, "memory") {
		t.Errorf("MemoryRoot = %q, want <ws>/memory", cfg.MemoryRoot)
	}

	cfg = &Config{WorkspaceRoot: ws, MemoryRoot: "notes"}
	if err := cfg.Resolve("/elsewhere"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.MemoryRoot != filepath.Join(ws, "notes") {
		t.Errorf("MemoryRoot = %q, want <ws>/notes", cfg.MemoryRoot)
	}
}
