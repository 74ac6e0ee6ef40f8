package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	config, err := LoadDefaultConfig()
	if err != nil {
		t.Fatalf("LoadDefaultConfig() error = %v", err)
	}

	if config.LogLevel != "warn" {
		t.Errorf("Expected default log_level=warn, got: %s", config.LogLevel)
	}
	if config.LogFormat != "text" {
		t.Errorf("Expected default log_format=text, got: %s", config.LogFormat)
	}
	if config.Write.FileMode != "0755" {
		t.Errorf("Expected default write.file_mode=0755, got: %s", config.Write.FileMode)
	}
	if config.Write.Overwrite {
		t.Error("Expected default write.overwrite=false")
	}
	if config.MachO.PageSize != 0 {
		t.Errorf("Expected default macho.page_size=0, got: %#x", config.MachO.PageSize)
	}
}

func TestLoadFromFile(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "objkit.yaml")

	configContent := `
log_level: debug
log_format: json
output_dir: /tmp/objkit-out
write:
  file_mode: "0700"
  overwrite: true
macho:
  page_size: 16384
checks:
  skip: ["symbol-table"]
  fail_fast: true
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	chdir(t, tempDir)

	config, err := LoadDefaultConfig()
	if err != nil {
		t.Fatalf("LoadDefaultConfig() error = %v", err)
	}

	if config.LogLevel != "debug" {
		t.Errorf("Expected log_level=debug, got: %s", config.LogLevel)
	}
	if config.LogFormat != "json" {
		t.Errorf("Expected log_format=json, got: %s", config.LogFormat)
	}
	if config.OutputDir != "/tmp/objkit-out" {
		t.Errorf("Expected output_dir=/tmp/objkit-out, got: %s", config.OutputDir)
	}
	mode, err := config.Write.Mode()
	if err != nil || mode != 0o700 {
		t.Errorf("Expected write.file_mode=0700, got: %v (%v)", mode, err)
	}
	if !config.Write.Overwrite {
		t.Error("Expected write.overwrite=true")
	}
	if config.MachO.PageSize != 0x4000 {
		t.Errorf("Expected macho.page_size=0x4000, got: %#x", config.MachO.PageSize)
	}
	if len(config.Checks.Skip) != 1 || config.Checks.Skip[0] != "symbol-table" {
		t.Errorf("Expected checks.skip=[symbol-table], got: %v", config.Checks.Skip)
	}
	if !config.Checks.FailFast {
		t.Error("Expected checks.fail_fast=true")
	}
}

func TestLoadConfigFromFileMissing(t *testing.T) {
	config, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfigFromFile() error = %v", err)
	}
	if config.LogLevel != "warn" {
		t.Errorf("Expected defaults when file is missing, got log_level=%s", config.LogLevel)
	}
}

func TestLoadFromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("OBJKIT_LOG_LEVEL", "error")
	t.Setenv("OBJKIT_LOG_FORMAT", "json")
	t.Setenv("OBJKIT_MACHO_PAGE_SIZE", "0x4000")
	t.Setenv("OBJKIT_CHECKS_SKIP", "format, code-signature")

	config, err := LoadDefaultConfig()
	if err != nil {
		t.Fatalf("LoadDefaultConfig() error = %v", err)
	}

	if config.LogLevel != "error" {
		t.Errorf("Expected log_level=error from env, got: %s", config.LogLevel)
	}
	if config.LogFormat != "json" {
		t.Errorf("Expected log_format=json from env, got: %s", config.LogFormat)
	}
	if config.MachO.PageSize != 0x4000 {
		t.Errorf("Expected macho.page_size=0x4000 from env, got: %#x", config.MachO.PageSize)
	}
	if len(config.Checks.Skip) != 2 || config.Checks.Skip[1] != "code-signature" {
		t.Errorf("Expected two skipped checks from env, got: %v", config.Checks.Skip)
	}
}

func TestLoadWithOverrides(t *testing.T) {
	overrides := map[string]interface{}{
		"log_level":       "info",
		"log_format":      "json",
		"write.overwrite": true,
	}

	config, err := LoadWithOverrides(overrides)
	if err != nil {
		t.Fatalf("LoadWithOverrides() error = %v", err)
	}

	if config.LogLevel != "info" {
		t.Errorf("Expected log_level=info from override, got: %s", config.LogLevel)
	}
	if config.LogFormat != "json" {
		t.Errorf("Expected log_format=json from override, got: %s", config.LogFormat)
	}
	if !config.Write.Overwrite {
		t.Error("Expected write.overwrite=true from override")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]interface{}
		wantErr   string
	}{
		{
			name:      "invalid log level",
			overrides: map[string]interface{}{"log_level": "invalid"},
			wantErr:   "invalid log level",
		},
		{
			name:      "invalid log format",
			overrides: map[string]interface{}{"log_format": "xml"},
			wantErr:   "invalid log format",
		},
		{
			name:      "invalid file mode",
			overrides: map[string]interface{}{"write.file_mode": "0999"},
			wantErr:   "invalid file mode",
		},
		{
			name:      "file mode with type bits",
			overrides: map[string]interface{}{"write.file_mode": "4755"},
			wantErr:   "only permission bits",
		},
		{
			name:      "page size not a power of two",
			overrides: map[string]interface{}{"macho.page_size": 0x3000},
			wantErr:   "power of two",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWithOverrides(tt.overrides)
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error to contain %q, got: %s", tt.wantErr, err.Error())
			}
		})
	}
}

func TestWriteConfigMode(t *testing.T) {
	mode, err := WriteConfig{}.Mode()
	if err != nil || mode != 0o755 {
		t.Errorf("Expected empty file_mode to default to 0755, got: %v (%v)", mode, err)
	}
}

func TestContains(t *testing.T) {
	slice := []string{"a", "b", "c"}

	tests := []struct {
		item string
		want bool
	}{
		{"a", true},
		{"c", true},
		{"d", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.item, func(t *testing.T) {
			if got := contains(slice, tt.item); got != tt.want {
				t.Errorf("contains() = %v, want %v", got, tt.want)
			}
		})
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}
