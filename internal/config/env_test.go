package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\nEXCHANGE_API_KEY=abc123\nQUOTED=\"hello\"\nPRESET=from-file\n\nBROKEN LINE\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("PRESET", "from-env")
	os.Unsetenv("EXCHANGE_API_KEY")
	os.Unsetenv("QUOTED")
	t.Cleanup(func() {
		os.Unsetenv("EXCHANGE_API_KEY")
		os.Unsetenv("QUOTED")
	})

	if err := LoadEnv(path); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv("EXCHANGE_API_KEY"); got != "abc123" {
		t.Errorf("EXCHANGE_API_KEY = %q", got)
	}
	if got := os.Getenv("QUOTED"); got != "hello" {
		t.Errorf("QUOTED = %q, quotes not stripped", got)
	}
	// Existing environment always wins over the file.
	if got := os.Getenv("PRESET"); got != "from-env" {
		t.Errorf("PRESET = %q, file overrode the environment", got)
	}
}

func TestLoadEnvMissingFileIsFine(t *testing.T) {
	if err := LoadEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
}
