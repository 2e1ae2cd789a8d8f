package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/commentary/internal/config"
)

func TestReadConfigFileRejectsMissingExplicitPath(t *testing.T) {
	configViper := config.NewViper()
	missing := filepath.Join(t.TempDir(), "missing.yaml")
	if err := readConfigFile(configViper, missing); err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}

func TestReadConfigFileLoadsExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commentary.yaml")
	if err := os.WriteFile(path, []byte("http:\n  address: 127.0.0.1:9090\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	configViper := config.NewViper()
	if err := readConfigFile(configViper, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := configViper.GetString("http.address"); got != "127.0.0.1:9090" {
		t.Fatalf("expected the file value, got %q", got)
	}
}

func TestReadConfigFileWithoutPathIsOptional(t *testing.T) {
	if err := readConfigFile(config.NewViper(), ""); err != nil {
		t.Fatalf("expected a missing default config to be ignored, got %v", err)
	}
}
