package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestLoadConfigMissingFile verifies defaults are returned when no file exists
func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Transfer.Resolution != 1024 {
		t.Errorf("Expected default resolution 1024, got %d", cfg.Transfer.Resolution)
	}
	if len(cfg.Dispatch.Shapes) != 4 {
		t.Errorf("Expected 4 default dispatch shapes, got %d", len(cfg.Dispatch.Shapes))
	}
}

// TestSaveAndLoadConfig verifies a saved config parses back with overrides intact
func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Rendering.Method = "mip"
	cfg.Rendering.Quality = 64
	cfg.Dispatch.Shapes = [][2]int{{4, 4}}

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loaded.Rendering.Method != "mip" {
		t.Errorf("Expected method mip, got %s", loaded.Rendering.Method)
	}
	if loaded.Rendering.Quality != 64 {
		t.Errorf("Expected quality 64, got %d", loaded.Rendering.Quality)
	}
	if len(loaded.Dispatch.Shapes) != 1 || loaded.Dispatch.Shapes[0] != [2]int{4, 4} {
		t.Errorf("Expected shapes [[4 4]], got %v", loaded.Dispatch.Shapes)
	}
}

// TestLoadConfigPartial verifies unspecified keys keep their defaults
func TestLoadConfigPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("rendering:\n  jitter: 0.25\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Rendering.Jitter != 0.25 {
		t.Errorf("Expected jitter 0.25, got %f", cfg.Rendering.Jitter)
	}
	if cfg.Rendering.EarlyTermination != 0.95 {
		t.Errorf("Expected default early termination 0.95, got %f", cfg.Rendering.EarlyTermination)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	dir := t.TempDir()

	tests := map[string]string{
		"syntax":    "rendering: [unclosed",
		"bad shape": "dispatch:\n  shapes: [[0, 8]]\n",
		"negative":  "rendering:\n  quality: -1\n",
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			if err := os.WriteFile(path, []byte(body), 0644); err != nil {
				t.Fatalf("Failed to write config: %v", err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}
