package cmd

import (
	"testing"

	"github.com/symposium-dev/symposium-conductor/internal/config"
)

func TestResolvedConfigPathHonorsOverride(t *testing.T) {
	old := configPath
	defer func() { configPath = old }()

	configPath = "/tmp/example-config.jsonc"
	got, err := resolvedConfigPath()
	if err != nil {
		t.Fatalf("resolvedConfigPath: %v", err)
	}
	if got != "/tmp/example-config.jsonc" {
		t.Errorf("resolvedConfigPath() = %q, want override path", got)
	}
}

func TestResolvedConfigPathFallsBackToDefault(t *testing.T) {
	old := configPath
	defer func() { configPath = old }()
	t.Setenv(config.DirEnv, t.TempDir())

	configPath = ""
	got, err := resolvedConfigPath()
	if err != nil {
		t.Fatalf("resolvedConfigPath: %v", err)
	}
	if got == "" {
		t.Error("expected a non-empty default configuration path")
	}
}
