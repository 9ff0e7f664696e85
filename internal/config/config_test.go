package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_WithEnvAndDefaults(t *testing.T) {
	t.Setenv("OPENAI_KEY", "sk-test-123")
	t.Setenv("SHOP_TOKEN", "shpat-456")

	dir := t.TempDir()
	yaml := `
server:
  storageDir: ` + filepath.Join(dir, "data") + `
vision:
  provider: openai
  openai:
    apiKey: ${OPENAI_KEY}
catalog:
  shop: example.myshopify.com
  accessToken: ${SHOP_TOKEN}
`
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Vision.OpenAI.APIKey != "sk-test-123" {
		t.Fatalf("env expansion failed, got %q", cfg.Vision.OpenAI.APIKey)
	}
	if cfg.Catalog.AccessToken != "shpat-456" {
		t.Fatalf("env expansion failed for token, got %q", cfg.Catalog.AccessToken)
	}

	// Defaults
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("default address = %q", cfg.Server.Addr)
	}
	if cfg.Server.WriteTimeout != 3*time.Minute {
		t.Fatalf("default write timeout = %v", cfg.Server.WriteTimeout)
	}
	if cfg.Vision.OpenAI.DetectModel != "gpt-4o-mini" || cfg.Vision.OpenAI.ImageModel != "gpt-image-1" {
		t.Fatalf("default models = %q / %q", cfg.Vision.OpenAI.DetectModel, cfg.Vision.OpenAI.ImageModel)
	}
	if cfg.Catalog.APIVersion != "2024-01" {
		t.Fatalf("default api version = %q", cfg.Catalog.APIVersion)
	}
	if cfg.Pipeline.RetryAttempts != 3 || cfg.Pipeline.ReassociatePause != 2*time.Second {
		t.Fatalf("pipeline defaults = %+v", cfg.Pipeline)
	}
	if !strings.HasSuffix(cfg.Server.DatabasePath, "shopglot.db") {
		t.Fatalf("database path = %q", cfg.Server.DatabasePath)
	}
	if !cfg.CatalogEnabled() {
		t.Fatal("expected catalog to be enabled")
	}

	// Storage dir is created
	if _, err := os.Stat(cfg.Server.StorageDir); err != nil {
		t.Fatalf("storage dir not created: %v", err)
	}
}

func TestLoad_MockProviderNeedsNoKey(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  storageDir: ` + filepath.Join(dir, "data") + `
vision:
  provider: mock
`
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.CatalogEnabled() {
		t.Fatal("expected catalog to be disabled without a shop")
	}
	if cfg.Vision.Mock.Delay != 100*time.Millisecond {
		t.Fatalf("mock delay default = %v", cfg.Vision.Mock.Delay)
	}
}

func TestLoad_OpenAIRequiresKey(t *testing.T) {
	yaml := `
vision:
  provider: openai
`
	if _, err := Load(writeConfig(t, yaml)); err == nil {
		t.Fatal("expected error for missing openai api key")
	}
}

func TestLoad_ShopRequiresToken(t *testing.T) {
	yaml := `
vision:
  provider: mock
catalog:
  shop: example.myshopify.com
`
	if _, err := Load(writeConfig(t, yaml)); err == nil {
		t.Fatal("expected error for shop without access token")
	}
}

func TestLoad_RejectsUnknownProviderAndLogLevel(t *testing.T) {
	if _, err := Load(writeConfig(t, "vision:\n  provider: watson\n")); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if _, err := Load(writeConfig(t, "vision:\n  provider: mock\nserver:\n  logLevel: loud\n")); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
