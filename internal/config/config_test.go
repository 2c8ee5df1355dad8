package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{
		EnvEnvironment, EnvBucketName, EnvHistoryTable, EnvPresignExpiration,
		EnvManifestMismatchPolicy, EnvCustomerIndex, EnvStateMachineARN, EnvUploadRoot,
	} {
		t.Setenv(k, "")
	}

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() unexpected error: %v", err)
	}

	if cfg.Environment != "dev" {
		t.Errorf("Environment = %q, want dev", cfg.Environment)
	}
	if cfg.BucketName != "siftbeam" {
		t.Errorf("BucketName = %q, want siftbeam", cfg.BucketName)
	}
	if cfg.HistoryTable != "siftbeam-processing-history" {
		t.Errorf("HistoryTable = %q", cfg.HistoryTable)
	}
	if cfg.PresignExpiration != time.Hour {
		t.Errorf("PresignExpiration = %v, want 1h", cfg.PresignExpiration)
	}
	if cfg.CustomerIndex != "customerId-createdAt-index" {
		t.Errorf("CustomerIndex = %q", cfg.CustomerIndex)
	}
	if cfg.BlockOnManifestMismatch() {
		t.Error("BlockOnManifestMismatch() = true, want warn by default")
	}
	if cfg.UploadRoot != "" {
		t.Errorf("UploadRoot = %q, want file-path uploads disabled by default", cfg.UploadRoot)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv(EnvBucketName, "custom-bucket")
	t.Setenv(EnvPresignExpiration, "900")
	t.Setenv(EnvManifestMismatchPolicy, "BLOCK")
	t.Setenv(EnvUploadRoot, "/tmp/uploads")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() unexpected error: %v", err)
	}
	if cfg.BucketName != "custom-bucket" {
		t.Errorf("BucketName = %q", cfg.BucketName)
	}
	if cfg.PresignExpiration != 15*time.Minute {
		t.Errorf("PresignExpiration = %v, want 15m", cfg.PresignExpiration)
	}
	if cfg.UploadRoot != "/tmp/uploads" {
		t.Errorf("UploadRoot = %q, want /tmp/uploads", cfg.UploadRoot)
	}
	if !cfg.BlockOnManifestMismatch() {
		t.Error("BlockOnManifestMismatch() = false, want true")
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non numeric expiration", EnvPresignExpiration, "soon"},
		{"zero expiration", EnvPresignExpiration, "0"},
		{"unknown mismatch policy", EnvManifestMismatchPolicy, "ignore"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := FromEnv(); err == nil {
				t.Errorf("FromEnv() with %s=%q should have returned error", tt.key, tt.value)
			}
		})
	}
}

func TestRequire(t *testing.T) {
	cfg := &Config{BucketName: "siftbeam"}

	if err := cfg.Require(EnvBucketName); err != nil {
		t.Errorf("Require(bucket) unexpected error: %v", err)
	}

	err := cfg.Require(EnvBucketName, EnvStateMachineARN, EnvUserPoolID)
	if err == nil {
		t.Fatal("Require() should have returned error")
	}
	for _, name := range []string{EnvStateMachineARN, EnvUserPoolID} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("Require() error %q does not name %s", err, name)
		}
	}
}

func TestLoad_DotEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env.test"), []byte("S3_BUCKET_NAME=from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv(EnvAppEnv, "test")
	t.Setenv(EnvBucketName, "")
	// godotenv never overrides variables that are already set, even to "".
	os.Unsetenv(EnvBucketName)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.BucketName != "from-dotenv" {
		t.Errorf("BucketName = %q, want from-dotenv", cfg.BucketName)
	}
	os.Unsetenv(EnvBucketName)
}
