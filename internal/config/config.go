// Package config loads Lambda configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	EnvEnvironment            = "ENVIRONMENT"
	EnvAppEnv                 = "APP_ENV"
	EnvLogLevel               = "LOG_LEVEL"
	EnvBucketName             = "S3_BUCKET_NAME"
	EnvHistoryTable           = "PROCESSING_HISTORY_TABLE_NAME"
	EnvAPIKeyTable            = "API_KEY_TABLE_NAME"
	EnvPolicyTable            = "POLICY_TABLE_NAME"
	EnvPresignExpiration      = "PRESIGNED_URL_EXPIRATION"
	EnvStateMachineARN        = "PARENT_STATE_MACHINE_ARN"
	EnvUserPoolID             = "COGNITO_USER_POOL_ID"
	EnvCustomerIndex          = "CUSTOMER_CREATED_AT_INDEX"
	EnvTriggerFunctionName    = "TRIGGER_FUNCTION_NAME"
	EnvManifestMismatchPolicy = "MANIFEST_MISMATCH_POLICY"
	EnvFunctionName           = "AWS_LAMBDA_FUNCTION_NAME"
	EnvUploadRoot             = "UPLOAD_ROOT"
)

// Manifest mismatch policies.
const (
	MismatchWarn  = "warn"
	MismatchBlock = "block"
)

// Config holds the settings shared by every Lambda of the pipeline. Each
// entry point uses the subset it needs and checks it with Require.
type Config struct {
	Environment            string
	LogLevel               string
	BucketName             string
	HistoryTable           string
	APIKeyTable            string
	PolicyTable            string
	PresignExpiration      time.Duration
	StateMachineARN        string
	UserPoolID             string
	CustomerIndex          string
	TriggerFunctionName    string
	ManifestMismatchPolicy string
	FunctionName           string
	// UploadRoot is the directory file-path uploads may read from. Empty
	// disables them.
	UploadRoot string
}

// Load overlays .env files when present and reads the environment.
// Variables already set in the process take precedence over the files.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	return FromEnv()
}

// FromEnv reads the configuration from the process environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Environment:            getenv(EnvEnvironment, "dev"),
		LogLevel:               getenv(EnvLogLevel, "info"),
		BucketName:             getenv(EnvBucketName, "siftbeam"),
		HistoryTable:           getenv(EnvHistoryTable, "siftbeam-processing-history"),
		APIKeyTable:            getenv(EnvAPIKeyTable, "siftbeam-api-keys"),
		PolicyTable:            getenv(EnvPolicyTable, "siftbeam-policy"),
		StateMachineARN:        os.Getenv(EnvStateMachineARN),
		UserPoolID:             os.Getenv(EnvUserPoolID),
		CustomerIndex:          getenv(EnvCustomerIndex, "customerId-createdAt-index"),
		TriggerFunctionName:    os.Getenv(EnvTriggerFunctionName),
		ManifestMismatchPolicy: strings.ToLower(getenv(EnvManifestMismatchPolicy, MismatchWarn)),
		FunctionName:           os.Getenv(EnvFunctionName),
		UploadRoot:             os.Getenv(EnvUploadRoot),
	}

	seconds, err := strconv.Atoi(getenv(EnvPresignExpiration, "3600"))
	if err != nil || seconds <= 0 {
		return nil, fmt.Errorf("invalid %s: %q", EnvPresignExpiration, os.Getenv(EnvPresignExpiration))
	}
	cfg.PresignExpiration = time.Duration(seconds) * time.Second

	switch cfg.ManifestMismatchPolicy {
	case MismatchWarn, MismatchBlock:
	default:
		return nil, fmt.Errorf("invalid %s: %q (want %s or %s)",
			EnvManifestMismatchPolicy, cfg.ManifestMismatchPolicy, MismatchWarn, MismatchBlock)
	}

	return cfg, nil
}

// Require fails when any of the named variables resolved to an empty value.
func (c *Config) Require(names ...string) error {
	values := map[string]string{
		EnvBucketName:          c.BucketName,
		EnvHistoryTable:        c.HistoryTable,
		EnvAPIKeyTable:         c.APIKeyTable,
		EnvPolicyTable:         c.PolicyTable,
		EnvStateMachineARN:     c.StateMachineARN,
		EnvUserPoolID:          c.UserPoolID,
		EnvCustomerIndex:       c.CustomerIndex,
		EnvTriggerFunctionName: c.TriggerFunctionName,
		EnvFunctionName:        c.FunctionName,
	}

	var missing []string
	for _, name := range names {
		if values[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// BlockOnManifestMismatch reports whether a sentinel whose file count
// disagrees with the manifest must not start an execution.
func (c *Config) BlockOnManifestMismatch() bool {
	return c.ManifestMismatchPolicy == MismatchBlock
}

// loadDotEnv loads .env.{APP_ENV} and then .env. Missing files are ignored.
func loadDotEnv() error {
	var files []string
	if appEnv := os.Getenv(EnvAppEnv); appEnv != "" {
		files = append(files, ".env."+appEnv)
	}
	files = append(files, ".env")

	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
