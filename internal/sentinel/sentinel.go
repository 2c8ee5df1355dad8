// Package sentinel encodes and decodes the _trigger.json object that closes an
// upload batch.
package sentinel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/siftbeam/upload-pipeline/internal/domain"
)

// APIVersion is stamped into sentinels written by the HTTP API.
const APIVersion = "2025-10-30"

// Metadata describes who wrote the sentinel.
type Metadata struct {
	Source     string `json:"source"`
	APIVersion string `json:"apiVersion,omitempty"`
}

// Body is the content of a sentinel object.
type Body struct {
	ProcessingHistoryID string   `json:"processing-historyId"`
	UserID              string   `json:"userId"`
	UserName            string   `json:"userName"`
	CustomerID          string   `json:"customerId"`
	PolicyID            string   `json:"policyId"`
	PolicyName          string   `json:"policyName"`
	UploadedFileKeys    []string `json:"uploadedFileKeys"`
	AITrainingUsage     string   `json:"aiTrainingUsage"`
	FileCount           int      `json:"fileCount"`
	UsageAmountBytes    int64    `json:"usageAmountBytes"`
	CreatedAt           string   `json:"createdAt"`
	Metadata            Metadata `json:"metadata"`
}

// Build derives a sentinel body from a freshly created history record.
func Build(h *domain.ProcessingHistory, source string, createdAt time.Time) *Body {
	b := &Body{
		ProcessingHistoryID: h.ID,
		UserID:              h.UserID,
		UserName:            h.UserName,
		CustomerID:          h.CustomerID,
		PolicyID:            h.PolicyID,
		PolicyName:          h.PolicyName,
		UploadedFileKeys:    append([]string{}, h.UploadedFileKeys...),
		AITrainingUsage:     h.AITrainingUsage,
		FileCount:           len(h.UploadedFileKeys),
		UsageAmountBytes:    h.UsageAmountBytes,
		CreatedAt:           domain.FormatTime(createdAt),
		Metadata:            Metadata{Source: source},
	}
	if b.AITrainingUsage == "" {
		b.AITrainingUsage = domain.AITrainingAllow
	}
	if source == domain.SourceAPI {
		b.Metadata.APIVersion = APIVersion
	}
	return b
}

// Encode renders the body as indented JSON.
func Encode(b *Body) ([]byte, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sentinel: %w", err)
	}
	return data, nil
}

// Decode validates data against the sentinel schema and parses it. Schema
// violations are reported as validation errors.
func Decode(data []byte) (*Body, error) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, domain.NewValidationError("sentinel is not valid JSON: %v", err)
	}
	if err := sch.Validate(inst); err != nil {
		return nil, domain.NewValidationError("sentinel does not match schema: %v", err)
	}

	var b Body
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, domain.NewValidationError("failed to parse sentinel: %v", err)
	}
	return &b, nil
}

// ManifestMatches reports whether the declared file count agrees with the
// number of keys in the manifest.
func (b *Body) ManifestMatches(manifest []string) bool {
	return b.FileCount == len(manifest)
}

const schemaURL = "https://siftbeam.com/schemas/trigger.json"

// Only the fields the pipeline relies on are required. Older writers omit the rest.
const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["uploadedFileKeys", "fileCount"],
  "properties": {
    "processing-historyId": {"type": "string"},
    "customerId": {"type": "string"},
    "uploadedFileKeys": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}
    },
    "fileCount": {"type": "integer", "minimum": 0},
    "usageAmountBytes": {"type": "integer", "minimum": 0},
    "aiTrainingUsage": {"enum": ["allow", "deny"]},
    "createdAt": {"type": "string"},
    "metadata": {
      "type": "object",
      "properties": {
        "source": {"enum": ["api", "browser"]},
        "apiVersion": {"type": "string"}
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(schemaJSON)))
		if err != nil {
			schemaErr = fmt.Errorf("failed to parse sentinel schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("failed to add sentinel schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}
