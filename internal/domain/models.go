// Package domain contains the core domain types for the upload pipeline.
package domain

import (
	"strings"
	"time"
)

// Processing history statuses written by this pipeline. Terminal statuses are
// owned by the downstream state machine.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
)

// AI training usage flags.
const (
	AITrainingAllow = "allow"
	AITrainingDeny  = "deny"
)

// FileTypeInput is the fileType metadata value carried by every input object.
const FileTypeInput = "input"

// Sentinel sources.
const (
	SourceAPI     = "api"
	SourceBrowser = "browser"
)

// TimeLayout is the ISO-8601 UTC layout used for every timestamp we persist.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ProcessingHistory is the record of one upload batch.
type ProcessingHistory struct {
	ID                string   `dynamodbav:"processing-historyId" json:"processing-historyId"`
	UserID            string   `dynamodbav:"userId" json:"userId"`
	UserName          string   `dynamodbav:"userName" json:"userName"`
	CustomerID        string   `dynamodbav:"customerId" json:"customerId"`
	PolicyID          string   `dynamodbav:"policyId" json:"policyId"`
	PolicyName        string   `dynamodbav:"policyName" json:"policyName"`
	Status            string   `dynamodbav:"status" json:"status"`
	UploadedFileKeys  []string `dynamodbav:"uploadedFileKeys" json:"uploadedFileKeys"`
	DownloadS3Keys    []string `dynamodbav:"downloadS3Keys" json:"downloadS3Keys"`
	UsageAmountBytes  int64    `dynamodbav:"usageAmountBytes" json:"usageAmountBytes"`
	FileSizeBytes     int64    `dynamodbav:"fileSizeBytes,omitempty" json:"fileSizeBytes,omitempty"`
	AITrainingUsage   string   `dynamodbav:"aiTrainingUsage,omitempty" json:"aiTrainingUsage,omitempty"`
	RequestedAt       string   `dynamodbav:"requestedAt,omitempty" json:"requestedAt,omitempty"`
	CreatedAt         string   `dynamodbav:"createdAt" json:"createdAt"`
	UploadCompletedAt string   `dynamodbav:"uploadCompletedAt,omitempty" json:"uploadCompletedAt,omitempty"`
	UpdatedAt         string   `dynamodbav:"updatedAt" json:"updatedAt"`
}

// UploadCompletion is the mutation the completion detector applies once the
// sentinel of a batch has arrived.
type UploadCompletion struct {
	UsageAmountBytes int64
	CompletedAt      time.Time
}

// APIKey is a row of the API key table.
type APIKey struct {
	ID          string `dynamodbav:"api-keysId"`
	APIName     string `dynamodbav:"apiName"`
	PolicyID    string `dynamodbav:"policyId"`
	CustomerID  string `dynamodbav:"customerId"`
	Description string `dynamodbav:"description,omitempty"`
}

// Policy is a row of the policy table.
type Policy struct {
	ID                string   `dynamodbav:"policyId"`
	PolicyName        string   `dynamodbav:"policyName"`
	Description       string   `dynamodbav:"description,omitempty"`
	AcceptedFileTypes []string `dynamodbav:"acceptedFileTypes"`
}

// Identity is the resolved provenance of an upload request.
type Identity struct {
	CustomerID string
	PolicyID   string
	UserID     string
	UserName   string
}

// Object metadata keys. S3 lower-cases user metadata keys on read, so lookups go
// through ObjectMetadata.Get.
const (
	MetaCustomerID          = "customerId"
	MetaUserID              = "userId"
	MetaPolicyID            = "policyId"
	MetaProcessingHistoryID = "processingHistoryId"
	MetaFileType            = "fileType"
	MetaUploadedAt          = "uploadedAt"
	MetaTriggerStepFunction = "triggerStepFunction"
)

// ObjectMetadata is the user metadata attached to every input object.
type ObjectMetadata map[string]string

// NewInputMetadata builds the metadata for an input object of a batch.
func NewInputMetadata(id Identity, processingHistoryID string, uploadedAt time.Time, trigger bool) ObjectMetadata {
	return ObjectMetadata{
		MetaCustomerID:          id.CustomerID,
		MetaUserID:              id.UserID,
		MetaPolicyID:            id.PolicyID,
		MetaProcessingHistoryID: processingHistoryID,
		MetaFileType:            FileTypeInput,
		MetaUploadedAt:          FormatTime(uploadedAt),
		MetaTriggerStepFunction: FormatTriggerFlag(trigger),
	}
}

// Get looks up a metadata value ignoring the case of the key.
func (m ObjectMetadata) Get(key string) string {
	if v, ok := m[key]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// TriggersOrchestration reports whether the object carries the trigger flag.
func (m ObjectMetadata) TriggersOrchestration() bool {
	return ParseTriggerFlag(m.Get(MetaTriggerStepFunction))
}

// FormatTriggerFlag renders the wire form of the trigger flag.
func FormatTriggerFlag(trigger bool) string {
	if trigger {
		return "true"
	}
	return "false"
}

// ParseTriggerFlag parses the wire form of the trigger flag. Only the exact
// lowercase literal "true" is true.
func ParseTriggerFlag(v string) bool {
	return v == "true"
}
