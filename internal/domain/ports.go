package domain

import (
	"context"
	"time"
)

// HistoryStore persists processing history records.
type HistoryStore interface {
	// CreateHistory writes a new record. The manifest is fixed from here on.
	CreateHistory(ctx context.Context, h *ProcessingHistory) error
	// GetHistory returns a *NotFoundError when the record does not exist.
	GetHistory(ctx context.Context, id string) (*ProcessingHistory, error)
	// CompleteUpload records the aggregated usage of a batch and marks it in progress.
	CompleteUpload(ctx context.Context, id string, c UploadCompletion) error
}

// IdentityStore resolves API keys and policies.
type IdentityStore interface {
	GetAPIKey(ctx context.Context, apiKeyID string) (*APIKey, error)
	GetPolicy(ctx context.Context, policyID string) (*Policy, error)
}

// ObjectInfo is the result of a HEAD request.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	Metadata    ObjectMetadata
}

// ObjectPage is one page of a prefix listing.
type ObjectPage struct {
	Keys      []string
	NextToken string
}

// DeleteFailure is a key the store refused to delete.
type DeleteFailure struct {
	Key     string
	Message string
}

// DeleteResult reports a batch delete.
type DeleteResult struct {
	Deleted int
	Failed  []DeleteFailure
}

// PresignedPut is a pre-signed PUT request. Headers are signed along with the
// URL and must be sent unchanged with the upload.
type PresignedPut struct {
	URL     string
	Headers map[string]string
}

// MaxGetObjectSize is the largest object GetObject reads into memory.
const MaxGetObjectSize = 1 << 20

// ObjectStore is the object storage used for batch files and sentinels.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string, metadata ObjectMetadata) error
	// GetObject fails with a *ValidationError when the object is larger than
	// MaxGetObjectSize.
	GetObject(ctx context.Context, key string) ([]byte, error)
	// HeadObject returns a *NotFoundError when the key does not exist.
	HeadObject(ctx context.Context, key string) (*ObjectInfo, error)
	PresignPutObject(ctx context.Context, key, contentType string, metadata ObjectMetadata, expires time.Duration) (*PresignedPut, error)
	ListObjects(ctx context.Context, prefix, continuationToken string) (*ObjectPage, error)
	// DeleteObjects deletes at most MaxDeleteBatch keys.
	DeleteObjects(ctx context.Context, keys []string) (*DeleteResult, error)
}

// MaxDeleteBatch is the largest batch accepted by ObjectStore.DeleteObjects.
const MaxDeleteBatch = 1000

// Orchestrator starts state machine executions.
type Orchestrator interface {
	// StartExecution returns the execution ARN. A name collision is reported
	// as an error matching ErrExecutionAlreadyExists.
	StartExecution(ctx context.Context, name string, input []byte) (string, error)
}

// UserPage is one page of directory users.
type UserPage struct {
	Usernames []string
	NextToken string
}

// Directory is the user directory.
type Directory interface {
	ListUsersByCustomer(ctx context.Context, customerID, paginationToken string) (*UserPage, error)
	DeleteUser(ctx context.Context, username string) error
}

// Record is a key-value row with numbers already normalized to native types.
type Record map[string]any

// RecordStore is the generic key-value access used by account teardown.
type RecordStore interface {
	// QueryByCustomer returns every row of table whose customerId matches. An
	// empty index queries the table's partition key directly.
	QueryByCustomer(ctx context.Context, table, index, customerID string) ([]Record, error)
	// DeleteRecords deletes rows by primary key and returns how many were removed.
	DeleteRecords(ctx context.Context, table string, keys []Record) (int, error)
}
