// Package trigger starts the processing state machine for completed batches.
// Only the sentinel carries the trigger flag, so ordinary file notifications
// are skipped and each batch launches once.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/siftbeam/upload-pipeline/internal/domain"
	"github.com/siftbeam/upload-pipeline/internal/keys"
	"github.com/siftbeam/upload-pipeline/internal/logging"
	"github.com/siftbeam/upload-pipeline/internal/s3event"
	"github.com/siftbeam/upload-pipeline/internal/sentinel"
)

// MaxExecutionNameLength is the Step Functions limit on execution names.
const MaxExecutionNameLength = 80

const nameTimeLayout = "20060102-150405"

// Record outcomes.
const (
	StatusProcessed = "processed"
	StatusSkipped   = "skipped"
)

// Outcome is the result of one notification record.
type Outcome struct {
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
	ExecutionARN string `json:"executionArn,omitempty"`
}

func skipped(format string, args ...any) *Outcome {
	return &Outcome{Status: StatusSkipped, Reason: fmt.Sprintf(format, args...)}
}

// Result counts the outcomes of a notification batch.
type Result struct {
	Message   string `json:"message"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Errors    int    `json:"errors"`
}

// ExecutionInput is the state machine input.
type ExecutionInput struct {
	ProcessingHistoryID string   `json:"processingHistoryId"`
	CustomerID          string   `json:"customerId"`
	UserID              string   `json:"userId"`
	UserName            string   `json:"userName"`
	PolicyID            string   `json:"policyId"`
	PolicyName          string   `json:"policyName"`
	InputS3Bucket       string   `json:"inputS3Bucket"`
	UploadedFileKeys    []string `json:"uploadedFileKeys"`
	DownloadS3Keys      []string `json:"downloadS3Keys"`
	AITrainingUsage     string   `json:"aiTrainingUsage"`
	FileSizeBytes       int64    `json:"fileSizeBytes"`
	UsageAmountBytes    int64    `json:"usageAmountBytes"`
	CreatedAt           string   `json:"createdAt"`
}

// NewExecutionInput builds the state machine input for a history record.
func NewExecutionInput(bucket string, h *domain.ProcessingHistory) *ExecutionInput {
	in := &ExecutionInput{
		ProcessingHistoryID: h.ID,
		CustomerID:          h.CustomerID,
		UserID:              h.UserID,
		UserName:            h.UserName,
		PolicyID:            h.PolicyID,
		PolicyName:          h.PolicyName,
		InputS3Bucket:       bucket,
		UploadedFileKeys:    h.UploadedFileKeys,
		DownloadS3Keys:      h.DownloadS3Keys,
		AITrainingUsage:     h.AITrainingUsage,
		FileSizeBytes:       h.FileSizeBytes,
		UsageAmountBytes:    h.UsageAmountBytes,
		CreatedAt:           h.CreatedAt,
	}
	if in.UploadedFileKeys == nil {
		in.UploadedFileKeys = []string{}
	}
	if in.DownloadS3Keys == nil {
		in.DownloadS3Keys = []string{}
	}
	if in.AITrainingUsage == "" {
		in.AITrainingUsage = domain.AITrainingAllow
	}
	return in
}

// ExecutionName derives the execution name from the history id, the current
// time and the remaining invocation time.
func ExecutionName(processingHistoryID string, at time.Time, remaining time.Duration) string {
	name := fmt.Sprintf("%s-%s-%d", processingHistoryID, at.UTC().Format(nameTimeLayout), remaining.Milliseconds())
	return truncate(name, MaxExecutionNameLength)
}

// RetryName appends a low-order millisecond suffix to name, shortening name
// so the result still fits the limit.
func RetryName(name string, at time.Time) string {
	suffix := fmt.Sprintf("-%d", at.UnixMilli()%10000)
	return truncate(name, MaxExecutionNameLength-len(suffix)) + suffix
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Dispatcher validates sentinel notifications and starts executions.
type Dispatcher struct {
	histories       domain.HistoryStore
	objects         domain.ObjectStore
	orchestrator    domain.Orchestrator
	logger          *zap.Logger
	blockOnMismatch bool
	now             func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithBlockOnMismatch skips batches whose sentinel fileCount disagrees with
// the manifest, or whose sentinel cannot be read. By default such batches are
// only logged.
func WithBlockOnMismatch(block bool) Option {
	return func(d *Dispatcher) { d.blockOnMismatch = block }
}

// New creates a Dispatcher.
func New(histories domain.HistoryStore, objects domain.ObjectStore, orchestrator domain.Orchestrator,
	logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		histories:    histories,
		objects:      objects,
		orchestrator: orchestrator,
		logger:       logger,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle dispatches every record of event. A failing record is counted as an
// error and does not affect the others.
func (d *Dispatcher) Handle(ctx context.Context, event events.S3Event) (*Result, error) {
	log := logging.WithRequest(ctx, d.logger)
	result := &Result{Message: "Processing completed"}

	for _, record := range event.Records {
		bucket := record.S3.Bucket.Name
		key, err := s3event.ObjectKey(record)
		if err != nil {
			log.Warn("record skipped", zap.Error(err))
			result.Skipped++
			continue
		}

		outcome, err := d.Dispatch(ctx, bucket, key)
		switch {
		case err != nil:
			log.Error("failed to dispatch record", zap.String("key", key), zap.Error(err))
			result.Errors++
		case outcome.Status == StatusProcessed:
			log.Info("execution started", zap.String("key", key), zap.String("executionArn", outcome.ExecutionARN))
			result.Processed++
		default:
			log.Info("record skipped", zap.String("key", key), zap.String("reason", outcome.Reason))
			result.Skipped++
		}
	}
	return result, nil
}

// Dispatch validates one object and starts its execution. Errors are
// returned only for failed dependency calls; everything else is an outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, bucket, key string) (*Outcome, error) {
	p, err := keys.Decode(key)
	if err != nil {
		return skipped("%v", err), nil
	}
	if p.Kind != keys.KindInput {
		return skipped("non-input file type: %s", p.Kind), nil
	}

	info, err := d.objects.HeadObject(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return skipped("object not found"), nil
		}
		return nil, err
	}
	if !info.Metadata.TriggersOrchestration() {
		return skipped("triggerStepFunction is not true"), nil
	}

	h, err := d.histories.GetHistory(ctx, p.ProcessingHistoryID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return skipped("processing history not found: %s", p.ProcessingHistoryID), nil
		}
		return nil, err
	}
	if h.CustomerID != p.CustomerID {
		d.logger.Warn("customer id mismatch",
			zap.String("key", key),
			zap.String("pathCustomerId", p.CustomerID),
			zap.String("historyCustomerId", h.CustomerID))
		return skipped("customer id mismatch"), nil
	}

	if reason := d.checkManifest(ctx, key, h); reason != "" {
		if d.blockOnMismatch {
			return skipped("%s", reason), nil
		}
		d.logger.Warn("starting execution despite manifest check", zap.String("key", key), zap.String("reason", reason))
	}

	arn, err := d.start(ctx, h.ID, NewExecutionInput(bucket, h))
	if err != nil {
		return nil, err
	}
	return &Outcome{Status: StatusProcessed, ExecutionARN: arn}, nil
}

// checkManifest compares the sentinel's declared file count with the
// manifest. It returns a reason when they disagree or cannot be compared.
func (d *Dispatcher) checkManifest(ctx context.Context, key string, h *domain.ProcessingHistory) string {
	data, err := d.objects.GetObject(ctx, key)
	if err != nil {
		return fmt.Sprintf("sentinel unreadable: %v", err)
	}
	body, err := sentinel.Decode(data)
	if err != nil {
		return err.Error()
	}
	if !body.ManifestMatches(h.UploadedFileKeys) {
		return fmt.Sprintf("file count mismatch: sentinel declares %d, manifest has %d", body.FileCount, len(h.UploadedFileKeys))
	}
	return ""
}

// start launches the execution, retrying once under a suffixed name when the
// first name is taken.
func (d *Dispatcher) start(ctx context.Context, processingHistoryID string, in *ExecutionInput) (string, error) {
	input, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("failed to marshal execution input: %w", err)
	}

	name := ExecutionName(processingHistoryID, d.now(), remaining(ctx))
	arn, err := d.orchestrator.StartExecution(ctx, name, input)
	if !errors.Is(err, domain.ErrExecutionAlreadyExists) {
		return arn, err
	}

	retry := RetryName(name, d.now())
	d.logger.Info("execution name taken, retrying", zap.String("name", name), zap.String("retryName", retry))
	return d.orchestrator.StartExecution(ctx, retry, input)
}

func remaining(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	if r := time.Until(deadline); r > 0 {
		return r
	}
	return 0
}
