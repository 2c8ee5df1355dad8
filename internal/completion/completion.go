// Package completion reacts to sentinel arrivals. It aggregates the actual
// byte usage of a batch into its processing history and can hand the
// notification on to the trigger dispatcher.
//
// Each sentinel is driven through an explicit state machine:
//
//	no-history -> history-found -> sizes-aggregated -> history-updated
//
// A failure in any transition drops the record. Redelivery of the
// notification is the only retry.
package completion

import (
	"context"
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

// State is the progress of one batch through the detector.
type State int

// Detector states.
const (
	NoHistory State = iota
	HistoryFound
	SizesAggregated
	HistoryUpdated
)

var stateNames = [...]string{"no-history", "history-found", "sizes-aggregated", "history-updated"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Forwarder queues an asynchronous invocation of another function.
type Forwarder interface {
	Async(ctx context.Context, functionName string, payload any) error
}

// Result summarises one notification batch.
type Result struct {
	ProcessedCount int      `json:"processedCount"`
	TotalRecords   int      `json:"totalRecords"`
	Updated        []string `json:"updated"`
}

// Batch is one sentinel as it moves through the states.
type Batch struct {
	Key      string
	Path     keys.Path
	State    State
	History  *domain.ProcessingHistory
	Sentinel *sentinel.Body
	// UsageAmountBytes is the sum of the manifest object sizes.
	UsageAmountBytes int64
	// Missing lists manifest keys whose size could not be read.
	Missing []string
	// ManifestMatches is false when the sentinel's fileCount disagrees with
	// the manifest length.
	ManifestMatches bool
}

func (b *Batch) transition(from, to State) error {
	if b.State != from {
		return fmt.Errorf("batch %s: cannot move to %s from %s", b.Path.ProcessingHistoryID, to, b.State)
	}
	b.State = to
	return nil
}

// Detector processes sentinel notifications.
type Detector struct {
	histories domain.HistoryStore
	objects   domain.ObjectStore
	logger    *zap.Logger
	now       func() time.Time

	forwarder Forwarder
	forwardTo string
}

// Option configures a Detector.
type Option func(*Detector)

// WithForwarder forwards every successfully updated notification to
// functionName. An empty name disables forwarding.
func WithForwarder(f Forwarder, functionName string) Option {
	return func(d *Detector) {
		d.forwarder = f
		d.forwardTo = functionName
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// New creates a Detector.
func New(histories domain.HistoryStore, objects domain.ObjectStore, logger *zap.Logger, opts ...Option) *Detector {
	d := &Detector{
		histories: histories,
		objects:   objects,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle processes every record of event. Records are isolated from each
// other; a failed record is logged and counted as not processed.
func (d *Detector) Handle(ctx context.Context, event events.S3Event) (*Result, error) {
	log := logging.WithRequest(ctx, d.logger)
	result := &Result{TotalRecords: len(event.Records), Updated: []string{}}

	for _, record := range event.Records {
		key, err := s3event.ObjectKey(record)
		if err != nil {
			log.Warn("skipping record", zap.Error(err))
			continue
		}

		batch, err := d.Process(ctx, key)
		if err != nil {
			log.Warn("sentinel dropped",
				zap.String("key", key),
				zap.Stringer("state", batch.State),
				zap.Error(err))
			continue
		}
		if batch == nil {
			log.Warn("non-sentinel object ignored, check the notification suffix filter", zap.String("key", key))
			continue
		}

		result.ProcessedCount++
		result.Updated = append(result.Updated, batch.Path.ProcessingHistoryID)
		d.forward(ctx, log, record)
	}

	log.Info("notifications processed",
		zap.Int("processedCount", result.ProcessedCount),
		zap.Int("totalRecords", result.TotalRecords))
	return result, nil
}

// Process runs one sentinel key through the state machine. It returns a nil
// batch for keys that are not input sentinels. On error the returned batch
// holds the state that was reached.
func (d *Detector) Process(ctx context.Context, key string) (*Batch, error) {
	p, err := keys.Decode(key)
	if err != nil || p.Kind != keys.KindInput || !p.IsSentinel() {
		return nil, nil
	}

	b := &Batch{Key: key, Path: p, State: NoHistory}
	log := d.logger.With(zap.String("processingHistoryId", p.ProcessingHistoryID))

	if err := d.findHistory(ctx, b); err != nil {
		return b, err
	}
	if err := d.aggregateSizes(ctx, log, b); err != nil {
		return b, err
	}
	if err := d.updateHistory(ctx, b); err != nil {
		return b, err
	}

	b.ManifestMatches = b.Sentinel.ManifestMatches(b.History.UploadedFileKeys)
	if !b.ManifestMatches {
		log.Warn("file count mismatch",
			zap.Int("expected", b.Sentinel.FileCount),
			zap.Int("actual", len(b.History.UploadedFileKeys)))
	}

	log.Info("upload completed",
		zap.Int64("usageAmountBytes", b.UsageAmountBytes),
		zap.Int("missingObjects", len(b.Missing)))
	return b, nil
}

// findHistory: no-history -> history-found.
func (d *Detector) findHistory(ctx context.Context, b *Batch) error {
	h, err := d.histories.GetHistory(ctx, b.Path.ProcessingHistoryID)
	if err != nil {
		return err
	}
	b.History = h
	return b.transition(NoHistory, HistoryFound)
}

// aggregateSizes: history-found -> sizes-aggregated. Objects that cannot be
// read count as zero bytes.
func (d *Detector) aggregateSizes(ctx context.Context, log *zap.Logger, b *Batch) error {
	data, err := d.objects.GetObject(ctx, b.Key)
	if err != nil {
		return err
	}
	body, err := sentinel.Decode(data)
	if err != nil {
		return err
	}
	b.Sentinel = body

	var total int64
	for _, key := range body.UploadedFileKeys {
		info, err := d.objects.HeadObject(ctx, key)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				log.Warn("failed to read object size", zap.String("key", key), zap.Error(err))
			} else {
				log.Warn("manifest object missing", zap.String("key", key))
			}
			b.Missing = append(b.Missing, key)
			continue
		}
		total += info.Size
	}
	b.UsageAmountBytes = total
	return b.transition(HistoryFound, SizesAggregated)
}

// updateHistory: sizes-aggregated -> history-updated.
func (d *Detector) updateHistory(ctx context.Context, b *Batch) error {
	err := d.histories.CompleteUpload(ctx, b.Path.ProcessingHistoryID, domain.UploadCompletion{
		UsageAmountBytes: b.UsageAmountBytes,
		CompletedAt:      d.now(),
	})
	if err != nil {
		return err
	}
	return b.transition(SizesAggregated, HistoryUpdated)
}

func (d *Detector) forward(ctx context.Context, log *zap.Logger, record events.S3EventRecord) {
	if d.forwarder == nil || d.forwardTo == "" {
		return
	}
	if err := d.forwarder.Async(ctx, d.forwardTo, s3event.Single(record)); err != nil {
		log.Error("failed to forward notification", zap.String("function", d.forwardTo), zap.Error(err))
	}
}
