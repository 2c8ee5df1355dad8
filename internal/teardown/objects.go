package teardown

import (
	"context"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/siftbeam/upload-pipeline/internal/chunker"
	"github.com/siftbeam/upload-pipeline/internal/domain"
	"github.com/siftbeam/upload-pipeline/internal/keys"
)

// ObjectsResult reports an object sweep.
type ObjectsResult struct {
	StatusCode     int            `json:"statusCode"`
	DeletedObjects map[string]int `json:"deletedObjects"`
	TotalDeleted   int            `json:"totalDeleted"`
	CustomerID     string         `json:"customerId"`
	Bucket         string         `json:"bucket"`
}

// ObjectSweeper deletes a customer's input and output objects.
type ObjectSweeper struct {
	objects domain.ObjectStore
	bucket  string
	logger  *zap.Logger
}

// NewObjectSweeper creates an ObjectSweeper.
func NewObjectSweeper(objects domain.ObjectStore, bucket string, logger *zap.Logger) *ObjectSweeper {
	return &ObjectSweeper{objects: objects, bucket: bucket, logger: logger}
}

// Sweep deletes everything under service/input/{customerId}/ and
// service/output/{customerId}/. The prefixes are swept concurrently; a
// listing or request failure on either fails the sweep.
func (s *ObjectSweeper) Sweep(ctx context.Context, e Event) (*ObjectsResult, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("customerId", e.CustomerID), zap.String("executionId", e.executionID()))
	log.Info("starting object deletion")

	var inputCount, outputCount int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.deletePrefix(gctx, log, keys.CustomerPrefix(keys.KindInput, e.CustomerID))
		inputCount = n
		return err
	})
	g.Go(func() error {
		n, err := s.deletePrefix(gctx, log, keys.CustomerPrefix(keys.KindOutput, e.CustomerID))
		outputCount = n
		return err
	})
	if err := g.Wait(); err != nil {
		log.Error("object deletion failed",
			zap.Int("inputDeleted", inputCount),
			zap.Int("outputDeleted", outputCount),
			zap.Error(err))
		return nil, err
	}

	total := inputCount + outputCount
	log.Info("objects deleted", zap.Int("totalDeleted", total))
	return &ObjectsResult{
		StatusCode: http.StatusOK,
		DeletedObjects: map[string]int{
			string(keys.KindInput):  inputCount,
			string(keys.KindOutput): outputCount,
		},
		TotalDeleted: total,
		CustomerID:   e.CustomerID,
		Bucket:       s.bucket,
	}, nil
}

// deletePrefix pages through prefix and deletes each page. It returns the
// number of objects actually deleted.
func (s *ObjectSweeper) deletePrefix(ctx context.Context, log *zap.Logger, prefix string) (int, error) {
	deleted := 0
	token := ""
	for {
		page, err := s.objects.ListObjects(ctx, prefix, token)
		if err != nil {
			return deleted, err
		}

		for _, batch := range chunker.Chunk(page.Keys, chunker.MaxDeleteObjects) {
			res, err := s.objects.DeleteObjects(ctx, batch)
			if err != nil {
				return deleted, err
			}
			deleted += res.Deleted
			for _, f := range res.Failed {
				log.Warn("failed to delete object", zap.String("key", f.Key), zap.String("message", f.Message))
			}
		}

		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
	log.Info("prefix deleted", zap.String("prefix", prefix), zap.Int("deleted", deleted))
	return deleted, nil
}
