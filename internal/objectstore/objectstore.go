// Package objectstore implements domain.ObjectStore on Amazon S3.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/siftbeam/upload-pipeline/internal/domain"
)

// S3API is the subset of the S3 client used by the store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// PresignAPI is the subset of the S3 presign client used by the store.
type PresignAPI interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Store is an S3 bucket.
type Store struct {
	client    S3API
	presigner PresignAPI
	bucket    string
}

// New creates a Store for bucket.
func New(client S3API, presigner PresignAPI, bucket string) *Store {
	return &Store{client: client, presigner: presigner, bucket: bucket}
}

// PutObject implements domain.ObjectStore.
func (s *Store) PutObject(ctx context.Context, key string, body []byte, contentType string, metadata domain.ObjectMetadata) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
		Metadata:      metadata,
	})
	if err != nil {
		return domain.DependencyError("put "+key, err)
	}
	return nil
}

// GetObject implements domain.ObjectStore.
func (s *Store) GetObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, &domain.NotFoundError{Resource: "object", ID: key}
		}
		return nil, domain.DependencyError("get "+key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, domain.MaxGetObjectSize+1))
	if err != nil {
		return nil, domain.DependencyError("read "+key, err)
	}
	if len(data) > domain.MaxGetObjectSize {
		return nil, domain.NewValidationError("object %s is larger than %d bytes", key, domain.MaxGetObjectSize)
	}
	return data, nil
}

// HeadObject implements domain.ObjectStore.
func (s *Store) HeadObject(ctx context.Context, key string) (*domain.ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, &domain.NotFoundError{Resource: "object", ID: key}
		}
		return nil, domain.DependencyError("head "+key, err)
	}
	return &domain.ObjectInfo{
		Key:         key,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
		Metadata:    domain.ObjectMetadata(out.Metadata),
	}, nil
}

// PresignPutObject implements domain.ObjectStore. Metadata is signed as
// x-amz-meta-* headers, so the returned headers must accompany the PUT.
func (s *Store) PresignPutObject(ctx context.Context, key, contentType string, metadata domain.ObjectMetadata, expires time.Duration) (*domain.PresignedPut, error) {
	req, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
		Metadata:    metadata,
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return nil, domain.DependencyError("presign "+key, err)
	}

	headers := make(map[string]string, len(req.SignedHeader))
	for name, values := range req.SignedHeader {
		// Host is set by the HTTP client from the URL.
		if strings.EqualFold(name, "Host") {
			continue
		}
		headers[strings.ToLower(name)] = strings.Join(values, ",")
	}
	return &domain.PresignedPut{URL: req.URL, Headers: headers}, nil
}

// ListObjects implements domain.ObjectStore.
func (s *Store) ListObjects(ctx context.Context, prefix, continuationToken string) (*domain.ObjectPage, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(domain.MaxDeleteBatch),
	}
	if continuationToken != "" {
		input.ContinuationToken = aws.String(continuationToken)
	}

	out, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, domain.DependencyError("list "+prefix, err)
	}

	page := &domain.ObjectPage{Keys: make([]string, 0, len(out.Contents))}
	for _, obj := range out.Contents {
		page.Keys = append(page.Keys, aws.ToString(obj.Key))
	}
	if aws.ToBool(out.IsTruncated) {
		page.NextToken = aws.ToString(out.NextContinuationToken)
	}
	return page, nil
}

// DeleteObjects implements domain.ObjectStore in quiet mode, so only failures
// are reported back by S3.
func (s *Store) DeleteObjects(ctx context.Context, keys []string) (*domain.DeleteResult, error) {
	if len(keys) == 0 {
		return &domain.DeleteResult{}, nil
	}
	if len(keys) > domain.MaxDeleteBatch {
		return nil, fmt.Errorf("too many keys for one delete: %d > %d", len(keys), domain.MaxDeleteBatch)
	}

	ids := make([]types.ObjectIdentifier, len(keys))
	for i, k := range keys {
		ids[i] = types.ObjectIdentifier{Key: aws.String(k)}
	}

	out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return nil, domain.DependencyError("delete objects", err)
	}

	res := &domain.DeleteResult{Deleted: len(keys) - len(out.Errors)}
	for _, e := range out.Errors {
		res.Failed = append(res.Failed, domain.DeleteFailure{
			Key:     aws.ToString(e.Key),
			Message: fmt.Sprintf("%s: %s", aws.ToString(e.Code), aws.ToString(e.Message)),
		})
	}
	return res, nil
}

var (
	_ domain.ObjectStore = (*Store)(nil)

	_ S3API      = (*s3.Client)(nil)
	_ PresignAPI = (*s3.PresignClient)(nil)
)
