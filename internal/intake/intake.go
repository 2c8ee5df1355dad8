// Package intake accepts upload batches. A batch gets one processing history
// record, one object per file and a sentinel object that is always written
// last.
package intake

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/siftbeam/upload-pipeline/internal/domain"
	"github.com/siftbeam/upload-pipeline/internal/keys"
	"github.com/siftbeam/upload-pipeline/internal/sentinel"
)

// Batch limits.
const (
	MaxFiles    = 10
	MaxFileSize = 100 * 1024 * 1024
)

// DefaultUserName is used when an API key has no name.
const DefaultUserName = "API User"

// Principal is the authenticated caller.
type Principal struct {
	APIKeyID string
}

// File is one file of an immediate upload.
type File struct {
	Name string
	Data []byte
	// ContentType is the type declared by the caller, if any. It is only
	// honoured when the policy accepts it.
	ContentType string
}

// UploadedFile describes a stored file.
type UploadedFile struct {
	FileName    string `json:"fileName"`
	S3Key       string `json:"s3Key"`
	FileSize    int64  `json:"fileSize"`
	ContentType string `json:"contentType"`
}

// UploadResult is returned by immediate uploads.
type UploadResult struct {
	ProcessingHistoryID string         `json:"processingHistoryId"`
	S3Bucket            string         `json:"s3Bucket"`
	Files               []UploadedFile `json:"files"`
	Status              string         `json:"status"`
	UploadedAt          string         `json:"uploadedAt"`
}

// UploadURL is a pre-signed PUT for one file. Headers were signed with the
// URL and must be sent as given.
type UploadURL struct {
	FileName    string            `json:"fileName"`
	UploadURL   string            `json:"uploadUrl"`
	Headers     map[string]string `json:"headers"`
	S3Key       string            `json:"s3Key"`
	ContentType string            `json:"contentType"`
	ExpiresIn   int               `json:"expiresIn"`
}

// PresignResult is returned by pre-signed negotiations. The caller uploads
// every file first and TriggerContent to TriggerURL last.
type PresignResult struct {
	ProcessingHistoryID string            `json:"processingHistoryId"`
	UploadURLs          []UploadURL       `json:"uploadUrls"`
	TriggerURL          string            `json:"triggerUrl"`
	TriggerHeaders      map[string]string `json:"triggerHeaders"`
	TriggerContent      *sentinel.Body    `json:"triggerContent"`
	ExpiresIn           int               `json:"expiresIn"`
	Instructions        map[string]string `json:"instructions"`
}

// Service implements upload intake.
type Service struct {
	identities    domain.IdentityStore
	histories     domain.HistoryStore
	objects       domain.ObjectStore
	bucket        string
	presignExpiry time.Duration
	logger        *zap.Logger

	newID func() string
	now   func() time.Time
	// files is the directory file-path uploads read from. Nil disables them.
	files fs.FS
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides processing history id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithUploadRoot enables file-path uploads for files under dir.
func WithUploadRoot(dir string) Option {
	return func(s *Service) {
		if dir != "" {
			s.files = os.DirFS(dir)
		}
	}
}

// WithFiles enables file-path uploads for files in fsys.
func WithFiles(fsys fs.FS) Option {
	return func(s *Service) { s.files = fsys }
}

// New creates a Service.
func New(identities domain.IdentityStore, histories domain.HistoryStore, objects domain.ObjectStore,
	bucket string, presignExpiry time.Duration, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		identities:    identities,
		histories:     histories,
		objects:       objects,
		bucket:        bucket,
		presignExpiry: presignExpiry,
		logger:        logger,
		newID:         uuid.NewString,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// resolved is the identity and policy behind a request.
type resolved struct {
	identity          domain.Identity
	policyName        string
	acceptedFileTypes []string
}

// plannedFile is a validated file with its key and content type.
type plannedFile struct {
	name        string
	key         string
	contentType string
	data        []byte
}

// Upload stores files and then the sentinel. Validation happens before any
// write; the history record is written before any object.
func (s *Service) Upload(ctx context.Context, p Principal, files []File) (*UploadResult, error) {
	if err := checkCount(len(files)); err != nil {
		return nil, err
	}
	for _, f := range files {
		if len(f.Data) > MaxFileSize {
			return nil, domain.NewValidationError("file %q is too large: %d bytes (max %d)", f.Name, len(f.Data), MaxFileSize)
		}
	}

	r, err := s.resolve(ctx, p)
	if err != nil {
		return nil, err
	}

	id := s.newID()
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	planned, err := planFiles(r, id, names)
	if err != nil {
		return nil, err
	}
	for i, f := range files {
		planned[i].data = f.Data
		if f.ContentType != "" && contains(r.acceptedFileTypes, f.ContentType) {
			planned[i].contentType = f.ContentType
		}
	}

	now := s.now()
	h := s.newHistory(r, id, planned, domain.StatusInProgress, now)
	if err := s.histories.CreateHistory(ctx, h); err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("processingHistoryId", id), zap.String("customerId", r.identity.CustomerID))
	log.Info("processing history created", zap.Int("fileCount", len(planned)))

	meta := domain.NewInputMetadata(r.identity, id, now, false)
	result := &UploadResult{
		ProcessingHistoryID: id,
		S3Bucket:            s.bucket,
		Status:              domain.StatusInProgress,
		UploadedAt:          domain.FormatTime(now),
	}
	var total int64
	for _, f := range planned {
		if err := s.objects.PutObject(ctx, f.key, f.data, f.contentType, meta); err != nil {
			log.Error("file upload failed, sentinel not written", zap.String("key", f.key), zap.Error(err))
			return nil, err
		}
		size := int64(len(f.data))
		total += size
		result.Files = append(result.Files, UploadedFile{
			FileName:    f.name,
			S3Key:       f.key,
			FileSize:    size,
			ContentType: f.contentType,
		})
	}

	body := sentinel.Build(h, domain.SourceAPI, now)
	body.UsageAmountBytes = total
	if err := s.putSentinel(ctx, r.identity, id, body, now); err != nil {
		log.Error("sentinel upload failed", zap.Error(err))
		return nil, err
	}

	log.Info("batch uploaded", zap.Int("fileCount", len(planned)), zap.Int64("totalBytes", total))
	return result, nil
}

// UploadPaths reads the named files from the upload root and uploads them.
// Paths are relative to the root; base names become the file names.
func (s *Service) UploadPaths(ctx context.Context, p Principal, paths []string) (*UploadResult, error) {
	if s.files == nil {
		return nil, domain.NewValidationError("file path uploads are not enabled")
	}
	if err := checkCount(len(paths)); err != nil {
		return nil, err
	}

	files := make([]File, 0, len(paths))
	for _, path := range paths {
		data, err := s.readLocal(path)
		if err != nil {
			return nil, err
		}
		files = append(files, File{Name: filepath.Base(path), Data: data})
	}
	return s.Upload(ctx, p, files)
}

// readLocal reads a regular file of at most MaxFileSize bytes below the
// upload root.
func (s *Service) readLocal(path string) ([]byte, error) {
	if !filepath.IsLocal(path) {
		return nil, domain.NewValidationError("file path %q must be relative to the upload root", path)
	}
	name := filepath.ToSlash(filepath.Clean(path))

	info, err := fs.Stat(s.files, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.NewValidationError("file not found: %s", path)
		}
		return nil, domain.NewValidationError("failed to read file %s: %v", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, domain.NewValidationError("%s is not a regular file", path)
	}
	if info.Size() > MaxFileSize {
		return nil, domain.NewValidationError("file %q is too large: %d bytes (max %d)", path, info.Size(), MaxFileSize)
	}

	f, err := s.files.Open(name)
	if err != nil {
		return nil, domain.NewValidationError("failed to read file %s: %v", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxFileSize+1))
	if err != nil {
		return nil, domain.NewValidationError("failed to read file %s: %v", path, err)
	}
	if len(data) > MaxFileSize {
		return nil, domain.NewValidationError("file %q is too large (max %d bytes)", path, MaxFileSize)
	}
	return data, nil
}

// Presign negotiates a pre-signed upload. Nothing is written to object
// storage; the history record is created in pending state.
func (s *Service) Presign(ctx context.Context, p Principal, fileNames []string) (*PresignResult, error) {
	if err := checkCount(len(fileNames)); err != nil {
		return nil, err
	}

	r, err := s.resolve(ctx, p)
	if err != nil {
		return nil, err
	}

	id := s.newID()
	planned, err := planFiles(r, id, fileNames)
	if err != nil {
		return nil, err
	}

	now := s.now()
	expiresIn := int(s.presignExpiry.Seconds())
	meta := domain.NewInputMetadata(r.identity, id, now, false)

	urls := make([]UploadURL, 0, len(planned))
	for _, f := range planned {
		u, err := s.objects.PresignPutObject(ctx, f.key, f.contentType, meta, s.presignExpiry)
		if err != nil {
			return nil, err
		}
		urls = append(urls, UploadURL{
			FileName:    f.name,
			UploadURL:   u.URL,
			Headers:     u.Headers,
			S3Key:       f.key,
			ContentType: f.contentType,
			ExpiresIn:   expiresIn,
		})
	}

	triggerKey := keys.SentinelKey(r.identity.CustomerID, id)
	triggerMeta := domain.NewInputMetadata(r.identity, id, now, true)
	trigger, err := s.objects.PresignPutObject(ctx, triggerKey, sentinelContentType, triggerMeta, s.presignExpiry)
	if err != nil {
		return nil, err
	}

	h := s.newHistory(r, id, planned, domain.StatusPending, now)
	if err := s.histories.CreateHistory(ctx, h); err != nil {
		return nil, err
	}
	s.logger.Info("upload urls generated",
		zap.String("processingHistoryId", id),
		zap.String("customerId", r.identity.CustomerID),
		zap.Int("fileCount", len(planned)))

	return &PresignResult{
		ProcessingHistoryID: id,
		UploadURLs:          urls,
		TriggerURL:          trigger.URL,
		TriggerHeaders:      trigger.Headers,
		TriggerContent:      sentinel.Build(h, domain.SourceAPI, now),
		ExpiresIn:           expiresIn,
		Instructions: map[string]string{
			"step1": "PUT each file to its uploadUrl, sending every entry of its headers unchanged.",
			"step2": "After every file has been uploaded, PUT triggerContent to triggerUrl with triggerHeaders.",
			"step3": "Processing starts automatically once the trigger file arrives.",
		},
	}, nil
}

func (s *Service) resolve(ctx context.Context, p Principal) (*resolved, error) {
	if p.APIKeyID == "" {
		return nil, domain.NewValidationError("api key id is required")
	}

	key, err := s.identities.GetAPIKey(ctx, p.APIKeyID)
	if err != nil {
		return nil, err
	}
	if key.PolicyID == "" {
		return nil, domain.NewValidationError("api key %s has no policy", p.APIKeyID)
	}
	if key.CustomerID == "" {
		return nil, domain.NewValidationError("api key %s has no customer", p.APIKeyID)
	}

	policy, err := s.identities.GetPolicy(ctx, key.PolicyID)
	if err != nil {
		return nil, err
	}

	userName := key.APIName
	if userName == "" {
		userName = DefaultUserName
	}
	return &resolved{
		identity: domain.Identity{
			CustomerID: key.CustomerID,
			PolicyID:   key.PolicyID,
			UserID:     p.APIKeyID,
			UserName:   userName,
		},
		policyName:        policy.PolicyName,
		acceptedFileTypes: policy.AcceptedFileTypes,
	}, nil
}

func (s *Service) newHistory(r *resolved, id string, planned []plannedFile, status string, now time.Time) *domain.ProcessingHistory {
	fileKeys := make([]string, len(planned))
	for i, f := range planned {
		fileKeys[i] = f.key
	}
	at := domain.FormatTime(now)
	return &domain.ProcessingHistory{
		ID:               id,
		UserID:           r.identity.UserID,
		UserName:         r.identity.UserName,
		CustomerID:       r.identity.CustomerID,
		PolicyID:         r.identity.PolicyID,
		PolicyName:       r.policyName,
		Status:           status,
		UploadedFileKeys: fileKeys,
		DownloadS3Keys:   []string{},
		UsageAmountBytes: 0,
		AITrainingUsage:  domain.AITrainingAllow,
		RequestedAt:      at,
		CreatedAt:        at,
		UpdatedAt:        at,
	}
}

func (s *Service) putSentinel(ctx context.Context, id domain.Identity, historyID string, body *sentinel.Body, now time.Time) error {
	data, err := sentinel.Encode(body)
	if err != nil {
		return err
	}
	meta := domain.NewInputMetadata(id, historyID, now, true)
	return s.objects.PutObject(ctx, keys.SentinelKey(id.CustomerID, historyID), data, sentinelContentType, meta)
}

// planFiles validates names and computes keys and content types in manifest order.
func planFiles(r *resolved, id string, names []string) ([]plannedFile, error) {
	planned := make([]plannedFile, 0, len(names))
	seen := make(map[string]string, len(names))
	for _, name := range names {
		if name == "" {
			return nil, domain.NewValidationError("file name is required")
		}
		sanitized := keys.SanitizeFileName(name)
		if sanitized == "" {
			return nil, domain.NewValidationError("file name %q has no usable characters", name)
		}
		if prev, ok := seen[sanitized]; ok {
			return nil, domain.NewValidationError("file names %q and %q map to the same key", prev, name)
		}
		seen[sanitized] = name

		planned = append(planned, plannedFile{
			name:        name,
			key:         keys.Encode(keys.KindInput, r.identity.CustomerID, id, name),
			contentType: ResolveContentType(name, r.acceptedFileTypes),
		})
	}
	return planned, nil
}

func checkCount(n int) error {
	if n == 0 {
		return domain.NewValidationError("no files specified")
	}
	if n > MaxFiles {
		return domain.NewValidationError("too many files: %d (max %d)", n, MaxFiles)
	}
	return nil
}
