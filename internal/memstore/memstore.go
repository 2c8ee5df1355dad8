// Package memstore provides in-memory implementations of the domain ports.
// They back the service tests and local runs without AWS credentials.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/siftbeam/upload-pipeline/internal/domain"
)

// Journal records writes across stores in the order they happened.
type Journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *Journal) add(format string, args ...any) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

// Entries returns a copy of the recorded writes.
func (j *Journal) Entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// HistoryStore is an in-memory domain.HistoryStore.
type HistoryStore struct {
	mu      sync.Mutex
	records map[string]domain.ProcessingHistory
	journal *Journal

	// CreateErr, GetErr and CompleteErr are returned by the matching call when set.
	CreateErr   error
	GetErr      error
	CompleteErr error
}

// NewHistoryStore creates an empty store. journal may be nil.
func NewHistoryStore(journal *Journal) *HistoryStore {
	return &HistoryStore{records: map[string]domain.ProcessingHistory{}, journal: journal}
}

// CreateHistory implements domain.HistoryStore.
func (s *HistoryStore) CreateHistory(_ context.Context, h *domain.ProcessingHistory) error {
	if s.CreateErr != nil {
		return s.CreateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[h.ID] = cloneHistory(*h)
	s.journal.add("history:create:%s", h.ID)
	return nil
}

// GetHistory implements domain.HistoryStore.
func (s *HistoryStore) GetHistory(_ context.Context, id string) (*domain.ProcessingHistory, error) {
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.records[id]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "processing history", ID: id}
	}
	c := cloneHistory(h)
	return &c, nil
}

// CompleteUpload implements domain.HistoryStore.
func (s *HistoryStore) CompleteUpload(_ context.Context, id string, c domain.UploadCompletion) error {
	if s.CompleteErr != nil {
		return s.CompleteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.records[id]
	if !ok {
		return &domain.NotFoundError{Resource: "processing history", ID: id}
	}
	at := domain.FormatTime(c.CompletedAt)
	h.UsageAmountBytes = c.UsageAmountBytes
	h.CreatedAt = at
	h.UploadCompletedAt = at
	h.UpdatedAt = at
	h.Status = domain.StatusInProgress
	s.records[id] = h
	s.journal.add("history:complete:%s", id)
	return nil
}

// Put stores a record without journaling, for test setup.
func (s *HistoryStore) Put(h domain.ProcessingHistory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[h.ID] = cloneHistory(h)
}

// Len returns the number of stored records.
func (s *HistoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func cloneHistory(h domain.ProcessingHistory) domain.ProcessingHistory {
	h.UploadedFileKeys = append([]string(nil), h.UploadedFileKeys...)
	h.DownloadS3Keys = append([]string(nil), h.DownloadS3Keys...)
	return h
}

// IdentityStore is an in-memory domain.IdentityStore.
type IdentityStore struct {
	APIKeys  map[string]domain.APIKey
	Policies map[string]domain.Policy
}

// NewIdentityStore creates an empty store.
func NewIdentityStore() *IdentityStore {
	return &IdentityStore{APIKeys: map[string]domain.APIKey{}, Policies: map[string]domain.Policy{}}
}

// GetAPIKey implements domain.IdentityStore.
func (s *IdentityStore) GetAPIKey(_ context.Context, apiKeyID string) (*domain.APIKey, error) {
	k, ok := s.APIKeys[apiKeyID]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "api key", ID: apiKeyID}
	}
	return &k, nil
}

// GetPolicy implements domain.IdentityStore.
func (s *IdentityStore) GetPolicy(_ context.Context, policyID string) (*domain.Policy, error) {
	p, ok := s.Policies[policyID]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "policy", ID: policyID}
	}
	return &p, nil
}

// Object is a stored object.
type Object struct {
	Body        []byte
	ContentType string
	Metadata    domain.ObjectMetadata
}

// ObjectStore is an in-memory domain.ObjectStore. Like S3 it returns metadata
// keys lower-cased.
type ObjectStore struct {
	mu      sync.Mutex
	objects map[string]Object
	journal *Journal

	// PageSize bounds ListObjects pages. Zero means 1000.
	PageSize int
	// PutErrs fails PutObject for the given keys.
	PutErrs map[string]error
	// GetErr, HeadErr and ListErr are returned by the matching call when set.
	GetErr  error
	HeadErr error
	ListErr error
	// DeleteFailures makes DeleteObjects report the given keys as failed.
	DeleteFailures map[string]string
}

// NewObjectStore creates an empty store. journal may be nil.
func NewObjectStore(journal *Journal) *ObjectStore {
	return &ObjectStore{objects: map[string]Object{}, journal: journal}
}

// PutObject implements domain.ObjectStore.
func (s *ObjectStore) PutObject(_ context.Context, key string, body []byte, contentType string, metadata domain.ObjectMetadata) error {
	if err, ok := s.PutErrs[key]; ok {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = Object{
		Body:        append([]byte(nil), body...),
		ContentType: contentType,
		Metadata:    lowerKeys(metadata),
	}
	s.journal.add("object:put:%s", key)
	return nil
}

// GetObject implements domain.ObjectStore.
func (s *ObjectStore) GetObject(_ context.Context, key string) ([]byte, error) {
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[key]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "object", ID: key}
	}
	return append([]byte(nil), o.Body...), nil
}

// HeadObject implements domain.ObjectStore.
func (s *ObjectStore) HeadObject(_ context.Context, key string) (*domain.ObjectInfo, error) {
	if s.HeadErr != nil {
		return nil, s.HeadErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[key]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "object", ID: key}
	}
	return &domain.ObjectInfo{
		Key:         key,
		Size:        int64(len(o.Body)),
		ContentType: o.ContentType,
		Metadata:    lowerKeys(o.Metadata),
	}, nil
}

// PresignPutObject implements domain.ObjectStore. The URL is not usable; the
// headers are the ones S3 would sign.
func (s *ObjectStore) PresignPutObject(_ context.Context, key, contentType string, metadata domain.ObjectMetadata, expires time.Duration) (*domain.PresignedPut, error) {
	headers := map[string]string{"content-type": contentType}
	for k, v := range metadata {
		headers["x-amz-meta-"+strings.ToLower(k)] = v
	}
	return &domain.PresignedPut{
		URL:     fmt.Sprintf("https://memstore.invalid/%s?expires=%d", key, int(expires.Seconds())),
		Headers: headers,
	}, nil
}

// ListObjects implements domain.ObjectStore. The continuation token is the
// last key of the previous page.
func (s *ObjectStore) ListObjects(_ context.Context, prefix, continuationToken string) (*domain.ObjectPage, error) {
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) && k > continuationToken {
			matched = append(matched, k)
		}
	}
	sort.Strings(matched)

	size := s.PageSize
	if size <= 0 {
		size = domain.MaxDeleteBatch
	}
	page := &domain.ObjectPage{}
	if len(matched) > size {
		matched = matched[:size]
		page.NextToken = matched[size-1]
	}
	page.Keys = matched
	return page, nil
}

// DeleteObjects implements domain.ObjectStore.
func (s *ObjectStore) DeleteObjects(_ context.Context, keys []string) (*domain.DeleteResult, error) {
	if len(keys) > domain.MaxDeleteBatch {
		return nil, fmt.Errorf("too many keys: %d", len(keys))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res := &domain.DeleteResult{}
	for _, k := range keys {
		if msg, ok := s.DeleteFailures[k]; ok {
			res.Failed = append(res.Failed, domain.DeleteFailure{Key: k, Message: msg})
			continue
		}
		delete(s.objects, k)
		res.Deleted++
		s.journal.add("object:delete:%s", k)
	}
	return res, nil
}

// Object returns a stored object.
func (s *ObjectStore) Object(key string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[key]
	return o, ok
}

// Keys returns every stored key in order.
func (s *ObjectStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func lowerKeys(m domain.ObjectMetadata) domain.ObjectMetadata {
	out := make(domain.ObjectMetadata, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

// Execution is a started state machine execution.
type Execution struct {
	Name  string
	Input []byte
}

// Orchestrator is an in-memory domain.Orchestrator. Names are unique, as in
// Step Functions.
type Orchestrator struct {
	mu         sync.Mutex
	executions []Execution
	names      map[string]bool

	// Taken pre-reserves names so the first start collides.
	Taken map[string]bool
	// Err is returned by every start when set.
	Err error
}

// NewOrchestrator creates an orchestrator with no executions.
func NewOrchestrator() *Orchestrator {
	return &Orchestrator{names: map[string]bool{}, Taken: map[string]bool{}}
}

// StartExecution implements domain.Orchestrator.
func (o *Orchestrator) StartExecution(_ context.Context, name string, input []byte) (string, error) {
	if o.Err != nil {
		return "", o.Err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.names[name] || o.Taken[name] {
		return "", fmt.Errorf("execution %s: %w", name, domain.ErrExecutionAlreadyExists)
	}
	o.names[name] = true
	o.executions = append(o.executions, Execution{Name: name, Input: append([]byte(nil), input...)})
	return "arn:aws:states:memstore:000000000000:execution:siftbeam:" + name, nil
}

// Executions returns the started executions in order.
func (o *Orchestrator) Executions() []Execution {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Execution(nil), o.executions...)
}

// Directory is an in-memory domain.Directory.
type Directory struct {
	mu    sync.Mutex
	users map[string]string

	// PageSize bounds ListUsersByCustomer pages. Zero means 60.
	PageSize int
	// DeleteErrs fails DeleteUser for the given usernames.
	DeleteErrs map[string]error
}

// NewDirectory creates a directory from username to customer id.
func NewDirectory(users map[string]string) *Directory {
	d := &Directory{users: map[string]string{}}
	for u, c := range users {
		d.users[u] = c
	}
	return d
}

// ListUsersByCustomer implements domain.Directory. The token is the last
// username of the previous page.
func (d *Directory) ListUsersByCustomer(_ context.Context, customerID, paginationToken string) (*domain.UserPage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var matched []string
	for u, c := range d.users {
		if c == customerID && u > paginationToken {
			matched = append(matched, u)
		}
	}
	sort.Strings(matched)

	size := d.PageSize
	if size <= 0 {
		size = 60
	}
	page := &domain.UserPage{}
	if len(matched) > size {
		matched = matched[:size]
		page.NextToken = matched[size-1]
	}
	page.Usernames = matched
	return page, nil
}

// DeleteUser implements domain.Directory.
func (d *Directory) DeleteUser(_ context.Context, username string) error {
	if err, ok := d.DeleteErrs[username]; ok {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[username]; !ok {
		return &domain.NotFoundError{Resource: "user", ID: username}
	}
	delete(d.users, username)
	return nil
}

// Len returns the number of remaining users.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.users)
}

// RecordStore is an in-memory domain.RecordStore.
type RecordStore struct {
	mu     sync.Mutex
	tables map[string][]domain.Record

	// QueryErrs fails QueryByCustomer for the given tables.
	QueryErrs map[string]error
	// Queries records the index used per table.
	Queries map[string]string
}

// NewRecordStore creates an empty store.
func NewRecordStore() *RecordStore {
	return &RecordStore{tables: map[string][]domain.Record{}, Queries: map[string]string{}}
}

// Add appends rows to a table.
func (s *RecordStore) Add(table string, rows ...domain.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = append(s.tables[table], rows...)
}

// Rows returns the rows of a table.
func (s *RecordStore) Rows(table string) []domain.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Record(nil), s.tables[table]...)
}

// QueryByCustomer implements domain.RecordStore.
func (s *RecordStore) QueryByCustomer(_ context.Context, table, index, customerID string) ([]domain.Record, error) {
	if err, ok := s.QueryErrs[table]; ok {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Queries[table] = index
	var out []domain.Record
	for _, r := range s.tables[table] {
		if r["customerId"] == customerID {
			out = append(out, r)
		}
	}
	return out, nil
}

// DeleteRecords implements domain.RecordStore. A row is removed when every
// attribute of a key matches.
func (s *RecordStore) DeleteRecords(_ context.Context, table string, keys []domain.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for _, key := range keys {
		rows := s.tables[table]
		for i, r := range rows {
			if matchesKey(r, key) {
				s.tables[table] = append(rows[:i], rows[i+1:]...)
				deleted++
				break
			}
		}
	}
	return deleted, nil
}

func matchesKey(row, key domain.Record) bool {
	if len(key) == 0 {
		return false
	}
	for k, v := range key {
		if row[k] != v {
			return false
		}
	}
	return true
}

var (
	_ domain.HistoryStore  = (*HistoryStore)(nil)
	_ domain.IdentityStore = (*IdentityStore)(nil)
	_ domain.ObjectStore   = (*ObjectStore)(nil)
	_ domain.Orchestrator  = (*Orchestrator)(nil)
	_ domain.Directory     = (*Directory)(nil)
	_ domain.RecordStore   = (*RecordStore)(nil)
)
