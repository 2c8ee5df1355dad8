package teardown

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/siftbeam/upload-pipeline/internal/domain"
	"github.com/siftbeam/upload-pipeline/internal/kvstore"
)

// DefaultCustomerIndex is the secondary index queried on tables whose
// partition key is not the customer id.
const DefaultCustomerIndex = "customerId-createdAt-index"

// Table is one table swept by RecordSweeper.
type Table struct {
	// Label names the table in results.
	Label string
	Name  string
	// Env optionally overrides Name.
	Env string
	// Key lists the primary key attributes.
	Key []string
	// ByPartitionKey tables are queried on their partition key instead of
	// the customer index.
	ByPartitionKey bool
}

// DefaultTables is the fixed set of customer-owned tables.
func DefaultTables() []Table {
	return []Table{
		{Label: "users", Name: "siftbeam-users", Env: "USER_TABLE_NAME", Key: []string{"userId"}},
		{Label: "policy", Name: "siftbeam-policy", Env: "POLICY_TABLE_NAME", Key: []string{kvstore.PolicyKey}},
		{Label: "group", Name: "siftbeam-group", Env: "GROUP_TABLE_NAME", Key: []string{"groupId"}},
		{Label: "user_group", Name: "siftbeam-user-group", Env: "USER_GROUP_TABLE_NAME", Key: []string{"userId", "groupId"}},
		{Label: "policy_group", Name: "siftbeam-policy-group", Env: "POLICY_GROUP_TABLE_NAME", Key: []string{kvstore.PolicyKey, "groupId"}},
		{Label: "support_request", Name: "siftbeam-support-request", Env: "SUPPORT_REQUEST_TABLE_NAME", Key: []string{"requestId"}},
		{Label: "support_reply", Name: "siftbeam-support-reply", Env: "SUPPORT_REPLY_TABLE_NAME", Key: []string{"requestId", "replyId"}},
		{Label: "neworder_request", Name: "siftbeam-neworder-request", Env: "NEWORDER_REQUEST_TABLE_NAME", Key: []string{"requestId"}},
		{Label: "neworder_reply", Name: "siftbeam-neworder-reply", Env: "NEWORDER_REPLY_TABLE_NAME", Key: []string{"requestId", "replyId"}},
		{Label: "processing_history", Name: "siftbeam-processing-history", Env: "PROCESSING_HISTORY_TABLE_NAME", Key: []string{kvstore.HistoryKey}},
		{Label: "usage_limits", Name: "siftbeam-usage-limits", Env: "USAGE_LIMITS_TABLE_NAME", Key: []string{kvstore.CustomerKey}},
		{Label: "audit_logs", Name: "siftbeam-audit-logs", Env: "AUDIT_LOG_TABLE_NAME", Key: []string{"logId"}},
		{Label: "api_keys", Name: "siftbeam-api-keys", Env: "API_KEY_TABLE_NAME", Key: []string{kvstore.APIKeyKey}},
		{Label: "policy_analysis", Name: "siftbeam-policy-analysis", Env: "POLICY_ANALYSIS_TABLE_NAME", Key: []string{"analysisId"}},
		{Label: "data_usage", Name: "siftbeam-data-usage", Env: "DATA_USAGE_TABLE_NAME", Key: []string{"usageId"}},
		{Label: "storage_usage_daily", Name: "siftbeam-storage-usage-daily", Key: []string{kvstore.CustomerKey, "date"}, ByPartitionKey: true},
	}
}

// ResolveTables applies environment overrides to tables.
func ResolveTables(tables []Table, lookup func(string) string) []Table {
	out := make([]Table, len(tables))
	for i, t := range tables {
		if t.Env != "" {
			if name := lookup(t.Env); name != "" {
				t.Name = name
			}
		}
		out[i] = t
	}
	return out
}

// KeyOf extracts the primary key of row. It reports false when row lacks a
// key attribute.
func (t Table) KeyOf(row domain.Record) (domain.Record, bool) {
	key := make(domain.Record, len(t.Key))
	for _, attr := range t.Key {
		v, ok := row[attr]
		if !ok || v == nil {
			return nil, false
		}
		key[attr] = v
	}
	return key, true
}

// RecordsResult reports a record sweep.
type RecordsResult struct {
	StatusCode     int            `json:"statusCode"`
	DeletedRecords map[string]int `json:"deletedRecords"`
	TotalDeleted   int            `json:"totalDeleted"`
	CustomerID     string         `json:"customerId"`
}

// RecordSweeper deletes a customer's rows from every table.
type RecordSweeper struct {
	records domain.RecordStore
	tables  []Table
	index   string
	logger  *zap.Logger
}

// NewRecordSweeper creates a RecordSweeper. An empty index uses
// DefaultCustomerIndex.
func NewRecordSweeper(records domain.RecordStore, tables []Table, index string, logger *zap.Logger) *RecordSweeper {
	if index == "" {
		index = DefaultCustomerIndex
	}
	return &RecordSweeper{records: records, tables: tables, index: index, logger: logger}
}

// Sweep deletes rows table by table. A failing table is recorded as 0 and the
// sweep continues.
func (s *RecordSweeper) Sweep(ctx context.Context, e Event) (*RecordsResult, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("customerId", e.CustomerID), zap.String("executionId", e.executionID()))
	log.Info("starting record deletion", zap.Int("tables", len(s.tables)))

	result := &RecordsResult{
		StatusCode:     http.StatusOK,
		DeletedRecords: make(map[string]int, len(s.tables)),
		CustomerID:     e.CustomerID,
	}
	for _, t := range s.tables {
		n, err := s.sweepTable(ctx, log, t, e.CustomerID)
		if err != nil {
			log.Error("failed to delete records", zap.String("table", t.Name), zap.Int("partial", n), zap.Error(err))
			n = 0
		}
		result.DeletedRecords[t.Label] = n
		result.TotalDeleted += n
	}

	log.Info("records deleted", zap.Int("totalDeleted", result.TotalDeleted))
	return result, nil
}

func (s *RecordSweeper) sweepTable(ctx context.Context, log *zap.Logger, t Table, customerID string) (int, error) {
	index := s.index
	if t.ByPartitionKey {
		index = ""
	}

	rows, err := s.records.QueryByCustomer(ctx, t.Name, index, customerID)
	if err != nil {
		return 0, err
	}

	keys := make([]domain.Record, 0, len(rows))
	for _, row := range rows {
		key, ok := t.KeyOf(row)
		if !ok {
			log.Warn("row without primary key skipped", zap.String("table", t.Name), zap.Strings("key", t.Key))
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return s.records.DeleteRecords(ctx, t.Name, keys)
}
