package teardown

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/siftbeam/upload-pipeline/internal/domain"
	"github.com/siftbeam/upload-pipeline/internal/memstore"
)

func putObjects(t *testing.T, store *memstore.ObjectStore, keys ...string) {
	t.Helper()
	for _, key := range keys {
		if err := store.PutObject(context.Background(), key, []byte("x"), "application/octet-stream", nil); err != nil {
			t.Fatal(err)
		}
	}
}

func TestObjectSweeper(t *testing.T) {
	store := memstore.NewObjectStore(nil)
	store.PageSize = 2
	for i := 0; i < 5; i++ {
		putObjects(t, store, fmt.Sprintf("service/input/cus_1/hist_%d/file.png", i))
	}
	putObjects(t, store,
		"service/output/cus_1/hist_0/result.json",
		"service/output/cus_1/hist_1/result.json",
		"service/temp/cus_1/hist_0/ocr/page.json",
		"service/input/cus_10/hist_9/file.png",
		"service/input/cus_2/hist_9/file.png",
	)

	res, err := NewObjectSweeper(store, "siftbeam", zap.NewNop()).Sweep(context.Background(), Event{CustomerID: "cus_1", ExecutionID: "exec-1"})
	if err != nil {
		t.Fatalf("Sweep() unexpected error: %v", err)
	}

	if res.DeletedObjects["input"] != 5 || res.DeletedObjects["output"] != 2 || res.TotalDeleted != 7 {
		t.Errorf("Sweep() = %+v", res)
	}
	if res.StatusCode != 200 || res.Bucket != "siftbeam" || res.CustomerID != "cus_1" {
		t.Errorf("Sweep() = %+v", res)
	}

	want := []string{
		"service/input/cus_10/hist_9/file.png",
		"service/input/cus_2/hist_9/file.png",
		"service/temp/cus_1/hist_0/ocr/page.json",
	}
	got := store.Keys()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("remaining keys = %v, want %v", got, want)
	}
}

func TestObjectSweeper_CountsOnlyDeleted(t *testing.T) {
	store := memstore.NewObjectStore(nil)
	putObjects(t, store,
		"service/input/cus_1/hist_1/a.png",
		"service/input/cus_1/hist_1/b.png",
	)
	store.DeleteFailures = map[string]string{"service/input/cus_1/hist_1/b.png": "AccessDenied"}

	res, err := NewObjectSweeper(store, "siftbeam", zap.NewNop()).Sweep(context.Background(), Event{CustomerID: "cus_1"})
	if err != nil {
		t.Fatalf("Sweep() unexpected error: %v", err)
	}
	if res.DeletedObjects["input"] != 1 || res.TotalDeleted != 1 {
		t.Errorf("Sweep() = %+v, want 1 deleted", res)
	}
}

func TestObjectSweeper_Errors(t *testing.T) {
	store := memstore.NewObjectStore(nil)
	store.ListErr = domain.DependencyError("list objects", errors.New("access denied"))

	sweeper := NewObjectSweeper(store, "siftbeam", zap.NewNop())
	if _, err := sweeper.Sweep(context.Background(), Event{CustomerID: "cus_1"}); !errors.Is(err, domain.ErrDependency) {
		t.Errorf("Sweep() error = %v, want ErrDependency", err)
	}
	if _, err := sweeper.Sweep(context.Background(), Event{}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Sweep() error = %v, want ErrValidation", err)
	}
}

func testTables() []Table {
	return []Table{
		{Label: "processing_history", Name: "siftbeam-processing-history", Key: []string{"processing-historyId"}},
		{Label: "user_group", Name: "siftbeam-user-group", Key: []string{"userId", "groupId"}},
		{Label: "audit_logs", Name: "siftbeam-audit-logs", Key: []string{"logId"}},
		{Label: "storage_usage_daily", Name: "siftbeam-storage-usage-daily", Key: []string{"customerId", "date"}, ByPartitionKey: true},
	}
}

func TestRecordSweeper(t *testing.T) {
	store := memstore.NewRecordStore()
	store.Add("siftbeam-processing-history",
		domain.Record{"processing-historyId": "hist_1", "customerId": "cus_1"},
		domain.Record{"processing-historyId": "hist_2", "customerId": "cus_1"},
		domain.Record{"processing-historyId": "hist_3", "customerId": "cus_2"},
	)
	store.Add("siftbeam-user-group",
		domain.Record{"userId": "u1", "groupId": "g1", "customerId": "cus_1"},
		domain.Record{"userId": "u1", "groupId": "g2", "customerId": "cus_1"},
		domain.Record{"userId": "u2", "customerId": "cus_1"},
	)
	store.Add("siftbeam-storage-usage-daily",
		domain.Record{"customerId": "cus_1", "date": "2025-10-29", "usageBytes": int64(10)},
		domain.Record{"customerId": "cus_1", "date": "2025-10-30", "usageBytes": int64(12)},
	)
	store.QueryErrs = map[string]error{
		"siftbeam-audit-logs": domain.DependencyError("query siftbeam-audit-logs", errors.New("missing index")),
	}

	res, err := NewRecordSweeper(store, testTables(), "", zap.NewNop()).Sweep(context.Background(), Event{CustomerID: "cus_1"})
	if err != nil {
		t.Fatalf("Sweep() unexpected error: %v", err)
	}

	want := map[string]int{
		"processing_history":  2,
		"user_group":          2,
		"audit_logs":          0,
		"storage_usage_daily": 2,
	}
	for label, n := range want {
		if res.DeletedRecords[label] != n {
			t.Errorf("DeletedRecords[%s] = %d, want %d", label, res.DeletedRecords[label], n)
		}
	}
	if res.TotalDeleted != 6 {
		t.Errorf("TotalDeleted = %d, want 6", res.TotalDeleted)
	}

	if rows := store.Rows("siftbeam-processing-history"); len(rows) != 1 || rows[0]["customerId"] != "cus_2" {
		t.Errorf("other customers' rows touched: %v", rows)
	}
	if rows := store.Rows("siftbeam-user-group"); len(rows) != 1 {
		t.Errorf("row without full key should remain: %v", rows)
	}

	if idx := store.Queries["siftbeam-processing-history"]; idx != DefaultCustomerIndex {
		t.Errorf("history queried with index %q", idx)
	}
	if idx, ok := store.Queries["siftbeam-storage-usage-daily"]; !ok || idx != "" {
		t.Errorf("storage usage queried with index %q, want partition key", idx)
	}
}

func TestRecordSweeper_CustomIndex(t *testing.T) {
	store := memstore.NewRecordStore()
	_, err := NewRecordSweeper(store, testTables()[:1], "byCustomer", zap.NewNop()).Sweep(context.Background(), Event{CustomerID: "cus_1"})
	if err != nil {
		t.Fatalf("Sweep() unexpected error: %v", err)
	}
	if idx := store.Queries["siftbeam-processing-history"]; idx != "byCustomer" {
		t.Errorf("index = %q, want byCustomer", idx)
	}
}

func TestDefaultTables(t *testing.T) {
	tables := DefaultTables()
	if len(tables) != 16 {
		t.Errorf("DefaultTables() has %d tables, want 16", len(tables))
	}

	seen := map[string]bool{}
	partitionKeyed := 0
	for _, tbl := range tables {
		if seen[tbl.Label] {
			t.Errorf("duplicate label %q", tbl.Label)
		}
		seen[tbl.Label] = true
		if len(tbl.Key) == 0 {
			t.Errorf("table %q has no key", tbl.Name)
		}
		if tbl.ByPartitionKey {
			partitionKeyed++
		}
	}
	if partitionKeyed != 1 {
		t.Errorf("%d partition-keyed tables, want 1", partitionKeyed)
	}
}

func TestResolveTables(t *testing.T) {
	env := map[string]string{"PROCESSING_HISTORY_TABLE_NAME": "dev-processing-history"}
	tables := ResolveTables(DefaultTables(), func(k string) string { return env[k] })

	for _, tbl := range tables {
		switch tbl.Label {
		case "processing_history":
			if tbl.Name != "dev-processing-history" {
				t.Errorf("processing_history name = %q", tbl.Name)
			}
		case "users":
			if tbl.Name != "siftbeam-users" {
				t.Errorf("users name = %q", tbl.Name)
			}
		}
	}
	if DefaultTables()[9].Name != "siftbeam-processing-history" {
		t.Error("ResolveTables modified the defaults")
	}
}

func TestTableKeyOf(t *testing.T) {
	tbl := Table{Key: []string{"requestId", "replyId"}}
	tests := []struct {
		name string
		row  domain.Record
		ok   bool
	}{
		{"full key", domain.Record{"requestId": "r1", "replyId": "p1", "body": "hi"}, true},
		{"partial key", domain.Record{"requestId": "r1"}, false},
		{"nil attribute", domain.Record{"requestId": "r1", "replyId": nil}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := tbl.KeyOf(tt.row)
			if ok != tt.ok {
				t.Fatalf("KeyOf() ok = %v, want %v", ok, tt.ok)
			}
			if ok && len(key) != 2 {
				t.Errorf("KeyOf() = %v, want only key attributes", key)
			}
		})
	}
}

func TestUserSweeper(t *testing.T) {
	users := map[string]string{"other": "cus_2"}
	for i := 0; i < 5; i++ {
		users[fmt.Sprintf("user-%d", i)] = "cus_1"
	}
	dir := memstore.NewDirectory(users)
	dir.PageSize = 2
	dir.DeleteErrs = map[string]error{"user-3": domain.DependencyError("delete user", errors.New("throttled"))}

	res, err := NewUserSweeper(dir, zap.NewNop()).Sweep(context.Background(), Event{CustomerID: "cus_1"})
	if err != nil {
		t.Fatalf("Sweep() unexpected error: %v", err)
	}
	if res.TotalFound != 5 || res.DeletedCount != 4 || len(res.DeletedUsers) != 4 {
		t.Errorf("Sweep() = %+v, want 4 of 5 deleted", res)
	}
	for _, u := range res.DeletedUsers {
		if u == "user-3" {
			t.Error("failed delete reported as deleted")
		}
	}
	if dir.Len() != 2 {
		t.Errorf("remaining users = %d, want 2", dir.Len())
	}
}

func TestUserSweeper_NoUsers(t *testing.T) {
	res, err := NewUserSweeper(memstore.NewDirectory(nil), zap.NewNop()).Sweep(context.Background(), Event{CustomerID: "cus_1"})
	if err != nil {
		t.Fatalf("Sweep() unexpected error: %v", err)
	}
	if res.DeletedCount != 0 || res.DeletedUsers == nil || res.Message != "No users found" {
		t.Errorf("Sweep() = %+v", res)
	}
}

func TestNewFailure(t *testing.T) {
	f := NewFailure("Failed to delete S3 objects", errors.New("boom"))
	if f.StatusCode != 500 || f.Error != "boom" || f.Message != "Failed to delete S3 objects" {
		t.Errorf("NewFailure() = %+v", f)
	}
}

func TestHandle(t *testing.T) {
	objects := memstore.NewObjectStore(nil)
	putObjects(t, objects, "service/input/cus_1/hist_1/a.png")
	sweeper := NewObjectSweeper(objects, "siftbeam", zap.NewNop())
	handle := Handle("Failed to delete S3 objects", sweeper.Sweep)

	tests := []struct {
		name        string
		raw         string
		wantFailure bool
	}{
		{"swept", `{"customerId":"cus_1","executionId":"exec-1"}`, false},
		{"customerId not a string", `{"customerId":42}`, true},
		{"missing customerId", `{"executionId":"exec-1"}`, true},
		{"not an object", `[1]`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := handle(context.Background(), json.RawMessage(tt.raw))
			if err != nil {
				t.Fatalf("handle(%s) error = %v, want a response", tt.raw, err)
			}
			failure, ok := resp.(*Failure)
			if ok != tt.wantFailure {
				t.Fatalf("handle(%s) = %#v, wantFailure %v", tt.raw, resp, tt.wantFailure)
			}
			if ok && (failure.StatusCode != 500 || failure.Message != "Failed to delete S3 objects" || failure.Error == "") {
				t.Errorf("handle(%s) failure = %+v", tt.raw, failure)
			}
			if !ok && resp.(*ObjectsResult).TotalDeleted != 1 {
				t.Errorf("handle(%s) = %+v, want 1 deleted", tt.raw, resp)
			}
		})
	}
}
