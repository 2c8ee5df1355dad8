package kvstore

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/siftbeam/upload-pipeline/internal/chunker"
	"github.com/siftbeam/upload-pipeline/internal/domain"
)

// CustomerKey is the attribute every customer-owned row carries.
const CustomerKey = "customerId"

// QueryByCustomer returns every row of table owned by customerID, following
// pagination. An empty index queries the table's partition key.
func (s *RecordStore) QueryByCustomer(ctx context.Context, table, index, customerID string) ([]domain.Record, error) {
	keyCond := expression.Key(CustomerKey).Equal(expression.Value(customerID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build key condition: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	if index != "" {
		input.IndexName = aws.String(index)
	}

	var records []domain.Record
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, domain.DependencyError("query "+table, err)
		}
		for _, item := range page.Items {
			records = append(records, NormalizeItem(item))
		}
	}
	return records, nil
}

// DeleteRecords deletes rows by primary key in BatchWriteItem chunks.
// Unprocessed items are resubmitted up to MaxAttempts times per chunk; the
// returned count excludes items still unprocessed after the last attempt.
func (s *RecordStore) DeleteRecords(ctx context.Context, table string, keys []domain.Record) (int, error) {
	deleted := 0
	for _, chunk := range chunker.Chunk(keys, chunker.MaxBatchWriteItems) {
		requests := make([]types.WriteRequest, 0, len(chunk))
		for _, key := range chunk {
			av, err := attributevalue.MarshalMap(map[string]any(key))
			if err != nil {
				return deleted, fmt.Errorf("failed to marshal key: %w", err)
			}
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: av},
			})
		}

		remaining, err := s.writeWithRetry(ctx, table, requests)
		deleted += len(requests) - remaining
		if err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// writeWithRetry submits requests and returns how many were still unprocessed
// after the last attempt.
func (s *RecordStore) writeWithRetry(ctx context.Context, table string, requests []types.WriteRequest) (int, error) {
	attempts := s.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	pending := requests
	for attempt := 1; attempt <= attempts && len(pending) > 0; attempt++ {
		if attempt > 1 && s.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return len(pending), ctx.Err()
			case <-time.After(time.Duration(attempt-1) * s.RetryDelay):
			}
		}

		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{table: pending},
		})
		if err != nil {
			return len(pending), domain.DependencyError("batch delete from "+table, err)
		}
		pending = out.UnprocessedItems[table]
	}
	return len(pending), nil
}
