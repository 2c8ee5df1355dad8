// Package kvstore implements the DynamoDB-backed stores: processing history,
// API key and policy lookups, and the generic record sweeper used by account
// teardown.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/siftbeam/upload-pipeline/internal/domain"
)

// DynamoDBAPI is the subset of the DynamoDB client used by the stores.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Key attribute names.
const (
	HistoryKey = "processing-historyId"
	APIKeyKey  = "api-keysId"
	PolicyKey  = "policyId"
)

// HistoryStore is a domain.HistoryStore backed by a DynamoDB table.
type HistoryStore struct {
	client DynamoDBAPI
	table  string
}

// NewHistoryStore creates a HistoryStore for table.
func NewHistoryStore(client DynamoDBAPI, table string) *HistoryStore {
	return &HistoryStore{client: client, table: table}
}

// CreateHistory writes h. It fails if a record with the same id exists, so the
// manifest is only ever written once.
func (s *HistoryStore) CreateHistory(ctx context.Context, h *domain.ProcessingHistory) error {
	item, err := attributevalue.MarshalMap(h)
	if err != nil {
		return fmt.Errorf("failed to marshal processing history: %w", err)
	}

	cond := expression.AttributeNotExists(expression.Name(HistoryKey))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("failed to build condition: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.table),
		Item:                     item,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		return domain.DependencyError("create processing history", err)
	}
	return nil
}

// GetHistory reads a record with a strongly consistent read.
func (s *HistoryStore) GetHistory(ctx context.Context, id string) (*domain.ProcessingHistory, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            stringKey(HistoryKey, id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, domain.DependencyError("get processing history", err)
	}
	if len(out.Item) == 0 {
		return nil, &domain.NotFoundError{Resource: "processing history", ID: id}
	}

	var h domain.ProcessingHistory
	if err := attributevalue.UnmarshalMap(out.Item, &h); err != nil {
		return nil, fmt.Errorf("failed to unmarshal processing history: %w", err)
	}
	return &h, nil
}

// CompleteUpload records the aggregated usage of a batch. createdAt is
// overwritten with the completion time; requestedAt keeps the intake time.
func (s *HistoryStore) CompleteUpload(ctx context.Context, id string, c domain.UploadCompletion) error {
	at := domain.FormatTime(c.CompletedAt)
	update := expression.
		Set(expression.Name("usageAmountBytes"), expression.Value(c.UsageAmountBytes)).
		Set(expression.Name("createdAt"), expression.Value(at)).
		Set(expression.Name("uploadCompletedAt"), expression.Value(at)).
		Set(expression.Name("updatedAt"), expression.Value(at)).
		Set(expression.Name("status"), expression.Value(domain.StatusInProgress))
	cond := expression.AttributeExists(expression.Name(HistoryKey))

	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       stringKey(HistoryKey, id),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return &domain.NotFoundError{Resource: "processing history", ID: id}
		}
		return domain.DependencyError("update processing history", err)
	}
	return nil
}

// IdentityStore is a domain.IdentityStore backed by the API key and policy tables.
type IdentityStore struct {
	client      DynamoDBAPI
	apiKeyTable string
	policyTable string
}

// NewIdentityStore creates an IdentityStore.
func NewIdentityStore(client DynamoDBAPI, apiKeyTable, policyTable string) *IdentityStore {
	return &IdentityStore{client: client, apiKeyTable: apiKeyTable, policyTable: policyTable}
}

// GetAPIKey implements domain.IdentityStore.
func (s *IdentityStore) GetAPIKey(ctx context.Context, apiKeyID string) (*domain.APIKey, error) {
	var k domain.APIKey
	if err := s.getItem(ctx, s.apiKeyTable, APIKeyKey, apiKeyID, "api key", &k); err != nil {
		return nil, err
	}
	return &k, nil
}

// GetPolicy implements domain.IdentityStore.
func (s *IdentityStore) GetPolicy(ctx context.Context, policyID string) (*domain.Policy, error) {
	var p domain.Policy
	if err := s.getItem(ctx, s.policyTable, PolicyKey, policyID, "policy", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *IdentityStore) getItem(ctx context.Context, table, keyName, id, resource string, out any) error {
	res, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key:       stringKey(keyName, id),
	})
	if err != nil {
		return domain.DependencyError("get "+resource, err)
	}
	if len(res.Item) == 0 {
		return &domain.NotFoundError{Resource: resource, ID: id}
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", resource, err)
	}
	return nil
}

// RecordStore is a domain.RecordStore over arbitrary tables.
type RecordStore struct {
	client DynamoDBAPI

	// MaxAttempts bounds BatchWriteItem submissions per chunk, including the first.
	MaxAttempts int
	// RetryDelay is multiplied by the attempt number between resubmissions.
	RetryDelay time.Duration
}

// NewRecordStore creates a RecordStore with three attempts per chunk.
func NewRecordStore(client DynamoDBAPI) *RecordStore {
	return &RecordStore{client: client, MaxAttempts: 3, RetryDelay: 100 * time.Millisecond}
}

func stringKey(name, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		name: &types.AttributeValueMemberS{Value: value},
	}
}

var (
	_ domain.HistoryStore  = (*HistoryStore)(nil)
	_ domain.IdentityStore = (*IdentityStore)(nil)
	_ domain.RecordStore   = (*RecordStore)(nil)

	_ DynamoDBAPI = (*dynamodb.Client)(nil)
)
