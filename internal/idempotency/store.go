package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-cart-recovery/internal/aws"
)

// DefaultLease is how long an IN_PROGRESS entry blocks redeliveries before
// it is considered abandoned by a crashed worker.
const DefaultLease = 5 * time.Minute

const condBegin = "attribute_not_exists(idempotency_key) OR #s = :failed OR (#s = :inprogress AND updated_at < :leaseCutoff)"

// Store records webhook deliveries in DynamoDB so redeliveries are applied
// once.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // how long entries are kept
	lease     time.Duration
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// ttlWindow: how long entries live before DynamoDB TTL removes them (e.g., 48*time.Hour)
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		lease:     DefaultLease,
		nowFunc:   time.Now,
	}
}

// Begin claims a delivery for processing.
// Returns (true, nil) if the caller should process it: the key is new, its
// previous attempt FAILED, or its IN_PROGRESS lease expired.
// Returns (false, nil) if the delivery is DONE or being processed.
func (s *Store) Begin(ctx context.Context, key, shop, topic string) (bool, error) {
	now := s.nowFunc()
	rec := DeliveryRecord{
		IdempotencyKey: key,
		Status:         StatusInProgress,
		Shop:           shop,
		Topic:          topic,
		Attempts:       1,
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.Unix(),
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	}
	if prev, err := s.Get(ctx, key); err == nil && prev != nil {
		rec.Attempts = prev.Attempts + 1
		rec.CreatedAt = prev.CreatedAt
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString(condBegin),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed":      &types.AttributeValueMemberS{Value: StatusFailed},
			":inprogress":  &types.AttributeValueMemberS{Value: StatusInProgress},
			":leaseCutoff": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(-s.lease).Unix(), 10)},
		},
	})
	if err != nil {
		// detect conditional check failure
		var sc smithy.APIError
		if errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException" {
			return false, nil
		}
		return false, fmt.Errorf("put item: %w", err)
	}
	return true, nil
}

// Get retrieves a delivery record by key. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*DeliveryRecord, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec DeliveryRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// MarkDone sets status to DONE.
func (s *Store) MarkDone(ctx context.Context, key string) error {
	return s.setStatus(ctx, key, StatusDone, "")
}

// MarkFailed marks the delivery FAILED so a redelivery is processed again.
func (s *Store) MarkFailed(ctx context.Context, key, note string) error {
	return s.setStatus(ctx, key, StatusFailed, note)
}

func (s *Store) setStatus(ctx context.Context, key, status, note string) error {
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression: awsString("SET #s = :s, note = :n, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s":  &types.AttributeValueMemberS{Value: status},
			":n":  &types.AttributeValueMemberS{Value: note},
			":ua": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.nowFunc().Unix(), 10)},
		},
	}
	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		return fmt.Errorf("update item (mark %s): %w", status, err)
	}
	return nil
}

// MemoryStore is an in-process delivery log with the same claim rules,
// used when no dedup table is configured.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]DeliveryRecord
	lease   time.Duration
	nowFunc func() time.Time
}

// NewMemoryStore returns an empty in-process Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: map[string]DeliveryRecord{},
		lease:   DefaultLease,
		nowFunc: time.Now,
	}
}

func (m *MemoryStore) Begin(_ context.Context, key, shop, topic string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowFunc()
	prev, ok := m.entries[key]
	if ok {
		switch {
		case prev.Status == StatusFailed:
		case prev.Status == StatusInProgress && prev.UpdatedAt < now.Add(-m.lease).Unix():
		default:
			return false, nil
		}
	}
	m.entries[key] = DeliveryRecord{
		IdempotencyKey: key,
		Status:         StatusInProgress,
		Shop:           shop,
		Topic:          topic,
		Attempts:       prev.Attempts + 1,
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.Unix(),
	}
	return true, nil
}

func (m *MemoryStore) MarkDone(_ context.Context, key string) error {
	m.set(key, StatusDone, "")
	return nil
}

func (m *MemoryStore) MarkFailed(_ context.Context, key, note string) error {
	m.set(key, StatusFailed, note)
	return nil
}

func (m *MemoryStore) set(key, status, note string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.entries[key]
	if !ok {
		return
	}
	rec.Status = status
	rec.Note = note
	rec.UpdatedAt = m.nowFunc().Unix()
	m.entries[key] = rec
}

// Helper
func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
