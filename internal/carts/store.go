package carts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-cart-recovery/internal/aws"
)

// Condition, update and filter expressions used against the carts table.
// #s always names the "status" attribute (a reserved word).
const (
	keyByShop = "shop = :shop"

	condCartNotExists    = "attribute_not_exists(cart_token)"
	condCartExists       = "attribute_exists(cart_token)"
	condLiveNotConverted = "attribute_exists(cart_token) AND #s <> :converted"
	condStale            = "#s = :active AND updated_at < :cutoff AND total_price > :zero"
	condClaimable        = "#s = :abandoned AND attribute_not_exists(email_sent_at) AND (attribute_not_exists(notify_claimed_at) OR (notify_claimed_at < :retryBefore AND attribute_exists(notify_error)))"
	condNotNotified      = "attribute_exists(cart_token) AND attribute_not_exists(email_sent_at)"

	updateOverwriteActive = "SET customer_id = :cid, customer_email = :email, total_price = :tp, currency = :cur, line_items = :li, updated_at = :ua, #s = :active"
	updateOverwriteFields = "SET customer_id = :cid, customer_email = :email, total_price = :tp, currency = :cur, line_items = :li, updated_at = :ua"
	updateConverted       = "SET #s = :converted"
	updateAbandoned       = "SET #s = :abandoned, abandoned_at = :now"
	updateClaim           = "SET notify_claimed_at = :now, notify_attempts = if_not_exists(notify_attempts, :zero) + :one REMOVE notify_error"
	updateNotified        = "SET email_sent_at = :now REMOVE notify_error"
	updateNotifyError     = "SET notify_error = :err"

	filterStale        = condStale
	filterAwaiting     = "#s = :abandoned AND attribute_exists(customer_email) AND customer_email <> :empty AND attribute_not_exists(email_sent_at) AND attribute_exists(notify_error)"
	filterCreatedSince = "created_at >= :since"
	filterActiveSince  = "#s = :active AND updated_at >= :since"
)

var statusName = map[string]string{"#s": "status"}

// DynamoStore is the DynamoDB-backed Repository. The table is keyed by
// shop (partition) and cart_token (sort).
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewDynamoStore creates a carts store on the given table.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
	}
}

func (s *DynamoStore) key(shop, token string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"shop":       str(shop),
		"cart_token": str(token),
	}
}

// Get fetches a cart. Returns (nil, nil) if not found.
func (s *DynamoStore) Get(ctx context.Context, shop, token string) (*CartRecord, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            s.key(shop, token),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return decode(out.Item)
}

// Create puts a new cart guarded by attribute_not_exists on the key.
func (s *DynamoStore) Create(ctx context.Context, rec CartRecord) error {
	item, err := attributevalue.MarshalMap(toItem(rec))
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString(condCartNotExists),
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrCartExists
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// Overwrite first tries to overwrite and reactivate a non-converted cart.
// If that condition fails the cart is either converted (fields are still
// overwritten, status kept) or missing.
func (s *DynamoStore) Overwrite(ctx context.Context, shop string, ev CartEvent, updatedAt time.Time) (*CartRecord, error) {
	items := ev.LineItems
	if items == nil {
		items = []LineItem{}
	}
	li, err := attributevalue.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal line items: %w", err)
	}
	fields := func() map[string]types.AttributeValue {
		return map[string]types.AttributeValue{
			":cid":   str(ev.CustomerID),
			":email": str(ev.CustomerEmail),
			":tp":    num(ev.TotalPrice),
			":cur":   str(ev.Currency),
			":li":    li,
			":ua":    numInt(millis(updatedAt)),
		}
	}

	live := fields()
	live[":active"] = str(string(StatusActive))
	live[":converted"] = str(string(StatusConverted))
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       s.key(shop, ev.Token),
		UpdateExpression:          awsString(updateOverwriteActive),
		ConditionExpression:       awsString(condLiveNotConverted),
		ExpressionAttributeNames:  statusName,
		ExpressionAttributeValues: live,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err == nil {
		return decode(out.Attributes)
	}
	if !isConditionFailed(err) {
		return nil, fmt.Errorf("update item (overwrite): %w", err)
	}

	out, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       s.key(shop, ev.Token),
		UpdateExpression:          awsString(updateOverwriteFields),
		ConditionExpression:       awsString(condCartExists),
		ExpressionAttributeValues: fields(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("update item (overwrite converted): %w", err)
	}
	return decode(out.Attributes)
}

// MarkConverted returns 1 if the cart moved to converted, 0 if it does not
// exist or was already converted.
func (s *DynamoStore) MarkConverted(ctx context.Context, shop, token string) (int, error) {
	ok, err := s.conditionalUpdate(ctx, shop, token, updateConverted, condLiveNotConverted, statusName,
		map[string]types.AttributeValue{
			":converted": str(string(StatusConverted)),
		})
	if err != nil {
		return 0, fmt.Errorf("update item (mark converted): %w", err)
	}
	if !ok {
		return 0, nil
	}
	return 1, nil
}

// MarkAbandoned moves a cart to abandoned if it is still stale.
func (s *DynamoStore) MarkAbandoned(ctx context.Context, shop, token string, cutoff, now time.Time) (bool, error) {
	ok, err := s.conditionalUpdate(ctx, shop, token, updateAbandoned, condStale, statusName,
		map[string]types.AttributeValue{
			":abandoned": str(string(StatusAbandoned)),
			":now":       numInt(millis(now)),
			":active":    str(string(StatusActive)),
			":cutoff":    numInt(millis(cutoff)),
			":zero":      numInt(0),
		})
	if err != nil {
		return false, fmt.Errorf("update item (mark abandoned): %w", err)
	}
	return ok, nil
}

// ClaimNotification stamps notify_claimed_at under condClaimable and clears
// the previous attempt's failure.
func (s *DynamoStore) ClaimNotification(ctx context.Context, shop, token string, now, retryBefore time.Time) (bool, error) {
	ok, err := s.conditionalUpdate(ctx, shop, token, updateClaim, condClaimable, statusName,
		map[string]types.AttributeValue{
			":now":         numInt(millis(now)),
			":zero":        numInt(0),
			":one":         numInt(1),
			":abandoned":   str(string(StatusAbandoned)),
			":retryBefore": numInt(millis(retryBefore)),
		})
	if err != nil {
		return false, fmt.Errorf("update item (claim notification): %w", err)
	}
	return ok, nil
}

// MarkNotified stamps email_sent_at once.
func (s *DynamoStore) MarkNotified(ctx context.Context, shop, token string, now time.Time) (bool, error) {
	ok, err := s.conditionalUpdate(ctx, shop, token, updateNotified, condNotNotified, nil,
		map[string]types.AttributeValue{
			":now": numInt(millis(now)),
		})
	if err != nil {
		return false, fmt.Errorf("update item (mark notified): %w", err)
	}
	return ok, nil
}

// RecordNotificationFailure stores the failure kind; a missing cart is a
// no-op.
func (s *DynamoStore) RecordNotificationFailure(ctx context.Context, shop, token, reason string) error {
	_, err := s.conditionalUpdate(ctx, shop, token, updateNotifyError, condCartExists, nil,
		map[string]types.AttributeValue{
			":err": str(reason),
		})
	if err != nil {
		return fmt.Errorf("update item (notification failure): %w", err)
	}
	return nil
}

// conditionalUpdate reports false when the condition did not hold.
func (s *DynamoStore) conditionalUpdate(ctx context.Context, shop, token, update, cond string, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	input := &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       s.key(shop, token),
		UpdateExpression:          awsString(update),
		ConditionExpression:       awsString(cond),
		ExpressionAttributeValues: values,
	}
	if len(names) > 0 {
		input.ExpressionAttributeNames = names
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *DynamoStore) ListStale(ctx context.Context, shop string, cutoff time.Time) ([]CartRecord, error) {
	return s.query(ctx, shop, filterStale, statusName, map[string]types.AttributeValue{
		":active": str(string(StatusActive)),
		":cutoff": numInt(millis(cutoff)),
		":zero":   numInt(0),
	})
}

func (s *DynamoStore) ListAwaitingNotification(ctx context.Context, shop string) ([]CartRecord, error) {
	return s.query(ctx, shop, filterAwaiting, statusName, map[string]types.AttributeValue{
		":abandoned": str(string(StatusAbandoned)),
		":empty":     str(""),
	})
}

func (s *DynamoStore) ListCreatedSince(ctx context.Context, shop string, since time.Time) ([]CartRecord, error) {
	return s.query(ctx, shop, filterCreatedSince, nil, map[string]types.AttributeValue{
		":since": numInt(millis(since)),
	})
}

func (s *DynamoStore) ListActiveSince(ctx context.Context, shop string, since time.Time) ([]CartRecord, error) {
	return s.query(ctx, shop, filterActiveSince, statusName, map[string]types.AttributeValue{
		":active": str(string(StatusActive)),
		":since":  numInt(millis(since)),
	})
}

// ListShops scans the partition keys of the table. A shop appears once per
// cart in the scan, so the result is de-duplicated.
func (s *DynamoStore) ListShops(ctx context.Context) ([]string, error) {
	projection := "shop"
	p := dyn.NewScanPaginator(s.client, &dyn.ScanInput{
		TableName:            &s.tableName,
		ProjectionExpression: &projection,
	})
	seen := map[string]bool{}
	var shops []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan carts: %w", err)
		}
		for _, raw := range page.Items {
			v, ok := raw["shop"].(*types.AttributeValueMemberS)
			if !ok || v.Value == "" || seen[v.Value] {
				continue
			}
			seen[v.Value] = true
			shops = append(shops, v.Value)
		}
	}
	sort.Strings(shops)
	return shops, nil
}

// query reads every page of a shop's partition through filter.
func (s *DynamoStore) query(ctx context.Context, shop, filter string, names map[string]string, values map[string]types.AttributeValue) ([]CartRecord, error) {
	values[":shop"] = str(shop)
	input := &dyn.QueryInput{
		TableName:                 &s.tableName,
		KeyConditionExpression:    awsString(keyByShop),
		FilterExpression:          awsString(filter),
		ExpressionAttributeValues: values,
	}
	if len(names) > 0 {
		input.ExpressionAttributeNames = names
	}

	var out []CartRecord
	p := dyn.NewQueryPaginator(s.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query carts: %w", err)
		}
		for _, raw := range page.Items {
			rec, err := decode(raw)
			if err != nil {
				return nil, err
			}
			out = append(out, *rec)
		}
	}
	return out, nil
}

func decode(raw map[string]types.AttributeValue) (*CartRecord, error) {
	var it cartItem
	if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}
	rec, err := it.record()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

func str(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }

func num(v float64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(v, 'f', -1, 64)}
}

func numInt(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
