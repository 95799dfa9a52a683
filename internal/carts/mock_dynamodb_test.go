package carts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is an in-memory carts table. It only understands the exact
// expressions the store sends, each evaluated by a Go predicate.
type mockDynamo struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue // "shop|token" -> item
	pageSize int
	failWith error

	updateCalls int
	queryCalls  int
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{
		items:    map[string]map[string]types.AttributeValue{},
		pageSize: 2,
	}
}

type predicate func(item map[string]types.AttributeValue, v map[string]types.AttributeValue) bool

var predicates = map[string]predicate{
	condCartNotExists: func(item, _ map[string]types.AttributeValue) bool { return item == nil },
	condCartExists:    func(item, _ map[string]types.AttributeValue) bool { return item != nil },
	condLiveNotConverted: func(item, v map[string]types.AttributeValue) bool {
		return item != nil && sAttr(item, "status") != sVal(v, ":converted")
	},
	condStale: func(item, v map[string]types.AttributeValue) bool {
		return sAttr(item, "status") == sVal(v, ":active") &&
			nAttr(item, "updated_at") < nVal(v, ":cutoff") &&
			nAttr(item, "total_price") > nVal(v, ":zero")
	},
	condClaimable: func(item, v map[string]types.AttributeValue) bool {
		if sAttr(item, "status") != sVal(v, ":abandoned") || has(item, "email_sent_at") {
			return false
		}
		if !has(item, "notify_claimed_at") {
			return true
		}
		return nAttr(item, "notify_claimed_at") < nVal(v, ":retryBefore") && has(item, "notify_error")
	},
	condNotNotified: func(item, _ map[string]types.AttributeValue) bool {
		return item != nil && !has(item, "email_sent_at")
	},
	filterAwaiting: func(item, v map[string]types.AttributeValue) bool {
		return sAttr(item, "status") == sVal(v, ":abandoned") &&
			has(item, "customer_email") && sAttr(item, "customer_email") != sVal(v, ":empty") &&
			!has(item, "email_sent_at") && has(item, "notify_error")
	},
	filterCreatedSince: func(item, v map[string]types.AttributeValue) bool {
		return nAttr(item, "created_at") >= nVal(v, ":since")
	},
	filterActiveSince: func(item, v map[string]types.AttributeValue) bool {
		return sAttr(item, "status") == sVal(v, ":active") && nAttr(item, "updated_at") >= nVal(v, ":since")
	},
}

func keyOf(k map[string]types.AttributeValue) string {
	return sAttr(k, "shop") + "|" + sAttr(k, "cart_token")
}

func (m *mockDynamo) check(expr *string, item, values map[string]types.AttributeValue) (bool, error) {
	if expr == nil {
		return true, nil
	}
	p, ok := predicates[*expr]
	if !ok {
		return false, fmt.Errorf("mock: unsupported expression %q", *expr)
	}
	return p(item, values), nil
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	k := keyOf(params.Item)
	ok, err := m.check(params.ConditionExpression, m.items[k], params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	m.items[k] = copyItem(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	item, ok := m.items[keyOf(params.Key)]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.failWith != nil {
		return nil, m.failWith
	}
	k := keyOf(params.Key)
	item := m.items[k]
	ok, err := m.check(params.ConditionExpression, item, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	next := copyItem(item)
	if next == nil {
		next = copyItem(params.Key)
	}
	if err := applyUpdate(next, *params.UpdateExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	m.items[k] = next
	out := &dyn.UpdateItemOutput{}
	if params.ReturnValues == types.ReturnValueAllNew {
		out.Attributes = copyItem(next)
	}
	return out, nil
}

// Query pages through the whole partition pageSize items at a time and
// filters each page, the way DynamoDB applies Limit before FilterExpression.
func (m *mockDynamo) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCalls++
	if m.failWith != nil {
		return nil, m.failWith
	}
	if params.KeyConditionExpression == nil || *params.KeyConditionExpression != keyByShop {
		return nil, errors.New("mock: unsupported key condition")
	}
	shop := sVal(params.ExpressionAttributeValues, ":shop")

	var tokens []string
	for _, item := range m.items {
		if sAttr(item, "shop") == shop {
			tokens = append(tokens, sAttr(item, "cart_token"))
		}
	}
	sort.Strings(tokens)

	start := 0
	if params.ExclusiveStartKey != nil {
		after := sAttr(params.ExclusiveStartKey, "cart_token")
		start = sort.SearchStrings(tokens, after) + 1
	}
	end := start + m.pageSize
	if end > len(tokens) {
		end = len(tokens)
	}

	out := &dyn.QueryOutput{}
	for _, tok := range tokens[start:end] {
		item := m.items[shop+"|"+tok]
		ok, err := m.check(params.FilterExpression, item, params.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Items = append(out.Items, copyItem(item))
		}
	}
	if end < len(tokens) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"shop":       str(shop),
			"cart_token": str(tokens[end-1]),
		}
	}
	return out, nil
}

// Scan returns the whole table in key order, pageSize items at a time,
// projected to the shop attribute.
func (m *mockDynamo) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	if params.ProjectionExpression == nil || *params.ProjectionExpression != "shop" {
		return nil, errors.New("mock: unsupported projection")
	}
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if params.ExclusiveStartKey != nil {
		start = sort.SearchStrings(keys, keyOf(params.ExclusiveStartKey)) + 1
	}
	end := start + m.pageSize
	if end > len(keys) {
		end = len(keys)
	}
	out := &dyn.ScanOutput{}
	for _, k := range keys[start:end] {
		out.Items = append(out.Items, map[string]types.AttributeValue{"shop": m.items[k]["shop"]})
	}
	if end < len(keys) {
		last := m.items[keys[end-1]]
		out.LastEvaluatedKey = map[string]types.AttributeValue{"shop": last["shop"], "cart_token": last["cart_token"]}
	}
	return out, nil
}

// applyUpdate handles "SET a = :x, b = if_not_exists(b, :z) + :o REMOVE c".
func applyUpdate(item map[string]types.AttributeValue, expr string, names map[string]string, values map[string]types.AttributeValue) error {
	expr = strings.TrimPrefix(expr, "SET ")
	setPart, removePart, _ := strings.Cut(expr, " REMOVE ")

	var assigns []string
	for _, part := range strings.Split(setPart, ", ") {
		if strings.Contains(part, " = ") || len(assigns) == 0 {
			assigns = append(assigns, part)
			continue
		}
		assigns[len(assigns)-1] += ", " + part
	}
	for _, a := range assigns {
		lhs, rhs, ok := strings.Cut(a, " = ")
		if !ok {
			return fmt.Errorf("mock: bad assignment %q", a)
		}
		if n, ok := names[lhs]; ok {
			lhs = n
		}
		if strings.HasPrefix(rhs, "if_not_exists(") {
			inner, addend, _ := strings.Cut(strings.TrimPrefix(rhs, "if_not_exists("), ") + ")
			attr, def, _ := strings.Cut(inner, ", ")
			base := nVal(values, def)
			if has(item, attr) {
				base = nAttr(item, attr)
			}
			item[lhs] = numInt(int64(base + nVal(values, addend)))
			continue
		}
		v, ok := values[rhs]
		if !ok {
			return fmt.Errorf("mock: missing value %s", rhs)
		}
		item[lhs] = v
	}
	if removePart != "" {
		for _, attr := range strings.Split(removePart, ", ") {
			delete(item, attr)
		}
	}
	return nil
}

func has(item map[string]types.AttributeValue, name string) bool {
	_, ok := item[name]
	return ok
}

func sAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func nAttr(item map[string]types.AttributeValue, name string) float64 {
	if v, ok := item[name].(*types.AttributeValueMemberN); ok {
		f, _ := strconv.ParseFloat(v.Value, 64)
		return f
	}
	return 0
}

func sVal(v map[string]types.AttributeValue, name string) string  { return sAttr(v, name) }
func nVal(v map[string]types.AttributeValue, name string) float64 { return nAttr(v, name) }

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}
