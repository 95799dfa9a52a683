package settings

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-cart-recovery/internal/aws"
)

// Store persists shop settings.
type Store interface {
	// Get returns the shop's settings with defaults applied; a shop that
	// never saved settings gets Defaults.
	Get(ctx context.Context, shop string) (Settings, error)
	Put(ctx context.Context, s Settings) error
	// ListShops returns every shop with saved settings, sorted.
	ListShops(ctx context.Context) ([]string, error)
}

// DynamoStore keeps settings in a table keyed by shop.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewDynamoStore returns a Store on the given settings table.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName}
}

// Get returns the saved settings of shop, or Defaults(shop) when none exist.
func (d *DynamoStore) Get(ctx context.Context, shop string) (Settings, error) {
	out, err := d.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &d.tableName,
		Key: map[string]types.AttributeValue{
			"shop": &types.AttributeValueMemberS{Value: shop},
		},
	})
	if err != nil {
		return Settings{}, fmt.Errorf("get settings: %w", err)
	}
	if len(out.Item) == 0 {
		return Defaults(shop), nil
	}
	var s Settings
	if err := attributevalue.UnmarshalMap(out.Item, &s); err != nil {
		return Settings{}, fmt.Errorf("unmarshal settings: %w", err)
	}
	return s.WithDefaults(), nil
}

func (d *DynamoStore) Put(ctx context.Context, s Settings) error {
	if strings.TrimSpace(s.Shop) == "" {
		return fmt.Errorf("settings: shop is required")
	}
	item, err := attributevalue.MarshalMap(s.WithDefaults())
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if _, err := d.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &d.tableName,
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put settings: %w", err)
	}
	return nil
}

func (d *DynamoStore) ListShops(ctx context.Context) ([]string, error) {
	projection := "shop"
	p := dyn.NewScanPaginator(d.client, &dyn.ScanInput{
		TableName:            &d.tableName,
		ProjectionExpression: &projection,
	})
	var shops []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan settings: %w", err)
		}
		for _, raw := range page.Items {
			if v, ok := raw["shop"].(*types.AttributeValueMemberS); ok && v.Value != "" {
				shops = append(shops, v.Value)
			}
		}
	}
	sort.Strings(shops)
	return shops, nil
}

// MemoryStore is the in-process Store used for local runs and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	shops map[string]Settings
}

// NewMemoryStore returns an empty in-process Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{shops: map[string]Settings{}}
}

func (m *MemoryStore) Get(_ context.Context, shop string) (Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.shops[shop]
	if !ok {
		return Defaults(shop), nil
	}
	return s, nil
}

func (m *MemoryStore) Put(_ context.Context, s Settings) error {
	if strings.TrimSpace(s.Shop) == "" {
		return fmt.Errorf("settings: shop is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shops[s.Shop] = s.WithDefaults()
	return nil
}

func (m *MemoryStore) ListShops(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	shops := make([]string, 0, len(m.shops))
	for shop := range m.shops {
		shops = append(shops, shop)
	}
	sort.Strings(shops)
	return shops, nil
}
