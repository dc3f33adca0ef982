// Package cache содержит работу с redis: эфемерные записи проверки чеков,
// состояние пользователей и кэш сгруппированных заказов.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avolkhov/studiomarket/internal/model"
)

// Форматы ключей и TTL. Redis никогда не является источником истины для
// остатков товаров — только для эфемерных записей и кэшей чтения.
const (
	// verification:{id} — запись о чеке на ручной проверке.
	keyVerification = "verification:%s"
	// state:{user_id} — состояние пользователя между оформлением и проверкой.
	keyState = "state:%d"
	// orders:{user_id} — кэш сгруппированных заказов.
	keyOrders = "orders:%d"
)

var (
	// TTLVerification ограничивает время жизни записи о ручной проверке.
	TTLVerification = 24 * time.Hour
	// TTLState ограничивает время жизни состояния пользователя.
	TTLState = time.Hour
	// TTLOrders ограничивает время жизни кэша заказов; инвалидация только по TTL.
	TTLOrders = 5 * time.Minute
)

// ErrNotFound возвращается, если записи нет или её TTL истёк.
var ErrNotFound = errors.New("cache: record not found")

// Cache предоставляет доступ к redis.
type Cache struct {
	rdb *redis.Client
}

// New создаёт клиент redis по адресу addr и проверяет соединение.
func New(addr string) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Cache{rdb: rdb}, nil
}

// NewWithClient оборачивает готовый клиент redis (используется в тестах).
func NewWithClient(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// Close закрывает соединение с redis.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// SaveVerification сохраняет запись о чеке, ожидающем решения администратора.
func (c *Cache) SaveVerification(ctx context.Context, rec model.VerificationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal verification: %w", err)
	}

	key := fmt.Sprintf(keyVerification, rec.ID)
	if err := c.rdb.Set(ctx, key, data, TTLVerification).Err(); err != nil {
		return fmt.Errorf("save verification: %w", err)
	}
	return nil
}

// GetVerification возвращает запись проверки по идентификатору.
func (c *Cache) GetVerification(ctx context.Context, id string) (*model.VerificationRecord, error) {
	data, err := c.rdb.Get(ctx, fmt.Sprintf(keyVerification, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get verification: %w", err)
	}

	var rec model.VerificationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal verification: %w", err)
	}
	return &rec, nil
}

// DeleteVerification удаляет запись проверки.
func (c *Cache) DeleteVerification(ctx context.Context, id string) error {
	if err := c.rdb.Del(ctx, fmt.Sprintf(keyVerification, id)).Err(); err != nil {
		return fmt.Errorf("delete verification: %w", err)
	}
	return nil
}

// SaveState сохраняет состояние пользователя, перезаписывая прежнее.
func (c *Cache) SaveState(ctx context.Context, userID int64, state model.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := c.rdb.Set(ctx, fmt.Sprintf(keyState, userID), data, TTLState).Err(); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// GetState возвращает состояние пользователя; отсутствие записи — ErrNotFound.
func (c *Cache) GetState(ctx context.Context, userID int64) (*model.SessionState, error) {
	data, err := c.rdb.Get(ctx, fmt.Sprintf(keyState, userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get state: %w", err)
	}

	var state model.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, nil
}

// DeleteState удаляет состояние пользователя.
func (c *Cache) DeleteState(ctx context.Context, userID int64) error {
	if err := c.rdb.Del(ctx, fmt.Sprintf(keyState, userID)).Err(); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

// GetOrderGroups возвращает закэшированные группы заказов пользователя.
func (c *Cache) GetOrderGroups(ctx context.Context, userID int64) ([]model.OrderGroup, error) {
	data, err := c.rdb.Get(ctx, fmt.Sprintf(keyOrders, userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order groups: %w", err)
	}

	var groups []model.OrderGroup
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, fmt.Errorf("unmarshal order groups: %w", err)
	}
	return groups, nil
}

// SetOrderGroups кэширует группы заказов пользователя на TTLOrders.
func (c *Cache) SetOrderGroups(ctx context.Context, userID int64, groups []model.OrderGroup) error {
	data, err := json.Marshal(groups)
	if err != nil {
		return fmt.Errorf("marshal order groups: %w", err)
	}

	if err := c.rdb.Set(ctx, fmt.Sprintf(keyOrders, userID), data, TTLOrders).Err(); err != nil {
		return fmt.Errorf("set order groups: %w", err)
	}
	return nil
}
