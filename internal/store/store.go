// Package store persists order records and fraud decisions. Redis is the
// authoritative hot store for live order state; Postgres holds the immutable
// event history and the aggregates the admin surface reads. When no Postgres
// URL is configured the durable writes become no-ops and the aggregation
// queries report unavailability.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Meridian-Markets/engine/pkg/model"
)

var (
	// ErrNotFound is returned when no order exists under the given id.
	ErrNotFound = errors.New("order not found")
	// ErrVersionConflict is returned when a concurrent writer won the
	// version check. Callers reload and decide whether to retry.
	ErrVersionConflict = errors.New("order version conflict")
	// ErrDurableUnavailable is returned by aggregation reads when no
	// Postgres pool is configured.
	ErrDurableUnavailable = errors.New("postgres unavailable")
)

// FraudAlertRow is one flagged decision from the durable history.
type FraudAlertRow struct {
	EventID      string    `json:"eventId"`
	UserID       string    `json:"userId"`
	Score        float64   `json:"score"`
	Action       string    `json:"action"`
	Explanations []string  `json:"explanations"`
	ModelVersion string    `json:"modelVersion"`
	DecidedAt    time.Time `json:"decidedAt"`
}

// UserStatsRow aggregates one user's order and fraud activity.
type UserStatsRow struct {
	UserID         string           `json:"userId"`
	OrdersByStatus map[string]int64 `json:"ordersByStatus"`
	FraudByAction  map[string]int64 `json:"fraudByAction"`
	LastOrderAt    *time.Time       `json:"lastOrderAt,omitempty"`
}

// OrderEventRow is one entry from an order's immutable history.
type OrderEventRow struct {
	OrderID    string    `json:"orderId"`
	Status     string    `json:"status"`
	Version    int64     `json:"version"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Store is the persistence contract for order state and fraud decisions.
type Store interface {
	SaveOrder(ctx context.Context, order *model.Order) error
	UpdateOrder(ctx context.Context, order *model.Order) error
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	GetUserOrders(ctx context.Context, userID string) ([]model.Order, error)
	RecordFraudDecision(ctx context.Context, decision model.FraudDecision) error
	GetOrderHistory(ctx context.Context, orderID string) ([]OrderEventRow, error)
	FraudAlerts(ctx context.Context, since time.Time, limit int) ([]FraudAlertRow, error)
	UserStats(ctx context.Context, userID string) (*UserStatsRow, error)
	CountOrdersByStatus(ctx context.Context) (map[string]int64, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) error
	HealthCheck(ctx context.Context) error
	Close() error
}

type HybridStore struct {
	redis  *redis.Client
	PG     *pgxpool.Pool
	logger *zap.Logger
}

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// NewHybrid creates a Redis-first, Postgres-backed store. An empty pgURL
// disables durable writes.
func NewHybrid(redisAddr, redisPass string, redisDB int, pgURL string, pgPoolConfig PGPoolConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPass,
		DB:       redisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	var pgPool *pgxpool.Pool
	if pgURL != "" {
		cfg, err := pgxpool.ParseConfig(pgURL)
		if err != nil {
			return nil, fmt.Errorf("invalid pg config: %w", err)
		}
		if pgPoolConfig.MaxConns > 0 {
			cfg.MaxConns = pgPoolConfig.MaxConns
		}
		if pgPoolConfig.MinConns > 0 {
			cfg.MinConns = pgPoolConfig.MinConns
		}
		if pgPoolConfig.MaxConnLifetime > 0 {
			cfg.MaxConnLifetime = pgPoolConfig.MaxConnLifetime
		}
		if pgPoolConfig.MaxConnIdleTime > 0 {
			cfg.MaxConnIdleTime = pgPoolConfig.MaxConnIdleTime
		}
		if pgPoolConfig.HealthCheckPeriod > 0 {
			cfg.HealthCheckPeriod = pgPoolConfig.HealthCheckPeriod
		}
		pgPool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	}

	return &HybridStore{redis: rdb, PG: pgPool, logger: logger}, nil
}

func orderKey(orderID string) string    { return "order:" + orderID }
func userIndexKey(userID string) string { return "user_orders:" + userID }

// SaveOrder creates a new order record at version 1. A duplicate id is an
// error; order ids are generated, never reused.
func (s *HybridStore) SaveOrder(ctx context.Context, order *model.Order) error {
	order.Version = 1
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	ok, err := s.redis.SetNX(ctx, orderKey(order.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	if !ok {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	if err := s.redis.SAdd(ctx, userIndexKey(order.UserID), order.ID).Err(); err != nil {
		return fmt.Errorf("index order: %w", err)
	}

	s.recordOrderEvent(ctx, order)
	s.upsertOrderSnapshot(ctx, order)
	return nil
}

// UpdateOrder persists a modified order if and only if the stored version
// still matches order.Version. On success order.Version is incremented;
// on conflict ErrVersionConflict is returned and the order is unchanged.
func (s *HybridStore) UpdateOrder(ctx context.Context, order *model.Order) error {
	key := orderKey(order.ID)
	expected := order.Version

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var current model.Order
		if err := json.Unmarshal(data, &current); err != nil {
			return fmt.Errorf("unmarshal stored order: %w", err)
		}
		if current.Version != expected {
			return ErrVersionConflict
		}

		order.Version = expected + 1
		order.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(order)
		if err != nil {
			return fmt.Errorf("marshal order: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}

	err := s.redis.Watch(ctx, txn, key)
	if errors.Is(err, redis.TxFailedErr) {
		err = ErrVersionConflict
	}
	if err != nil {
		order.Version = expected
		return err
	}

	s.recordOrderEvent(ctx, order)
	s.upsertOrderSnapshot(ctx, order)
	return nil
}

func (s *HybridStore) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	data, err := s.redis.Get(ctx, orderKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var order model.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &order, nil
}

// GetUserOrders returns the user's orders, newest first.
func (s *HybridStore) GetUserOrders(ctx context.Context, userID string) ([]model.Order, error) {
	ids, err := s.redis.SMembers(ctx, userIndexKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = orderKey(id)
	}
	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	orders := make([]model.Order, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // evicted between SMEMBERS and MGET
		}
		var order model.Order
		if err := json.Unmarshal([]byte(raw), &order); err != nil {
			s.logger.Warn("store.order_unmarshal_failed", zap.Error(err))
			continue
		}
		orders = append(orders, order)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return orders, nil
}

// RecordFraudDecision appends the decision to the durable history. No-op
// without Postgres.
func (s *HybridStore) RecordFraudDecision(ctx context.Context, decision model.FraudDecision) error {
	if s.PG == nil {
		return nil
	}
	explanations, err := json.Marshal(decision.Explanations)
	if err != nil {
		return err
	}
	_, err = s.PG.Exec(ctx, `
		INSERT INTO fraud.decision (
			event_id, user_id, score, action, explanations, model_version, decided_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, decision.EventID, decision.UserID, decision.Score, string(decision.Action),
		explanations, decision.ModelVersion, decision.Timestamp)
	if err != nil {
		s.logger.Error("store.pg.insert_decision_failed", zap.Error(err))
	}
	return err
}

// recordOrderEvent inserts an immutable row into trading.order_event.
// Failures are logged, never surfaced; the durable history is best effort.
func (s *HybridStore) recordOrderEvent(ctx context.Context, order *model.Order) {
	if s.PG == nil {
		return
	}
	payload, err := json.Marshal(order)
	if err != nil {
		return
	}
	_, err = s.PG.Exec(ctx, `
		INSERT INTO trading.order_event (
			order_id, user_id, symbol, status, version, payload, recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, order.ID, order.UserID, order.Signal.Symbol, string(order.Status), order.Version, payload)
	if err != nil {
		s.logger.Error("store.pg.insert_event_failed", zap.Error(err))
	}
}

// upsertOrderSnapshot updates the projection table the admin queries read.
func (s *HybridStore) upsertOrderSnapshot(ctx context.Context, order *model.Order) {
	if s.PG == nil {
		return
	}
	_, err := s.PG.Exec(ctx, `
		INSERT INTO trading.order_snapshot (
			order_id, user_id, symbol, status, version, as_of
		)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (order_id)
		DO UPDATE SET
			status = EXCLUDED.status,
			version = EXCLUDED.version,
			as_of = EXCLUDED.as_of;
	`, order.ID, order.UserID, order.Signal.Symbol, string(order.Status), order.Version)
	if err != nil {
		s.logger.Error("store.pg.snapshot_update_failed", zap.Error(err))
	}
}

func (s *HybridStore) GetOrderHistory(ctx context.Context, orderID string) ([]OrderEventRow, error) {
	if s.PG == nil {
		return nil, ErrDurableUnavailable
	}
	rows, err := s.PG.Query(ctx, `
		SELECT order_id, status, version, recorded_at
		FROM trading.order_event
		WHERE order_id = $1
		ORDER BY version ASC;
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []OrderEventRow
	for rows.Next() {
		var e OrderEventRow
		if err := rows.Scan(&e.OrderID, &e.Status, &e.Version, &e.RecordedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

func (s *HybridStore) FraudAlerts(ctx context.Context, since time.Time, limit int) ([]FraudAlertRow, error) {
	if s.PG == nil {
		return nil, ErrDurableUnavailable
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.PG.Query(ctx, `
		SELECT event_id, user_id, score, action, explanations, model_version, decided_at
		FROM fraud.decision
		WHERE action IN ('BLOCK', 'MFA', 'SHADOW') AND decided_at >= $1
		ORDER BY decided_at DESC
		LIMIT $2;
	`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []FraudAlertRow
	for rows.Next() {
		var a FraudAlertRow
		var explanations []byte
		if err := rows.Scan(&a.EventID, &a.UserID, &a.Score, &a.Action,
			&explanations, &a.ModelVersion, &a.DecidedAt); err != nil {
			return nil, err
		}
		if len(explanations) > 0 {
			if err := json.Unmarshal(explanations, &a.Explanations); err != nil {
				return nil, fmt.Errorf("decode explanations: %w", err)
			}
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

func (s *HybridStore) UserStats(ctx context.Context, userID string) (*UserStatsRow, error) {
	if s.PG == nil {
		return nil, ErrDurableUnavailable
	}
	stats := &UserStatsRow{
		UserID:         userID,
		OrdersByStatus: make(map[string]int64),
		FraudByAction:  make(map[string]int64),
	}

	rows, err := s.PG.Query(ctx, `
		SELECT status, COUNT(*), MAX(as_of)
		FROM trading.order_snapshot
		WHERE user_id = $1
		GROUP BY status;
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		var latest time.Time
		if err := rows.Scan(&status, &count, &latest); err != nil {
			return nil, err
		}
		stats.OrdersByStatus[status] = count
		if stats.LastOrderAt == nil || latest.After(*stats.LastOrderAt) {
			t := latest
			stats.LastOrderAt = &t
		}
	}

	fraudRows, err := s.PG.Query(ctx, `
		SELECT action, COUNT(*)
		FROM fraud.decision
		WHERE user_id = $1
		GROUP BY action;
	`, userID)
	if err != nil {
		return nil, err
	}
	defer fraudRows.Close()
	for fraudRows.Next() {
		var action string
		var count int64
		if err := fraudRows.Scan(&action, &count); err != nil {
			return nil, err
		}
		stats.FraudByAction[action] = count
	}

	return stats, nil
}

func (s *HybridStore) CountOrdersByStatus(ctx context.Context) (map[string]int64, error) {
	if s.PG == nil {
		return nil, ErrDurableUnavailable
	}
	rows, err := s.PG.Query(ctx, `
		SELECT status, COUNT(*)
		FROM trading.order_snapshot
		GROUP BY status;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, nil
}

func (s *HybridStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, key, data, ttl).Err()
}

func (s *HybridStore) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (s *HybridStore) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if s.PG != nil {
		if err := s.PG.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
	}
	return nil
}

func (s *HybridStore) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
