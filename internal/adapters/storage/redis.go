package storage

// redis.go - snapshot del ledger y journal de cierres en Redis, para despliegues
// sin disco local (contenedores efímeros).

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

const (
	defaultRedisPrefix = "polyedge"
	// Cierres que se conservan en la lista del journal.
	maxJournalEntries = 1000
)

// RedisStore implementa ports.Store y ports.TradeJournal.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore conecta con la URL dada (redis://...) y verifica la conexión.
func NewRedisStore(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("storage.NewRedisStore: parse url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("storage.NewRedisStore: ping: %w", err)
	}
	return NewRedisStoreWithClient(rdb, prefix), nil
}

// NewRedisStoreWithClient usa un cliente ya creado.
func NewRedisStoreWithClient(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) stateKey() string   { return s.prefix + ":ledger" }
func (s *RedisStore) journalKey() string { return s.prefix + ":closed_positions" }

// LoadState lee el snapshot. Una clave inexistente es un ledger vacío.
func (s *RedisStore) LoadState(ctx context.Context) (domain.LedgerState, error) {
	data, err := s.rdb.Get(ctx, s.stateKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.NewLedgerState(), nil
	}
	if err != nil {
		return domain.NewLedgerState(), fmt.Errorf("storage.RedisStore.LoadState: %w", err)
	}

	state := domain.NewLedgerState()
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.NewLedgerState(), fmt.Errorf("storage.RedisStore.LoadState: decode: %w", err)
	}
	if state.Positions == nil {
		state.Positions = make(map[string]domain.Position)
	}
	return state, nil
}

// SaveState reemplaza el snapshot. Sin TTL: el estado vive hasta que se sobrescribe.
func (s *RedisStore) SaveState(ctx context.Context, state domain.LedgerState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("storage.RedisStore.SaveState: encode: %w", err)
	}
	if err := s.rdb.Set(ctx, s.stateKey(), data, 0).Err(); err != nil {
		return fmt.Errorf("storage.RedisStore.SaveState: %w", err)
	}
	return nil
}

// RecordClose añade el cierre al principio de la lista y la recorta.
func (s *RedisStore) RecordClose(ctx context.Context, c domain.ClosedPosition) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("storage.RedisStore.RecordClose: encode: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, s.journalKey(), data)
	pipe.LTrim(ctx, s.journalKey(), 0, maxJournalEntries-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storage.RedisStore.RecordClose: %w", err)
	}
	return nil
}

// ClosedPositions devuelve los últimos cierres, más recientes primero.
func (s *RedisStore) ClosedPositions(ctx context.Context, limit int) ([]domain.ClosedPosition, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	items, err := s.rdb.LRange(ctx, s.journalKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("storage.RedisStore.ClosedPositions: %w", err)
	}

	out := make([]domain.ClosedPosition, 0, len(items))
	for _, it := range items {
		var c domain.ClosedPosition
		if err := json.Unmarshal([]byte(it), &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Close cierra el cliente.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
