package storage

// jsonfile.go - snapshot del ledger en un único fichero JSON (positions.json).
// Útil para despliegues sin disco persistente para SQLite o para inspección manual.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// JSONStore implementa ports.Store sobre un fichero.
type JSONStore struct {
	path string
	mu   sync.Mutex
}

// NewJSONStore crea el store. El directorio se crea si no existe.
func NewJSONStore(path string) (*JSONStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage.NewJSONStore: mkdir: %w", err)
	}
	return &JSONStore{path: path}, nil
}

// LoadState lee el fichero. Si no existe devuelve un snapshot vacío.
func (s *JSONStore) LoadState(_ context.Context) (domain.LedgerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.NewLedgerState(), nil
	}
	if err != nil {
		return domain.NewLedgerState(), fmt.Errorf("storage.JSONStore.LoadState: read: %w", err)
	}

	state := domain.NewLedgerState()
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.NewLedgerState(), fmt.Errorf("storage.JSONStore.LoadState: decode %s: %w", s.path, err)
	}
	if state.Positions == nil {
		state.Positions = make(map[string]domain.Position)
	}
	return state, nil
}

// SaveState escribe a un temporal y renombra, así un corte a mitad de write
// nunca deja el fichero truncado.
func (s *JSONStore) SaveState(_ context.Context, state domain.LedgerState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("storage.JSONStore.SaveState: encode: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".positions-*.json")
	if err != nil {
		return fmt.Errorf("storage.JSONStore.SaveState: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("storage.JSONStore.SaveState: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage.JSONStore.SaveState: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("storage.JSONStore.SaveState: rename: %w", err)
	}
	return nil
}

// Close no tiene nada que liberar.
func (s *JSONStore) Close() error { return nil }
