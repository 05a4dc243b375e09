// Package natskv implements NATS JetStream KV backed stores: the
// old→new session mapping store and the generic KV cache used by the
// idempotency middleware.
package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/formpilot/formpilot/internal/domain"
	"github.com/formpilot/formpilot/internal/domain/session"
)

// MappingStore persists session successor mappings in a KV bucket.
// Put overwrites: two racing replacements converge on whichever wrote
// last, the bounded inconsistency the lifecycle manager accepts.
type MappingStore struct {
	kv jetstream.KeyValue
}

// NewMappingStore creates a mapping store over the given bucket.
func NewMappingStore(kv jetstream.KeyValue) *MappingStore {
	return &MappingStore{kv: kv}
}

// Get returns the successor mapping for oldID.
func (s *MappingStore) Get(ctx context.Context, oldID string) (*session.Mapping, error) {
	entry, err := s.kv.Get(ctx, oldID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("mapping %s: %w", oldID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("mapping %s: %w", oldID, err)
	}

	var m session.Mapping
	if err := json.Unmarshal(entry.Value(), &m); err != nil {
		return nil, fmt.Errorf("mapping %s: decode: %w", oldID, err)
	}
	return &m, nil
}

// Put records a successor mapping, overwriting any existing entry.
func (s *MappingStore) Put(ctx context.Context, m session.Mapping) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("mapping %s: encode: %w", m.OldID, err)
	}
	if _, err := s.kv.Put(ctx, m.OldID, data); err != nil {
		return fmt.Errorf("mapping %s: put: %w", m.OldID, err)
	}
	return nil
}
