// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package relayconfig

import (
	"context"
	"sync"
)

// PasswordMask replaces the stored password in API responses. Saving it back
// keeps the current password.
const PasswordMask = "********"

// Store holds the singleton RelayConfig.
type Store interface {
	// Get returns the current config, or the defaults when nothing was saved yet.
	Get(ctx context.Context) (RelayConfig, error)
	// Set sanitizes raw and replaces the stored config with the result.
	Set(ctx context.Context, raw RawInput) (RelayConfig, error)
	// Init stores the defaults if no config exists yet.
	Init(ctx context.Context) error
	Close() error
}

// MemoryStore keeps the config in process memory.
type MemoryStore struct {
	defaults RelayConfig

	mu     sync.RWMutex
	cfg    RelayConfig
	stored bool
}

func NewMemoryStore(id Identity) *MemoryStore {
	return &MemoryStore{defaults: Defaults(id)}
}

func (s *MemoryStore) Get(_ context.Context) (RelayConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.stored {
		return s.defaults, nil
	}
	return s.cfg, nil
}

func (s *MemoryStore) Set(_ context.Context, raw RawInput) (RelayConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := Sanitize(unmask(raw, s.currentLocked()), s.defaults)
	s.cfg = cfg
	s.stored = true
	return cfg, nil
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stored {
		s.cfg = s.defaults
		s.stored = true
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) currentLocked() RelayConfig {
	if !s.stored {
		return s.defaults
	}
	return s.cfg
}

// unmask swaps a masked password for the one currently stored.
func unmask(raw RawInput, current RelayConfig) RawInput {
	if raw[KeyPassword] != PasswordMask {
		return raw
	}
	out := make(RawInput, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	out[KeyPassword] = current.Password
	return out
}
