// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package relayconfig

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	relayBucket = []byte("relay")
	configKey   = []byte("config")
)

// BoltStore persists the config as a JSON document in a bbolt file.
type BoltStore struct {
	defaults RelayConfig
	mutex    sync.Mutex
	db       *bolt.DB
}

// OpenBoltStore opens (or creates) the database at path and makes sure the bucket exists.
func OpenBoltStore(path string, id Identity) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open config store %s", path)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(relayBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create relay bucket")
	}
	return &BoltStore{defaults: Defaults(id), db: db}, nil
}

func (s *BoltStore) Get(_ context.Context) (RelayConfig, error) {
	cfg, found, err := s.read()
	if err != nil {
		return s.defaults, err
	}
	if !found {
		return s.defaults, nil
	}
	return cfg, nil
}

func (s *BoltStore) Set(_ context.Context, raw RawInput) (RelayConfig, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	current, found, err := s.read()
	if err != nil {
		return RelayConfig{}, err
	}
	if !found {
		current = s.defaults
	}
	cfg := Sanitize(unmask(raw, current), s.defaults)
	if err := s.write(cfg); err != nil {
		return RelayConfig{}, err
	}
	return cfg, nil
}

func (s *BoltStore) Init(_ context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, found, err := s.read()
	if err != nil || found {
		return err
	}
	return s.write(s.defaults)
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) read() (cfg RelayConfig, found bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(relayBucket)
		if b == nil {
			return nil
		}
		v := b.Get(configKey)
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &cfg)
	})
	if err != nil {
		return RelayConfig{}, false, errors.Wrap(err, "read relay config")
	}
	return cfg, found, nil
}

func (s *BoltStore) write(cfg RelayConfig) error {
	value, err := json.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "encode relay config")
	}
	return errors.Wrap(s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(relayBucket).Put(configKey, value)
	}), "write relay config")
}
