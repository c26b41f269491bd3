// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/lodestone-obs/lodestone/internal/stream"
)

// MemoryStore is an in-process rule store for tests and embedded setups.
type MemoryStore struct {
	mu    sync.RWMutex
	rules map[string][]*Alert
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rules: make(map[string][]*Alert)}
}

func (m *MemoryStore) Add(a *Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := stream.Params{Org: a.Org, Type: a.StreamType, Name: a.StreamName}.Key()
	m.rules[key] = append(m.rules[key], a)
}

func (m *MemoryStore) List(_ context.Context, org string, st stream.Type, name string) ([]*Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rules[stream.Params{Org: org, Type: st, Name: name}.Key()], nil
}

const alertKeyPrefix = "alerts/"

// BadgerStore keeps rules as a JSON array per stream key.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func alertKey(org string, st stream.Type, name string) []byte {
	return []byte(alertKeyPrefix + stream.Params{Org: org, Type: st, Name: name}.Key())
}

func (b *BadgerStore) List(_ context.Context, org string, st stream.Type, name string) ([]*Alert, error) {
	var rules []*Alert
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(alertKey(org, st, name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rules)
		})
	})
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (b *BadgerStore) Save(_ context.Context, a *Alert) error {
	key := alertKey(a.Org, a.StreamType, a.StreamName)
	return b.db.Update(func(txn *badger.Txn) error {
		var rules []*Alert
		item, err := txn.Get(key)
		if err == nil {
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rules)
			})
			if err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		replaced := false
		for i, existing := range rules {
			if existing.Name == a.Name {
				rules[i] = a
				replaced = true
				break
			}
		}
		if !replaced {
			rules = append(rules, a)
		}
		val, err := json.Marshal(rules)
		if err != nil {
			return err
		}
		return txn.Set(key, val)
	})
}

// LogNotifier records fired triggers in the service log. Deployments hook a
// real notification channel in its place.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) FireTriggers(_ context.Context, batch TriggerBatch) error {
	for _, trigger := range batch {
		n.logger.Info("alert triggered",
			zap.String("alert", trigger.Alert.Name),
			zap.String("org", trigger.Alert.Org),
			zap.String("stream", trigger.Alert.StreamName),
			zap.Any("row", trigger.Row))
	}
	return nil
}
