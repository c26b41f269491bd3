// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/lodestone-obs/lodestone/internal/stream"
)

const (
	schemaKeyPrefix   = "schema/"
	deletingKeyPrefix = "deleting/"
)

// BadgerStore persists stream schemas and settings in an embedded badger DB.
// Values are JSON-encoded StreamInfo; keys are "{prefix}{org}/{type}/{name}".
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func schemaKey(org string, st stream.Type, name string) []byte {
	return []byte(schemaKeyPrefix + stream.Params{Org: org, Type: st, Name: name}.Key())
}

func deletingKey(org string, st stream.Type, name string) []byte {
	return []byte(deletingKeyPrefix + stream.Params{Org: org, Type: st, Name: name}.Key())
}

func (b *BadgerStore) GetStream(_ context.Context, org string, st stream.Type, name string) (*StreamInfo, error) {
	var info *StreamInfo
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		info, err = readInfo(txn, schemaKey(org, st, name))
		return err
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (b *BadgerStore) MergeFields(_ context.Context, org string, st stream.Type, name string, fields []string) (*StreamInfo, error) {
	key := schemaKey(org, st, name)
	var merged *StreamInfo
	err := b.db.Update(func(txn *badger.Txn) error {
		info, err := readInfo(txn, key)
		if errors.Is(err, ErrStreamNotFound) {
			info = &StreamInfo{Settings: make(map[string]string)}
		} else if err != nil {
			return err
		}
		info.Fields = mergeFieldList(info.Fields, fields)
		merged = info
		return writeInfo(txn, key, info)
	})
	if err != nil {
		return nil, fmt.Errorf("merge fields for stream %q: %w", name, err)
	}
	return merged, nil
}

func (b *BadgerStore) UpdateSetting(_ context.Context, org string, st stream.Type, name string, settings map[string]string) error {
	key := schemaKey(org, st, name)
	err := b.db.Update(func(txn *badger.Txn) error {
		info, err := readInfo(txn, key)
		if errors.Is(err, ErrStreamNotFound) {
			info = &StreamInfo{Settings: make(map[string]string)}
		} else if err != nil {
			return err
		}
		if info.Settings == nil {
			info.Settings = make(map[string]string)
		}
		for k, v := range settings {
			info.Settings[k] = v
		}
		return writeInfo(txn, key, info)
	})
	if err != nil {
		return fmt.Errorf("update settings for stream %q: %w", name, err)
	}
	return nil
}

func (b *BadgerStore) IsDeleting(org string, st stream.Type, name string) bool {
	deleting := false
	//nolint:errcheck
	b.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(deletingKey(org, st, name)); err == nil {
			deleting = true
		}
		return nil
	})
	return deleting
}

func (b *BadgerStore) MarkDeleting(_ context.Context, org string, st stream.Type, name string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(deletingKey(org, st, name), nil)
	})
}

func readInfo(txn *badger.Txn, key []byte) (*StreamInfo, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrStreamNotFound
	}
	if err != nil {
		return nil, err
	}
	info := &StreamInfo{}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, info)
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func writeInfo(txn *badger.Txn, key []byte, info *StreamInfo) error {
	val, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return txn.Set(key, val)
}
