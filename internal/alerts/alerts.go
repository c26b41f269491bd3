// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

package alerts

import (
	"context"
	"fmt"
	"sync"

	"github.com/PaesslerAG/gval"

	"github.com/lodestone-obs/lodestone/internal/record"
	"github.com/lodestone-obs/lodestone/internal/stream"
)

// Alert is a real-time rule attached to a destination stream. Condition is a
// gval boolean expression evaluated against the flattened record columns,
// e.g. `value > 100 && code == "500"`.
type Alert struct {
	Name       string      `json:"name"`
	Org        string      `json:"org"`
	StreamType stream.Type `json:"stream_type"`
	StreamName string      `json:"stream_name"`
	Condition  string      `json:"condition"`
	Enabled    bool        `json:"enabled"`

	compileOnce sync.Once
	compiled    gval.Evaluable
	compileErr  error
}

// Evaluate checks the rule against a single record. When the condition
// holds it returns the row that fired the rule plus the evaluation end time.
func (a *Alert) Evaluate(ctx context.Context, rec record.Record, endTime int64) (map[string]any, bool, error) {
	if !a.Enabled {
		return nil, false, nil
	}
	a.compileOnce.Do(func() {
		a.compiled, a.compileErr = gval.Full().NewEvaluable(a.Condition)
	})
	if a.compileErr != nil {
		return nil, false, fmt.Errorf("alert %q condition: %w", a.Name, a.compileErr)
	}
	ok, err := a.compiled.EvalBool(ctx, map[string]any(rec))
	if err != nil || !ok {
		return nil, false, err
	}
	row := make(map[string]any, len(rec)+1)
	for k, v := range rec {
		row[k] = v
	}
	row["alert_end_time"] = endTime
	return row, true, nil
}

// Trigger is one fired rule with the row that fired it.
type Trigger struct {
	Alert *Alert
	Row   map[string]any
}

// TriggerBatch accumulates a stream's fired rules for one request. Batches
// are staged during processing and fired exactly once after all streams have
// been committed.
type TriggerBatch []Trigger

// EvaluateAll runs every rule against the record and returns the staged
// triggers. Rule evaluation errors skip the rule; one bad rule must not
// block the rest.
func EvaluateAll(ctx context.Context, rules []*Alert, rec record.Record, endTime int64) (TriggerBatch, []error) {
	var batch TriggerBatch
	var errs []error
	for _, rule := range rules {
		row, fired, err := rule.Evaluate(ctx, rec, endTime)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if fired {
			batch = append(batch, Trigger{Alert: rule, Row: row})
		}
	}
	return batch, errs
}

// Store supplies the rules attached to a stream.
type Store interface {
	List(ctx context.Context, org string, st stream.Type, name string) ([]*Alert, error)
}

// Notifier finalizes staged triggers after the request's writes complete.
type Notifier interface {
	FireTriggers(ctx context.Context, batch TriggerBatch) error
}
