// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

package record

import (
	"github.com/prometheus/common/model"
)

// excludedFromHash lists the columns that never participate in the row
// content fingerprint: measurement payload and bookkeeping columns change
// between scrapes of the same series and would break identity/dedup.
var excludedFromHash = map[string]struct{}{
	ValueLabel:     {},
	TimestampCol:   {},
	StartTimeLabel: {},
	FlagLabel:      {},
	ExemplarsLabel: {},
	HashLabel:      {},
	MetadataLabel:  {},
}

// ExcludedFromHash reports whether the column is ignored by Signature.
func ExcludedFromHash(col string) bool {
	_, ok := excludedFromHash[col]
	return ok
}

// Signature computes the content fingerprint of the record's label columns,
// excluding the fixed exclusion set. Two rows describing the same series
// (same labels) produce the same signature regardless of value, timestamp
// or exemplars. The hash itself is the Prometheus label-set signature.
func (r Record) Signature() uint64 {
	labels := make(map[string]string, len(r))
	for col := range r {
		if _, skip := excludedFromHash[col]; skip {
			continue
		}
		labels[col] = r.StringValue(col)
	}
	return model.LabelsToSignature(labels)
}
