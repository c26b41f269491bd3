// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"encoding/hex"
	"encoding/json"
	"math"
	"strconv"

	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/pmetric"

	"github.com/lodestone-obs/lodestone/internal/record"
	"github.com/lodestone-obs/lodestone/internal/stream"
)

// Data-point flag strings carried on every row.
const (
	flagNoRecordedValue = "FLAG_NO_RECORDED_VALUE"
	flagDoNotUse        = "FLAG_DO_NOT_USE"
)

// Metric family types persisted in stream metadata.
const (
	familyTypeUnknown              = "unknown"
	familyTypeGauge                = "gauge"
	familyTypeCounter              = "counter"
	familyTypeHistogram            = "histogram"
	familyTypeExponentialHistogram = "exponentialhistogram"
	familyTypeSummary              = "summary"
)

// flattenMetric turns one metric family into flat rows, one or more per data
// point depending on the metric shape, and reports the family type for
// metadata. The base record already carries resource attributes, scope
// identity, and the family name.
func flattenMetric(base record.Record, m pmetric.Metric) ([]record.Record, string) {
	switch m.Type() {
	case pmetric.MetricTypeGauge:
		return flattenGauge(base, m.Gauge()), familyTypeGauge
	case pmetric.MetricTypeSum:
		return flattenSum(base, m.Sum()), familyTypeCounter
	case pmetric.MetricTypeHistogram:
		return flattenHistogram(base, m.Histogram()), familyTypeHistogram
	case pmetric.MetricTypeExponentialHistogram:
		return flattenExponentialHistogram(base, m.ExponentialHistogram()), familyTypeExponentialHistogram
	case pmetric.MetricTypeSummary:
		return flattenSummary(base, m.Summary()), familyTypeSummary
	default:
		return nil, familyTypeUnknown
	}
}

func flattenGauge(base record.Record, g pmetric.Gauge) []record.Record {
	var rows []record.Record
	dps := g.DataPoints()
	for i := 0; i < dps.Len(); i++ {
		rec := base.Clone()
		applyNumberDataPoint(rec, dps.At(i))
		rows = appendRow(rows, rec)
	}
	return rows
}

func flattenSum(base record.Record, s pmetric.Sum) []record.Record {
	base["aggregation_temporality"] = temporalityString(s.AggregationTemporality())
	base["is_monotonic"] = strconv.FormatBool(s.IsMonotonic())
	var rows []record.Record
	dps := s.DataPoints()
	for i := 0; i < dps.Len(); i++ {
		rec := base.Clone()
		applyNumberDataPoint(rec, dps.At(i))
		rows = appendRow(rows, rec)
	}
	return rows
}

func flattenHistogram(base record.Record, h pmetric.Histogram) []record.Record {
	base["aggregation_temporality"] = temporalityString(h.AggregationTemporality())
	var rows []record.Record
	dps := h.DataPoints()
	for i := 0; i < dps.Len(); i++ {
		dp := dps.At(i)
		rec := base.Clone()
		applyDataPointCommon(rec, dp.Attributes(), dp.Timestamp(), dp.StartTimestamp(), dp.Flags())
		rec[record.ExemplarsLabel] = flattenExemplars(dp.Exemplars())

		rows = appendRow(rows, derivedRow(rec, "_count", float64(dp.Count())))
		rows = appendRow(rows, derivedRow(rec, "_sum", dp.Sum()))
		rows = appendRow(rows, derivedRow(rec, "_min", dp.Min()))
		rows = appendRow(rows, derivedRow(rec, "_max", dp.Max()))

		// Cumulative bucket rows, one per explicit bound.
		var cumulative uint64
		bounds := dp.ExplicitBounds()
		counts := dp.BucketCounts()
		for b := 0; b < bounds.Len(); b++ {
			if b < counts.Len() {
				cumulative += counts.At(b)
			}
			row := derivedRow(rec, "_bucket", float64(cumulative))
			row["le"] = strconv.FormatFloat(bounds.At(b), 'g', -1, 64)
			rows = appendRow(rows, row)
		}
	}
	return rows
}

func flattenExponentialHistogram(base record.Record, h pmetric.ExponentialHistogram) []record.Record {
	base["aggregation_temporality"] = temporalityString(h.AggregationTemporality())
	var rows []record.Record
	dps := h.DataPoints()
	for i := 0; i < dps.Len(); i++ {
		dp := dps.At(i)
		rec := base.Clone()
		applyDataPointCommon(rec, dp.Attributes(), dp.Timestamp(), dp.StartTimestamp(), dp.Flags())
		rec[record.ExemplarsLabel] = flattenExemplars(dp.Exemplars())

		rows = appendRow(rows, derivedRow(rec, "_count", float64(dp.Count())))
		rows = appendRow(rows, derivedRow(rec, "_sum", dp.Sum()))

		// base = 2^(2^-scale); the upper bound of bucket index j (counted
		// from the bucket offset) is base^(offset+j+1).
		expBase := math.Pow(2, math.Pow(2, -float64(dp.Scale())))
		rows = appendExpBuckets(rows, rec, dp.Negative(), expBase)
		rows = appendExpBuckets(rows, rec, dp.Positive(), expBase)
	}
	return rows
}

func appendExpBuckets(rows []record.Record, rec record.Record, buckets pmetric.ExponentialHistogramDataPointBuckets, expBase float64) []record.Record {
	offset := buckets.Offset()
	counts := buckets.BucketCounts()
	for i := 0; i < counts.Len(); i++ {
		count := counts.At(i)
		if count == 0 {
			continue
		}
		row := derivedRow(rec, "_bucket", float64(count))
		le := math.Pow(expBase, float64(offset+int32(i)+1))
		row["le"] = strconv.FormatFloat(le, 'g', -1, 64)
		rows = appendRow(rows, row)
	}
	return rows
}

func flattenSummary(base record.Record, s pmetric.Summary) []record.Record {
	var rows []record.Record
	dps := s.DataPoints()
	for i := 0; i < dps.Len(); i++ {
		dp := dps.At(i)
		rec := base.Clone()
		applyDataPointCommon(rec, dp.Attributes(), dp.Timestamp(), dp.StartTimestamp(), dp.Flags())

		rows = appendRow(rows, derivedRow(rec, "_count", float64(dp.Count())))
		rows = appendRow(rows, derivedRow(rec, "_sum", dp.Sum()))

		quantiles := dp.QuantileValues()
		for q := 0; q < quantiles.Len(); q++ {
			qv := quantiles.At(q)
			row := rec.Clone()
			row[record.ValueLabel] = qv.Value()
			row["quantile"] = strconv.FormatFloat(qv.Quantile(), 'g', -1, 64)
			rows = appendRow(rows, row)
		}
	}
	return rows
}

// applyNumberDataPoint fills one gauge/sum row from a number data point.
func applyNumberDataPoint(rec record.Record, dp pmetric.NumberDataPoint) {
	applyDataPointCommon(rec, dp.Attributes(), dp.Timestamp(), dp.StartTimestamp(), dp.Flags())
	rec[record.ValueLabel] = numberValue(dp)
	rec[record.ExemplarsLabel] = flattenExemplars(dp.Exemplars())
}

func applyDataPointCommon(rec record.Record, attrs pcommon.Map, ts, startTs pcommon.Timestamp, flags pmetric.DataPointFlags) {
	attrs.Range(func(k string, v pcommon.Value) bool {
		rec[stream.FormatLabelName(k)] = attrValue(v)
		return true
	})
	// OTLP carries nanoseconds; columns carry microseconds (truncated).
	rec[record.TimestampCol] = int64(uint64(ts) / 1000)
	rec[record.StartTimeLabel] = strconv.FormatUint(uint64(startTs), 10)
	if flags.NoRecordedValue() {
		rec[record.FlagLabel] = flagNoRecordedValue
	} else {
		rec[record.FlagLabel] = flagDoNotUse
	}
}

// derivedRow clones the data-point row into a "{family}{suffix}" row
// carrying the given value.
func derivedRow(rec record.Record, suffix string, value float64) record.Record {
	row := rec.Clone()
	row[record.NameLabel] = rec.Name() + suffix
	row[record.ValueLabel] = value
	return row
}

// appendRow finalizes a row (content hash last, after all labels are set)
// and appends it. Rows with a non-finite value are dropped: they cannot be
// serialized and carry no usable measurement.
func appendRow(rows []record.Record, rec record.Record) []record.Record {
	if v, ok := rec[record.ValueLabel].(float64); ok && (math.IsNaN(v) || math.IsInf(v, 0)) {
		return rows
	}
	rec[record.HashLabel] = rec.Signature()
	return append(rows, rec)
}

func flattenExemplars(exs pmetric.ExemplarSlice) []any {
	out := make([]any, 0, exs.Len())
	for i := 0; i < exs.Len(); i++ {
		ex := exs.At(i)
		val := exemplarValue(ex)
		if math.IsNaN(val) || math.IsInf(val, 0) {
			continue
		}
		e := map[string]any{}
		ex.FilteredAttributes().Range(func(k string, v pcommon.Value) bool {
			e[k] = attrValue(v)
			return true
		})
		e[record.ValueLabel] = val
		e[record.TimestampCol] = int64(uint64(ex.Timestamp()) / 1000)
		if tid := ex.TraceID(); !tid.IsEmpty() {
			e["trace_id"] = hex.EncodeToString(tid[:])
		}
		if sid := ex.SpanID(); !sid.IsEmpty() {
			e["span_id"] = hex.EncodeToString(sid[:])
		}
		out = append(out, e)
	}
	return out
}

func numberValue(dp pmetric.NumberDataPoint) float64 {
	switch dp.ValueType() {
	case pmetric.NumberDataPointValueTypeInt:
		return float64(dp.IntValue())
	case pmetric.NumberDataPointValueTypeDouble:
		return dp.DoubleValue()
	default:
		return 0
	}
}

func exemplarValue(ex pmetric.Exemplar) float64 {
	switch ex.ValueType() {
	case pmetric.ExemplarValueTypeInt:
		return float64(ex.IntValue())
	case pmetric.ExemplarValueTypeDouble:
		return ex.DoubleValue()
	default:
		return 0
	}
}

func attrValue(v pcommon.Value) any {
	switch v.Type() {
	case pcommon.ValueTypeStr:
		return v.Str()
	case pcommon.ValueTypeInt:
		return v.Int()
	case pcommon.ValueTypeDouble:
		return v.Double()
	case pcommon.ValueTypeBool:
		return v.Bool()
	case pcommon.ValueTypeMap, pcommon.ValueTypeSlice:
		return v.AsRaw()
	default:
		return v.AsString()
	}
}

func temporalityString(t pmetric.AggregationTemporality) string {
	switch t {
	case pmetric.AggregationTemporalityDelta:
		return "DELTA"
	case pmetric.AggregationTemporalityCumulative:
		return "CUMULATIVE"
	default:
		return "UNSPECIFIED"
	}
}

// familyMetadata serializes the metric family metadata written once per
// newly-seen stream.
func familyMetadata(name, familyType, help, unit string) map[string]string {
	meta, _ := json.Marshal(map[string]string{
		"metric_family_name": name,
		"metric_type":        familyType,
		"help":               help,
		"unit":               unit,
	})
	return map[string]string{record.MetadataLabel: string(meta)}
}
