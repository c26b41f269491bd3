// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

// Package ingest implements the OTLP metrics ingestion core: decode,
// flatten, schema evolution, partitioning, optional per-stream pipelines,
// real-time alert evaluation, and durable commit with partial-success
// reporting.
package ingest

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/pmetric/pmetricotlp"
	"go.uber.org/zap"

	"github.com/lodestone-obs/lodestone/internal/alerts"
	"github.com/lodestone-obs/lodestone/internal/metrics"
	"github.com/lodestone-obs/lodestone/internal/partition"
	"github.com/lodestone-obs/lodestone/internal/pipeline"
	"github.com/lodestone-obs/lodestone/internal/record"
	"github.com/lodestone-obs/lodestone/internal/schema"
	"github.com/lodestone-obs/lodestone/internal/stream"
	"github.com/lodestone-obs/lodestone/internal/usage"
	"github.com/lodestone-obs/lodestone/internal/wal"
)

// RequestKind is the encoding the export request arrived in; the response
// uses the matching encoding.
type RequestKind int

const (
	KindHTTPProtobuf RequestKind = iota
	KindHTTPJSON
	KindGRPC
)

// Endpoint returns the label used for self-metrics.
func (k RequestKind) Endpoint() string {
	if k == KindGRPC {
		return "/grpc/otlp/metrics"
	}
	return "/api/otlp/v1/metrics"
}

// Params collects the collaborators of the ingestion service.
type Params struct {
	Logger     *zap.Logger
	Schemas    *schema.Coordinator
	Partitions *partition.Resolver
	Pipelines  pipeline.Registry
	AlertStore alerts.Store
	Notifier   alerts.Notifier
	WAL        *wal.Manager
	Usage      usage.Reporter
	Quota      QuotaChecker
}

// Service processes OTLP metrics export requests. It holds no per-request
// state; every request gets its own requestContext.
type Service struct {
	logger     *zap.Logger
	schemas    *schema.Coordinator
	partitions *partition.Resolver
	pipelines  pipeline.Registry
	alertStore alerts.Store
	notifier   alerts.Notifier
	wal        *wal.Manager
	usage      usage.Reporter
	quota      QuotaChecker
}

func NewService(p Params) *Service {
	if p.Quota == nil {
		p.Quota = UnlimitedQuota{}
	}
	return &Service{
		logger:     p.Logger,
		schemas:    p.Schemas,
		partitions: p.Partitions,
		pipelines:  p.Pipelines,
		alertStore: p.AlertStore,
		notifier:   p.Notifier,
		wal:        p.WAL,
		usage:      p.Usage,
		quota:      p.Quota,
	}
}

// CheckIngestionAllowed is the pre-decode resource check. A rejection here
// short-circuits the request before any parsing work.
func (s *Service) CheckIngestionAllowed(org string) error {
	return s.quota.Allow(org, stream.TypeMetrics)
}

// Result is the outcome of a handled export request.
type Result struct {
	Response pmetricotlp.ExportResponse
	Partial  bool
}

// HandleExport runs the full ingestion pipeline for one decoded export
// request. Pipeline failures are scoped to their stream and reported via
// partial success; a WAL write failure is fatal to the request (already
// committed streams stay committed).
func (s *Service) HandleExport(ctx context.Context, org string, req pmetricotlp.ExportRequest, kind RequestKind) (Result, error) {
	start := time.Now()
	startedAt := start.UnixMicro()
	rc := newRequestContext(org)

	s.flattenRequest(ctx, rc, req.Metrics())
	s.runPipelines(ctx, rc)
	s.stageRecords(ctx, rc)

	if err := s.commit(ctx, rc, start, startedAt); err != nil {
		return Result{}, err
	}

	status := "200"
	if rc.rejected > 0 && kind == KindHTTPJSON {
		status = "206"
	}
	elapsed := time.Since(start).Seconds()
	endpoint := kind.Endpoint()
	metrics.HTTPResponseTime.WithLabelValues(endpoint, status, org, stream.TypeMetrics.String()).Observe(elapsed)
	metrics.HTTPIncomingRequests.WithLabelValues(endpoint, status, org, stream.TypeMetrics.String()).Inc()

	// Alerts fire once per request, after every stream's write was
	// attempted, so notification is decoupled from unrelated failures.
	for _, batch := range rc.triggers {
		if len(batch) == 0 {
			continue
		}
		if err := s.notifier.FireTriggers(ctx, batch); err != nil {
			s.logger.Error("failed to fire alert triggers", zap.String("org", org), zap.Error(err))
		}
	}

	return s.formatResponse(rc), nil
}

// flattenRequest walks resource → scope → metric → data point and buffers
// flat rows per destination stream, routing pipeline-owned streams aside.
func (s *Service) flattenRequest(ctx context.Context, rc *requestContext, md pmetric.Metrics) {
	rms := md.ResourceMetrics()
	for i := 0; i < rms.Len(); i++ {
		rm := rms.At(i)
		sms := rm.ScopeMetrics()
		if sms.Len() == 0 {
			continue
		}
		for j := 0; j < sms.Len(); j++ {
			sm := sms.At(j)
			ms := sm.Metrics()
			for k := 0; k < ms.Len(); k++ {
				m := ms.At(k)
				name := stream.FormatStreamName(m.Name())
				exists := s.ensureStream(ctx, rc, name)

				base := record.Record{}
				rm.Resource().Attributes().Range(func(key string, v pcommon.Value) bool {
					base[stream.FormatLabelName(key)] = attrValue(v)
					return true
				})
				if scope := sm.Scope(); scope.Name() != "" || scope.Version() != "" {
					base["instrumentation_library_name"] = scope.Name()
					base["instrumentation_library_version"] = scope.Version()
				}
				base[record.NameLabel] = name

				rows, familyType := flattenMetric(base, m)
				if !exists.HasMetadata {
					s.schemas.RecordMetadataOnce(ctx, rc.org, stream.TypeMetrics, name,
						familyMetadata(name, familyType, m.Description(), m.Unit()), rc.schemaCache)
				}

				for _, row := range rows {
					local := stream.FormatStreamName(row.Name())
					if local != name {
						s.ensureStream(ctx, rc, local)
					}
					if rc.pipelines[local] != nil {
						rc.pipelineInputs[local] = append(rc.pipelineInputs[local], row)
					} else {
						rc.byStream[local] = append(rc.byStream[local], row)
					}
				}
			}
		}
	}
}

// ensureStream populates every per-stream cache (schema, partition spec,
// alert rules, pipeline handle) at most once per request.
func (s *Service) ensureStream(ctx context.Context, rc *requestContext, name string) schema.ExistsResult {
	exists := s.schemas.StreamSchemaExists(ctx, rc.org, stream.TypeMetrics, name, rc.schemaCache)

	if _, ok := rc.partitions[name]; !ok {
		rc.partitions[name] = s.partitions.Resolve(ctx, rc.org, stream.TypeMetrics, name)
	}

	key := stream.Params{Org: rc.org, Type: stream.TypeMetrics, Name: name}.Key()
	if _, ok := rc.alertRules[key]; !ok {
		rules, err := s.alertStore.List(ctx, rc.org, stream.TypeMetrics, name)
		if err != nil {
			s.logger.Error("failed to fetch stream alerts",
				zap.String("org", rc.org), zap.String("stream", name), zap.Error(err))
			rules = nil
		}
		rc.alertRules[key] = rules
	}

	if _, ok := rc.pipelines[name]; !ok {
		exe, err := s.pipelines.PipelineFor(ctx, rc.org, stream.TypeMetrics, name)
		if err != nil {
			s.logger.Error("failed to resolve stream pipeline",
				zap.String("org", rc.org), zap.String("stream", name), zap.Error(err))
			exe = nil
		}
		rc.pipelines[name] = exe
	}
	return exists
}

// runPipelines executes each pipeline-owned stream's batch and redistributes
// the outputs. A failing pipeline rejects that stream's whole batch and the
// request continues for other streams.
func (s *Service) runPipelines(ctx context.Context, rc *requestContext) {
	for streamName, exe := range rc.pipelines {
		if exe == nil {
			continue
		}
		inputs := rc.pipelineInputs[streamName]
		delete(rc.pipelineInputs, streamName)
		if len(inputs) == 0 {
			continue
		}
		results, err := exe.ProcessBatch(rc.org, inputs)
		if err != nil {
			msg := fmt.Sprintf("stream %s pipeline batch processing failed: %v", streamName, err)
			s.logger.Error("pipeline batch failed",
				zap.String("org", rc.org), zap.String("stream", streamName), zap.Error(err))
			rc.reject(int64(len(inputs)), msg)
			continue
		}
		for params, rows := range results {
			if params.Type != stream.TypeMetrics {
				// Outputs rerouted to another ingestion path are not ours.
				continue
			}
			if _, ok := rc.partitions[params.Name]; !ok {
				rc.partitions[params.Name] = s.partitions.Resolve(ctx, rc.org, stream.TypeMetrics, params.Name)
			}
			rc.byStream[params.Name] = append(rc.byStream[params.Name], rows...)
		}
	}
}

// stageRecords assigns every buffered record to its (stream, bucket) staging
// buffer, evolving schemas and evaluating alerts along the way.
func (s *Service) stageRecords(ctx context.Context, rc *requestContext) {
	for streamName, rows := range rc.byStream {
		spec := rc.partitions[streamName]
		level := stream.UnwrapPartitionTimeLevel(spec.TimeLevel, stream.TypeMetrics)

		for _, rec := range rows {
			ts := rec.Timestamp()
			if ts == 0 {
				ts = time.Now().UnixMicro()
				rec[record.TimestampCol] = ts
			}

			s.checkSchema(ctx, rc, streamName, rec, ts)

			cache, ok := rc.schemaCache[streamName]
			if !ok {
				// Pipeline-rerouted stream never seen by ensureStream.
				s.schemas.StreamSchemaExists(ctx, rc.org, stream.TypeMetrics, streamName, rc.schemaCache)
				cache = rc.schemaCache[streamName]
			}
			fingerprint := cache.Fingerprint()

			bucketKey := partition.BucketKey(ts, spec.Keys, level, rec, fingerprint)
			buckets, ok := rc.buffers[streamName]
			if !ok {
				buckets = make(map[string]*wal.SchemaRecords)
				rc.buffers[streamName] = buckets
			}
			buf, ok := buckets[bucketKey]
			if !ok {
				buf = &wal.SchemaRecords{SchemaKey: fingerprint, Schema: cache.Fields()}
				buckets[bucketKey] = buf
			}
			buf.Append(rec, rec.EncodedSize())

			s.evaluateAlerts(ctx, rc, streamName, rec)
		}
	}
}

// checkSchema runs the schema-evolution check at most once per stream per
// request unless new columns keep appearing before the stream is marked
// evolved. Evolution failures are logged and the record is written under
// the pre-evolution schema.
func (s *Service) checkSchema(ctx context.Context, rc *requestContext, streamName string, rec record.Record, ts int64) {
	needCheck := !rc.schemaEvolved[streamName]
	if !needCheck {
		return
	}
	if cache, ok := rc.schemaCache[streamName]; ok {
		needCheck = false
		for col := range rec {
			if !cache.HasField(col) {
				needCheck = true
				break
			}
		}
		if !needCheck {
			// Nothing new, but the stream still counts as checked.
			rc.schemaEvolved[streamName] = true
			return
		}
	}
	if err := s.schemas.CheckForSchema(ctx, rc.org, stream.TypeMetrics, streamName, rec, ts, rc.schemaCache); err != nil {
		s.logger.Error("schema evolution failed",
			zap.String("org", rc.org), zap.String("stream", streamName), zap.Error(err))
		return
	}
	rc.schemaEvolved[streamName] = true
}

// evaluateAlerts evaluates the stream's rules against the first eligible
// record of the request; later records for the same stream are skipped.
func (s *Service) evaluateAlerts(ctx context.Context, rc *requestContext, streamName string, rec record.Record) {
	if _, evaluated := rc.triggers[streamName]; evaluated {
		return
	}
	key := stream.Params{Org: rc.org, Type: stream.TypeMetrics, Name: streamName}.Key()
	rules, ok := rc.alertRules[key]
	if !ok {
		// Stream created by a pipeline reroute; fetch its rules now.
		var err error
		rules, err = s.alertStore.List(ctx, rc.org, stream.TypeMetrics, streamName)
		if err != nil {
			s.logger.Error("failed to fetch stream alerts",
				zap.String("org", rc.org), zap.String("stream", streamName), zap.Error(err))
			rules = nil
		}
		rc.alertRules[key] = rules
	}
	if len(rules) == 0 {
		return
	}
	batch, errs := alerts.EvaluateAll(ctx, rules, rec, time.Now().UnixMicro())
	for _, err := range errs {
		s.logger.Warn("alert evaluation failed",
			zap.String("org", rc.org), zap.String("stream", streamName), zap.Error(err))
	}
	rc.triggers[streamName] = batch
}

// commit flushes every staged stream through the WAL. Streams marked for
// deletion are silently skipped; a write failure aborts the request.
func (s *Service) commit(ctx context.Context, rc *requestContext, start time.Time, startedAt int64) error {
	for streamName, buckets := range rc.buffers {
		if len(buckets) == 0 {
			continue
		}
		if s.schemas.Store().IsDeleting(rc.org, stream.TypeMetrics, streamName) {
			s.logger.Warn("stream is being deleted, dropping records",
				zap.String("org", rc.org), zap.String("stream", streamName))
			continue
		}
		writer, err := s.wal.GetWriter(ctx, rc.org, stream.TypeMetrics, streamName)
		if err != nil {
			return fmt.Errorf("get writer for stream %q: %w", streamName, err)
		}
		stats, err := wal.WriteFile(writer, streamName, buckets, false)
		if err != nil {
			return err
		}
		stats.ResponseTime = time.Since(start).Seconds()
		if exe := rc.pipelines[streamName]; exe != nil {
			stats.FunctionCount = int64(exe.NumFunctions())
		}
		s.usage.Report(ctx, stats, rc.org, stream.TypeMetrics, streamName, startedAt)
	}
	return nil
}

// retentionExceededMsg replaces stream-specific failure details in the
// client-visible response; specifics are logged only.
const retentionExceededMsg = "Some data points were rejected due to exceeding the allowed retention period"

func (s *Service) formatResponse(rc *requestContext) Result {
	resp := pmetricotlp.NewExportResponse()
	partial := rc.rejected > 0
	if partial {
		s.logger.Error("partial success",
			zap.String("org", rc.org),
			zap.Int64("rejected", rc.rejected),
			zap.String("error", rc.errorMsg))
		ps := resp.PartialSuccess()
		ps.SetRejectedDataPoints(rc.rejected)
		ps.SetErrorMessage(retentionExceededMsg)
	}
	return Result{Response: resp, Partial: partial}
}
