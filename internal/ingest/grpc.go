// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"errors"

	"go.opentelemetry.io/collector/pdata/pmetric/pmetricotlp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// orgHeader carries the destination organization on gRPC exports.
const orgHeader = "organization"

const defaultOrg = "default"

// GRPCHandler implements the OTLP metrics gRPC service on top of the
// ingestion service.
type GRPCHandler struct {
	pmetricotlp.UnimplementedGRPCServer

	service *Service
	logger  *zap.Logger
}

func NewGRPCHandler(service *Service, logger *zap.Logger) *GRPCHandler {
	return &GRPCHandler{service: service, logger: logger}
}

// Register registers the handler on a gRPC server.
func (h *GRPCHandler) Register(server *grpc.Server) {
	pmetricotlp.RegisterGRPCServer(server, h)
}

// Export handles one OTLP/gRPC metrics export. Rejected data points are
// reported through the response's partial success block; the call itself
// only fails on quota or storage errors.
func (h *GRPCHandler) Export(ctx context.Context, req pmetricotlp.ExportRequest) (pmetricotlp.ExportResponse, error) {
	org := defaultOrg
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(orgHeader); len(vals) > 0 && vals[0] != "" {
			org = vals[0]
		}
	}

	if err := h.service.CheckIngestionAllowed(org); err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			return pmetricotlp.NewExportResponse(), status.Error(codes.ResourceExhausted, err.Error())
		}
		return pmetricotlp.NewExportResponse(), status.Error(codes.Internal, err.Error())
	}

	result, err := h.service.HandleExport(ctx, org, req, KindGRPC)
	if err != nil {
		h.logger.Error("grpc metrics export failed", zap.String("org", org), zap.Error(err))
		return pmetricotlp.NewExportResponse(), status.Error(codes.Internal, err.Error())
	}
	return result.Response, nil
}
