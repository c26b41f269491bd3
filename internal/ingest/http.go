// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/collector/pdata/pmetric/pmetricotlp"
	"go.uber.org/zap"
)

const (
	contentTypeProtobuf = "application/x-protobuf"
	contentTypeJSON     = "application/json"
)

// APIHandler exposes the OTLP metrics export endpoint over HTTP.
type APIHandler struct {
	service *Service
	logger  *zap.Logger
}

func NewAPIHandler(service *Service, logger *zap.Logger) *APIHandler {
	return &APIHandler{service: service, logger: logger}
}

// RegisterRoutes registers the ingestion routes on the router.
func (h *APIHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/{org}/v1/metrics", h.ExportMetrics).Methods(http.MethodPost)
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ExportMetrics handles one OTLP/HTTP metrics export. The request encoding
// is taken from Content-Type; the response mirrors it. A JSON request with
// partial rejections gets 206, a protobuf request always gets 200 with the
// rejection count inside the body.
func (h *APIHandler) ExportMetrics(w http.ResponseWriter, r *http.Request) {
	org := mux.Vars(r)["org"]

	if err := h.service.CheckIngestionAllowed(org); err != nil {
		h.writeError(w, contentTypeJSON, http.StatusServiceUnavailable, err.Error())
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, contentTypeJSON, http.StatusBadRequest, fmt.Sprintf("failed to read request body: %v", err))
		return
	}

	req := pmetricotlp.NewExportRequest()
	kind := KindHTTPProtobuf
	contentType := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, contentTypeJSON):
		kind = KindHTTPJSON
		if err := req.UnmarshalJSON(body); err != nil {
			h.writeError(w, contentTypeJSON, http.StatusBadRequest, fmt.Sprintf("Invalid json: %v", err))
			return
		}
	default:
		if err := req.UnmarshalProto(body); err != nil {
			h.writeError(w, contentTypeProtobuf, http.StatusBadRequest, fmt.Sprintf("Invalid proto: %v", err))
			return
		}
	}

	result, err := h.service.HandleExport(r.Context(), org, req, kind)
	if err != nil {
		h.logger.Error("metrics export failed", zap.String("org", org), zap.Error(err))
		h.writeError(w, contentTypeJSON, http.StatusInternalServerError, err.Error())
		return
	}

	if kind == KindHTTPJSON {
		payload, err := result.Response.MarshalJSON()
		if err != nil {
			h.writeError(w, contentTypeJSON, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", contentTypeJSON)
		if result.Partial {
			w.WriteHeader(http.StatusPartialContent)
		}
		w.Write(payload)
		return
	}

	payload, err := result.Response.MarshalProto()
	if err != nil {
		h.writeError(w, contentTypeProtobuf, http.StatusInternalServerError, err.Error())
		return
	}
	// The OTLP/proto contract reports rejections inside the body, not via
	// the HTTP status.
	w.Header().Set("Content-Type", contentTypeProtobuf)
	w.Write(payload)
}

func (h *APIHandler) writeError(w http.ResponseWriter, contentType string, status int, msg string) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Code: status, Message: msg})
}
