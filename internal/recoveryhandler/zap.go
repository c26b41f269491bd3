// Copyright (c) 2025 The Lodestone Authors.
// SPDX-License-Identifier: Apache-2.0

// Package recoveryhandler wraps HTTP handlers with panic recovery logged
// through zap.
package recoveryhandler

import (
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"go.uber.org/zap"
)

type zapRecoveryWrapper struct {
	logger *zap.Logger
}

func (z zapRecoveryWrapper) Println(fields ...any) {
	z.logger.Error(fmt.Sprintln(fields...))
}

// NewRecoveryHandler returns middleware that recovers from handler panics,
// logging the panic (and optionally its stack) instead of crashing the
// process.
func NewRecoveryHandler(logger *zap.Logger, printStack bool) func(h http.Handler) http.Handler {
	wrapper := zapRecoveryWrapper{logger}
	return handlers.RecoveryHandler(handlers.RecoveryLogger(wrapper), handlers.PrintRecoveryStack(printStack))
}
