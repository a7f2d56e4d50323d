// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package callscope

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// NewRouter creates the gin engine serving svc.
//
// Description:
//
//	Installs recovery, OTel trace extraction, request IDs and request
//	metrics, mounts the callscope routes under /v1 and exposes Prometheus
//	metrics at /metrics.
func NewRouter(svc *Service) *gin.Engine {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("callscope"))
	router.Use(requestIDMiddleware())
	router.Use(metricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	RegisterRoutes(v1, NewHandlers(svc))
	return router
}

// Serve runs the HTTP server until ctx is canceled, then shuts it down
// within the configured shutdown timeout.
func Serve(ctx context.Context, svc *Service) error {
	sc := svc.cfg.Server
	srv := &http.Server{
		Addr:        sc.Addr,
		Handler:     NewRouter(svc),
		ReadTimeout: sc.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		svc.logger.Info("starting callscope server", slog.String("address", sc.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("callscope: serving %s: %w", sc.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	svc.logger.Info("shutting down callscope server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), sc.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("callscope: shutdown: %w", err)
	}
	return nil
}
