// Recdeck - Ranked Recommendation Delivery Service
// Copyright 2026 Recdeck Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/recdeck/recdeck

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/recdeck/recdeck/internal/metrics"
)

// Router wires the endpoint set into a chi mux.
type Router struct {
	handler *Handler
}

// NewRouter creates a router around the given handler set.
func NewRouter(handler *Handler) *Router {
	return &Router{handler: handler}
}

// Setup builds the full route tree.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requestMetrics)

		r.Get("/health", router.handler.Health)
		r.Get("/stream", router.handler.Stream)
		r.Get("/sources", router.handler.Sources)

		r.Route("/recommendations/{key}", func(r chi.Router) {
			r.Post("/dismiss", router.handler.Dismiss)
			r.Get("/image", router.handler.Image)
		})

		r.Route("/actions", func(r chi.Router) {
			r.Post("/open-launch-point", router.handler.OpenLaunchPoint)
			r.Post("/open-recommendation", router.handler.OpenRecommendation)
			r.Post("/impression", router.handler.Impression)
		})

		r.Get("/blacklist", router.handler.BlacklistGet)
		r.Put("/blacklist", router.handler.BlacklistPut)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// requestMetrics records per-route request durations, labeled with the
// chi route pattern rather than the raw path to bound cardinality.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		metrics.ObserveAPIRequest(r.Method, pattern, strconv.Itoa(ww.Status()), time.Since(start))
	})
}
