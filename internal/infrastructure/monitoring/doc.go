/*
Package monitoring provides Prometheus metrics for the card runtime.

# Overview

Metrics are registered on an injectable prometheus.Registerer so tests and
embedded hosts can use private registries.

# Features

- HTTP request metrics (latency, throughput)
- Sandbox invocation metrics (load/render/event outcome and duration)
- Intent audit metrics (scope and outcome)
- Runtime card registry and injection metrics
- RPC and WebSocket worker metrics

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	router.Use(monitoring.Middleware(metrics))

	timer := monitoring.NewTimer(metrics, "render")
	// ... invoke the sandbox ...
	timer.Stop("ok")

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
*/
package monitoring
