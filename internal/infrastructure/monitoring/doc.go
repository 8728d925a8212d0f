/*
Package monitoring provides metrics collection for the bridge host.

# Overview

Metrics are kept on a per-instance Prometheus registry so several hosts can
live in one process (as they do in tests). Recording methods are no-ops on a
nil *Metrics, which lets components take metrics as an optional dependency.

# Features

- HTTP request metrics (latency, status)
- RPC call metrics by direction, method and outcome
- Live handle gauge and minted handle counter
- Intercepted request resolutions
- Session and WebSocket connection gauges

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "in", "handle.evaluate")
	// ... serve the call ...
	timer.Stop("ok")
*/
package monitoring
