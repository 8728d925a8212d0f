// Package server assembles the bridge host: gin router, middleware,
// registration and socket endpoints, health and metrics.
package server
