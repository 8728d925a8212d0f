// Package http provides the host's HTTP handlers: session registration,
// session listing, health and metrics.
package http
