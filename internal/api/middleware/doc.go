// Package middleware holds gin middleware shared by the host's handlers.
package middleware
