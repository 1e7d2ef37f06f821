// Package server exposes the monitor's status over HTTP and WebSocket
package server

import "time"

// Server configuration constants
const (
	// Text truncation limit for API responses
	TextPreviewLimit = 500

	// Entries returned by /api/events and /api/history without ?limit
	DefaultEventsLimit = 50

	// Per-message write deadline on event streams
	WriteTimeout = 5 * time.Second

	ReadHeaderTimeout = 5 * time.Second
	ShutdownTimeout   = 5 * time.Second
)
