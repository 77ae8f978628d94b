// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Handler pagination constants
const (
	// DefaultAttendanceLimit is the default number of attendance logs returned per request
	DefaultAttendanceLimit = 100

	// MaxAttendanceLimit is the largest page of attendance logs a request may ask for
	MaxAttendanceLimit = 1000

	// DefaultSystemLogLimit is the default number of system logs returned per request
	DefaultSystemLogLimit = 100
)

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for diagnostic event channels
	EventChannelBuffer = 256

	// SSEKeepAliveInterval is how often an idle diagnostics stream sends a comment
	SSEKeepAliveInterval = 15 * time.Second
)

// Enrollment constants
const (
	// ImportBatchLog is how many imported embeddings are processed between progress log lines
	ImportBatchLog = 100

	// MaxEnrollBodySize is the maximum enrollment request body size in bytes (1MB)
	MaxEnrollBodySize = 1 << 20
)

// Shutdown constants
const (
	// ShutdownTimeout bounds the HTTP server shutdown
	ShutdownTimeout = 30 * time.Second

	// EngineFlushInterval is how often the decision engine releases held events
	EngineFlushInterval = 250 * time.Millisecond

	// SystemLogTimeout bounds a single diagnostic write to the system log table
	SystemLogTimeout = 5 * time.Second
)
