// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Upload constants
const (
	// MaxUploadSize is the largest multipart body accepted by the HTTP API (32 MiB)
	MaxUploadSize = 32 << 20

	// UploadFormField is the multipart field that carries the photo
	UploadFormField = "image"
)

// Import constants
const (
	// DefaultImportWorkers is the default number of files processed in parallel
	DefaultImportWorkers = 4

	// MaxImportWorkers caps the --concurrency flag
	MaxImportWorkers = 64
)

// ImportExtensions lists the file extensions picked up by the importer (lowercase).
var ImportExtensions = []string{".jpg", ".jpeg", ".png"}

// HTTP server constants
const (
	ServerReadTimeout     = 30 * time.Second
	ServerWriteTimeout    = 2 * time.Minute
	ServerIdleTimeout     = 60 * time.Second
	RequestTimeout        = 90 * time.Second
	ServerShutdownTimeout = 10 * time.Second
)
