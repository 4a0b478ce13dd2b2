// Package constants provides shared constants used across the codebase.
package constants

// File upload constants
const (
	// MaxUploadSize is the maximum file upload size in bytes (20MB)
	MaxUploadSize = 20 << 20
)

// Search constants
const (
	// DefaultCandidateLimit is the number of runner-up candidates reported by search
	DefaultCandidateLimit = 3
)
