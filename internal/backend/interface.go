// Package backend selects and opens the tab store implementation from
// configuration.
package backend

import "tidytab/internal/services"

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// Result contains the opened store and optional cleanup function
type Result struct {
	Store   services.TabStore
	Cleanup CleanupFunc
}

// Type represents the kind of backing store
type Type string

const (
	SQLiteBackend Type = "sqlite"
	MemoryBackend Type = "memory"
)

// String implements fmt.Stringer
func (t Type) String() string {
	return string(t)
}

// IsValid returns true if the backend type is valid
func (t Type) IsValid() bool {
	switch t {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
