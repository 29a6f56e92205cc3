// Package storage defines the output-directory file-system abstraction.
package storage

// Provider is the interface for artifact file operations.
type Provider interface {
	// Read returns the raw bytes of the file at path (relative to the root).
	Read(path string) ([]byte, error)
	// Write atomically replaces the file at path (relative to the root).
	Write(path string, content []byte) error
	// Abs resolves path (relative to the root) to an absolute path.
	Abs(path string) (string, error)
}
