// Package storage defines the canonical store file-system abstraction.
package storage

import "time"

// LeafMetadata is a lightweight listing entry for a canonical leaf file.
type LeafMetadata struct {
	Path      string // relative to store root, e.g. trading/patterns/macd.md
	Checksum  string
	UpdatedAt time.Time
}

// Provider is the interface for canonical store file operations. All paths
// are relative to the store root.
type Provider interface {
	// List returns metadata for every leaf file under dir. Files and
	// directories whose name starts with "_" or "." are not leaves.
	List(dir string) ([]LeafMetadata, error)
	// Dirs returns the names of subdirectories of dir, excluding "_" and
	// "." prefixed entries.
	Dirs(dir string) ([]string, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path, creating parent
	// directories as needed.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Exists reports whether a file or directory exists at path.
	Exists(path string) bool
}
