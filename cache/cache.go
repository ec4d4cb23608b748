// Package cache provides durable storage for downloaded index files.
//
// Entries are keyed by file name rather than content hash: an index file is
// identified by its archive id, and once written it is never refreshed. The
// cache is the only state this layer keeps across process runs.
package cache

// Cache stores named blobs durably.
//
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get retrieves a blob by name.
	// Returns nil, false if the blob is not cached.
	Get(name string) ([]byte, bool)

	// Put stores a blob under the given name. An existing entry is
	// left untouched: cached index files are immutable.
	Put(name string, data []byte) error
}
