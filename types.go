package casc

// Entry locates one piece of content inside an archive.
type Entry struct {
	// Archive indexes into the configured archive list.
	Archive int

	// Size is the content length in bytes.
	Size uint32

	// Offset is the byte position of the content within the archive.
	Offset uint32
}

// Settings describes where indices and content live. It is assembled by the
// surrounding configuration layer and treated as opaque input here.
type Settings struct {
	// Archives is the ordered list of archive ids. Positions define
	// Entry.Archive, so the order must be stable across runs.
	Archives []string

	// CDNURL is the content-delivery origin base URL. Required online.
	CDNURL string

	// BasePath is the local mirror root used in offline mode; indices are
	// read from {BasePath}/Data/indices.
	BasePath string

	// CacheDir holds downloaded index files across runs. Required online.
	CacheDir string

	// Online selects remote acquisition with local caching; offline mode
	// reads indices from BasePath only.
	Online bool
}
