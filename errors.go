package casc

import (
	"github.com/casckit/casc/cdn"
	"github.com/casckit/casc/internal/indexfile"
)

// Errors re-exported from subpackages. Callers match with errors.Is.
var (
	// ErrFormat is returned when an index file is structurally invalid.
	// Fatal to initialization.
	ErrFormat = indexfile.ErrFormat

	// ErrNotFound is returned when a local index file is absent in offline
	// mode (fatal to initialization) or when directly fetched content does
	// not exist on the origin (surfaced to the caller). A map lookup miss
	// is not an error; Lookup reports it as ok=false.
	ErrNotFound = cdn.ErrNotFound

	// ErrFetch is returned on any network, transport, or HTTP-status
	// failure. Fatal during initialization; surfaced during retrieval.
	// There is no automatic retry anywhere in this package.
	ErrFetch = cdn.ErrFetch
)
