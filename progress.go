package casc

// ProgressEvent represents a progress update during initialization or a
// direct download.
type ProgressEvent struct {
	// Stage identifies the current phase of the operation.
	Stage ProgressStage

	// BytesDone is the number of bytes transferred so far.
	BytesDone uint64

	// BytesTotal is the total bytes for the current transfer.
	// Zero indicates the total is unknown.
	BytesTotal uint64

	// ArchivesDone is the number of archive indices resolved so far.
	ArchivesDone int

	// ArchivesTotal is the number of configured archives.
	ArchivesTotal int
}

// Percent returns the completion percentage for the event, preferring byte
// counts when present. It returns 0 when no total is known.
func (e ProgressEvent) Percent() float64 {
	if e.BytesTotal > 0 {
		return float64(e.BytesDone) / float64(e.BytesTotal) * 100
	}
	if e.ArchivesTotal > 0 {
		return float64(e.ArchivesDone) / float64(e.ArchivesTotal) * 100
	}
	return 0
}

// ProgressStage identifies the current phase of an operation.
type ProgressStage uint8

// Progress stages for initialization and retrieval operations.
const (
	// StageFetchingIndices indicates archive index files are being acquired.
	StageFetchingIndices ProgressStage = iota

	// StageFetchingData indicates a data blob is being downloaded by key.
	StageFetchingData

	// StageFetchingConfig indicates a config blob is being downloaded by key.
	StageFetchingConfig
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageFetchingIndices:
		return "fetching indices"
	case StageFetchingData:
		return "fetching data"
	case StageFetchingConfig:
		return "fetching config"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates during operations.
// Implementations must be safe for concurrent calls.
type ProgressFunc func(ProgressEvent)
