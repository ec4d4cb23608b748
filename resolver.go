package casc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/casckit/casc/cache"
	"github.com/casckit/casc/cache/disk"
	"github.com/casckit/casc/cdn"
	"github.com/casckit/casc/internal/indexfile"
)

// Resolver maps content keys to archive locations and retrieves content.
//
// The zero value is not usable; construct with [New], then call
// [Resolver.Initialize] once before any lookups. After a successful
// Initialize the location map is frozen and all methods are safe for
// concurrent use.
type Resolver struct {
	cfg        Settings
	cdn        *cdn.Client
	cache      cache.Cache
	logger     *slog.Logger
	progress   ProgressFunc
	workers    int
	httpClient *nethttp.Client

	mu      sync.Mutex
	entries map[Key]Entry
	ready   atomic.Bool
}

// New creates a Resolver for the given settings.
func New(cfg Settings, opts ...Option) (*Resolver, error) {
	r := &Resolver{
		cfg:     cfg,
		workers: 1,
		entries: make(map[Key]Entry),
	}
	for _, opt := range opts {
		opt(r)
	}

	if cfg.Online {
		if cfg.CDNURL == "" {
			return nil, errors.New("casc: online mode requires a CDN base URL")
		}
		var cdnOpts []cdn.Option
		if r.httpClient != nil {
			cdnOpts = append(cdnOpts, cdn.WithHTTPClient(r.httpClient))
		}
		client, err := cdn.New(cfg.CDNURL, cdnOpts...)
		if err != nil {
			return nil, err
		}
		r.cdn = client

		if r.cache == nil {
			if cfg.CacheDir == "" {
				return nil, errors.New("casc: online mode requires a cache directory")
			}
			dc, err := disk.New(cfg.CacheDir)
			if err != nil {
				return nil, err
			}
			r.cache = dc
		}
	} else if cfg.BasePath == "" {
		return nil, errors.New("casc: offline mode requires a base path")
	}

	return r, nil
}

// Initialize acquires and parses every configured archive index, building
// the location map. It fails fast on the first error and aborts when ctx is
// cancelled; no partial map is exposed either way. A second call after
// success is a no-op.
func (r *Resolver) Initialize(ctx context.Context) error {
	if r.ready.Load() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	total := len(r.cfg.Archives)
	if r.workers > 1 {
		if err := r.initializeParallel(ctx, total); err != nil {
			return err
		}
	} else {
		done := 0
		for i, id := range r.cfg.Archives {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := r.loadArchive(ctx, i, id); err != nil {
				return err
			}
			done++
			r.reportArchives(done, total)
		}
	}

	r.ready.Store(true)
	r.log().Info("location map built", "archives", total, "entries", len(r.entries))
	return nil
}

// initializeParallel acquires indices with a bounded worker pool. Map
// inserts stay serialized under mu, so last-write-wins follows archive
// completion order rather than list order; callers opting in accept that.
func (r *Resolver) initializeParallel(ctx context.Context, total int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	var done atomic.Int64
	for i, id := range r.cfg.Archives {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := r.loadArchive(ctx, i, id); err != nil {
				return err
			}
			r.reportArchives(int(done.Add(1)), total)
			return nil
		})
	}
	return g.Wait()
}

// loadArchive obtains and parses one archive index and merges its records.
func (r *Resolver) loadArchive(ctx context.Context, idx int, id string) error {
	data, err := r.obtainIndex(ctx, id)
	if err != nil {
		return fmt.Errorf("archive %s: %w", id, err)
	}
	records, err := indexfile.Parse(data, idx)
	if err != nil {
		return fmt.Errorf("archive %s: %w", id, err)
	}

	r.mu.Lock()
	for _, rec := range records {
		key := Key(rec.Key)
		if prev, ok := r.entries[key]; ok {
			// Last write wins, matching the observed behavior of the
			// original design. Logged so duplicate rates are visible.
			r.log().Debug("duplicate index key overwritten",
				"key", key, "prev_archive", prev.Archive, "archive", idx)
		}
		r.entries[key] = Entry{Archive: rec.Archive, Size: rec.Size, Offset: rec.Offset}
	}
	r.mu.Unlock()

	r.log().Info("index loaded", "archive", id, "records", len(records))
	return nil
}

// Lookup resolves a key to its archive location. A miss is not an error;
// callers without an entry are expected to fall back to [Resolver.FetchKey].
func (r *Resolver) Lookup(key Key) (Entry, bool) {
	if !r.ready.Load() {
		return Entry{}, false
	}
	entry, ok := r.entries[key]
	if !ok {
		r.log().Debug("key not indexed", "key", key)
	}
	return entry, ok
}

// Len returns the number of resolved index entries.
func (r *Resolver) Len() int {
	if !r.ready.Load() {
		return 0
	}
	return len(r.entries)
}

// Open returns a stream for the content named by key. An indexed key is
// served with a byte-range fetch of exactly its recorded size; a miss falls
// back to a direct fetch of the blob addressed by the key itself. The caller
// must close the stream.
func (r *Resolver) Open(ctx context.Context, key Key) (io.ReadCloser, error) {
	if entry, ok := r.Lookup(key); ok {
		if r.cdn == nil {
			return nil, fmt.Errorf("%w: ranged fetch needs a CDN origin", ErrFetch)
		}
		return r.cdn.OpenRange(ctx, r.cfg.Archives[entry.Archive], entry.Offset, entry.Size)
	}
	data, err := r.FetchKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// FetchKey downloads the blob addressed directly by key, bypassing the
// location map. The whole payload is buffered before returning.
func (r *Resolver) FetchKey(ctx context.Context, key Key) ([]byte, error) {
	if r.cdn == nil {
		return nil, fmt.Errorf("%w: direct fetch needs a CDN origin", ErrFetch)
	}
	return r.cdn.FetchData(ctx, key.Hex(), r.byteProgress(StageFetchingData))
}

// FetchConfig downloads the config blob addressed by key.
func (r *Resolver) FetchConfig(ctx context.Context, key Key) ([]byte, error) {
	if r.cdn == nil {
		return nil, fmt.Errorf("%w: config fetch needs a CDN origin", ErrFetch)
	}
	return r.cdn.FetchConfig(ctx, key.Hex(), r.byteProgress(StageFetchingConfig))
}

func (r *Resolver) reportArchives(done, total int) {
	if r.progress == nil {
		return
	}
	r.progress(ProgressEvent{
		Stage:         StageFetchingIndices,
		ArchivesDone:  done,
		ArchivesTotal: total,
	})
}

// byteProgress adapts the resolver's progress sink to the CDN transport's
// byte-level callback.
func (r *Resolver) byteProgress(stage ProgressStage) cdn.ProgressFunc {
	if r.progress == nil {
		return nil
	}
	return func(done, total int64) {
		r.progress(ProgressEvent{
			Stage:      stage,
			BytesDone:  uint64(done),
			BytesTotal: uint64(total),
		})
	}
}

func (r *Resolver) log() *slog.Logger {
	if r.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.logger
}
