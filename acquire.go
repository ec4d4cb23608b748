package casc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// indexSuffix is appended to an archive id to name its index file, both on
// the origin and on local disk.
const indexSuffix = ".index"

// obtainIndex returns the raw bytes of one archive's index file.
//
// Offline mode reads from the local mirror and treats an absent file as
// [ErrNotFound]. Online mode consults the durable index cache first and
// downloads on a miss, persisting the result before use. All other I/O and
// network failures surface as [ErrFetch]; acquisition never retries.
func (r *Resolver) obtainIndex(ctx context.Context, id string) ([]byte, error) {
	if !r.cfg.Online {
		path := filepath.Join(r.cfg.BasePath, "Data", "indices", id+indexSuffix)
		data, err := os.ReadFile(path) //nolint:gosec // path is built from configured archive ids
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: local index %s", ErrNotFound, path)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read local index %s: %v", ErrFetch, path, err)
		}
		return data, nil
	}

	name := id + indexSuffix
	if data, ok := r.cache.Get(name); ok {
		r.log().Debug("index cache hit", "archive", id)
		return data, nil
	}

	data, err := r.cdn.DownloadIndex(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Put(name, data); err != nil {
		return nil, fmt.Errorf("%w: cache index %s: %v", ErrFetch, id, err)
	}
	return data, nil
}
