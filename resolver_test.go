package casc_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casckit/casc"
	"github.com/casckit/casc/internal/testutil"
)

const archiveID = "abcdef0123456789abcdef0123456789"

func mustKey(t *testing.T, s string) casc.Key {
	t.Helper()
	k, err := casc.ParseKey(s)
	require.NoError(t, err)
	return k
}

// testCDN serves an index and archive body for archiveID plus any extra
// paths, counting requests per path.
type testCDN struct {
	server *httptest.Server
	hits   map[string]*atomic.Int64
	files  map[string][]byte
}

func newTestCDN(t *testing.T, files map[string][]byte) *testCDN {
	t.Helper()

	c := &testCDN{
		hits:  make(map[string]*atomic.Int64),
		files: files,
	}
	for path := range files {
		c.hits[path] = &atomic.Int64{}
	}
	c.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := c.files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		c.hits[r.URL.Path].Add(1)
		http.ServeContent(w, r, filepath.Base(r.URL.Path), time.Time{}, bytes.NewReader(body))
	}))
	t.Cleanup(c.server.Close)
	return c
}

func shardedPath(kind, id, suffix string) string {
	return "/" + kind + "/" + id[0:2] + "/" + id[2:4] + "/" + id + suffix
}

func TestInitializeAndLookup(t *testing.T) {
	t.Parallel()

	keyA := mustKey(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	keyB := mustKey(t, "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	index := testutil.BuildIndex(
		testutil.IndexRecord{Key: keyA, Size: 10, Offset: 100},
		testutil.IndexRecord{Key: keyB, Size: 5, Offset: 0},
	)
	archive := make([]byte, 200)
	copy(archive[100:110], "0123456789")

	cdnSrv := newTestCDN(t, map[string][]byte{
		shardedPath("data", archiveID, ".index"): index,
		shardedPath("data", archiveID, ""):       archive,
	})

	r, err := casc.New(casc.Settings{
		Archives: []string{archiveID},
		CDNURL:   cdnSrv.server.URL,
		CacheDir: t.TempDir(),
		Online:   true,
	})
	require.NoError(t, err)
	require.NoError(t, r.Initialize(context.Background()))
	assert.Equal(t, 2, r.Len())

	entry, ok := r.Lookup(keyA)
	require.True(t, ok)
	assert.Equal(t, casc.Entry{Archive: 0, Size: 10, Offset: 100}, entry)

	entry, ok = r.Lookup(keyB)
	require.True(t, ok)
	assert.Equal(t, casc.Entry{Archive: 0, Size: 5, Offset: 0}, entry)

	// Indirect retrieval issues a ranged fetch of exactly the entry size.
	rc, err := r.Open(context.Background(), keyA)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789"), body)
}

func TestLookupMissIsNotAnError(t *testing.T) {
	t.Parallel()

	cdnSrv := newTestCDN(t, map[string][]byte{
		shardedPath("data", archiveID, ".index"): testutil.BuildIndex(),
	})

	r, err := casc.New(casc.Settings{
		Archives: []string{archiveID},
		CDNURL:   cdnSrv.server.URL,
		CacheDir: t.TempDir(),
		Online:   true,
	})
	require.NoError(t, err)
	require.NoError(t, r.Initialize(context.Background()))

	_, ok := r.Lookup(mustKey(t, "cccccccccccccccccccccccccccccccc"))
	assert.False(t, ok)
}

func TestOpenFallsBackToDirectFetch(t *testing.T) {
	t.Parallel()

	key := mustKey(t, "cccccccccccccccccccccccccccccccc")
	cdnSrv := newTestCDN(t, map[string][]byte{
		shardedPath("data", archiveID, ".index"): testutil.BuildIndex(),
		shardedPath("data", key.Hex(), ""):       []byte("loose blob"),
	})

	r, err := casc.New(casc.Settings{
		Archives: []string{archiveID},
		CDNURL:   cdnSrv.server.URL,
		CacheDir: t.TempDir(),
		Online:   true,
	})
	require.NoError(t, err)
	require.NoError(t, r.Initialize(context.Background()))

	rc, err := r.Open(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("loose blob"), body)
}

func TestInitializeUsesIndexCache(t *testing.T) {
	t.Parallel()

	index := testutil.BuildIndex(
		testutil.IndexRecord{Key: mustKey(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"), Size: 1, Offset: 0},
	)
	indexPath := shardedPath("data", archiveID, ".index")
	cdnSrv := newTestCDN(t, map[string][]byte{indexPath: index})
	cacheDir := t.TempDir()

	settings := casc.Settings{
		Archives: []string{archiveID},
		CDNURL:   cdnSrv.server.URL,
		CacheDir: cacheDir,
		Online:   true,
	}

	r1, err := casc.New(settings)
	require.NoError(t, err)
	require.NoError(t, r1.Initialize(context.Background()))
	require.EqualValues(t, 1, cdnSrv.hits[indexPath].Load())

	// The downloaded index is durable at {cacheDir}/{id}.index.
	cached, err := os.ReadFile(filepath.Join(cacheDir, archiveID+".index"))
	require.NoError(t, err)
	assert.Equal(t, index, cached)

	// A second resolver over the same cache never touches the origin.
	r2, err := casc.New(settings)
	require.NoError(t, err)
	require.NoError(t, r2.Initialize(context.Background()))
	assert.EqualValues(t, 1, cdnSrv.hits[indexPath].Load())
	assert.Equal(t, 1, r2.Len())
}

func TestInitializeOffline(t *testing.T) {
	t.Parallel()

	key := mustKey(t, "dddddddddddddddddddddddddddddddd")
	base := t.TempDir()
	indicesDir := filepath.Join(base, "Data", "indices")
	require.NoError(t, os.MkdirAll(indicesDir, 0o755))
	index := testutil.BuildIndex(testutil.IndexRecord{Key: key, Size: 9, Offset: 3})
	require.NoError(t, os.WriteFile(filepath.Join(indicesDir, archiveID+".index"), index, 0o644))

	r, err := casc.New(casc.Settings{
		Archives: []string{archiveID},
		BasePath: base,
	})
	require.NoError(t, err)
	require.NoError(t, r.Initialize(context.Background()))

	entry, ok := r.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, casc.Entry{Archive: 0, Size: 9, Offset: 3}, entry)
}

func TestInitializeOffline_MissingIndex(t *testing.T) {
	t.Parallel()

	r, err := casc.New(casc.Settings{
		Archives: []string{archiveID},
		BasePath: t.TempDir(),
	})
	require.NoError(t, err)

	err = r.Initialize(context.Background())
	require.ErrorIs(t, err, casc.ErrNotFound)
	assert.Equal(t, 0, r.Len())
}

func TestInitialize_BadIndexAborts(t *testing.T) {
	t.Parallel()

	// Record count claims more data than the file holds.
	bad := testutil.BuildIndex()
	bad[len(bad)-12] = 0xff

	cdnSrv := newTestCDN(t, map[string][]byte{
		shardedPath("data", archiveID, ".index"): bad,
	})

	r, err := casc.New(casc.Settings{
		Archives: []string{archiveID},
		CDNURL:   cdnSrv.server.URL,
		CacheDir: t.TempDir(),
		Online:   true,
	})
	require.NoError(t, err)

	err = r.Initialize(context.Background())
	require.ErrorIs(t, err, casc.ErrFormat)
	assert.Equal(t, 0, r.Len())
}

func TestInitialize_CancelledBeforeStart(t *testing.T) {
	t.Parallel()

	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)

	r, err := casc.New(casc.Settings{
		Archives: []string{archiveID},
		CDNURL:   server.URL,
		CacheDir: t.TempDir(),
		Online:   true,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = r.Initialize(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 0, requests.Load(), "no archive should be acquired after cancellation")
	assert.Equal(t, 0, r.Len())
}

func TestInitialize_ReportsArchiveProgress(t *testing.T) {
	t.Parallel()

	second := "ffffffff0123456789abcdef01234567"
	cdnSrv := newTestCDN(t, map[string][]byte{
		shardedPath("data", archiveID, ".index"): testutil.BuildIndex(),
		shardedPath("data", second, ".index"):    testutil.BuildIndex(),
	})

	var events []casc.ProgressEvent
	r, err := casc.New(casc.Settings{
		Archives: []string{archiveID, second},
		CDNURL:   cdnSrv.server.URL,
		CacheDir: t.TempDir(),
		Online:   true,
	}, casc.WithProgress(func(e casc.ProgressEvent) {
		events = append(events, e)
	}))
	require.NoError(t, err)
	require.NoError(t, r.Initialize(context.Background()))

	require.Len(t, events, 2)
	assert.Equal(t, casc.StageFetchingIndices, events[0].Stage)
	assert.Equal(t, 1, events[0].ArchivesDone)
	assert.Equal(t, 2, events[0].ArchivesTotal)
	assert.InDelta(t, 50.0, events[0].Percent(), 0.01)
	assert.Equal(t, 2, events[1].ArchivesDone)
	assert.InDelta(t, 100.0, events[1].Percent(), 0.01)
}

func TestDuplicateKeysLastWriteWins(t *testing.T) {
	t.Parallel()

	key := mustKey(t, "eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee")
	second := "ffffffff0123456789abcdef01234567"
	cdnSrv := newTestCDN(t, map[string][]byte{
		shardedPath("data", archiveID, ".index"): testutil.BuildIndex(
			testutil.IndexRecord{Key: key, Size: 11, Offset: 22},
		),
		shardedPath("data", second, ".index"): testutil.BuildIndex(
			testutil.IndexRecord{Key: key, Size: 33, Offset: 44},
		),
	})

	r, err := casc.New(casc.Settings{
		Archives: []string{archiveID, second},
		CDNURL:   cdnSrv.server.URL,
		CacheDir: t.TempDir(),
		Online:   true,
	})
	require.NoError(t, err)
	require.NoError(t, r.Initialize(context.Background()))

	entry, ok := r.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, casc.Entry{Archive: 1, Size: 33, Offset: 44}, entry)
}

func TestFetchConfig(t *testing.T) {
	t.Parallel()

	key := mustKey(t, "00112233445566778899aabbccddeeff")
	cdnSrv := newTestCDN(t, map[string][]byte{
		shardedPath("config", key.Hex(), ""): []byte("build config"),
	})

	r, err := casc.New(casc.Settings{
		CDNURL:   cdnSrv.server.URL,
		CacheDir: t.TempDir(),
		Online:   true,
	})
	require.NoError(t, err)

	got, err := r.FetchConfig(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []byte("build config"), got)
}

func TestFetchKey_NotFound(t *testing.T) {
	t.Parallel()

	cdnSrv := newTestCDN(t, map[string][]byte{})

	r, err := casc.New(casc.Settings{
		CDNURL:   cdnSrv.server.URL,
		CacheDir: t.TempDir(),
		Online:   true,
	})
	require.NoError(t, err)

	_, err = r.FetchKey(context.Background(), mustKey(t, "0123456789abcdef0123456789abcdef"))
	require.ErrorIs(t, err, casc.ErrNotFound)
}

func TestFetchKey_Offline(t *testing.T) {
	t.Parallel()

	r, err := casc.New(casc.Settings{BasePath: t.TempDir()})
	require.NoError(t, err)

	_, err = r.FetchKey(context.Background(), mustKey(t, "0123456789abcdef0123456789abcdef"))
	require.ErrorIs(t, err, casc.ErrFetch)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  casc.Settings
	}{
		{name: "online without cdn url", cfg: casc.Settings{Online: true, CacheDir: "x"}},
		{name: "online without cache dir", cfg: casc.Settings{Online: true, CDNURL: "http://cdn"}},
		{name: "offline without base path", cfg: casc.Settings{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := casc.New(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestInitializeParallel(t *testing.T) {
	t.Parallel()

	ids := []string{
		"11111111111111111111111111111111",
		"22222222222222222222222222222222",
		"33333333333333333333333333333333",
		"44444444444444444444444444444444",
	}
	files := make(map[string][]byte)
	keys := make([]casc.Key, len(ids))
	for i, id := range ids {
		var k casc.Key
		k[0] = byte(i + 1)
		keys[i] = k
		files[shardedPath("data", id, ".index")] = testutil.BuildIndex(
			testutil.IndexRecord{Key: k, Size: uint32(i + 1), Offset: uint32(i * 100)},
		)
	}
	cdnSrv := newTestCDN(t, files)

	r, err := casc.New(casc.Settings{
		Archives: ids,
		CDNURL:   cdnSrv.server.URL,
		CacheDir: t.TempDir(),
		Online:   true,
	}, casc.WithWorkers(3))
	require.NoError(t, err)
	require.NoError(t, r.Initialize(context.Background()))
	require.Equal(t, len(ids), r.Len())

	for i, k := range keys {
		entry, ok := r.Lookup(k)
		require.True(t, ok)
		assert.Equal(t, casc.Entry{Archive: i, Size: uint32(i + 1), Offset: uint32(i * 100)}, entry)
	}
}

func TestInitializeParallel_FailFast(t *testing.T) {
	t.Parallel()

	ids := []string{
		"11111111111111111111111111111111",
		"22222222222222222222222222222222",
	}
	// Only the first archive's index exists; the second 404s.
	cdnSrv := newTestCDN(t, map[string][]byte{
		shardedPath("data", ids[0], ".index"): testutil.BuildIndex(),
	})

	r, err := casc.New(casc.Settings{
		Archives: ids,
		CDNURL:   cdnSrv.server.URL,
		CacheDir: t.TempDir(),
		Online:   true,
	}, casc.WithWorkers(2))
	require.NoError(t, err)

	err = r.Initialize(context.Background())
	require.Error(t, err)
	require.True(t, errors.Is(err, casc.ErrFetch), "index acquisition failures are fetch errors, got %v", err)
	assert.Equal(t, 0, r.Len())
}
