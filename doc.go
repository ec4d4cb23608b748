// Package casc resolves content-addressed keys to byte ranges inside large
// archive blobs and serves reads of that content from a CDN origin or a
// local mirror.
//
// A [Resolver] is configured with an ordered list of archive ids. During
// [Resolver.Initialize] it obtains each archive's binary index file (from the
// local cache, a local base path, or the CDN), parses it, and assembles an
// in-memory key to location map. After initialization the map is read-only
// and safe for any number of concurrent lookups.
//
// Content is retrieved two ways: indirectly, by looking a key up in the map
// and issuing a byte-range request against the owning archive, or directly,
// by fetching a blob addressed by its own key when no index entry exists.
package casc
