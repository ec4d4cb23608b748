package casc

import (
	"log/slog"
	nethttp "net/http"

	"github.com/casckit/casc/cache"
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used for diagnostics. By default logs are
// discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithProgress sets the progress sink notified during initialization and
// direct downloads.
func WithProgress(fn ProgressFunc) Option {
	return func(r *Resolver) {
		r.progress = fn
	}
}

// WithWorkers sets the number of archive indices acquired concurrently
// during Initialize. The default of 1 keeps acquisition strictly
// sequential; values below 1 are treated as 1.
func WithWorkers(n int) Option {
	return func(r *Resolver) {
		if n < 1 {
			n = 1
		}
		r.workers = n
	}
}

// WithCache replaces the default disk-backed index cache.
func WithCache(c cache.Cache) Option {
	return func(r *Resolver) {
		r.cache = c
	}
}

// WithHTTPClient sets the HTTP client used for CDN requests.
func WithHTTPClient(client *nethttp.Client) Option {
	return func(r *Resolver) {
		r.httpClient = client
	}
}
