//go:build integration

// Package integration provides integration tests for the casc library.
//
// These tests require Docker and spin up an nginx container serving a
// generated CDN directory tree. Run with: go test -tags=integration ./integration/...
package integration
