//go:build !synctest

// Package testutil provides test utilities for concurrency testing.
//
// This file provides no-op stubs for sync point functions in production builds.
// To enable sync points, build with: go test -tags synctest
package testutil

// SP is a no-op in production builds.
func SP(_ string) error { return nil }

// SPCallback is a no-op in production builds.
func SPCallback(_ string, _ any) error { return nil }

// EnableSyncPoints is a no-op in production builds.
func EnableSyncPoints() *SyncPointManager { return nil }

// DisableSyncPoints is a no-op in production builds.
func DisableSyncPoints() {}

// SyncPointManager is a stub type for production builds.
type SyncPointManager struct{}
