//go:build sqlite_vec
// +build sqlite_vec

package storage

// This file is compiled when building with CGO and the sqlite_vec tag.
//
// Build command:
//   CGO_ENABLED=1 go build -tags "sqlite_vec" ./...
//
// The C driver provides:
//   - Faster bulk inserts during full-replace sync
//   - Recommended for desktop hosts with large catalogs
//
// Driver used: github.com/mattn/go-sqlite3

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// NativeDriver indicates the C SQLite library is linked
	NativeDriver = true

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
