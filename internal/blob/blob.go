// Package blob provides the payload storage abstraction behind the
// materialization cache: frame values, catalogs and fitted-state payloads are
// written as immutable blobs addressed by realization-derived keys.
//
// Writes are create-only. A materialized artifact is never rewritten in
// place; identical inputs produce the identical realization key, so a second
// Put for an existing key signals either a cache race (benign) or a
// determinism bug (not benign), and both surface as an error at the call
// site.
package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a concrete blob storage backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"     // local filesystem (default, dev)
	DriverS3         Driver = "s3"     // S3 / MinIO compatible
	DriverMemory     Driver = "memory" // in-memory (tests, ephemeral cache)
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string // small flat key-value, e.g. realization id, template
}

// Info describes a stored blob. ETag is a content hash where the backend can
// provide one (sha256 for fs and memory).
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is the minimal object-store surface the frame and state stores need.
type Store interface {
	// Put stores a new blob at key. Fails if the key already exists.
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	// Get retrieves blob contents and metadata.
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	// Head returns metadata only.
	Head(ctx context.Context, key string) (Info, error)
	// Delete removes a blob. Returns (false, nil) if not found.
	Delete(ctx context.Context, key string) (bool, error)
	// List returns blobs whose key has the provided prefix, ascending by key.
	List(ctx context.Context, prefix string) ([]Info, error)
	// Driver returns the configured backend driver.
	Driver() Driver
}

// ErrExists is returned by Put when the key is already stored.
var ErrExists = errors.New("blob: key already exists")

// ErrNotFound is returned for reads of missing keys.
var ErrNotFound = errors.New("blob: not found")
