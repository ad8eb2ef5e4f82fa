package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo is one archived object as listed by a BlobReader.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// BlobWriter stores archive batches. PutMultipart is for batches too large
// for a single request.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader backs the archive listing endpoint.
type BlobReader interface {
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies wishes finalized before a cutoff to object storage and
// reports how many it wrote.
type Archiver interface {
	ArchiveFinalized(ctx context.Context, before time.Time) (int64, error)
}
