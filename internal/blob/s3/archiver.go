package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/wishledger/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"

	// DefaultMultipartThreshold is the payload size above which archives go
	// through the multipart uploader.
	DefaultMultipartThreshold int64 = 8 * 1024 * 1024

	archivePageSize = 500
)

// FinalizedWishLister is the read access the archiver needs. The ledger
// satisfies it.
type FinalizedWishLister interface {
	ListWishes(ctx context.Context, filter domain.WishFilter) ([]domain.Wish, error)
}

// WishArchiver implements domain.Archiver. Each run writes a JSONL snapshot
// of every wish finalized before the cutoff to
// archive/wishes/YYYY-MM.jsonl, replacing an earlier snapshot for the same
// month. Records stay in the primary store.
type WishArchiver struct {
	wishes    FinalizedWishLister
	writer    domain.BlobWriter
	audit     domain.AuditStore
	threshold int64
}

// NewArchiver creates a WishArchiver. A non-positive threshold selects
// DefaultMultipartThreshold.
func NewArchiver(wishes FinalizedWishLister, writer domain.BlobWriter, audit domain.AuditStore, threshold int64) *WishArchiver {
	if threshold <= 0 {
		threshold = DefaultMultipartThreshold
	}
	return &WishArchiver{
		wishes:    wishes,
		writer:    writer,
		audit:     audit,
		threshold: threshold,
	}
}

// ArchiveFinalized uploads the snapshot and returns how many wishes it
// holds. Nothing is written when no wish qualifies.
func (a *WishArchiver) ArchiveFinalized(ctx context.Context, before time.Time) (int64, error) {
	wishes, err := a.collect(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive wishes query: %w", err)
	}
	if len(wishes) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(wishes)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive wishes marshal: %w", err)
	}

	path := archivePath("wishes", before)
	if int64(len(buf)) > a.threshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), a.threshold)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive wishes upload: %w", err)
	}

	count := int64(len(wishes))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.wishes", map[string]any{
			"path":   path,
			"count":  count,
			"bytes":  len(buf),
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive wishes audit log: %w", err)
		}
	}
	return count, nil
}

func (a *WishArchiver) collect(ctx context.Context, before time.Time) ([]domain.Wish, error) {
	var out []domain.Wish
	for offset := 0; ; offset += archivePageSize {
		page, err := a.wishes.ListWishes(ctx, domain.WishFilter{
			FinalizedBefore: &before,
			ListOpts:        domain.ListOpts{Limit: archivePageSize, Offset: offset},
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < archivePageSize {
			return out, nil
		}
	}
}

// archivePath builds the object key for an archive, partitioned by the
// cutoff's year and month.
//
//	archive/wishes/2026-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*WishArchiver)(nil)
