package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/wishledger/internal/domain"
)

// ArchivePrefix is the object prefix archive files are written under.
const ArchivePrefix = "archive/"

// ArchiveHandler serves the operator archive endpoints. Either dependency
// may be nil when no object store is configured.
type ArchiveHandler struct {
	archiver domain.Archiver
	reader   domain.BlobReader
	logger   *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(archiver domain.Archiver, reader domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archiver: archiver, reader: reader, logger: logHandler(logger, "archive")}
}

type archiveRequest struct {
	Before *time.Time `json:"before,omitempty"`
}

type archiveResponse struct {
	Archived int64     `json:"archived"`
	Before   time.Time `json:"before"`
}

// RunArchive archives wishes finalized before the given cutoff, or before
// now when the body is empty.
// POST /api/admin/archive
func (h *ArchiveHandler) RunArchive(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		writeError(w, http.StatusServiceUnavailable, "internal", "archive storage not configured")
		return
	}
	var req archiveRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeLedgerError(w, r, h.logger, "archive", err)
			return
		}
	}
	before := time.Now().UTC()
	if req.Before != nil {
		before = req.Before.UTC()
	}

	n, err := h.archiver.ArchiveFinalized(r.Context(), before)
	if err != nil {
		writeLedgerError(w, r, h.logger, "archive", err)
		return
	}
	writeJSON(w, http.StatusOK, archiveResponse{Archived: n, Before: before})
}

// ListArchive lists archive objects.
// GET /api/admin/archive
func (h *ArchiveHandler) ListArchive(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "internal", "archive storage not configured")
		return
	}
	objects, err := h.reader.List(r.Context(), ArchivePrefix)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			objects = nil
		} else {
			writeLedgerError(w, r, h.logger, "list archive", err)
			return
		}
	}
	if objects == nil {
		objects = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": objects})
}
