package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wishledger/internal/domain"
	"github.com/alanyoungcy/wishledger/internal/store/memory"
)

type upload struct {
	path      string
	body      []byte
	multipart bool
}

type fakeWriter struct {
	uploads []upload
	err     error
}

func (f *fakeWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	return f.record(path, data, false)
}

func (f *fakeWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	return f.record(path, data, true)
}

func (f *fakeWriter) record(path string, data io.Reader, multipart bool) error {
	if f.err != nil {
		return f.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.uploads = append(f.uploads, upload{path: path, body: b, multipart: multipart})
	return nil
}

type sliceLister struct {
	wishes []domain.Wish
	calls  int
}

func (s *sliceLister) ListWishes(_ context.Context, f domain.WishFilter) ([]domain.Wish, error) {
	s.calls++
	var out []domain.Wish
	for _, w := range s.wishes {
		if f.Match(w) {
			out = append(out, w)
		}
	}
	return domain.Page(out, f.ListOpts), nil
}

func finalizedWish(id uint64, at time.Time) domain.Wish {
	by := common.HexToAddress("0x0b")
	return domain.Wish{
		ID:           id,
		Owner:        common.HexToAddress("0x0a"),
		Target:       10,
		Raised:       10,
		Contributors: map[common.Address]int64{by: 10},
		Status:       domain.WishStatusClaimed,
		FinalizedAt:  &at,
		FinalizedBy:  &by,
	}
}

func TestArchiveFinalized(t *testing.T) {
	ctx := context.Background()
	cutoff := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)

	lister := &sliceLister{wishes: []domain.Wish{
		finalizedWish(1, cutoff.Add(-48*time.Hour)),
		finalizedWish(2, cutoff.Add(time.Hour)),
		{ID: 3, Status: domain.WishStatusOpen},
		finalizedWish(4, cutoff.Add(-time.Minute)),
	}}
	writer := &fakeWriter{}
	audit := memory.NewAuditStore()

	n, err := NewArchiver(lister, writer, audit, 0).ArchiveFinalized(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.Len(t, writer.uploads, 1)
	up := writer.uploads[0]
	assert.Equal(t, "archive/wishes/2026-02.jsonl", up.path)
	assert.False(t, up.multipart)

	var ids []uint64
	sc := bufio.NewScanner(bytes.NewReader(up.body))
	for sc.Scan() {
		var w domain.Wish
		require.NoError(t, json.Unmarshal(sc.Bytes(), &w))
		ids = append(ids, w.ID)
	}
	assert.Equal(t, []uint64{1, 4}, ids)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.wishes", entries[0].Event)
	assert.Equal(t, int64(2), entries[0].Detail["count"])
}

func TestArchiveFinalizedNothingToDo(t *testing.T) {
	writer := &fakeWriter{}
	n, err := NewArchiver(&sliceLister{}, writer, nil, 0).ArchiveFinalized(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, writer.uploads)
}

func TestArchiveFinalizedMultipartAndPaging(t *testing.T) {
	cutoff := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	lister := &sliceLister{}
	for i := 1; i <= archivePageSize+1; i++ {
		lister.wishes = append(lister.wishes, finalizedWish(uint64(i), cutoff.Add(-time.Hour)))
	}
	writer := &fakeWriter{}

	n, err := NewArchiver(lister, writer, nil, 1024).ArchiveFinalized(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(archivePageSize+1), n)
	assert.Equal(t, 2, lister.calls)
	require.Len(t, writer.uploads, 1)
	assert.True(t, writer.uploads[0].multipart)
}

func TestArchiveFinalizedUploadError(t *testing.T) {
	cutoff := time.Now()
	lister := &sliceLister{wishes: []domain.Wish{finalizedWish(1, cutoff.Add(-time.Hour))}}
	boom := errors.New("bucket gone")

	_, err := NewArchiver(lister, &fakeWriter{err: boom}, nil, 0).ArchiveFinalized(context.Background(), cutoff)
	assert.ErrorIs(t, err, boom)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("https://minio:9000", false))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
}

func TestNormaliseEndpointTrailingSlash(t *testing.T) {
	assert.Equal(t, "https://r2.example.com", normaliseEndpoint("https://r2.example.com/", false))
}

func TestClientConfigValidate(t *testing.T) {
	assert.NoError(t, ClientConfig{Bucket: "b", Region: "auto"}.validate())
	assert.NoError(t, ClientConfig{Bucket: "b", Region: "auto", AccessKey: "a", SecretKey: "s"}.validate())

	err := ClientConfig{AccessKey: "a"}.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket is required")
	assert.Contains(t, err.Error(), "region is required")
	assert.Contains(t, err.Error(), "must be set together")
}
