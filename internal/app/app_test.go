package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alanyoungcy/wishledger/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Storage.Backend = "memory"
	cfg.Server.Port = 0
	return &cfg
}

func TestWireMemoryUsesLocalFallbacks(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), memoryConfig(), testLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.Service)
	assert.NotNil(t, deps.LockManager)
	assert.NotNil(t, deps.RateLimiter)
	assert.NotNil(t, deps.NonceGuard)
	assert.Nil(t, deps.WishCache)
	assert.Nil(t, deps.Archiver)
	assert.Empty(t, deps.HealthChecks)

	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	bal, err := deps.Service.Deposit(context.Background(), owner, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(50), bal)
}

func TestWireBoltPersistsAcrossReopen(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.Backend = "bolt"
	cfg.Storage.BoltPath = filepath.Join(t.TempDir(), "ledger.db")
	account := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	deps, cleanup, err := Wire(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	_, err = deps.Service.Deposit(context.Background(), account, 7)
	require.NoError(t, err)
	cleanup()

	deps, cleanup, err = Wire(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	defer cleanup()
	bal, err := deps.Service.Balance(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, int64(7), bal)
}

func TestWireRejectsUnknownBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.Backend = "sqlite"

	_, _, err := Wire(context.Background(), cfg, testLogger())
	assert.ErrorContains(t, err, "unknown storage backend")
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := memoryConfig()
	cfg.Mode = "trade"

	a := New(cfg, testLogger())
	defer a.Close()
	assert.ErrorContains(t, a.Run(context.Background()), "unsupported mode")
}

func TestMigrateModeWithoutPostgresIsNoop(t *testing.T) {
	cfg := memoryConfig()
	cfg.Mode = "migrate"

	a := New(cfg, testLogger())
	defer a.Close()
	assert.NoError(t, a.Run(context.Background()))
}

func TestArchiveModeRequiresS3(t *testing.T) {
	a := New(memoryConfig(), testLogger())
	err := a.ArchiveMode(context.Background(), &Dependencies{})
	assert.ErrorContains(t, err, "s3 is not configured")
}

func TestServeModeStopsOnCancel(t *testing.T) {
	a := New(memoryConfig(), testLogger())
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve mode did not stop after cancel")
	}
}
