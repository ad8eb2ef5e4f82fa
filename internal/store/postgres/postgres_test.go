package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wishledger/internal/domain"
	"github.com/alanyoungcy/wishledger/internal/store/storetest"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: "postgres://x@y/z", Host: "ignored"},
			want: "postgres://x@y/z",
		},
		{
			name: "defaults port and sslmode",
			cfg:  ClientConfig{Host: "db", Database: "wishes", User: "u", Password: "p"},
			want: "postgres://u:p@db:5432/wishes?sslmode=disable",
		},
		{
			name: "custom port and sslmode",
			cfg:  ClientConfig{Host: "db", Port: 6543, Database: "w", User: "u", Password: "p", SSLMode: "require"},
			want: "postgres://u:p@db:6543/w?sslmode=require",
		},
		{
			name: "escapes credentials",
			cfg:  ClientConfig{Host: "db", Database: "w", User: "ledger", Password: "p@ss word"},
			want: "postgres://ledger:p%40ss%20word@db:5432/w?sslmode=disable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DSN(tt.cfg))
		})
	}
}

func TestBuildListQuery(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	cutoff := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	query, args := buildListQuery(domain.WishFilter{
		Owner:           &owner,
		Status:          domain.WishStatusClaimed,
		FinalizedBefore: &cutoff,
		ListOpts:        domain.ListOpts{Limit: 10, Offset: 20},
	})

	assert.Contains(t, query, "owner = $1")
	assert.Contains(t, query, "status = $2")
	assert.Contains(t, query, "finalized_at < $3")
	assert.Contains(t, query, "ORDER BY id ASC LIMIT $4 OFFSET $5")
	assert.Equal(t, []any{owner.Hex(), "claimed", cutoff, 10, 20}, args)

	query, args = buildListQuery(domain.WishFilter{})
	assert.NotContains(t, query, "LIMIT")
	assert.Empty(t, args)
}

// TestLedgerStoreIntegration runs against a live database when
// WISHLEDGER_TEST_POSTGRES_DSN is set.
func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "001_ledger.sql", migrations[0].name)
	assert.Equal(t, "002_audit.sql", migrations[1].name)
	for _, m := range migrations {
		assert.Len(t, m.checksum, 64)
		assert.NotEmpty(t, m.sql)
	}
}

func TestLedgerStoreIntegration(t *testing.T) {
	dsn := os.Getenv("WISHLEDGER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("WISHLEDGER_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	client, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	require.NoError(t, client.RunMigrations(ctx))
	require.NoError(t, client.RunMigrations(ctx), "second run is a no-op")

	storetest.Run(t, func(t *testing.T) domain.LedgerStore {
		_, err := client.Pool().Exec(ctx,
			"TRUNCATE wish_contributions, wishes, balances; ALTER SEQUENCE wish_id_seq RESTART")
		require.NoError(t, err)
		return NewLedgerStore(client.Pool())
	})

	t.Run("Audit", func(t *testing.T) {
		audit := NewAuditStore(client.Pool())
		require.NoError(t, audit.Log(ctx, "wish_created", map[string]any{"wish_id": 1}))
		entries, err := audit.List(ctx, domain.ListOpts{Limit: 1})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "wish_created", entries[0].Event)
	})
}

func TestAuditKeys(t *testing.T) {
	id, account := auditKeys(map[string]any{"wish_id": uint64(7), "owner": "0xabc"})
	require.NotNil(t, id)
	assert.Equal(t, int64(7), *id)
	assert.Nil(t, account)

	id, account = auditKeys(map[string]any{"account": "0x70997970c51812dc3a010c7d01b50e0d17dc79c8"})
	assert.Nil(t, id)
	require.NotNil(t, account)
	assert.Equal(t, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", *account)

	id, account = auditKeys(map[string]any{"wish_id": "seven", "account": "nope"})
	assert.Nil(t, id)
	assert.Nil(t, account)
}
