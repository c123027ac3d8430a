// Package persistence_test exercises the Postgres-backed stores against a
// real database, since pgx-specific SQL (FOR UPDATE SKIP LOCKED, RETURNING,
// unique-violation classification) cannot be trusted to unit tests alone.
package persistence_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	ledgermigrations "github.com/moneysaga/engine/db/migrations/ledger"
	"github.com/moneysaga/engine/internal/domain/dlqstore"
	"github.com/moneysaga/engine/internal/domain/ledger"
	"github.com/moneysaga/engine/internal/domain/outboxstore"
	"github.com/moneysaga/engine/internal/infra/persistence/migrations"
	pgstore "github.com/moneysaga/engine/internal/infra/persistence/postgres"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()
	exitCode, err := setupAndRun(ctx, m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledger postgres contract tests skipped: %v\n", err)
	}
	os.Exit(exitCode)
}

func setupAndRun(ctx context.Context, m *testing.M) (int, error) {
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("moneysaga_ledger"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp").WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		return 0, fmt.Errorf("start postgres container: %w", err)
	}
	defer func() { _ = ctr.Terminate(ctx) }()

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return 0, fmt.Errorf("connection string: %w", err)
	}

	if err := migrations.Apply(ctx, dsn, ledgermigrations.Files, nil); err != nil {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return 0, fmt.Errorf("pgx pool: %w", err)
	}
	defer pool.Close()
	testPool = pool

	return m.Run(), nil
}

func TestLedgerApplyIsIdempotentAndConstraintChecked(t *testing.T) {
	if testPool == nil {
		t.Skip("postgres contract setup unavailable")
	}
	ctx := context.Background()
	store := pgstore.NewLedgerStore(testPool)

	wallet, err := store.CreateWallet(ctx, "user-"+t.Name())
	require.NoError(t, err)
	require.Equal(t, ledger.Wallet{}.Balance, wallet.Balance)

	credit := ledger.ApplyRequest{
		WalletID:      wallet.WalletID,
		TransactionID: "seed-" + wallet.WalletID,
		Amount:        10000,
		Type:          ledger.EntryCredit,
	}
	result, err := store.Apply(ctx, credit)
	require.NoError(t, err)
	require.False(t, result.Duplicate)
	require.EqualValues(t, 10000, result.Wallet.Balance)

	// Replaying the identical mutation must be a no-op that returns the
	// original entry, not a second credit.
	replay, err := store.Apply(ctx, credit)
	require.NoError(t, err)
	require.True(t, replay.Duplicate)
	require.Equal(t, result.Entry.EntryID, replay.Entry.EntryID)
	require.EqualValues(t, 10000, replay.Wallet.Balance)

	debit := ledger.ApplyRequest{
		WalletID:      wallet.WalletID,
		TransactionID: "debit-too-much",
		Amount:        20000,
		Type:          ledger.EntryDebit,
	}
	_, err = store.Apply(ctx, debit)
	require.Error(t, err)

	final, err := store.GetWallet(ctx, wallet.WalletID)
	require.NoError(t, err)
	require.EqualValues(t, 10000, final.Balance, "failed debit must not mutate the balance")
}

func TestLedgerApplyEnqueuesOutboxAtomically(t *testing.T) {
	if testPool == nil {
		t.Skip("postgres contract setup unavailable")
	}
	ctx := context.Background()
	store := pgstore.NewLedgerStore(testPool)

	wallet, err := store.CreateWallet(ctx, "user-outbox-"+t.Name())
	require.NoError(t, err)

	payload, err := json.Marshal(map[string]any{"walletId": wallet.WalletID, "amount": 500})
	require.NoError(t, err)

	req := ledger.ApplyRequest{
		WalletID:      wallet.WalletID,
		TransactionID: "credit-with-outbox",
		Amount:        500,
		Type:          ledger.EntryCredit,
		Outbox: &outboxstore.Event{
			AggregateType: "wallet",
			AggregateID:   wallet.WalletID,
			EventType:     "WalletCredited",
			Payload:       payload,
		},
	}
	_, err = store.Apply(ctx, req)
	require.NoError(t, err)

	outbox := pgstore.NewOutboxStore(testPool)
	pending, err := outbox.ListPending(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, pending)

	var found bool
	ids := make([]int64, 0, len(pending))
	for _, rec := range pending {
		ids = append(ids, rec.ID)
		if rec.AggregateID == wallet.WalletID && rec.EventType == "WalletCredited" {
			found = true
		}
	}
	require.True(t, found, "expected the WalletCredited event enqueued alongside the ledger entry")

	require.NoError(t, outbox.MarkPublished(ctx, ids))
	after, err := outbox.ListPending(ctx, 10)
	require.NoError(t, err)
	for _, rec := range after {
		require.NotEqual(t, wallet.WalletID, rec.AggregateID)
	}
}

func TestDLQStoreLifecycle(t *testing.T) {
	if testPool == nil {
		t.Skip("postgres contract setup unavailable")
	}
	ctx := context.Background()
	store := pgstore.NewDLQStore(testPool)

	dl, err := store.Insert(ctx, dlqstore.DeadLetter{
		OriginalTopic:   "wallet.credit-failed",
		OriginalPayload: json.RawMessage(`{"transferId":"t-1"}`),
		ErrorMessage:    "refund retries exhausted",
		AttemptCount:    3,
		Status:          dlqstore.StatusPending,
	})
	require.NoError(t, err)
	require.NotZero(t, dl.ID)

	pending := dlqstore.StatusPending
	list, err := store.List(ctx, &pending)
	require.NoError(t, err)
	require.NotEmpty(t, list)

	require.NoError(t, store.MarkProcessed(ctx, dl.ID))
	got, err := store.Get(ctx, dl.ID)
	require.NoError(t, err)
	require.Equal(t, dlqstore.StatusProcessed, got.Status)
	require.NotNil(t, got.ProcessedAt)
}
