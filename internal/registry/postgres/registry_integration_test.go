//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cnabflow/ingestor/internal/cnab/model"
	"github.com/cnabflow/ingestor/internal/registry"
	"github.com/cnabflow/ingestor/internal/registry/postgres"
)

func setupRegistry(t *testing.T) registry.UploadRegistry {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("cnabflow_test"),
		tcpostgres.WithUsername("cnabflow_test"),
		tcpostgres.WithPassword("cnabflow_test"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	require.NoError(t, container.WaitForReady(ctx, wait.ForListeningPort("5432/tcp")))

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connString := fmt.Sprintf("postgres://cnabflow_test:cnabflow_test@%s:%s/cnabflow_test?sslmode=disable", host, port.Port())
	require.NoError(t, postgres.RunMigrations(ctx, connString))

	r, err := postgres.New(postgres.Config{
		Host:     host,
		Port:     port.Int(),
		Database: "cnabflow_test",
		User:     "cnabflow_test",
		Password: "cnabflow_test",
		SSLMode:  "disable",
	})
	require.NoError(t, err)
	return r
}

func TestRegistry_CreatePendingAndFinalise(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	upload, err := r.CreatePending(ctx, "upload.txt", "hash-1", 1234, "uploads/upload.txt")
	require.NoError(t, err)
	require.NoError(t, r.SetTotalLineCount(ctx, upload.ID, 3))
	require.NoError(t, r.UpdateStatus(ctx, upload.ID, model.UploadStatusProcessing, nil, nil))

	require.NoError(t, r.InsertTransaction(ctx, &model.Transaction{
		FileUploadID:   &upload.ID,
		IdempotencyKey: "line-hash-1",
		Type:           model.TransactionTypeCredit,
		AmountCents:    14200,
		CPF:            "09620676017",
		Card:           "1234****7890",
	}))

	require.NoError(t, r.FinaliseResult(ctx, upload.ID, 3, 0, 0))

	got, err := r.GetByID(ctx, upload.ID)
	require.NoError(t, err)
	require.Equal(t, model.UploadStatusSuccess, got.Status)
}

func TestRegistry_IsFileUniqueDetectsDuplicate(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	_, err := r.CreatePending(ctx, "a.txt", "dup-hash", 10, "p")
	require.NoError(t, err)

	unique, existing, err := r.IsFileUnique(ctx, "dup-hash")
	require.NoError(t, err)
	require.False(t, unique)
	require.NotNil(t, existing)
}

func TestRegistry_FindStuckAfterTimeout(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	upload, err := r.CreatePending(ctx, "stuck.txt", "stuck-hash", 10, "p")
	require.NoError(t, err)
	require.NoError(t, r.UpdateStatus(ctx, upload.ID, model.UploadStatusProcessing, nil, nil))

	stuck, err := r.FindStuck(ctx, -1*time.Second) // already "older" than now
	require.NoError(t, err)
	require.NotEmpty(t, stuck)
}
