package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/legacyplayers/lcec/internal/models"
)

func sampleEvent(encounterID uint64) models.Event {
	return models.Event{
		ID:              1,
		EncounterID:     encounterID,
		TimestampMs:     1000,
		Subject:         models.Player{CharacterID: 55},
		Kind:            models.EventLoot{ItemID: 99},
		CorrelationUUID: uuid.New(),
	}
}

// newIntegrationAdapter starts a real Postgres container, applies the
// migrations under migrations/postgres, and returns an Adapter backed by an
// actual pgxpool.Pool. Skipped in short mode since it needs Docker.
func newIntegrationAdapter(t *testing.T) *Adapter {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed integration test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("lcec_test"),
		postgres.WithUsername("lcec"),
		postgres.WithPassword("lcec"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, ApplyMigrations(dsn, "../../migrations/postgres"))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return New(pool, zap.NewNop())
}

func TestIntegration_CreateInstanceMetaIsIdempotentPerInstance(t *testing.T) {
	a := newIntegrationAdapter(t)
	ctx := context.Background()

	id1, created1, err := a.CreateInstanceMeta(ctx, 1, 1000, 7, 409)
	require.NoError(t, err)
	assert.True(t, created1)
	assert.NotZero(t, id1)

	_, created2, err := a.CreateInstanceMeta(ctx, 1, 1500, 7, 409)
	require.NoError(t, err)
	assert.False(t, created2, "re-entering the same instance_id while active must not create a second row")
}

func TestIntegration_UpsertParticipantThenInsertEventRoundTrips(t *testing.T) {
	a := newIntegrationAdapter(t)
	ctx := context.Background()

	encounterID, created, err := a.CreateInstanceMeta(ctx, 1, 1000, 8, 409)
	require.NoError(t, err)
	require.True(t, created)
	raidOK, err := a.InsertInstanceRaid(ctx, encounterID, 9)
	require.NoError(t, err)
	require.True(t, raidOK)

	ok, err := a.UpsertParticipant(ctx, encounterID, 55, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ev := sampleEvent(encounterID)
	ok, err = a.InsertEvent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.InsertEvent(ctx, ev)
	require.NoError(t, err)
	assert.False(t, ok, "inserting the same event id twice must be a no-op, not an error")
}

