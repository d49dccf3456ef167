package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/legacyplayers/lcec/internal/models"
)

type mockRow struct {
	scan func(dest ...any) error
}

func (r mockRow) Scan(dest ...any) error { return r.scan(dest...) }

type mockRows struct {
	rows [][]any
	i    int
}

func (m *mockRows) Close()                                       {}
func (m *mockRows) Err() error                                   { return nil }
func (m *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (m *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (m *mockRows) Next() bool {
	m.i++
	return m.i <= len(m.rows)
}
func (m *mockRows) Scan(dest ...any) error {
	src := m.rows[m.i-1]
	for i, d := range dest {
		switch ptr := d.(type) {
		case *uint64:
			*ptr = src[i].(uint64)
		case *uint32:
			*ptr = src[i].(uint32)
		default:
			return errors.New("unsupported scan target in mock")
		}
	}
	return nil
}
func (m *mockRows) Values() ([]any, error)         { return m.rows[m.i-1], nil }
func (m *mockRows) RawValues() [][]byte            { return nil }
func (m *mockRows) Conn() *pgx.Conn                { return nil }

type mockPgPool struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockPgPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return m.queryFunc(ctx, sql, args...)
}
func (m *mockPgPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return m.queryRowFunc(ctx, sql, args...)
}
func (m *mockPgPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return m.execFunc(ctx, sql, args...)
}

func newAdapter(pool *mockPgPool) *Adapter {
	return New(pool, zap.NewNop())
}

func TestCreateInstanceMeta_NewReturnsEncounterID(t *testing.T) {
	pool := &mockPgPool{
		queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return mockRow{scan: func(dest ...any) error {
				*dest[0].(*uint64) = 42
				return nil
			}}
		},
	}
	a := newAdapter(pool)

	id, created, err := a.CreateInstanceMeta(context.Background(), 1, 1000, 7, 533)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, uint64(42), id)
}

func TestCreateInstanceMeta_AlreadyActiveReturnsNoRows(t *testing.T) {
	pool := &mockPgPool{
		queryRowFunc: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return mockRow{scan: func(dest ...any) error { return pgx.ErrNoRows }}
		},
	}
	a := newAdapter(pool)

	id, created, err := a.CreateInstanceMeta(context.Background(), 1, 1000, 7, 533)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Zero(t, id)
}

func TestFinalizeInstanceMeta_ReportsRowsAffected(t *testing.T) {
	pool := &mockPgPool{
		execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 1"), nil
		},
	}
	a := newAdapter(pool)

	ok, err := a.FinalizeInstanceMeta(context.Background(), 1, 5000)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFinalizeInstanceMeta_NoMatchingRowReportsFalse(t *testing.T) {
	pool := &mockPgPool{
		execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
	}
	a := newAdapter(pool)

	ok, err := a.FinalizeInstanceMeta(context.Background(), 999, 5000)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpsertParticipant_PassesHistoryID(t *testing.T) {
	var capturedArgs []any
	pool := &mockPgPool{
		execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			capturedArgs = args
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		},
	}
	a := newAdapter(pool)

	history := uint32(9)
	ok, err := a.UpsertParticipant(context.Background(), 1, 7, &history)
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, capturedArgs, 3)
	assert.Equal(t, &history, capturedArgs[2])
}

func TestInsertEvent_EncodesSubjectAndPayload(t *testing.T) {
	var capturedArgs []any
	pool := &mockPgPool{
		execFunc: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			capturedArgs = args
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		},
	}
	a := newAdapter(pool)

	ev := models.Event{
		ID:              3,
		EncounterID:     1,
		TimestampMs:     1000,
		Subject:         models.Player{CharacterID: 7},
		Kind:            models.EventLoot{ItemID: 55},
		CorrelationUUID: uuid.New(),
	}

	ok, err := a.InsertEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, capturedArgs, 8)
	assert.Equal(t, SubjectKindPlayer, capturedArgs[3])
	assert.Equal(t, uint64(7), capturedArgs[4])
	assert.Equal(t, "loot", capturedArgs[5])
	assert.Contains(t, string(capturedArgs[6].([]byte)), `"ItemID":55`)
}

func TestLoadInstanceResets_PopulatesMap(t *testing.T) {
	pool := &mockPgPool{
		queryFunc: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			return &mockRows{rows: [][]any{
				{uint32(533), uint32(9), uint64(20_000)},
				{uint32(30), uint32(0), uint64(15_000)},
			}}, nil
		},
	}
	a := newAdapter(pool)

	resets, err := a.LoadInstanceResets(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, resets, 2)
	assert.Equal(t, uint32(9), resets[533].Difficulty)
	assert.Equal(t, uint64(15_000), resets[30].ResetTimeMs)
}

func TestSubjectRef_PlayerAndCreature(t *testing.T) {
	kind, ref := SubjectRef(models.Player{CharacterID: 7})
	assert.Equal(t, SubjectKindPlayer, kind)
	assert.Equal(t, uint64(7), ref)

	kind, ref = SubjectRef(models.Creature{GUID: 99})
	assert.Equal(t, SubjectKindCreature, kind)
	assert.Equal(t, uint64(99), ref)
}

func TestIsTransient_SerializationFailureRetried(t *testing.T) {
	assert.True(t, isTransient(&pgconn.PgError{Code: "40001"}))
	assert.True(t, isTransient(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, isTransient(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isTransient(errors.New("boom")))
}
