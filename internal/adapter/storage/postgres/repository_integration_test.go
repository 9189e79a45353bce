//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"gorm.io/gorm"

	_ "github.com/lib/pq"

	"github.com/seu-repo/ocpp-datum/internal/domain"
)

// setupDatabase returns a migrated database, either DATABASE_URL or a
// throwaway container.
func setupDatabase(t *testing.T) (*gorm.DB, string) {
	t.Helper()
	ctx := context.Background()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		container, err := tcpostgres.RunContainer(ctx,
			testcontainers.WithImage("postgres:16-alpine"),
			tcpostgres.WithDatabase("ocpp_test"),
			tcpostgres.WithUsername("ocpp"),
			tcpostgres.WithPassword("ocpp_test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		require.NoError(t, err, "start postgres container")
		t.Cleanup(func() {
			if err := container.Terminate(context.Background()); err != nil {
				t.Logf("Failed to terminate postgres container: %v", err)
			}
		})

		host, err := container.Host(ctx)
		require.NoError(t, err)
		port, err := container.MappedPort(ctx, "5432")
		require.NoError(t, err)
		dsn = fmt.Sprintf("postgres://ocpp:ocpp_test@%s:%s/ocpp_test?sslmode=disable", host, port.Port())
	}

	log, _ := zap.NewDevelopment()
	db, err := NewConnection(dsn, Options{MaxOpenConns: 5}, log)
	require.NoError(t, err)
	require.NoError(t, RunMigrations(db))
	t.Cleanup(func() { _ = Close(db) })
	return db, dsn
}

func TestChargeSessionRepository_Lifecycle(t *testing.T) {
	db, _ := setupDatabase(t)
	repo := NewChargeSessionRepository(db, zap.NewNop())
	ctx := context.Background()
	cpID := uuid.New().String()
	start := time.Now().UTC().Truncate(time.Millisecond)

	// Arrange
	s := &domain.ChargeSession{
		ID:            uuid.New().String(),
		ChargePointID: cpID,
		ConnectorID:   1,
		AuthID:        "TAG-1",
		Created:       start,
	}

	// Act
	id, err := repo.Save(ctx, s)
	require.NoError(t, err)
	saved, err := repo.Get(ctx, id)
	require.NoError(t, err)

	// Assert
	require.NotNil(t, saved)
	assert.Greater(t, saved.TransactionID, 0, "transaction ID should come from the sequence")

	open, err := repo.GetIncompleteSessionForConnector(ctx, cpID, 1)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, id, open.ID)

	byTx, err := repo.GetIncompleteSessionForTransaction(ctx, cpID, saved.TransactionID)
	require.NoError(t, err)
	require.NotNil(t, byTx)

	ended := start.Add(time.Hour)
	saved.Ended = &ended
	saved.EndReason = domain.ChargeSessionEndReasonLocal
	saved.Posted = &ended
	_, err = repo.Save(ctx, saved)
	require.NoError(t, err)

	open, err = repo.GetIncompleteSessionForConnector(ctx, cpID, 1)
	require.NoError(t, err)
	assert.Nil(t, open)

	again, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, saved.TransactionID, again.TransactionID, "update must keep the transaction ID")
}

func TestChargeSessionRepository_OneIncompleteSessionPerConnector(t *testing.T) {
	db, _ := setupDatabase(t)
	repo := NewChargeSessionRepository(db, zap.NewNop())
	ctx := context.Background()
	cpID := uuid.New().String()

	first := &domain.ChargeSession{ID: uuid.New().String(), ChargePointID: cpID, ConnectorID: 1, AuthID: "A", Created: time.Now().UTC()}
	second := &domain.ChargeSession{ID: uuid.New().String(), ChargePointID: cpID, ConnectorID: 1, AuthID: "B", Created: time.Now().UTC()}

	_, err := repo.Save(ctx, first)
	require.NoError(t, err)
	_, err = repo.Save(ctx, second)
	assert.ErrorIs(t, err, domain.ErrConnectorInUse, "partial unique index should reject a second open session")
}

func TestChargeSessionRepository_Readings(t *testing.T) {
	db, _ := setupDatabase(t)
	repo := NewChargeSessionRepository(db, zap.NewNop())
	ctx := context.Background()
	sessionID := uuid.New().String()
	t0 := time.Now().UTC().Truncate(time.Second)

	readings := []domain.SampledReading{
		{SessionID: sessionID, Timestamp: t0.Add(time.Minute), Measurand: domain.MeasurandEnergyActiveImportRegister, Location: domain.LocationOutlet, Unit: domain.UnitWh, Value: "200"},
		{SessionID: sessionID, Timestamp: t0, Measurand: domain.MeasurandEnergyActiveImportRegister, Location: domain.LocationOutlet, Unit: domain.UnitWh, Value: "100"},
	}

	require.NoError(t, repo.AddReadings(ctx, readings))
	got, err := repo.FindReadingsForSession(ctx, sessionID)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "100", got[0].Value)
	assert.Equal(t, "200", got[1].Value)
}

func TestDatumRepository_Store(t *testing.T) {
	db, _ := setupDatabase(t)
	repo := NewDatumRepository(db, zap.NewNop()).(*DatumRepository)
	ctx := context.Background()
	created := time.Now().UTC().Truncate(time.Millisecond)
	source := "/protocol/cp/" + uuid.New().String() + "/1/Outlet"

	d := &domain.Datum{
		Created:      created,
		SourceID:     source,
		Accumulating: map[string]float64{"wattHours": 1234},
		Status:       map[string]any{"sessionId": "s-1"},
	}

	id, err := repo.Store(ctx, d)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Empty(t, d.ID, "store must not modify the shared datum")

	found, err := repo.FindBySource(ctx, source, created.Add(-time.Second), created.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, 1234.0, found[0].Accumulating["wattHours"])
	assert.Equal(t, "s-1", found[0].Status["sessionId"])
}

func TestChargePointStatusRepository_Upsert(t *testing.T) {
	db, _ := setupDatabase(t)
	repo := NewChargePointStatusRepository(db, zap.NewNop())
	ctx := context.Background()
	identifier := "CP-" + uuid.New().String()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, repo.UpdateConnectionStatus(ctx, "owner-1", identifier, "node-a", "", now, true))
	require.NoError(t, repo.UpdateConnectionStatus(ctx, "owner-1", identifier, "node-b", "", now.Add(time.Second), false))

	got, err := repo.Get(ctx, "owner-1", identifier)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Connected)
	assert.Equal(t, "node-b", got.ConnectedTo)
}

func TestChargePointRepository_FindByIdentity(t *testing.T) {
	db, _ := setupDatabase(t)
	repo := NewChargePointRepository(db, zap.NewNop())
	ctx := context.Background()
	identifier := "CP-" + uuid.New().String()

	cp := &domain.ChargePoint{ID: uuid.New().String(), OwnerID: "owner-1", Identifier: identifier, Enabled: true}
	require.NoError(t, repo.Save(ctx, cp))

	got, err := repo.FindByIdentity(ctx, domain.ChargePointIdentity{OwnerID: "owner-1", Identifier: identifier})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cp.ID, got.ID)

	missing, err := repo.FindByIdentity(ctx, domain.ChargePointIdentity{OwnerID: "owner-2", Identifier: identifier})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRunMigrations_CreatesPartialIndex(t *testing.T) {
	_, dsn := setupDatabase(t)

	raw, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer raw.Close()

	var def string
	err = raw.QueryRow(`SELECT indexdef FROM pg_indexes WHERE indexname = 'idx_charge_sessions_incomplete'`).Scan(&def)
	require.NoError(t, err)
	assert.Contains(t, def, "WHERE (ended IS NULL)")
}
