package models_test

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/config"
	"bitbucket.org/mmdatafocus/collections_backend/models"
	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// openTestDB connects to the MySQL in MYSQL_DSN and empties the tables.
// The database must be disposable.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 and MYSQL_DSN to run integration tests")
	}
	dsn := strings.TrimSpace(os.Getenv("MYSQL_DSN"))
	if dsn == "" {
		t.Skip("MYSQL_DSN is required for integration tests")
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	db, err := config.OpenDatabase(dsn, logger)
	require.NoError(t, err)
	require.NoError(t, models.MigrateTable(db))

	for _, table := range []string{"collection_request_keys", "collection_histories", "collections", "bank_deposits"} {
		require.NoError(t, db.Exec("DELETE FROM "+table).Error)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestCollectionRepository_GuardedTransition(t *testing.T) {
	db := openTestDB(t)
	ctx := utils.SetIdentityInContext(context.Background(), 2, "Manager", utils.RoleManager)
	repo := models.NewCollectionRepository(db)

	c := &models.Collection{
		MachineId:   5,
		OperatorId:  1,
		CollectedAt: time.Now().UTC().Truncate(time.Second),
		Status:      models.CollectionStatusCollected,
		Source:      models.CollectionSourceRealtime,
	}
	created := models.NewHistoryRow(ctx, 0, models.HistoryActionCreate, models.HistoryFieldStatus, nil, nil, nil)
	require.NoError(t, repo.CreateCollection(ctx, c, "", []*models.CollectionHistory{created}))
	require.NotZero(t, c.ID)

	updates := map[string]interface{}{
		"status": models.CollectionStatusReceived,
		"amount": decimal.NewNullDecimal(decimal.RequireFromString("250.75")),
	}
	receive := models.NewHistoryRow(ctx, c.ID, models.HistoryActionReceive, models.HistoryFieldAmount, nil, utils.NewString("250.75"), nil)
	require.NoError(t, repo.SaveTransition(ctx, c.ID, models.CollectionStatusCollected, updates, []*models.CollectionHistory{receive}))

	// second attempt from the stale status must not match
	again := models.NewHistoryRow(ctx, c.ID, models.HistoryActionReceive, models.HistoryFieldAmount, nil, utils.NewString("1.00"), nil)
	err := repo.SaveTransition(ctx, c.ID, models.CollectionStatusCollected, updates, []*models.CollectionHistory{again})
	assert.ErrorIs(t, err, utils.ErrorInvalidState)

	histories, err := repo.GetCollectionHistories(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, histories, 2)

	stored, err := repo.GetCollection(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "250.75", stored.Amount.Decimal.StringFixed(2))

	_, err = repo.GetCollection(ctx, c.ID+1000)
	assert.ErrorIs(t, err, utils.ErrorRecordNotFound)
}

func TestBalanceRepository_SnapshotSums(t *testing.T) {
	db := openTestDB(t)
	ctx := utils.SetIdentityInContext(context.Background(), 1, "Admin", utils.RoleAdmin)

	require.NoError(t, db.Create(&models.Collection{
		MachineId: 1, OperatorId: 1, CollectedAt: time.Now().UTC(),
		Status: models.CollectionStatusReceived, Source: models.CollectionSourceRealtime,
		Amount: decimal.NewNullDecimal(decimal.NewFromInt(2000)),
	}).Error)
	require.NoError(t, db.Create(&models.Collection{
		MachineId: 1, OperatorId: 1, CollectedAt: time.Now().UTC(),
		Status: models.CollectionStatusCancelled, Source: models.CollectionSourceRealtime,
		Amount: decimal.NewNullDecimal(decimal.NewFromInt(999)),
	}).Error)

	deposits := models.NewDepositRepository(db, decimal.NewFromInt(100000000), 1000)
	_, err := deposits.CreateDeposit(ctx, &models.NewBankDeposit{Amount: decimal.NewFromInt(5000), DepositDate: time.Now()})
	require.NoError(t, err)

	snapshot, err := models.NewBalanceRepository(db).BeginSnapshot(ctx)
	require.NoError(t, err)
	defer snapshot.Release()

	received, err := snapshot.SumReceivedCollections(ctx)
	require.NoError(t, err)
	deposited, err := snapshot.SumDeposits(ctx)
	require.NoError(t, err)
	require.NoError(t, snapshot.Commit())

	assert.Equal(t, "2000.00", received.StringFixed(2))
	assert.Equal(t, "5000.00", deposited.StringFixed(2))
}

func TestReportRepository_GroupsByLocalDay(t *testing.T) {
	db := openTestDB(t)
	loc := time.FixedZone("UTC+5", 5*3600)
	ctx := context.Background()

	// 20:00 UTC on the 9th is already the 10th in UTC+5.
	for _, at := range []time.Time{
		time.Date(2024, 3, 9, 20, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC),
	} {
		require.NoError(t, db.Create(&models.Collection{
			MachineId: 3, OperatorId: 4, CollectedAt: at,
			Status: models.CollectionStatusReceived, Source: models.CollectionSourceRealtime,
			Amount: decimal.NewNullDecimal(decimal.NewFromInt(10)),
		}).Error)
	}

	repo := models.NewReportRepository(db, loc)
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, loc)
	to := time.Date(2024, 3, 31, 23, 59, 59, 999000000, loc)

	days, err := repo.GetReceivedByDate(ctx, from, to)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, "2024-03-10", days[0].Day)
	assert.Equal(t, int64(2), days[0].CollectionsCount)

	counts, err := repo.CountCollectionsByStatus(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.CollectionStatusReceived])
}

func TestReportRepository_GroupingsCountReceivedOnly(t *testing.T) {
	db := openTestDB(t)
	loc := time.FixedZone("UTC+5", 5*3600)
	ctx := context.Background()
	at := time.Date(2024, 4, 2, 6, 0, 0, 0, time.UTC)

	seed := []models.Collection{
		{MachineId: 1, OperatorId: 10, Status: models.CollectionStatusReceived, Amount: decimal.NewNullDecimal(decimal.NewFromInt(100))},
		{MachineId: 1, OperatorId: 10, Status: models.CollectionStatusReceived, Amount: decimal.NewNullDecimal(decimal.RequireFromString("50.25"))},
		{MachineId: 1, OperatorId: 10, Status: models.CollectionStatusCancelled, Amount: decimal.NewNullDecimal(decimal.NewFromInt(999))},
		{MachineId: 2, OperatorId: 20, Status: models.CollectionStatusCollected},
		{MachineId: 2, OperatorId: 20, Status: models.CollectionStatusCancelled, Amount: decimal.NewNullDecimal(decimal.NewFromInt(70))},
	}
	for i := range seed {
		seed[i].CollectedAt = at
		seed[i].Source = models.CollectionSourceRealtime
		require.NoError(t, db.Create(&seed[i]).Error)
	}

	repo := models.NewReportRepository(db, loc)
	from := time.Date(2024, 4, 1, 0, 0, 0, 0, loc)
	to := time.Date(2024, 4, 30, 23, 59, 59, 999000000, loc)

	machines, err := repo.GetReceivedByMachine(ctx, from, to)
	require.NoError(t, err)
	require.Len(t, machines, 1)
	assert.Equal(t, 1, machines[0].MachineId)
	assert.Equal(t, int64(2), machines[0].CollectionsCount)
	assert.Equal(t, "150.25", machines[0].TotalAmount.StringFixed(2))

	operators, err := repo.GetReceivedByOperator(ctx, from, to)
	require.NoError(t, err)
	require.Len(t, operators, 1)
	assert.Equal(t, 10, operators[0].OperatorId)
	assert.Equal(t, int64(2), operators[0].CollectionsCount)
	assert.Equal(t, "150.25", operators[0].TotalAmount.StringFixed(2))

	days, err := repo.GetReceivedByDate(ctx, from, to)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, int64(2), days[0].CollectionsCount)

	total, err := repo.SumReceivedAmount(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, "150.25", total.StringFixed(2))
}
