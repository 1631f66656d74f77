package reports

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/config"
	"bitbucket.org/mmdatafocus/collections_backend/models"
	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSnapshot struct {
	received    decimal.Decimal
	deposited   decimal.Decimal
	receivedErr error
	depositErr  error
	commitErr   error
	rollbackErr error

	committed  bool
	rolledBack bool
	released   int
}

func (s *fakeSnapshot) SumReceivedCollections(ctx context.Context) (decimal.Decimal, error) {
	return s.received, s.receivedErr
}

func (s *fakeSnapshot) SumDeposits(ctx context.Context) (decimal.Decimal, error) {
	return s.deposited, s.depositErr
}

func (s *fakeSnapshot) Commit() error {
	s.committed = true
	return s.commitErr
}

func (s *fakeSnapshot) Rollback() error {
	s.rolledBack = true
	return s.rollbackErr
}

func (s *fakeSnapshot) Release() {
	s.released++
}

type fakeSnapshotSource struct {
	snapshot *fakeSnapshot
	beginErr error
}

func (f *fakeSnapshotSource) BeginSnapshot(ctx context.Context) (models.BalanceSnapshot, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return f.snapshot, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testSettings() config.Settings {
	return config.Settings{
		ReportTimezoneOffsetHours: 5,
		RangeReportTTL:            60 * time.Second,
		TodayReportTTL:            30 * time.Second,
		ReportSlowThreshold:       time.Hour,
	}
}

func newBalance(snapshot *fakeSnapshot) *BalanceReport {
	return NewBalanceReport(&fakeSnapshotSource{snapshot: snapshot}, quietLogger(), testSettings())
}

func TestGetBalance_EmptyStoreIsZero(t *testing.T) {
	snapshot := &fakeSnapshot{}
	resp, err := newBalance(snapshot).GetBalance(context.Background())
	require.NoError(t, err)

	assert.True(t, resp.TotalReceived.IsZero())
	assert.True(t, resp.TotalDeposited.IsZero())
	assert.True(t, resp.Balance.IsZero())
	assert.True(t, snapshot.committed)
	assert.Equal(t, 1, snapshot.released)
}

func TestGetBalance_CanGoNegative(t *testing.T) {
	snapshot := &fakeSnapshot{
		received:  decimal.NewFromInt(2000),
		deposited: decimal.NewFromInt(5000),
	}
	resp, err := newBalance(snapshot).GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "-3000.00", resp.Balance.StringFixed(2))
}

func TestGetBalance_RoundsEachTotalBeforeSubtracting(t *testing.T) {
	snapshot := &fakeSnapshot{
		received:  decimal.RequireFromString("100.555"),
		deposited: decimal.RequireFromString("50.444"),
	}
	resp, err := newBalance(snapshot).GetBalance(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "100.56", resp.TotalReceived.StringFixed(2))
	assert.Equal(t, "50.44", resp.TotalDeposited.StringFixed(2))
	assert.Equal(t, "50.12", resp.Balance.StringFixed(2))
	assert.True(t, resp.Balance.Equal(resp.TotalReceived.Sub(resp.TotalDeposited)))
}

func TestGetBalance_ReadFailureRollsBack(t *testing.T) {
	readErr := errors.New("connection reset")
	snapshot := &fakeSnapshot{depositErr: readErr}

	_, err := newBalance(snapshot).GetBalance(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrorStore)
	assert.ErrorIs(t, err, readErr)
	assert.True(t, snapshot.rolledBack)
	assert.False(t, snapshot.committed)
	assert.Equal(t, 1, snapshot.released)
}

func TestGetBalance_RollbackFailureSurfaces(t *testing.T) {
	readErr := errors.New("lock wait timeout")
	rbErr := errors.New("bad connection")
	snapshot := &fakeSnapshot{receivedErr: readErr, rollbackErr: rbErr}

	_, err := newBalance(snapshot).GetBalance(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrorConcurrency)
	assert.ErrorIs(t, err, rbErr)
	assert.Equal(t, 1, snapshot.released)
}

func TestGetBalance_CommitFailureIsConcurrencyError(t *testing.T) {
	snapshot := &fakeSnapshot{commitErr: errors.New("serialization failure")}

	_, err := newBalance(snapshot).GetBalance(context.Background())
	assert.ErrorIs(t, err, utils.ErrorConcurrency)
	assert.Equal(t, 1, snapshot.released)
}

func TestGetBalance_BeginFailure(t *testing.T) {
	report := NewBalanceReport(&fakeSnapshotSource{beginErr: errors.New("too many connections")}, quietLogger(), testSettings())

	_, err := report.GetBalance(context.Background())
	assert.ErrorIs(t, err, utils.ErrorStore)
}

func TestGetBalance_LogsReadAndRollbackErrors(t *testing.T) {
	logger, hook := test.NewNullLogger()
	readErr := errors.New("lock wait timeout")
	rbErr := errors.New("bad connection")
	snapshot := &fakeSnapshot{receivedErr: readErr, rollbackErr: rbErr}
	report := NewBalanceReport(&fakeSnapshotSource{snapshot: snapshot}, logger, testSettings())

	_, err := report.GetBalance(context.Background())
	require.Error(t, err)

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, logrus.ErrorLevel, entries[0].Level)
	assert.Equal(t, "lock wait timeout", entries[0].Message)
	assert.Equal(t, "sum received collections", entries[0].Data["context"])
	assert.Equal(t, "bad connection", entries[1].Message)
	assert.Equal(t, "roll back balance snapshot", entries[1].Data["context"])
}

func TestGetBalance_LogsReadErrorWhenRollbackSucceeds(t *testing.T) {
	logger, hook := test.NewNullLogger()
	snapshot := &fakeSnapshot{depositErr: errors.New("connection reset")}
	report := NewBalanceReport(&fakeSnapshotSource{snapshot: snapshot}, logger, testSettings())

	_, err := report.GetBalance(context.Background())
	assert.ErrorIs(t, err, utils.ErrorStore)

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "connection reset", hook.LastEntry().Message)
	assert.Equal(t, "BalanceReport", hook.LastEntry().Data["module"])
	assert.Equal(t, "sum bank deposits", hook.LastEntry().Data["context"])
}
