package reports

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/config"
	"bitbucket.org/mmdatafocus/collections_backend/models"
	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type SnapshotSource interface {
	BeginSnapshot(ctx context.Context) (models.BalanceSnapshot, error)
}

type BalanceResponse struct {
	TotalReceived  decimal.Decimal `json:"total_received"`
	TotalDeposited decimal.Decimal `json:"total_deposited"`
	Balance        decimal.Decimal `json:"balance"`
}

// BalanceReport computes cash on hand. It is never cached.
type BalanceReport struct {
	source        SnapshotSource
	logger        *logrus.Logger
	slowThreshold time.Duration
}

func NewBalanceReport(source SnapshotSource, logger *logrus.Logger, settings config.Settings) *BalanceReport {
	return &BalanceReport{
		source:        source,
		logger:        logger,
		slowThreshold: settings.ReportSlowThreshold,
	}
}

// GetBalance reads both totals inside one snapshot so a deposit committed
// between the two reads cannot skew the result.
func (b *BalanceReport) GetBalance(ctx context.Context) (_ *BalanceResponse, err error) {
	ctx, span := tracer.Start(ctx, "reports.GetBalance")
	defer func() { endSpan(span, err) }()
	started := time.Now()

	snapshot, err := b.source.BeginSnapshot(ctx)
	if err != nil {
		return nil, utils.NewStoreError("begin balance snapshot", err)
	}
	defer snapshot.Release()

	received, err := snapshot.SumReceivedCollections(ctx)
	if err != nil {
		return nil, b.abort(snapshot, "sum received collections", err)
	}
	deposited, err := snapshot.SumDeposits(ctx)
	if err != nil {
		return nil, b.abort(snapshot, "sum bank deposits", err)
	}
	if err := snapshot.Commit(); err != nil {
		return nil, utils.NewConcurrencyError("commit balance snapshot", err)
	}

	received = utils.RoundMoney(received)
	deposited = utils.RoundMoney(deposited)
	logSlowReport(ctx, b.logger, b.slowThreshold, "balance", started, nil)

	return &BalanceResponse{
		TotalReceived:  received,
		TotalDeposited: deposited,
		Balance:        received.Sub(deposited),
	}, nil
}

// abort rolls back after a failed read. A rollback failure is the more
// serious condition and is returned in place of the read error.
func (b *BalanceReport) abort(snapshot models.BalanceSnapshot, step string, readErr error) error {
	config.LogError(b.logger, "BalanceReport", "GetBalance", step, nil, readErr)
	if rbErr := snapshot.Rollback(); rbErr != nil {
		config.LogError(b.logger, "BalanceReport", "GetBalance", "roll back balance snapshot", nil, rbErr)
		return utils.NewConcurrencyError("roll back balance snapshot", rbErr)
	}
	return utils.NewStoreError(step, readErr)
}
