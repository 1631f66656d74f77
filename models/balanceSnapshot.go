package models

import (
	"context"
	"database/sql"

	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BalanceSnapshot is a read-only transaction whose reads all observe one
// point-in-time view. Release must be called on every path; it is a no-op
// once Commit or Rollback has finished the transaction.
type BalanceSnapshot interface {
	SumReceivedCollections(ctx context.Context) (decimal.Decimal, error)
	SumDeposits(ctx context.Context) (decimal.Decimal, error)
	Commit() error
	Rollback() error
	Release()
}

type BalanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepository(db *gorm.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// BeginSnapshot starts a REPEATABLE READ transaction bound to ctx, so a
// cancelled request rolls it back inside database/sql.
func (r *BalanceRepository) BeginSnapshot(ctx context.Context) (BalanceSnapshot, error) {
	tx := r.db.WithContext(ctx).Begin(&sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &gormSnapshot{tx: tx}, nil
}

type gormSnapshot struct {
	tx   *gorm.DB
	done bool
}

func (s *gormSnapshot) SumReceivedCollections(ctx context.Context) (decimal.Decimal, error) {
	var result aggregateTotal
	err := s.tx.WithContext(ctx).Model(&Collection{}).
		Select("SUM(amount) AS total").
		Where("status = ?", CollectionStatusReceived).
		Scan(&result).Error
	if err != nil {
		return decimal.Zero, err
	}
	return utils.NullToZero(result.Total), nil
}

func (s *gormSnapshot) SumDeposits(ctx context.Context) (decimal.Decimal, error) {
	var result aggregateTotal
	err := s.tx.WithContext(ctx).Model(&BankDeposit{}).
		Select("SUM(amount) AS total").
		Scan(&result).Error
	if err != nil {
		return decimal.Zero, err
	}
	return utils.NullToZero(result.Total), nil
}

func (s *gormSnapshot) Commit() error {
	s.done = true
	return s.tx.Commit().Error
}

func (s *gormSnapshot) Rollback() error {
	s.done = true
	return s.tx.Rollback().Error
}

// Release returns the connection when neither Commit nor Rollback ran,
// e.g. after a panic between the two reads.
func (s *gormSnapshot) Release() {
	if s.done {
		return
	}
	s.done = true
	_ = s.tx.Rollback().Error
}

// aggregateTotal receives a nullable SUM; an empty aggregate scans as NULL.
type aggregateTotal struct {
	Total decimal.NullDecimal
}
