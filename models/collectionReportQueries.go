package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type MachineTotal struct {
	MachineId        int             `json:"machine_id"`
	CollectionsCount int64           `json:"collections_count"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
}

type DateTotal struct {
	Day              string          `json:"day"`
	CollectionsCount int64           `json:"collections_count"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
}

type OperatorTotal struct {
	OperatorId       int             `json:"operator_id"`
	CollectionsCount int64           `json:"collections_count"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
}

type statusCount struct {
	Status CollectionStatus
	Count  int64
}

// ReportRepository runs the report aggregates. Ranges are absolute instants
// over collected_at, both ends inclusive.
type ReportRepository struct {
	db       *gorm.DB
	tzOffset string
}

// NewReportRepository groups days in loc, which must be a fixed-offset zone.
func NewReportRepository(db *gorm.DB, loc *time.Location) *ReportRepository {
	return &ReportRepository{db: db, tzOffset: mysqlOffset(loc)}
}

// mysqlOffset renders loc as the "+05:00" form CONVERT_TZ accepts.
func mysqlOffset(loc *time.Location) string {
	_, offset := time.Now().In(loc).Zone()
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	return fmt.Sprintf("%s%02d:%02d", sign, offset/3600, (offset%3600)/60)
}

func (r *ReportRepository) inRange(ctx context.Context, from time.Time, to time.Time) *gorm.DB {
	return r.db.WithContext(ctx).Model(&Collection{}).
		Where("collected_at BETWEEN ? AND ?", from.UTC(), to.UTC())
}

func (r *ReportRepository) CountCollectionsByStatus(ctx context.Context, from time.Time, to time.Time) (map[CollectionStatus]int64, error) {
	var rows []statusCount
	err := r.inRange(ctx, from, to).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, utils.NewStoreError("count collections by status", err)
	}

	counts := make(map[CollectionStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *ReportRepository) SumReceivedAmount(ctx context.Context, from time.Time, to time.Time) (decimal.Decimal, error) {
	var result aggregateTotal
	err := r.inRange(ctx, from, to).
		Select("SUM(amount) AS total").
		Where("status = ?", CollectionStatusReceived).
		Scan(&result).Error
	if err != nil {
		return decimal.Zero, utils.NewStoreError("sum received amount", err)
	}
	return utils.NullToZero(result.Total), nil
}

func (r *ReportRepository) GetReceivedByMachine(ctx context.Context, from time.Time, to time.Time) ([]*MachineTotal, error) {
	var rows []*MachineTotal
	err := r.inRange(ctx, from, to).
		Select("machine_id, COUNT(*) AS collections_count, SUM(amount) AS total_amount").
		Where("status = ?", CollectionStatusReceived).
		Group("machine_id").
		Order("total_amount DESC, machine_id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, utils.NewStoreError("aggregate by machine", err)
	}
	return rows, nil
}

func (r *ReportRepository) GetReceivedByDate(ctx context.Context, from time.Time, to time.Time) ([]*DateTotal, error) {
	var rows []*DateTotal
	err := r.inRange(ctx, from, to).
		Select("DATE_FORMAT(CONVERT_TZ(collected_at, '+00:00', ?), '%Y-%m-%d') AS day, COUNT(*) AS collections_count, SUM(amount) AS total_amount", r.tzOffset).
		Where("status = ?", CollectionStatusReceived).
		Group("day").
		Order("day ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, utils.NewStoreError("aggregate by date", err)
	}
	return rows, nil
}

func (r *ReportRepository) GetReceivedByOperator(ctx context.Context, from time.Time, to time.Time) ([]*OperatorTotal, error) {
	var rows []*OperatorTotal
	err := r.inRange(ctx, from, to).
		Select("operator_id, COUNT(*) AS collections_count, SUM(amount) AS total_amount").
		Where("status = ?", CollectionStatusReceived).
		Group("operator_id").
		Order("total_amount DESC, operator_id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, utils.NewStoreError("aggregate by operator", err)
	}
	return rows, nil
}
