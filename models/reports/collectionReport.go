package reports

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/config"
	"bitbucket.org/mmdatafocus/collections_backend/models"
	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("bitbucket.org/mmdatafocus/collections_backend/models/reports")

const (
	reportSummary    = "summary"
	reportByMachine  = "by_machine"
	reportByDate     = "by_date"
	reportByOperator = "by_operator"
	reportToday      = "today_summary"
)

// ReportSource runs the aggregate queries; models.ReportRepository implements it.
type ReportSource interface {
	CountCollectionsByStatus(ctx context.Context, from time.Time, to time.Time) (map[models.CollectionStatus]int64, error)
	SumReceivedAmount(ctx context.Context, from time.Time, to time.Time) (decimal.Decimal, error)
	GetReceivedByMachine(ctx context.Context, from time.Time, to time.Time) ([]*models.MachineTotal, error)
	GetReceivedByDate(ctx context.Context, from time.Time, to time.Time) ([]*models.DateTotal, error)
	GetReceivedByOperator(ctx context.Context, from time.Time, to time.Time) ([]*models.OperatorTotal, error)
}

type CollectionSummaryResponse struct {
	From             string          `json:"from"`
	To               string          `json:"to"`
	TotalCollections int64           `json:"total_collections"`
	CollectedCount   int64           `json:"collected_count"`
	ReceivedCount    int64           `json:"received_count"`
	CancelledCount   int64           `json:"cancelled_count"`
	TotalReceived    decimal.Decimal `json:"total_received"`
	AverageReceived  decimal.Decimal `json:"average_received"`
}

type MachineReportRow struct {
	MachineId        int             `json:"machine_id"`
	CollectionsCount int64           `json:"collections_count"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	AverageAmount    decimal.Decimal `json:"average_amount"`
}

type MachineReportResponse struct {
	From string              `json:"from"`
	To   string              `json:"to"`
	Rows []*MachineReportRow `json:"rows"`
}

type DateReportRow struct {
	Day              string          `json:"day"`
	CollectionsCount int64           `json:"collections_count"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
}

type DateReportResponse struct {
	From string           `json:"from"`
	To   string           `json:"to"`
	Rows []*DateReportRow `json:"rows"`
}

type OperatorReportRow struct {
	OperatorId       int             `json:"operator_id"`
	CollectionsCount int64           `json:"collections_count"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	AverageAmount    decimal.Decimal `json:"average_amount"`
}

type OperatorReportResponse struct {
	From string               `json:"from"`
	To   string               `json:"to"`
	Rows []*OperatorReportRow `json:"rows"`
}

type PeriodSummary struct {
	ReceivedCount  int64           `json:"received_count"`
	ReceivedAmount decimal.Decimal `json:"received_amount"`
	PendingCount   int64           `json:"pending_count"`
}

type TodaySummaryResponse struct {
	Date        string        `json:"date"`
	Today       PeriodSummary `json:"today"`
	MonthToDate PeriodSummary `json:"month_to_date"`
}

// CollectionReport serves the cached collection reports. It owns the set of
// cache keys it has written; InvalidateCache clears exactly those.
type CollectionReport struct {
	source        ReportSource
	cache         *trackedCache
	logger        *logrus.Logger
	location      *time.Location
	rangeTTL      time.Duration
	todayTTL      time.Duration
	slowThreshold time.Duration
	now           func() time.Time
}

func NewCollectionReport(source ReportSource, cache Cache, logger *logrus.Logger, settings config.Settings) *CollectionReport {
	return &CollectionReport{
		source:        source,
		cache:         newTrackedCache(cache, logger),
		logger:        logger,
		location:      settings.ReportLocation(),
		rangeTTL:      settings.RangeReportTTL,
		todayTTL:      settings.TodayReportTTL,
		slowThreshold: settings.ReportSlowThreshold,
		now:           time.Now,
	}
}

// WithClock replaces the clock used to resolve default ranges and today.
func (r *CollectionReport) WithClock(now func() time.Time) *CollectionReport {
	r.now = now
	return r
}

func (r *CollectionReport) GetSummary(ctx context.Context, rng ReportRange) (_ *CollectionSummaryResponse, err error) {
	ctx, span := tracer.Start(ctx, "reports.GetSummary")
	defer func() { endSpan(span, err) }()

	resolved, err := resolveRange(rng, r.now(), r.location)
	if err != nil {
		return nil, err
	}
	key := resolved.cacheKey(reportSummary)
	result, hit, err := cached(ctx, r.cache, key, r.rangeTTL, func(ctx context.Context) (*CollectionSummaryResponse, error) {
		started := time.Now()
		counts, err := r.source.CountCollectionsByStatus(ctx, resolved.start, resolved.end)
		if err != nil {
			return nil, utils.NewStoreError("count collections by status", err)
		}
		total, err := r.source.SumReceivedAmount(ctx, resolved.start, resolved.end)
		if err != nil {
			return nil, utils.NewStoreError("sum received amount", err)
		}
		logSlowReport(ctx, r.logger, r.slowThreshold, reportSummary, started, map[string]any{"key": key})

		received := counts[models.CollectionStatusReceived]
		return &CollectionSummaryResponse{
			From:             resolved.fromDate(r.location),
			To:               resolved.toDate(r.location),
			TotalCollections: counts[models.CollectionStatusCollected] + received + counts[models.CollectionStatusCancelled],
			CollectedCount:   counts[models.CollectionStatusCollected],
			ReceivedCount:    received,
			CancelledCount:   counts[models.CollectionStatusCancelled],
			TotalReceived:    utils.RoundMoney(total),
			AverageReceived:  utils.SafeAverage(total, received),
		}, nil
	})
	span.SetAttributes(attribute.Bool("cache.hit", hit))
	return result, err
}

func (r *CollectionReport) GetByMachine(ctx context.Context, rng ReportRange) (_ *MachineReportResponse, err error) {
	ctx, span := tracer.Start(ctx, "reports.GetByMachine")
	defer func() { endSpan(span, err) }()

	resolved, err := resolveRange(rng, r.now(), r.location)
	if err != nil {
		return nil, err
	}
	key := resolved.cacheKey(reportByMachine)
	result, hit, err := cached(ctx, r.cache, key, r.rangeTTL, func(ctx context.Context) (*MachineReportResponse, error) {
		started := time.Now()
		totals, err := r.source.GetReceivedByMachine(ctx, resolved.start, resolved.end)
		if err != nil {
			return nil, utils.NewStoreError("sum received by machine", err)
		}
		logSlowReport(ctx, r.logger, r.slowThreshold, reportByMachine, started, map[string]any{"key": key, "rows": len(totals)})

		rows := make([]*MachineReportRow, 0, len(totals))
		for _, t := range totals {
			rows = append(rows, &MachineReportRow{
				MachineId:        t.MachineId,
				CollectionsCount: t.CollectionsCount,
				TotalAmount:      utils.RoundMoney(t.TotalAmount),
				AverageAmount:    utils.SafeAverage(t.TotalAmount, t.CollectionsCount),
			})
		}
		return &MachineReportResponse{
			From: resolved.fromDate(r.location),
			To:   resolved.toDate(r.location),
			Rows: rows,
		}, nil
	})
	span.SetAttributes(attribute.Bool("cache.hit", hit))
	return result, err
}

func (r *CollectionReport) GetByDate(ctx context.Context, rng ReportRange) (_ *DateReportResponse, err error) {
	ctx, span := tracer.Start(ctx, "reports.GetByDate")
	defer func() { endSpan(span, err) }()

	resolved, err := resolveRange(rng, r.now(), r.location)
	if err != nil {
		return nil, err
	}
	key := resolved.cacheKey(reportByDate)
	result, hit, err := cached(ctx, r.cache, key, r.rangeTTL, func(ctx context.Context) (*DateReportResponse, error) {
		started := time.Now()
		totals, err := r.source.GetReceivedByDate(ctx, resolved.start, resolved.end)
		if err != nil {
			return nil, utils.NewStoreError("sum received by date", err)
		}
		logSlowReport(ctx, r.logger, r.slowThreshold, reportByDate, started, map[string]any{"key": key, "rows": len(totals)})

		rows := make([]*DateReportRow, 0, len(totals))
		for _, t := range totals {
			rows = append(rows, &DateReportRow{
				Day:              t.Day,
				CollectionsCount: t.CollectionsCount,
				TotalAmount:      utils.RoundMoney(t.TotalAmount),
			})
		}
		return &DateReportResponse{
			From: resolved.fromDate(r.location),
			To:   resolved.toDate(r.location),
			Rows: rows,
		}, nil
	})
	span.SetAttributes(attribute.Bool("cache.hit", hit))
	return result, err
}

func (r *CollectionReport) GetByOperator(ctx context.Context, rng ReportRange) (_ *OperatorReportResponse, err error) {
	ctx, span := tracer.Start(ctx, "reports.GetByOperator")
	defer func() { endSpan(span, err) }()

	resolved, err := resolveRange(rng, r.now(), r.location)
	if err != nil {
		return nil, err
	}
	key := resolved.cacheKey(reportByOperator)
	result, hit, err := cached(ctx, r.cache, key, r.rangeTTL, func(ctx context.Context) (*OperatorReportResponse, error) {
		started := time.Now()
		totals, err := r.source.GetReceivedByOperator(ctx, resolved.start, resolved.end)
		if err != nil {
			return nil, utils.NewStoreError("sum received by operator", err)
		}
		logSlowReport(ctx, r.logger, r.slowThreshold, reportByOperator, started, map[string]any{"key": key, "rows": len(totals)})

		rows := make([]*OperatorReportRow, 0, len(totals))
		for _, t := range totals {
			rows = append(rows, &OperatorReportRow{
				OperatorId:       t.OperatorId,
				CollectionsCount: t.CollectionsCount,
				TotalAmount:      utils.RoundMoney(t.TotalAmount),
				AverageAmount:    utils.SafeAverage(t.TotalAmount, t.CollectionsCount),
			})
		}
		return &OperatorReportResponse{
			From: resolved.fromDate(r.location),
			To:   resolved.toDate(r.location),
			Rows: rows,
		}, nil
	})
	span.SetAttributes(attribute.Bool("cache.hit", hit))
	return result, err
}

// GetTodaySummary reports the current local day and month to date. The key
// carries the local date so an entry never outlives its day.
func (r *CollectionReport) GetTodaySummary(ctx context.Context) (_ *TodaySummaryResponse, err error) {
	ctx, span := tracer.Start(ctx, "reports.GetTodaySummary")
	defer func() { endSpan(span, err) }()

	localNow := r.now().In(r.location)
	today := localNow.Format(dateLayout)
	dayStart := startOfDay(localNow)
	dayEnd := endOfDay(localNow)
	monthStart := time.Date(localNow.Year(), localNow.Month(), 1, 0, 0, 0, 0, r.location)

	key := "report:" + reportToday + ":" + today
	result, hit, err := cached(ctx, r.cache, key, r.todayTTL, func(ctx context.Context) (*TodaySummaryResponse, error) {
		started := time.Now()
		todayPeriod, err := r.periodSummary(ctx, dayStart, dayEnd)
		if err != nil {
			return nil, err
		}
		monthPeriod, err := r.periodSummary(ctx, monthStart, dayEnd)
		if err != nil {
			return nil, err
		}
		logSlowReport(ctx, r.logger, r.slowThreshold, reportToday, started, map[string]any{"key": key})

		return &TodaySummaryResponse{
			Date:        today,
			Today:       todayPeriod,
			MonthToDate: monthPeriod,
		}, nil
	})
	span.SetAttributes(attribute.Bool("cache.hit", hit))
	return result, err
}

func (r *CollectionReport) periodSummary(ctx context.Context, from time.Time, to time.Time) (PeriodSummary, error) {
	counts, err := r.source.CountCollectionsByStatus(ctx, from, to)
	if err != nil {
		return PeriodSummary{}, utils.NewStoreError("count collections by status", err)
	}
	amount, err := r.source.SumReceivedAmount(ctx, from, to)
	if err != nil {
		return PeriodSummary{}, utils.NewStoreError("sum received amount", err)
	}
	return PeriodSummary{
		ReceivedCount:  counts[models.CollectionStatusReceived],
		ReceivedAmount: utils.RoundMoney(amount),
		PendingCount:   counts[models.CollectionStatusCollected],
	}, nil
}

// InvalidateCache deletes every report entry this engine has written and
// returns how many keys were removed.
func (r *CollectionReport) InvalidateCache(ctx context.Context) (int, error) {
	deleted, err := r.cache.invalidate(ctx)
	if err != nil {
		config.LogError(r.logger, "CollectionReport", "InvalidateCache", "delete tracked keys", nil, err)
		return 0, err
	}
	if deleted > 0 {
		r.logger.WithFields(logrus.Fields{
			"module":  "CollectionReport",
			"deleted": deleted,
		}).Debug("report cache invalidated")
	}
	return deleted, nil
}

// TrackedKeys lists the cache keys currently tracked, sorted.
func (r *CollectionReport) TrackedKeys() []string {
	return r.cache.keys()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
