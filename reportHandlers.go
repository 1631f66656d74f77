package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/models"
	"bitbucket.org/mmdatafocus/collections_backend/models/reports"
	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"github.com/gin-gonic/gin"
)

type depositService interface {
	CreateDeposit(ctx context.Context, input *models.NewBankDeposit) (*models.BankDeposit, error)
	GetDeposit(ctx context.Context, id int) (*models.BankDeposit, error)
	FindAllDeposits(ctx context.Context, filter models.DepositFilter) ([]*models.BankDeposit, error)
}

type balanceService interface {
	GetBalance(ctx context.Context) (*reports.BalanceResponse, error)
}

type reportService interface {
	GetSummary(ctx context.Context, rng reports.ReportRange) (*reports.CollectionSummaryResponse, error)
	GetByMachine(ctx context.Context, rng reports.ReportRange) (*reports.MachineReportResponse, error)
	GetByDate(ctx context.Context, rng reports.ReportRange) (*reports.DateReportResponse, error)
	GetByOperator(ctx context.Context, rng reports.ReportRange) (*reports.OperatorReportResponse, error)
	GetTodaySummary(ctx context.Context) (*reports.TodaySummaryResponse, error)
	InvalidateCache(ctx context.Context) (int, error)
}

func (app *application) balanceHandler(c *gin.Context) {
	balance, err := app.balance.GetBalance(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

func (app *application) createDepositHandler(c *gin.Context) {
	var input models.NewBankDeposit
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	deposit, err := app.deposits.CreateDeposit(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, deposit)
}

func (app *application) getDepositHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	deposit, err := app.deposits.GetDeposit(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, deposit)
}

func (app *application) listDepositsHandler(c *gin.Context) {
	var filter models.DepositFilter
	var err error
	if filter.From, err = queryTime(c, "from"); err != nil {
		respondError(c, err)
		return
	}
	if filter.To, err = queryTime(c, "to"); err != nil {
		respondError(c, err)
		return
	}
	deposits, err := app.deposits.FindAllDeposits(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, deposits)
}

func (app *application) summaryReportHandler(c *gin.Context) {
	respond(c, func(ctx context.Context) (any, error) {
		return app.reports.GetSummary(ctx, reportRange(c))
	})
}

func (app *application) machineReportHandler(c *gin.Context) {
	respond(c, func(ctx context.Context) (any, error) {
		return app.reports.GetByMachine(ctx, reportRange(c))
	})
}

func (app *application) dateReportHandler(c *gin.Context) {
	respond(c, func(ctx context.Context) (any, error) {
		return app.reports.GetByDate(ctx, reportRange(c))
	})
}

func (app *application) operatorReportHandler(c *gin.Context) {
	respond(c, func(ctx context.Context) (any, error) {
		return app.reports.GetByOperator(ctx, reportRange(c))
	})
}

func (app *application) todayReportHandler(c *gin.Context) {
	respond(c, func(ctx context.Context) (any, error) {
		return app.reports.GetTodaySummary(ctx)
	})
}

func (app *application) invalidateReportCacheHandler(c *gin.Context) {
	started := time.Now()
	deleted, err := app.reports.InvalidateCache(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	userId, _ := utils.GetUserIdFromContext(c.Request.Context())
	app.logger.WithField("user_id", userId).
		WithField("deleted", deleted).
		WithField("ms", time.Since(started).Milliseconds()).
		Info("report cache invalidated on request")
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func respond(c *gin.Context, run func(ctx context.Context) (any, error)) {
	result, err := run(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func reportRange(c *gin.Context) reports.ReportRange {
	var rng reports.ReportRange
	if v := strings.TrimSpace(c.Query("from")); v != "" {
		rng.From = &v
	}
	if v := strings.TrimSpace(c.Query("to")); v != "" {
		rng.To = &v
	}
	return rng
}
