package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/models"
	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"bitbucket.org/mmdatafocus/collections_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type collectionService interface {
	Create(ctx context.Context, input *models.NewCollection) (*models.Collection, error)
	Get(ctx context.Context, id int) (*models.Collection, error)
	List(ctx context.Context, filter models.CollectionFilter, limit int, offset int) (*workflow.CollectionPage, error)
	History(ctx context.Context, id int) ([]*models.CollectionHistory, error)
	Receive(ctx context.Context, id int, amount decimal.Decimal, notes *string) (*models.Collection, error)
	Edit(ctx context.Context, id int, input workflow.EditCollectionInput) (*models.Collection, error)
	Cancel(ctx context.Context, id int, reason *string) (*models.Collection, error)
	BulkCancel(ctx context.Context, selector workflow.BulkCancelSelector, reason *string) (*workflow.BulkCancelResult, error)
}

const idempotencyKeyHeader = "Idempotency-Key"

type receiveRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Notes  *string          `json:"notes"`
}

type cancelRequest struct {
	Reason *string `json:"reason"`
}

type bulkCancelRequest struct {
	workflow.BulkCancelSelector
	Reason *string `json:"reason"`
}

func (app *application) createCollectionHandler(c *gin.Context) {
	var input models.NewCollection
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	if key := c.GetHeader(idempotencyKeyHeader); key != "" {
		input.RequestKey = key
	}
	collection, err := app.collections.Create(c.Request.Context(), &input)
	if err != nil {
		respondError(c, err)
		return
	}
	app.invalidateReports(c.Request.Context())
	c.JSON(http.StatusCreated, collection)
}

func (app *application) getCollectionHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	collection, err := app.collections.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, collection)
}

func (app *application) listCollectionsHandler(c *gin.Context) {
	filter, limit, offset, err := parseCollectionQuery(c)
	if err != nil {
		respondError(c, err)
		return
	}
	page, err := app.collections.List(c.Request.Context(), filter, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (app *application) collectionHistoryHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	histories, err := app.collections.History(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, histories)
}

func (app *application) receiveCollectionHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req receiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if req.Amount == nil {
		respondError(c, utils.NewValidationError("amount is required"))
		return
	}
	collection, err := app.collections.Receive(c.Request.Context(), id, *req.Amount, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	app.invalidateReports(c.Request.Context())
	c.JSON(http.StatusOK, collection)
}

func (app *application) editCollectionHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var input workflow.EditCollectionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBindError(c, err)
		return
	}
	collection, err := app.collections.Edit(c.Request.Context(), id, input)
	if err != nil {
		respondError(c, err)
		return
	}
	app.invalidateReports(c.Request.Context())
	c.JSON(http.StatusOK, collection)
}

func (app *application) cancelCollectionHandler(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondBindError(c, err)
		return
	}
	collection, err := app.collections.Cancel(c.Request.Context(), id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	app.invalidateReports(c.Request.Context())
	c.JSON(http.StatusOK, collection)
}

func (app *application) bulkCancelHandler(c *gin.Context) {
	var req bulkCancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	result, err := app.collections.BulkCancel(c.Request.Context(), req.BulkCancelSelector, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	if result.Cancelled > 0 {
		app.invalidateReports(c.Request.Context())
	}
	c.JSON(http.StatusOK, result)
}

// invalidateReports drops cached reports after a write. A failure only
// leaves entries to expire by TTL, so the write still succeeds.
func (app *application) invalidateReports(ctx context.Context) {
	if _, err := app.reports.InvalidateCache(ctx); err != nil {
		cid, _ := utils.GetCorrelationIdFromContext(ctx)
		app.logger.WithFields(logrus.Fields{
			"module":         "main",
			"correlation_id": cid,
		}).Warn("report cache invalidation failed: " + err.Error())
	}
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		respondError(c, utils.NewValidationError("id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func parseCollectionQuery(c *gin.Context) (models.CollectionFilter, int, int, error) {
	var filter models.CollectionFilter

	if v := strings.TrimSpace(c.Query("status")); v != "" {
		status := models.CollectionStatus(v)
		if !status.IsValid() {
			return filter, 0, 0, utils.NewValidationError("unknown status %q", v)
		}
		filter.Status = &status
	}
	if v := strings.TrimSpace(c.Query("source")); v != "" {
		source := models.CollectionSource(v)
		if !source.IsValid() {
			return filter, 0, 0, utils.NewValidationError("unknown source %q", v)
		}
		filter.Source = &source
	}

	var err error
	if filter.MachineId, err = queryInt(c, "machine_id"); err != nil {
		return filter, 0, 0, err
	}
	if filter.OperatorId, err = queryInt(c, "operator_id"); err != nil {
		return filter, 0, 0, err
	}
	if filter.From, err = queryTime(c, "from"); err != nil {
		return filter, 0, 0, err
	}
	if filter.To, err = queryTime(c, "to"); err != nil {
		return filter, 0, 0, err
	}

	limit, offset := 0, 0
	if v, err := queryInt(c, "limit"); err != nil {
		return filter, 0, 0, err
	} else if v != nil {
		limit = *v
	}
	if v, err := queryInt(c, "offset"); err != nil {
		return filter, 0, 0, err
	} else if v != nil {
		offset = *v
	}
	return filter, limit, offset, nil
}

func queryInt(c *gin.Context, name string) (*int, error) {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, utils.NewValidationError("%s must be an integer", name)
	}
	return &n, nil
}

func queryTime(c *gin.Context, name string) (*time.Time, error) {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, utils.NewValidationError("%s must be an RFC3339 timestamp", name)
	}
	return &t, nil
}
