package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/collections_backend/models"
	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"github.com/sirupsen/logrus"
)

// BulkCancelSelector targets either explicit ids or every non-cancelled row matching Filter.
// Ids win when both are set.
type BulkCancelSelector struct {
	Ids    []int                    `json:"ids"`
	Filter *models.CollectionFilter `json:"filter"`
}

type BulkCancelFailure struct {
	Id    int    `json:"id"`
	Error string `json:"error"`
}

type BulkCancelResult struct {
	Cancelled int                 `json:"cancelled"`
	Failed    int                 `json:"failed"`
	Failures  []BulkCancelFailure `json:"failures"`
	Total     int                 `json:"total"`
}

func (r *BulkCancelResult) recordSuccess() {
	r.Cancelled++
}

func (r *BulkCancelResult) recordFailure(id int, err error) {
	r.Failed++
	r.Failures = append(r.Failures, BulkCancelFailure{Id: id, Error: err.Error()})
}

// BulkCancel attempts every target one after another. A failed item is
// recorded in the result and never stops or undoes the others.
func (w *CollectionWorkflow) BulkCancel(ctx context.Context, selector BulkCancelSelector, reason *string) (*BulkCancelResult, error) {
	if _, err := w.cancelReason(reason); err != nil {
		return nil, err
	}
	ids, err := w.resolveTargets(ctx, selector)
	if err != nil {
		return nil, err
	}

	result := &BulkCancelResult{Failures: []BulkCancelFailure{}, Total: len(ids)}
	for _, id := range ids {
		if _, err := w.Cancel(ctx, id, reason); err != nil {
			w.logger.WithFields(logrus.Fields{
				"module":        "CollectionWorkflow",
				"funcName":      "BulkCancel",
				"collection_id": id,
			}).Warn("bulk cancel item failed: " + err.Error())
			result.recordFailure(id, err)
			continue
		}
		result.recordSuccess()
	}

	w.logger.WithFields(logrus.Fields{
		"module":    "CollectionWorkflow",
		"funcName":  "BulkCancel",
		"total":     result.Total,
		"cancelled": result.Cancelled,
		"failed":    result.Failed,
	}).Info("bulk cancel finished")
	return result, nil
}

func (w *CollectionWorkflow) resolveTargets(ctx context.Context, selector BulkCancelSelector) ([]int, error) {
	if len(selector.Ids) > 0 {
		return utils.UniqueSlice(selector.Ids), nil
	}
	if selector.Filter == nil || selector.Filter.IsEmpty() {
		return nil, utils.NewValidationError("bulk cancel needs ids or at least one filter criterion")
	}
	if selector.Filter.Status != nil && *selector.Filter.Status == models.CollectionStatusCancelled {
		return []int{}, nil
	}
	return w.store.FindCancellableIds(ctx, *selector.Filter)
}
