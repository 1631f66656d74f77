package workflow

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"bitbucket.org/mmdatafocus/collections_backend/config"
	"bitbucket.org/mmdatafocus/collections_backend/models"
	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// collectedAt may run slightly ahead of the server clock on field devices.
const maxClockSkew = 5 * time.Minute

const maxRequestKeyLength = 100

// CollectionStore is the persistence the lifecycle needs; models.CollectionRepository implements it.
type CollectionStore interface {
	CreateCollection(ctx context.Context, collection *models.Collection, requestKey string, histories []*models.CollectionHistory) error
	FindCollectionByRequestKey(ctx context.Context, key string) (*models.Collection, error)
	GetCollection(ctx context.Context, id int) (*models.Collection, error)
	FindCollections(ctx context.Context, filter models.CollectionFilter, limit int, offset int) ([]*models.Collection, int64, error)
	FindCancellableIds(ctx context.Context, filter models.CollectionFilter) ([]int, error)
	SaveTransition(ctx context.Context, id int, fromStatus models.CollectionStatus, updates map[string]interface{}, histories []*models.CollectionHistory) error
	GetCollectionHistories(ctx context.Context, collectionId int) ([]*models.CollectionHistory, error)
}

type CollectionLimits struct {
	MaxAmount       decimal.Decimal
	ReasonMaxLength int
	NotesMaxLength  int
}

func LimitsFromSettings(s config.Settings) CollectionLimits {
	return CollectionLimits{
		MaxAmount:       s.CollectionMaxAmount,
		ReasonMaxLength: s.ReasonMaxLength,
		NotesMaxLength:  s.NotesMaxLength,
	}
}

// CollectionWorkflow owns the collection state machine:
//
//	collected -> received -> received (edit)
//	collected -> cancelled
//	received  -> cancelled
//
// cancelled is terminal.
type CollectionWorkflow struct {
	store  CollectionStore
	limits CollectionLimits
	logger *logrus.Logger
	now    func() time.Time
}

func NewCollectionWorkflow(store CollectionStore, limits CollectionLimits, logger *logrus.Logger) *CollectionWorkflow {
	return &CollectionWorkflow{
		store:  store,
		limits: limits,
		logger: logger,
		now:    time.Now,
	}
}

type EditCollectionInput struct {
	Amount *decimal.Decimal `json:"amount"`
	Notes  *string          `json:"notes"`
	Reason string           `json:"reason"`
}

type CollectionPage struct {
	Items  []*models.Collection `json:"items"`
	Total  int64                `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// Create is the single creation contract for realtime capture, manual entry and imports.
// A repeated RequestKey returns the collection the first request created.
func (w *CollectionWorkflow) Create(ctx context.Context, input *models.NewCollection) (*models.Collection, error) {
	if err := w.validateNewCollection(input); err != nil {
		return nil, err
	}
	requestKey := strings.TrimSpace(input.RequestKey)
	if requestKey != "" {
		existing, err := w.store.FindCollectionByRequestKey(ctx, requestKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, err
		}
	}

	collectedAt := w.now().UTC()
	if input.CollectedAt != nil {
		collectedAt = input.CollectedAt.UTC()
	}

	collection := &models.Collection{
		MachineId:           input.MachineId,
		OperatorId:          input.OperatorId,
		CollectedAt:         collectedAt,
		Status:              models.CollectionStatusCollected,
		Source:              input.Source,
		Notes:               strings.TrimSpace(input.Notes),
		Latitude:            input.Latitude,
		Longitude:           input.Longitude,
		DistanceFromMachine: distanceFromMachine(input),
	}
	histories := []*models.CollectionHistory{
		models.NewHistoryRow(ctx, 0, models.HistoryActionCreate, models.HistoryFieldStatus,
			nil, statusValue(models.CollectionStatusCollected), nil),
	}

	if err := w.store.CreateCollection(ctx, collection, requestKey, histories); err != nil {
		if errors.Is(err, models.ErrDuplicateRequestKey) {
			return w.store.FindCollectionByRequestKey(ctx, requestKey)
		}
		config.LogError(w.logger, "CollectionWorkflow", "Create", "store.CreateCollection", input, err)
		return nil, err
	}
	return collection, nil
}

func (w *CollectionWorkflow) validateNewCollection(input *models.NewCollection) error {
	if input == nil {
		return utils.NewValidationError("collection input is required")
	}
	if input.MachineId <= 0 {
		return utils.NewValidationError("machine id is required")
	}
	if input.OperatorId <= 0 {
		return utils.NewValidationError("operator id is required")
	}
	if !input.Source.IsValid() {
		return utils.NewValidationError("invalid collection source %q", input.Source)
	}
	if input.CollectedAt != nil && input.CollectedAt.After(w.now().Add(maxClockSkew)) {
		return utils.NewValidationError("collected at must not be in the future")
	}
	if (input.Latitude == nil) != (input.Longitude == nil) {
		return utils.NewValidationError("latitude and longitude must be supplied together")
	}
	if (input.MachineLatitude == nil) != (input.MachineLongitude == nil) {
		return utils.NewValidationError("machine latitude and longitude must be supplied together")
	}
	if input.DistanceFromMachine != nil && *input.DistanceFromMachine < 0 {
		return utils.NewValidationError("distance from machine must not be negative")
	}
	if utf8.RuneCountInString(strings.TrimSpace(input.RequestKey)) > maxRequestKeyLength {
		return utils.NewValidationError("request key must be at most %d characters", maxRequestKeyLength)
	}
	return w.validateNotes(input.Notes)
}

// distanceFromMachine prefers an explicit distance, otherwise computes it
// when both coordinate pairs are known.
func distanceFromMachine(input *models.NewCollection) *float64 {
	if input.DistanceFromMachine != nil {
		d := *input.DistanceFromMachine
		return &d
	}
	if input.Latitude == nil || input.MachineLatitude == nil {
		return nil
	}
	d := utils.DistanceMeters(*input.Latitude, *input.Longitude, *input.MachineLatitude, *input.MachineLongitude)
	d = math.Round(d*100) / 100
	return &d
}

func (w *CollectionWorkflow) Get(ctx context.Context, id int) (*models.Collection, error) {
	return w.store.GetCollection(ctx, id)
}

func (w *CollectionWorkflow) List(ctx context.Context, filter models.CollectionFilter, limit int, offset int) (*CollectionPage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	items, total, err := w.store.FindCollections(ctx, filter, limit, offset)
	if err != nil {
		return nil, err
	}
	return &CollectionPage{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

func (w *CollectionWorkflow) History(ctx context.Context, id int) ([]*models.CollectionHistory, error) {
	if _, err := w.store.GetCollection(ctx, id); err != nil {
		return nil, err
	}
	return w.store.GetCollectionHistories(ctx, id)
}

// Receive confirms the counted amount of a collected pickup.
func (w *CollectionWorkflow) Receive(ctx context.Context, id int, amount decimal.Decimal, notes *string) (*models.Collection, error) {
	collection, err := w.store.GetCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	if collection.Status != models.CollectionStatusCollected {
		return nil, utils.NewInvalidStateError("collection %d is %s, only collected collections can be received", id, collection.Status)
	}
	rounded, err := w.roundedAmount(amount)
	if err != nil {
		return nil, err
	}
	if notes != nil {
		if err := w.validateNotes(*notes); err != nil {
			return nil, err
		}
	}

	receivedAt := w.now().UTC()
	updates := map[string]interface{}{
		"status":      models.CollectionStatusReceived,
		"received_at": receivedAt,
		"amount":      decimal.NewNullDecimal(rounded),
	}
	if userId, ok := utils.GetUserIdFromContext(ctx); ok {
		updates["manager_id"] = userId
		collection.ManagerId = utils.NewInt(userId)
	}
	if notes != nil {
		updates["notes"] = strings.TrimSpace(*notes)
		collection.Notes = strings.TrimSpace(*notes)
	}
	histories := []*models.CollectionHistory{
		models.NewHistoryRow(ctx, id, models.HistoryActionReceive, models.HistoryFieldAmount,
			nil, moneyValue(rounded), nil),
	}

	if err := w.store.SaveTransition(ctx, id, models.CollectionStatusCollected, updates, histories); err != nil {
		w.logTransitionError("Receive", id, err)
		return nil, err
	}

	collection.Status = models.CollectionStatusReceived
	collection.ReceivedAt = &receivedAt
	collection.Amount = decimal.NewNullDecimal(rounded)
	return collection, nil
}

// Edit corrects amount and/or notes of a received collection. Every changed
// field gets its own history row carrying the reason.
func (w *CollectionWorkflow) Edit(ctx context.Context, id int, input EditCollectionInput) (*models.Collection, error) {
	collection, err := w.store.GetCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	if collection.Status != models.CollectionStatusReceived {
		return nil, utils.NewInvalidStateError("collection %d is %s, only received collections can be edited", id, collection.Status)
	}

	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, utils.NewValidationError("reason is required")
	}
	if utils.TrimmedLength(reason) > w.limits.ReasonMaxLength {
		return nil, utils.NewValidationError("reason must be at most %d characters", w.limits.ReasonMaxLength)
	}

	updates := map[string]interface{}{}
	var histories []*models.CollectionHistory

	if input.Amount != nil {
		newAmount, err := w.roundedAmount(*input.Amount)
		if err != nil {
			return nil, err
		}
		if !collection.Amount.Valid || !collection.Amount.Decimal.Equal(newAmount) {
			var oldValue *string
			if collection.Amount.Valid {
				oldValue = moneyValue(collection.Amount.Decimal)
			}
			updates["amount"] = decimal.NewNullDecimal(newAmount)
			histories = append(histories, models.NewHistoryRow(ctx, id, models.HistoryActionEdit,
				models.HistoryFieldAmount, oldValue, moneyValue(newAmount), &reason))
		}
	}

	if input.Notes != nil {
		if err := w.validateNotes(*input.Notes); err != nil {
			return nil, err
		}
		newNotes := strings.TrimSpace(*input.Notes)
		if newNotes != collection.Notes {
			oldNotes := collection.Notes
			updates["notes"] = newNotes
			histories = append(histories, models.NewHistoryRow(ctx, id, models.HistoryActionEdit,
				models.HistoryFieldNotes, &oldNotes, &newNotes, &reason))
		}
	}

	if len(updates) == 0 {
		return collection, nil
	}

	if err := w.store.SaveTransition(ctx, id, models.CollectionStatusReceived, updates, histories); err != nil {
		w.logTransitionError("Edit", id, err)
		return nil, err
	}

	if v, ok := updates["amount"]; ok {
		collection.Amount = v.(decimal.NullDecimal)
	}
	if v, ok := updates["notes"]; ok {
		collection.Notes = v.(string)
	}
	return collection, nil
}

// Cancel moves a collected or received collection to the terminal cancelled state.
// The amount is kept for audit.
func (w *CollectionWorkflow) Cancel(ctx context.Context, id int, reason *string) (*models.Collection, error) {
	cancelReason, err := w.cancelReason(reason)
	if err != nil {
		return nil, err
	}

	collection, err := w.store.GetCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	priorStatus := collection.Status
	if priorStatus != models.CollectionStatusCollected && priorStatus != models.CollectionStatusReceived {
		return nil, utils.NewInvalidStateError("collection %d is already %s", id, priorStatus)
	}

	updates := map[string]interface{}{
		"status": models.CollectionStatusCancelled,
	}
	histories := []*models.CollectionHistory{
		models.NewHistoryRow(ctx, id, models.HistoryActionCancel, models.HistoryFieldStatus,
			statusValue(priorStatus), statusValue(models.CollectionStatusCancelled), cancelReason),
	}

	if err := w.store.SaveTransition(ctx, id, priorStatus, updates, histories); err != nil {
		w.logTransitionError("Cancel", id, err)
		return nil, err
	}

	collection.Status = models.CollectionStatusCancelled
	return collection, nil
}

// cancelReason trims an optional reason; blank becomes nil.
func (w *CollectionWorkflow) cancelReason(reason *string) (*string, error) {
	if reason == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*reason)
	if utils.TrimmedLength(trimmed) > w.limits.ReasonMaxLength {
		return nil, utils.NewValidationError("reason must be at most %d characters", w.limits.ReasonMaxLength)
	}
	if trimmed == "" {
		return nil, nil
	}
	return &trimmed, nil
}

// roundedAmount rounds to cents and checks the bounds on the stored value.
func (w *CollectionWorkflow) roundedAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	rounded := utils.RoundMoney(amount)
	if !rounded.IsPositive() {
		return decimal.Zero, utils.NewValidationError("amount must be at least 0.01")
	}
	if rounded.GreaterThan(w.limits.MaxAmount) {
		return decimal.Zero, utils.NewValidationError("amount must not exceed %s", w.limits.MaxAmount.String())
	}
	return rounded, nil
}

func (w *CollectionWorkflow) validateNotes(notes string) error {
	if utils.TrimmedLength(notes) > w.limits.NotesMaxLength {
		return utils.NewValidationError("notes must be at most %d characters", w.limits.NotesMaxLength)
	}
	return nil
}

// logTransitionError logs store faults; deterministic rejections are the caller's business.
func (w *CollectionWorkflow) logTransitionError(funcName string, id int, err error) {
	if errors.Is(err, utils.ErrorInvalidState) || errors.Is(err, utils.ErrorRecordNotFound) {
		return
	}
	config.LogError(w.logger, "CollectionWorkflow", funcName, "store.SaveTransition", map[string]any{"collection_id": id}, err)
}

func statusValue(s models.CollectionStatus) *string {
	v := string(s)
	return &v
}

func moneyValue(d decimal.Decimal) *string {
	v := d.StringFixed(utils.MoneyPlaces)
	return &v
}
