package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Collection is one recorded cash pickup from a vending machine.
// Amount stays null until the collection is received.
type Collection struct {
	ID                  int                 `gorm:"primary_key" json:"id"`
	MachineId           int                 `gorm:"index;not null" json:"machine_id"`
	OperatorId          int                 `gorm:"index;not null" json:"operator_id"`
	ManagerId           *int                `gorm:"index" json:"manager_id"`
	CollectedAt         time.Time           `gorm:"index;not null" json:"collected_at"`
	ReceivedAt          *time.Time          `json:"received_at"`
	Amount              decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"amount"`
	Status              CollectionStatus    `gorm:"size:20;index;not null;default:collected" json:"status"`
	Source              CollectionSource    `gorm:"size:20;not null" json:"source"`
	Notes               string              `gorm:"type:text" json:"notes"`
	Latitude            *float64            `json:"latitude"`
	Longitude           *float64            `json:"longitude"`
	DistanceFromMachine *float64            `json:"distance_from_machine"`
	CreatedAt           time.Time           `gorm:"autoCreateTime" json:"created_at"`
}

type NewCollection struct {
	MachineId           int              `json:"machine_id" binding:"required,gt=0"`
	OperatorId          int              `json:"operator_id" binding:"required,gt=0"`
	CollectedAt         *time.Time       `json:"collected_at"`
	Source              CollectionSource `json:"source" binding:"required"`
	Notes               string           `json:"notes"`
	Latitude            *float64         `json:"latitude" binding:"omitempty,min=-90,max=90"`
	Longitude           *float64         `json:"longitude" binding:"omitempty,min=-180,max=180"`
	MachineLatitude     *float64         `json:"machine_latitude" binding:"omitempty,min=-90,max=90"`
	MachineLongitude    *float64         `json:"machine_longitude" binding:"omitempty,min=-180,max=180"`
	DistanceFromMachine *float64         `json:"distance_from_machine" binding:"omitempty,gte=0"`
	RequestKey          string           `json:"request_key" binding:"omitempty,max=100"`
}

// AmountConsistent reports whether status and amount agree:
// received needs a non-negative amount, collected needs none.
func (c Collection) AmountConsistent() bool {
	switch c.Status {
	case CollectionStatusReceived:
		return c.Amount.Valid && !c.Amount.Decimal.IsNegative()
	case CollectionStatusCollected:
		return !c.Amount.Valid
	}
	return true
}

// CollectionFilter is the listing predicate, also used to select bulk cancel targets.
type CollectionFilter struct {
	Status     *CollectionStatus `json:"status"`
	MachineId  *int              `json:"machine_id"`
	OperatorId *int              `json:"operator_id"`
	Source     *CollectionSource `json:"source"`
	From       *time.Time        `json:"from"`
	To         *time.Time        `json:"to"`
}

func (f CollectionFilter) IsEmpty() bool {
	return f.Status == nil && f.MachineId == nil && f.OperatorId == nil &&
		f.Source == nil && f.From == nil && f.To == nil
}

// Matches evaluates the filter in memory with the same semantics as apply.
func (f CollectionFilter) Matches(c *Collection) bool {
	if f.Status != nil && c.Status != *f.Status {
		return false
	}
	if f.MachineId != nil && c.MachineId != *f.MachineId {
		return false
	}
	if f.OperatorId != nil && c.OperatorId != *f.OperatorId {
		return false
	}
	if f.Source != nil && c.Source != *f.Source {
		return false
	}
	if f.From != nil && c.CollectedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && c.CollectedAt.After(*f.To) {
		return false
	}
	return true
}

func (f CollectionFilter) apply(dbCtx *gorm.DB) *gorm.DB {
	if f.Status != nil {
		dbCtx = dbCtx.Where("status = ?", *f.Status)
	}
	if f.MachineId != nil {
		dbCtx = dbCtx.Where("machine_id = ?", *f.MachineId)
	}
	if f.OperatorId != nil {
		dbCtx = dbCtx.Where("operator_id = ?", *f.OperatorId)
	}
	if f.Source != nil {
		dbCtx = dbCtx.Where("source = ?", *f.Source)
	}
	if f.From != nil {
		dbCtx = dbCtx.Where("collected_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		dbCtx = dbCtx.Where("collected_at <= ?", f.To.UTC())
	}
	return dbCtx
}

// CollectionRepository is the gorm-backed Collection Store.
type CollectionRepository struct {
	db *gorm.DB
}

func NewCollectionRepository(db *gorm.DB) *CollectionRepository {
	return &CollectionRepository{db: db}
}

// CreateCollection inserts the row, its creation history and the optional
// request key in one transaction. A key already claimed rolls everything back
// with ErrDuplicateRequestKey.
func (r *CollectionRepository) CreateCollection(ctx context.Context, collection *Collection, requestKey string, histories []*CollectionHistory) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(collection).Error; err != nil {
			return err
		}
		if err := claimRequestKey(tx, requestKey, collection.ID); err != nil {
			return err
		}
		for _, h := range histories {
			h.CollectionId = collection.ID
		}
		return createHistories(tx, histories)
	})
	if err != nil {
		return utils.NewStoreError("create collection", err)
	}
	return nil
}

func (r *CollectionRepository) GetCollection(ctx context.Context, id int) (*Collection, error) {
	var result Collection
	err := r.db.WithContext(ctx).First(&result, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("collection %d not found", id)
		}
		return nil, utils.NewStoreError("load collection", err)
	}
	return &result, nil
}

// FindCollections returns one page ordered by collected_at desc and the total match count.
func (r *CollectionRepository) FindCollections(ctx context.Context, filter CollectionFilter, limit int, offset int) ([]*Collection, int64, error) {
	var total int64
	if err := filter.apply(r.db.WithContext(ctx).Model(&Collection{})).Count(&total).Error; err != nil {
		return nil, 0, utils.NewStoreError("count collections", err)
	}

	var results []*Collection
	err := filter.apply(r.db.WithContext(ctx)).
		Order("collected_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&results).Error
	if err != nil {
		return nil, 0, utils.NewStoreError("list collections", err)
	}
	return results, total, nil
}

// FindCancellableIds returns ids of non-cancelled rows matching filter.
func (r *CollectionRepository) FindCancellableIds(ctx context.Context, filter CollectionFilter) ([]int, error) {
	var ids []int
	err := filter.apply(r.db.WithContext(ctx).Model(&Collection{})).
		Where("status <> ?", CollectionStatusCancelled).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, utils.NewStoreError("select collections", err)
	}
	return ids, nil
}

// SaveTransition applies updates only while the row is still in fromStatus and
// appends the history rows in the same transaction.
func (r *CollectionRepository) SaveTransition(ctx context.Context, id int, fromStatus CollectionStatus, updates map[string]interface{}, histories []*CollectionHistory) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Collection{}).
			Where("id = ? AND status = ?", id, fromStatus).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return utils.NewInvalidStateError("collection %d is no longer %s", id, fromStatus)
		}
		return createHistories(tx, histories)
	})
	if err != nil {
		return utils.NewStoreError("save collection transition", err)
	}
	return nil
}
