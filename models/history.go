package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"gorm.io/gorm"
)

// CollectionHistory is append-only: one row per mutated field per operation.
// Nothing in this package updates or deletes it.
type CollectionHistory struct {
	ID              int           `gorm:"primary_key" json:"id"`
	CollectionId    int           `gorm:"index;not null" json:"collection_id"`
	Action          HistoryAction `gorm:"size:20;not null" json:"action"`
	Field           string        `gorm:"size:50;not null" json:"field"`
	OldValue        *string       `gorm:"type:text" json:"old_value"`
	NewValue        *string       `gorm:"type:text" json:"new_value"`
	Reason          *string       `gorm:"type:text" json:"reason"`
	PerformedBy     int           `gorm:"index;not null" json:"performed_by"`
	PerformedByName string        `gorm:"size:100" json:"performed_by_name"`
	CreatedAt       time.Time     `gorm:"autoCreateTime" json:"created_at"`
}

// NewHistoryRow builds a history row attributed to the caller stored in ctx.
func NewHistoryRow(ctx context.Context, collectionId int, action HistoryAction, field string, oldValue *string, newValue *string, reason *string) *CollectionHistory {
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)

	return &CollectionHistory{
		CollectionId:    collectionId,
		Action:          action,
		Field:           field,
		OldValue:        oldValue,
		NewValue:        newValue,
		Reason:          reason,
		PerformedBy:     userId,
		PerformedByName: userName,
	}
}

func createHistories(tx *gorm.DB, histories []*CollectionHistory) error {
	if len(histories) == 0 {
		return nil
	}
	return tx.Create(&histories).Error
}

func (r *CollectionRepository) GetCollectionHistories(ctx context.Context, collectionId int) ([]*CollectionHistory, error) {
	var results []*CollectionHistory
	err := r.db.WithContext(ctx).
		Where("collection_id = ?", collectionId).
		Order("created_at ASC, id ASC").
		Find(&results).Error
	if err != nil {
		return nil, utils.NewStoreError("load collection history", err)
	}
	return results, nil
}
