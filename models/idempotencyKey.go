package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// ErrDuplicateRequestKey marks a create that lost to an earlier request with the same key.
var ErrDuplicateRequestKey = errors.New("duplicate request key")

// CollectionRequestKey makes collection capture retry-safe: a client-supplied
// key maps to the collection its first request created.
// Unique constraint: request_key.
type CollectionRequestKey struct {
	ID           int       `gorm:"primary_key" json:"id"`
	RequestKey   string    `gorm:"size:100;not null;uniqueIndex" json:"request_key"`
	CollectionId int       `gorm:"index;not null" json:"collection_id"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// FindCollectionByRequestKey returns the collection created under key.
func (r *CollectionRepository) FindCollectionByRequestKey(ctx context.Context, key string) (*Collection, error) {
	var requestKey CollectionRequestKey
	err := r.db.WithContext(ctx).Where("request_key = ?", key).Take(&requestKey).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("no collection for request key %q", key)
		}
		return nil, utils.NewStoreError("load request key", err)
	}
	return r.GetCollection(ctx, requestKey.CollectionId)
}

func claimRequestKey(tx *gorm.DB, key string, collectionId int) error {
	if key == "" {
		return nil
	}
	err := tx.Create(&CollectionRequestKey{RequestKey: key, CollectionId: collectionId}).Error
	if isDuplicateKey(err) {
		return ErrDuplicateRequestKey
	}
	return err
}

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}
