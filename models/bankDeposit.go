package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BankDeposit is immutable once created.
type BankDeposit struct {
	ID          int             `gorm:"primary_key" json:"id"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	DepositDate time.Time       `gorm:"index;not null" json:"deposit_date"`
	Notes       string          `gorm:"type:text" json:"notes"`
	CreatedBy   int             `gorm:"index;not null" json:"created_by"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewBankDeposit struct {
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	DepositDate time.Time       `json:"deposit_date" binding:"required"`
	Notes       string          `json:"notes"`
}

type DepositFilter struct {
	From *time.Time
	To   *time.Time
}

// DepositRepository is the gorm-backed Deposit Store.
type DepositRepository struct {
	db             *gorm.DB
	maxAmount      decimal.Decimal
	notesMaxLength int
}

func NewDepositRepository(db *gorm.DB, maxAmount decimal.Decimal, notesMaxLength int) *DepositRepository {
	return &DepositRepository{db: db, maxAmount: maxAmount, notesMaxLength: notesMaxLength}
}

// ValidateNewBankDeposit checks amount bounds and notes length.
func ValidateNewBankDeposit(input *NewBankDeposit, maxAmount decimal.Decimal, notesMaxLength int) error {
	if input == nil {
		return utils.NewValidationError("deposit input is required")
	}
	amount := utils.RoundMoney(input.Amount)
	if !amount.IsPositive() {
		return utils.NewValidationError("amount must be at least 0.01")
	}
	if amount.GreaterThan(maxAmount) {
		return utils.NewValidationError("amount must not exceed %s", maxAmount.String())
	}
	if input.DepositDate.IsZero() {
		return utils.NewValidationError("deposit date is required")
	}
	if utils.TrimmedLength(input.Notes) > notesMaxLength {
		return utils.NewValidationError("notes must be at most %d characters", notesMaxLength)
	}
	return nil
}

func (r *DepositRepository) CreateDeposit(ctx context.Context, input *NewBankDeposit) (*BankDeposit, error) {
	if err := ValidateNewBankDeposit(input, r.maxAmount, r.notesMaxLength); err != nil {
		return nil, err
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, utils.NewValidationError("user id is required")
	}

	deposit := BankDeposit{
		Amount:      utils.RoundMoney(input.Amount),
		DepositDate: input.DepositDate.UTC(),
		Notes:       input.Notes,
		CreatedBy:   userId,
	}
	if err := r.db.WithContext(ctx).Create(&deposit).Error; err != nil {
		return nil, utils.NewStoreError("create deposit", err)
	}
	return &deposit, nil
}

func (r *DepositRepository) GetDeposit(ctx context.Context, id int) (*BankDeposit, error) {
	var result BankDeposit
	err := r.db.WithContext(ctx).First(&result, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("deposit %d not found", id)
		}
		return nil, utils.NewStoreError("load deposit", err)
	}
	return &result, nil
}

func (r *DepositRepository) FindAllDeposits(ctx context.Context, filter DepositFilter) ([]*BankDeposit, error) {
	dbCtx := r.db.WithContext(ctx)
	if filter.From != nil {
		dbCtx = dbCtx.Where("deposit_date >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		dbCtx = dbCtx.Where("deposit_date <= ?", filter.To.UTC())
	}

	var results []*BankDeposit
	if err := dbCtx.Order("deposit_date DESC, id DESC").Find(&results).Error; err != nil {
		return nil, utils.NewStoreError("list deposits", err)
	}
	return results, nil
}
