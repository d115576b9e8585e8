package persistence

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/biocloudlabs/backend/internal/domain/billing"
	"github.com/biocloudlabs/backend/internal/infrastructure/persistence/models"
)

// GormCreditTransactionRepository implements billing.CreditTransactionRepository using GORM
type GormCreditTransactionRepository struct {
	db *gorm.DB
}

// NewGormCreditTransactionRepository creates a new GormCreditTransactionRepository
func NewGormCreditTransactionRepository(db *gorm.DB) *GormCreditTransactionRepository {
	return &GormCreditTransactionRepository{db: db}
}

// Create creates a new credit transaction record
func (r *GormCreditTransactionRepository) Create(ctx context.Context, transaction *billing.CreditTransaction) error {
	model := models.CreditTransactionModelFromDomain(transaction)
	return conn(ctx, r.db).Create(model).Error
}

// FindByAccountID lists credit transactions for an account, newest first
func (r *GormCreditTransactionRepository) FindByAccountID(ctx context.Context, accountID uuid.UUID, filter billing.CreditTransactionFilter) ([]*billing.CreditTransaction, int64, error) {
	var transactionModels []models.CreditTransactionModel
	var total int64

	base := func() *gorm.DB {
		q := conn(ctx, r.db).Model(&models.CreditTransactionModel{}).
			Where("account_id = ?", accountID)
		if filter.TransactionType != nil {
			q = q.Where("transaction_type = ?", *filter.TransactionType)
		}
		if filter.Source != nil {
			q = q.Where("source = ?", *filter.Source)
		}
		return q
	}

	if err := base().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query := base().Order("transaction_date DESC")
	if filter.Page > 0 && filter.PageSize > 0 {
		query = query.Offset((filter.Page - 1) * filter.PageSize).Limit(filter.PageSize)
	}

	if err := query.Find(&transactionModels).Error; err != nil {
		return nil, 0, err
	}

	transactions := make([]*billing.CreditTransaction, len(transactionModels))
	for i, model := range transactionModels {
		transactions[i] = model.ToDomain()
	}
	return transactions, total, nil
}

// FindBySourceID finds credit transactions by originating document ID
func (r *GormCreditTransactionRepository) FindBySourceID(ctx context.Context, source billing.CreditTransactionSource, sourceID string) ([]*billing.CreditTransaction, error) {
	var transactionModels []models.CreditTransactionModel
	if err := conn(ctx, r.db).
		Where("source = ? AND source_id = ?", source, sourceID).
		Order("transaction_date DESC").
		Find(&transactionModels).Error; err != nil {
		return nil, err
	}
	transactions := make([]*billing.CreditTransaction, len(transactionModels))
	for i, model := range transactionModels {
		transactions[i] = model.ToDomain()
	}
	return transactions, nil
}
