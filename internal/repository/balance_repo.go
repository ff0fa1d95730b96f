package repository

import (
	"context"
	"errors"

	"creditengine/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrBalanceNotFound = errors.New("积分账户不存在")
	ErrOptimisticLock  = errors.New("乐观锁冲突，请重试")
)

type BalanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepository(db *gorm.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

func (r *BalanceRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID int64) (*model.CreditBalance, error) {
	if tx == nil {
		tx = r.db
	}
	var balance model.CreditBalance
	err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return &balance, nil
}

// GetByUserIDForUpdate 行锁读取，必须在事务内调用
func (r *BalanceRepository) GetByUserIDForUpdate(ctx context.Context, tx *gorm.DB, userID int64) (*model.CreditBalance, error) {
	var balance model.CreditBalance
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return &balance, nil
}

// Ensure 账户不存在时按模板创建，并发创建由唯一索引兜底
func (r *BalanceRepository) Ensure(ctx context.Context, tx *gorm.DB, template *model.CreditBalance) error {
	if tx == nil {
		tx = r.db
	}
	fresh := *template
	fresh.ID = 0
	fresh.Balance = 0
	fresh.TotalPurchased = 0
	fresh.TotalUsed = 0
	fresh.ServicesPaused = true
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&fresh).Error
}

// GetOrCreate 非锁定读取，用于查询接口
func (r *BalanceRepository) GetOrCreate(ctx context.Context, template *model.CreditBalance) (*model.CreditBalance, error) {
	balance, err := r.GetByUserID(ctx, nil, template.UserID)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, ErrBalanceNotFound) {
		return nil, err
	}
	if err := r.Ensure(ctx, nil, template); err != nil {
		return nil, err
	}
	return r.GetByUserID(ctx, nil, template.UserID)
}

// SaveApplied 写回一次余额变动，version 条件更新防止并发覆盖
func (r *BalanceRepository) SaveApplied(ctx context.Context, tx *gorm.DB, balance *model.CreditBalance) error {
	result := tx.WithContext(ctx).
		Model(&model.CreditBalance{}).
		Where("user_id = ? AND version = ?", balance.UserID, balance.Version).
		Updates(map[string]interface{}{
			"balance":             balance.Balance,
			"total_purchased":     balance.TotalPurchased,
			"total_used":          balance.TotalUsed,
			"services_paused":     balance.ServicesPaused,
			"low_credit_notified": balance.LowCreditNotified,
			"version":             gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	balance.Version++
	return nil
}

// UpdateSettings 更新阈值与自动充值设置，不触碰余额字段
func (r *BalanceRepository) UpdateSettings(ctx context.Context, userID int64, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&model.CreditBalance{}).
		Where("user_id = ?", userID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBalanceNotFound
	}
	return nil
}
