package repository

import (
	"context"
	"errors"
	"time"

	"creditengine/internal/model"

	"gorm.io/gorm"
)

var (
	ErrPackageNotFound      = errors.New("套餐不存在")
	ErrSubscriptionNotFound = errors.New("订阅不存在")
	ErrActiveSubscription   = errors.New("已存在生效中的订阅")
)

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) CreatePackage(ctx context.Context, pkg *model.Package) error {
	return r.db.WithContext(ctx).Create(pkg).Error
}

func (r *SubscriptionRepository) GetPackage(ctx context.Context, tx *gorm.DB, packageID int64) (*model.Package, error) {
	if tx == nil {
		tx = r.db
	}
	var pkg model.Package
	err := tx.WithContext(ctx).Where("id = ? AND is_active = ?", packageID, true).First(&pkg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPackageNotFound
		}
		return nil, err
	}
	return &pkg, nil
}

// GetActiveByUserID 没有时返回 nil, nil
func (r *SubscriptionRepository) GetActiveByUserID(ctx context.Context, tx *gorm.DB, userID int64) (*model.Subscription, error) {
	if tx == nil {
		tx = r.db
	}
	var sub model.Subscription
	err := tx.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.SubscriptionStatusActive).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *SubscriptionRepository) GetByPurchaseNo(ctx context.Context, tx *gorm.DB, purchaseNo string) (*model.Subscription, error) {
	if tx == nil {
		tx = r.db
	}
	var sub model.Subscription
	err := tx.WithContext(ctx).Where("purchase_no = ?", purchaseNo).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (r *SubscriptionRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Subscription, error) {
	if tx == nil {
		tx = r.db
	}
	var sub model.Subscription
	err := tx.WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// Create 写入 active 订阅，active_key 唯一索引冲突说明并发激活
func (r *SubscriptionRepository) Create(ctx context.Context, tx *gorm.DB, sub *model.Subscription) error {
	if sub.Status == model.SubscriptionStatusActive {
		key := sub.UserID
		sub.ActiveKey = &key
	}
	err := tx.WithContext(ctx).Create(sub).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrActiveSubscription
	}
	return err
}

// Cancel 取消订阅并释放 active_key
func (r *SubscriptionRepository) Cancel(ctx context.Context, tx *gorm.DB, sub *model.Subscription) error {
	if tx == nil {
		tx = r.db
	}
	now := time.Now()
	result := tx.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("id = ? AND status = ?", sub.ID, model.SubscriptionStatusActive).
		Updates(map[string]interface{}{
			"status":      model.SubscriptionStatusCanceled,
			"active_key":  nil,
			"auto_renew":  false,
			"canceled_at": &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSubscriptionNotFound
	}
	sub.Status = model.SubscriptionStatusCanceled
	sub.ActiveKey = nil
	sub.AutoRenew = false
	sub.CanceledAt = &now
	return nil
}
