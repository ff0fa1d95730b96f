package repository

import (
	"context"
	"errors"
	"time"

	"creditengine/internal/model"

	"gorm.io/gorm"
)

var (
	ErrPurchaseNotFound      = errors.New("购买单不存在")
	ErrPurchaseStatusInvalid = errors.New("购买单状态不合法")
	ErrDuplicateRequest      = errors.New("重复请求")
)

type PurchaseRepository struct {
	db *gorm.DB
}

func NewPurchaseRepository(db *gorm.DB) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

func (r *PurchaseRepository) Create(ctx context.Context, tx *gorm.DB, purchase *model.Purchase) error {
	if tx == nil {
		tx = r.db
	}
	err := tx.WithContext(ctx).Create(purchase).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateRequest
	}
	return err
}

func (r *PurchaseRepository) GetByPurchaseNo(ctx context.Context, tx *gorm.DB, purchaseNo string) (*model.Purchase, error) {
	if tx == nil {
		tx = r.db
	}
	var purchase model.Purchase
	err := tx.WithContext(ctx).Where("purchase_no = ?", purchaseNo).First(&purchase).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPurchaseNotFound
		}
		return nil, err
	}
	return &purchase, nil
}

// GetByRequestID 没有时返回 nil, nil
func (r *PurchaseRepository) GetByRequestID(ctx context.Context, requestID string) (*model.Purchase, error) {
	var purchase model.Purchase
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&purchase).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &purchase, nil
}

// GetByProviderID 通过渠道侧 ID 反查购买单（回跳地址只带 session id 时使用）
func (r *PurchaseRepository) GetByProviderID(ctx context.Context, method, providerID string) (*model.Purchase, error) {
	var purchase model.Purchase
	err := r.db.WithContext(ctx).
		Where("payment_method = ? AND payment_provider_id = ?", method, providerID).
		First(&purchase).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPurchaseNotFound
		}
		return nil, err
	}
	return &purchase, nil
}

// UpdateStatus 状态条件更新：只有当前状态等于 fromStatus 才会成功
// RowsAffected == 0 说明被并发请求抢先，返回 ErrPurchaseStatusInvalid
func (r *PurchaseRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, purchase *model.Purchase, toStatus string, extra map[string]interface{}) error {
	fromStatus := purchase.PaymentStatus
	if !model.CanTransitionFor(purchase.PaymentMethod, fromStatus, toStatus) {
		return ErrPurchaseStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"payment_status": toStatus,
	}
	for k, v := range extra {
		updates[k] = v
	}
	now := time.Now()
	switch toStatus {
	case model.PaymentStatusProcessing:
		if _, ok := updates["processing_at"]; !ok {
			updates["processing_at"] = &now
		}
	case model.PaymentStatusCompleted:
		if _, ok := updates["completed_at"]; !ok {
			updates["completed_at"] = &now
		}
	}

	result := tx.WithContext(ctx).
		Model(&model.Purchase{}).
		Where("purchase_no = ? AND payment_status = ?", purchase.PurchaseNo, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrPurchaseStatusInvalid
	}

	purchase.PaymentStatus = toStatus
	if at, ok := updates["processing_at"].(*time.Time); ok {
		purchase.ProcessingAt = at
	}
	return nil
}

// UpdateFields 更新非状态字段（渠道 ID、元数据、发票结果等）
func (r *PurchaseRepository) UpdateFields(ctx context.Context, tx *gorm.DB, purchaseNo string, updates map[string]interface{}) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.Purchase{}).
		Where("purchase_no = ?", purchaseNo).
		Updates(updates).Error
}

// Touch 刷新处理中购买单的 updated_at，让对账任务按顺序轮转而不是反复扫到同一批
func (r *PurchaseRepository) Touch(ctx context.Context, purchaseNo string) error {
	return r.db.WithContext(ctx).
		Model(&model.Purchase{}).
		Where("purchase_no = ? AND payment_status = ?", purchaseNo, model.PaymentStatusProcessing).
		Update("updated_at", time.Now()).Error
}

// GetExpiredPending 超时未发起支付的购买单
func (r *PurchaseRepository) GetExpiredPending(ctx context.Context, before time.Time, limit int) ([]*model.Purchase, error) {
	var purchases []*model.Purchase
	err := r.db.WithContext(ctx).
		Where("payment_status = ? AND created_at < ?", model.PaymentStatusPending, before).
		Limit(limit).
		Find(&purchases).Error
	return purchases, err
}

// GetStuckProcessing 处理中超过宽限期的购买单
func (r *PurchaseRepository) GetStuckProcessing(ctx context.Context, before time.Time, methods []string, limit int) ([]*model.Purchase, error) {
	var purchases []*model.Purchase
	err := r.db.WithContext(ctx).
		Where("payment_status = ? AND updated_at < ? AND payment_method IN ?", model.PaymentStatusProcessing, before, methods).
		Order("updated_at ASC").
		Limit(limit).
		Find(&purchases).Error
	return purchases, err
}

// GetInvoicePending 已完成但发票未生成的购买单
func (r *PurchaseRepository) GetInvoicePending(ctx context.Context, limit int) ([]*model.Purchase, error) {
	var purchases []*model.Purchase
	err := r.db.WithContext(ctx).
		Where("payment_status = ? AND invoice_pending = ?", model.PaymentStatusCompleted, true).
		Order("id ASC").
		Limit(limit).
		Find(&purchases).Error
	return purchases, err
}

// HasOpenAutoTopup 是否已有进行中的自动充值
func (r *PurchaseRepository) HasOpenAutoTopup(ctx context.Context, userID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Purchase{}).
		Where("user_id = ? AND auto_topup = ? AND payment_status IN ?", userID, true,
			[]string{model.PaymentStatusPending, model.PaymentStatusProcessing}).
		Count(&count).Error
	return count > 0, err
}

func (r *PurchaseRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Purchase, int64, error) {
	var purchases []*model.Purchase
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Purchase{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&purchases).Error

	return purchases, total, err
}
