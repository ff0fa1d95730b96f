package repository

import (
	"context"
	"errors"

	"creditengine/internal/model"

	"gorm.io/gorm"
)

var (
	ErrCouponNotFound  = errors.New("优惠码不存在")
	ErrCouponExhausted = errors.New("优惠码已达使用上限")
	ErrAlreadyRedeemed = errors.New("优惠码已被该用户使用")
)

type CouponRepository struct {
	db *gorm.DB
}

func NewCouponRepository(db *gorm.DB) *CouponRepository {
	return &CouponRepository{db: db}
}

func (r *CouponRepository) Create(ctx context.Context, coupon *model.Coupon) error {
	return r.db.WithContext(ctx).Create(coupon).Error
}

func (r *CouponRepository) GetByCode(ctx context.Context, tx *gorm.DB, code string) (*model.Coupon, error) {
	if tx == nil {
		tx = r.db
	}
	var coupon model.Coupon
	err := tx.WithContext(ctx).Where("code = ?", code).First(&coupon).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, err
	}
	return &coupon, nil
}

func (r *CouponRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Coupon, error) {
	if tx == nil {
		tx = r.db
	}
	var coupon model.Coupon
	err := tx.WithContext(ctx).Where("id = ?", id).First(&coupon).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, err
	}
	return &coupon, nil
}

func (r *CouponRepository) HasUserRedeemed(ctx context.Context, tx *gorm.DB, couponID, userID int64) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.WithContext(ctx).
		Model(&model.CouponRedemption{}).
		Where("coupon_id = ? AND user_id = ?", couponID, userID).
		Count(&count).Error
	return count > 0, err
}

// CreateRedemption 写入核销记录，单次券重复核销由唯一索引拒绝
func (r *CouponRepository) CreateRedemption(ctx context.Context, tx *gorm.DB, redemption *model.CouponRedemption) error {
	err := tx.WithContext(ctx).Create(redemption).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrAlreadyRedeemed
	}
	return err
}

// IncrementUsage 条件递增使用次数，到达上限时返回 ErrCouponExhausted
func (r *CouponRepository) IncrementUsage(ctx context.Context, tx *gorm.DB, couponID int64) error {
	result := tx.WithContext(ctx).
		Model(&model.Coupon{}).
		Where("id = ? AND (max_uses = 0 OR used_count < max_uses)", couponID).
		UpdateColumn("used_count", gorm.Expr("used_count + 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCouponExhausted
	}
	return nil
}

func (r *CouponRepository) CountRedemptions(ctx context.Context, couponID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.CouponRedemption{}).
		Where("coupon_id = ?", couponID).
		Count(&count).Error
	return count, err
}
