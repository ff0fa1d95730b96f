package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"creditengine/internal/model"
	"creditengine/internal/repository"
	"creditengine/pkg/money"

	"gorm.io/gorm"
)

// CouponService 优惠码校验与核销
// Validate 只读；核销只在购买单完成的结算事务里通过 RedeemTx 进行
type CouponService struct {
	db         *gorm.DB
	couponRepo *repository.CouponRepository
	now        func() time.Time
}

func NewCouponService(db *gorm.DB) *CouponService {
	return &CouponService{
		db:         db,
		couponRepo: repository.NewCouponRepository(db),
		now:        time.Now,
	}
}

type CouponValidation struct {
	Valid          bool          `json:"valid"`
	Code           string        `json:"code"`
	DiscountAmount int64         `json:"discount_amount"`
	Reason         string        `json:"reason,omitempty"`
	Coupon         *model.Coupon `json:"-"`
}

// Validate 校验优惠码并计算折扣，不可用时同时返回原因与具体的优惠券错误
func (s *CouponService) Validate(ctx context.Context, code string, userID, orderAmount int64, category string) (*CouponValidation, error) {
	code = normalizeCode(code)
	coupon, discount, err := s.evaluate(ctx, nil, code, userID, orderAmount, category)
	if err != nil {
		reason := CouponReason(err)
		if reason == "" {
			return nil, err
		}
		return &CouponValidation{Valid: false, Code: code, Reason: reason}, err
	}
	return &CouponValidation{Valid: true, Code: code, DiscountAmount: discount, Coupon: coupon}, nil
}

func (s *CouponService) evaluate(ctx context.Context, tx *gorm.DB, code string, userID, orderAmount int64, category string) (*model.Coupon, int64, error) {
	if code == "" {
		return nil, 0, ErrCouponNotFound
	}
	coupon, err := s.couponRepo.GetByCode(ctx, tx, code)
	if err != nil {
		if errors.Is(err, repository.ErrCouponNotFound) {
			return nil, 0, ErrCouponNotFound
		}
		return nil, 0, fmt.Errorf("查询优惠码失败: %w", err)
	}
	if !coupon.IsActive {
		return nil, 0, ErrCouponNotFound
	}

	now := s.now()
	if coupon.ValidFrom != nil && now.Before(*coupon.ValidFrom) {
		return nil, 0, ErrCouponExpired
	}
	if coupon.ValidUntil != nil && now.After(*coupon.ValidUntil) {
		return nil, 0, ErrCouponExpired
	}
	if coupon.AppliesTo != "" && coupon.AppliesTo != model.CouponAppliesAll && coupon.AppliesTo != category {
		return nil, 0, ErrCouponCategoryMismatch
	}
	if coupon.SingleUse {
		redeemed, err := s.couponRepo.HasUserRedeemed(ctx, tx, coupon.ID, userID)
		if err != nil {
			return nil, 0, fmt.Errorf("查询核销记录失败: %w", err)
		}
		if redeemed {
			return nil, 0, ErrCouponAlreadyRedeemed
		}
	}
	if coupon.MaxUses > 0 && coupon.UsedCount >= coupon.MaxUses {
		return nil, 0, ErrCouponCapExceeded
	}
	if orderAmount < coupon.MinOrderAmount {
		return nil, 0, ErrCouponBelowMinimum
	}

	return coupon, discountFor(coupon, orderAmount), nil
}

// discountFor 百分比向下取整到最小货币单位，再按封顶额截断；任何情况下不超过订单金额
func discountFor(coupon *model.Coupon, orderAmount int64) int64 {
	if orderAmount <= 0 {
		return 0
	}
	var discount int64
	switch coupon.DiscountType {
	case model.DiscountTypePercentage:
		discount = money.Percent(orderAmount, coupon.DiscountValue)
		if coupon.MaxDiscountAmount > 0 && discount > coupon.MaxDiscountAmount {
			discount = coupon.MaxDiscountAmount
		}
	case model.DiscountTypeFixed:
		discount = coupon.DiscountValue.IntPart()
	}
	if discount < 0 {
		return 0
	}
	if discount > orderAmount {
		return orderAmount
	}
	return discount
}

// RedeemTx 结算事务内重新校验并写核销记录，使用次数条件递增
// 并发下次数已满或用户已用过时返回优惠券错误，调用方回滚整个结算
func (s *CouponService) RedeemTx(ctx context.Context, tx *gorm.DB, purchase *model.Purchase, subscriptionID *int64) (*model.CouponRedemption, error) {
	if purchase.CouponID == nil {
		return nil, nil
	}
	coupon, err := s.couponRepo.GetByID(ctx, tx, *purchase.CouponID)
	if err != nil {
		if errors.Is(err, repository.ErrCouponNotFound) {
			return nil, ErrCouponNotFound
		}
		return nil, err
	}

	redemption := &model.CouponRedemption{
		CouponID:       coupon.ID,
		UserID:         purchase.UserID,
		PurchaseNo:     purchase.PurchaseNo,
		SubscriptionID: subscriptionID,
		DiscountAmount: purchase.DiscountAmount,
	}
	if coupon.SingleUse {
		key := fmt.Sprintf("%d:%d", coupon.ID, purchase.UserID)
		redemption.SingleUseKey = &key
	}

	if err := s.couponRepo.IncrementUsage(ctx, tx, coupon.ID); err != nil {
		if errors.Is(err, repository.ErrCouponExhausted) {
			return nil, ErrCouponCapExceeded
		}
		return nil, fmt.Errorf("更新优惠码使用次数失败: %w", err)
	}
	if err := s.couponRepo.CreateRedemption(ctx, tx, redemption); err != nil {
		if errors.Is(err, repository.ErrAlreadyRedeemed) {
			return nil, ErrCouponAlreadyRedeemed
		}
		return nil, fmt.Errorf("写入核销记录失败: %w", err)
	}
	return redemption, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
