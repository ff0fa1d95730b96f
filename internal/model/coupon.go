package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DiscountTypePercentage = "percentage"
	DiscountTypeFixed      = "fixed"
)

const (
	CouponAppliesAll          = "all"
	CouponAppliesCredits      = "credits"
	CouponAppliesSubscription = "subscription"
)

// Coupon 优惠码
// DiscountValue：percentage 时为百分比（10 表示 10%），fixed 时为最小货币单位金额
type Coupon struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Code              string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"code"`
	DiscountType      string          `gorm:"type:varchar(16);not null" json:"discount_type"`
	DiscountValue     decimal.Decimal `gorm:"type:decimal(12,4);not null" json:"discount_value"`
	MaxDiscountAmount int64           `gorm:"not null;default:0" json:"max_discount_amount"` // 0 表示不封顶
	MinOrderAmount    int64           `gorm:"not null;default:0" json:"min_order_amount"`
	AppliesTo         string          `gorm:"type:varchar(16);not null;default:all" json:"applies_to"`
	ValidFrom         *time.Time      `json:"valid_from"`
	ValidUntil        *time.Time      `json:"valid_until"`
	MaxUses           int             `gorm:"not null;default:0" json:"max_uses"` // 0 表示不限
	UsedCount         int             `gorm:"not null;default:0" json:"used_count"`
	SingleUse         bool            `gorm:"not null;default:false" json:"single_use"` // 每个用户只能用一次
	IsActive          bool            `gorm:"not null" json:"is_active"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Coupon) TableName() string {
	return "coupon"
}

// CouponRedemption 优惠码核销记录，只在购买单完成时写入
type CouponRedemption struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CouponID       int64     `gorm:"index;not null" json:"coupon_id"`
	UserID         int64     `gorm:"index;not null" json:"user_id"`
	PurchaseNo     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"purchase_no"`
	SubscriptionID *int64    `json:"subscription_id,omitempty"`
	DiscountAmount int64     `gorm:"not null" json:"discount_amount"`
	SingleUseKey   *string   `gorm:"type:varchar(64);uniqueIndex" json:"-"` // "coupon_id:user_id"，仅单次券填写
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (CouponRedemption) TableName() string {
	return "coupon_redemption"
}
