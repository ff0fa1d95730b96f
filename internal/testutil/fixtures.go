package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"creditengine/internal/model"
)

var fixtureSeq int64

func nextSeq() int64 {
	return atomic.AddInt64(&fixtureSeq, 1)
}

// TestCoupon 创建测试优惠码
func TestCoupon(t *testing.T, db *gorm.DB, opts ...func(*model.Coupon)) *model.Coupon {
	t.Helper()

	coupon := &model.Coupon{
		Code:          fmt.Sprintf("TEST%d", nextSeq()),
		DiscountType:  model.DiscountTypePercentage,
		DiscountValue: decimal.NewFromInt(10),
		AppliesTo:     model.CouponAppliesAll,
		IsActive:      true,
	}

	for _, opt := range opts {
		opt(coupon)
	}

	if err := db.Create(coupon).Error; err != nil {
		t.Fatalf("Failed to create test coupon: %v", err)
	}
	return coupon
}

// WithCode 设置优惠码
func WithCode(code string) func(*model.Coupon) {
	return func(c *model.Coupon) {
		c.Code = code
	}
}

// WithPercent 百分比折扣，maxDiscount 为封顶金额
func WithPercent(pct int64, maxDiscount int64) func(*model.Coupon) {
	return func(c *model.Coupon) {
		c.DiscountType = model.DiscountTypePercentage
		c.DiscountValue = decimal.NewFromInt(pct)
		c.MaxDiscountAmount = maxDiscount
	}
}

// WithFixed 固定金额折扣
func WithFixed(amount int64) func(*model.Coupon) {
	return func(c *model.Coupon) {
		c.DiscountType = model.DiscountTypeFixed
		c.DiscountValue = decimal.NewFromInt(amount)
	}
}

// WithAppliesTo 设置适用范围
func WithAppliesTo(category string) func(*model.Coupon) {
	return func(c *model.Coupon) {
		c.AppliesTo = category
	}
}

// WithMaxUses 设置全局使用上限
func WithMaxUses(n int) func(*model.Coupon) {
	return func(c *model.Coupon) {
		c.MaxUses = n
	}
}

// WithSingleUse 每个用户只能使用一次
func WithSingleUse() func(*model.Coupon) {
	return func(c *model.Coupon) {
		c.SingleUse = true
	}
}

// WithValidity 设置有效期
func WithValidity(from, until *time.Time) func(*model.Coupon) {
	return func(c *model.Coupon) {
		c.ValidFrom = from
		c.ValidUntil = until
	}
}

// WithInactive 停用优惠码
func WithInactive() func(*model.Coupon) {
	return func(c *model.Coupon) {
		c.IsActive = false
	}
}

// TestPackage 创建测试套餐
func TestPackage(t *testing.T, db *gorm.DB, tier string, monthly, yearly, credits int64) *model.Package {
	t.Helper()

	pkg := &model.Package{
		Name:            fmt.Sprintf("%s-%d", tier, nextSeq()),
		Tier:            tier,
		Currency:        "USD",
		MonthlyPrice:    monthly,
		YearlyPrice:     yearly,
		IncludedCredits: credits,
		IsActive:        true,
	}
	if err := db.Create(pkg).Error; err != nil {
		t.Fatalf("Failed to create test package: %v", err)
	}
	return pkg
}

// TestTaxRate 创建默认税率
func TestTaxRate(t *testing.T, db *gorm.DB, jurisdiction, rate string, isDefault bool) *model.TaxRate {
	t.Helper()

	tax := &model.TaxRate{
		Jurisdiction: jurisdiction,
		Rate:         decimal.RequireFromString(rate),
		IsDefault:    isDefault,
		IsActive:     true,
	}
	if err := db.Create(tax).Error; err != nil {
		t.Fatalf("Failed to create test tax rate: %v", err)
	}
	return tax
}

// TestBalance 创建积分账户
func TestBalance(t *testing.T, db *gorm.DB, userID int64, opts ...func(*model.CreditBalance)) *model.CreditBalance {
	t.Helper()

	balance := &model.CreditBalance{
		UserID:         userID,
		Currency:       "USD",
		ServicesPaused: true,
	}
	for _, opt := range opts {
		opt(balance)
	}
	if err := db.Create(balance).Error; err != nil {
		t.Fatalf("Failed to create test balance: %v", err)
	}
	return balance
}

// WithLowThreshold 设置低余额提醒阈值
func WithLowThreshold(threshold int64) func(*model.CreditBalance) {
	return func(b *model.CreditBalance) {
		b.LowCreditThreshold = threshold
	}
}

// WithAutoTopup 开启自动充值
func WithAutoTopup(amount, threshold int64, method string) func(*model.CreditBalance) {
	return func(b *model.CreditBalance) {
		b.AutoTopupEnabled = true
		b.AutoTopupAmount = amount
		b.AutoTopupThreshold = threshold
		b.DefaultPaymentMethod = method
	}
}

// WithAllowNegative 允许透支
func WithAllowNegative() func(*model.CreditBalance) {
	return func(b *model.CreditBalance) {
		b.AllowNegative = true
	}
}
