package model

import (
	"time"
)

const (
	PackageTierFree = "free"
	PackageTierPaid = "paid"
)

const (
	BillingCycleMonthly = "monthly"
	BillingCycleYearly  = "yearly"
)

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusCanceled = "canceled"
)

// Package 订阅套餐
type Package struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name            string    `gorm:"type:varchar(64);not null" json:"name"`
	Tier            string    `gorm:"type:varchar(16);not null" json:"tier"`
	Currency        string    `gorm:"type:varchar(8);not null;default:USD" json:"currency"`
	MonthlyPrice    int64     `gorm:"not null;default:0" json:"monthly_price"`
	YearlyPrice     int64     `gorm:"not null;default:0" json:"yearly_price"`
	IncludedCredits int64     `gorm:"not null;default:0" json:"included_credits"`
	IsActive        bool      `gorm:"not null" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Package) TableName() string {
	return "package"
}

// PriceFor 按计费周期取价
func (p *Package) PriceFor(cycle string) int64 {
	if cycle == BillingCycleYearly {
		return p.YearlyPrice
	}
	return p.MonthlyPrice
}

// Subscription 用户订阅
// ActiveKey 在 active 时等于 UserID，取消后置空；唯一索引保证每个用户至多一个 active 订阅
type Subscription struct {
	ID                 int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID             int64      `gorm:"index;not null" json:"user_id"`
	PackageID          int64      `gorm:"not null" json:"package_id"`
	PurchaseNo         string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"purchase_no"`
	Status             string     `gorm:"type:varchar(16);index;not null" json:"status"`
	BillingCycle       string     `gorm:"type:varchar(16);not null" json:"billing_cycle"`
	CurrentPeriodStart time.Time  `gorm:"not null" json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `gorm:"not null" json:"current_period_end"`
	AutoRenew          bool       `gorm:"not null" json:"auto_renew"`
	ActiveKey          *int64     `gorm:"uniqueIndex" json:"-"`
	CanceledAt         *time.Time `json:"canceled_at"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscription"
}

// PeriodEnd 计算周期结束时间
func PeriodEnd(start time.Time, cycle string) time.Time {
	if cycle == BillingCycleYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}
