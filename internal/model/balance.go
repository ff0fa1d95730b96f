package model

import (
	"time"
)

// CreditBalance 用户积分账户
// 每个用户一行，余额变动只能通过 LedgerService.Apply 完成
//
// 不变式：
//   - Balance == TotalPurchased - TotalUsed
//   - ServicesPaused == (Balance <= 0)
type CreditBalance struct {
	ID                   int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID               int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance              int64     `gorm:"not null;default:0" json:"balance"`
	TotalPurchased       int64     `gorm:"not null;default:0" json:"total_purchased"`
	TotalUsed            int64     `gorm:"not null;default:0" json:"total_used"`
	LowCreditThreshold   int64     `gorm:"not null;default:0" json:"low_credit_threshold"`
	LowCreditNotified    bool      `gorm:"not null;default:false" json:"low_credit_notified"`
	AutoTopupEnabled     bool      `gorm:"not null;default:false" json:"auto_topup_enabled"`
	AutoTopupAmount      int64     `gorm:"not null;default:0" json:"auto_topup_amount"`    // 自动充值金额（最小货币单位）
	AutoTopupThreshold   int64     `gorm:"not null;default:0" json:"auto_topup_threshold"` // 积分低于该值时触发
	DefaultPaymentMethod string    `gorm:"type:varchar(32)" json:"default_payment_method"`
	Currency             string    `gorm:"type:varchar(8);not null;default:USD" json:"currency"`
	AllowNegative        bool      `gorm:"not null;default:false" json:"allow_negative"`
	ServicesPaused       bool      `gorm:"not null" json:"services_paused"`
	Version              int       `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CreditBalance) TableName() string {
	return "credit_balance"
}
