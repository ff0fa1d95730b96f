package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	PaymentStatusPending    = "pending"
	PaymentStatusProcessing = "processing"
	PaymentStatusCompleted  = "completed"
	PaymentStatusFailed     = "failed"
	PaymentStatusCanceled   = "canceled"
)

// ValidStatusTransitions 购买单状态机
// pending -> completed 只允许免费套餐（PaymentMethodFree）走，见 CanTransitionFor
var ValidStatusTransitions = map[string][]string{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusCanceled, PaymentStatusCompleted},
	PaymentStatusProcessing: {PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCanceled},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// CanTransitionFor 在状态机基础上叠加支付方式的限制
func CanTransitionFor(method, currentStatus, targetStatus string) bool {
	if currentStatus == PaymentStatusPending && targetStatus == PaymentStatusCompleted {
		return method == PaymentMethodFree
	}
	return CanTransitionTo(currentStatus, targetStatus)
}

// IsTerminal 终态不再变化
func IsTerminal(status string) bool {
	return status == PaymentStatusCompleted || status == PaymentStatusFailed || status == PaymentStatusCanceled
}

const (
	PurchaseTypeCredits      = "credits"
	PurchaseTypeSubscription = "subscription"
)

const (
	PaymentMethodCheckout     = "checkout"
	PaymentMethodCardIntent   = "card_intent"
	PaymentMethodWallet       = "wallet"
	PaymentMethodBankTransfer = "bank_transfer"
	PaymentMethodFree         = "free"
)

// BillingAddress 账单地址，随购买单保存，开票时使用
type BillingAddress struct {
	Name       string `json:"name,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Purchase 一次结账尝试
// PurchaseNo 对外暴露，同时是结算幂等键
type Purchase struct {
	ID                int64                              `gorm:"primaryKey;autoIncrement" json:"id"`
	PurchaseNo        string                             `gorm:"type:varchar(64);uniqueIndex;not null" json:"purchase_no"`
	RequestID         string                             `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"`
	UserID            int64                              `gorm:"index;not null" json:"user_id"`
	PurchaseType      string                             `gorm:"type:varchar(20);not null" json:"purchase_type"`
	Currency          string                             `gorm:"type:varchar(8);not null" json:"currency"`
	Amount            int64                              `gorm:"not null" json:"amount"` // 通过渠道实际收取的金额 = Subtotal - DiscountAmount
	CreditsAmount     int64                              `gorm:"not null;default:0" json:"credits_amount"`
	Subtotal          int64                              `gorm:"not null" json:"subtotal"`
	DiscountAmount    int64                              `gorm:"not null;default:0" json:"discount_amount"`
	TaxAmount         int64                              `gorm:"not null;default:0" json:"tax_amount"`
	TotalAmount       int64                              `gorm:"not null" json:"total_amount"`
	CouponID          *int64                             `json:"coupon_id,omitempty"`
	CouponCode        string                             `gorm:"type:varchar(64)" json:"coupon_code,omitempty"`
	PackageID         *int64                             `json:"package_id,omitempty"`
	BillingCycle      string                             `gorm:"type:varchar(16)" json:"billing_cycle,omitempty"`
	PaymentMethod     string                             `gorm:"type:varchar(32)" json:"payment_method"`
	PaymentStatus     string                             `gorm:"type:varchar(20);index;not null" json:"payment_status"`
	PaymentProviderID string                             `gorm:"type:varchar(128);index" json:"payment_provider_id"`
	Metadata          datatypes.JSONMap                  `json:"metadata"`
	BillingAddress    datatypes.JSONType[BillingAddress] `json:"billing_address"`
	FailureReason     string                             `gorm:"type:varchar(512)" json:"failure_reason,omitempty"`
	InvoicePending    bool                               `gorm:"not null;default:false;index" json:"invoice_pending"`
	AutoTopup         bool                               `gorm:"not null;default:false" json:"auto_topup"`
	ProcessingAt      *time.Time                         `json:"processing_at,omitempty"` // 进入 processing 的时间，对账超时从此起算
	CompletedAt       *time.Time                         `json:"completed_at"`
	ReversedAt        *time.Time                         `json:"reversed_at"`
	CreatedAt         time.Time                          `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time                          `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Purchase) TableName() string {
	return "purchase"
}

// MetaString 读取渠道元数据中的字符串字段
func (p *Purchase) MetaString(key string) string {
	if p.Metadata == nil {
		return ""
	}
	if v, ok := p.Metadata[key].(string); ok {
		return v
	}
	return ""
}
