package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 通知事件类型
const (
	EventLowCredit          = "low_credit"
	EventSettlementComplete = "settlement_completed"
	EventSettlementConflict = "settlement_conflict"
	EventInvoiceFailed      = "invoice_failed"
	EventPurchaseReversed   = "purchase_reversed"
)

// OutboxMessage 通知发件箱，与业务写入同事务落库，由 NotificationSender 异步投递
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	EventType  string    `gorm:"type:varchar(32);not null" json:"event_type"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	LastError  string    `gorm:"type:varchar(255)" json:"last_error,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// AllModels 自动迁移的全部表
func AllModels() []interface{} {
	return []interface{}{
		&CreditBalance{},
		&LedgerEntry{},
		&Purchase{},
		&Coupon{},
		&CouponRedemption{},
		&Invoice{},
		&InvoiceItem{},
		&InvoiceSequence{},
		&TaxRate{},
		&Package{},
		&Subscription{},
		&PaymentProof{},
		&OutboxMessage{},
	}
}
