package model

import (
	"time"
)

const (
	LedgerTypePurchase           = "purchase"
	LedgerTypeUsage              = "usage"
	LedgerTypeAdjustment         = "adjustment"
	LedgerTypeSubscriptionCredit = "subscription_credit"
)

// LedgerEntry 积分流水
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除
// 2. BalanceAfter == BalanceBefore + Amount
// 3. (purchase_id, type) 唯一，重复的结算回调只会落一条流水
type LedgerEntry struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo       string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"`
	UserID        int64     `gorm:"index;not null" json:"user_id"`
	Type          string    `gorm:"type:varchar(32);not null;uniqueIndex:idx_ledger_purchase_type,priority:2" json:"type"`
	Amount        int64     `gorm:"not null" json:"amount"` // 正数入账，负数出账
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	Description   string    `gorm:"type:varchar(256)" json:"description"`
	PurchaseID    *string   `gorm:"type:varchar(64);uniqueIndex:idx_ledger_purchase_type,priority:1" json:"purchase_id,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entry"
}

// ValidLedgerType 校验流水类型
func ValidLedgerType(t string) bool {
	switch t {
	case LedgerTypePurchase, LedgerTypeUsage, LedgerTypeAdjustment, LedgerTypeSubscriptionCredit:
		return true
	}
	return false
}
