package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	InvoiceStatusPaid    = "paid"
	InvoiceStatusSent    = "sent"
	InvoiceStatusOverdue = "overdue"
)

const (
	InvoiceKindInvoice    = "invoice"
	InvoiceKindCreditNote = "credit_note"
)

// Invoice 发票，结算时生成，生成后金额字段不再修改
// 更正只能通过新的 credit_note 冲红
type Invoice struct {
	ID                int64                              `gorm:"primaryKey;autoIncrement" json:"id"`
	InvoiceNumber     string                             `gorm:"type:varchar(64);uniqueIndex;not null" json:"invoice_number"`
	Tenant            string                             `gorm:"type:varchar(64);not null;uniqueIndex:idx_invoice_tenant_seq,priority:1" json:"tenant"`
	Seq               int64                              `gorm:"not null;uniqueIndex:idx_invoice_tenant_seq,priority:2" json:"seq"`
	Kind              string                             `gorm:"type:varchar(16);not null;uniqueIndex:idx_invoice_purchase_kind,priority:2" json:"kind"`
	PurchaseNo        string                             `gorm:"type:varchar(64);not null;uniqueIndex:idx_invoice_purchase_kind,priority:1" json:"purchase_no"`
	SubscriptionID    *int64                             `json:"subscription_id,omitempty"`
	CorrectsInvoiceID *int64                             `json:"corrects_invoice_id,omitempty"`
	UserID            int64                              `gorm:"index;not null" json:"user_id"`
	Currency          string                             `gorm:"type:varchar(8);not null" json:"currency"`
	Subtotal          int64                              `gorm:"not null" json:"subtotal"`
	DiscountAmount    int64                              `gorm:"not null;default:0" json:"discount_amount"`
	DiscountCode      string                             `gorm:"type:varchar(64)" json:"discount_code,omitempty"`
	TaxRate           decimal.Decimal                    `gorm:"type:decimal(7,4);not null" json:"tax_rate"`
	TaxAmount         int64                              `gorm:"not null;default:0" json:"tax_amount"`
	TotalAmount       int64                              `gorm:"not null" json:"total_amount"`
	Status            string                             `gorm:"type:varchar(16);not null" json:"status"`
	BillingAddress    datatypes.JSONType[BillingAddress] `json:"billing_address"`
	Items             []InvoiceItem                      `gorm:"foreignKey:InvoiceID" json:"items"`
	IssuedAt          time.Time                          `gorm:"not null" json:"issued_at"`
	CreatedAt         time.Time                          `gorm:"autoCreateTime" json:"created_at"`
}

func (Invoice) TableName() string {
	return "invoice"
}

type InvoiceItem struct {
	ID          int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	InvoiceID   int64  `gorm:"index;not null" json:"invoice_id"`
	Description string `gorm:"type:varchar(256);not null" json:"description"`
	Quantity    int64  `gorm:"not null" json:"quantity"`
	UnitAmount  int64  `gorm:"not null" json:"unit_amount"`
	Amount      int64  `gorm:"not null" json:"amount"`
}

func (InvoiceItem) TableName() string {
	return "invoice_item"
}

// InvoiceSequence 每个租户一行，发票号在同一事务内行锁递增
type InvoiceSequence struct {
	Tenant    string    `gorm:"type:varchar(64);primaryKey" json:"tenant"`
	LastSeq   int64     `gorm:"not null;default:0" json:"last_seq"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (InvoiceSequence) TableName() string {
	return "invoice_sequence"
}

// TaxRate 税率配置
type TaxRate struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Jurisdiction string          `gorm:"type:varchar(32);index" json:"jurisdiction"`
	Rate         decimal.Decimal `gorm:"type:decimal(7,4);not null" json:"rate"`
	IsDefault    bool            `gorm:"not null;default:false" json:"is_default"`
	IsActive     bool            `gorm:"not null" json:"is_active"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (TaxRate) TableName() string {
	return "tax_rate"
}
