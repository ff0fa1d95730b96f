package model

import (
	"time"
)

const (
	ProofStatusPendingReview = "pending_review"
	ProofStatusApproved      = "approved"
	ProofStatusRejected      = "rejected"
)

// PaymentProof 线下转账凭证，人工审核通过后才会触发结算
// 被驳回的凭证保留，用户可以重新上传
type PaymentProof struct {
	ID                   int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	PurchaseNo           string     `gorm:"type:varchar(64);index;not null" json:"purchase_no"`
	UserID               int64      `gorm:"index;not null" json:"user_id"`
	FileURL              string     `gorm:"type:varchar(512);not null" json:"file_url"`
	ObjectKey            string     `gorm:"type:varchar(256);not null" json:"object_key"`
	TransactionReference string     `gorm:"type:varchar(128);not null" json:"transaction_reference"`
	Status               string     `gorm:"type:varchar(20);index;not null" json:"status"`
	Reviewer             string     `gorm:"type:varchar(64)" json:"reviewer,omitempty"`
	ReviewNote           string     `gorm:"type:varchar(512)" json:"review_note,omitempty"`
	ReviewedAt           *time.Time `json:"reviewed_at"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PaymentProof) TableName() string {
	return "payment_proof"
}
