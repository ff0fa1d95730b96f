package repository

import (
	"context"
	"errors"
	"time"

	"creditengine/internal/model"

	"gorm.io/gorm"
)

var (
	ErrProofNotFound      = errors.New("转账凭证不存在")
	ErrProofStatusInvalid = errors.New("转账凭证状态不合法")
)

type ProofRepository struct {
	db *gorm.DB
}

func NewProofRepository(db *gorm.DB) *ProofRepository {
	return &ProofRepository{db: db}
}

func (r *ProofRepository) Create(ctx context.Context, proof *model.PaymentProof) error {
	return r.db.WithContext(ctx).Create(proof).Error
}

func (r *ProofRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.PaymentProof, error) {
	if tx == nil {
		tx = r.db
	}
	var proof model.PaymentProof
	err := tx.WithContext(ctx).Where("id = ?", id).First(&proof).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProofNotFound
		}
		return nil, err
	}
	return &proof, nil
}

func (r *ProofRepository) CountPendingByPurchase(ctx context.Context, purchaseNo string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.PaymentProof{}).
		Where("purchase_no = ? AND status = ?", purchaseNo, model.ProofStatusPendingReview).
		Count(&count).Error
	return count, err
}

func (r *ProofRepository) ListByPurchase(ctx context.Context, purchaseNo string) ([]*model.PaymentProof, error) {
	var proofs []*model.PaymentProof
	err := r.db.WithContext(ctx).
		Where("purchase_no = ?", purchaseNo).
		Order("id ASC").
		Find(&proofs).Error
	return proofs, err
}

// Review 审核凭证，只能从 pending_review 流转
func (r *ProofRepository) Review(ctx context.Context, proof *model.PaymentProof, toStatus, reviewer, note string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&model.PaymentProof{}).
		Where("id = ? AND status = ?", proof.ID, model.ProofStatusPendingReview).
		Updates(map[string]interface{}{
			"status":      toStatus,
			"reviewer":    reviewer,
			"review_note": note,
			"reviewed_at": &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProofStatusInvalid
	}
	proof.Status = toStatus
	proof.Reviewer = reviewer
	proof.ReviewNote = note
	proof.ReviewedAt = &now
	return nil
}
