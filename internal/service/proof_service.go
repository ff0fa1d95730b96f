package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"creditengine/internal/config"
	"creditengine/internal/infrastructure/storage"
	"creditengine/internal/model"
	"creditengine/internal/payment"
	"creditengine/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BlobStore 凭证文件存储，生产环境是 OSS
type BlobStore interface {
	UploadFile(objectKey string, data []byte, contentType string) (string, error)
}

// ProofService 线下转账凭证上传与人工审核
// 审核通过即 OnSettled；驳回只改凭证状态，购买单保持 processing，可以重新上传
type ProofService struct {
	cfg          config.BankTransferConfig
	proofRepo    *repository.ProofRepository
	purchaseRepo *repository.PurchaseRepository
	blob         BlobStore
	purchases    *PurchaseService
}

func NewProofService(db *gorm.DB, cfg config.BankTransferConfig, blob BlobStore, purchases *PurchaseService) *ProofService {
	return &ProofService{
		cfg:          cfg,
		proofRepo:    repository.NewProofRepository(db),
		purchaseRepo: repository.NewPurchaseRepository(db),
		blob:         blob,
		purchases:    purchases,
	}
}

type SubmitProofRequest struct {
	PurchaseNo           string
	UserID               int64
	Filename             string
	Data                 []byte
	TransactionReference string
}

func (s *ProofService) SubmitProof(ctx context.Context, req *SubmitProofRequest) (*model.PaymentProof, error) {
	reference := strings.TrimSpace(req.TransactionReference)
	if reference == "" {
		return nil, validationError("transaction_reference 不能为空")
	}
	if len(req.Data) == 0 {
		return nil, validationError("凭证文件不能为空")
	}
	if s.cfg.MaxProofBytes > 0 && int64(len(req.Data)) > s.cfg.MaxProofBytes {
		return nil, validationError("凭证文件超过 %d 字节", s.cfg.MaxProofBytes)
	}
	ext := strings.ToLower(filepath.Ext(req.Filename))
	contentType := storage.ContentTypeFor(ext)
	if contentType == "" {
		return nil, validationError("不支持的凭证格式: %s", ext)
	}

	purchase, err := s.purchaseRepo.GetByPurchaseNo(ctx, nil, req.PurchaseNo)
	if err != nil {
		return nil, err
	}
	if purchase.UserID != req.UserID {
		return nil, ErrPurchaseNotFound
	}
	if purchase.PaymentMethod != model.PaymentMethodBankTransfer || purchase.PaymentStatus != model.PaymentStatusProcessing {
		return nil, fmt.Errorf("%w: 只有处理中的线下转账购买单可以上传凭证", ErrPurchaseStatusInvalid)
	}

	pending, err := s.proofRepo.CountPendingByPurchase(ctx, purchase.PurchaseNo)
	if err != nil {
		return nil, err
	}
	if pending > 0 {
		return nil, fmt.Errorf("%w: 已有凭证等待审核", ErrPurchaseStatusInvalid)
	}

	objectKey := fmt.Sprintf("payment-proofs/%s/%s%s", purchase.PurchaseNo, uuid.NewString(), ext)
	url, err := s.blob.UploadFile(objectKey, req.Data, contentType)
	if err != nil {
		return nil, fmt.Errorf("上传凭证失败: %w", err)
	}

	proof := &model.PaymentProof{
		PurchaseNo:           purchase.PurchaseNo,
		UserID:               purchase.UserID,
		FileURL:              url,
		ObjectKey:            objectKey,
		TransactionReference: reference,
		Status:               model.ProofStatusPendingReview,
	}
	if err := s.proofRepo.Create(ctx, proof); err != nil {
		return nil, fmt.Errorf("保存凭证失败: %w", err)
	}
	log.Printf("[Proof] 凭证已提交: purchaseNo=%s, proofID=%d, reference=%s", purchase.PurchaseNo, proof.ID, reference)
	return proof, nil
}

type ReviewProofRequest struct {
	ProofID  int64  `json:"proof_id" binding:"required"`
	Approve  bool   `json:"approve"`
	Reviewer string `json:"reviewer" binding:"required"`
	Note     string `json:"note"`
}

// ReviewProof 审核凭证；已通过但结算未完成的凭证再次提交通过会重试结算
func (s *ProofService) ReviewProof(ctx context.Context, req *ReviewProofRequest) (*model.PaymentProof, *model.Purchase, error) {
	proof, err := s.proofRepo.GetByID(ctx, nil, req.ProofID)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case proof.Status == model.ProofStatusApproved && req.Approve:
		// 重试结算
	case proof.Status != model.ProofStatusPendingReview:
		return nil, nil, fmt.Errorf("%w: 凭证已%s", repository.ErrProofStatusInvalid, proof.Status)
	case !req.Approve:
		if err := s.proofRepo.Review(ctx, proof, model.ProofStatusRejected, req.Reviewer, req.Note); err != nil {
			return nil, nil, err
		}
		log.Printf("[Proof] 凭证已驳回: proofID=%d, purchaseNo=%s, reviewer=%s", proof.ID, proof.PurchaseNo, req.Reviewer)
		purchase, err := s.purchaseRepo.GetByPurchaseNo(ctx, nil, proof.PurchaseNo)
		return proof, purchase, err
	default:
		if err := s.proofRepo.Review(ctx, proof, model.ProofStatusApproved, req.Reviewer, req.Note); err != nil {
			return nil, nil, err
		}
		log.Printf("[Proof] 凭证已通过: proofID=%d, purchaseNo=%s, reviewer=%s", proof.ID, proof.PurchaseNo, req.Reviewer)
	}

	purchase, err := s.purchases.OnSettled(ctx, proof.PurchaseNo, payment.Confirmation{Proof: proof})
	if err != nil && !errors.Is(err, ErrSettlementPending) {
		return proof, purchase, err
	}
	return proof, purchase, nil
}

func (s *ProofService) ListProofs(ctx context.Context, purchaseNo string) ([]*model.PaymentProof, error) {
	return s.proofRepo.ListByPurchase(ctx, purchaseNo)
}
