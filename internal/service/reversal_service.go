package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"creditengine/internal/model"
	"creditengine/internal/repository"
	"creditengine/pkg/idgen"

	"gorm.io/gorm"
)

// ReversalService 冲正已完成的购买单
// 已完成的购买单和流水都不改写，只追加 adjustment 流水和冲红发票
type ReversalService struct {
	db               *gorm.DB
	purchaseRepo     *repository.PurchaseRepository
	ledgerRepo       *repository.LedgerRepository
	invoiceRepo      *repository.InvoiceRepository
	subscriptionRepo *repository.SubscriptionRepository
	ledger           *LedgerService
	invoices         *InvoiceService
	notifier         *Notifier
}

func NewReversalService(db *gorm.DB, ledger *LedgerService, invoices *InvoiceService, notifier *Notifier) *ReversalService {
	return &ReversalService{
		db:               db,
		purchaseRepo:     repository.NewPurchaseRepository(db),
		ledgerRepo:       repository.NewLedgerRepository(db),
		invoiceRepo:      repository.NewInvoiceRepository(db),
		subscriptionRepo: repository.NewSubscriptionRepository(db),
		ledger:           ledger,
		invoices:         invoices,
		notifier:         notifier,
	}
}

type ReverseRequest struct {
	PurchaseNo string `json:"purchase_no" binding:"required"`
	Reason     string `json:"reason" binding:"required"`
	Operator   string `json:"operator"`
}

// Reverse 同一购买单只会冲正一次，重复调用返回已冲正的购买单
func (s *ReversalService) Reverse(ctx context.Context, req *ReverseRequest) (*model.Purchase, error) {
	var reversed *model.Purchase
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		purchase, err := s.purchaseRepo.GetByPurchaseNo(ctx, tx, req.PurchaseNo)
		if err != nil {
			return err
		}
		if purchase.PaymentStatus != model.PaymentStatusCompleted {
			return fmt.Errorf("%w: 当前状态 %s", ErrNotReversible, purchase.PaymentStatus)
		}
		if purchase.ReversedAt != nil {
			reversed = purchase
			return nil
		}

		amount, err := s.creditsToReverse(ctx, tx, purchase)
		if err != nil {
			return err
		}
		if amount > 0 {
			_, err := s.ledger.ApplyTx(ctx, tx, &ApplyRequest{
				UserID:      purchase.UserID,
				Amount:      -amount,
				Type:        model.LedgerTypeAdjustment,
				Description: fmt.Sprintf("冲正 %s: %s", purchase.PurchaseNo, req.Reason),
				PurchaseID:  purchase.PurchaseNo,
			})
			if err != nil {
				return err
			}
		}

		invoice, err := s.invoiceRepo.GetByPurchaseNo(ctx, tx, purchase.PurchaseNo, model.InvoiceKindInvoice)
		if err != nil {
			return err
		}
		if invoice != nil {
			if _, err := s.invoices.GenerateCreditNote(ctx, tx, invoice); err != nil {
				return err
			}
		}

		now := time.Now()
		meta := mergeMeta(purchase.Metadata, map[string]interface{}{
			"reversal_no":       idgen.GenerateReversalNo(),
			"reversal_reason":   req.Reason,
			"reversal_operator": req.Operator,
		})
		if err := s.purchaseRepo.UpdateFields(ctx, tx, purchase.PurchaseNo, map[string]interface{}{
			"reversed_at": &now,
			"metadata":    meta,
		}); err != nil {
			return err
		}
		purchase.ReversedAt = &now
		purchase.Metadata = meta

		s.notifier.Enqueue(ctx, tx, model.EventPurchaseReversed, purchase.PurchaseNo, map[string]interface{}{
			"purchase_no":      purchase.PurchaseNo,
			"user_id":          purchase.UserID,
			"credits_reversed": amount,
			"reason":           req.Reason,
		})
		reversed = purchase
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[Reversal] 冲正完成: purchaseNo=%s, operator=%s", req.PurchaseNo, req.Operator)
	return reversed, nil
}

// creditsToReverse 积分购买扣回购买的积分；订阅先取消，再扣回实际发放的赠送积分
func (s *ReversalService) creditsToReverse(ctx context.Context, tx *gorm.DB, purchase *model.Purchase) (int64, error) {
	if purchase.PurchaseType == model.PurchaseTypeCredits {
		return purchase.CreditsAmount, nil
	}

	sub, err := s.subscriptionRepo.GetByPurchaseNo(ctx, tx, purchase.PurchaseNo)
	if err != nil && !errors.Is(err, repository.ErrSubscriptionNotFound) {
		return 0, err
	}
	if sub != nil && sub.Status == model.SubscriptionStatusActive {
		if err := s.subscriptionRepo.Cancel(ctx, tx, sub); err != nil {
			return 0, err
		}
	}

	granted, err := s.ledgerRepo.GetByPurchaseAndType(ctx, tx, purchase.PurchaseNo, model.LedgerTypeSubscriptionCredit)
	if err != nil {
		return 0, err
	}
	if granted == nil {
		return 0, nil
	}
	return granted.Amount, nil
}
