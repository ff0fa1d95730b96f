package service

import (
	"context"
	"fmt"
	"log"

	"creditengine/internal/model"
	"creditengine/internal/repository"
	"creditengine/pkg/money"

	"gorm.io/gorm"
)

// TopupService 自动充值：扣费后余额低于阈值时，自动创建积分购买单并发起支付
// 只是购买单的生产者，结算仍走 PurchaseService；任何失败只记日志，扣费不回滚
type TopupService struct {
	purchaseRepo *repository.PurchaseRepository
	purchases    *PurchaseService
}

func NewTopupService(db *gorm.DB, purchases *PurchaseService) *TopupService {
	return &TopupService{
		purchaseRepo: repository.NewPurchaseRepository(db),
		purchases:    purchases,
	}
}

// OnUsage 实现 UsageObserver
func (s *TopupService) OnUsage(ctx context.Context, balance *model.CreditBalance, entry *model.LedgerEntry) {
	if _, err := s.Evaluate(ctx, balance, entry); err != nil {
		log.Printf("[Topup] 自动充值失败: userID=%d, entryNo=%s, err=%v", balance.UserID, entry.EntryNo, err)
	}
}

// Evaluate 返回创建的购买单，没有触发时返回 nil, nil
func (s *TopupService) Evaluate(ctx context.Context, balance *model.CreditBalance, entry *model.LedgerEntry) (*model.Purchase, error) {
	if !balance.AutoTopupEnabled || balance.AutoTopupAmount <= 0 || balance.DefaultPaymentMethod == "" {
		return nil, nil
	}
	if balance.Balance >= balance.AutoTopupThreshold {
		return nil, nil
	}

	open, err := s.purchaseRepo.HasOpenAutoTopup(ctx, balance.UserID)
	if err != nil {
		return nil, fmt.Errorf("查询自动充值失败: %w", err)
	}
	if open {
		return nil, nil
	}

	purchase, err := s.purchases.Create(ctx, &CreatePurchaseRequest{
		RequestID:     "topup-" + entry.EntryNo,
		UserID:        balance.UserID,
		PurchaseType:  model.PurchaseTypeCredits,
		Amount:        money.Format(balance.AutoTopupAmount, balance.Currency),
		Currency:      balance.Currency,
		PaymentMethod: balance.DefaultPaymentMethod,
		AutoTopup:     true,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.purchases.BeginSettlement(ctx, purchase.PurchaseNo, balance.DefaultPaymentMethod); err != nil {
		return purchase, err
	}
	log.Printf("[Topup] 已触发自动充值: userID=%d, purchaseNo=%s, amount=%d %s",
		balance.UserID, purchase.PurchaseNo, balance.AutoTopupAmount, balance.Currency)
	return s.purchaseRepo.GetByPurchaseNo(ctx, nil, purchase.PurchaseNo)
}
