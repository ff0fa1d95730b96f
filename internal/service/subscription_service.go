package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"creditengine/internal/infrastructure/metrics"
	"creditengine/internal/model"
	"creditengine/internal/repository"
	"creditengine/pkg/idgen"

	"gorm.io/gorm"
)

// SubscriptionService 订阅激活
// 每个用户同一时间至多一个 active 订阅（免费和付费都算）
type SubscriptionService struct {
	db               *gorm.DB
	subscriptionRepo *repository.SubscriptionRepository
	purchaseRepo     *repository.PurchaseRepository
	ledger           *LedgerService
	notifier         *Notifier
	metrics          *metrics.Metrics
	now              func() time.Time
}

func NewSubscriptionService(db *gorm.DB, ledger *LedgerService, notifier *Notifier, m *metrics.Metrics) *SubscriptionService {
	return &SubscriptionService{
		db:               db,
		subscriptionRepo: repository.NewSubscriptionRepository(db),
		purchaseRepo:     repository.NewPurchaseRepository(db),
		ledger:           ledger,
		notifier:         notifier,
		metrics:          m,
		now:              time.Now,
	}
}

// EnsureNoActive 下单前的提前检查，结算事务内还会再查一次
func (s *SubscriptionService) EnsureNoActive(ctx context.Context, tx *gorm.DB, userID int64) error {
	active, err := s.subscriptionRepo.GetActiveByUserID(ctx, tx, userID)
	if err != nil {
		return fmt.Errorf("查询订阅失败: %w", err)
	}
	if active != nil {
		return fmt.Errorf("%w: subscription=%d", ErrConflictingSubscription, active.ID)
	}
	return nil
}

// ActivateTx 在结算事务内激活订阅，并发放套餐赠送积分
// 同一购买单重复调用返回已激活的订阅
func (s *SubscriptionService) ActivateTx(ctx context.Context, tx *gorm.DB, purchase *model.Purchase) (*model.Subscription, error) {
	if purchase.PackageID == nil {
		return nil, validationError("订阅购买单缺少套餐")
	}
	pkg, err := s.subscriptionRepo.GetPackage(ctx, tx, *purchase.PackageID)
	if err != nil {
		return nil, err
	}

	active, err := s.subscriptionRepo.GetActiveByUserID(ctx, tx, purchase.UserID)
	if err != nil {
		return nil, fmt.Errorf("查询订阅失败: %w", err)
	}
	if active != nil {
		if active.PurchaseNo == purchase.PurchaseNo {
			return active, nil
		}
		return nil, fmt.Errorf("%w: subscription=%d", ErrConflictingSubscription, active.ID)
	}

	cycle := purchase.BillingCycle
	if cycle == "" {
		cycle = model.BillingCycleMonthly
	}
	start := s.now()
	sub := &model.Subscription{
		UserID:             purchase.UserID,
		PackageID:          pkg.ID,
		PurchaseNo:         purchase.PurchaseNo,
		Status:             model.SubscriptionStatusActive,
		BillingCycle:       cycle,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   model.PeriodEnd(start, cycle),
		AutoRenew:          pkg.Tier == model.PackageTierPaid,
	}
	if err := s.subscriptionRepo.Create(ctx, tx, sub); err != nil {
		if errors.Is(err, repository.ErrActiveSubscription) {
			return nil, ErrConflictingSubscription
		}
		return nil, fmt.Errorf("创建订阅失败: %w", err)
	}

	if pkg.IncludedCredits > 0 {
		_, err := s.ledger.ApplyTx(ctx, tx, &ApplyRequest{
			UserID:      purchase.UserID,
			Amount:      pkg.IncludedCredits,
			Type:        model.LedgerTypeSubscriptionCredit,
			Description: fmt.Sprintf("订阅赠送积分: %s", pkg.Name),
			PurchaseID:  purchase.PurchaseNo,
		})
		if err != nil {
			return nil, err
		}
	}
	return sub, nil
}

type ActivateFreeRequest struct {
	RequestID    string `json:"request_id" binding:"required"`
	UserID       int64  `json:"user_id" binding:"required"`
	PackageID    int64  `json:"package_id" binding:"required"`
	BillingCycle string `json:"billing_cycle"`
}

// ActivateFree 免费套餐不经过支付渠道，购买单直接 pending -> completed
func (s *SubscriptionService) ActivateFree(ctx context.Context, req *ActivateFreeRequest) (*model.Subscription, error) {
	if req.RequestID == "" {
		return nil, validationError("request_id 不能为空")
	}
	cycle := req.BillingCycle
	if cycle == "" {
		cycle = model.BillingCycleMonthly
	}
	if cycle != model.BillingCycleMonthly && cycle != model.BillingCycleYearly {
		return nil, validationError("billing_cycle 无效: %s", cycle)
	}

	// 幂等
	existing, err := s.purchaseRepo.GetByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("查询购买单失败: %w", err)
	}
	if existing != nil {
		return s.subscriptionRepo.GetByPurchaseNo(ctx, nil, existing.PurchaseNo)
	}

	pkg, err := s.subscriptionRepo.GetPackage(ctx, nil, req.PackageID)
	if err != nil {
		return nil, err
	}
	if pkg.Tier != model.PackageTierFree || pkg.PriceFor(cycle) != 0 {
		return nil, validationError("付费套餐需要通过购买单结算")
	}
	if err := s.EnsureNoActive(ctx, nil, req.UserID); err != nil {
		return nil, err
	}

	packageID := pkg.ID
	purchase := &model.Purchase{
		PurchaseNo:    idgen.GeneratePurchaseNo(),
		RequestID:     req.RequestID,
		UserID:        req.UserID,
		PurchaseType:  model.PurchaseTypeSubscription,
		Currency:      pkg.Currency,
		PackageID:     &packageID,
		BillingCycle:  cycle,
		PaymentMethod: model.PaymentMethodFree,
		PaymentStatus: model.PaymentStatusPending,
	}

	var sub *model.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.purchaseRepo.Create(ctx, tx, purchase); err != nil {
			return err
		}
		if err := s.purchaseRepo.UpdateStatus(ctx, tx, purchase, model.PaymentStatusCompleted, nil); err != nil {
			return err
		}
		var err error
		sub, err = s.ActivateTx(ctx, tx, purchase)
		if err != nil {
			return err
		}
		s.notifier.Enqueue(ctx, tx, model.EventSettlementComplete, purchase.PurchaseNo, map[string]interface{}{
			"purchase_no":     purchase.PurchaseNo,
			"user_id":         purchase.UserID,
			"purchase_type":   purchase.PurchaseType,
			"subscription_id": sub.ID,
		})
		return nil
	})
	if errors.Is(err, repository.ErrDuplicateRequest) {
		// 同一 request_id 并发提交
		existing, getErr := s.purchaseRepo.GetByRequestID(ctx, req.RequestID)
		if getErr != nil || existing == nil {
			return nil, err
		}
		return s.subscriptionRepo.GetByPurchaseNo(ctx, nil, existing.PurchaseNo)
	}
	if err != nil {
		return nil, err
	}

	s.metrics.Transition(model.PaymentMethodFree, model.PaymentStatusCompleted)
	log.Printf("[Subscription] 免费套餐已激活: userID=%d, package=%d, purchaseNo=%s", req.UserID, pkg.ID, purchase.PurchaseNo)
	return sub, nil
}

// Cancel 取消订阅，释放 active 名额，不退款
func (s *SubscriptionService) Cancel(ctx context.Context, userID, subscriptionID int64) (*model.Subscription, error) {
	sub, err := s.subscriptionRepo.GetByID(ctx, nil, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.UserID != userID {
		return nil, ErrSubscriptionNotFound
	}
	if sub.Status != model.SubscriptionStatusActive {
		return sub, nil
	}
	if err := s.subscriptionRepo.Cancel(ctx, nil, sub); err != nil {
		return nil, err
	}
	log.Printf("[Subscription] 订阅已取消: userID=%d, subscription=%d", userID, subscriptionID)
	return sub, nil
}

// GetActive 没有生效订阅时返回 nil, nil
func (s *SubscriptionService) GetActive(ctx context.Context, userID int64) (*model.Subscription, error) {
	return s.subscriptionRepo.GetActiveByUserID(ctx, nil, userID)
}
