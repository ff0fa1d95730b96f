package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"creditengine/internal/config"
	"creditengine/internal/infrastructure/lock"
	"creditengine/internal/infrastructure/metrics"
	"creditengine/internal/model"
	"creditengine/internal/payment"
	"creditengine/internal/repository"
	"creditengine/pkg/idgen"
	"creditengine/pkg/money"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ============================================================================
// 购买编排
// ============================================================================
//
// 状态机：pending -> processing -> completed / failed / canceled
//                   pending -> canceled
//                   pending -> completed（仅免费套餐）
//
// 结算事务（OnSettled 成功分支）全有或全无：
//   1. processing -> completed 条件更新
//   2. 积分入账 或 订阅激活（含赠送积分）
//   3. 优惠码核销 + 使用次数条件递增
//   4. 发票（savepoint，失败只标记 invoice_pending）
//   5. settlement_completed 通知（savepoint，失败只记日志）
//
// 幂等：购买单状态条件更新 + 流水 (purchase_id, type) 唯一索引。
// 分布式锁只用来减少并发回调同时访问网关。
//
// ============================================================================

type PurchaseService struct {
	db             *gorm.DB
	redisClient    *redis.Client
	cfg            *config.Config
	purchaseRepo   *repository.PurchaseRepository
	registry       *payment.Registry
	ledger         *LedgerService
	coupons        *CouponService
	invoices       *InvoiceService
	subscriptions  *SubscriptionService
	notifier       *Notifier
	metrics        *metrics.Metrics
	creditsPerUnit decimal.Decimal
}

func NewPurchaseService(
	db *gorm.DB,
	redisClient *redis.Client,
	cfg *config.Config,
	registry *payment.Registry,
	ledger *LedgerService,
	coupons *CouponService,
	invoices *InvoiceService,
	subscriptions *SubscriptionService,
	notifier *Notifier,
	m *metrics.Metrics,
) *PurchaseService {
	perUnit, err := decimal.NewFromString(cfg.Billing.CreditsPerUnit)
	if err != nil || !perUnit.IsPositive() {
		log.Printf("[Purchase] credits_per_unit 配置无效(%q)，使用默认值 5", cfg.Billing.CreditsPerUnit)
		perUnit = decimal.NewFromInt(5)
	}
	return &PurchaseService{
		db:             db,
		redisClient:    redisClient,
		cfg:            cfg,
		purchaseRepo:   repository.NewPurchaseRepository(db),
		registry:       registry,
		ledger:         ledger,
		coupons:        coupons,
		invoices:       invoices,
		subscriptions:  subscriptions,
		notifier:       notifier,
		metrics:        m,
		creditsPerUnit: perUnit,
	}
}

type CreatePurchaseRequest struct {
	RequestID      string                `json:"request_id" binding:"required"`
	UserID         int64                 `json:"user_id" binding:"required"`
	PurchaseType   string                `json:"purchase_type" binding:"required"`
	Amount         string                `json:"amount"` // credits 购买的金额，十进制字符串
	Currency       string                `json:"currency"`
	PackageID      int64                 `json:"package_id"`
	BillingCycle   string                `json:"billing_cycle"`
	CouponCode     string                `json:"coupon_code"`
	PaymentMethod  string                `json:"payment_method"`
	BillingAddress *model.BillingAddress `json:"billing_address"`
	AutoTopup      bool                  `json:"-"`
}

// Create 创建 pending 购买单；同一 request_id 重复提交返回已有购买单
// 税额在结算开票时计算，这里 total_amount 暂等于实收金额
func (s *PurchaseService) Create(ctx context.Context, req *CreatePurchaseRequest) (*model.Purchase, error) {
	if req.RequestID == "" {
		return nil, validationError("request_id 不能为空")
	}
	if req.UserID <= 0 {
		return nil, validationError("user_id 无效")
	}

	existing, err := s.purchaseRepo.GetByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("查询购买单失败: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	purchase := &model.Purchase{
		PurchaseNo:    idgen.GeneratePurchaseNo(),
		RequestID:     req.RequestID,
		UserID:        req.UserID,
		PurchaseType:  req.PurchaseType,
		PaymentStatus: model.PaymentStatusPending,
		AutoTopup:     req.AutoTopup,
		Metadata:      datatypes.JSONMap{},
	}

	switch req.PurchaseType {
	case model.PurchaseTypeCredits:
		purchase.Currency = s.currencyOf(req.Currency)
		subtotal, err := parseAmount(req.Amount, purchase.Currency)
		if err != nil {
			return nil, err
		}
		if subtotal <= 0 {
			return nil, validationError("购买金额必须大于0")
		}
		purchase.Subtotal = subtotal
		purchase.CreditsAmount = money.Credits(subtotal, purchase.Currency, s.creditsPerUnit)
		if purchase.CreditsAmount <= 0 {
			return nil, validationError("购买金额过小，不足 1 积分")
		}

	case model.PurchaseTypeSubscription:
		if req.PackageID <= 0 {
			return nil, validationError("订阅购买需要 package_id")
		}
		cycle := req.BillingCycle
		if cycle == "" {
			cycle = model.BillingCycleMonthly
		}
		if cycle != model.BillingCycleMonthly && cycle != model.BillingCycleYearly {
			return nil, validationError("billing_cycle 无效: %s", cycle)
		}
		pkg, err := s.subscriptions.subscriptionRepo.GetPackage(ctx, nil, req.PackageID)
		if err != nil {
			return nil, err
		}
		price := pkg.PriceFor(cycle)
		if price <= 0 {
			return nil, validationError("免费套餐请直接激活")
		}
		if err := s.subscriptions.EnsureNoActive(ctx, nil, req.UserID); err != nil {
			return nil, err
		}
		packageID := pkg.ID
		purchase.PackageID = &packageID
		purchase.BillingCycle = cycle
		purchase.Currency = strings.ToUpper(pkg.Currency)
		purchase.Subtotal = price

	default:
		return nil, validationError("purchase_type 无效: %s", req.PurchaseType)
	}

	if req.CouponCode != "" {
		result, err := s.coupons.Validate(ctx, req.CouponCode, req.UserID, purchase.Subtotal, req.PurchaseType)
		if err != nil {
			return nil, err
		}
		couponID := result.Coupon.ID
		purchase.CouponID = &couponID
		purchase.CouponCode = result.Code
		purchase.DiscountAmount = result.DiscountAmount
	}

	purchase.Amount = purchase.Subtotal - purchase.DiscountAmount
	if purchase.Amount <= 0 {
		return nil, validationError("折后金额必须大于0")
	}
	purchase.TotalAmount = purchase.Amount

	if req.PaymentMethod != "" {
		if _, err := s.registry.Get(req.PaymentMethod); err != nil {
			return nil, validationError("支付方式不可用: %s", req.PaymentMethod)
		}
		purchase.PaymentMethod = req.PaymentMethod
	}
	if req.BillingAddress != nil {
		purchase.BillingAddress = datatypes.NewJSONType(*req.BillingAddress)
	}

	if err := s.purchaseRepo.Create(ctx, nil, purchase); err != nil {
		if errors.Is(err, repository.ErrDuplicateRequest) {
			if existing, getErr := s.purchaseRepo.GetByRequestID(ctx, req.RequestID); getErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("创建购买单失败: %w", err)
	}

	s.metrics.Transition(purchase.PaymentMethod, model.PaymentStatusPending)
	log.Printf("[Purchase] 购买单已创建: purchaseNo=%s, userID=%d, type=%s, amount=%d %s",
		purchase.PurchaseNo, purchase.UserID, purchase.PurchaseType, purchase.Amount, purchase.Currency)
	return purchase, nil
}

// BeginSettlement pending -> processing，然后交给渠道发起支付
// 网关拒绝或不可达：置 failed；网关超时：保持 processing 等对账
func (s *PurchaseService) BeginSettlement(ctx context.Context, purchaseNo, method string) (*payment.Handle, error) {
	purchase, err := s.purchaseRepo.GetByPurchaseNo(ctx, nil, purchaseNo)
	if err != nil {
		return nil, err
	}
	if method == "" {
		method = purchase.PaymentMethod
	}
	channel, err := s.registry.Get(method)
	if err != nil {
		return nil, validationError("支付方式不可用: %s", method)
	}
	if purchase.PaymentStatus != model.PaymentStatusPending {
		return nil, fmt.Errorf("%w: 当前状态 %s", ErrPurchaseStatusInvalid, purchase.PaymentStatus)
	}

	purchase.PaymentMethod = method
	err = s.purchaseRepo.UpdateStatus(ctx, nil, purchase, model.PaymentStatusProcessing, map[string]interface{}{
		"payment_method": method,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Transition(method, model.PaymentStatusProcessing)

	handle, err := channel.Initiate(ctx, purchase)
	if err != nil {
		if isGatewayTimeout(err) {
			log.Printf("[Purchase] 发起支付超时，保持 processing: purchaseNo=%s, method=%s, err=%v", purchaseNo, method, err)
			return nil, channelError(err)
		}
		s.markFailed(ctx, purchase, "发起支付失败: "+err.Error())
		return nil, channelError(err)
	}

	meta := mergeMeta(purchase.Metadata, handle.Metadata)
	if handle.RedirectURL != "" {
		meta["redirect_url"] = handle.RedirectURL
	}
	updates := map[string]interface{}{
		"metadata": meta,
	}
	if handle.ProviderID != "" {
		updates["payment_provider_id"] = handle.ProviderID
	}
	if err := s.purchaseRepo.UpdateFields(ctx, nil, purchaseNo, updates); err != nil {
		// 渠道侧已创建会话，保存失败时回调仍可通过购买单号找回
		log.Printf("[Purchase] 保存渠道信息失败: purchaseNo=%s, err=%v", purchaseNo, err)
	}

	log.Printf("[Purchase] 已发起支付: purchaseNo=%s, method=%s, providerID=%s", purchaseNo, method, handle.ProviderID)
	return handle, nil
}

// OnSettled 渠道确认回调，幂等
// 已完成的购买单原样返回；渠道仍未确认返回 ErrSettlementPending
func (s *PurchaseService) OnSettled(ctx context.Context, purchaseNo string, conf payment.Confirmation) (*model.Purchase, error) {
	started := time.Now()

	release, err := lock.Acquire(ctx, lock.NewSettleLock(s.redisClient, purchaseNo, uuid.NewString()), 100*time.Millisecond, 50)
	if err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer release()

	purchase, err := s.purchaseRepo.GetByPurchaseNo(ctx, nil, purchaseNo)
	if err != nil {
		return nil, err
	}

	switch purchase.PaymentStatus {
	case model.PaymentStatusCompleted:
		return purchase, nil
	case model.PaymentStatusPending:
		return nil, fmt.Errorf("%w: 尚未发起支付", ErrPurchaseStatusInvalid)
	case model.PaymentStatusFailed, model.PaymentStatusCanceled:
		return nil, s.lateConfirmation(ctx, purchase, conf)
	}

	channel, err := s.registry.Get(purchase.PaymentMethod)
	if err != nil {
		return nil, channelError(err)
	}

	result, err := channel.Confirm(ctx, purchase, conf)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrNoProviderReference):
			s.metrics.ObserveSettle(purchase.PaymentMethod, "pending", started)
			return nil, err
		case errors.Is(err, payment.ErrConfirmationMismatch):
			log.Printf("[Purchase] 确认信息不匹配: purchaseNo=%s, err=%v", purchaseNo, err)
			s.metrics.ObserveSettle(purchase.PaymentMethod, "mismatch", started)
			return nil, err
		case errors.Is(err, payment.ErrDeclined):
			s.markFailed(ctx, purchase, err.Error())
			s.metrics.ObserveSettle(purchase.PaymentMethod, "failed", started)
			return purchase, nil
		default:
			// 超时或网关不可用时结果未知，保持 processing
			s.metrics.ObserveSettle(purchase.PaymentMethod, "error", started)
			return nil, channelError(err)
		}
	}

	switch result.Status {
	case payment.SettlementPending:
		s.metrics.ObserveSettle(purchase.PaymentMethod, "pending", started)
		return purchase, ErrSettlementPending
	case payment.SettlementFailed:
		s.markFailed(ctx, purchase, result.Reason)
		s.metrics.ObserveSettle(purchase.PaymentMethod, "failed", started)
		return purchase, nil
	}

	settled, err := s.settle(ctx, purchase, result)
	outcome := "completed"
	if err != nil {
		outcome = "error"
	}
	s.metrics.ObserveSettle(purchase.PaymentMethod, outcome, started)
	return settled, err
}

func (s *PurchaseService) settle(ctx context.Context, purchase *model.Purchase, result *payment.SettlementResult) (*model.Purchase, error) {
	purchaseNo := purchase.PurchaseNo
	var invoice *model.Invoice
	var invoiceErr error

	meta := mergeMeta(purchase.Metadata, map[string]interface{}{
		"provider_reference": result.ProviderReference,
	})

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.purchaseRepo.UpdateStatus(ctx, tx, purchase, model.PaymentStatusCompleted, map[string]interface{}{
			"metadata": meta,
		}); err != nil {
			return err
		}

		var subscriptionID *int64
		switch purchase.PurchaseType {
		case model.PurchaseTypeCredits:
			_, err := s.ledger.ApplyTx(ctx, tx, &ApplyRequest{
				UserID:      purchase.UserID,
				Amount:      purchase.CreditsAmount,
				Type:        model.LedgerTypePurchase,
				Description: fmt.Sprintf("购买积分 %s", purchaseNo),
				PurchaseID:  purchaseNo,
			})
			if err != nil {
				return err
			}
		case model.PurchaseTypeSubscription:
			sub, err := s.subscriptions.ActivateTx(ctx, tx, purchase)
			if err != nil {
				return err
			}
			subscriptionID = &sub.ID
		}

		if _, err := s.coupons.RedeemTx(ctx, tx, purchase, subscriptionID); err != nil {
			return err
		}

		invoiceErr = tx.Transaction(func(sp *gorm.DB) error {
			var err error
			invoice, err = s.invoices.GenerateTx(ctx, sp, purchase, subscriptionID)
			return err
		})
		if invoiceErr != nil {
			if err := s.purchaseRepo.UpdateFields(ctx, tx, purchaseNo, map[string]interface{}{"invoice_pending": true}); err != nil {
				return err
			}
			s.notifier.Enqueue(ctx, tx, model.EventInvoiceFailed, purchaseNo, map[string]interface{}{
				"purchase_no": purchaseNo,
				"error":       invoiceErr.Error(),
			})
		} else {
			if err := s.purchaseRepo.UpdateFields(ctx, tx, purchaseNo, map[string]interface{}{
				"tax_amount":   invoice.TaxAmount,
				"total_amount": invoice.TotalAmount,
			}); err != nil {
				return err
			}
		}

		payload := map[string]interface{}{
			"purchase_no":    purchaseNo,
			"user_id":        purchase.UserID,
			"purchase_type":  purchase.PurchaseType,
			"credits_amount": purchase.CreditsAmount,
			"amount":         money.Format(purchase.Amount, purchase.Currency),
			"currency":       purchase.Currency,
		}
		if invoice != nil {
			payload["invoice_number"] = invoice.InvoiceNumber
		}
		s.notifier.Enqueue(ctx, tx, model.EventSettlementComplete, purchaseNo, payload)
		return nil
	})

	if err != nil {
		// 事务已回滚，内存里的状态不可信
		current, getErr := s.purchaseRepo.GetByPurchaseNo(ctx, nil, purchaseNo)
		if getErr != nil {
			return nil, err
		}
		if errors.Is(err, ErrPurchaseStatusInvalid) {
			// 并发回调抢先完成
			if current.PaymentStatus == model.PaymentStatusCompleted {
				return current, nil
			}
			return nil, err
		}
		if errors.Is(err, ErrCoupon) || errors.Is(err, ErrConflictingSubscription) {
			reason := "结算冲突: " + err.Error()
			s.markFailed(ctx, current, reason)
			s.notifier.Enqueue(ctx, nil, model.EventSettlementConflict, purchaseNo, map[string]interface{}{
				"purchase_no":        purchaseNo,
				"user_id":            current.UserID,
				"reason":             reason,
				"provider_reference": result.ProviderReference,
				"action":             "manual_refund",
			})
			return current, err
		}
		log.Printf("[Purchase] 结算事务失败，保持 processing: purchaseNo=%s, err=%v", purchaseNo, err)
		return nil, err
	}

	if invoiceErr != nil {
		s.metrics.InvoiceFailure()
		log.Printf("[Purchase] 发票生成失败，等待补开: purchaseNo=%s, err=%v", purchaseNo, invoiceErr)
	}
	s.metrics.Transition(purchase.PaymentMethod, model.PaymentStatusCompleted)
	log.Printf("[Purchase] 结算完成: purchaseNo=%s, userID=%d, type=%s, credits=%d",
		purchaseNo, purchase.UserID, purchase.PurchaseType, purchase.CreditsAmount)

	return s.purchaseRepo.GetByPurchaseNo(ctx, nil, purchaseNo)
}

// lateConfirmation 已失败或已取消的购买单又收到确认：钱可能已经到账，只通知人工处理
func (s *PurchaseService) lateConfirmation(ctx context.Context, purchase *model.Purchase, conf payment.Confirmation) error {
	channel, err := s.registry.Get(purchase.PaymentMethod)
	if err == nil {
		result, confirmErr := channel.Confirm(ctx, purchase, conf)
		if confirmErr == nil && result.Success() {
			s.notifier.Enqueue(ctx, nil, model.EventSettlementConflict, purchase.PurchaseNo, map[string]interface{}{
				"purchase_no":        purchase.PurchaseNo,
				"user_id":            purchase.UserID,
				"status":             purchase.PaymentStatus,
				"provider_reference": result.ProviderReference,
				"reason":             "终态购买单收到支付成功确认",
				"action":             "manual_refund",
			})
			log.Printf("[Purchase] 终态购买单收到支付确认: purchaseNo=%s, status=%s", purchase.PurchaseNo, purchase.PaymentStatus)
		}
	}
	return fmt.Errorf("%w: 购买单已%s", ErrPurchaseStatusInvalid, purchase.PaymentStatus)
}

// OnFailed 渠道明确失败，无副作用，原因保留
func (s *PurchaseService) OnFailed(ctx context.Context, purchaseNo, reason string) (*model.Purchase, error) {
	purchase, err := s.purchaseRepo.GetByPurchaseNo(ctx, nil, purchaseNo)
	if err != nil {
		return nil, err
	}
	switch purchase.PaymentStatus {
	case model.PaymentStatusFailed:
		return purchase, nil
	case model.PaymentStatusProcessing:
	default:
		return nil, fmt.Errorf("%w: 当前状态 %s", ErrPurchaseStatusInvalid, purchase.PaymentStatus)
	}
	if err := s.failTx(ctx, purchase, reason); err != nil {
		if errors.Is(err, ErrPurchaseStatusInvalid) {
			return s.purchaseRepo.GetByPurchaseNo(ctx, nil, purchaseNo)
		}
		return nil, err
	}
	return purchase, nil
}

// markFailed 记录失败，失败本身只记日志（并发下可能已被其他请求推进）
func (s *PurchaseService) markFailed(ctx context.Context, purchase *model.Purchase, reason string) {
	if err := s.failTx(ctx, purchase, reason); err != nil {
		log.Printf("[Purchase] 标记失败未生效: purchaseNo=%s, status=%s, err=%v", purchase.PurchaseNo, purchase.PaymentStatus, err)
	}
}

func (s *PurchaseService) failTx(ctx context.Context, purchase *model.Purchase, reason string) error {
	reason = truncate(reason, 500)
	if err := s.purchaseRepo.UpdateStatus(ctx, nil, purchase, model.PaymentStatusFailed, map[string]interface{}{
		"failure_reason": reason,
	}); err != nil {
		return err
	}
	purchase.FailureReason = reason
	s.metrics.Transition(purchase.PaymentMethod, model.PaymentStatusFailed)
	log.Printf("[Purchase] 购买单失败: purchaseNo=%s, reason=%s", purchase.PurchaseNo, reason)
	return nil
}

// Cancel 用户放弃支付；已完成的购买单不可取消，只能冲正
func (s *PurchaseService) Cancel(ctx context.Context, purchaseNo string, userID int64) (*model.Purchase, error) {
	purchase, err := s.purchaseRepo.GetByPurchaseNo(ctx, nil, purchaseNo)
	if err != nil {
		return nil, err
	}
	if userID > 0 && purchase.UserID != userID {
		return nil, ErrPurchaseNotFound
	}
	return s.cancel(ctx, purchase, "用户取消")
}

func (s *PurchaseService) cancel(ctx context.Context, purchase *model.Purchase, reason string) (*model.Purchase, error) {
	switch purchase.PaymentStatus {
	case model.PaymentStatusCanceled:
		return purchase, nil
	case model.PaymentStatusPending, model.PaymentStatusProcessing:
	default:
		return nil, fmt.Errorf("%w: %s 状态不可取消", ErrPurchaseStatusInvalid, purchase.PaymentStatus)
	}

	err := s.purchaseRepo.UpdateStatus(ctx, nil, purchase, model.PaymentStatusCanceled, map[string]interface{}{
		"failure_reason": reason,
	})
	if err != nil {
		return nil, err
	}
	purchase.FailureReason = reason
	s.metrics.Transition(purchase.PaymentMethod, model.PaymentStatusCanceled)
	log.Printf("[Purchase] 购买单已取消: purchaseNo=%s, reason=%s", purchase.PurchaseNo, reason)
	return purchase, nil
}

// ExpirePending 超时未发起支付的购买单自动取消
func (s *PurchaseService) ExpirePending(ctx context.Context, purchase *model.Purchase) error {
	_, err := s.cancel(ctx, purchase, "超时未支付")
	return err
}

// Reconcile 主动向渠道查询处理中的购买单
// 到 expireBefore 仍没有结果的购买单置为 failed
func (s *PurchaseService) Reconcile(ctx context.Context, purchaseNo string, expireBefore time.Time) (*model.Purchase, error) {
	purchase, err := s.OnSettled(ctx, purchaseNo, payment.Confirmation{})
	if err == nil {
		return purchase, nil
	}
	// 没有渠道单号时无法查询，只能等超时
	if !errors.Is(err, ErrSettlementPending) && !errors.Is(err, ErrChannel) && !errors.Is(err, payment.ErrNoProviderReference) {
		return purchase, err
	}

	current, getErr := s.purchaseRepo.GetByPurchaseNo(ctx, nil, purchaseNo)
	if getErr != nil {
		return nil, getErr
	}
	if current.PaymentStatus != model.PaymentStatusProcessing {
		return current, err
	}
	if processingSince(current).Before(expireBefore) {
		s.markFailed(ctx, current, "超时未获得支付结果")
		return current, nil
	}
	if touchErr := s.purchaseRepo.Touch(ctx, purchaseNo); touchErr != nil {
		log.Printf("[Purchase] 刷新 updated_at 失败: purchaseNo=%s, err=%v", purchaseNo, touchErr)
	}
	return current, err
}

// processingSince 旧数据没有 processing_at 时退回 created_at
func processingSince(p *model.Purchase) time.Time {
	if p.ProcessingAt != nil {
		return *p.ProcessingAt
	}
	return p.CreatedAt
}

// HandleWebhook 已验签的网关通知
func (s *PurchaseService) HandleWebhook(ctx context.Context, method string, event *payment.WebhookEvent) (*model.Purchase, error) {
	if method == model.PaymentMethodBankTransfer {
		return nil, validationError("线下转账不接受 webhook")
	}

	var purchase *model.Purchase
	var err error
	if event.Reference != "" {
		purchase, err = s.purchaseRepo.GetByPurchaseNo(ctx, nil, event.Reference)
	} else {
		purchase, err = s.purchaseRepo.GetByProviderID(ctx, method, event.ProviderReference)
	}
	if err != nil {
		return nil, err
	}
	if purchase.PaymentMethod != method {
		return nil, fmt.Errorf("%w: 渠道不一致", payment.ErrConfirmationMismatch)
	}

	switch event.Type {
	case payment.WebhookPaymentSucceeded:
		return s.OnSettled(ctx, purchase.PurchaseNo, payment.Confirmation{ProviderReference: event.ProviderReference})
	case payment.WebhookPaymentFailed:
		if event.ProviderReference != "" && event.ProviderReference != purchase.PaymentProviderID {
			return nil, fmt.Errorf("%w: provider id=%s", payment.ErrConfirmationMismatch, event.ProviderReference)
		}
		reason := event.Reason
		if reason == "" {
			reason = "渠道通知支付失败"
		}
		return s.OnFailed(ctx, purchase.PurchaseNo, reason)
	default:
		log.Printf("[Purchase] 忽略未知 webhook 事件: type=%s, purchaseNo=%s", event.Type, purchase.PurchaseNo)
		return purchase, nil
	}
}

func (s *PurchaseService) Get(ctx context.Context, purchaseNo string) (*model.Purchase, error) {
	return s.purchaseRepo.GetByPurchaseNo(ctx, nil, purchaseNo)
}

// GetByProvider 回跳地址只带渠道 ID 时反查购买单
func (s *PurchaseService) GetByProvider(ctx context.Context, method, providerID string) (*model.Purchase, error) {
	return s.purchaseRepo.GetByProviderID(ctx, method, providerID)
}

func (s *PurchaseService) List(ctx context.Context, userID int64, page, pageSize int) ([]*model.Purchase, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return s.purchaseRepo.ListByUserID(ctx, userID, page, pageSize)
}

func (s *PurchaseService) currencyOf(currency string) string {
	if currency == "" {
		return strings.ToUpper(s.cfg.Billing.Currency)
	}
	return strings.ToUpper(currency)
}

func parseAmount(amount, currency string) (int64, error) {
	minor, err := money.Parse(amount, currency)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return minor, nil
}

func mergeMeta(base datatypes.JSONMap, extra map[string]interface{}) datatypes.JSONMap {
	merged := datatypes.JSONMap{}
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
