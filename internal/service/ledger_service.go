package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"creditengine/internal/config"
	"creditengine/internal/infrastructure/lock"
	"creditengine/internal/infrastructure/metrics"
	"creditengine/internal/model"
	"creditengine/internal/repository"
	"creditengine/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UsageObserver 每次计量扣费成功后回调，由自动充值实现
type UsageObserver interface {
	OnUsage(ctx context.Context, balance *model.CreditBalance, entry *model.LedgerEntry)
}

// LedgerService 积分账本，唯一允许修改余额的入口
type LedgerService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	balanceRepo *repository.BalanceRepository
	ledgerRepo  *repository.LedgerRepository
	notifier    *Notifier
	metrics     *metrics.Metrics
	observer    UsageObserver
}

func NewLedgerService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, notifier *Notifier, m *metrics.Metrics) *LedgerService {
	return &LedgerService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		balanceRepo: repository.NewBalanceRepository(db),
		ledgerRepo:  repository.NewLedgerRepository(db),
		notifier:    notifier,
		metrics:     m,
	}
}

// SetUsageObserver 自动充值依赖购买编排，构造完成后再注入
func (s *LedgerService) SetUsageObserver(o UsageObserver) {
	s.observer = o
}

type ApplyRequest struct {
	UserID      int64
	Amount      int64 // 正数入账，负数出账
	Type        string
	Description string
	PurchaseID  string // 幂等键，可为空
}

func (r *ApplyRequest) validate() error {
	if r.UserID <= 0 {
		return validationError("user_id 无效")
	}
	if !model.ValidLedgerType(r.Type) {
		return validationError("流水类型无效: %s", r.Type)
	}
	switch r.Type {
	case model.LedgerTypePurchase, model.LedgerTypeSubscriptionCredit:
		if r.Amount <= 0 {
			return validationError("%s 流水金额必须大于0", r.Type)
		}
	case model.LedgerTypeUsage:
		if r.Amount >= 0 {
			return validationError("usage 流水金额必须小于0")
		}
	case model.LedgerTypeAdjustment:
		if r.Amount == 0 {
			return validationError("adjustment 流水金额不能为0")
		}
	}
	return nil
}

// Apply 独立事务记一笔账
func (s *LedgerService) Apply(ctx context.Context, req *ApplyRequest) (*model.LedgerEntry, error) {
	var entry *model.LedgerEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = s.ApplyTx(ctx, tx, req)
		return err
	})
	if errors.Is(err, repository.ErrDuplicateEntry) && req.PurchaseID != "" {
		// 并发写入被唯一索引拦下，返回先写入的那条
		return s.ledgerRepo.GetByPurchaseAndType(ctx, nil, req.PurchaseID, req.Type)
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ApplyTx 在调用方事务内记账
//
// 1. 行锁读取余额（账户不存在时先创建）
// 2. 锁内检查 (purchase_id, type) 是否已入账，已入账直接返回原流水
// 3. 写流水，写余额（version 条件更新）
func (s *LedgerService) ApplyTx(ctx context.Context, tx *gorm.DB, req *ApplyRequest) (*model.LedgerEntry, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	if err := s.balanceRepo.Ensure(ctx, tx, s.balanceTemplate(req.UserID)); err != nil {
		return nil, fmt.Errorf("创建积分账户失败: %w", err)
	}
	balance, err := s.balanceRepo.GetByUserIDForUpdate(ctx, tx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("读取积分账户失败: %w", err)
	}

	if req.PurchaseID != "" {
		existing, err := s.ledgerRepo.GetByPurchaseAndType(ctx, tx, req.PurchaseID, req.Type)
		if err != nil {
			return nil, fmt.Errorf("查询流水失败: %w", err)
		}
		if existing != nil {
			log.Printf("[Ledger] 重复入账忽略: purchaseID=%s, type=%s, entryNo=%s", req.PurchaseID, req.Type, existing.EntryNo)
			return existing, nil
		}
	}

	before := balance.Balance
	after := before + req.Amount
	if req.Type == model.LedgerTypeUsage && after < 0 && !balance.AllowNegative {
		return nil, fmt.Errorf("%w: balance=%d, need=%d", ErrInsufficientFunds, before, -req.Amount)
	}

	entry := &model.LedgerEntry{
		EntryNo:       idgen.GenerateEntryNo(),
		UserID:        req.UserID,
		Type:          req.Type,
		Amount:        req.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Description:   req.Description,
	}
	if req.PurchaseID != "" {
		purchaseID := req.PurchaseID
		entry.PurchaseID = &purchaseID
	}
	if err := s.ledgerRepo.Create(ctx, tx, entry); err != nil {
		return nil, err
	}

	balance.Balance = after
	if req.Amount > 0 {
		balance.TotalPurchased += req.Amount
	} else {
		balance.TotalUsed += -req.Amount
	}
	balance.ServicesPaused = after <= 0

	// 阈值为 0 时余额耗尽（<= 0）也要提醒
	notifyLow := false
	if after > balance.LowCreditThreshold {
		balance.LowCreditNotified = false
	} else if req.Amount < 0 && !balance.LowCreditNotified {
		balance.LowCreditNotified = true
		notifyLow = true
	}

	if err := s.balanceRepo.SaveApplied(ctx, tx, balance); err != nil {
		return nil, fmt.Errorf("更新积分余额失败: %w", err)
	}

	if notifyLow {
		s.notifier.Enqueue(ctx, tx, model.EventLowCredit, fmt.Sprintf("%d", req.UserID), map[string]interface{}{
			"user_id":   req.UserID,
			"balance":   after,
			"threshold": balance.LowCreditThreshold,
		})
	}

	s.metrics.LedgerEntry(req.Type)
	return entry, nil
}

func (s *LedgerService) balanceTemplate(userID int64) *model.CreditBalance {
	t := &model.CreditBalance{UserID: userID, Currency: "USD"}
	if s.cfg != nil {
		t.LowCreditThreshold = s.cfg.Billing.DefaultLowThreshold
		if s.cfg.Billing.Currency != "" {
			t.Currency = s.cfg.Billing.Currency
		}
	}
	return t
}

// ApplyUsage 计量扣费，账户维度加锁后记账，再交给自动充值判断
func (s *LedgerService) ApplyUsage(ctx context.Context, userID, credits int64, description string) (*model.LedgerEntry, error) {
	if credits <= 0 {
		return nil, validationError("扣费积分必须大于0")
	}

	release, err := lock.Acquire(ctx, lock.NewUsageLock(s.redisClient, userID, uuid.NewString()), 50*time.Millisecond, 40)
	if err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	entry, err := s.Apply(ctx, &ApplyRequest{
		UserID:      userID,
		Amount:      -credits,
		Type:        model.LedgerTypeUsage,
		Description: description,
	})
	release()
	if err != nil {
		return nil, err
	}

	if s.observer != nil {
		balance, err := s.balanceRepo.GetByUserID(ctx, nil, userID)
		if err != nil {
			log.Printf("[Ledger] 扣费后读取余额失败: userID=%d, err=%v", userID, err)
		} else {
			s.observer.OnUsage(ctx, balance, entry)
		}
	}
	return entry, nil
}

func (s *LedgerService) GetBalance(ctx context.Context, userID int64) (*model.CreditBalance, error) {
	return s.balanceRepo.GetOrCreate(ctx, s.balanceTemplate(userID))
}

func (s *LedgerService) ListLedger(ctx context.Context, userID int64, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return s.ledgerRepo.ListByUserID(ctx, userID, page, pageSize)
}

// CheckAvailability 计量前的预授权检查，不扣费
func (s *LedgerService) CheckAvailability(ctx context.Context, userID, credits int64) (bool, *model.CreditBalance, error) {
	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return false, nil, err
	}
	return balance.AllowNegative || balance.Balance >= credits, balance, nil
}

type SettingsRequest struct {
	LowCreditThreshold   *int64  `json:"low_credit_threshold"`
	AutoTopupEnabled     *bool   `json:"auto_topup_enabled"`
	AutoTopupAmount      *string `json:"auto_topup_amount"` // 十进制金额
	AutoTopupThreshold   *int64  `json:"auto_topup_threshold"`
	DefaultPaymentMethod *string `json:"default_payment_method"`
}

// UpdateSettings 修改提醒阈值与自动充值设置
func (s *LedgerService) UpdateSettings(ctx context.Context, userID int64, req *SettingsRequest) (*model.CreditBalance, error) {
	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.LowCreditThreshold != nil {
		if *req.LowCreditThreshold < 0 {
			return nil, validationError("low_credit_threshold 不能为负数")
		}
		updates["low_credit_threshold"] = *req.LowCreditThreshold
		updates["low_credit_notified"] = balance.Balance <= *req.LowCreditThreshold && balance.LowCreditNotified
	}
	if req.AutoTopupAmount != nil {
		amount, err := parseAmount(*req.AutoTopupAmount, balance.Currency)
		if err != nil {
			return nil, err
		}
		updates["auto_topup_amount"] = amount
		balance.AutoTopupAmount = amount
	}
	if req.AutoTopupThreshold != nil {
		if *req.AutoTopupThreshold < 0 {
			return nil, validationError("auto_topup_threshold 不能为负数")
		}
		updates["auto_topup_threshold"] = *req.AutoTopupThreshold
	}
	if req.DefaultPaymentMethod != nil {
		switch *req.DefaultPaymentMethod {
		case model.PaymentMethodCheckout, model.PaymentMethodCardIntent, model.PaymentMethodWallet:
		default:
			return nil, validationError("自动充值不支持该支付方式: %s", *req.DefaultPaymentMethod)
		}
		updates["default_payment_method"] = *req.DefaultPaymentMethod
		balance.DefaultPaymentMethod = *req.DefaultPaymentMethod
	}
	if req.AutoTopupEnabled != nil {
		if *req.AutoTopupEnabled && (balance.AutoTopupAmount <= 0 || balance.DefaultPaymentMethod == "") {
			return nil, validationError("开启自动充值需要设置充值金额和默认支付方式")
		}
		updates["auto_topup_enabled"] = *req.AutoTopupEnabled
	}
	if len(updates) == 0 {
		return balance, nil
	}

	if err := s.balanceRepo.UpdateSettings(ctx, userID, updates); err != nil {
		return nil, err
	}
	return s.balanceRepo.GetByUserID(ctx, nil, userID)
}
