package job

import (
	"context"
	"log"
	"time"

	"creditengine/internal/config"
	"creditengine/internal/model"
	"creditengine/internal/repository"
	"creditengine/internal/service"

	"gorm.io/gorm"
)

// PurchaseExpiryJob 超时未发起支付的购买单自动取消
type PurchaseExpiryJob struct {
	purchaseRepo *repository.PurchaseRepository
	purchases    *service.PurchaseService
	timeout      time.Duration
	stopCh       chan struct{}
	interval     time.Duration
	batchSize    int
	now          func() time.Time
}

func NewPurchaseExpiryJob(db *gorm.DB, cfg *config.Config, purchases *service.PurchaseService) *PurchaseExpiryJob {
	return &PurchaseExpiryJob{
		purchaseRepo: repository.NewPurchaseRepository(db),
		purchases:    purchases,
		timeout:      time.Duration(cfg.Billing.PendingTimeoutMinutes) * time.Minute,
		stopCh:       make(chan struct{}),
		interval:     seconds(cfg.Reconcile.ExpiryIntervalSeconds, 30),
		batchSize:    batch(cfg.Reconcile.BatchSize),
		now:          time.Now,
	}
}

func (j *PurchaseExpiryJob) Start(ctx context.Context) {
	log.Println("[PurchaseExpiryJob] 购买单超时任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[PurchaseExpiryJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[PurchaseExpiryJob] 任务停止")
			return
		case <-ticker.C:
			j.expirePending(ctx)
		}
	}
}

func (j *PurchaseExpiryJob) Stop() {
	close(j.stopCh)
}

func (j *PurchaseExpiryJob) expirePending(ctx context.Context) int {
	purchases, err := j.purchaseRepo.GetExpiredPending(ctx, j.now().Add(-j.timeout), j.batchSize)
	if err != nil {
		log.Printf("[PurchaseExpiryJob] 查询超时购买单失败: %v", err)
		return 0
	}
	if len(purchases) == 0 {
		return 0
	}

	log.Printf("[PurchaseExpiryJob] 发现 %d 个超时购买单", len(purchases))

	canceled := 0
	for _, purchase := range purchases {
		if err := j.purchases.ExpirePending(ctx, purchase); err != nil {
			log.Printf("[PurchaseExpiryJob] 取消购买单失败: purchaseNo=%s, err=%v", purchase.PurchaseNo, err)
			continue
		}
		canceled++
	}

	log.Printf("[PurchaseExpiryJob] 本次取消 %d 个超时购买单", canceled)
	return canceled
}

// ReconcileJob 对账：处理中超过宽限期的购买单主动向渠道查询结果
// 线下转账只能等人工审核，不参与对账
type ReconcileJob struct {
	purchaseRepo *repository.PurchaseRepository
	purchases    *service.PurchaseService
	grace        time.Duration
	expire       time.Duration
	methods      []string
	stopCh       chan struct{}
	interval     time.Duration
	batchSize    int
	now          func() time.Time
}

func NewReconcileJob(db *gorm.DB, cfg *config.Config, purchases *service.PurchaseService) *ReconcileJob {
	return &ReconcileJob{
		purchaseRepo: repository.NewPurchaseRepository(db),
		purchases:    purchases,
		grace:        time.Duration(cfg.Billing.ProcessingGraceMinutes) * time.Minute,
		expire:       time.Duration(cfg.Billing.ProcessingExpireMinutes) * time.Minute,
		methods: []string{
			model.PaymentMethodCheckout,
			model.PaymentMethodCardIntent,
			model.PaymentMethodWallet,
		},
		stopCh:    make(chan struct{}),
		interval:  seconds(cfg.Reconcile.IntervalSeconds, 60),
		batchSize: batch(cfg.Reconcile.BatchSize),
		now:       time.Now,
	}
}

func (j *ReconcileJob) Start(ctx context.Context) {
	log.Println("[ReconcileJob] 对账任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[ReconcileJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[ReconcileJob] 任务停止")
			return
		case <-ticker.C:
			j.reconcileProcessing(ctx)
		}
	}
}

func (j *ReconcileJob) Stop() {
	close(j.stopCh)
}

func (j *ReconcileJob) reconcileProcessing(ctx context.Context) map[string]int {
	now := j.now()
	purchases, err := j.purchaseRepo.GetStuckProcessing(ctx, now.Add(-j.grace), j.methods, j.batchSize)
	if err != nil {
		log.Printf("[ReconcileJob] 查询处理中购买单失败: %v", err)
		return nil
	}
	if len(purchases) == 0 {
		return nil
	}

	log.Printf("[ReconcileJob] 发现 %d 个需要对账的购买单", len(purchases))

	outcome := make(map[string]int)
	for _, purchase := range purchases {
		current, err := j.purchases.Reconcile(ctx, purchase.PurchaseNo, now.Add(-j.expire))
		if current != nil {
			outcome[current.PaymentStatus]++
		}
		if err != nil {
			log.Printf("[ReconcileJob] 对账未完成: purchaseNo=%s, err=%v", purchase.PurchaseNo, err)
			continue
		}
		log.Printf("[ReconcileJob] 对账完成: purchaseNo=%s, status=%s", purchase.PurchaseNo, current.PaymentStatus)
	}
	return outcome
}

// InvoiceRetryJob 补开结算时生成失败的发票
type InvoiceRetryJob struct {
	purchaseRepo *repository.PurchaseRepository
	invoices     *service.InvoiceService
	stopCh       chan struct{}
	interval     time.Duration
	batchSize    int
}

func NewInvoiceRetryJob(db *gorm.DB, cfg *config.Config, invoices *service.InvoiceService) *InvoiceRetryJob {
	return &InvoiceRetryJob{
		purchaseRepo: repository.NewPurchaseRepository(db),
		invoices:     invoices,
		stopCh:       make(chan struct{}),
		interval:     seconds(cfg.Reconcile.InvoiceIntervalSeconds, 120),
		batchSize:    batch(cfg.Reconcile.BatchSize),
	}
}

func (j *InvoiceRetryJob) Start(ctx context.Context) {
	log.Println("[InvoiceRetryJob] 发票补开任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[InvoiceRetryJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[InvoiceRetryJob] 任务停止")
			return
		case <-ticker.C:
			j.retryPending(ctx)
		}
	}
}

func (j *InvoiceRetryJob) Stop() {
	close(j.stopCh)
}

func (j *InvoiceRetryJob) retryPending(ctx context.Context) int {
	purchases, err := j.purchaseRepo.GetInvoicePending(ctx, j.batchSize)
	if err != nil {
		log.Printf("[InvoiceRetryJob] 查询待开票购买单失败: %v", err)
		return 0
	}

	generated := 0
	for _, purchase := range purchases {
		if _, err := j.invoices.GenerateForPurchase(ctx, purchase.PurchaseNo); err != nil {
			continue
		}
		generated++
	}
	if generated > 0 {
		log.Printf("[InvoiceRetryJob] 本次补开 %d 张发票", generated)
	}
	return generated
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

func batch(n int) int {
	if n <= 0 {
		return 50
	}
	return n
}
