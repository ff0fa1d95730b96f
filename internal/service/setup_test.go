package service

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"creditengine/internal/config"
	"creditengine/internal/infrastructure/metrics"
	"creditengine/internal/model"
	"creditengine/internal/payment"
	"creditengine/internal/repository"
	"creditengine/internal/testutil"
)

type testEnv struct {
	db       *gorm.DB
	cfg      *config.Config
	checkout *testutil.FakeCheckout
	intent   *testutil.FakeIntent
	wallet   *testutil.FakeWallet
	blob     *testutil.FakeBlobStore
	registry *payment.Registry
	metrics  *metrics.Metrics

	notifier      *Notifier
	ledger        *LedgerService
	coupons       *CouponService
	invoices      *InvoiceService
	subscriptions *SubscriptionService
	purchases     *PurchaseService
	topup         *TopupService
	proofs        *ProofService
	reversals     *ReversalService
}

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{Notification: "credit-notification"},
		},
		BankTransfer: testutil.BankTransferConfig(),
		Billing:      testutil.BillingConfig(),
	}
}

func setupEnv(t *testing.T) *testEnv {
	return setupEnvWithRedis(t, nil)
}

func setupEnvWithRedis(t *testing.T, redisClient *redis.Client) *testEnv {
	t.Helper()

	db := testutil.SetupTestDB(t)
	cfg := testConfig()

	env := &testEnv{
		db:       db,
		cfg:      cfg,
		checkout: testutil.NewFakeCheckout(),
		intent:   testutil.NewFakeIntent(),
		wallet:   testutil.NewFakeWallet(),
		blob:     testutil.NewFakeBlobStore(),
		metrics:  metrics.MustNew(prometheus.NewRegistry()),
	}
	env.registry = testutil.NewFakeRegistry(env.checkout, env.intent, env.wallet)

	env.notifier = NewNotifier(db, cfg.Kafka.Topic.Notification)
	env.ledger = NewLedgerService(db, redisClient, cfg, env.notifier, env.metrics)
	env.coupons = NewCouponService(db)
	env.invoices = NewInvoiceService(db, cfg, env.notifier, env.metrics)
	env.subscriptions = NewSubscriptionService(db, env.ledger, env.notifier, env.metrics)
	env.purchases = NewPurchaseService(db, redisClient, cfg, env.registry, env.ledger, env.coupons, env.invoices, env.subscriptions, env.notifier, env.metrics)
	env.topup = NewTopupService(db, env.purchases)
	env.ledger.SetUsageObserver(env.topup)
	env.proofs = NewProofService(db, cfg.BankTransfer, env.blob, env.purchases)
	env.reversals = NewReversalService(db, env.ledger, env.invoices, env.notifier)
	return env
}

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// createCredits 创建积分购买单，amount 为十进制金额
func (e *testEnv) createCredits(t *testing.T, userID int64, amount, couponCode string) *model.Purchase {
	t.Helper()
	p, err := e.purchases.Create(context.Background(), &CreatePurchaseRequest{
		RequestID:    uuid.NewString(),
		UserID:       userID,
		PurchaseType: model.PurchaseTypeCredits,
		Amount:       amount,
		Currency:     "USD",
		CouponCode:   couponCode,
	})
	require.NoError(t, err)
	return p
}

// checkoutPaid 走完 create -> beginSettlement -> 网关已支付，返回购买单与 session id
func (e *testEnv) checkoutPaid(t *testing.T, userID int64, amount string) (*model.Purchase, string) {
	t.Helper()
	p := e.createCredits(t, userID, amount, "")
	h, err := e.purchases.BeginSettlement(context.Background(), p.PurchaseNo, model.PaymentMethodCheckout)
	require.NoError(t, err)
	e.checkout.MarkPaid(h.ProviderID)
	return p, h.ProviderID
}

func (e *testEnv) reload(t *testing.T, purchaseNo string) *model.Purchase {
	t.Helper()
	p, err := repository.NewPurchaseRepository(e.db).GetByPurchaseNo(context.Background(), nil, purchaseNo)
	require.NoError(t, err)
	return p
}

func (e *testEnv) ledgerEntries(t *testing.T, userID int64) []*model.LedgerEntry {
	t.Helper()
	entries, err := repository.NewLedgerRepository(e.db).ListAllByUserID(context.Background(), userID)
	require.NoError(t, err)
	return entries
}

func (e *testEnv) countOutbox(t *testing.T, event, key string) int64 {
	t.Helper()
	n, err := repository.NewOutboxRepository(e.db).CountByEvent(context.Background(), event, key)
	require.NoError(t, err)
	return n
}

func (e *testEnv) countInvoices(t *testing.T, purchaseNo string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.Invoice{}).Where("purchase_no = ?", purchaseNo).Count(&n).Error)
	return n
}

// assertChain 校验流水链与余额不变式
func (e *testEnv) assertChain(t *testing.T, userID int64) {
	t.Helper()
	entries := e.ledgerEntries(t, userID)
	balance, err := repository.NewBalanceRepository(e.db).GetByUserID(context.Background(), nil, userID)
	require.NoError(t, err)

	var prev int64
	for i, entry := range entries {
		require.Equal(t, entry.BalanceBefore+entry.Amount, entry.BalanceAfter, "entry %d", i)
		if i > 0 {
			require.Equal(t, prev, entry.BalanceBefore, "entry %d", i)
		}
		prev = entry.BalanceAfter
	}
	if len(entries) > 0 {
		require.Equal(t, prev, balance.Balance)
	}
	require.Equal(t, balance.TotalPurchased-balance.TotalUsed, balance.Balance)
	require.Equal(t, balance.Balance <= 0, balance.ServicesPaused)
}
