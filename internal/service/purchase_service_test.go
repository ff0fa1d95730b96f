package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creditengine/internal/model"
	"creditengine/internal/payment"
	"creditengine/internal/testutil"
)

func TestPurchase_CreditsEndToEnd(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	testutil.TestTaxRate(t, env.db, "", "0.05", true)

	p := env.createCredits(t, 2001, "10", "")
	assert.Equal(t, model.PaymentStatusPending, p.PaymentStatus)
	assert.Equal(t, int64(1000), p.Amount)
	assert.Equal(t, int64(50), p.CreditsAmount)

	h, err := env.purchases.BeginSettlement(ctx, p.PurchaseNo, model.PaymentMethodCheckout)
	require.NoError(t, err)
	assert.NotEmpty(t, h.RedirectURL)
	assert.Equal(t, model.PaymentStatusProcessing, env.reload(t, p.PurchaseNo).PaymentStatus)

	env.checkout.MarkPaid(h.ProviderID)
	settled, err := env.purchases.OnSettled(ctx, p.PurchaseNo, payment.Confirmation{ProviderReference: h.ProviderID})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, settled.PaymentStatus)
	assert.NotNil(t, settled.CompletedAt)
	assert.Equal(t, int64(50), settled.TaxAmount)
	assert.Equal(t, int64(1050), settled.TotalAmount)
	assert.False(t, settled.InvoicePending)
	assert.Equal(t, h.ProviderID, settled.MetaString("provider_reference"))

	balance, err := env.ledger.GetBalance(ctx, 2001)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance.Balance)
	assert.False(t, balance.ServicesPaused)

	entries := env.ledgerEntries(t, 2001)
	require.Len(t, entries, 1)
	assert.Equal(t, model.LedgerTypePurchase, entries[0].Type)
	require.NotNil(t, entries[0].PurchaseID)
	assert.Equal(t, p.PurchaseNo, *entries[0].PurchaseID)

	inv, err := env.invoices.GetByPurchaseNo(ctx, p.PurchaseNo)
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, int64(1000), inv.Subtotal)
	assert.Equal(t, int64(1050), inv.TotalAmount)

	assert.Equal(t, int64(1), env.countOutbox(t, model.EventSettlementComplete, p.PurchaseNo))
	env.assertChain(t, 2001)
}

func TestPurchase_CreateIdempotent(t *testing.T) {
	env := setupEnv(t)
	req := &CreatePurchaseRequest{
		RequestID:    uuid.NewString(),
		UserID:       2002,
		PurchaseType: model.PurchaseTypeCredits,
		Amount:       "25.50",
	}
	first, err := env.purchases.Create(context.Background(), req)
	require.NoError(t, err)
	second, err := env.purchases.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.PurchaseNo, second.PurchaseNo)
	assert.Equal(t, int64(127), first.CreditsAmount)
}

func TestPurchase_CreateValidation(t *testing.T) {
	env := setupEnv(t)
	testutil.TestCoupon(t, env.db, testutil.WithCode("ALLOFF"), testutil.WithFixed(1000))

	cases := []*CreatePurchaseRequest{
		{RequestID: "", UserID: 1, PurchaseType: model.PurchaseTypeCredits, Amount: "10"},
		{RequestID: "v1", UserID: 1, PurchaseType: model.PurchaseTypeCredits, Amount: "0"},
		{RequestID: "v2", UserID: 1, PurchaseType: model.PurchaseTypeCredits, Amount: "ten"},
		{RequestID: "v3", UserID: 1, PurchaseType: model.PurchaseTypeCredits, Amount: "10.001"},
		{RequestID: "v4", UserID: 1, PurchaseType: "gift", Amount: "10"},
		{RequestID: "v5", UserID: 1, PurchaseType: model.PurchaseTypeCredits, Amount: "10", PaymentMethod: "cash"},
		{RequestID: "v6", UserID: 1, PurchaseType: model.PurchaseTypeCredits, Amount: "10", CouponCode: "ALLOFF"},
		{RequestID: "v7", UserID: 1, PurchaseType: model.PurchaseTypeSubscription},
		{RequestID: "v8", UserID: 1, PurchaseType: model.PurchaseTypeCredits, Amount: "184467440737095517.16"},
	}
	for _, req := range cases {
		_, err := env.purchases.Create(context.Background(), req)
		assert.ErrorIs(t, err, ErrValidation, "%+v", req)
	}
}

func TestPurchase_CreateWithInvalidCoupon(t *testing.T) {
	env := setupEnv(t)
	_, err := env.purchases.Create(context.Background(), &CreatePurchaseRequest{
		RequestID:    uuid.NewString(),
		UserID:       2003,
		PurchaseType: model.PurchaseTypeCredits,
		Amount:       "10",
		CouponCode:   "MISSING",
	})
	assert.ErrorIs(t, err, ErrCouponNotFound)
}

func TestPurchase_DuplicateCallback(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	p, sid := env.checkoutPaid(t, 2004, "10")

	for i := 0; i < 3; i++ {
		settled, err := env.purchases.OnSettled(ctx, p.PurchaseNo, payment.Confirmation{ProviderReference: sid})
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusCompleted, settled.PaymentStatus)
	}

	assert.Len(t, env.ledgerEntries(t, 2004), 1)
	assert.Equal(t, int64(1), env.countInvoices(t, p.PurchaseNo))
	assert.Equal(t, int64(1), env.countOutbox(t, model.EventSettlementComplete, p.PurchaseNo))
}

func TestPurchase_ConcurrentCallbacks(t *testing.T) {
	env := setupEnvWithRedis(t, setupTestRedis(t))
	ctx := context.Background()
	p, sid := env.checkoutPaid(t, 2005, "10")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			settled, err := env.purchases.OnSettled(ctx, p.PurchaseNo, payment.Confirmation{ProviderReference: sid})
			if assert.NoError(t, err) {
				assert.Equal(t, model.PaymentStatusCompleted, settled.PaymentStatus)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, env.ledgerEntries(t, 2005), 1)
	assert.Equal(t, int64(1), env.countInvoices(t, p.PurchaseNo))
	balance, err := env.ledger.GetBalance(ctx, 2005)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance.Balance)
}

func TestPurchase_ConfirmationMismatch(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	p, sid := env.checkoutPaid(t, 2006, "10")

	_, err := env.purchases.OnSettled(ctx, p.PurchaseNo, payment.Confirmation{ProviderReference: "cs_forged"})
	assert.ErrorIs(t, err, payment.ErrConfirmationMismatch)
	assert.Equal(t, model.PaymentStatusProcessing, env.reload(t, p.PurchaseNo).PaymentStatus)

	// 网关侧金额被篡改
	env.checkout.Sessions[sid].Amount = 1
	_, err = env.purchases.OnSettled(ctx, p.PurchaseNo, payment.Confirmation{ProviderReference: sid})
	assert.ErrorIs(t, err, payment.ErrConfirmationMismatch)
	assert.Equal(t, model.PaymentStatusProcessing, env.reload(t, p.PurchaseNo).PaymentStatus)
	assert.Empty(t, env.ledgerEntries(t, 2006))
}

func TestPurchase_SettlementPending(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	p := env.createCredits(t, 2007, "10", "")
	h, err := env.purchases.BeginSettlement(ctx, p.PurchaseNo, model.PaymentMethodCheckout)
	require.NoError(t, err)

	_, err = env.purchases.OnSettled(ctx, p.PurchaseNo, payment.Confirmation{ProviderReference: h.ProviderID})
	assert.ErrorIs(t, err, ErrSettlementPending)
	assert.Equal(t, model.PaymentStatusProcessing, env.reload(t, p.PurchaseNo).PaymentStatus)
}

func TestPurchase_ExpiredSessionFails(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	p := env.createCredits(t, 2008, "10", "")
	h, err := env.purchases.BeginSettlement(ctx, p.PurchaseNo, model.PaymentMethodCheckout)
	require.NoError(t, err)
	env.checkout.Expire(h.ProviderID)

	failed, err := env.purchases.OnSettled(ctx, p.PurchaseNo, payment.Confirmation{})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusFailed, failed.PaymentStatus)
	assert.NotEmpty(t, env.reload(t, p.PurchaseNo).FailureReason)
	assert.Empty(t, env.ledgerEntries(t, 2008))
}

func TestPurchase_DeclinedOnConfirm(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	p, _ := env.checkoutPaid(t, 2009, "10")
	env.checkout.GetErr = payment.ErrDeclined

	failed, err := env.purchases.OnSettled(ctx, p.PurchaseNo, payment.Confirmation{})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusFailed, failed.PaymentStatus)
	assert.Equal(t, model.PaymentStatusFailed, env.reload(t, p.PurchaseNo).PaymentStatus)
}

func TestPurchase_GatewayUnavailableOnConfirm(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	p, _ := env.checkoutPaid(t, 2010, "10")
	env.checkout.GetErr = payment.ErrGatewayUnavailable

	_, err := env.purchases.OnSettled(ctx, p.PurchaseNo, payment.Confirmation{})
	assert.ErrorIs(t, err, ErrChannel)
	assert.Equal(t, model.PaymentStatusProcessing, env.reload(t, p.PurchaseNo).PaymentStatus)
}

func TestPurchase_BeginSettlementErrors(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	// 超时：结果未知，保持 processing
	env.checkout.CreateErr = payment.ErrGatewayTimeout
	slow := env.createCredits(t, 2011, "10", "")
	_, err := env.purchases.BeginSettlement(ctx, slow.PurchaseNo, model.PaymentMethodCheckout)
	assert.ErrorIs(t, err, ErrChannel)
	assert.ErrorIs(t, err, payment.ErrGatewayTimeout)
	assert.Equal(t, model.PaymentStatusProcessing, env.reload(t, slow.PurchaseNo).PaymentStatus)

	// 网关拒绝：直接失败
	env.checkout.CreateErr = payment.ErrGatewayUnavailable
	down := env.createCredits(t, 2011, "10", "")
	_, err = env.purchases.BeginSettlement(ctx, down.PurchaseNo, model.PaymentMethodCheckout)
	assert.ErrorIs(t, err, ErrChannel)
	assert.Equal(t, model.PaymentStatusFailed, env.reload(t, down.PurchaseNo).PaymentStatus)

	// 未知渠道
	env.checkout.CreateErr = nil
	p := env.createCredits(t, 2011, "10", "")
	_, err = env.purchases.BeginSettlement(ctx, p.PurchaseNo, "cash")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, model.PaymentStatusPending, env.reload(t, p.PurchaseNo).PaymentStatus)

	// 只能从 pending 发起
	_, err = env.purchases.BeginSettlement(ctx, slow.PurchaseNo, model.PaymentMethodCheckout)
	assert.ErrorIs(t, err, ErrPurchaseStatusInvalid)
}

func TestPurchase_OnSettledRequiresProcessing(t *testing.T) {
	env := setupEnv(t)
	p := env.createCredits(t, 2012, "10", "")
	_, err := env.purchases.OnSettled(context.Background(), p.PurchaseNo, payment.Confirmation{})
	assert.ErrorIs(t, err, ErrPurchaseStatusInvalid)

	_, err = env.purchases.OnSettled(context.Background(), "PUR-NONE", payment.Confirmation{})
	assert.ErrorIs(t, err, ErrPurchaseNotFound)
}

func TestPurchase_Cancel(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	p := env.createCredits(t, 2013, "10", "")
	_, err := env.purchases.Cancel(ctx, p.PurchaseNo, 9999)
	assert.ErrorIs(t, err, ErrPurchaseNotFound)

	canceled, err := env.purchases.Cancel(ctx, p.PurchaseNo, 2013)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCanceled, canceled.PaymentStatus)

	// 重复取消无副作用
	again, err := env.purchases.Cancel(ctx, p.PurchaseNo, 2013)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCanceled, again.PaymentStatus)

	done, sid := env.checkoutPaid(t, 2013, "10")
	_, err = env.purchases.OnSettled(ctx, done.PurchaseNo, payment.Confirmation{ProviderReference: sid})
	require.NoError(t, err)
	_, err = env.purchases.Cancel(ctx, done.PurchaseNo, 2013)
	assert.ErrorIs(t, err, ErrPurchaseStatusInvalid)
	assert.Equal(t, model.PaymentStatusCompleted, env.reload(t, done.PurchaseNo).PaymentStatus)
}

func TestPurchase_CouponAppliedAndRedeemed(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	coupon := testutil.TestCoupon(t, env.db, testutil.WithCode("TENOFF"), testutil.WithPercent(10, 0))

	p := env.createCredits(t, 2014, "20", "tenoff")
	assert.Equal(t, int64(2000), p.Subtotal)
	assert.Equal(t, int64(200), p.DiscountAmount)
	assert.Equal(t, int64(1800), p.Amount)
	// 积分按原价计算
	assert.Equal(t, int64(100), p.CreditsAmount)

	h, err := env.purchases.BeginSettlement(ctx, p.PurchaseNo, model.PaymentMethodCheckout)
	require.NoError(t, err)
	env.checkout.MarkPaid(h.ProviderID)
	_, err = env.purchases.OnSettled(ctx, p.PurchaseNo, payment.Confirmation{})
	require.NoError(t, err)

	var reloaded model.Coupon
	require.NoError(t, env.db.First(&reloaded, coupon.ID).Error)
	assert.Equal(t, 1, reloaded.UsedCount)

	inv, err := env.invoices.GetByPurchaseNo(ctx, p.PurchaseNo)
	require.NoError(t, err)
	assert.Equal(t, int64(200), inv.DiscountAmount)
	assert.Equal(t, "TENOFF", inv.DiscountCode)
}

func TestPurchase_CouponConflictAtSettlement(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	testutil.TestCoupon(t, env.db, testutil.WithCode("FIRSTONLY"), testutil.WithSingleUse())

	// 两张购买单下单时都通过了校验
	first := env.createCredits(t, 2015, "10", "FIRSTONLY")
	second := env.createCredits(t, 2015, "10", "FIRSTONLY")

	settle := func(p *model.Purchase) (*model.Purchase, error) {
		h, err := env.purchases.BeginSettlement(ctx, p.PurchaseNo, model.PaymentMethodCheckout)
		require.NoError(t, err)
		env.checkout.MarkPaid(h.ProviderID)
		return env.purchases.OnSettled(ctx, p.PurchaseNo, payment.Confirmation{})
	}

	_, err := settle(first)
	require.NoError(t, err)

	conflicted, err := settle(second)
	assert.ErrorIs(t, err, ErrCouponAlreadyRedeemed)
	require.NotNil(t, conflicted)
	assert.Equal(t, model.PaymentStatusFailed, env.reload(t, second.PurchaseNo).PaymentStatus)
	assert.Equal(t, int64(1), env.countOutbox(t, model.EventSettlementConflict, second.PurchaseNo))

	// 第二张单的积分与发票都已回滚
	assert.Len(t, env.ledgerEntries(t, 2015), 1)
	assert.Equal(t, int64(0), env.countInvoices(t, second.PurchaseNo))
	env.assertChain(t, 2015)
}

func TestPurchase_InvoiceFailureDoesNotBlockSettlement(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	require.NoError(t, env.db.Migrator().DropTable(&model.InvoiceSequence{}))

	p, sid := env.checkoutPaid(t, 2016, "10")
	settled, err := env.purchases.OnSettled(ctx, p.PurchaseNo, payment.Confirmation{ProviderReference: sid})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, settled.PaymentStatus)
	assert.True(t, settled.InvoicePending)
	assert.Len(t, env.ledgerEntries(t, 2016), 1)
	assert.Equal(t, int64(0), env.countInvoices(t, p.PurchaseNo))
	assert.Equal(t, int64(1), env.countOutbox(t, model.EventInvoiceFailed, p.PurchaseNo))
	assert.Equal(t, int64(1), env.countOutbox(t, model.EventSettlementComplete, p.PurchaseNo))

	// 补开
	require.NoError(t, env.db.AutoMigrate(&model.InvoiceSequence{}))
	inv, err := env.invoices.GenerateForPurchase(ctx, p.PurchaseNo)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), inv.Subtotal)

	reloaded := env.reload(t, p.PurchaseNo)
	assert.False(t, reloaded.InvoicePending)
	assert.Equal(t, inv.TotalAmount, reloaded.TotalAmount)

	// 再次补开返回同一张
	again, err := env.invoices.GenerateForPurchase(ctx, p.PurchaseNo)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, again.ID)
}

func TestPurchase_IntentChannel(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	p := env.createCredits(t, 2017, "10", "")
	h, err := env.purchases.BeginSettlement(ctx, p.PurchaseNo, model.PaymentMethodCardIntent)
	require.NoError(t, err)
	assert.NotEmpty(t, h.ClientSecret)

	env.intent.SetStatus(h.ProviderID, payment.IntentSucceeded, "")
	settled, err := env.purchases.OnSettled(ctx, p.PurchaseNo, payment.Confirmation{ProviderReference: h.ProviderID})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, settled.PaymentStatus)

	declined := env.createCredits(t, 2017, "10", "")
	h, err = env.purchases.BeginSettlement(ctx, declined.PurchaseNo, model.PaymentMethodCardIntent)
	require.NoError(t, err)
	env.intent.SetStatus(h.ProviderID, payment.IntentRequiresPaymentMethod, "card_declined")
	failed, err := env.purchases.OnSettled(ctx, declined.PurchaseNo, payment.Confirmation{ProviderReference: h.ProviderID})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusFailed, failed.PaymentStatus)
	assert.Equal(t, "card_declined", env.reload(t, declined.PurchaseNo).FailureReason)
}

func TestPurchase_WalletCapturesOnce(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	p := env.createCredits(t, 2018, "10", "")
	h, err := env.purchases.BeginSettlement(ctx, p.PurchaseNo, model.PaymentMethodWallet)
	require.NoError(t, err)
	env.wallet.Approve(h.ProviderID)

	for i := 0; i < 2; i++ {
		settled, err := env.purchases.OnSettled(ctx, p.PurchaseNo, payment.Confirmation{ProviderReference: h.ProviderID})
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusCompleted, settled.PaymentStatus)
	}
	assert.Equal(t, 1, env.wallet.Captures)
	assert.Len(t, env.ledgerEntries(t, 2018), 1)
}

func TestPurchase_LateConfirmation(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	p := env.createCredits(t, 2019, "10", "")
	h, err := env.purchases.BeginSettlement(ctx, p.PurchaseNo, model.PaymentMethodCheckout)
	require.NoError(t, err)
	env.checkout.Expire(h.ProviderID)
	_, err = env.purchases.OnSettled(ctx, p.PurchaseNo, payment.Confirmation{})
	require.NoError(t, err)

	env.checkout.MarkPaid(h.ProviderID)
	_, err = env.purchases.OnSettled(ctx, p.PurchaseNo, payment.Confirmation{})
	assert.ErrorIs(t, err, ErrPurchaseStatusInvalid)
	assert.Equal(t, model.PaymentStatusFailed, env.reload(t, p.PurchaseNo).PaymentStatus)
	assert.Equal(t, int64(1), env.countOutbox(t, model.EventSettlementConflict, p.PurchaseNo))
	assert.Empty(t, env.ledgerEntries(t, 2019))
}

func TestPurchase_OnFailed(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	pending := env.createCredits(t, 2020, "10", "")
	_, err := env.purchases.OnFailed(ctx, pending.PurchaseNo, "declined")
	assert.ErrorIs(t, err, ErrPurchaseStatusInvalid)

	p, _ := env.checkoutPaid(t, 2020, "10")
	failed, err := env.purchases.OnFailed(ctx, p.PurchaseNo, "insufficient funds")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusFailed, failed.PaymentStatus)
	assert.Equal(t, "insufficient funds", env.reload(t, p.PurchaseNo).FailureReason)

	again, err := env.purchases.OnFailed(ctx, p.PurchaseNo, "other")
	require.NoError(t, err)
	assert.Equal(t, "insufficient funds", again.FailureReason)
}

func TestPurchase_Webhook(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	p, sid := env.checkoutPaid(t, 2021, "10")
	settled, err := env.purchases.HandleWebhook(ctx, model.PaymentMethodCheckout, &payment.WebhookEvent{
		ID:                "evt_1",
		Type:              payment.WebhookPaymentSucceeded,
		ProviderReference: sid,
	})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, settled.PaymentStatus)

	// 渠道不一致
	_, err = env.purchases.HandleWebhook(ctx, model.PaymentMethodCardIntent, &payment.WebhookEvent{
		Type:      payment.WebhookPaymentSucceeded,
		Reference: p.PurchaseNo,
	})
	assert.ErrorIs(t, err, payment.ErrConfirmationMismatch)

	// 线下转账不走 webhook
	_, err = env.purchases.HandleWebhook(ctx, model.PaymentMethodBankTransfer, &payment.WebhookEvent{
		Type:      payment.WebhookPaymentSucceeded,
		Reference: p.PurchaseNo,
	})
	assert.ErrorIs(t, err, ErrValidation)

	failing := env.createCredits(t, 2021, "10", "")
	h, err := env.purchases.BeginSettlement(ctx, failing.PurchaseNo, model.PaymentMethodCheckout)
	require.NoError(t, err)
	_, err = env.purchases.HandleWebhook(ctx, model.PaymentMethodCheckout, &payment.WebhookEvent{
		Type:              payment.WebhookPaymentFailed,
		ProviderReference: "cs_other",
		Reference:         failing.PurchaseNo,
	})
	assert.ErrorIs(t, err, payment.ErrConfirmationMismatch)

	failed, err := env.purchases.HandleWebhook(ctx, model.PaymentMethodCheckout, &payment.WebhookEvent{
		Type:              payment.WebhookPaymentFailed,
		ProviderReference: h.ProviderID,
		Reason:            "card expired",
	})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusFailed, failed.PaymentStatus)
	assert.Equal(t, "card expired", failed.FailureReason)
}

func TestPurchase_Reconcile(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	p := env.createCredits(t, 2022, "10", "")
	_, err := env.purchases.BeginSettlement(ctx, p.PurchaseNo, model.PaymentMethodCheckout)
	require.NoError(t, err)

	// 未到期限：保持 processing
	current, err := env.purchases.Reconcile(ctx, p.PurchaseNo, time.Now().Add(-time.Hour))
	assert.ErrorIs(t, err, ErrSettlementPending)
	assert.Equal(t, model.PaymentStatusProcessing, current.PaymentStatus)

	// 超过期限仍无结果：置为 failed
	current, err = env.purchases.Reconcile(ctx, p.PurchaseNo, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusFailed, current.PaymentStatus)

	paid, _ := env.checkoutPaid(t, 2022, "10")
	current, err = env.purchases.Reconcile(ctx, paid.PurchaseNo, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, current.PaymentStatus)
}

func TestPurchase_ReconcileWithoutProviderReference(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	// 发起时网关超时，没有拿到渠道单号
	env.checkout.CreateErr = payment.ErrGatewayTimeout
	p := env.createCredits(t, 2024, "10", "")
	_, err := env.purchases.BeginSettlement(ctx, p.PurchaseNo, model.PaymentMethodCheckout)
	require.ErrorIs(t, err, payment.ErrGatewayTimeout)
	env.checkout.CreateErr = nil
	require.Empty(t, env.reload(t, p.PurchaseNo).PaymentProviderID)

	stale := time.Now().Add(-3 * time.Hour)
	require.NoError(t, env.db.Model(&model.Purchase{}).Where("purchase_no = ?", p.PurchaseNo).
		UpdateColumn("updated_at", stale).Error)

	// 未到期限：保持 processing，并刷新 updated_at 让出扫描位置
	current, err := env.purchases.Reconcile(ctx, p.PurchaseNo, time.Now().Add(-time.Hour))
	assert.ErrorIs(t, err, payment.ErrNoProviderReference)
	assert.ErrorIs(t, err, payment.ErrConfirmationMismatch)
	assert.Equal(t, model.PaymentStatusProcessing, current.PaymentStatus)
	assert.True(t, env.reload(t, p.PurchaseNo).UpdatedAt.After(stale.Add(time.Hour)))

	// 超过期限：置为 failed
	current, err = env.purchases.Reconcile(ctx, p.PurchaseNo, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusFailed, current.PaymentStatus)
	assert.Equal(t, model.PaymentStatusFailed, env.reload(t, p.PurchaseNo).PaymentStatus)
}

func TestPurchase_ReconcileExpiryCountsFromProcessing(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	// 创建很久之后才发起支付
	p := env.createCredits(t, 2025, "10", "")
	require.NoError(t, env.db.Model(&model.Purchase{}).Where("purchase_no = ?", p.PurchaseNo).
		UpdateColumn("created_at", time.Now().Add(-2*time.Hour)).Error)

	_, err := env.purchases.BeginSettlement(ctx, p.PurchaseNo, model.PaymentMethodCheckout)
	require.NoError(t, err)
	reloaded := env.reload(t, p.PurchaseNo)
	require.NotNil(t, reloaded.ProcessingAt)
	assert.WithinDuration(t, time.Now(), *reloaded.ProcessingAt, time.Minute)

	current, err := env.purchases.Reconcile(ctx, p.PurchaseNo, time.Now().Add(-time.Hour))
	assert.ErrorIs(t, err, ErrSettlementPending)
	assert.Equal(t, model.PaymentStatusProcessing, current.PaymentStatus)
}

func TestPurchase_List(t *testing.T) {
	env := setupEnv(t)
	for i := 0; i < 3; i++ {
		env.createCredits(t, 2023, "10", "")
	}
	env.createCredits(t, 2024, "10", "")

	purchases, total, err := env.purchases.List(context.Background(), 2023, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, purchases, 2)
}
