package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"creditengine/internal/model"
	"creditengine/internal/testutil"
)

func TestComputeTotals(t *testing.T) {
	cases := []struct {
		subtotal, discount int64
		rate               string
		discounted, tax    int64
		total              int64
	}{
		{10000, 2000, "0.05", 8000, 400, 8400},
		{1000, 0, "0", 1000, 0, 1000},
		// 999 * 1.075 = 1073.925 -> 1074
		{999, 0, "0.075", 999, 75, 1074},
		// 10 * 1.05 = 10.5 -> 11（half-up）
		{10, 0, "0.05", 10, 1, 11},
		{500, 800, "0.2", 0, 0, 0},
	}
	for _, c := range cases {
		discounted, tax, total := ComputeTotals(c.subtotal, c.discount, decimal.RequireFromString(c.rate))
		assert.Equal(t, c.discounted, discounted, "%+v", c)
		assert.Equal(t, c.tax, tax, "%+v", c)
		assert.Equal(t, c.total, total, "%+v", c)
		assert.Equal(t, discounted+tax, total)
	}
}

func invoicePurchase(no string, country string) *model.Purchase {
	return &model.Purchase{
		PurchaseNo:     no,
		UserID:         42,
		PurchaseType:   model.PurchaseTypeCredits,
		Currency:       "USD",
		Subtotal:       10000,
		DiscountAmount: 2000,
		Amount:         8000,
		CreditsAmount:  400,
		CouponCode:     "SPRING",
		PaymentStatus:  model.PaymentStatusCompleted,
		BillingAddress: datatypes.NewJSONType(model.BillingAddress{Country: country}),
	}
}

func generate(t *testing.T, env *testEnv, p *model.Purchase) *model.Invoice {
	t.Helper()
	var invoice *model.Invoice
	require.NoError(t, env.db.Transaction(func(tx *gorm.DB) error {
		var err error
		invoice, err = env.invoices.GenerateTx(context.Background(), tx, p, nil)
		return err
	}))
	return invoice
}

func TestInvoice_GenerateWithJurisdiction(t *testing.T) {
	env := setupEnv(t)
	testutil.TestTaxRate(t, env.db, "", "0.05", true)
	testutil.TestTaxRate(t, env.db, "DE", "0.19", false)

	us := generate(t, env, invoicePurchase("PUR-US", "US"))
	assert.True(t, us.TaxRate.Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, int64(400), us.TaxAmount)
	assert.Equal(t, int64(8400), us.TotalAmount)
	assert.Equal(t, int64(10000), us.Subtotal)
	assert.Equal(t, "SPRING", us.DiscountCode)
	assert.Equal(t, model.InvoiceStatusPaid, us.Status)
	require.Len(t, us.Items, 1)
	assert.Equal(t, int64(10000), us.Items[0].Amount)

	de := generate(t, env, invoicePurchase("PUR-DE", "DE"))
	assert.Equal(t, int64(1520), de.TaxAmount)
	assert.Equal(t, int64(9520), de.TotalAmount)
}

func TestInvoice_NoTaxConfigured(t *testing.T) {
	env := setupEnv(t)
	inv := generate(t, env, invoicePurchase("PUR-NOTAX", ""))
	assert.True(t, inv.TaxRate.IsZero())
	assert.Equal(t, int64(8000), inv.TotalAmount)
}

func TestInvoice_SequentialNumbers(t *testing.T) {
	env := setupEnv(t)
	year := time.Now().Year()

	var last int64
	for i := 1; i <= 3; i++ {
		inv := generate(t, env, invoicePurchase(fmt.Sprintf("PUR-SEQ-%d", i), ""))
		assert.Equal(t, fmt.Sprintf("INV-%04d-%06d", year, i), inv.InvoiceNumber)
		assert.Greater(t, inv.Seq, last)
		last = inv.Seq
	}
}

func TestInvoice_IdempotentPerPurchase(t *testing.T) {
	env := setupEnv(t)
	p := invoicePurchase("PUR-ONCE", "")

	first := generate(t, env, p)
	second := generate(t, env, p)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(1), env.countInvoices(t, "PUR-ONCE"))
}

func TestInvoice_CreditNote(t *testing.T) {
	env := setupEnv(t)
	testutil.TestTaxRate(t, env.db, "", "0.05", true)
	original := generate(t, env, invoicePurchase("PUR-CN", "US"))

	var note *model.Invoice
	require.NoError(t, env.db.Transaction(func(tx *gorm.DB) error {
		var err error
		note, err = env.invoices.GenerateCreditNote(context.Background(), tx, original)
		return err
	}))

	assert.Equal(t, model.InvoiceKindCreditNote, note.Kind)
	require.NotNil(t, note.CorrectsInvoiceID)
	assert.Equal(t, original.ID, *note.CorrectsInvoiceID)
	assert.Equal(t, -original.TotalAmount, note.TotalAmount)
	assert.Equal(t, -original.TaxAmount, note.TaxAmount)
	assert.Equal(t, -original.Subtotal, note.Subtotal)
	assert.NotEqual(t, original.InvoiceNumber, note.InvoiceNumber)
	require.Len(t, note.Items, 1)
	assert.Equal(t, -original.Items[0].Amount, note.Items[0].Amount)

	// 原发票不被修改
	reloaded, err := env.invoices.GetByPurchaseNo(context.Background(), "PUR-CN")
	require.NoError(t, err)
	assert.Equal(t, original.TotalAmount, reloaded.TotalAmount)
	assert.Equal(t, int64(2), env.countInvoices(t, "PUR-CN"))
}

func TestInvoice_GenerateForPurchaseRequiresCompleted(t *testing.T) {
	env := setupEnv(t)
	p := env.createCredits(t, 50, "10", "")

	_, err := env.invoices.GenerateForPurchase(context.Background(), p.PurchaseNo)
	assert.ErrorIs(t, err, ErrPurchaseStatusInvalid)
	assert.Equal(t, int64(0), env.countInvoices(t, p.PurchaseNo))
}
