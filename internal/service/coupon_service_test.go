package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"creditengine/internal/model"
	"creditengine/internal/testutil"
)

func TestCoupon_PercentageCapped(t *testing.T) {
	env := setupEnv(t)
	testutil.TestCoupon(t, env.db, testutil.WithCode("SAVE10"), testutil.WithPercent(10, 5000))

	// 10% of $1000 = $100，封顶 $50
	v, err := env.coupons.Validate(context.Background(), "save10", 1, 100000, model.PurchaseTypeCredits)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, "SAVE10", v.Code)
	assert.Equal(t, int64(5000), v.DiscountAmount)

	v, err = env.coupons.Validate(context.Background(), "SAVE10", 1, 2000, model.PurchaseTypeCredits)
	require.NoError(t, err)
	assert.Equal(t, int64(200), v.DiscountAmount)
}

func TestCoupon_PercentageFloors(t *testing.T) {
	env := setupEnv(t)
	testutil.TestCoupon(t, env.db, testutil.WithCode("ODD15"), testutil.WithPercent(15, 0))

	// 15% of 999 = 149.85 -> 149
	v, err := env.coupons.Validate(context.Background(), "ODD15", 1, 999, model.PurchaseTypeCredits)
	require.NoError(t, err)
	assert.Equal(t, int64(149), v.DiscountAmount)
}

func TestCoupon_FixedNeverExceedsOrder(t *testing.T) {
	env := setupEnv(t)
	testutil.TestCoupon(t, env.db, testutil.WithCode("FLAT20"), testutil.WithFixed(2000))

	v, err := env.coupons.Validate(context.Background(), "FLAT20", 1, 1500, model.PurchaseTypeCredits)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), v.DiscountAmount)
}

func TestCoupon_Rejections(t *testing.T) {
	env := setupEnv(t)
	past := time.Now().Add(-48 * time.Hour)
	yesterday := time.Now().Add(-24 * time.Hour)
	future := time.Now().Add(24 * time.Hour)

	testutil.TestCoupon(t, env.db, testutil.WithCode("OLD"), testutil.WithValidity(&past, &yesterday))
	testutil.TestCoupon(t, env.db, testutil.WithCode("SOON"), testutil.WithValidity(&future, nil))
	testutil.TestCoupon(t, env.db, testutil.WithCode("SUBONLY"), testutil.WithAppliesTo(model.CouponAppliesSubscription))
	testutil.TestCoupon(t, env.db, testutil.WithCode("OFF"), testutil.WithInactive())
	full := testutil.TestCoupon(t, env.db, testutil.WithCode("FULL"), testutil.WithMaxUses(1))
	require.NoError(t, env.db.Model(full).Update("used_count", 1).Error)
	minOrder := testutil.TestCoupon(t, env.db, testutil.WithCode("BIG"))
	require.NoError(t, env.db.Model(minOrder).Update("min_order_amount", 5000).Error)

	cases := []struct {
		code   string
		err    error
		reason string
	}{
		{"NOPE", ErrCouponNotFound, "not_found"},
		{"OFF", ErrCouponNotFound, "not_found"},
		{"OLD", ErrCouponExpired, "expired"},
		{"SOON", ErrCouponExpired, "expired"},
		{"SUBONLY", ErrCouponCategoryMismatch, "category_mismatch"},
		{"FULL", ErrCouponCapExceeded, "cap_exceeded"},
		{"BIG", ErrCouponBelowMinimum, "below_minimum"},
	}
	for _, c := range cases {
		v, err := env.coupons.Validate(context.Background(), c.code, 1, 1000, model.PurchaseTypeCredits)
		assert.ErrorIs(t, err, c.err, c.code)
		assert.ErrorIs(t, err, ErrCoupon, c.code)
		require.NotNil(t, v, c.code)
		assert.False(t, v.Valid, c.code)
		assert.Equal(t, c.reason, v.Reason, c.code)
	}
}

func TestCoupon_RedeemSingleUse(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	coupon := testutil.TestCoupon(t, env.db, testutil.WithCode("ONCE"), testutil.WithSingleUse())

	redeem := func(no string) error {
		return env.db.Transaction(func(tx *gorm.DB) error {
			_, err := env.coupons.RedeemTx(ctx, tx, &model.Purchase{
				PurchaseNo:     no,
				UserID:         7,
				CouponID:       &coupon.ID,
				DiscountAmount: 100,
			}, nil)
			return err
		})
	}

	require.NoError(t, redeem("PUR-A"))
	assert.ErrorIs(t, redeem("PUR-B"), ErrCouponAlreadyRedeemed)

	_, err := env.coupons.Validate(ctx, "ONCE", 7, 1000, model.PurchaseTypeCredits)
	assert.ErrorIs(t, err, ErrCouponAlreadyRedeemed)

	// 其他用户不受影响
	_, err = env.coupons.Validate(ctx, "ONCE", 8, 1000, model.PurchaseTypeCredits)
	assert.NoError(t, err)

	var reloaded model.Coupon
	require.NoError(t, env.db.First(&reloaded, coupon.ID).Error)
	assert.Equal(t, 1, reloaded.UsedCount)
}

func TestCoupon_RedeemCap(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	coupon := testutil.TestCoupon(t, env.db, testutil.WithCode("TWICE"), testutil.WithMaxUses(2))

	var errs []error
	for i, no := range []string{"PUR-1", "PUR-2", "PUR-3"} {
		err := env.db.Transaction(func(tx *gorm.DB) error {
			_, err := env.coupons.RedeemTx(ctx, tx, &model.Purchase{
				PurchaseNo: no,
				UserID:     int64(100 + i),
				CouponID:   &coupon.ID,
			}, nil)
			return err
		})
		errs = append(errs, err)
	}

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.ErrorIs(t, errs[2], ErrCouponCapExceeded)

	var reloaded model.Coupon
	require.NoError(t, env.db.First(&reloaded, coupon.ID).Error)
	assert.Equal(t, 2, reloaded.UsedCount)

	var redemptions int64
	require.NoError(t, env.db.Model(&model.CouponRedemption{}).Where("coupon_id = ?", coupon.ID).Count(&redemptions).Error)
	assert.Equal(t, int64(2), redemptions)
}

func TestCoupon_RedeemWithoutCoupon(t *testing.T) {
	env := setupEnv(t)
	r, err := env.coupons.RedeemTx(context.Background(), env.db, &model.Purchase{PurchaseNo: "PUR-X"}, nil)
	assert.NoError(t, err)
	assert.Nil(t, r)
}
