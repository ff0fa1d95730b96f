package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionFor(t *testing.T) {
	assert.True(t, CanTransitionFor(PaymentMethodCheckout, PaymentStatusPending, PaymentStatusProcessing))
	assert.True(t, CanTransitionFor(PaymentMethodCheckout, PaymentStatusProcessing, PaymentStatusCompleted))
	assert.True(t, CanTransitionFor(PaymentMethodWallet, PaymentStatusPending, PaymentStatusCanceled))
	assert.True(t, CanTransitionFor(PaymentMethodFree, PaymentStatusPending, PaymentStatusCompleted))

	assert.False(t, CanTransitionFor(PaymentMethodCheckout, PaymentStatusPending, PaymentStatusCompleted))
	assert.False(t, CanTransitionFor(PaymentMethodCheckout, PaymentStatusCompleted, PaymentStatusCanceled))
	assert.False(t, CanTransitionFor(PaymentMethodCheckout, PaymentStatusFailed, PaymentStatusProcessing))
	assert.False(t, CanTransitionFor(PaymentMethodCheckout, PaymentStatusCanceled, PaymentStatusCompleted))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(PaymentStatusCompleted))
	assert.True(t, IsTerminal(PaymentStatusFailed))
	assert.True(t, IsTerminal(PaymentStatusCanceled))
	assert.False(t, IsTerminal(PaymentStatusPending))
	assert.False(t, IsTerminal(PaymentStatusProcessing))
}

func TestPeriodEnd(t *testing.T) {
	start := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC), PeriodEnd(start, BillingCycleMonthly))
	assert.Equal(t, time.Date(2027, 1, 15, 0, 0, 0, 0, time.UTC), PeriodEnd(start, BillingCycleYearly))
}
