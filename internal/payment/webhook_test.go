package payment_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creditengine/internal/payment"
)

func TestWebhookVerifier(t *testing.T) {
	v := payment.NewWebhookVerifier("whsec_test", time.Minute)
	body := []byte(`{"id":"evt_1","type":"payment.succeeded","provider_reference":"cs_1","reference":"PUR1"}`)

	event, err := v.Verify(body, payment.SignWebhook("whsec_test", body, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, payment.WebhookPaymentSucceeded, event.Type)
	assert.Equal(t, "cs_1", event.ProviderReference)
	assert.Equal(t, "PUR1", event.Reference)

	_, err = v.Verify(body, payment.SignWebhook("wrong", body, time.Now()))
	assert.ErrorIs(t, err, payment.ErrInvalidSignature)

	tampered := []byte(`{"id":"evt_1","type":"payment.succeeded","provider_reference":"cs_2","reference":"PUR1"}`)
	_, err = v.Verify(tampered, payment.SignWebhook("whsec_test", body, time.Now()))
	assert.ErrorIs(t, err, payment.ErrInvalidSignature)

	_, err = v.Verify(body, payment.SignWebhook("whsec_test", body, time.Now().Add(-time.Hour)))
	assert.ErrorIs(t, err, payment.ErrStaleWebhook)

	_, err = v.Verify(body, "")
	assert.ErrorIs(t, err, payment.ErrInvalidSignature)
}
