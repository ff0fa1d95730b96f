package payment

import (
	"context"
	"strconv"

	"creditengine/internal/model"
)

// IntentChannel 卡支付意图：前端拿 client secret 完成确认，服务端同步核验
type IntentChannel struct {
	gateway IntentGateway
}

func NewIntentChannel(gateway IntentGateway) *IntentChannel {
	return &IntentChannel{gateway: gateway}
}

func (c *IntentChannel) Method() string { return model.PaymentMethodCardIntent }

func (c *IntentChannel) Initiate(ctx context.Context, purchase *model.Purchase) (*Handle, error) {
	intent, err := c.gateway.CreateIntent(ctx, &IntentRequest{
		Reference:   purchase.PurchaseNo,
		Amount:      purchase.Amount,
		Currency:    purchase.Currency,
		Description: describe(purchase),
		Customer:    strconv.FormatInt(purchase.UserID, 10),
		Metadata:    map[string]string{"purchase_no": purchase.PurchaseNo},
	})
	if err != nil {
		return nil, err
	}
	return &Handle{
		Method:       c.Method(),
		ProviderID:   intent.ID,
		ClientSecret: intent.ClientSecret,
	}, nil
}

func (c *IntentChannel) Confirm(ctx context.Context, purchase *model.Purchase, conf Confirmation) (*SettlementResult, error) {
	ref, err := providerRef(purchase, conf)
	if err != nil {
		return nil, err
	}
	intent, err := c.gateway.GetIntent(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := verifyAmount(purchase, intent.Reference, intent.Amount, intent.Currency); err != nil {
		return nil, err
	}

	switch intent.Status {
	case IntentSucceeded:
		return &SettlementResult{Status: SettlementSucceeded, ProviderReference: intent.ID}, nil
	case IntentCanceled:
		return &SettlementResult{Status: SettlementFailed, ProviderReference: intent.ID, Reason: "支付意图已取消"}, nil
	case IntentRequiresPaymentMethod:
		// 有 last_error 说明卡已被拒
		if intent.LastError != "" {
			return &SettlementResult{Status: SettlementFailed, ProviderReference: intent.ID, Reason: intent.LastError}, nil
		}
	}
	return &SettlementResult{Status: SettlementPending, ProviderReference: intent.ID}, nil
}
