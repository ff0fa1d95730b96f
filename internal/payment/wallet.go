package payment

import (
	"context"
	"errors"

	"creditengine/internal/model"
)

// WalletChannel 钱包：用户在钱包页面授权，回跳后服务端调用 capture 扣款
type WalletChannel struct {
	gateway   WalletGateway
	returnURL string
	cancelURL string
}

func NewWalletChannel(gateway WalletGateway, returnURL, cancelURL string) *WalletChannel {
	return &WalletChannel{gateway: gateway, returnURL: returnURL, cancelURL: cancelURL}
}

func (c *WalletChannel) Method() string { return model.PaymentMethodWallet }

func (c *WalletChannel) Initiate(ctx context.Context, purchase *model.Purchase) (*Handle, error) {
	order, err := c.gateway.CreateOrder(ctx, &WalletOrderRequest{
		Reference: purchase.PurchaseNo,
		Amount:    purchase.Amount,
		Currency:  purchase.Currency,
		ReturnURL: withPurchase(c.returnURL, purchase.PurchaseNo),
		CancelURL: withPurchase(c.cancelURL, purchase.PurchaseNo),
	})
	if err != nil {
		return nil, err
	}
	return &Handle{
		Method:      c.Method(),
		ProviderID:  order.ID,
		RedirectURL: order.ApproveURL,
	}, nil
}

func (c *WalletChannel) Confirm(ctx context.Context, purchase *model.Purchase, conf Confirmation) (*SettlementResult, error) {
	ref, err := providerRef(purchase, conf)
	if err != nil {
		return nil, err
	}
	order, err := c.gateway.GetOrder(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := verifyAmount(purchase, order.Reference, order.Amount, order.Currency); err != nil {
		return nil, err
	}

	switch order.Status {
	case WalletCompleted:
		// 已扣过款（重复回跳或对账），直接成功
		return &SettlementResult{Status: SettlementSucceeded, ProviderReference: order.ID}, nil
	case WalletVoided:
		return &SettlementResult{Status: SettlementFailed, ProviderReference: order.ID, Reason: "钱包订单已作废"}, nil
	case WalletApproved:
	default:
		return &SettlementResult{Status: SettlementPending, ProviderReference: order.ID}, nil
	}

	captured, err := c.gateway.CaptureOrder(ctx, order.ID)
	if err != nil {
		if errors.Is(err, ErrDeclined) {
			return &SettlementResult{Status: SettlementFailed, ProviderReference: order.ID, Reason: err.Error()}, nil
		}
		return nil, err
	}
	if captured.Status != WalletCompleted {
		return &SettlementResult{Status: SettlementPending, ProviderReference: order.ID}, nil
	}
	return &SettlementResult{Status: SettlementSucceeded, ProviderReference: order.ID}, nil
}
